// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/codeexplain/internal/credential"
)

func newKeyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the stored API key",
	}
	cmd.AddCommand(newKeySetCmd(a), newKeyUnsetCmd(a), newKeyStatusCmd(a))
	return cmd
}

func newKeySetCmd(a *app) *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Prompt for an API key and store it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var prompt credential.Prompt
			switch {
			case fromStdin || !IsTTY():
				line, err := bufio.NewReader(a.stdin).ReadString('\n')
				if err != nil && line == "" {
					return &CommandError{Command: "key", Action: "set", Err: credential.ErrDeclined}
				}
				prompt = credential.StaticPrompt(strings.TrimSpace(line))
			default:
				prompt = credential.NewTerminalPrompt()
			}

			m, err := a.credentials(ctx, credential.NoPrompt{})
			if err != nil {
				return err
			}
			value, err := prompt.Ask(ctx)
			if err != nil {
				return &CommandError{Command: "key", Action: "set", Err: err}
			}
			if err := m.Set(ctx, value); err != nil {
				return &CommandError{Command: "key", Action: "set", Err: err}
			}
			fmt.Fprintf(a.stdout, "%s API key saved (%s)\n", RenderStatus("ok"), credential.Fingerprint(value))
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the key from stdin instead of prompting")
	return cmd
}

func newKeyUnsetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unset",
		Short: "Remove the stored API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.credentials(cmd.Context(), credential.NoPrompt{})
			if err != nil {
				return err
			}
			if err := m.Clear(cmd.Context()); err != nil {
				return &CommandError{Command: "key", Action: "unset", Err: err}
			}
			fmt.Fprintf(a.stdout, "%s API key removed\n", RenderStatus("ok"))
			if a.cfg.Auth.APIKey != "" {
				fmt.Fprintln(a.stdout, DimStyle.Render("A key is still set through auth.api_key or CODEEXPLAIN_API_KEY."))
			}
			return nil
		},
	}
}

func newKeyStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether an API key is available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.credentials(cmd.Context(), credential.NoPrompt{})
			if err != nil {
				return err
			}

			if !a.cfg.AuthRequired() {
				fmt.Fprintf(a.stdout, "%s %s\n", RenderLabel("Auth"), "disabled (auth.scheme = none)")
			}
			if !m.Has() {
				fmt.Fprintf(a.stdout, "%s %s no key stored\n", RenderLabel("API key"), RenderStatus("fail"))
				return reported(credential.ErrDeclined)
			}

			src := "settings store"
			if a.cfg.Auth.APIKey != "" {
				src = "config or environment (not persisted)"
			}
			fmt.Fprintf(a.stdout, "%s %s %s\n", RenderLabel("API key"), RenderStatus("ok"), credential.Fingerprint(m.Get()))
			fmt.Fprintf(a.stdout, "%s %s\n", RenderLabel("Source"), src)
			return nil
		},
	}
}

