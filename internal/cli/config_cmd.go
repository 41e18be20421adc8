// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/codeexplain/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration (secrets redacted)",
			Args:  cobra.NoArgs,
			Run: func(*cobra.Command, []string) {
				fmt.Fprint(a.stdout, a.cfg.String())
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				path, err := a.resolvedConfigPath()
				if err != nil {
					return &ConfigError{Err: err}
				}
				fmt.Fprintln(a.stdout, path)
				return nil
			},
		},
		&cobra.Command{
			Use:       "get <key>",
			Short:     "Print one configuration value",
			Args:      cobra.ExactArgs(1),
			ValidArgs: config.Keys(),
			RunE: func(_ *cobra.Command, args []string) error {
				if args[0] == "auth.api_key" {
					return usageErrorf("auth.api_key is not printed; use `codeexplain key status`")
				}
				v, err := a.cfg.Get(args[0])
				if err != nil {
					return &UsageError{Reason: err.Error()}
				}
				fmt.Fprintln(a.stdout, v)
				return nil
			},
		},
		&cobra.Command{
			Use:       "set <key> <value>",
			Short:     "Set one value in the config file",
			Args:      cobra.ExactArgs(2),
			ValidArgs: config.Keys(),
			RunE: func(_ *cobra.Command, args []string) error {
				return a.setConfigValue(args[0], args[1])
			},
		},
	)
	return cmd
}

// setConfigValue edits the file itself, so environment overrides active in
// this process are not written back.
func (a *app) setConfigValue(key, value string) error {
	if key == "auth.api_key" {
		return usageErrorf("store API keys with `codeexplain key set`")
	}
	path, err := a.resolvedConfigPath()
	if err != nil {
		return &ConfigError{Err: err}
	}

	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadTOML(cfg, path); err != nil {
			return &ConfigError{Err: err}
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &ConfigError{Err: err}
	}
	if err := cfg.Set(key, strings.TrimSpace(value)); err != nil {
		return &UsageError{Reason: err.Error()}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Err: err}
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return &ConfigError{Err: err}
	}
	fmt.Fprintf(a.stdout, "%s %s = %s\n", RenderStatus("ok"), key, value)
	return nil
}
