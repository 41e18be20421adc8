// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/codeexplain/internal/config"
	"github.com/jeranaias/codeexplain/internal/credential"
	"github.com/jeranaias/codeexplain/internal/editor/source"
	"github.com/jeranaias/codeexplain/internal/explain"
	"github.com/jeranaias/codeexplain/internal/logging"
	"github.com/jeranaias/codeexplain/internal/settings"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// APPLICATION STATE
// =============================================================================

// app carries what every command needs once flags are parsed.
type app struct {
	// flags
	configPath string
	logLevel   string
	noColor    bool

	cfg     *config.Config
	log     zerolog.Logger
	closers []io.Closer

	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	stdinPiped func() bool
	newPrompt  func() credential.Prompt
}

func newApp() *app {
	return &app{
		log:        zerolog.Nop(),
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		stdinPiped: source.StdinPiped,
		newPrompt:  terminalPrompt,
	}
}

// setup loads configuration and builds the logger.
func (a *app) setup() error {
	if a.noColor {
		ForceColorsEnabled(false)
	}
	applyColorProfile()

	cfg, err := a.loadConfig()
	if err != nil {
		return &ConfigError{Err: err}
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg

	out := a.stderr
	if cfg.Log.File != "" {
		f, err := logging.OpenFile(cfg.Log.File)
		if err != nil {
			return &ConfigError{Err: err}
		}
		a.closers = append(a.closers, f)
		out = f
	}
	a.log = logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Out:     out,
		NoColor: !ColorsEnabled() || cfg.Log.File != "",
	})
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath != "" {
		return config.LoadFromPath(a.configPath)
	}
	return config.Load()
}

// resolvedConfigPath is the file `config set` writes to.
func (a *app) resolvedConfigPath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.ConfigPath()
}

// openSettings opens the settings store and schedules it for closing.
func (a *app) openSettings() (*settings.Store, error) {
	path, err := a.cfg.SettingsPath()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	store, err := settings.Open(path)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	a.closers = append(a.closers, store)
	return store, nil
}

// terminalPrompt asks on the terminal when there is one.
func terminalPrompt() credential.Prompt {
	if IsTTY() {
		return credential.NewTerminalPrompt()
	}
	return credential.NoPrompt{}
}

// credentials loads the credential manager. auth.api_key (or
// CODEEXPLAIN_API_KEY) overrides the stored value for this process only.
func (a *app) credentials(ctx context.Context, prompt credential.Prompt) (*credential.Manager, error) {
	store, err := a.openSettings()
	if err != nil {
		return nil, err
	}
	m := credential.NewManager(store, prompt, credential.WithLogger(logging.Component(a.log, "credential")))
	if err := m.Load(ctx); err != nil {
		return nil, err
	}
	if a.cfg.Auth.APIKey != "" {
		m.Override(a.cfg.Auth.APIKey)
	}
	return m, nil
}

// client builds the explanation client from the configuration.
func (a *app) client() *explain.Client {
	return newClient(a.cfg, a.log)
}

func newClient(cfg *config.Config, log zerolog.Logger) *explain.Client {
	return explain.NewClient(explain.Config{
		BaseURL:        cfg.API.BaseURL,
		Path:           cfg.API.Path,
		Format:         explain.Format(cfg.API.Format),
		Model:          cfg.API.Model,
		ConfigName:     cfg.API.ConfigName,
		AuthHeader:     cfg.Auth.Header,
		User:           cfg.API.User,
		ConnectTimeout: cfg.ConnectTimeout(),
	},
		explain.WithLogger(logging.Component(log, "explain")),
		explain.WithUserAgent("codeexplain/"+Version),
	)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(newApp())
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "codeexplain",
		Short: "Explain code with an AI endpoint",
		Long: `codeexplain sends a selection of code to an explanation endpoint and
streams the answer into a panel in your browser or into the terminal.

Code can come from a running Neovim (--nvim), a file, stdin or the clipboard.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch cmd.Name() {
			case "help", "completion", "__complete", "version", "path":
				return nil
			}
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default: ~/.codeexplain/config.toml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newExplainCmd(a),
		newServeCmd(a),
		newKeyCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp()
	root := newRootCmd(a)
	err := root.ExecuteContext(ctx)
	a.close()
	if err == nil || errors.Is(err, context.Canceled) {
		return ExitSuccess
	}
	DisplayError(a.stderr, err)
	return GetExitCode(err)
}

// =============================================================================
// VERSION
// =============================================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "codeexplain %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", GitCommit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", BuildDate)
		},
	}
}
