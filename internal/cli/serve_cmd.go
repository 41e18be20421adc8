// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/codeexplain/internal/config"
	"github.com/jeranaias/codeexplain/internal/credential"
	"github.com/jeranaias/codeexplain/internal/logging"
	"github.com/jeranaias/codeexplain/internal/notify"
	"github.com/jeranaias/codeexplain/internal/panel"
	"github.com/jeranaias/codeexplain/internal/render"
	"github.com/jeranaias/codeexplain/internal/session"
	"github.com/jeranaias/codeexplain/internal/snippet"
	"github.com/jeranaias/codeexplain/internal/util"
)

// rateBurst is how many explanation requests may arrive back to back.
const rateBurst = 5

func newServeCmd(a *app) *cobra.Command {
	var (
		addr   string
		noOpen bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the panel server",
		Long: `Run a local server that shows explanations as live panels.

Editor mappings POST a code request to /api/explain; each request streams
into its own panel at /panels/{id}. Completed panels stay available until
they fall out of the recent list. Changes to the config file are picked up
without a restart (except the listen address and highlight style).`,
		Example: `  codeexplain serve
  curl -X POST localhost:7431/api/explain -H 'Content-Type: application/json' \
    -d '{"language_id":"go","text":"func main() {}","document_name":"main.go","line_start":1}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.runServe(cmd.Context(), noOpen)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.addr)")
	cmd.Flags().BoolVar(&noOpen, "no-open", false, "do not open new panels in the browser")
	return cmd
}

func (a *app) runServe(ctx context.Context, noOpen bool) error {
	creds, err := a.credentials(ctx, a.newPrompt())
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return &CommandError{Command: "serve", Action: "listen", Err: err}
	}
	base := "http://" + ln.Addr().String()

	sw := &sessionSwitch{
		base:     ctx,
		creds:    creds,
		notifier: a.notifier(),
		log:      a.log,
		openURL:  util.OpenBrowser,
		noOpen:   noOpen,
	}
	sw.applyConfig(a.cfg)

	md := render.NewMarkdown(a.cfg.Render.Style)
	hub, err := panel.NewHub(a.cfg.Server.RecentPanels,
		panel.WithHubLogger(logging.Component(a.log, "panel")),
		panel.WithOnOpen(func(id string) { sw.panelOpened(panel.PanelURL(base, id)) }),
	)
	if err != nil {
		ln.Close()
		return err
	}
	sw.renderer = render.NewRenderer(hub,
		render.WithLogger(logging.Component(a.log, "render")),
		render.WithMarkdown(md),
	)

	srv := panel.NewServer(hub,
		panel.WithLogger(logging.Component(a.log, "server")),
		panel.WithStarter(sw),
		panel.WithMarkdown(md),
		panel.WithRateLimit(a.cfg.Server.MaxRequestsPerMinute, rateBurst),
	)

	fmt.Fprintf(a.stderr, "%s %s\n", RenderLabel("Serving"), base)

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.Serve(egctx, ln)
	})

	if path, err := a.resolvedConfigPath(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			eg.Go(func() error {
				return config.Watch(egctx, path, 0, func(cfg *config.Config, err error) {
					if err != nil {
						a.log.Warn().Err(err).Msg("config reload failed, keeping previous configuration")
						return
					}
					a.log.Info().Str("path", path).Msg("configuration reloaded")
					sw.applyConfig(cfg)
				})
			})
		}
	}

	err = eg.Wait()
	sw.wait()
	if err != nil && ctx.Err() == nil {
		return &CommandError{Command: "serve", Action: "run", Err: err}
	}
	return nil
}

// =============================================================================
// SESSION SWITCH
// =============================================================================

// sessionSwitch is the server's Starter. It holds the session built from the
// current configuration and replaces it on reload; streams already running
// finish on the session that started them.
type sessionSwitch struct {
	base     context.Context
	renderer *render.Renderer
	creds    *credential.Manager
	notifier notify.Notifier
	log      zerolog.Logger
	openURL  func(string) error
	noOpen   bool

	// streams tracks background streams across every session built.
	streams sync.WaitGroup

	mu  sync.RWMutex
	cur *session.Session
	cfg *config.Config
}

// applyConfig rebuilds the session for cfg.
func (s *sessionSwitch) applyConfig(cfg *config.Config) {
	if cfg.Auth.APIKey != "" {
		s.creds.Override(cfg.Auth.APIKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.cur = nil
}

// session returns the current session, building it on first use once the
// renderer exists.
func (s *sessionSwitch) session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return s.cur
	}

	opts := []session.Option{
		session.WithLogger(logging.Component(s.log, "session")),
		session.WithNotifier(s.notifier),
		session.WithWaitGroup(&s.streams),
	}
	if !s.cfg.AuthRequired() {
		opts = append(opts, session.WithoutAuth())
	}
	s.cur = session.New(newClient(s.cfg, s.log), s.renderer, s.creds, opts...)
	return s.cur
}

// Start implements panel.Starter. Streams run under the server's lifetime,
// not the request's.
func (s *sessionSwitch) Start(_ context.Context, req snippet.CodeRequest) (render.Handle, error) {
	return s.session().Start(s.base, req)
}

func (s *sessionSwitch) panelOpened(url string) {
	s.mu.RLock()
	open := s.cfg.Server.OpenBrowser && !s.noOpen
	s.mu.RUnlock()

	s.log.Info().Str("url", url).Msg("panel opened")
	if !open || s.openURL == nil {
		return
	}
	if err := s.openURL(url); err != nil {
		s.log.Warn().Err(err).Msg("could not open browser")
	}
}

// wait blocks until every stream started by any session has ended.
func (s *sessionSwitch) wait() {
	s.streams.Wait()
}
