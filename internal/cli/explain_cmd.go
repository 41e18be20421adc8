// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/codeexplain/internal/credential"
	"github.com/jeranaias/codeexplain/internal/editor/nvim"
	"github.com/jeranaias/codeexplain/internal/editor/source"
	"github.com/jeranaias/codeexplain/internal/logging"
	"github.com/jeranaias/codeexplain/internal/notify"
	"github.com/jeranaias/codeexplain/internal/panel"
	"github.com/jeranaias/codeexplain/internal/render"
	"github.com/jeranaias/codeexplain/internal/session"
	"github.com/jeranaias/codeexplain/internal/snippet"
	"github.com/jeranaias/codeexplain/internal/util"
)

// Render modes accepted by --render and render.mode.
const (
	renderBrowser  = "browser"
	renderTerminal = "terminal"
	renderPlain    = "plain"
)

type explainOptions struct {
	lines     string
	cursor    int
	lang      string
	render    string
	useNvim   bool
	nvimAddr  string
	visual    bool
	clipboard bool
	noOpen    bool
}

func newExplainCmd(a *app) *cobra.Command {
	var opts explainOptions

	cmd := &cobra.Command{
		Use:   "explain [file]",
		Short: "Explain the selected code",
		Long: `Explain a snippet of code.

The code comes from the first source that applies:
  --nvim       the current selection (or the function under the cursor)
               of a running Neovim
  --clipboard  the system clipboard
  [file]       a file, narrowed with --lines or --cursor
  stdin        piped input`,
		Example: `  codeexplain explain main.go --lines 10-42
  codeexplain explain main.go --cursor 17
  git show HEAD:app.py | codeexplain explain --lang python
  codeexplain explain --nvim --visual --render browser`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExplain(cmd.Context(), opts, args)
		},
	}

	opts.bind(cmd.Flags())
	cmd.MarkFlagsMutuallyExclusive("nvim", "clipboard")
	cmd.MarkFlagsMutuallyExclusive("lines", "cursor")

	_ = cmd.RegisterFlagCompletionFunc("render", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{renderBrowser, renderTerminal, renderPlain}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func (o *explainOptions) bind(f *pflag.FlagSet) {
	f.StringVar(&o.lines, "lines", "", "explain only lines N or N-M of the file")
	f.IntVar(&o.cursor, "cursor", 0, "explain the function declared on line N of the file")
	f.StringVar(&o.lang, "lang", "", "language id (default: detected from the file name)")
	f.StringVar(&o.render, "render", "", "output: browser, terminal or plain (default from config)")
	f.BoolVar(&o.useNvim, "nvim", false, "read the selection from a running Neovim")
	f.StringVar(&o.nvimAddr, "nvim-addr", "", "Neovim RPC address (default: editor.nvim_address or $NVIM)")
	f.BoolVar(&o.visual, "visual", false, "with --nvim, use the last visual selection")
	f.BoolVar(&o.clipboard, "clipboard", false, "read the code from the clipboard")
	f.BoolVar(&o.noOpen, "no-open", false, "do not open the browser for --render browser")
}

func (a *app) runExplain(ctx context.Context, opts explainOptions, args []string) error {
	mode := opts.render
	if mode == "" {
		mode = a.cfg.Render.Mode
	}
	switch mode {
	case renderBrowser, renderTerminal, renderPlain:
	default:
		return usageErrorf("invalid --render %q, must be one of: browser, terminal, plain", mode)
	}

	editor, symbols, err := a.codeSource(opts, args)
	if err != nil {
		return err
	}
	if c, ok := editor.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	notifier := a.notifier()
	sel := snippet.NewSelector(editor, symbols, snippet.WithLogger(logging.Component(a.log, "selector")))
	req, err := sel.Select(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("code selection failed")
		notifier.Error(session.GenericFailMessage)
		return reported(err)
	}

	if mode == renderBrowser && !req.IsEmpty() {
		if base, ok := a.runningServer(ctx); ok {
			return a.delegate(ctx, base, req)
		}
	}

	creds, err := a.credentials(ctx, a.newPrompt())
	if err != nil {
		return err
	}

	md := render.NewMarkdown(a.cfg.Render.Style)
	newSession := func(r *render.Renderer) *session.Session {
		sopts := []session.Option{
			session.WithLogger(logging.Component(a.log, "session")),
			session.WithNotifier(notifier),
		}
		if !a.cfg.AuthRequired() {
			sopts = append(sopts, session.WithoutAuth())
		}
		return session.New(a.client(), r, creds, sopts...)
	}

	if mode != renderBrowser {
		display := render.NewTerminalDisplay(a.stdout, mode == renderTerminal && ColorsEnabled(), renderWidth(a.cfg.Render.Width))
		r := render.NewRenderer(display, render.WithLogger(logging.Component(a.log, "render")), render.WithMarkdown(md))
		return a.explainResult(newSession(r).ExplainRequest(ctx, req))
	}
	return a.explainInBrowser(ctx, req, md, newSession, !opts.noOpen)
}

// explainResult converts session errors into command errors. The session
// has already shown a notice for everything except a declined prompt.
func (a *app) explainResult(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, credential.ErrDeclined):
		fmt.Fprintln(a.stderr, DimStyle.Render("No API key. Run `codeexplain key set` or set CODEEXPLAIN_API_KEY."))
		return reported(err)
	default:
		return reported(err)
	}
}

// codeSource picks the editor capability for the flags given.
func (a *app) codeSource(opts explainOptions, args []string) (snippet.SelectionProvider, snippet.SymbolLookup, error) {
	switch {
	case opts.useNvim:
		addr := opts.nvimAddr
		if addr == "" {
			addr = a.cfg.Editor.NvimAddress
		}
		p, err := nvim.Dial(addr,
			nvim.WithVisual(opts.visual),
			nvim.WithLogger(logging.Component(a.log, "nvim")),
		)
		if err != nil {
			return nil, nil, &CommandError{Command: "explain", Action: "connect", Err: err}
		}
		return p, p, nil

	case opts.clipboard:
		t, err := source.FromClipboard(opts.lang)
		if err != nil {
			return nil, nil, &CommandError{Command: "explain", Action: "read clipboard", Err: err}
		}
		return t, t, nil

	case len(args) == 1:
		t, err := source.FromFile(args[0], opts.lang)
		if err != nil {
			return nil, nil, &CommandError{Command: "explain", Action: "read file", Err: err}
		}
		switch {
		case opts.lines != "":
			r, err := source.ParseLines(opts.lines)
			if err != nil {
				return nil, nil, &UsageError{Reason: err.Error()}
			}
			t.SelectLines(r)
		case opts.cursor > 0:
			t.PlaceCursor(opts.cursor - 1)
		}
		return t, t, nil

	case a.stdinPiped():
		t, err := source.FromReader(a.stdin, opts.lang)
		if err != nil {
			return nil, nil, &CommandError{Command: "explain", Action: "read stdin", Err: err}
		}
		return t, t, nil
	}
	return nil, nil, usageErrorf("nothing to explain: pass a file, pipe code on stdin, or use --nvim or --clipboard")
}

func (a *app) notifier() notify.Notifier {
	return notify.Multi{
		notify.NewTerminal(a.stderr, !ColorsEnabled()),
		notify.NewLog(logging.Component(a.log, "notice")),
	}
}

// =============================================================================
// BROWSER OUTPUT
// =============================================================================

// explainInBrowser hosts a one-off panel server, streams into it and keeps
// serving until interrupted so the page stays reachable.
func (a *app) explainInBrowser(ctx context.Context, req snippet.CodeRequest, md *render.Markdown, newSession func(*render.Renderer) *session.Session, open bool) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return &CommandError{Command: "explain", Action: "listen", Err: err}
	}
	base := "http://" + ln.Addr().String()

	hub, err := panel.NewHub(1,
		panel.WithHubLogger(logging.Component(a.log, "panel")),
		panel.WithOnOpen(func(id string) {
			url := panel.PanelURL(base, id)
			fmt.Fprintf(a.stderr, "%s %s\n", RenderLabel("Panel"), url)
			if !open {
				return
			}
			if err := util.OpenBrowser(url); err != nil {
				a.log.Warn().Err(err).Msg("could not open browser")
			}
		}),
	)
	if err != nil {
		ln.Close()
		return err
	}
	srv := panel.NewServer(hub, panel.WithLogger(logging.Component(a.log, "server")), panel.WithMarkdown(md))
	r := render.NewRenderer(hub, render.WithLogger(logging.Component(a.log, "render")), render.WithMarkdown(md))

	serveCtx, stop := context.WithCancel(ctx)
	defer stop()
	eg, egctx := errgroup.WithContext(serveCtx)
	eg.Go(func() error {
		return srv.Serve(egctx, ln)
	})

	if err := newSession(r).ExplainRequest(ctx, req); err != nil {
		stop()
		eg.Wait()
		return a.explainResult(err)
	}

	fmt.Fprintln(a.stderr, DimStyle.Render("Explanation complete. Press Ctrl-C to stop serving the panel."))
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return &CommandError{Command: "explain", Action: "serve panel", Err: err}
	}
	return nil
}

// runningServer reports whether `codeexplain serve` answers on the
// configured address.
func (a *app) runningServer(ctx context.Context) (string, bool) {
	base := "http://" + a.cfg.Server.Addr
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		return "", false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", false
	}
	resp.Body.Close()
	return base, resp.StatusCode == http.StatusOK
}

// delegate hands req to a running panel server.
func (a *app) delegate(ctx context.Context, base string, req snippet.CodeRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/explain", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return &CommandError{Command: "explain", Action: "contact server", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		msg := strings.TrimSpace(e.Error)
		if msg == "" {
			msg = resp.Status
		}
		return &CommandError{Command: "explain", Action: "start", Err: errors.New(msg)}
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return &CommandError{Command: "explain", Action: "start", Err: err}
	}
	a.log.Debug().Str("panel", out.ID).Msg("delegated to running server")
	fmt.Fprintf(a.stderr, "%s %s\n", RenderLabel("Panel"), base+out.URL)
	return nil
}
