// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jeranaias/codeexplain/internal/credential"
	"github.com/jeranaias/codeexplain/internal/render"
	"github.com/jeranaias/codeexplain/internal/snippet"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10

	// maxRequestBody bounds POST /api/explain bodies.
	maxRequestBody = 1 << 20
)

// Starter begins an explanation for req and returns its render handle
// without waiting for the stream to finish.
type Starter interface {
	Start(ctx context.Context, req snippet.CodeRequest) (render.Handle, error)
}

// Server serves panels over HTTP.
type Server struct {
	hub     *Hub
	md      *render.Markdown
	starter Starter
	limiter *rate.Limiter
	log     zerolog.Logger

	upgrader websocket.Upgrader
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithStarter enables POST /api/explain.
func WithStarter(st Starter) ServerOption {
	return func(s *Server) { s.starter = st }
}

// WithRateLimit caps POST /api/explain at perMinute requests with the given
// burst. Zero disables the limit.
func WithRateLimit(perMinute, burst int) ServerOption {
	return func(s *Server) {
		if perMinute <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	}
}

// WithMarkdown sets the converter whose highlight stylesheet is served.
func WithMarkdown(md *render.Markdown) ServerOption {
	return func(s *Server) { s.md = md }
}

// NewServer creates a server for hub.
func NewServer(hub *Hub, opts ...ServerOption) *Server {
	s := &Server{
		hub: hub,
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.md == nil {
		s.md = render.NewMarkdown(render.DefaultStyle)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     sameOrigin,
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		s.requestLogger,
	)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "live": s.hub.LiveCount()})
	})

	r.Route("/panels/{id}", func(r chi.Router) {
		r.Get("/", s.handlePanel)
		r.Get("/ws", s.handlePanelWS)
	})

	r.Get(render.AssetPrefix+"highlight.css", s.handleHighlightCSS)
	r.Handle(render.AssetPrefix+"*", http.StripPrefix(render.AssetPrefix, http.FileServer(http.FS(render.Assets()))))

	r.Route("/api", func(r chi.Router) {
		r.Get("/panels", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.hub.List())
		})
		r.Get("/panels/{id}", s.handlePanelJSON)
		r.Post("/explain", s.handleExplain)
	})

	return r
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Router(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().Str("addr", "http://"+ln.Addr().String()).Msg("panel server listening")

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.log.Debug().Msg("shutting down panel server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// PanelURL returns the page URL of a panel relative to base.
func PanelURL(base, id string) string {
	return strings.TrimSuffix(base, "/") + "/panels/" + url.PathEscape(id)
}

// =============================================================================
// HANDLERS
// =============================================================================

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Code explanations</title>
<link href="/static/style.css" rel="stylesheet">
</head>
<body>
<header><h2 class="panel-title">Code explanations</h2></header>
<main>
{{if not .}}<p>No explanations yet.</p>{{end}}
<ul>
{{range .}}<li><a href="/panels/{{.ID}}">{{.Title}}</a>{{if .Live}} <em>(streaming)</em>{{end}}</li>
{{end}}</ul>
</main>
</body>
</html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, s.hub.List()); err != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := s.hub.Snapshot(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	panelID := ""
	if snap.Live {
		panelID = snap.ID
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	io.WriteString(w, render.Document(snap.Title, snap.HTML, panelID))
}

func (s *Server) handlePanelJSON(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.hub.Snapshot(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "panel not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHighlightCSS(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.md.WriteCSS(&buf); err != nil {
		http.Error(w, "stylesheet unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Write(buf.Bytes())
}

// handlePanelWS pushes delta_update messages until the panel is released or
// the client goes away.
func (s *Server) handlePanelWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	updates, cancelSub, ok := s.hub.Subscribe(id)
	if !ok {
		http.Error(w, "panel is not live", http.StatusNotFound)
		return
	}
	defer cancelSub()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		s.log.Warn().Err(err).Msg("panel ws set read deadline failed")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// The client never sends anything meaningful; reading drives pong
	// handling and notices disconnects.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-updates:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if !open {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "panel closed"))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// explainResponse is returned by POST /api/explain.
type explainResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if s.starter == nil {
		writeError(w, http.StatusNotImplemented, "explanations are not enabled on this server")
		return
	}
	// Only same-origin JSON requests may start explanations.
	if !sameOrigin(r) {
		writeError(w, http.StatusForbidden, "cross-origin requests are not allowed")
		return
	}
	if !isJSON(r.Header.Get("Content-Type")) {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many explanation requests")
		return
	}

	var req snippet.CodeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The stream outlives this request; detach from its cancellation.
	handle, err := s.starter.Start(context.WithoutCancel(r.Context()), req)
	switch {
	case err == nil:
	case errors.Is(err, snippet.ErrNoContent):
		writeError(w, http.StatusUnprocessableEntity, "No code selected or current file is not supported.")
		return
	case errors.Is(err, credential.ErrDeclined):
		writeError(w, http.StatusUnauthorized, "an API key is required; run `codeexplain key set`")
		return
	default:
		s.log.Error().Err(err).Msg("failed to start explanation")
		writeError(w, http.StatusInternalServerError, "failed to start explanation")
		return
	}

	writeJSON(w, http.StatusAccepted, explainResponse{
		ID:  string(handle),
		URL: PanelURL("", string(handle)),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// requestLogger logs each request with zerolog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// sameOrigin accepts requests without an Origin header or from pages served
// by this server.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
