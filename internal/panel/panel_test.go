// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/codeexplain/internal/credential"
	"github.com/jeranaias/codeexplain/internal/render"
	"github.com/jeranaias/codeexplain/internal/snippet"
)

func newHub(t *testing.T, recent int) *Hub {
	t.Helper()
	hub, err := NewHub(recent)
	require.NoError(t, err)
	return hub
}

// =============================================================================
// HUB
// =============================================================================

func TestHub_LiveThenRecent(t *testing.T) {
	hub := newHub(t, 4)
	r := render.NewRenderer(hub)

	h, err := r.Open("main.go#L1")
	require.NoError(t, err)
	require.NoError(t, r.Update(h, "# Hello"))

	snap, ok := hub.Snapshot(string(h))
	require.True(t, ok)
	assert.True(t, snap.Live)
	assert.Contains(t, snap.HTML, "<h1")

	require.NoError(t, r.Complete(h))
	assert.Equal(t, 0, hub.LiveCount())

	snap, ok = hub.Snapshot(string(h))
	require.True(t, ok)
	assert.False(t, snap.Live)
	assert.Equal(t, "# Hello", snap.Markdown)
}

func TestHub_ClosedPanelNotKept(t *testing.T) {
	hub := newHub(t, 4)
	r := render.NewRenderer(hub)

	h, err := r.Open("x")
	require.NoError(t, err)
	require.NoError(t, r.Update(h, "partial"))
	r.Close(h)

	_, ok := hub.Snapshot(string(h))
	assert.False(t, ok)
}

func TestHub_RecentEvicts(t *testing.T) {
	hub := newHub(t, 2)
	r := render.NewRenderer(hub)

	var handles []render.Handle
	for i := 0; i < 3; i++ {
		h, err := r.Open("t")
		require.NoError(t, err)
		require.NoError(t, r.Complete(h))
		handles = append(handles, h)
	}

	_, ok := hub.Snapshot(string(handles[0]))
	assert.False(t, ok)
	list := hub.List()
	require.Len(t, list, 2)
	assert.Equal(t, string(handles[2]), list[0].ID)
	assert.Equal(t, string(handles[1]), list[1].ID)
}

func TestHub_SubscribeGetsLatest(t *testing.T) {
	hub := newHub(t, 4)
	r := render.NewRenderer(hub)

	h, err := r.Open("x")
	require.NoError(t, err)
	require.NoError(t, r.Update(h, "one"))

	ch, cancel, ok := hub.Subscribe(string(h))
	require.True(t, ok)
	defer cancel()

	msg := <-ch
	assert.Equal(t, CommandDeltaUpdate, msg.Command)
	assert.Contains(t, msg.Content, "one")

	// Unread intermediate frames collapse to the newest.
	require.NoError(t, r.Update(h, "two"))
	require.NoError(t, r.Update(h, "three"))
	msg = <-ch
	assert.Contains(t, msg.Content, "three")

	r.Close(h)
	_, open := <-ch
	assert.False(t, open)

	_, _, ok = hub.Subscribe(string(h))
	assert.False(t, ok)
}

func TestHub_OnOpen(t *testing.T) {
	var opened []string
	hub, err := NewHub(0, WithOnOpen(func(id string) { opened = append(opened, id) }))
	require.NoError(t, err)

	h, err := render.NewRenderer(hub).Open("x")
	require.NoError(t, err)
	assert.Equal(t, []string{string(h)}, opened)
}

// =============================================================================
// SERVER
// =============================================================================

type fakeStarter struct {
	renderer *render.Renderer
	err      error
	got      snippet.CodeRequest
}

func (f *fakeStarter) Start(ctx context.Context, req snippet.CodeRequest) (render.Handle, error) {
	f.got = req
	if f.err != nil {
		return "", f.err
	}
	return f.renderer.Open(req.Title())
}

func TestServer_PanelPage(t *testing.T) {
	hub := newHub(t, 4)
	r := render.NewRenderer(hub)
	srv := httptest.NewServer(NewServer(hub).Router())
	defer srv.Close()

	h, err := r.Open("main.go#L2-L4")
	require.NoError(t, err)
	require.NoError(t, r.Update(h, "**bold**"))

	resp, err := http.Get(srv.URL + "/panels/" + string(h))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "<strong>bold</strong>")
	assert.Contains(t, string(body), `data-panel="`+string(h)+`"`)

	resp, err = http.Get(srv.URL + "/panels/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Static(t *testing.T) {
	srv := httptest.NewServer(NewServer(newHub(t, 1)).Router())
	defer srv.Close()

	for path, want := range map[string]string{
		"/static/index.js":      "delta_update",
		"/static/style.css":     "#delta",
		"/static/highlight.css": ".chroma",
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, string(body), want, path)
	}
}

func TestServer_WebSocketDeltaUpdates(t *testing.T) {
	hub := newHub(t, 4)
	r := render.NewRenderer(hub)
	srv := httptest.NewServer(NewServer(hub).Router())
	defer srv.Close()

	h, err := r.Open("x")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/panels/" + string(h) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return r.Update(h, "# Streaming") == nil
	}, time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "delta_update", msg.Command)
	assert.Contains(t, msg.Content, "<h1")

	r.Close(h)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
	}
}

func TestServer_WebSocketRejectsForeignOrigin(t *testing.T) {
	hub := newHub(t, 4)
	h, err := render.NewRenderer(hub).Open("x")
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(hub).Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/panels/" + string(h) + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_APIExplain(t *testing.T) {
	hub := newHub(t, 4)
	starter := &fakeStarter{renderer: render.NewRenderer(hub)}
	srv := httptest.NewServer(NewServer(hub, WithStarter(starter)).Router())
	defer srv.Close()

	body := `{"language_id":"python","text":"print(1)","document_name":"a.py","line_start":3,"line_end":3}`
	resp, err := http.Post(srv.URL+"/api/explain", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out explainResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, "/panels/"+out.ID, out.URL)
	assert.Equal(t, "a.py", starter.got.DocumentName)
	assert.Equal(t, 1, hub.LiveCount())
}

func TestServer_APIExplainErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		status int
	}{
		{"bad json", nil, "{", http.StatusBadRequest},
		{"no content", snippet.ErrNoContent, `{"text":""}`, http.StatusUnprocessableEntity},
		{"declined", credential.ErrDeclined, `{"text":"x"}`, http.StatusUnauthorized},
		{"other", io.ErrUnexpectedEOF, `{"text":"x"}`, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hub := newHub(t, 1)
			starter := &fakeStarter{renderer: render.NewRenderer(hub), err: tc.err}
			srv := httptest.NewServer(NewServer(hub, WithStarter(starter)).Router())
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/api/explain", "application/json", bytes.NewBufferString(tc.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestServer_APIExplainRejectsCrossSite(t *testing.T) {
	body := `{"language_id":"python","text":"print(1)","document_name":"a.py"}`
	tests := []struct {
		name        string
		origin      string
		contentType string
		status      int
	}{
		{"foreign origin", "https://evil.example", "application/json", http.StatusForbidden},
		{"form content type", "", "text/plain", http.StatusUnsupportedMediaType},
		{"foreign origin and form", "https://evil.example", "text/plain", http.StatusForbidden},
		{"missing content type", "", "", http.StatusUnsupportedMediaType},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hub := newHub(t, 1)
			starter := &fakeStarter{renderer: render.NewRenderer(hub)}
			srv := httptest.NewServer(NewServer(hub, WithStarter(starter)).Router())
			defer srv.Close()

			req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/explain", strings.NewReader(body))
			require.NoError(t, err)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Empty(t, starter.got.DocumentName)
			assert.Equal(t, 0, hub.LiveCount())
		})
	}
}

func TestServer_APIExplainSameOrigin(t *testing.T) {
	hub := newHub(t, 1)
	starter := &fakeStarter{renderer: render.NewRenderer(hub)}
	srv := httptest.NewServer(NewServer(hub, WithStarter(starter)).Router())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/explain",
		strings.NewReader(`{"language_id":"go","text":"x","document_name":"a.go"}`))
	require.NoError(t, err)
	req.Header.Set("Origin", srv.URL)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "a.go", starter.got.DocumentName)
}

func TestServer_APIExplainRateLimited(t *testing.T) {
	hub := newHub(t, 4)
	starter := &fakeStarter{renderer: render.NewRenderer(hub)}
	srv := httptest.NewServer(NewServer(hub, WithStarter(starter), WithRateLimit(1, 1)).Router())
	defer srv.Close()

	body := `{"language_id":"python","text":"print(1)","document_name":"a.py"}`
	statuses := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		resp, err := http.Post(srv.URL+"/api/explain", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusAccepted, http.StatusTooManyRequests}, statuses)
}

func TestServer_APIExplainDisabled(t *testing.T) {
	srv := httptest.NewServer(NewServer(newHub(t, 1)).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/explain", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestServer_ServeShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(newHub(t, 1)).Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
