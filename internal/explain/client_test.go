// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package explain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/codeexplain/internal/snippet"
)

var sampleRequest = snippet.CodeRequest{
	LanguageID:   "python",
	Text:         "print('hi')",
	DocumentName: "hello.py",
	LineStart:    3,
	LineEnd:      3,
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprint(w, line+"\n\n")
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
}

func delta(text string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]string{"content": text}}},
	})
	return "data: " + string(b)
}

func collect(updates *[]string) Sink {
	return func(full string) error {
		*updates = append(*updates, full)
		return nil
	}
}

// =============================================================================
// STREAMING
// =============================================================================

func TestExplain_StreamAccumulates(t *testing.T) {
	server := sseServer(t, delta("This "), delta("prints "), delta("hi."), "data: [DONE]")
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	var updates []string
	text, err := client.Explain(context.Background(), sampleRequest, "sk-test", collect(&updates))

	require.NoError(t, err)
	assert.Equal(t, "This prints hi.", text)
	assert.Equal(t, []string{"This ", "This prints ", "This prints hi."}, updates)
}

func TestExplain_MalformedChunkSkipped(t *testing.T) {
	server := sseServer(t, delta("a"), "data: {not json", ": keep-alive", delta("b"), "data: [DONE]")
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	var updates []string
	text, err := client.Explain(context.Background(), sampleRequest, "", collect(&updates))

	require.NoError(t, err)
	assert.Equal(t, "ab", text)
	assert.Equal(t, []string{"a", "ab"}, updates)
}

func TestExplain_DoneStopsReading(t *testing.T) {
	server := sseServer(t, delta("first"), "data: [DONE]", delta("ignored"))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	text, err := client.Explain(context.Background(), sampleRequest, "", nil)

	require.NoError(t, err)
	assert.Equal(t, "first", text)
}

func TestExplain_EOFWithoutDone(t *testing.T) {
	server := sseServer(t, delta("only"))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	text, err := client.Explain(context.Background(), sampleRequest, "", nil)

	require.NoError(t, err)
	assert.Equal(t, "only", text)
}

func TestExplain_SinkErrorStopsStream(t *testing.T) {
	server := sseServer(t, delta("a"), delta("b"), delta("c"), "data: [DONE]")
	defer server.Close()

	stop := errors.New("surface gone")
	calls := 0
	client := NewClient(Config{BaseURL: server.URL})
	text, err := client.Explain(context.Background(), sampleRequest, "", func(full string) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, stop)
	var se *StreamError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "ab", se.Partial)
	assert.Equal(t, "ab", text)
	assert.Equal(t, 2, calls)
}

func TestExplain_InStreamError(t *testing.T) {
	server := sseServer(t, delta("x"), `data: {"error":{"code":"invalid_api_key","message":"key revoked"}}`)
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.Explain(context.Background(), sampleRequest, "sk-test", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredential)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "key revoked", apiErr.Message)
}

// =============================================================================
// ERROR RESPONSES
// =============================================================================

func TestExplain_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"invalid_api_key","message":"Incorrect API key provided."}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.Explain(context.Background(), sampleRequest, "sk-bad", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredential)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid_api_key", apiErr.Code)
	assert.Equal(t, "Incorrect API key provided.", apiErr.Message)
}

func TestExplain_InvalidKeyCodeOnOtherStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"invalid_api_key","message":"nope"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.Explain(context.Background(), sampleRequest, "sk-bad", nil)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestExplain_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.Explain(context.Background(), sampleRequest, "sk-test", nil)

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidCredential))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Contains(t, apiErr.Message, "upstream exploded")
}

func TestExplain_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(Config{BaseURL: url})
	_, err := client.Explain(context.Background(), sampleRequest, "", nil)

	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestExplain_EmptyRequest(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := client.Explain(context.Background(), snippet.CodeRequest{}, "", nil)
	assert.ErrorIs(t, err, ErrEmptyRequest)
}

// =============================================================================
// NON-STREAMING
// =============================================================================

func TestExplain_JSONCompletion(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"completion field", `{"completion":"It prints hi."}`},
		{"chat completion", `{"choices":[{"message":{"role":"assistant","content":"It prints hi."}}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient(Config{BaseURL: server.URL})
			var updates []string
			text, err := client.Explain(context.Background(), sampleRequest, "", collect(&updates))

			require.NoError(t, err)
			assert.Equal(t, "It prints hi.", text)
			assert.Equal(t, []string{"It prints hi."}, updates)
		})
	}
}

// =============================================================================
// REQUEST SHAPE
// =============================================================================

func TestExplain_RequestHeaders(t *testing.T) {
	tests := []struct {
		name       string
		credential string
		header     string
		want       string
	}{
		{"bearer", "sk-test", "", "Bearer sk-test"},
		{"custom header", "sk-test", "X-Api-Key", "Bearer sk-test"},
		{"no credential", "", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got http.Header
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Clone()
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"completion":"ok"}`))
			}))
			defer server.Close()

			client := NewClient(Config{BaseURL: server.URL, AuthHeader: tc.header})
			_, err := client.Explain(context.Background(), sampleRequest, tc.credential, nil)
			require.NoError(t, err)

			header := tc.header
			if header == "" {
				header = "Authorization"
			}
			assert.Equal(t, tc.want, got.Get(header))
			assert.Equal(t, "application/json", got.Get("Content-Type"))
			assert.Contains(t, got.Get("Accept"), "text/event-stream")
		})
	}
}

func TestExplain_ChatBody(t *testing.T) {
	var body map[string]any
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"completion":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/", Model: "test-model"})
	_, err := client.Explain(context.Background(), sampleRequest, "", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultPath, path)
	assert.Equal(t, "test-model", body["model"])
	assert.Equal(t, true, body["stream"])
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].(string)
	assert.Contains(t, content, "```python\nprint('hi')\n```")
}

func TestExplain_ExplainBody(t *testing.T) {
	var body map[string]any
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"completion":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL:    server.URL,
		Path:       "v1/explain",
		Format:     FormatExplain,
		ConfigName: "course",
	})
	_, err := client.Explain(context.Background(), sampleRequest, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "/v1/explain", path)
	assert.Equal(t, "print('hi')", body["code"])
	assert.Equal(t, "python", body["language_id"])
	assert.Equal(t, "course", body["config"])
	assert.Equal(t, true, body["stream"])
	assert.NotContains(t, body, "messages")
	assert.True(t, strings.HasPrefix(body["prompt"].(string), SystemPrompt))
}

// =============================================================================
// HELPERS
// =============================================================================

func TestDecodeEvent(t *testing.T) {
	assert.Equal(t, EventDone, DecodeEvent([]byte("[DONE]")).Kind)
	assert.Equal(t, EventMalformed, DecodeEvent([]byte("{oops")).Kind)

	ev := DecodeEvent([]byte(`{"choices":[{"delta":{"content":"hey"}}]}`))
	assert.Equal(t, EventDelta, ev.Kind)
	assert.Equal(t, "hey", ev.Text)

	ev = DecodeEvent([]byte(`{"completion":"plain"}`))
	assert.Equal(t, "plain", ev.Text)
}

func TestSSEReader(t *testing.T) {
	in := "event: message\ndata: one\r\n\n: comment\ndata:two\n\ndata: \n\ndata: three"
	r := NewSSEReader(strings.NewReader(in))

	var got []string
	for {
		data, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, string(data))
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestKeyFingerprint(t *testing.T) {
	assert.Equal(t, "none", keyFingerprint(""))
	fp := keyFingerprint("sk-secret")
	assert.Len(t, fp, 8)
	assert.NotContains(t, fp, "secret")
	assert.Equal(t, fp, keyFingerprint("sk-secret"))
}
