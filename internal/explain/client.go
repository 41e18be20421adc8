// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package explain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/codeexplain/internal/snippet"
)

// Configuration constants for the explanation endpoint.
const (
	// DefaultBaseURL is the default endpoint host.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultPath is the default endpoint path.
	DefaultPath = "/chat/completions"

	// DefaultModel is the model requested in chat format.
	DefaultModel = "gpt-3.5-turbo"

	// DefaultConnectTimeout bounds dialing, TLS and waiting for response
	// headers. The body itself has no deadline; streams may run long.
	DefaultConnectTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed non-streaming response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024
)

// Format selects the request body shape.
type Format string

const (
	// FormatChat sends OpenAI-style {model, messages, stream}.
	FormatChat Format = "chat"
	// FormatExplain sends {code, language_id, prompt, stream}.
	FormatExplain Format = "explain"
)

// Config describes the remote endpoint.
type Config struct {
	BaseURL string
	Path    string
	Format  Format
	Model   string
	// ConfigName is forwarded as "config" in explain-format bodies.
	ConfigName string
	// AuthHeader carries the credential; empty means "Authorization".
	AuthHeader string
	// User is an optional end-user identifier forwarded to the endpoint.
	User           string
	ConnectTimeout time.Duration
}

// Sink receives the cumulative explanation text after every delta. Returning
// an error stops the stream.
type Sink func(full string) error

// Client talks to the explanation endpoint. It is safe for concurrent use;
// requests share no mutable state.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client (tests, proxies).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a client for cfg, filling unset fields with defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		cfg.Path = "/" + cfg.Path
	}
	if cfg.Format == "" {
		cfg.Format = FormatChat
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "Authorization"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	c := &Client{
		cfg:        cfg,
		httpClient: newStreamingClient(cfg.ConnectTimeout),
		log:        zerolog.Nop(),
		userAgent:  "codeexplain",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newStreamingClient returns an HTTP client without an overall timeout.
// SECURITY: TLS 1.2+ with certificate verification.
func newStreamingClient(connectTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   connectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: connectTimeout,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

// Endpoint returns the full request URL.
func (c *Client) Endpoint() string {
	return c.cfg.BaseURL + c.cfg.Path
}

// Explain sends req and streams the explanation into sink. credential may be
// empty when the endpoint needs no auth. It returns the final text.
//
// There is no retry: a failure is returned once. Errors after the first byte
// of a stream are *StreamError values carrying the partial text.
func (c *Client) Explain(ctx context.Context, req snippet.CodeRequest, credential string, sink Sink) (string, error) {
	if req.IsEmpty() {
		return "", ErrEmptyRequest
	}
	if sink == nil {
		sink = func(string) error { return nil }
	}

	bodyBytes, err := json.Marshal(c.payload(req))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, credential)

	start := time.Now()
	c.log.Debug().
		Str("method", httpReq.Method).
		Str("path", httpReq.URL.Path).
		Str("key", keyFingerprint(credential)).
		Str("language", req.LanguageID).
		Msg("explain request")

	resp, err := c.httpClient.Do(httpReq)

	// SECURITY: Clear credential header so it cannot leak into later logging.
	httpReq.Header.Del(c.cfg.AuthHeader)

	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("explain response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := readResponse(resp.Body)
		return "", handleErrorResponse(resp.StatusCode, body)
	}

	if isEventStream(resp.Header.Get("Content-Type")) {
		return c.processStream(ctx, resp.Body, sink)
	}
	return c.processCompletion(resp.Body, sink)
}

// setHeaders sets the request headers.
func (c *Client) setHeaders(req *http.Request, credential string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream, application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", c.userAgent)
	if credential != "" {
		req.Header.Set(c.cfg.AuthHeader, "Bearer "+credential)
	}
}

// processStream reads SSE payloads until [DONE] or EOF.
func (c *Client) processStream(ctx context.Context, body io.Reader, sink Sink) (string, error) {
	reader := NewSSEReader(body)
	var acc Accumulator

	for {
		if err := ctx.Err(); err != nil {
			return acc.String(), &StreamError{Partial: acc.String(), Err: err}
		}

		data, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.log.Debug().Int("chars", acc.Len()).Msg("stream ended without [DONE]")
				return acc.String(), nil
			}
			return acc.String(), &StreamError{Partial: acc.String(), Err: err}
		}

		ev := DecodeEvent(data)
		switch ev.Kind {
		case EventDone:
			c.log.Debug().Int("chars", acc.Len()).Msg("stream done")
			return acc.String(), nil

		case EventMalformed:
			c.log.Warn().Err(ev.Err).Int("bytes", len(ev.Raw)).Msg("skipping malformed stream chunk")
			continue

		case EventError:
			return acc.String(), &StreamError{Partial: acc.String(), Err: ev.Err}

		case EventDelta:
			if ev.Text == "" {
				continue
			}
			full := acc.Append(ev.Text)
			if err := sink(full); err != nil {
				return full, &StreamError{Partial: full, Err: err}
			}
		}
	}
}

// completionResponse is a non-streaming reply: either {"completion": "..."}
// or an OpenAI chat completion.
type completionResponse struct {
	Completion string `json:"completion"`
	Choices    []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Error json.RawMessage `json:"error"`
}

func (r *completionResponse) text() string {
	if r.Completion != "" {
		return r.Completion
	}
	if len(r.Choices) > 0 {
		if r.Choices[0].Message.Content != "" {
			return r.Choices[0].Message.Content
		}
		return r.Choices[0].Text
	}
	return ""
}

// processCompletion handles a single JSON object response.
func (c *Client) processCompletion(body io.Reader, sink Sink) (string, error) {
	raw, err := readResponse(body)
	if err != nil {
		return "", err
	}

	var completion completionResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(completion.Error) > 0 && string(completion.Error) != "null" {
		return "", handleErrorResponse(http.StatusOK, raw)
	}

	text := completion.text()
	if text != "" {
		if err := sink(text); err != nil {
			return text, &StreamError{Partial: text, Err: err}
		}
	}
	return text, nil
}

// readResponse reads a body with a size limit.
// SECURITY: Response size limit prevents memory exhaustion.
func readResponse(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return data, nil
}

// isEventStream reports whether a Content-Type header is text/event-stream.
func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(contentType), "text/event-stream")
	}
	return mediaType == "text/event-stream"
}

// keyFingerprint returns a short SHA-256 fingerprint of a credential for logs.
// SECURITY: Never log key fragments.
func keyFingerprint(credential string) string {
	if credential == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(h[:4])
}
