// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session wires code selection, the explanation client and the
// renderer into the explain command.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/codeexplain/internal/credential"
	"github.com/jeranaias/codeexplain/internal/explain"
	"github.com/jeranaias/codeexplain/internal/notify"
	"github.com/jeranaias/codeexplain/internal/render"
	"github.com/jeranaias/codeexplain/internal/snippet"
)

// User-facing notice texts.
const (
	NoContentMessage   = "No code selected or current file is not supported."
	AnalyzingMessage   = "Analyzing code..."
	GenericFailMessage = "Failed to get an explanation. See the log for details."
)

// ErrNoContent is returned when there is nothing to explain.
var ErrNoContent = snippet.ErrNoContent

// Selector produces the code to explain.
type Selector interface {
	Select(ctx context.Context) (snippet.CodeRequest, error)
}

// Explainer streams an explanation. *explain.Client implements it.
type Explainer interface {
	Explain(ctx context.Context, req snippet.CodeRequest, credential string, sink explain.Sink) (string, error)
}

// Credentials supplies and invalidates the API credential.
// *credential.Manager implements it.
type Credentials interface {
	Ensure(ctx context.Context) (string, error)
	ClearIf(ctx context.Context, value string) (bool, error)
}

// Session runs explanations. Concurrent explanations are independent; each
// has its own render target.
type Session struct {
	selector     Selector
	client       Explainer
	renderer     *render.Renderer
	creds        Credentials
	notifier     notify.Notifier
	log          zerolog.Logger
	authRequired bool

	wg *sync.WaitGroup
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithNotifier sets where notices go.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Session) { s.notifier = n }
}

// WithSelector sets the selector used by Explain.
func WithSelector(sel Selector) Option {
	return func(s *Session) { s.selector = sel }
}

// WithoutAuth skips credential handling for endpoints that need none.
func WithoutAuth() Option {
	return func(s *Session) { s.authRequired = false }
}

// WithWaitGroup tracks background streams on wg, so sessions that replace
// each other can be waited on together.
func WithWaitGroup(wg *sync.WaitGroup) Option {
	return func(s *Session) { s.wg = wg }
}

// New creates a session.
func New(client Explainer, renderer *render.Renderer, creds Credentials, opts ...Option) *Session {
	s := &Session{
		client:       client,
		renderer:     renderer,
		creds:        creds,
		notifier:     notify.Discard{},
		log:          zerolog.Nop(),
		authRequired: true,
		wg:           &sync.WaitGroup{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Explain selects code from the editor and explains it, blocking until the
// stream ends. A declined credential prompt returns credential.ErrDeclined
// without a notice.
func (s *Session) Explain(ctx context.Context) error {
	if s.selector == nil {
		return errors.New("session has no selector")
	}
	req, err := s.selector.Select(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("code selection failed")
		s.notifier.Error(GenericFailMessage)
		return err
	}
	return s.ExplainRequest(ctx, req)
}

// ExplainRequest explains req, blocking until the stream ends.
func (s *Session) ExplainRequest(ctx context.Context, req snippet.CodeRequest) error {
	h, cred, err := s.begin(ctx, req)
	if err != nil {
		return err
	}
	return s.stream(ctx, h, req, cred)
}

// Start normalizes req, opens its render target and streams in the
// background. It returns once the target exists.
func (s *Session) Start(ctx context.Context, req snippet.CodeRequest) (render.Handle, error) {
	req = req.Normalize()
	h, cred, err := s.begin(ctx, req)
	if err != nil {
		return "", err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.stream(ctx, h, req, cred)
	}()
	return h, nil
}

// Wait blocks until streams started with Start have finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// begin checks content, obtains the credential and opens the target.
func (s *Session) begin(ctx context.Context, req snippet.CodeRequest) (render.Handle, string, error) {
	if req.IsEmpty() {
		s.notifier.Info(NoContentMessage)
		return "", "", ErrNoContent
	}

	var cred string
	if s.authRequired {
		var err error
		cred, err = s.creds.Ensure(ctx)
		if errors.Is(err, credential.ErrDeclined) {
			s.log.Debug().Msg("credential prompt declined")
			return "", "", err
		}
		if err != nil {
			s.log.Error().Err(err).Msg("failed to obtain credential")
			s.notifier.Error(GenericFailMessage)
			return "", "", err
		}
	}

	h, err := s.renderer.Open(req.Title())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to open render target")
		s.notifier.Error(GenericFailMessage)
		return "", "", err
	}

	s.notifier.Info(AnalyzingMessage)
	s.log.Info().
		Str("handle", string(h)).
		Str("language", req.LanguageID).
		Str("title", req.Title()).
		Int("chars", len(req.Text)).
		Msg("explaining code")
	return h, cred, nil
}

// stream runs the request and settles the target.
func (s *Session) stream(ctx context.Context, h render.Handle, req snippet.CodeRequest, cred string) error {
	text, err := s.client.Explain(ctx, req, cred, func(full string) error {
		return s.renderer.Update(h, full)
	})
	if err == nil {
		if cerr := s.renderer.Complete(h); cerr != nil && !errors.Is(cerr, render.ErrClosed) {
			s.log.Warn().Err(cerr).Str("handle", string(h)).Msg("failed to complete render target")
		}
		s.log.Info().Str("handle", string(h)).Int("chars", len(text)).Msg("explanation complete")
		return nil
	}

	s.renderer.Close(h)
	return s.fail(ctx, h, cred, err)
}

// fail reports err to the user and returns it, or nil when the failure
// needs no report.
func (s *Session) fail(ctx context.Context, h render.Handle, cred string, err error) error {
	switch {
	case errors.Is(err, render.ErrClosed):
		// The user closed the panel mid-stream.
		s.log.Debug().Str("handle", string(h)).Msg("render target closed during stream")
		return nil

	case errors.Is(err, context.Canceled):
		s.log.Debug().Str("handle", string(h)).Msg("explanation cancelled")
		return err

	case errors.Is(err, explain.ErrInvalidCredential):
		cleared, cerr := s.creds.ClearIf(ctx, cred)
		if cerr != nil {
			s.log.Error().Err(cerr).Msg("failed to clear credential")
		} else if !cleared {
			s.log.Debug().Msg("credential changed during request, keeping it")
		}
		s.log.Warn().Err(err).Str("handle", string(h)).Msg("credential rejected")
		s.notifier.Error(invalidCredentialMessage(err))
		return err

	default:
		s.log.Error().Err(err).Str("handle", string(h)).Msg("explanation failed")
		s.notifier.Error(GenericFailMessage)
		return err
	}
}

func invalidCredentialMessage(err error) string {
	var apiErr *explain.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return fmt.Sprintf("%s Please set a valid API key and try again.", apiErr.Message)
	}
	return "The API key was rejected. Please set a valid API key and try again."
}
