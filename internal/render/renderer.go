// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrClosed is returned when updating a target that was closed or never
// existed.
var ErrClosed = errors.New("render target closed")

// Handle identifies one render target.
type Handle string

// Frame is the content a surface shows.
type Frame struct {
	Handle   Handle
	Title    string
	Markdown string
	HTML     string
}

// Surface displays frames for one target.
type Surface interface {
	// Show replaces the displayed content with f.
	Show(f Frame) error
	// Dispose releases the surface. Called exactly once.
	Dispose()
}

// Completer is implemented by surfaces that keep or present the final frame
// of a successful explanation.
type Completer interface {
	Complete(f Frame) error
}

// Display creates surfaces.
type Display interface {
	Create(h Handle, title string) (Surface, error)
}

// target is the state of one open handle.
type target struct {
	mu      sync.Mutex
	surface Surface
	last    Frame
	closed  bool
}

// =============================================================================
// RENDERER
// =============================================================================

// Renderer owns the set of open targets. Safe for concurrent use.
type Renderer struct {
	display Display
	md      *Markdown
	log     zerolog.Logger

	mu      sync.Mutex
	targets map[Handle]*target
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLogger sets the renderer logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Renderer) { r.log = l }
}

// WithMarkdown sets the markdown converter.
func WithMarkdown(md *Markdown) Option {
	return func(r *Renderer) { r.md = md }
}

// NewRenderer creates a renderer drawing on display.
func NewRenderer(display Display, opts ...Option) *Renderer {
	r := &Renderer{
		display: display,
		log:     zerolog.Nop(),
		targets: make(map[Handle]*target),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.md == nil {
		r.md = NewMarkdown(DefaultStyle)
	}
	return r
}

// Markdown returns the converter used for updates.
func (r *Renderer) Markdown() *Markdown {
	return r.md
}

// Open creates a new target titled title.
func (r *Renderer) Open(title string) (Handle, error) {
	h := Handle(uuid.NewString())

	surface, err := r.display.Create(h, title)
	if err != nil {
		return "", fmt.Errorf("create surface: %w", err)
	}

	r.mu.Lock()
	r.targets[h] = &target{
		surface: surface,
		last:    Frame{Handle: h, Title: title},
	}
	r.mu.Unlock()

	r.log.Debug().Str("handle", string(h)).Str("title", title).Msg("render target opened")
	return h, nil
}

// Update converts markdown (the full text so far) and replaces the target's
// content.
func (r *Renderer) Update(h Handle, markdown string) error {
	t := r.lookup(h)
	if t == nil {
		return ErrClosed
	}

	html, err := r.md.Convert(markdown)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	frame := Frame{Handle: h, Title: t.last.Title, Markdown: markdown, HTML: html}
	if err := t.surface.Show(frame); err != nil {
		return fmt.Errorf("show frame: %w", err)
	}
	t.last = frame
	return nil
}

// Complete marks the target finished. A surface implementing Completer
// receives the final frame; the target is then released.
func (r *Renderer) Complete(h Handle) error {
	t := r.remove(h)
	if t == nil {
		return ErrClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.closed = true

	var err error
	if c, ok := t.surface.(Completer); ok {
		err = c.Complete(t.last)
	}
	t.surface.Dispose()

	r.log.Debug().Str("handle", string(h)).Int("bytes", len(t.last.Markdown)).Msg("render target completed")
	return err
}

// Close disposes the target. Closing an unknown or closed handle is a no-op.
func (r *Renderer) Close(h Handle) {
	t := r.remove(h)
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.surface.Dispose()

	r.log.Debug().Str("handle", string(h)).Msg("render target closed")
}

// OpenCount returns the number of open targets.
func (r *Renderer) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.targets)
}

func (r *Renderer) lookup(h Handle) *target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.targets[h]
}

func (r *Renderer) remove(h Handle) *target {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.targets[h]
	delete(r.targets, h)
	return t
}
