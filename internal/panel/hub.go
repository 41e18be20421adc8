// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package panel hosts explanation panels in a local web server.
//
// A Hub is the render.Display for the browser: every render target becomes a
// live panel whose subscribers receive each frame as a delta_update message.
// Completed panels are kept in a small LRU so their page can still be opened
// after the target is released.
package panel

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/jeranaias/codeexplain/internal/render"
)

// DefaultRecent is the number of completed panels kept.
const DefaultRecent = 32

// CommandDeltaUpdate is the message command carrying new panel content.
const CommandDeltaUpdate = "delta_update"

// Message is pushed to panel subscribers.
type Message struct {
	Command string `json:"command"`
	Content string `json:"content"`
}

// Snapshot is the latest state of a panel.
type Snapshot struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Markdown  string    `json:"markdown"`
	HTML      string    `json:"html"`
	Live      bool      `json:"live"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// HUB
// =============================================================================

// Hub tracks live and recently completed panels. Safe for concurrent use.
type Hub struct {
	log zerolog.Logger
	// onOpen is called with the panel id when a panel is created.
	onOpen func(id string)

	mu     sync.RWMutex
	live   map[render.Handle]*Panel
	recent *lru.Cache[render.Handle, Snapshot]
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(l zerolog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}

// WithOnOpen registers a callback run when a panel is created, e.g. to open
// it in a browser.
func WithOnOpen(fn func(id string)) HubOption {
	return func(h *Hub) { h.onOpen = fn }
}

// NewHub creates a hub keeping up to recent completed panels.
func NewHub(recent int, opts ...HubOption) (*Hub, error) {
	if recent <= 0 {
		recent = DefaultRecent
	}
	cache, err := lru.New[render.Handle, Snapshot](recent)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		log:    zerolog.Nop(),
		live:   make(map[render.Handle]*Panel),
		recent: cache,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Create implements render.Display.
func (h *Hub) Create(handle render.Handle, title string) (render.Surface, error) {
	p := &Panel{
		hub:    h,
		handle: handle,
		snap: Snapshot{
			ID:        string(handle),
			Title:     title,
			Live:      true,
			UpdatedAt: time.Now(),
		},
		subs: make(map[chan Message]struct{}),
	}

	h.mu.Lock()
	h.live[handle] = p
	h.mu.Unlock()

	h.log.Debug().Str("panel", string(handle)).Str("title", title).Msg("panel created")
	if h.onOpen != nil {
		h.onOpen(string(handle))
	}
	return p, nil
}

// Snapshot returns the state of a live or recently completed panel.
func (h *Hub) Snapshot(id string) (Snapshot, bool) {
	handle := render.Handle(id)

	h.mu.RLock()
	p, ok := h.live[handle]
	h.mu.RUnlock()
	if ok {
		return p.snapshot(), true
	}
	return h.recent.Get(handle)
}

// List returns live panels first, then recent ones, each newest first.
func (h *Hub) List() []Snapshot {
	h.mu.RLock()
	live := make([]Snapshot, 0, len(h.live))
	for _, p := range h.live {
		live = append(live, p.snapshot())
	}
	h.mu.RUnlock()

	sort.Slice(live, func(i, j int) bool { return live[i].UpdatedAt.After(live[j].UpdatedAt) })

	// Keys are oldest to newest.
	keys := h.recent.Keys()
	out := live
	for i := len(keys) - 1; i >= 0; i-- {
		if s, ok := h.recent.Peek(keys[i]); ok {
			out = append(out, s)
		}
	}
	return out
}

// Subscribe registers for updates of a live panel. The current content is
// delivered first. ok is false when the panel is not live; cancel must be
// called when done.
func (h *Hub) Subscribe(id string) (ch <-chan Message, cancel func(), ok bool) {
	h.mu.RLock()
	p, live := h.live[render.Handle(id)]
	h.mu.RUnlock()
	if !live {
		return nil, func() {}, false
	}
	return p.subscribe()
}

// LiveCount returns the number of live panels.
func (h *Hub) LiveCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.live)
}

func (h *Hub) release(p *Panel, keep bool) {
	h.mu.Lock()
	delete(h.live, p.handle)
	h.mu.Unlock()

	if keep {
		s := p.snapshot()
		s.Live = false
		h.recent.Add(p.handle, s)
	}
}

// =============================================================================
// PANEL
// =============================================================================

// Panel is the browser surface of one render target.
type Panel struct {
	hub    *Hub
	handle render.Handle

	mu        sync.Mutex
	snap      Snapshot
	subs      map[chan Message]struct{}
	completed bool
	disposed  bool
}

// Show implements render.Surface.
func (p *Panel) Show(f render.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return render.ErrClosed
	}

	p.snap.Markdown = f.Markdown
	p.snap.HTML = f.HTML
	p.snap.UpdatedAt = time.Now()

	msg := Message{Command: CommandDeltaUpdate, Content: f.HTML}
	for ch := range p.subs {
		offer(ch, msg)
	}
	return nil
}

// Complete implements render.Completer: the final frame stays viewable.
func (p *Panel) Complete(f render.Frame) error {
	p.mu.Lock()
	p.snap.Markdown = f.Markdown
	p.snap.HTML = f.HTML
	p.completed = true
	p.mu.Unlock()
	return nil
}

// Dispose implements render.Surface.
func (p *Panel) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	keep := p.completed
	for ch := range p.subs {
		close(ch)
	}
	p.subs = nil
	p.mu.Unlock()

	p.hub.release(p, keep)
	p.hub.log.Debug().Str("panel", string(p.handle)).Bool("kept", keep).Msg("panel released")
}

func (p *Panel) snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *Panel) subscribe() (<-chan Message, func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return nil, func() {}, false
	}

	ch := make(chan Message, 1)
	if p.snap.HTML != "" {
		ch <- Message{Command: CommandDeltaUpdate, Content: p.snap.HTML}
	}
	p.subs[ch] = struct{}{}

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[ch]; ok {
			delete(p.subs, ch)
			close(ch)
		}
	}
	return ch, cancel, true
}

// offer delivers msg without blocking. Each message holds the full content,
// so a pending older message is replaced.
func offer(ch chan Message, msg Message) {
	for {
		select {
		case ch <- msg:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
