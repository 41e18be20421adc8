// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package snippet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// =============================================================================
// EDITOR CAPABILITIES
// =============================================================================

// Range is an inclusive span of zero-based line numbers.
type Range struct {
	Start int
	End   int
}

// Contains reports whether line falls inside the range.
func (r Range) Contains(line int) bool {
	return line >= r.Start && line <= r.End
}

// Len returns the number of lines covered.
func (r Range) Len() int {
	return r.End - r.Start + 1
}

// Document is the editor state a Selector works from.
type Document struct {
	// Name is the base name of the file shown in panel titles.
	Name       string
	LanguageID string

	Selection    Range
	SelectedText string

	// CursorLine is zero-based.
	CursorLine     int
	CursorLineText string
}

// SymbolKind follows the LSP SymbolKind numbering.
type SymbolKind int

// Symbol kinds the selector cares about.
const (
	SymbolClass    SymbolKind = 5
	SymbolMethod   SymbolKind = 6
	SymbolFunction SymbolKind = 12
)

// Symbol is one entry of a document outline.
type Symbol struct {
	Name     string
	Kind     SymbolKind
	Range    Range
	Children []Symbol
}

// SelectionProvider exposes the active editor.
type SelectionProvider interface {
	// Active returns the focused document, or nil when there is none.
	Active(ctx context.Context) (*Document, error)
	// TextInRange returns the full text of the given lines.
	TextInRange(ctx context.Context, r Range) (string, error)
	// SetSelection moves the visible selection to r.
	SetSelection(ctx context.Context, r Range) error
}

// SymbolLookup exposes the outline of the active document.
type SymbolLookup interface {
	DocumentSymbols(ctx context.Context) ([]Symbol, error)
}

// ErrNoEditor is returned by providers that cannot reach an editor at all.
var ErrNoEditor = errors.New("no active editor")

// =============================================================================
// SELECTOR
// =============================================================================

// Selector builds CodeRequests from editor state.
type Selector struct {
	editor  SelectionProvider
	symbols SymbolLookup
	log     zerolog.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithLogger sets the logger used for non-fatal editor failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Selector) { s.log = l }
}

// NewSelector creates a selector. symbols may be nil when the host has no
// outline support; empty selections then yield an empty request.
func NewSelector(editor SelectionProvider, symbols SymbolLookup, opts ...Option) *Selector {
	s := &Selector{
		editor:  editor,
		symbols: symbols,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns the snippet to explain. An empty CodeRequest (IsEmpty) means
// there is nothing supported to explain; callers must not contact the network.
func (s *Selector) Select(ctx context.Context) (CodeRequest, error) {
	doc, err := s.editor.Active(ctx)
	if err != nil {
		if errors.Is(err, ErrNoEditor) {
			return CodeRequest{}, nil
		}
		return CodeRequest{}, fmt.Errorf("read active document: %w", err)
	}
	if doc == nil {
		return CodeRequest{}, nil
	}

	languageID := NormalizeLanguage(doc.LanguageID)
	if !IsSupported(languageID) {
		s.log.Debug().Str("language", doc.LanguageID).Msg("language not supported")
		return CodeRequest{}, nil
	}

	if doc.SelectedText != "" {
		return newRequest(doc, languageID, doc.SelectedText, doc.Selection), nil
	}

	if s.symbols == nil {
		return CodeRequest{}, nil
	}

	symbols, err := s.symbols.DocumentSymbols(ctx)
	if err != nil {
		return CodeRequest{}, fmt.Errorf("document symbols: %w", err)
	}

	fn, ok := EnclosingFunction(symbols, doc.CursorLine, doc.CursorLineText)
	if !ok {
		return CodeRequest{}, nil
	}

	text, err := s.editor.TextInRange(ctx, fn.Range)
	if err != nil {
		return CodeRequest{}, fmt.Errorf("read function %q: %w", fn.Name, err)
	}

	if err := s.editor.SetSelection(ctx, fn.Range); err != nil {
		s.log.Warn().Err(err).Str("function", fn.Name).Msg("could not update editor selection")
	}

	return newRequest(doc, languageID, text, fn.Range), nil
}

func newRequest(doc *Document, languageID, text string, r Range) CodeRequest {
	text = Beautify(text)
	if text == "" {
		return CodeRequest{}
	}
	return CodeRequest{
		LanguageID:   languageID,
		Text:         text,
		DocumentName: doc.Name,
		LineStart:    r.Start + 1,
		LineEnd:      r.End + 1,
	}
}

// EnclosingFunction picks the function or method whose name appears on the
// cursor line. Among those, the smallest one containing the cursor wins;
// otherwise the first match in outline order is used.
func EnclosingFunction(symbols []Symbol, cursorLine int, lineText string) (Symbol, bool) {
	var (
		first    Symbol
		hasFirst bool
		best     Symbol
		hasBest  bool
	)

	walkSymbols(symbols, func(sym Symbol) {
		if sym.Kind != SymbolFunction && sym.Kind != SymbolMethod {
			return
		}
		if sym.Name == "" || !strings.Contains(lineText, sym.Name) {
			return
		}
		if !hasFirst {
			first, hasFirst = sym, true
		}
		if sym.Range.Contains(cursorLine) && (!hasBest || sym.Range.Len() < best.Range.Len()) {
			best, hasBest = sym, true
		}
	})

	if hasBest {
		return best, true
	}
	return first, hasFirst
}

// walkSymbols visits symbols depth-first in outline order.
func walkSymbols(symbols []Symbol, fn func(Symbol)) {
	for _, sym := range symbols {
		fn(sym)
		walkSymbols(sym.Children, fn)
	}
}
