// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package source provides editor capabilities for code that does not live in
// a running editor: a file on disk, piped stdin or the system clipboard.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"

	"github.com/jeranaias/codeexplain/internal/snippet"
)

// ErrEmptyInput is returned when stdin or the clipboard holds no text.
var ErrEmptyInput = errors.New("input is empty")

// =============================================================================
// TEXT PROVIDER
// =============================================================================

// Text is an in-memory document. When a selection is set it is reported as
// the editor selection; otherwise the cursor line drives symbol lookup.
type Text struct {
	name     string
	language string
	lines    []string

	selection *snippet.Range
	cursor    int
}

// NewText wraps text as a document. The whole text is selected.
func NewText(name, language, text string) *Text {
	text = strings.TrimSuffix(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	t := &Text{
		name:     name,
		language: language,
		lines:    strings.Split(text, "\n"),
	}
	t.selection = &snippet.Range{Start: 0, End: len(t.lines) - 1}
	return t
}

// SelectLines selects the zero-based inclusive range r, clamped to the text.
func (t *Text) SelectLines(r snippet.Range) {
	r = t.clamp(r)
	t.selection = &r
}

// PlaceCursor clears the selection and moves the cursor to a zero-based line.
func (t *Text) PlaceCursor(line int) {
	t.selection = nil
	t.cursor = t.clamp(snippet.Range{Start: line, End: line}).Start
}

// Selection returns the current selection, if any.
func (t *Text) Selection() (snippet.Range, bool) {
	if t.selection == nil {
		return snippet.Range{}, false
	}
	return *t.selection, true
}

// Active implements snippet.SelectionProvider.
func (t *Text) Active(ctx context.Context) (*snippet.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc := &snippet.Document{
		Name:       t.name,
		LanguageID: t.language,
		CursorLine: t.cursor,
	}
	if t.selection != nil {
		doc.Selection = *t.selection
		doc.SelectedText = t.slice(*t.selection)
		doc.CursorLine = t.selection.Start
	}
	if doc.CursorLine < len(t.lines) {
		doc.CursorLineText = t.lines[doc.CursorLine]
	}
	return doc, nil
}

// TextInRange implements snippet.SelectionProvider.
func (t *Text) TextInRange(ctx context.Context, r snippet.Range) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.slice(t.clamp(r)), nil
}

// SetSelection implements snippet.SelectionProvider.
func (t *Text) SetSelection(_ context.Context, r snippet.Range) error {
	t.SelectLines(r)
	return nil
}

// DocumentSymbols implements snippet.SymbolLookup. Only Go sources have an
// outline; other languages report none.
func (t *Text) DocumentSymbols(ctx context.Context) ([]snippet.Symbol, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if snippet.NormalizeLanguage(t.language) != "go" {
		return nil, nil
	}
	return GoSymbols(t.name, strings.Join(t.lines, "\n"))
}

func (t *Text) slice(r snippet.Range) string {
	if len(t.lines) == 0 || r.Start > r.End {
		return ""
	}
	return strings.Join(t.lines[r.Start:r.End+1], "\n")
}

func (t *Text) clamp(r snippet.Range) snippet.Range {
	last := len(t.lines) - 1
	if last < 0 {
		last = 0
	}
	r.Start = min(max(r.Start, 0), last)
	r.End = min(max(r.End, r.Start), last)
	return r
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// FromFile loads path. The language is detected from the file name unless
// language is set.
func FromFile(path, language string) (*Text, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if language == "" {
		language = DetectLanguage(path)
	}
	return NewText(filepath.Base(path), language, string(data)), nil
}

// FromReader reads all of r as an untitled document.
func FromReader(r io.Reader, language string) (*Text, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, ErrEmptyInput
	}
	return NewText("stdin", language, string(data)), nil
}

// FromClipboard reads the system clipboard.
func FromClipboard(language string) (*Text, error) {
	content, err := clipboard.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read from clipboard: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyInput
	}
	return NewText("clipboard", language, content), nil
}

// StdinPiped reports whether stdin is a pipe or file rather than a terminal.
func StdinPiped() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice == 0
}

// =============================================================================
// LINE SPECS
// =============================================================================

// ParseLines parses a 1-based "N" or "N-M" line spec into a zero-based range.
func ParseLines(spec string) (snippet.Range, error) {
	spec = strings.TrimSpace(spec)
	startStr, endStr, isRange := strings.Cut(spec, "-")
	if !isRange {
		endStr = startStr
	}
	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil || start < 1 {
		return snippet.Range{}, fmt.Errorf("invalid line spec %q", spec)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endStr))
	if err != nil || end < start {
		return snippet.Range{}, fmt.Errorf("invalid line spec %q", spec)
	}
	return snippet.Range{Start: start - 1, End: end - 1}, nil
}
