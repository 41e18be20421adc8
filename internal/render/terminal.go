// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-runewidth"
)

// TerminalDisplay renders completed explanations to a terminal with
// glamour. Intermediate frames are not drawn; the terminal cannot replace
// earlier output in place.
type TerminalDisplay struct {
	out      io.Writer
	renderer *glamour.TermRenderer
	// raw prints markdown unstyled (pipes, --render=plain).
	raw bool

	mu sync.Mutex
}

// NewTerminalDisplay creates a display writing to out. When styled is false
// or glamour cannot initialize, the markdown is printed as-is.
func NewTerminalDisplay(out io.Writer, styled bool, width int) *TerminalDisplay {
	d := &TerminalDisplay{out: out, raw: !styled}
	if styled {
		if width <= 0 {
			width = 80
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			d.raw = true
		} else {
			d.renderer = r
		}
	}
	return d
}

// Create implements Display.
func (d *TerminalDisplay) Create(h Handle, title string) (Surface, error) {
	return &terminalSurface{display: d, title: title}, nil
}

func (d *TerminalDisplay) print(title, markdown string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.raw || d.renderer == nil {
		return d.printRaw(title, markdown)
	}

	out, err := d.renderer.Render("# " + title + "\n\n" + markdown)
	if err != nil {
		return d.printRaw(title, markdown)
	}
	_, err = io.WriteString(d.out, out)
	return err
}

// printRaw underlines the title to its display width, which differs from
// its byte length for wide runes.
func (d *TerminalDisplay) printRaw(title, markdown string) error {
	rule := strings.Repeat("=", max(runewidth.StringWidth(title), 1))
	_, err := fmt.Fprintf(d.out, "%s\n%s\n\n%s\n", title, rule, markdown)
	return err
}

// terminalSurface holds the latest frame until completion.
type terminalSurface struct {
	display *TerminalDisplay
	title   string
}

func (s *terminalSurface) Show(Frame) error { return nil }

func (s *terminalSurface) Complete(f Frame) error {
	return s.display.print(s.title, f.Markdown)
}

func (s *terminalSurface) Dispose() {}
