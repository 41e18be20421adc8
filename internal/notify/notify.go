// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify delivers short user-facing notices.
package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
)

// Notifier shows info and error notices to the user.
type Notifier interface {
	Info(msg string)
	Error(msg string)
}

// =============================================================================
// TERMINAL
// =============================================================================

var (
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#0969DA", Dark: "#58A6FF"}).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#FF7B72"}).
			Bold(true)

	messageStyle = lipgloss.NewStyle()
)

// Terminal writes styled notices to a terminal stream.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
	// plain disables styling (pipes, NO_COLOR).
	plain bool
}

// NewTerminal creates a terminal notifier. With plain set, no ANSI styling
// is emitted.
func NewTerminal(out io.Writer, plain bool) *Terminal {
	return &Terminal{out: out, plain: plain}
}

// Info implements Notifier.
func (t *Terminal) Info(msg string) {
	t.write(infoStyle, "info", msg)
}

// Error implements Notifier.
func (t *Terminal) Error(msg string) {
	t.write(errorStyle, "error", msg)
}

func (t *Terminal) write(label lipgloss.Style, tag, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.plain {
		fmt.Fprintf(t.out, "%s: %s\n", tag, msg)
		return
	}
	fmt.Fprintf(t.out, "%s %s\n", label.Render(tag+":"), messageStyle.Render(msg))
}

// =============================================================================
// LOG
// =============================================================================

// Log records notices in the structured log. Used by the headless server.
type Log struct {
	log zerolog.Logger
}

// NewLog creates a log-backed notifier.
func NewLog(l zerolog.Logger) *Log {
	return &Log{log: l}
}

// Info implements Notifier.
func (l *Log) Info(msg string) {
	l.log.Info().Str("notice", "info").Msg(msg)
}

// Error implements Notifier.
func (l *Log) Error(msg string) {
	l.log.Error().Str("notice", "error").Msg(msg)
}

// =============================================================================
// FAN-OUT
// =============================================================================

// Multi sends each notice to every notifier.
type Multi []Notifier

// Info implements Notifier.
func (m Multi) Info(msg string) {
	for _, n := range m {
		n.Info(msg)
	}
}

// Error implements Notifier.
func (m Multi) Error(msg string) {
	for _, n := range m {
		n.Error(msg)
	}
}

// Discard drops all notices.
type Discard struct{}

// Info implements Notifier.
func (Discard) Info(string) {}

// Error implements Notifier.
func (Discard) Error(string) {}
