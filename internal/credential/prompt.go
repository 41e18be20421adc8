// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credential

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// NoPrompt never asks; it always declines.
type NoPrompt struct{}

// Ask implements Prompt.
func (NoPrompt) Ask(context.Context) (string, error) {
	return "", ErrDeclined
}

// StaticPrompt answers with a fixed value. Empty declines.
type StaticPrompt string

// Ask implements Prompt.
func (p StaticPrompt) Ask(context.Context) (string, error) {
	if strings.TrimSpace(string(p)) == "" {
		return "", ErrDeclined
	}
	return string(p), nil
}

// TerminalPrompt reads a credential from the terminal without echo. When In
// is not a terminal a single line is read instead.
type TerminalPrompt struct {
	In  *os.File
	Out io.Writer
	// Message is printed before reading.
	Message string

	mu sync.Mutex
}

// NewTerminalPrompt prompts on stdin/stderr.
func NewTerminalPrompt() *TerminalPrompt {
	return &TerminalPrompt{
		In:      os.Stdin,
		Out:     os.Stderr,
		Message: "Enter API key (input hidden, empty to cancel): ",
	}
}

// Ask implements Prompt. The read is not interruptible; ctx is checked
// before prompting.
func (p *TerminalPrompt) Ask(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.Out, p.Message)

	var line string
	fd := int(p.In.Fd())
	if term.IsTerminal(fd) {
		keyBytes, err := term.ReadPassword(fd)
		fmt.Fprintln(p.Out) // newline after hidden input
		if err != nil {
			return "", fmt.Errorf("failed to read API key: %w", err)
		}
		line = string(keyBytes)
	} else {
		s, err := bufio.NewReader(p.In).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("failed to read API key: %w", err)
		}
		line = s
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return "", ErrDeclined
	}
	return line, nil
}
