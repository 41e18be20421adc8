// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package snippet

import (
	"strings"
	"unicode"
)

// Beautify normalizes a snippet: trailing whitespace is stripped from every
// line, whitespace-only lines become empty, the indentation shared by all
// non-blank lines is removed and trailing blank lines are dropped.
func Beautify(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	minIndent := -1
	for i, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		lines[i] = line
		if line == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		if minIndent < 0 || indent < minIndent {
			minIndent = indent
		}
	}

	if minIndent > 0 {
		for i, line := range lines {
			if line != "" {
				lines[i] = line[minIndent:]
			}
		}
	}

	return strings.TrimRightFunc(strings.Join(lines, "\n"), unicode.IsSpace)
}
