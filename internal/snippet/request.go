// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package snippet

import (
	"errors"
	"fmt"
	"strings"
)

// CodeRequest is one snippet captured from the editor. Lines are 1-based.
type CodeRequest struct {
	LanguageID   string `json:"language_id"`
	Text         string `json:"text"`
	DocumentName string `json:"document_name"`
	LineStart    int    `json:"line_start"`
	LineEnd      int    `json:"line_end"`
}

// IsEmpty reports whether the request carries no code.
func (r CodeRequest) IsEmpty() bool {
	return r.Text == ""
}

// Title returns "name#L3" for a single line and "name#L3-L9" for a range.
func (r CodeRequest) Title() string {
	if r.LineStart == r.LineEnd {
		return fmt.Sprintf("%s#L%d", r.DocumentName, r.LineStart)
	}
	return fmt.Sprintf("%s#L%d-L%d", r.DocumentName, r.LineStart, r.LineEnd)
}

// Describe returns the human readable heading shown above an explanation.
func (r CodeRequest) Describe() string {
	return fmt.Sprintf("Explain highlighted %s code for %s", r.LanguageID, r.Title())
}

// WrapCode wraps text in a fenced code block tagged with languageID.
func WrapCode(languageID, text string) string {
	fence := "```"
	// A snippet that itself contains a fence needs a longer one.
	for strings.Contains(text, fence) {
		fence += "`"
	}
	return fence + languageID + "\n" + text + "\n" + fence + "\n"
}

// ErrNoContent is returned when there is no supported code to explain.
var ErrNoContent = errors.New("no code selected or current file is not supported")

// Normalize canonicalizes the language id and beautifies the text of a
// request that arrived from outside an editor session. Unsupported languages
// and blank text yield the empty request.
func (r CodeRequest) Normalize() CodeRequest {
	lang := NormalizeLanguage(r.LanguageID)
	if !IsSupported(lang) {
		return CodeRequest{}
	}
	text := Beautify(r.Text)
	if text == "" {
		return CodeRequest{}
	}

	out := r
	out.LanguageID = lang
	out.Text = text
	if out.LineStart <= 0 {
		out.LineStart = 1
	}
	if out.LineEnd < out.LineStart {
		out.LineEnd = out.LineStart + strings.Count(text, "\n")
	}
	if out.DocumentName == "" {
		out.DocumentName = "untitled"
	}
	return out
}
