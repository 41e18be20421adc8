// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns streamed markdown into HTML and delivers it to
// render targets.
//
// Each explanation gets its own target, addressed by an opaque Handle.
// Updates carry the full cumulative markdown, so every update fully replaces
// what the surface shows. Targets never share state; concurrent explanations
// do not interfere with each other.
//
// Surfaces are supplied by a Display. The panel package provides a browser
// display; TerminalDisplay prints the final result with glamour.
package render
