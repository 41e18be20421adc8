// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli is the codeexplain command surface.
//
// # Commands
//
//   - explain: explain a selection from Neovim, a file, stdin or the clipboard
//   - serve: run the panel server that editor mappings post requests to
//   - key set|unset|status: manage the stored API key
//   - config show|get|set|path: inspect and edit ~/.codeexplain/config.toml
//   - version: print build information
//
// Errors returned from commands map onto the exit codes in errors.go.
// Failures already reported to the user through a notice are not printed a
// second time.
package cli
