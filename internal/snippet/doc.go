// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package snippet captures the code a user wants explained.
//
// A Selector asks the editor host for the active document. A non-empty
// selection is used as-is (after Beautify); otherwise the document outline is
// searched for the function the cursor sits in and that function's full range
// becomes the snippet.
//
// # Key Types
//
//   - CodeRequest: the immutable snippet sent to the explanation endpoint
//   - Selector: turns editor state into a CodeRequest
//   - SelectionProvider, SymbolLookup: capabilities supplied by an editor host
//
// # Usage
//
//	sel := snippet.NewSelector(provider, provider)
//	req, err := sel.Select(ctx)
//	if err != nil {
//	    return err
//	}
//	if req.IsEmpty() {
//	    // nothing to explain
//	}
package snippet
