// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package explain sends code snippets to a hosted completion endpoint and
// streams the explanation back.
//
// The endpoint, request format and auth header are configuration. Two body
// formats are supported: "chat" (OpenAI-style messages) and "explain"
// ({code, language_id, stream}). Streaming responses are Server-Sent Events;
// every "data:" payload is decoded once into an Event and deltas are
// accumulated so that the sink always receives the full text so far.
//
// # Key Types
//
//   - Client: one-shot HTTP client for the explanation endpoint
//   - Event: decoded stream payload (delta, done, malformed, error)
//   - Accumulator: append-only buffer of received text
//   - APIError: non-2xx response, unwraps to ErrInvalidCredential when the
//     endpoint rejected the credential
//
// # Usage
//
//	client := explain.NewClient(explain.Config{BaseURL: url, Path: "/chat/completions"})
//	text, err := client.Explain(ctx, req, apiKey, func(full string) error {
//	    return renderer.Update(handle, full)
//	})
//
// # Security
//
// Credentials are never logged; only a short SHA-256 fingerprint is.
package explain
