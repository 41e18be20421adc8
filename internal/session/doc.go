// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one explanation from start to finish.
//
// A Session owns the selector, the explanation client, the renderer and the
// credential manager. Each call to Start gets its own render target, so
// several explanations can stream at once:
//
//	s := session.New(client, renderer, creds,
//	    session.WithSelector(sel),
//	    session.WithNotifier(notifier),
//	)
//	if err := s.Explain(ctx); err != nil {
//	    // already reported through the notifier
//	}
//
// Failures are reported to the user through notify.Notifier. An invalid
// credential is cleared so the next run prompts again.
package session
