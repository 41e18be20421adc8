// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package explain

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// =============================================================================
// STREAM EVENTS
// =============================================================================

// EventKind tags a decoded stream payload.
type EventKind int

const (
	// EventDelta carries a fragment of generated text.
	EventDelta EventKind = iota
	// EventDone marks the end of the stream ("[DONE]").
	EventDone
	// EventMalformed is a payload that could not be decoded.
	EventMalformed
	// EventError is an error object sent inside the stream.
	EventError
)

// String returns the kind name for logs.
func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventDone:
		return "done"
	case EventMalformed:
		return "malformed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one decoded "data:" payload.
type Event struct {
	Kind EventKind
	// Text is set for EventDelta.
	Text string
	// Raw is set for EventMalformed.
	Raw []byte
	// Err is set for EventMalformed and EventError.
	Err error
}

// doneMarker terminates an SSE completion stream.
const doneMarker = "[DONE]"

// streamChunk is the wire shape of one streamed completion chunk.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Completion string          `json:"completion"`
	Error      json.RawMessage `json:"error"`
}

func (c *streamChunk) text() string {
	if len(c.Choices) > 0 {
		if c.Choices[0].Delta.Content != "" {
			return c.Choices[0].Delta.Content
		}
		return c.Choices[0].Text
	}
	return c.Completion
}

// DecodeEvent decodes a single "data:" payload.
func DecodeEvent(data []byte) Event {
	data = bytes.TrimSpace(data)
	if string(data) == doneMarker {
		return Event{Kind: EventDone}
	}

	var chunk streamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return Event{Kind: EventMalformed, Raw: append([]byte(nil), data...), Err: err}
	}

	if len(chunk.Error) > 0 && string(chunk.Error) != "null" {
		if code, message, ok := parseError(data); ok {
			return Event{Kind: EventError, Err: &APIError{Status: 200, Code: code, Message: message}}
		}
	}

	return Event{Kind: EventDelta, Text: chunk.text()}
}

// =============================================================================
// ACCUMULATOR
// =============================================================================

// Accumulator collects delta text. It only ever grows.
type Accumulator struct {
	sb strings.Builder
}

// Append adds a fragment and returns the full text so far.
func (a *Accumulator) Append(fragment string) string {
	a.sb.WriteString(fragment)
	return a.sb.String()
}

// String returns the full text so far.
func (a *Accumulator) String() string {
	return a.sb.String()
}

// Len returns the number of bytes accumulated.
func (a *Accumulator) Len() int {
	return a.sb.Len()
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader yields the payload of each "data:" line of a Server-Sent Events
// stream. Other fields (event:, id:, retry:) and comments are ignored.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// Next returns the next data payload. It returns io.EOF when the stream ends.
func (s *SSEReader) Next() ([]byte, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read stream: %w", err)
		}
		eof := errors.Is(err, io.EOF)

		line = bytes.TrimRight(line, "\r\n")
		if data, ok := dataField(line); ok {
			return data, nil
		}
		if eof {
			return nil, io.EOF
		}
	}
}

// dataField extracts the value of a "data:" line.
func dataField(line []byte) ([]byte, bool) {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	data := line[len("data:"):]
	// A single leading space is part of the field separator.
	data = bytes.TrimPrefix(data, []byte(" "))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false
	}
	return data, true
}
