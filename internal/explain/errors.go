// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package explain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error variables for explanation requests.
var (
	// ErrInvalidCredential indicates the endpoint rejected the credential.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrEmptyRequest indicates an explain call without code.
	ErrEmptyRequest = errors.New("empty code request")
)

// invalidCredentialCodes are error codes that mean the credential is bad
// regardless of the HTTP status the endpoint chose.
var invalidCredentialCodes = map[string]bool{
	"invalid_api_key": true,
	"invalid_token":   true,
}

// APIError is an error reported by the explanation endpoint.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("explain endpoint error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("explain endpoint error (HTTP %d): %s", e.Status, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidCredential) match rejected credentials.
func (e *APIError) Unwrap() error {
	if e.InvalidCredential() {
		return ErrInvalidCredential
	}
	return nil
}

// InvalidCredential reports whether the endpoint rejected the credential.
func (e *APIError) InvalidCredential() bool {
	return e.Status == http.StatusUnauthorized || invalidCredentialCodes[e.Code]
}

// StreamError is a failure after streaming started. Partial holds the text
// accumulated before the failure.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// errorBody covers the error shapes seen in the wild:
// {"error": {"code": "...", "message": "..."}}, {"error": "..."} and
// {"message": "..."}.
type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

type errorObject struct {
	Code    any    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// parseError extracts code and message from an error body. ok is false when
// body carries no recognizable error.
func parseError(body []byte) (code, message string, ok bool) {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return "", "", false
	}

	code, message = eb.Code, eb.Message
	if len(eb.Error) > 0 && string(eb.Error) != "null" {
		var obj errorObject
		var str string
		switch {
		case json.Unmarshal(eb.Error, &obj) == nil:
			if obj.Message != "" {
				message = obj.Message
			}
			if c := codeString(obj.Code); c != "" {
				code = c
			} else if obj.Type != "" && code == "" {
				code = obj.Type
			}
		case json.Unmarshal(eb.Error, &str) == nil:
			message = str
		}
	}

	return code, message, code != "" || message != ""
}

// codeString normalizes numeric or string error codes.
func codeString(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case float64:
		return fmt.Sprintf("%d", int(c))
	default:
		return ""
	}
}

// handleErrorResponse converts a non-2xx response into an *APIError.
func handleErrorResponse(statusCode int, body []byte) error {
	apiErr := &APIError{Status: statusCode}
	if code, message, ok := parseError(body); ok {
		apiErr.Code = code
		apiErr.Message = message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(statusCode)
	}
	return apiErr
}
