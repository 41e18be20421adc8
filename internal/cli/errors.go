// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jeranaias/codeexplain/internal/config"
	"github.com/jeranaias/codeexplain/internal/credential"
	"github.com/jeranaias/codeexplain/internal/explain"
	"github.com/jeranaias/codeexplain/internal/snippet"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates a missing or rejected API key
	ExitAuthError = 4
	// ExitNetworkError indicates the endpoint failed or was unreachable
	ExitNetworkError = 5
	// ExitNoContent indicates nothing supported was selected
	ExitNoContent = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "key", "serve")
	Action  string // Action being performed (e.g., "set", "listen")
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UsageError is invalid command-line input.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string {
	return e.Reason
}

func usageErrorf(format string, args ...any) error {
	return &UsageError{Reason: fmt.Sprintf(format, args...)}
}

// ConfigError wraps failures to load or save the configuration.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// reportedError marks an error the user has already seen as a notice.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// DisplayError prints err unless it was already reported as a notice.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	var rep *reportedError
	if errors.As(err, &rep) {
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

// GetExitCode determines the exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		usageErr  *UsageError
		cfgErr    *ConfigError
		validErrs config.ValidateErrors
		apiErr    *explain.APIError
		netErr    net.Error
	)
	switch {
	case errors.As(err, &usageErr):
		return ExitUsageError
	case errors.Is(err, snippet.ErrNoContent):
		return ExitNoContent
	case errors.Is(err, credential.ErrDeclined), errors.Is(err, explain.ErrInvalidCredential):
		return ExitAuthError
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case errors.As(err, &cfgErr), errors.As(err, &validErrs):
		return ExitConfigError
	case errors.As(err, &apiErr), errors.As(err, &netErr):
		return ExitNetworkError
	}
	return ExitGeneralError
}
