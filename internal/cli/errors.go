// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/tradeplan/internal/config"
	"github.com/jeranaias/tradeplan/internal/planning"
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
	// ExitNetworkError indicates the planning service could not be reached
	ExitNetworkError = 5
	// ExitNotFoundError indicates a plan or file was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
)

// CommandError is a CLI failure carrying its exit code.
type CommandError struct {
	Code   int
	Action string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Action == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func usageError(format string, args ...any) error {
	return &CommandError{Code: ExitUsageError, Err: fmt.Errorf(format, args...)}
}

func configError(action string, err error) error {
	return &CommandError{Code: ExitConfigError, Action: action, Err: err}
}

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code
	}

	var verrs config.ValidateErrors
	if errors.As(err, &verrs) {
		return ExitConfigError
	}

	var apiErr *planning.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == 404 {
			return ExitNotFoundError
		}
		return ExitNetworkError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeoutError
	}
	return ExitGeneralError
}
