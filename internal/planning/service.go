// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package planning provides the planning service contract and its HTTP client.
//
// The planning service quotes and sequences trade plans. The engine only
// creates or resumes plans, submits step proofs, and polls plan state.
package planning

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jeranaias/tradeplan/internal/plan"
)

// Service is the planning service contract consumed by the engine.
type Service interface {
	// CreateOrResumePlan returns a new plan for the trade, or the service's
	// in-flight plan for it with Resumed set.
	CreateOrResumePlan(ctx context.Context, tc plan.TradeContext) (*plan.PlanResponse, error)

	// SubmitStepProof records the hash or signature produced by a step.
	SubmitStepProof(ctx context.Context, planID string, stepIndex int, proof plan.Proof) error

	// PollPlan returns the plan's live state.
	PollPlan(ctx context.Context, planID string) (*plan.PlanResponse, error)
}

// =============================================================================
// ERRORS
// =============================================================================

// Error codes the planning service uses for benign outcomes.
const (
	CodeNothingToDo      = "NOTHING_TO_DO"
	CodePlanNotNeeded    = "PLAN_NOT_NEEDED"
	CodeAlreadyCompleted = "PLAN_ALREADY_COMPLETED"

	// CodeRetryNeeded means the service could not yet verify a proof.
	CodeRetryNeeded = "RETRY_NEEDED"
)

// ErrRetryNeeded is returned by services that report verification lag
// without an HTTP status.
var ErrRetryNeeded = errors.New("planning service: retry needed")

// APIError represents an error response from the planning service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("planning error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("planning error (HTTP %d): %s", e.Status, e.Message)
}

// Recoverable reports whether the error is a benign planning outcome the
// caller should treat as "nothing to do".
func (e *APIError) Recoverable() bool {
	switch e.Code {
	case CodeNothingToDo, CodePlanNotNeeded, CodeAlreadyCompleted:
		return true
	}
	return false
}

// Retryable reports whether repeating the request may succeed.
func (e *APIError) Retryable() bool {
	if e.Code == CodeRetryNeeded {
		return true
	}
	switch e.Status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return e.Status >= 500
}

// IsRecoverable reports whether err is a benign planning outcome.
func IsRecoverable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Recoverable()
}

// IsRetryable reports whether err is worth retrying. Errors that did not
// come from the service's HTTP layer (transport failures) are retryable.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRetryNeeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
