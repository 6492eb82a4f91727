// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind classifies how an execution failure propagates to the caller.
type Kind int

const (
	// KindUnexpected is any error not raised deliberately by the engine
	KindUnexpected Kind = iota

	// KindExpected is a benign planning outcome; the caller treats it as success
	KindExpected

	// KindAbort is terminal; no retry is offered
	KindAbort

	// KindShouldRetry lets the caller restart plan initialization from scratch
	KindShouldRetry

	// KindPriceChange halts execution because the plan's economics moved
	KindPriceChange

	// KindHandledInterrupt covers user cancellation and step-level failures
	KindHandledInterrupt
)

// String returns the log representation of a kind.
func (k Kind) String() string {
	switch k {
	case KindExpected:
		return "expected"
	case KindAbort:
		return "abort"
	case KindShouldRetry:
		return "should_retry"
	case KindPriceChange:
		return "price_change"
	case KindHandledInterrupt:
		return "handled_interrupt"
	default:
		return "unexpected"
	}
}

// Retryable reports whether the caller may offer a retry for this kind.
func (k Kind) Retryable() bool {
	return k != KindAbort && k != KindExpected
}

// =============================================================================
// SENTINELS
// =============================================================================

var (
	// ErrPlanLocked indicates another executor already holds the plan.
	ErrPlanLocked = errors.New("plan is already executing")

	// ErrNoProof indicates a step handler returned neither hash nor signature.
	ErrNoProof = errors.New("step handler returned neither hash nor signature")

	// ErrNoActionableStep indicates a refreshed plan has nothing left to act on.
	ErrNoActionableStep = errors.New("no actionable step in refreshed plan")

	// ErrUnknownStepType indicates the planning service sent a step type this
	// engine has no handler for.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrCancelled indicates the user cancelled the plan.
	ErrCancelled = errors.New("plan cancelled")

	// ErrStepFailed indicates a step settled in the step-error state.
	ErrStepFailed = errors.New("step failed")

	// ErrPriceChanged indicates the refreshed trade needs re-acceptance.
	ErrPriceChanged = errors.New("price changed beyond accepted threshold")
)

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is an execution failure tagged with its propagation kind.
type Error struct {
	Kind      Kind
	PlanID    string
	StepIndex int // -1 when the failure is not tied to a step
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	prefix := e.Kind.String()
	if e.PlanID != "" {
		prefix = fmt.Sprintf("%s plan %s", prefix, e.PlanID)
	}
	if e.StepIndex >= 0 {
		prefix = fmt.Sprintf("%s step %d", prefix, e.StepIndex)
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, planID string, step int, msg string, err error) *Error {
	return &Error{Kind: kind, PlanID: planID, StepIndex: step, Msg: msg, Err: err}
}

// Expected builds an ExpectedPlanError.
func Expected(planID, msg string, err error) *Error {
	return newError(KindExpected, planID, -1, msg, err)
}

// Abort builds an AbortPlanError.
func Abort(planID string, step int, msg string, err error) *Error {
	return newError(KindAbort, planID, step, msg, err)
}

// ShouldRetry builds a ShouldRetryPlanError.
func ShouldRetry(planID string, step int, msg string, err error) *Error {
	return newError(KindShouldRetry, planID, step, msg, err)
}

// PriceChange builds a PlanPriceChangeInterrupt.
func PriceChange(planID string, step int) *Error {
	return newError(KindPriceChange, planID, step, "", ErrPriceChanged)
}

// HandledInterrupt builds a HandledTransactionInterrupt.
func HandledInterrupt(planID string, step int, msg string, err error) *Error {
	return newError(KindHandledInterrupt, planID, step, msg, err)
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnexpected when there is none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnexpected
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
