// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/tradeplan/internal/plan"
)

// ErrNoHandler indicates a known step type has no handler configured.
var ErrNoHandler = errors.New("no handler configured for step type")

// =============================================================================
// STEP HANDLERS
// =============================================================================

// StepRequest is the input to a step handler.
type StepRequest struct {
	// Address is the wallet executing the step
	Address string

	// Step is the step snapshot to execute
	Step plan.PlanStep

	// OnProgress reports handler milestones (e.g. "signing", "broadcast").
	// It is never nil.
	OnProgress func(stage string)
}

// StepHandler executes one step type and returns its proof: a transaction
// hash, a signature, or both. Returned errors are shown to the user.
type StepHandler interface {
	Handle(ctx context.Context, req StepRequest) (plan.Proof, error)
}

// HandlerFunc adapts a function to StepHandler.
type HandlerFunc func(ctx context.Context, req StepRequest) (plan.Proof, error)

// Handle implements StepHandler.
func (f HandlerFunc) Handle(ctx context.Context, req StepRequest) (plan.Proof, error) {
	return f(ctx, req)
}

// Handlers holds one handler per step-type family.
type Handlers struct {
	// Approval handles both token approvals and revocations
	Approval            StepHandler
	PermitSignature     StepHandler
	PermitTransaction   StepHandler
	Swap                StepHandler
	BatchedSwap         StepHandler
	CrossChainSignature StepHandler
}

// For returns the handler for a step type. Unknown types yield an error
// wrapping plan.ErrUnknownStepType.
func (h Handlers) For(t plan.StepType) (StepHandler, error) {
	var handler StepHandler
	switch t {
	case plan.StepTypeApproval, plan.StepTypeRevocation:
		handler = h.Approval
	case plan.StepTypePermitSignature:
		handler = h.PermitSignature
	case plan.StepTypePermitTransaction:
		handler = h.PermitTransaction
	case plan.StepTypeSwap:
		handler = h.Swap
	case plan.StepTypeBatchedSwap:
		handler = h.BatchedSwap
	case plan.StepTypeCrossChainSignature:
		handler = h.CrossChainSignature
	case plan.StepTypeUnknown:
		return nil, plan.ErrUnknownStepType
	default:
		return nil, fmt.Errorf("%w: %s", plan.ErrUnknownStepType, t)
	}

	if handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, t)
	}
	return handler, nil
}

// =============================================================================
// CHAIN SWITCHING
// =============================================================================

// ChainSwitcher moves the wallet to the chain a step runs on.
type ChainSwitcher interface {
	// ActiveChain returns the wallet's current chain ID
	ActiveChain() uint64

	// SwitchTo requests a switch and reports whether it happened
	SwitchTo(ctx context.Context, chainID uint64) (bool, error)
}

// =============================================================================
// CALLER
// =============================================================================

// Caller receives the user-facing callbacks of an execution.
type Caller interface {
	// OnSuccess is called once when the trade succeeded or needed no action
	OnSuccess()

	// OnFailure is called once with a displayable error. retry is nil when
	// no retry should be offered.
	OnFailure(err error, retry func())

	// SetSteps publishes the latest step snapshot
	SetSteps(steps []plan.PlanStep)

	// SetCurrentStep publishes the step being executed; accepted is true
	// once its proof has been accepted by the planning service
	SetCurrentStep(step plan.PlanStep, accepted bool)
}

// Callbacks implements Caller with optional function fields.
type Callbacks struct {
	Success     func()
	Failure     func(err error, retry func())
	Steps       func(steps []plan.PlanStep)
	CurrentStep func(step plan.PlanStep, accepted bool)
}

// OnSuccess implements Caller.
func (c Callbacks) OnSuccess() {
	if c.Success != nil {
		c.Success()
	}
}

// OnFailure implements Caller.
func (c Callbacks) OnFailure(err error, retry func()) {
	if c.Failure != nil {
		c.Failure(err, retry)
	}
}

// SetSteps implements Caller.
func (c Callbacks) SetSteps(steps []plan.PlanStep) {
	if c.Steps != nil {
		c.Steps(steps)
	}
}

// SetCurrentStep implements Caller.
func (c Callbacks) SetCurrentStep(step plan.PlanStep, accepted bool) {
	if c.CurrentStep != nil {
		c.CurrentStep(step, accepted)
	}
}
