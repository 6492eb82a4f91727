// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watcher polls the planning service until a plan step settles.
package watcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/tradeplan/internal/plan"
	"github.com/jeranaias/tradeplan/internal/planning"
	"github.com/jeranaias/tradeplan/internal/retry"
)

// errPending marks a poll where the step has not settled yet.
var errPending = errors.New("step still pending")

// CancelChecker reports whether the user cancelled a plan.
type CancelChecker interface {
	IsCancelled(planID string) bool
}

// PolicyFunc returns the polling policy for a chain.
type PolicyFunc func(chainID uint64) retry.Policy

// Result is the plan state observed when the watched step settled.
type Result struct {
	Steps    []plan.PlanStep
	Response *plan.PlanResponse
	Step     plan.PlanStep
}

// Watcher polls one step at a time.
type Watcher struct {
	service   planning.Service
	cancelled CancelChecker
	policy    PolicyFunc
}

// New creates a step watcher.
func New(service planning.Service, cancelled CancelChecker, policy PolicyFunc) *Watcher {
	return &Watcher{service: service, cancelled: cancelled, policy: policy}
}

// Watch polls planID until the step at stepIndex reaches complete or
// step-error, and returns the plan state at that moment. A step-error is
// returned as a normal Result; callers decide how to treat it.
//
// Cancellation is checked before every poll. A cancelled plan ends the watch
// with a HandledTransactionInterrupt.
func (w *Watcher) Watch(ctx context.Context, planID string, stepIndex int, chainID uint64) (*Result, error) {
	var result *Result

	err := retry.Do(ctx, w.policy(chainID), func(ctx context.Context, attempt int) error {
		if w.cancelled != nil && w.cancelled.IsCancelled(planID) {
			return retry.Permanent(plan.HandledInterrupt(planID, stepIndex, "cancelled while waiting for step", plan.ErrCancelled))
		}

		resp, err := w.service.PollPlan(ctx, planID)
		if err != nil {
			if !planning.IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		}

		step, ok := plan.FindStep(resp.Steps, stepIndex)
		if !ok {
			return retry.Permanent(plan.ShouldRetry(planID, stepIndex, "step missing from polled plan", nil))
		}
		if !step.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", errPending, step.Status)
		}

		result = &Result{Steps: resp.CloneSteps(), Response: resp, Step: step}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
