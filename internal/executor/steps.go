// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/tradeplan/internal/logging"
	"github.com/jeranaias/tradeplan/internal/plan"
	"github.com/jeranaias/tradeplan/internal/planning"
	"github.com/jeranaias/tradeplan/internal/retry"
)

// ensureChain switches the wallet to the step's chain when it differs from
// the active one, then waits for the switch to propagate.
func (e *Executor) ensureChain(ctx context.Context, planID string, step plan.PlanStep) error {
	if e.chains == nil || step.ChainID == 0 {
		return nil
	}
	if e.chains.ActiveChain() == step.ChainID {
		return nil
	}

	e.logger.Debug("switching chain",
		logging.KeyPlanID, planID,
		logging.KeyStepIndex, step.Index,
		logging.KeyChainID, step.ChainID)

	ok, err := e.chains.SwitchTo(ctx, step.ChainID)
	if err != nil {
		return fmt.Errorf("switch to chain %d: %w", step.ChainID, err)
	}
	if !ok {
		return plan.ShouldRetry(planID, step.Index, fmt.Sprintf("chain switch to %d did not complete", step.ChainID), nil)
	}
	return retry.Sleep(ctx, e.cfg.ChainSwitchDelay())
}

// runStep dispatches a step to its handler and validates the proof.
func (e *Executor) runStep(ctx context.Context, a *attempt, planID, address string, step plan.PlanStep) (plan.Proof, error) {
	handler, err := e.handlers.For(step.Type)
	if err != nil {
		if errors.Is(err, plan.ErrUnknownStepType) {
			return plan.Proof{}, plan.ShouldRetry(planID, step.Index, "", err)
		}
		return plan.Proof{}, plan.Abort(planID, step.Index, "", err)
	}

	req := StepRequest{
		Address: address,
		Step:    step,
		OnProgress: func(stage string) {
			a.watchdog.touch(step.Index)
			e.logger.Debug("step progress",
				logging.KeyPlanID, planID,
				logging.KeyStepIndex, step.Index,
				"stage", stage)
		},
	}

	proof, err := handler.Handle(ctx, req)
	if err != nil {
		return plan.Proof{}, fmt.Errorf("step %d (%s): %w", step.Index, step.Type, err)
	}
	if proof.IsEmpty() {
		return plan.Proof{}, plan.Abort(planID, step.Index, "", plan.ErrNoProof)
	}
	return proof, nil
}

// submitProof hands the step's proof to the planning service, retrying on
// the chain's proof policy. Exhausting the policy is a ShouldRetryPlanError.
func (e *Executor) submitProof(ctx context.Context, planID string, step plan.PlanStep, proof plan.Proof) error {
	policy := e.cfg.ProofPolicy(step.ChainID)

	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		err := e.service.SubmitStepProof(ctx, planID, step.Index, proof)
		if err == nil {
			return nil
		}
		if !planning.IsRetryable(err) {
			return retry.Permanent(err)
		}
		e.logger.Debug("proof not accepted yet",
			logging.KeyPlanID, planID,
			logging.KeyStepIndex, step.Index,
			"attempt", attempt,
			"error", err)
		return err
	})
	if err == nil {
		return nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return plan.ShouldRetry(planID, step.Index, "proof submission failed", err)
	}
	return fmt.Errorf("submit proof for step %d: %w", step.Index, err)
}
