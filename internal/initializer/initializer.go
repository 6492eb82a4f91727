// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package initializer creates a new plan for a trade or resumes the one
// already in flight.
package initializer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jeranaias/tradeplan/internal/logging"
	"github.com/jeranaias/tradeplan/internal/plan"
	"github.com/jeranaias/tradeplan/internal/planning"
)

// Registry is the part of the execution registry the initializer uses.
type Registry interface {
	Active(tradeKey string) (string, bool)
	SetActive(tradeKey, planID string)
	ClearActive(tradeKey string)
	SetSteps(planID string, steps []plan.PlanStep)
}

// Result is an initialized plan and the cursor execution starts from.
type Result struct {
	PlanID           string
	Steps            []plan.PlanStep
	CurrentStepIndex int
	CurrentStep      plan.PlanStep

	// Response is the plan as last returned by the planning service.
	// Resumed plans are not price-checked at initialization unless the
	// caller asks for it.
	Response *plan.PlanResponse

	WasResumed   bool
	InputChainID uint64
}

// Plan returns the result as the executor's working plan.
func (r *Result) Plan() *plan.Plan {
	p := &plan.Plan{
		ID:               r.PlanID,
		Steps:            plan.CloneSteps(r.Steps),
		CurrentStepIndex: r.CurrentStepIndex,
		Status:           plan.StatusActive,
	}
	if r.Response != nil {
		p.ExpectedOutput = r.Response.ExpectedOutput
		p.Status = r.Response.Status
	}
	return p
}

// Initializer creates or resumes plans.
type Initializer struct {
	service  planning.Service
	registry Registry
	logger   *slog.Logger
}

// New creates an initializer.
func New(service planning.Service, registry Registry, logger *slog.Logger) *Initializer {
	return &Initializer{
		service:  service,
		registry: registry,
		logger:   logging.OrDiscard(logger),
	}
}

// Initialize returns the plan to execute for tc.
//
// A plan registered as active for tc.Key that is still in flight is resumed
// from its live state. Otherwise the planning service is asked to create one;
// the service may itself report that it resumed an existing plan.
//
// Recoverable planning errors come back as an ExpectedPlanError. Any other
// failure is returned as is.
func (in *Initializer) Initialize(ctx context.Context, tc plan.TradeContext) (*Result, error) {
	if res, ok := in.resume(ctx, tc); ok {
		return res, nil
	}

	resp, err := in.service.CreateOrResumePlan(ctx, tc)
	if err != nil {
		if planning.IsRecoverable(err) {
			return nil, plan.Expected("", "nothing to execute", err)
		}
		return nil, fmt.Errorf("create plan: %w", err)
	}
	if resp == nil || resp.PlanID == "" {
		return nil, errors.New("create plan: planning service returned no plan")
	}

	return in.build(tc, resp, resp.Resumed)
}

// resume looks for an in-flight plan registered for the trade. A plan that
// can no longer be polled or has reached a terminal status is dropped.
func (in *Initializer) resume(ctx context.Context, tc plan.TradeContext) (*Result, bool) {
	planID, ok := in.registry.Active(tc.Key)
	if !ok {
		return nil, false
	}

	resp, err := in.service.PollPlan(ctx, planID)
	if err != nil {
		in.logger.Warn("active plan could not be resumed", logging.KeyPlanID, planID, "error", err)
		in.registry.ClearActive(tc.Key)
		return nil, false
	}
	if resp.Status.IsTerminal() {
		in.logger.Debug("active plan already finished", logging.KeyPlanID, planID, "status", resp.Status)
		in.registry.ClearActive(tc.Key)
		return nil, false
	}

	res, err := in.build(tc, resp, true)
	if err != nil {
		in.logger.Warn("active plan has nothing to resume", logging.KeyPlanID, planID, "error", err)
		in.registry.ClearActive(tc.Key)
		return nil, false
	}
	return res, true
}

func (in *Initializer) build(tc plan.TradeContext, resp *plan.PlanResponse, resumed bool) (*Result, error) {
	if len(resp.Steps) == 0 || resp.Status == plan.StatusCompleted {
		return nil, plan.Expected(resp.PlanID, "plan has no steps left", nil)
	}

	cursor := plan.NextActionableIndex(resp.Steps)
	if cursor < 0 {
		return nil, plan.ShouldRetry(resp.PlanID, -1, "", plan.ErrNoActionableStep)
	}

	steps := resp.CloneSteps()
	chainID := tc.Accepted.InputChainID
	if chainID == 0 {
		chainID = steps[0].ChainID
	}

	in.registry.SetActive(tc.Key, resp.PlanID)
	in.registry.SetSteps(resp.PlanID, steps)

	return &Result{
		PlanID:           resp.PlanID,
		Steps:            steps,
		CurrentStepIndex: cursor,
		CurrentStep:      steps[cursor],
		Response:         resp,
		WasResumed:       resumed,
		InputChainID:     chainID,
	}, nil
}
