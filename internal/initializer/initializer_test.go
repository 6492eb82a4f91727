// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package initializer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/tradeplan/internal/plan"
	"github.com/jeranaias/tradeplan/internal/planning"
	"github.com/jeranaias/tradeplan/internal/planning/planningtest"
	"github.com/jeranaias/tradeplan/internal/registry"
)

var tc = plan.TradeContext{Key: "trade-1", Address: "0xuser"}

func TestInitialize_NewPlan(t *testing.T) {
	p := planningtest.NewPlan("p1", "1000", 10, plan.StepTypeApproval, plan.StepTypeSwap)
	sim := planningtest.NewSim(p)
	reg := registry.New()

	res, err := New(sim, reg, nil).Initialize(context.Background(), tc)
	require.NoError(t, err)

	assert.Equal(t, "p1", res.PlanID)
	assert.False(t, res.WasResumed)
	require.NotNil(t, res.Response)
	assert.Equal(t, "1000", res.Response.ExpectedOutput)
	assert.Equal(t, 0, res.CurrentStepIndex)
	assert.Equal(t, plan.StepTypeApproval, res.CurrentStep.Type)
	assert.Equal(t, uint64(10), res.InputChainID, "falls back to the first step's chain")

	active, ok := reg.Active("trade-1")
	require.True(t, ok)
	assert.Equal(t, "p1", active)
	assert.Len(t, reg.Steps("p1"), 2)
}

func TestInitialize_ServiceResumed(t *testing.T) {
	p := planningtest.NewPlan("p1", "1000", 1, plan.StepTypeSwap)
	p.Resumed = true
	sim := planningtest.NewSim(p)

	res, err := New(sim, registry.New(), nil).Initialize(context.Background(), tc)
	require.NoError(t, err)
	assert.True(t, res.WasResumed)
	require.NotNil(t, res.Response)
	assert.Equal(t, "1000", res.Response.ExpectedOutput)
}

func TestInitialize_ResumesActivePlan(t *testing.T) {
	p := planningtest.NewPlan("p1", "1000", 1, plan.StepTypeApproval, plan.StepTypeSwap)
	p.Steps[0].Status = plan.StepComplete
	p.Steps[1].Status = plan.StepAwaitingAction
	sim := planningtest.NewSim(nil)
	sim.Put(p)

	reg := registry.New()
	reg.SetActive("trade-1", "p1")

	withAccepted := tc
	withAccepted.Accepted = plan.Trade{InputChainID: 8453}

	res, err := New(sim, reg, nil).Initialize(context.Background(), withAccepted)
	require.NoError(t, err)

	assert.True(t, res.WasResumed)
	require.NotNil(t, res.Response, "live state is kept for a forced price check")
	assert.Equal(t, "1000", res.Response.ExpectedOutput)
	assert.Equal(t, 1, res.CurrentStepIndex)
	assert.Equal(t, uint64(8453), res.InputChainID)
	assert.Equal(t, 0, sim.Creates(), "resume must not create a plan")
}

func TestInitialize_TerminalActivePlanCreatesNew(t *testing.T) {
	old := planningtest.NewPlan("old", "1", 1, plan.StepTypeSwap)
	old.Status = plan.StatusFailed
	fresh := planningtest.NewPlan("new", "1", 1, plan.StepTypeSwap)
	sim := planningtest.NewSim(fresh)
	sim.Put(old)

	reg := registry.New()
	reg.SetActive("trade-1", "old")

	res, err := New(sim, reg, nil).Initialize(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, "new", res.PlanID)
	assert.False(t, res.WasResumed)

	active, _ := reg.Active("trade-1")
	assert.Equal(t, "new", active)
}

func TestInitialize_UnpollableActivePlanCreatesNew(t *testing.T) {
	fresh := planningtest.NewPlan("new", "1", 1, plan.StepTypeSwap)
	sim := planningtest.NewSim(fresh)

	reg := registry.New()
	reg.SetActive("trade-1", "gone")

	res, err := New(sim, reg, nil).Initialize(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, "new", res.PlanID)
}

func TestInitialize_RecoverableError(t *testing.T) {
	sim := planningtest.NewSim(nil)
	sim.CreateErr = &planning.APIError{Status: 422, Code: planning.CodeNothingToDo, Message: "nothing"}

	_, err := New(sim, registry.New(), nil).Initialize(context.Background(), tc)
	require.Error(t, err)
	assert.True(t, plan.IsKind(err, plan.KindExpected))
}

func TestInitialize_HardError(t *testing.T) {
	sim := planningtest.NewSim(nil)
	sim.CreateErr = errors.New("boom")

	_, err := New(sim, registry.New(), nil).Initialize(context.Background(), tc)
	require.Error(t, err)
	assert.Equal(t, plan.KindUnexpected, plan.KindOf(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestInitialize_NoActionableStep(t *testing.T) {
	p := planningtest.NewPlan("p1", "1", 1, plan.StepTypeSwap)
	p.Steps[0].Status = plan.StepNotReady
	sim := planningtest.NewSim(p)

	_, err := New(sim, registry.New(), nil).Initialize(context.Background(), tc)
	assert.True(t, plan.IsKind(err, plan.KindShouldRetry))
	assert.ErrorIs(t, err, plan.ErrNoActionableStep)
}

func TestInitialize_EmptyPlanIsExpected(t *testing.T) {
	sim := planningtest.NewSim(&plan.PlanResponse{PlanID: "p1", Status: plan.StatusActive})

	_, err := New(sim, registry.New(), nil).Initialize(context.Background(), tc)
	assert.True(t, plan.IsKind(err, plan.KindExpected))
}

func TestResult_Plan(t *testing.T) {
	r := &Result{
		PlanID:           "p",
		Steps:            []plan.PlanStep{{Index: 0}, {Index: 1}},
		CurrentStepIndex: 1,
		Response:         &plan.PlanResponse{ExpectedOutput: "5", Status: plan.StatusActive},
	}
	p := r.Plan()
	assert.Equal(t, "5", p.ExpectedOutput)
	assert.True(t, p.IsLastStep())
	assert.Equal(t, "2/2", p.Progress())

	p.Steps[0].Index = 9
	assert.Equal(t, 0, r.Steps[0].Index)
}
