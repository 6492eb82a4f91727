// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package planningtest provides an in-memory planning service for tests.
package planningtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/jeranaias/tradeplan/internal/plan"
	"github.com/jeranaias/tradeplan/internal/planning"
)

// NewPlan builds an active plan response whose first step awaits action and
// whose remaining steps are not ready. All steps run on chainID.
func NewPlan(planID, expectedOutput string, chainID uint64, types ...plan.StepType) *plan.PlanResponse {
	steps := make([]plan.PlanStep, len(types))
	for i, t := range types {
		status := plan.StepNotReady
		if i == 0 {
			status = plan.StepAwaitingAction
		}
		steps[i] = plan.PlanStep{Index: i, Type: t, Status: status, ChainID: chainID}
	}
	return &plan.PlanResponse{
		PlanID:         planID,
		Steps:          steps,
		ExpectedOutput: expectedOutput,
		Status:         plan.StatusActive,
	}
}

// SubmittedProof records one SubmitStepProof call.
type SubmittedProof struct {
	PlanID    string
	StepIndex int
	Proof     plan.Proof
}

// Sim is a scripted planning service. Accepted proofs complete their step
// and make the next step actionable; polls return the current state.
type Sim struct {
	mu sync.Mutex

	plans map[string]*plan.PlanResponse
	next  *plan.PlanResponse

	// CreateErr is returned by CreateOrResumePlan when set
	CreateErr error

	// SubmitErr, when set, is consulted before accepting each proof
	SubmitErr func(planID string, stepIndex, attempt int) error

	// PollErr, when set, is consulted before each poll
	PollErr func(planID string, attempt int) error

	// FailSteps settle with step_error instead of complete
	FailSteps map[int]bool

	// OutputAfterStep replaces the plan's expected output once a step settles
	OutputAfterStep map[int]string

	// PendingPolls is how many polls report a submitted step as still
	// pending before it settles
	PendingPolls int

	// OnPoll is called after each poll with the attempt number
	OnPoll func(planID string, attempt int)

	creates  int
	polls    int
	submits  map[int]int
	proofs   []SubmittedProof
	settling map[stepKey]int
}

type stepKey struct {
	planID    string
	stepIndex int
}

var _ planning.Service = (*Sim)(nil)

// NewSim creates a simulator that hands out next on CreateOrResumePlan.
func NewSim(next *plan.PlanResponse) *Sim {
	return &Sim{
		plans:    make(map[string]*plan.PlanResponse),
		next:     next,
		submits:  make(map[int]int),
		settling: make(map[stepKey]int),
	}
}

// SetNext replaces the plan handed out by the next CreateOrResumePlan.
func (s *Sim) SetNext(next *plan.PlanResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = next
}

// Put stores a plan so it can be polled directly.
func (s *Sim) Put(resp *plan.PlanResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[resp.PlanID] = clone(resp)
}

// CreateOrResumePlan implements planning.Service.
func (s *Sim) CreateOrResumePlan(ctx context.Context, tc plan.TradeContext) (*plan.PlanResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creates++
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	if s.next == nil {
		return nil, fmt.Errorf("no plan scripted")
	}
	if existing, ok := s.plans[s.next.PlanID]; ok {
		out := clone(existing)
		out.Resumed = true
		return out, nil
	}
	s.plans[s.next.PlanID] = clone(s.next)
	return clone(s.next), nil
}

// SubmitStepProof implements planning.Service.
func (s *Sim) SubmitStepProof(ctx context.Context, planID string, stepIndex int, proof plan.Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submits[stepIndex]++
	if s.SubmitErr != nil {
		if err := s.SubmitErr(planID, stepIndex, s.submits[stepIndex]); err != nil {
			return err
		}
	}

	p, ok := s.plans[planID]
	if !ok {
		return &planning.APIError{Status: 404, Code: "PLAN_NOT_FOUND", Message: planID}
	}
	s.proofs = append(s.proofs, SubmittedProof{PlanID: planID, StepIndex: stepIndex, Proof: proof})
	if s.PendingPolls > 0 {
		s.settling[stepKey{planID, stepIndex}] = s.PendingPolls
	} else {
		s.settle(p, stepIndex)
	}
	return nil
}

// PollPlan implements planning.Service.
func (s *Sim) PollPlan(ctx context.Context, planID string) (*plan.PlanResponse, error) {
	s.mu.Lock()
	s.polls++
	attempt := s.polls
	onPoll := s.OnPoll

	var err error
	if s.PollErr != nil {
		err = s.PollErr(planID, attempt)
	}

	var out *plan.PlanResponse
	if err == nil {
		p, ok := s.plans[planID]
		if !ok {
			err = &planning.APIError{Status: 404, Code: "PLAN_NOT_FOUND", Message: planID}
		} else {
			for k, left := range s.settling {
				if k.planID != planID {
					continue
				}
				if left <= 0 {
					s.settle(p, k.stepIndex)
					delete(s.settling, k)
					continue
				}
				s.settling[k] = left - 1
			}
			out = clone(p)
		}
	}
	s.mu.Unlock()

	if onPoll != nil {
		onPoll(planID, attempt)
	}
	return out, err
}

// settle completes (or fails) a step and promotes the next one. Caller must
// hold mu.
func (s *Sim) settle(p *plan.PlanResponse, stepIndex int) {
	for i := range p.Steps {
		if p.Steps[i].Index != stepIndex {
			continue
		}
		if s.FailSteps[stepIndex] {
			p.Steps[i].Status = plan.StepError
			p.Status = plan.StatusFailed
			return
		}
		p.Steps[i].Status = plan.StepComplete
		if i+1 < len(p.Steps) {
			p.Steps[i+1].Status = plan.StepAwaitingAction
			p.CurrentStepIndex = i + 1
		} else {
			p.Status = plan.StatusCompleted
		}
	}
	if out, ok := s.OutputAfterStep[stepIndex]; ok {
		p.ExpectedOutput = out
	}
}

// Creates returns the number of CreateOrResumePlan calls.
func (s *Sim) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// Polls returns the number of PollPlan calls.
func (s *Sim) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// Submits returns the number of SubmitStepProof calls for a step.
func (s *Sim) Submits(stepIndex int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits[stepIndex]
}

// Proofs returns the accepted proofs in order.
func (s *Sim) Proofs() []SubmittedProof {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SubmittedProof(nil), s.proofs...)
}

// Plan returns a copy of the stored plan.
func (s *Sim) Plan(planID string) (*plan.PlanResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return nil, false
	}
	return clone(p), true
}

func clone(p *plan.PlanResponse) *plan.PlanResponse {
	out := *p
	out.Steps = p.CloneSteps()
	return &out
}
