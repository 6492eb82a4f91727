// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package executor runs a trade plan step by step.
//
// An execution initializes (or resumes) the plan for a trade, takes the
// plan's execution lock, and then for each step: switches chain if needed,
// dispatches the step to its handler, submits the resulting proof, and waits
// for the planning service to settle the step. The final step is handed to
// the background manager so the caller regains control while it confirms.
//
// Every exit path releases the lock, stops the stall watchdog, logs one
// record and writes one journal row.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/tradeplan/internal/background"
	"github.com/jeranaias/tradeplan/internal/config"
	"github.com/jeranaias/tradeplan/internal/initializer"
	"github.com/jeranaias/tradeplan/internal/journal"
	"github.com/jeranaias/tradeplan/internal/logging"
	"github.com/jeranaias/tradeplan/internal/plan"
	"github.com/jeranaias/tradeplan/internal/planning"
	"github.com/jeranaias/tradeplan/internal/priceguard"
	"github.com/jeranaias/tradeplan/internal/registry"
	"github.com/jeranaias/tradeplan/internal/retry"
	"github.com/jeranaias/tradeplan/internal/watcher"
)

// Phases of an execution attempt.
const (
	PhaseInit      = "init"
	PhaseExecution = "execution"
)

// Outcomes of an execution attempt.
const (
	OutcomeSucceeded   = "succeeded"
	OutcomeDuplicate   = "duplicate"
	OutcomeExpected    = "expected"
	OutcomeInterrupted = "interrupted"
	OutcomeFailed      = "failed"
)

// Registry is the execution registry as used by the executor and the
// components it builds.
type Registry interface {
	initializer.Registry
	background.Registry
	TryLock(planID string) bool
	Unlock(planID string)
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs plans. One Executor serves any number of concurrent
// executions; plans are serialized only by their own execution lock.
type Executor struct {
	cfg      *config.Config
	service  planning.Service
	handlers Handlers
	registry Registry
	chains   ChainSwitcher
	journal  journal.Recorder
	logger   *slog.Logger

	init       *initializer.Initializer
	guard      *priceguard.Guard
	watcher    *watcher.Watcher
	background *background.Manager
}

// Option configures an Executor.
type Option func(*Executor)

// WithRegistry replaces the process-wide registry.
func WithRegistry(r Registry) Option {
	return func(e *Executor) { e.registry = r }
}

// WithChainSwitcher enables chain switching before steps on another chain.
func WithChainSwitcher(c ChainSwitcher) Option {
	return func(e *Executor) { e.chains = c }
}

// WithJournal records execution attempts and trade analytics.
func WithJournal(j journal.Recorder) Option {
	return func(e *Executor) {
		if j != nil {
			e.journal = j
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = logging.OrDiscard(l) }
}

// New creates an executor. A nil cfg uses config.Default().
func New(cfg *config.Config, service planning.Service, handlers Handlers, opts ...Option) *Executor {
	if cfg == nil {
		cfg = config.Default()
	}

	e := &Executor{
		cfg:      cfg,
		service:  service,
		handlers: handlers,
		registry: registry.Default(),
		journal:  journal.Nop{},
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.init = initializer.New(service, e.registry, e.logger)
	e.guard = priceguard.New(cfg.Engine.PriceChangeThresholdBps)
	e.watcher = watcher.New(service, e.registry, cfg.PollPolicy)
	e.background = background.New(e.registry, e.watcher,
		background.WithJournal(e.journal),
		background.WithLogger(e.logger))
	return e
}

// Background returns the manager owning backgrounded final steps.
func (e *Executor) Background() *background.Manager {
	return e.background
}

// Cancel cancels a plan. An execution in progress stops before its next
// step; a backgrounded final step stops being watched.
func (e *Executor) Cancel(planID string) {
	e.background.Cancel(planID)
}

// Close stops background watchers.
func (e *Executor) Close() {
	e.background.Stop()
}

// =============================================================================
// RUN
// =============================================================================

// attempt is the bookkeeping for one Run call.
type attempt struct {
	id        string
	tradeKey  string
	planID    string
	phase     string
	stepIndex int
	started   time.Time

	locked   bool
	held     bool // lock was acquired at some point
	resumed  bool
	executed int // steps whose proof was accepted
	outcome  string
	watchdog *watchdog
}

// Run executes the plan for tc, reporting through caller. It returns once
// the final step has been handed off to the background manager or the
// execution failed.
//
// The returned error is the one given to caller.OnFailure; it is nil when
// caller.OnSuccess was called or the plan was already backgrounded.
func (e *Executor) Run(ctx context.Context, tc plan.TradeContext, caller Caller) error {
	return e.run(ctx, tc, caller, false)
}

// run is Run. recheck price-checks a resumed plan against tc.Accepted
// before its next step, which plain resumption skips.
func (e *Executor) run(ctx context.Context, tc plan.TradeContext, caller Caller, recheck bool) (err error) {
	a := &attempt{
		id:        uuid.NewString(),
		tradeKey:  tc.Key,
		phase:     PhaseInit,
		stepIndex: -1,
		started:   time.Now(),
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plan execution panicked: %v", r)
		}
		err = e.finish(ctx, a, tc, caller, err)
	}()

	res, err := e.init.Initialize(ctx, tc)
	if err != nil {
		return err
	}
	a.planID = res.PlanID
	a.resumed = res.WasResumed
	caller.SetSteps(plan.CloneSteps(res.Steps))

	if !e.registry.TryLock(a.planID) {
		return plan.Abort(a.planID, -1, "", plan.ErrPlanLocked)
	}
	a.locked = true
	a.held = true
	a.phase = PhaseExecution
	a.watchdog = startWatchdog(e.logger, a.planID, a.id, e.cfg.WatchdogInterval(), e.cfg.StallTimeout())

	// Resumed plans are trusted as accepted unless a price change stopped them.
	if (recheck || !res.WasResumed) && e.guard.CheckResponse(tc.Accepted, res.Response) {
		return plan.PriceChange(a.planID, -1)
	}

	return e.execute(ctx, a, tc, res.Plan(), caller)
}

// execute is the step loop.
func (e *Executor) execute(ctx context.Context, a *attempt, tc plan.TradeContext, p *plan.Plan, caller Caller) error {
	for p.CurrentStepIndex < len(p.Steps) {
		if e.registry.IsCancelled(p.ID) {
			return plan.HandledInterrupt(p.ID, a.stepIndex, "cancelled by user", plan.ErrCancelled)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		step, _ := p.CurrentStep()
		isLast := p.IsLastStep()
		a.stepIndex = step.Index
		a.watchdog.touch(step.Index)

		if err := e.ensureChain(ctx, p.ID, step); err != nil {
			return err
		}

		caller.SetCurrentStep(step, false)
		proof, err := e.runStep(ctx, a, p.ID, tc.Address, step)
		if err != nil {
			return err
		}
		if err := e.submitProof(ctx, p.ID, step, proof); err != nil {
			return err
		}
		a.executed++
		a.watchdog.touch(step.Index)
		caller.SetCurrentStep(step, true)

		if isLast {
			last := background.LastStep{
				TradeKey:  tc.Key,
				StepIndex: step.Index,
				ChainID:   step.ChainID,
				Proof:     proof,
			}
			if e.background.HandOff(ctx, p.ID, last, caller.OnSuccess) {
				a.outcome = OutcomeSucceeded
			} else {
				a.outcome = OutcomeDuplicate
			}
			return nil
		}

		res, err := e.watcher.Watch(ctx, p.ID, step.Index, step.ChainID)
		if err != nil {
			var exhausted *retry.ExhaustedError
			if errors.As(err, &exhausted) {
				return plan.ShouldRetry(p.ID, step.Index, "step did not settle", err)
			}
			return err
		}
		if res.Step.Status == plan.StepError {
			return plan.HandledInterrupt(p.ID, step.Index, "", plan.ErrStepFailed)
		}

		p.Steps = res.Steps
		p.ExpectedOutput = res.Response.ExpectedOutput
		p.Status = res.Response.Status
		e.registry.SetSteps(p.ID, res.Steps)
		caller.SetSteps(plan.CloneSteps(res.Steps))

		next := plan.NextActionableIndex(res.Steps)
		if e.guard.CheckResponse(tc.Accepted, res.Response) {
			return plan.PriceChange(p.ID, step.Index)
		}
		if next < 0 {
			return plan.ShouldRetry(p.ID, step.Index, "", plan.ErrNoActionableStep)
		}
		p.CurrentStepIndex = next
	}

	return plan.ShouldRetry(p.ID, a.stepIndex, "", plan.ErrNoActionableStep)
}

// =============================================================================
// CLEANUP
// =============================================================================

// finish runs on every exit path of Run and returns the error Run reports.
func (e *Executor) finish(ctx context.Context, a *attempt, tc plan.TradeContext, caller Caller, err error) error {
	a.watchdog.Stop()
	if a.locked {
		e.registry.Unlock(a.planID)
		a.locked = false
	}

	kind := plan.KindOf(err)
	reported := err

	switch {
	case err == nil:
		if a.outcome == "" {
			a.outcome = OutcomeSucceeded
		}

	case kind == plan.KindExpected:
		a.outcome = OutcomeExpected
		reported = nil
		caller.OnSuccess()

	default:
		if a.held {
			e.registry.ClearBackground(a.planID)
		}
		e.reset(a, tc, err)

		a.outcome = OutcomeFailed
		if kind == plan.KindPriceChange || kind == plan.KindHandledInterrupt {
			a.outcome = OutcomeInterrupted
		}

		var retryFn func()
		if kind.Retryable() {
			retryFn = e.retryFunc(ctx, a, tc, caller, err)
		}
		caller.OnFailure(err, retryFn)
	}

	e.record(ctx, a, err)
	return reported
}

// reset drops plan state so a retry starts from the right place.
func (e *Executor) reset(a *attempt, tc plan.TradeContext, err error) {
	switch plan.KindOf(err) {
	case plan.KindAbort:
		if errors.Is(err, plan.ErrPlanLocked) {
			// Another execution owns this plan.
			return
		}
		e.retire(a, tc)
	case plan.KindShouldRetry:
		e.retire(a, tc)
	case plan.KindPriceChange:
		// A plan with executed steps stays resumable.
		if a.executed == 0 && !a.resumed {
			e.retire(a, tc)
		}
	case plan.KindHandledInterrupt:
		if errors.Is(err, plan.ErrStepFailed) {
			e.retire(a, tc)
		}
	}
}

// retire abandons the attempt's plan: the trade no longer points at it and
// nothing stays tracked for it.
func (e *Executor) retire(a *attempt, tc plan.TradeContext) {
	if a.planID == "" {
		e.registry.ClearActive(tc.Key)
		return
	}
	e.registry.ReleaseActive(tc.Key, a.planID)
	e.registry.Forget(a.planID)
}

// retryFunc builds the retry offered with a failure. It runs detached from
// the failed call's context, which is usually done by the time a user asks
// to retry.
//
// After a price change the retried plan is price-checked again even when it
// resumes, so a worse quote is never executed without a fresh acceptance.
// After a cancellation the retry is a new attempt at the trade; the cancelled
// plan is dropped first so its cancel flag cannot stop the retry.
func (e *Executor) retryFunc(ctx context.Context, a *attempt, tc plan.TradeContext, caller Caller, err error) func() {
	retryCtx := context.WithoutCancel(ctx)
	planID := a.planID
	recheck := plan.IsKind(err, plan.KindPriceChange)
	cancelled := errors.Is(err, plan.ErrCancelled)

	return func() {
		if cancelled && planID != "" {
			e.registry.ReleaseActive(tc.Key, planID)
			e.registry.Forget(planID)
		}
		_ = e.run(retryCtx, tc, caller, recheck)
	}
}

func (e *Executor) record(ctx context.Context, a *attempt, err error) {
	finished := time.Now()
	duration := finished.Sub(a.started)

	attrs := []slog.Attr{
		slog.String(logging.KeyPlanID, a.planID),
		slog.String(logging.KeyAttemptID, a.id),
		slog.String(logging.KeyTradeKey, a.tradeKey),
		slog.String(logging.KeyPhase, a.phase),
		slog.String(logging.KeyOutcome, a.outcome),
		slog.Int(logging.KeyStepIndex, a.stepIndex),
		slog.Duration(logging.KeyDuration, duration),
	}
	if stalls := a.watchdog.Stalls(); stalls > 0 {
		attrs = append(attrs, slog.Int("stalls", stalls))
	}

	level := slog.LevelInfo
	message := ""
	errorKind := ""
	if err != nil {
		errorKind = plan.KindOf(err).String()
		message = err.Error()
		attrs = append(attrs, slog.String(logging.KeyErrorKind, errorKind), slog.String("error", message))
		switch a.outcome {
		case OutcomeFailed:
			level = slog.LevelError
		case OutcomeInterrupted:
			level = slog.LevelWarn
		}
	}
	e.logger.LogAttrs(context.WithoutCancel(ctx), level, "plan execution finished", attrs...)

	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	jerr := e.journal.RecordExecution(jctx, journal.Execution{
		AttemptID:  a.id,
		PlanID:     a.planID,
		TradeKey:   a.tradeKey,
		Phase:      a.phase,
		Outcome:    a.outcome,
		ErrorKind:  errorKind,
		Message:    message,
		StepIndex:  a.stepIndex,
		StartedAt:  a.started,
		FinishedAt: finished,
	})
	if jerr != nil {
		e.logger.Warn("failed to journal execution", logging.KeyAttemptID, a.id, "error", jerr)
	}
}
