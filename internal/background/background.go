// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package background tracks a plan's final step after the caller has been
// told the trade succeeded.
//
// The executor returns as soon as the final step's proof is accepted. The
// step's confirmation is then followed by a forked watcher owned by Manager,
// which records trade analytics and always clears the plan's backgrounded
// flag when polling ends. A plan whose final step settles, confirmed or
// errored, is dropped from the registry.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/tradeplan/internal/journal"
	"github.com/jeranaias/tradeplan/internal/logging"
	"github.com/jeranaias/tradeplan/internal/plan"
	"github.com/jeranaias/tradeplan/internal/watcher"
)

// ErrStopped is reported when a hand-off arrives after Stop.
var ErrStopped = errors.New("background manager stopped")

// Registry is the part of the execution registry the manager uses.
type Registry interface {
	Background(planID string) bool
	ClearBackground(planID string)
	Cancel(planID string)
	IsCancelled(planID string) bool
	Forget(planID string)
	ReleaseActive(tradeKey, planID string)
}

// StepWatcher follows one step to a terminal status.
type StepWatcher interface {
	Watch(ctx context.Context, planID string, stepIndex int, chainID uint64) (*watcher.Result, error)
}

// LastStep describes the step being handed off.
type LastStep struct {
	TradeKey  string
	StepIndex int
	ChainID   uint64
	Proof     plan.Proof
}

// Trade statuses recorded for a backgrounded step.
const (
	StatusComplete  = "complete"
	StatusStepError = "step_error"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the forked final-step watchers.
type Manager struct {
	registry Registry
	watcher  StepWatcher
	journal  journal.Recorder
	logger   *slog.Logger

	// watchTimeout bounds a single background watch (0 = no timeout)
	watchTimeout time.Duration

	wg      sync.WaitGroup
	stopped atomic.Bool

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithJournal records trade analytics to j.
func WithJournal(j journal.Recorder) Option {
	return func(m *Manager) {
		if j != nil {
			m.journal = j
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrDiscard(l) }
}

// WithWatchTimeout bounds each background watch.
func WithWatchTimeout(d time.Duration) Option {
	return func(m *Manager) { m.watchTimeout = d }
}

// New creates a background manager.
func New(registry Registry, w StepWatcher, opts ...Option) *Manager {
	m := &Manager{
		registry: registry,
		watcher:  w,
		journal:  journal.Nop{},
		logger:   logging.Discard(),
		cancels:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandOff moves planID into the backgrounded set, forks a watcher for its
// last step and then calls onSuccess. It returns false without doing
// anything when the plan is already backgrounded, so a duplicate hand-off
// never signals success twice.
//
// The forked watcher does not inherit ctx cancellation; it ends on its own
// terms, on Cancel, or on Stop.
func (m *Manager) HandOff(ctx context.Context, planID string, last LastStep, onSuccess func()) bool {
	if m.stopped.Load() {
		m.logger.Warn("hand-off after stop", logging.KeyPlanID, planID, "error", ErrStopped)
		return false
	}
	if !m.registry.Background(planID) {
		m.logger.Debug("plan already backgrounded", logging.KeyPlanID, planID)
		return false
	}

	var (
		watchCtx context.Context
		cancel   context.CancelFunc
	)
	if m.watchTimeout > 0 {
		watchCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), m.watchTimeout)
	} else {
		watchCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
	}

	m.mu.Lock()
	m.cancels[planID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.watch(watchCtx, cancel, planID, last)

	if onSuccess != nil {
		onSuccess()
	}
	return true
}

// Cancel marks planID cancelled, clears its backgrounded flag and stops its
// watcher if one is running.
func (m *Manager) Cancel(planID string) {
	m.registry.Cancel(planID)
	m.registry.ClearBackground(planID)

	m.mu.Lock()
	cancel := m.cancels[planID]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every forked watcher has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Stop refuses new hand-offs, cancels running watchers and waits for them.
func (m *Manager) Stop() {
	m.stopped.Store(true)

	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// Running returns the number of plans with a live watcher.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels)
}

// =============================================================================
// WATCH TASK
// =============================================================================

func (m *Manager) watch(ctx context.Context, cancel context.CancelFunc, planID string, last LastStep) {
	start := time.Now()
	status := StatusFailed

	defer m.wg.Done()
	defer func() {
		// RELIABILITY: the backgrounded flag must clear on every path or the
		// plan looks pending forever.
		m.registry.ClearBackground(planID)
		cancel()

		// A settled plan is finished with; nothing stays tracked for it and
		// the next trade with the same key creates a fresh plan.
		if status == StatusComplete || status == StatusStepError {
			m.registry.Forget(planID)
			m.registry.ReleaseActive(last.TradeKey, planID)
		}

		m.mu.Lock()
		delete(m.cancels, planID)
		m.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("background step watcher panicked",
				logging.KeyPlanID, planID,
				logging.KeyStepIndex, last.StepIndex,
				"panic", fmt.Sprint(r))
			m.record(planID, last, StatusFailed, time.Since(start))
		}
	}()

	res, err := m.watcher.Watch(ctx, planID, last.StepIndex, last.ChainID)
	switch {
	case err != nil && (plan.IsKind(err, plan.KindHandledInterrupt) || m.registry.IsCancelled(planID)):
		status = StatusCancelled
		m.logger.Info("background step watch cancelled",
			logging.KeyPlanID, planID, logging.KeyStepIndex, last.StepIndex)
	case err != nil:
		m.logger.Error("background step failed",
			logging.KeyPlanID, planID,
			logging.KeyStepIndex, last.StepIndex,
			logging.KeyChainID, last.ChainID,
			"error", err)
	case res.Step.Status == plan.StepError:
		status = StatusStepError
		m.logger.Error("background step failed",
			logging.KeyPlanID, planID,
			logging.KeyStepIndex, last.StepIndex,
			logging.KeyChainID, last.ChainID,
			"error", plan.ErrStepFailed)
	default:
		status = StatusComplete
		m.logger.Info("background step confirmed",
			logging.KeyPlanID, planID,
			logging.KeyStepIndex, last.StepIndex,
			logging.KeyDuration, time.Since(start))
	}

	m.record(planID, last, status, time.Since(start))
}

func (m *Manager) record(planID string, last LastStep, status string, latency time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := m.journal.RecordTrade(ctx, journal.Trade{
		PlanID:    planID,
		TradeKey:  last.TradeKey,
		StepIndex: last.StepIndex,
		ChainID:   last.ChainID,
		TxHash:    last.Proof.Hash,
		Status:    status,
		Latency:   latency,
	})
	if err != nil {
		m.logger.Warn("failed to record trade", logging.KeyPlanID, planID, "error", err)
	}
}
