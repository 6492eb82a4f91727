// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry tracks process-wide execution state for in-flight plans.
//
// The registry is the only owner of the execution lock, the backgrounded set,
// the cancelled set and the last known step list for each plan. Callers go
// through its accessor methods; the underlying maps are never exposed.
package registry

import (
	"sync"

	"github.com/jeranaias/tradeplan/internal/plan"
)

// =============================================================================
// PLAN ENTRY
// =============================================================================

// entry is the per-plan state. Zero value means "nothing known".
type entry struct {
	locked       bool
	backgrounded bool
	cancelled    bool
	steps        []plan.PlanStep
}

func (e *entry) empty() bool {
	return !e.locked && !e.backgrounded && !e.cancelled && e.steps == nil
}

// Snapshot is a read-only copy of a plan's registry state.
type Snapshot struct {
	PlanID       string
	Locked       bool
	Backgrounded bool
	Cancelled    bool
	Steps        []plan.PlanStep
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds execution state keyed by plan ID, plus the active plan per
// trade key.
type Registry struct {
	// plans tracks lock/background/cancel flags and steps per plan ID
	plans map[string]*entry

	// active maps a trade key to the plan currently executing it
	active map[string]string

	// mu protects plans and active
	mu sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		plans:  make(map[string]*entry),
		active: make(map[string]string),
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// get returns the entry for planID, creating it. Caller must hold mu.
func (r *Registry) get(planID string) *entry {
	e, ok := r.plans[planID]
	if !ok {
		e = &entry{}
		r.plans[planID] = e
	}
	return e
}

// prune drops planID's entry once nothing is tracked for it. Caller must hold mu.
func (r *Registry) prune(planID string) {
	if e, ok := r.plans[planID]; ok && e.empty() {
		delete(r.plans, planID)
	}
}

// =============================================================================
// EXECUTION LOCK
// =============================================================================

// TryLock acquires the execution lock for planID. It returns false when the
// lock is already held.
func (r *Registry) TryLock(planID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(planID)
	if e.locked {
		return false
	}
	e.locked = true
	return true
}

// Unlock releases the execution lock for planID. Unlocking an unlocked plan
// is a no-op.
func (r *Registry) Unlock(planID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.plans[planID]; ok {
		e.locked = false
		r.prune(planID)
	}
}

// IsLocked reports whether an executor currently holds planID. External
// pollers must skip writes while this is true.
func (r *Registry) IsLocked(planID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.plans[planID]
	return ok && e.locked
}

// =============================================================================
// BACKGROUNDED SET
// =============================================================================

// Background adds planID to the backgrounded set. It returns false when the
// plan was already backgrounded.
func (r *Registry) Background(planID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(planID)
	if e.backgrounded {
		return false
	}
	e.backgrounded = true
	return true
}

// IsBackgrounded reports whether planID is waiting on background confirmation.
func (r *Registry) IsBackgrounded(planID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.plans[planID]
	return ok && e.backgrounded
}

// ClearBackground removes planID from the backgrounded set.
func (r *Registry) ClearBackground(planID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.plans[planID]; ok {
		e.backgrounded = false
		r.prune(planID)
	}
}

// =============================================================================
// CANCELLED SET
// =============================================================================

// Cancel marks planID as cancelled by the user.
func (r *Registry) Cancel(planID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.get(planID).cancelled = true
}

// IsCancelled reports whether the user cancelled planID.
func (r *Registry) IsCancelled(planID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.plans[planID]
	return ok && e.cancelled
}

// =============================================================================
// STEPS
// =============================================================================

// SetSteps records the latest step snapshot for planID.
func (r *Registry) SetSteps(planID string, steps []plan.PlanStep) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.get(planID).steps = plan.CloneSteps(steps)
}

// Steps returns a copy of the last known step snapshot for planID.
func (r *Registry) Steps(planID string) []plan.PlanStep {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.plans[planID]; ok {
		return plan.CloneSteps(e.steps)
	}
	return nil
}

// =============================================================================
// ACTIVE PLANS
// =============================================================================

// SetActive records planID as the in-flight plan for a trade.
func (r *Registry) SetActive(tradeKey, planID string) {
	if tradeKey == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[tradeKey] = planID
}

// Active returns the in-flight plan for a trade, if any.
func (r *Registry) Active(tradeKey string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.active[tradeKey]
	return id, ok
}

// ClearActive forgets the in-flight plan for a trade.
func (r *Registry) ClearActive(tradeKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, tradeKey)
}

// ReleaseActive forgets the in-flight plan for a trade only while it is
// still planID. A newer plan registered for the same trade is left alone.
func (r *Registry) ReleaseActive(tradeKey, planID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[tradeKey] == planID {
		delete(r.active, tradeKey)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Forget drops everything tracked for planID. A held execution lock is kept
// so IsLocked stays truthful until its owner unlocks; the entry is pruned then.
func (r *Registry) Forget(planID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.plans[planID]
	if !ok {
		return
	}
	if e.locked {
		*e = entry{locked: true}
		return
	}
	delete(r.plans, planID)
}

// Snapshot returns a copy of planID's state.
func (r *Registry) Snapshot(planID string) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{PlanID: planID}
	if e, ok := r.plans[planID]; ok {
		s.Locked = e.locked
		s.Backgrounded = e.backgrounded
		s.Cancelled = e.cancelled
		s.Steps = plan.CloneSteps(e.steps)
	}
	return s
}

// Len returns the number of plans with tracked state.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plans)
}
