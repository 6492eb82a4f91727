// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/tradeplan/internal/logging"
)

// watchdog warns when an execution makes no step progress for too long.
// It never interrupts a running step handler.
type watchdog struct {
	logger    *slog.Logger
	planID    string
	attemptID string
	timeout   time.Duration

	mu        sync.Mutex
	heartbeat time.Time
	stepIndex int
	warned    bool

	stalls   atomic.Int32
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// startWatchdog starts a watchdog goroutine. It returns nil when either
// duration is not positive; a nil watchdog is safe to use.
func startWatchdog(logger *slog.Logger, planID, attemptID string, interval, timeout time.Duration) *watchdog {
	if interval <= 0 || timeout <= 0 {
		return nil
	}

	w := &watchdog{
		logger:    logger,
		planID:    planID,
		attemptID: attemptID,
		timeout:   timeout,
		heartbeat: time.Now(),
		stepIndex: -1,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.check()
			}
		}
	}()
	return w
}

// touch records progress on stepIndex.
func (w *watchdog) touch(stepIndex int) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.heartbeat = time.Now()
	w.stepIndex = stepIndex
	w.warned = false
	w.mu.Unlock()
}

func (w *watchdog) check() {
	w.mu.Lock()
	age := time.Since(w.heartbeat)
	step := w.stepIndex
	stalled := age > w.timeout && !w.warned
	if stalled {
		w.warned = true
	}
	w.mu.Unlock()

	if !stalled {
		return
	}
	w.stalls.Add(1)
	w.logger.Warn("plan step appears stuck",
		logging.KeyPlanID, w.planID,
		logging.KeyAttemptID, w.attemptID,
		logging.KeyStepIndex, step,
		"idle", age.Round(time.Millisecond).String())
}

// Stalls returns how many stalls were reported.
func (w *watchdog) Stalls() int {
	if w == nil {
		return 0
	}
	return int(w.stalls.Load())
}

// Stop stops the watchdog and waits for its goroutine. Safe to call twice.
func (w *watchdog) Stop() {
	if w == nil {
		return
	}
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}
