// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retry runs an operation repeatedly with a fixed base delay.
//
// Proof submission and step polling share this policy: a fixed delay between
// attempts (no exponential growth), an optional pre-delay before the first
// attempt, an attempt limit and optional jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// =============================================================================
// POLICY
// =============================================================================

// Policy controls how Do retries.
type Policy struct {
	// MaxAttempts is the number of retries after the first attempt, so the
	// operation runs at most MaxAttempts+1 times.
	MaxAttempts int

	// BaseDelay is the fixed wait between attempts
	BaseDelay time.Duration

	// PreDelay is waited once before the first attempt
	PreDelay time.Duration

	// Jitter adds a random extra delay of up to Jitter*BaseDelay (0 = none)
	Jitter float64
}

// Delay returns the wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		return 0
	}
	if p.Jitter > 0 {
		span := int64(float64(d) * p.Jitter)
		if span > 0 {
			d += time.Duration(rand.Int64N(span))
		}
	}
	return d
}

// =============================================================================
// ERRORS
// =============================================================================

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Limit    int // configured MaxAttempts
	Attempts int // attempts actually made
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts (max attempts %d): %v", e.Attempts, e.Limit, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// =============================================================================
// DO
// =============================================================================

// Func is one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Do calls fn until it succeeds, returns a Permanent error, ctx ends, or the
// policy's attempts are used up.
func Do(ctx context.Context, p Policy, fn Func) error {
	if err := Sleep(ctx, p.PreDelay); err != nil {
		return err
	}

	limit := p.MaxAttempts
	if limit < 0 {
		limit = 0
	}

	var last error
	for attempt := 1; attempt <= limit+1; attempt++ {
		if attempt > 1 {
			if err := Sleep(ctx, p.Delay(attempt-1)); err != nil {
				return err
			}
		}

		last = fn(ctx, attempt)
		if last == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(last, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return &ExhaustedError{Limit: limit, Attempts: limit + 1, Last: last}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
