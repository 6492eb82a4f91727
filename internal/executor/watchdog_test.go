// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchdog_WarnsOncePerStall(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, nil))

	w := startWatchdog(logger, "p1", "a1", 2*time.Millisecond, 10*time.Millisecond)
	require.NotNil(t, w)
	w.touch(3)

	require.Eventually(t, func() bool { return w.Stalls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, w.Stalls(), "one warning until progress resumes")

	w.touch(4)
	require.Eventually(t, func() bool { return w.Stalls() == 2 }, time.Second, time.Millisecond)

	w.Stop()
	w.Stop()
	assert.Contains(t, out.String(), "plan step appears stuck")
	assert.Contains(t, out.String(), "step_index=3")
}

func TestWatchdog_Disabled(t *testing.T) {
	w := startWatchdog(slog.Default(), "p1", "a1", 0, time.Second)
	assert.Nil(t, w)

	// A nil watchdog is inert.
	w.touch(1)
	w.Stop()
	assert.Zero(t, w.Stalls())
}
