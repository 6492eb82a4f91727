// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package journal persists execution attempts and final-step trade analytics
// to a local SQLite database.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrClosed is returned when writing to a closed store.
var ErrClosed = errors.New("journal closed")

// =============================================================================
// RECORDS
// =============================================================================

// Execution is one execution attempt of the plan executor.
type Execution struct {
	AttemptID  string
	PlanID     string
	TradeKey   string
	Phase      string
	Outcome    string
	ErrorKind  string
	Message    string
	StepIndex  int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the attempt ran.
func (e Execution) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

// Trade is the analytics record for a plan's final, backgrounded step.
type Trade struct {
	PlanID     string
	TradeKey   string
	StepIndex  int
	ChainID    uint64
	TxHash     string
	Status     string
	Latency    time.Duration
	RecordedAt time.Time
}

// Recorder is the write side of the journal.
type Recorder interface {
	RecordExecution(ctx context.Context, e Execution) error
	RecordTrade(ctx context.Context, t Trade) error
}

// Nop discards every record.
type Nop struct{}

// RecordExecution implements Recorder.
func (Nop) RecordExecution(context.Context, Execution) error { return nil }

// RecordTrade implements Recorder.
func (Nop) RecordTrade(context.Context, Trade) error { return nil }

// =============================================================================
// STORE
// =============================================================================

// Store is a SQLite-backed Recorder.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

var _ Recorder = (*Store)(nil)

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("journal path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// RecordExecution implements Recorder. Recording the same attempt twice
// replaces the earlier row.
func (s *Store) RecordExecution(ctx context.Context, e Execution) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions
		    (attempt_id, plan_id, trade_key, phase, outcome, error_kind, message, step_index, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AttemptID, e.PlanID, e.TradeKey, e.Phase, e.Outcome, e.ErrorKind, e.Message,
		e.StepIndex, e.StartedAt.UnixMilli(), e.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record execution %s: %w", e.AttemptID, err)
	}
	return nil
}

// RecordTrade implements Recorder.
func (s *Store) RecordTrade(ctx context.Context, t Trade) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	recorded := t.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
		    (plan_id, trade_key, step_index, chain_id, tx_hash, status, latency_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.PlanID, t.TradeKey, t.StepIndex, int64(t.ChainID), t.TxHash, t.Status,
		t.Latency.Milliseconds(), recorded.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record trade %s: %w", t.PlanID, err)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// ListExecutions returns the most recent attempts, newest first. planID
// filters by plan when non-empty; limit <= 0 means 50.
func (s *Store) ListExecutions(ctx context.Context, planID string, limit int) ([]Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT attempt_id, plan_id, trade_key, phase, outcome, error_kind, message, step_index, started_at, finished_at
		FROM executions`
	args := []any{}
	if planID != "" {
		query += ` WHERE plan_id = ?`
		args = append(args, planID)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var started, finished int64
		if err := rows.Scan(&e.AttemptID, &e.PlanID, &e.TradeKey, &e.Phase, &e.Outcome,
			&e.ErrorKind, &e.Message, &e.StepIndex, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.StartedAt = time.UnixMilli(started)
		e.FinishedAt = time.UnixMilli(finished)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListTrades returns the trade analytics recorded for planID, oldest first.
func (s *Store) ListTrades(ctx context.Context, planID string) ([]Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT plan_id, trade_key, step_index, chain_id, tx_hash, status, latency_ms, recorded_at
		FROM trades WHERE plan_id = ? ORDER BY id`, planID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		var chainID, latency, recorded int64
		if err := rows.Scan(&t.PlanID, &t.TradeKey, &t.StepIndex, &chainID, &t.TxHash,
			&t.Status, &latency, &recorded); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.ChainID = uint64(chainID)
		t.Latency = time.Duration(latency) * time.Millisecond
		t.RecordedAt = time.UnixMilli(recorded)
		out = append(out, t)
	}
	return out, rows.Err()
}
