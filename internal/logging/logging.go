// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the structured logger used across the engine.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jeranaias/tradeplan/internal/config"
)

// Attribute keys shared by every execution record.
const (
	KeyPlanID    = "plan_id"
	KeyAttemptID = "attempt_id"
	KeyTradeKey  = "trade_key"
	KeyStepIndex = "step_index"
	KeyChainID   = "chain_id"
	KeyPhase     = "phase"
	KeyOutcome   = "outcome"
	KeyErrorKind = "error_kind"
	KeyDuration  = "duration"
)

// New creates a logger writing to w (stderr when nil) with the configured
// level and format.
func New(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
