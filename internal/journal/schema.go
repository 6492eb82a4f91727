// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package journal

// Schema is the journal's SQLite schema. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS executions (
    attempt_id   TEXT PRIMARY KEY,
    plan_id      TEXT NOT NULL DEFAULT '',
    trade_key    TEXT NOT NULL DEFAULT '',
    phase        TEXT NOT NULL,
    outcome      TEXT NOT NULL,
    error_kind   TEXT NOT NULL DEFAULT '',
    message      TEXT NOT NULL DEFAULT '',
    step_index   INTEGER NOT NULL DEFAULT -1,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_plan ON executions(plan_id);
CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at);

CREATE TABLE IF NOT EXISTS trades (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    plan_id      TEXT NOT NULL,
    trade_key    TEXT NOT NULL DEFAULT '',
    step_index   INTEGER NOT NULL,
    chain_id     INTEGER NOT NULL,
    tx_hash      TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL,
    latency_ms   INTEGER NOT NULL,
    recorded_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_plan ON trades(plan_id);
`
