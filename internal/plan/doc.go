// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package plan defines the trade plan data model shared by the execution
// engine.
//
// A plan is issued by the planning service for one trade and lists the
// on-chain and off-chain actions (approvals, permits, swaps, signatures)
// needed to execute it. Each query returns a fresh snapshot of every step;
// snapshots are replaced wholesale, never patched.
//
// # Key Types
//
//   - PlanResponse: the planning service's view of a plan
//   - PlanStep: one step snapshot with its StepType and StepStatus
//   - Plan: the executor's working copy with a cursor
//   - Trade: the economics the user accepted, compared on every refresh
//   - Proof: the hash or signature a step handler produced
//   - Error: an execution failure tagged with a Kind
//
// # Error Kinds
//
// Kind decides how a failure reaches the user:
//
//	KindExpected          benign, reported as success
//	KindAbort             terminal, no retry offered
//	KindShouldRetry       retry restarts initialization
//	KindPriceChange       economics moved, user must re-accept
//	KindHandledInterrupt  cancellation or a failed step
//	KindUnexpected        anything else
//
// Use KindOf to classify any error:
//
//	if plan.KindOf(err).Retryable() {
//	    offerRetry()
//	}
package plan
