// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package priceguard decides whether a refreshed plan's economics moved far
// enough against the user that they must accept the trade again.
package priceguard

import (
	"math/big"

	"github.com/jeranaias/tradeplan/internal/plan"
)

// DefaultThresholdBps is a 1% allowed output degradation.
const DefaultThresholdBps = 100

const bpsDenominator = 10000

// Guard compares trades against a degradation threshold in basis points.
type Guard struct {
	thresholdBps int64
}

// New creates a guard. Negative thresholds are treated as zero.
func New(thresholdBps int64) *Guard {
	if thresholdBps < 0 {
		thresholdBps = 0
	}
	return &Guard{thresholdBps: thresholdBps}
}

// ThresholdBps returns the configured threshold.
func (g *Guard) ThresholdBps() int64 {
	return g.thresholdBps
}

// RequiresReacceptance reports whether refreshed's output is worse than
// original's by strictly more than the threshold.
//
// The comparison is exact integer arithmetic on base units:
//
//	(original - refreshed) * 10000 > original * thresholdBps
//
// so a drop of exactly the threshold never interrupts and no rounding is
// involved. Improvements never interrupt. A missing or zero original output
// cannot be compared and does not interrupt; a missing refreshed output does.
func (g *Guard) RequiresReacceptance(original, refreshed plan.Trade) bool {
	if original.OutputAmount == nil || original.OutputAmount.Sign() <= 0 {
		return false
	}
	if refreshed.OutputAmount == nil {
		return true
	}

	drop := new(big.Int).Sub(original.OutputAmount, refreshed.OutputAmount)
	if drop.Sign() <= 0 {
		return false
	}

	lhs := drop.Mul(drop, big.NewInt(bpsDenominator))
	rhs := new(big.Int).Mul(original.OutputAmount, big.NewInt(g.thresholdBps))
	return lhs.Cmp(rhs) > 0
}

// RefreshedTrade rebuilds a comparable trade from a plan response's quoted
// expected output. An unparseable output yields a trade with no output amount.
func RefreshedTrade(original plan.Trade, resp *plan.PlanResponse) plan.Trade {
	if resp == nil {
		return original.WithOutput(nil)
	}
	amount, err := resp.ExpectedOutputAmount()
	if err != nil {
		return original.WithOutput(nil)
	}
	return original.WithOutput(amount)
}

// CheckResponse is RefreshedTrade followed by RequiresReacceptance.
func (g *Guard) CheckResponse(original plan.Trade, resp *plan.PlanResponse) bool {
	return g.RequiresReacceptance(original, RefreshedTrade(original, resp))
}
