// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package priceguard

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeranaias/tradeplan/internal/plan"
)

func trade(output int64) plan.Trade {
	return plan.Trade{InputChainID: 1, OutputChainID: 1, OutputAmount: big.NewInt(output)}
}

func TestRequiresReacceptance(t *testing.T) {
	g := New(DefaultThresholdBps)

	tests := []struct {
		name      string
		original  int64
		refreshed int64
		want      bool
	}{
		{"unchanged", 1_000_000, 1_000_000, false},
		{"improved", 1_000_000, 1_200_000, false},
		{"half percent drop", 1_000_000, 995_000, false},
		{"exactly one percent drop", 1_000_000, 990_000, false},
		{"one unit past one percent", 1_000_000, 989_999, true},
		{"two percent drop", 1_000_000, 980_000, true},
		{"total loss", 1_000_000, 0, true},
		{"small amounts at boundary", 100, 99, false},
		{"small amounts past boundary", 100, 98, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.RequiresReacceptance(trade(tt.original), trade(tt.refreshed))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequiresReacceptance_WithinOnePercentSweep(t *testing.T) {
	g := New(DefaultThresholdBps)
	original := trade(1_000_000_000)

	for delta := int64(-10_000_000); delta <= 10_000_000; delta += 250_000 {
		refreshed := trade(1_000_000_000 + delta)
		assert.False(t, g.RequiresReacceptance(original, refreshed), "delta %d", delta)
	}
}

func TestRequiresReacceptance_LargeAmounts(t *testing.T) {
	g := New(DefaultThresholdBps)
	orig, _ := new(big.Int).SetString("1000000000000000000000000", 10) // 1e24
	exact, _ := new(big.Int).SetString("990000000000000000000000", 10)
	past := new(big.Int).Sub(exact, big.NewInt(1))

	assert.False(t, g.RequiresReacceptance(plan.Trade{OutputAmount: orig}, plan.Trade{OutputAmount: exact}))
	assert.True(t, g.RequiresReacceptance(plan.Trade{OutputAmount: orig}, plan.Trade{OutputAmount: past}))
}

func TestRequiresReacceptance_MissingAmounts(t *testing.T) {
	g := New(DefaultThresholdBps)

	assert.False(t, g.RequiresReacceptance(plan.Trade{}, trade(1)), "no original output to compare")
	assert.True(t, g.RequiresReacceptance(trade(100), plan.Trade{}), "refreshed output missing")
}

func TestNew_CustomThreshold(t *testing.T) {
	g := New(50)
	assert.False(t, g.RequiresReacceptance(trade(10_000), trade(9_950)))
	assert.True(t, g.RequiresReacceptance(trade(10_000), trade(9_949)))

	zero := New(-5)
	assert.Equal(t, int64(0), zero.ThresholdBps())
	assert.True(t, zero.RequiresReacceptance(trade(10_000), trade(9_999)))
}

func TestCheckResponse(t *testing.T) {
	g := New(DefaultThresholdBps)
	original := trade(1_000_000)

	assert.False(t, g.CheckResponse(original, &plan.PlanResponse{ExpectedOutput: "990000"}))
	assert.True(t, g.CheckResponse(original, &plan.PlanResponse{ExpectedOutput: "980000"}))
	assert.True(t, g.CheckResponse(original, &plan.PlanResponse{ExpectedOutput: "garbage"}))
	assert.True(t, g.CheckResponse(original, nil))

	refreshed := RefreshedTrade(original, &plan.PlanResponse{ExpectedOutput: "5"})
	assert.Equal(t, original.InputChainID, refreshed.InputChainID)
	assert.Equal(t, int64(5), refreshed.OutputAmount.Int64())
	assert.Equal(t, int64(1_000_000), original.OutputAmount.Int64(), "original is not mutated")
}
