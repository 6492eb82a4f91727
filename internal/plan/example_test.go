// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan_test

import (
	"encoding/json"
	"fmt"

	"github.com/jeranaias/tradeplan/internal/plan"
)

// ExamplePlanResponse decodes a plan and finds the step to act on next.
func ExamplePlanResponse() {
	data := `{"planId":"plan-1","expectedOutput":"990","status":"active","steps":[
		{"stepIndex":0,"stepType":"approval","status":"complete","chainId":1},
		{"stepIndex":1,"stepType":"swap","status":"awaiting_action","chainId":1}]}`

	var resp plan.PlanResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		fmt.Println("error:", err)
		return
	}

	next := plan.NextActionableIndex(resp.Steps)
	fmt.Printf("Plan: %s\n", resp.PlanID)
	fmt.Printf("Next: %d (%s)\n", next, resp.Steps[next].Type)

	// Output:
	// Plan: plan-1
	// Next: 1 (swap)
}

// ExampleKindOf classifies execution errors.
func ExampleKindOf() {
	err := plan.ShouldRetry("plan-1", 2, "", plan.ErrUnknownStepType)

	fmt.Println(plan.KindOf(err))
	fmt.Println(plan.KindOf(err).Retryable())

	// Output:
	// should_retry
	// true
}
