// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/tradeplan/internal/plan"
)

func named(name string) StepHandler {
	return HandlerFunc(func(context.Context, StepRequest) (plan.Proof, error) {
		return plan.Proof{Signature: name}, nil
	})
}

func TestHandlers_For(t *testing.T) {
	h := Handlers{
		Approval:            named("approval"),
		PermitSignature:     named("permit-sig"),
		PermitTransaction:   named("permit-tx"),
		Swap:                named("swap"),
		BatchedSwap:         named("batched"),
		CrossChainSignature: named("xchain"),
	}

	tests := map[plan.StepType]string{
		plan.StepTypeApproval:            "approval",
		plan.StepTypeRevocation:          "approval",
		plan.StepTypePermitSignature:     "permit-sig",
		plan.StepTypePermitTransaction:   "permit-tx",
		plan.StepTypeSwap:                "swap",
		plan.StepTypeBatchedSwap:         "batched",
		plan.StepTypeCrossChainSignature: "xchain",
	}
	for typ, want := range tests {
		handler, err := h.For(typ)
		require.NoError(t, err, typ.String())
		proof, err := handler.Handle(context.Background(), StepRequest{})
		require.NoError(t, err)
		assert.Equal(t, want, proof.Signature, typ.String())
	}

	_, err := h.For(plan.StepTypeUnknown)
	assert.ErrorIs(t, err, plan.ErrUnknownStepType)

	_, err = h.For(plan.StepType(99))
	assert.ErrorIs(t, err, plan.ErrUnknownStepType)
}

func TestHandlers_ForMissing(t *testing.T) {
	_, err := Handlers{}.For(plan.StepTypeSwap)
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestCallbacks_NilSafe(t *testing.T) {
	var c Callbacks
	c.OnSuccess()
	c.OnFailure(assert.AnError, nil)
	c.SetSteps(nil)
	c.SetCurrentStep(plan.PlanStep{}, true)

	calls := 0
	c = Callbacks{Success: func() { calls++ }}
	c.OnSuccess()
	assert.Equal(t, 1, calls)
}
