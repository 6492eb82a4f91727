// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package planning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/tradeplan/internal/plan"
)

const planJSON = `{
  "planId": "plan-1",
  "currentStepIndex": 0,
  "expectedOutput": "1000000",
  "status": "active",
  "steps": [
    {"stepIndex": 0, "stepType": "approval", "status": "awaiting_action", "chainId": 1, "payload": {"token": "0xabc"}},
    {"stepIndex": 1, "stepType": "swap", "status": "not_ready", "chainId": 1}
  ]
}`

func TestClient_CreateOrResumePlan(t *testing.T) {
	var got createPlanRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/plans", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, planJSON)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", WithAPIKey("secret"))
	require.NoError(t, err)

	resp, err := c.CreateOrResumePlan(context.Background(), plan.TradeContext{
		Key:     "trade-1",
		Address: "0xuser",
		Quote:   json.RawMessage(`{"amount":"5"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, "trade-1", got.TradeKey)
	assert.Equal(t, "0xuser", got.Address)
	assert.JSONEq(t, `{"amount":"5"}`, string(got.Quote))

	assert.Equal(t, "plan-1", resp.PlanID)
	assert.Equal(t, plan.StatusActive, resp.Status)
	require.Len(t, resp.Steps, 2)
	assert.Equal(t, plan.StepTypeApproval, resp.Steps[0].Type)
	assert.Equal(t, plan.StepAwaitingAction, resp.Steps[0].Status)
	assert.Equal(t, plan.StepTypeSwap, resp.Steps[1].Type)
	assert.Equal(t, plan.StepNotReady, resp.Steps[1].Status)
	assert.JSONEq(t, `{"token":"0xabc"}`, string(resp.Steps[0].Payload))
}

func TestClient_SubmitStepProof(t *testing.T) {
	var got plan.Proof
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/plans/plan-1/steps/2/proof", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	require.NoError(t, c.SubmitStepProof(context.Background(), "plan-1", 2, plan.Proof{Hash: "0xhash"}))
	assert.Equal(t, "0xhash", got.Hash)
	assert.Empty(t, got.Signature)
}

func TestClient_PollPlan_UnknownStepType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		fmt.Fprint(w, `{"planId":"p","steps":[{"stepIndex":0,"stepType":"teleport","status":"complete","chainId":10}],"status":"completed"}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	resp, err := c.PollPlan(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, plan.StatusCompleted, resp.Status)
	assert.Equal(t, plan.StepTypeUnknown, resp.Steps[0].Type)
	assert.Equal(t, plan.StepComplete, resp.Steps[0].Status)
}

func TestClient_APIErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		recoverable bool
		retryable   bool
	}{
		{"nothing to do", http.StatusUnprocessableEntity, `{"code":"NOTHING_TO_DO","message":"no plan needed"}`, true, false},
		{"retry needed", http.StatusConflict, `{"code":"RETRY_NEEDED","message":"not yet indexed"}`, false, true},
		{"server error", http.StatusBadGateway, `upstream down`, false, true},
		{"rate limited", http.StatusTooManyRequests, ``, false, true},
		{"bad request", http.StatusBadRequest, `{"code":"INVALID_QUOTE"}`, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c, err := NewClient(srv.URL)
			require.NoError(t, err)

			_, err = c.PollPlan(context.Background(), "p")
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.recoverable, IsRecoverable(err))
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestClient_RateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"planId":"p","steps":[]}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithRateLimit(20, 1))
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.PollPlan(context.Background(), "p")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), hits.Load())
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond, "two waits of ~50ms each")
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithRateLimit(0.001, 1))
	require.NoError(t, err)

	_, err = c.PollPlan(context.Background(), "p")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.PollPlan(ctx, "p")
	require.Error(t, err)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("not a url")
	assert.Error(t, err)
}

func TestIsRetryable_Transport(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", ErrRetryNeeded)))
	assert.False(t, IsRetryable(context.Canceled))
}
