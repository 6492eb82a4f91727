// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// =============================================================================
// PLAN STATUS
// =============================================================================

// Status represents the planning service's view of a whole plan.
type Status int

const (
	// StatusActive - Plan has steps left to execute or confirm
	StatusActive Status = iota

	// StatusCompleted - Every step reached a terminal success state
	StatusCompleted

	// StatusFailed - The planning service gave up on the plan
	StatusFailed

	// StatusExpired - The plan's quote expired before it finished
	StatusExpired
)

// String returns the wire representation of a plan status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further steps can run for the plan.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "active", "":
		*s = StatusActive
	case "completed":
		*s = StatusCompleted
	case "failed":
		*s = StatusFailed
	case "expired":
		*s = StatusExpired
	default:
		return fmt.Errorf("unknown plan status %q", string(text))
	}
	return nil
}

// =============================================================================
// STEP STATUS
// =============================================================================

// StepStatus represents the lifecycle state of a single plan step.
type StepStatus int

const (
	// StepAwaitingAction - The step is ready for the user to act on
	StepAwaitingAction StepStatus = iota

	// StepNotReady - The step depends on an earlier step that has not settled
	StepNotReady

	// StepComplete - The step settled successfully
	StepComplete

	// StepError - The step settled with a failure
	StepError
)

// String returns the wire representation of a step status.
func (s StepStatus) String() string {
	switch s {
	case StepAwaitingAction:
		return "awaiting_action"
	case StepNotReady:
		return "not_ready"
	case StepComplete:
		return "complete"
	case StepError:
		return "step_error"
	default:
		return "unknown"
	}
}

// IsTerminal returns true once the step has left awaiting-action/not-ready.
func (s StepStatus) IsTerminal() bool {
	return s == StepComplete || s == StepError
}

// MarshalText implements encoding.TextMarshaler.
func (s StepStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *StepStatus) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "awaiting_action":
		*s = StepAwaitingAction
	case "not_ready":
		*s = StepNotReady
	case "complete":
		*s = StepComplete
	case "step_error":
		*s = StepError
	default:
		return fmt.Errorf("unknown step status %q", string(text))
	}
	return nil
}

// =============================================================================
// STEP TYPE
// =============================================================================

// StepType is the closed set of actions a plan step can ask for.
// Values outside this set decode to StepTypeUnknown so the executor can
// reject them instead of guessing.
type StepType int

const (
	StepTypeUnknown StepType = iota
	StepTypeApproval
	StepTypeRevocation
	StepTypePermitSignature
	StepTypePermitTransaction
	StepTypeSwap
	StepTypeBatchedSwap
	StepTypeCrossChainSignature
)

var stepTypeNames = map[StepType]string{
	StepTypeApproval:            "approval",
	StepTypeRevocation:          "revocation",
	StepTypePermitSignature:     "permit2_signature",
	StepTypePermitTransaction:   "permit2_transaction",
	StepTypeSwap:                "swap",
	StepTypeBatchedSwap:         "batched_swap",
	StepTypeCrossChainSignature: "cross_chain_signature",
}

// ParseStepType maps a wire name to a StepType. Unrecognized names yield
// StepTypeUnknown.
func ParseStepType(name string) StepType {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range stepTypeNames {
		if n == name {
			return t
		}
	}
	return StepTypeUnknown
}

// String returns the wire representation of a step type.
func (t StepType) String() string {
	if n, ok := stepTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (t StepType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It never fails; unknown
// names become StepTypeUnknown.
func (t *StepType) UnmarshalText(text []byte) error {
	*t = ParseStepType(string(text))
	return nil
}

// =============================================================================
// PLAN STEP
// =============================================================================

// PlanStep is an immutable snapshot of one step as reported by the planning
// service. Each poll supersedes the previous snapshot wholesale.
type PlanStep struct {
	// Index is the step's position within the plan
	Index int `json:"stepIndex"`

	// Type selects the handler that executes the step
	Type StepType `json:"stepType"`

	// Status is the step's lifecycle state at snapshot time
	Status StepStatus `json:"status"`

	// ChainID is the chain the step's action must run on
	ChainID uint64 `json:"chainId"`

	// Payload is the opaque step body passed through to the handler
	Payload json.RawMessage `json:"payload,omitempty"`
}

// =============================================================================
// PLAN RESPONSE
// =============================================================================

// PlanResponse is the planning service's representation of a plan.
type PlanResponse struct {
	PlanID           string     `json:"planId"`
	Steps            []PlanStep `json:"steps"`
	CurrentStepIndex int        `json:"currentStepIndex"`
	ExpectedOutput   string     `json:"expectedOutput"`
	Status           Status     `json:"status"`

	// Resumed is set by the service when CreateOrResumePlan returned an
	// existing in-flight plan instead of creating one.
	Resumed bool `json:"resumed,omitempty"`
}

// ExpectedOutputAmount parses ExpectedOutput as a base-unit integer amount.
func (r *PlanResponse) ExpectedOutputAmount() (*big.Int, error) {
	return ParseAmount(r.ExpectedOutput)
}

// CloneSteps returns a copy of the response's steps.
func (r *PlanResponse) CloneSteps() []PlanStep {
	return CloneSteps(r.Steps)
}

// CloneSteps copies a step list so callers never share backing arrays.
func CloneSteps(steps []PlanStep) []PlanStep {
	if steps == nil {
		return nil
	}
	out := make([]PlanStep, len(steps))
	copy(out, steps)
	return out
}

// NextActionableIndex returns the index of the first step awaiting action,
// or -1 when none is.
func NextActionableIndex(steps []PlanStep) int {
	for i, s := range steps {
		if s.Status == StepAwaitingAction {
			return i
		}
	}
	return -1
}

// FindStep returns the step with the given step index.
func FindStep(steps []PlanStep, index int) (PlanStep, bool) {
	for _, s := range steps {
		if s.Index == index {
			return s, true
		}
	}
	return PlanStep{}, false
}

// =============================================================================
// PLAN
// =============================================================================

// Plan is the executor's working view of a plan: the latest step snapshot and
// the cursor into it.
type Plan struct {
	ID               string
	Steps            []PlanStep
	CurrentStepIndex int
	ExpectedOutput   string
	Status           Status
}

// CurrentStep returns the step under the cursor.
func (p *Plan) CurrentStep() (PlanStep, bool) {
	if p.CurrentStepIndex < 0 || p.CurrentStepIndex >= len(p.Steps) {
		return PlanStep{}, false
	}
	return p.Steps[p.CurrentStepIndex], true
}

// IsLastStep reports whether the cursor sits on the final step.
func (p *Plan) IsLastStep() bool {
	return p.CurrentStepIndex == len(p.Steps)-1
}

// Progress returns the current progress as a string (e.g., "2/5")
func (p *Plan) Progress() string {
	total := len(p.Steps)
	if total == 0 {
		return "0/0"
	}
	current := p.CurrentStepIndex + 1
	if current > total {
		current = total
	}
	return fmt.Sprintf("%d/%d", current, total)
}

// =============================================================================
// TRADE
// =============================================================================

// Trade is the economic summary of a swap the user has seen and accepted.
type Trade struct {
	InputChainID  uint64
	OutputChainID uint64
	InputToken    string
	OutputToken   string
	InputAmount   *big.Int
	OutputAmount  *big.Int
}

// WithOutput returns a copy of the trade with a different output amount.
func (t Trade) WithOutput(amount *big.Int) Trade {
	t.OutputAmount = amount
	return t
}

// TradeContext is everything needed to create or resume a plan for a trade.
type TradeContext struct {
	// Key identifies the trade across executions so an in-flight plan can be
	// found again after the caller navigates away.
	Key string `json:"key" yaml:"key"`

	// Address is the wallet executing the steps
	Address string `json:"address" yaml:"address"`

	// Quote is the opaque quote payload forwarded to the planning service
	Quote json.RawMessage `json:"quote,omitempty" yaml:"-"`

	// Accepted is the trade the user last explicitly accepted
	Accepted Trade `json:"-" yaml:"-"`
}

// Proof is the evidence produced by executing a step. Exactly one of Hash or
// Signature is normally set.
type Proof struct {
	Hash      string `json:"hash,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// IsEmpty reports whether the proof carries neither hash nor signature.
func (p Proof) IsEmpty() bool {
	return p.Hash == "" && p.Signature == ""
}

// ParseAmount parses a non-negative base-10 integer amount.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}
