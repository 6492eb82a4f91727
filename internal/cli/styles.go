// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/tradeplan/internal/plan"
)

// Styles are the shared CLI styles, bound to one output's color profile.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Header  lipgloss.Style
}

// NewStyles builds styles for w. Colors are dropped when w is not a
// terminal or NO_COLOR is set.
func NewStyles(w io.Writer) *Styles {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(ColorProfile(w))

	return &Styles{
		Title: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")), // Cyan
		Label: r.NewStyle().
			Foreground(lipgloss.Color("245")). // Light gray
			Width(18),
		Value: r.NewStyle().
			Foreground(lipgloss.Color("252")), // Off-white
		Success: r.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true),
		Warning: r.NewStyle().
			Foreground(lipgloss.Color("214")), // Orange
		Error: r.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true),
		Dim: r.NewStyle().
			Foreground(lipgloss.Color("242")),
		Header: r.NewStyle().
			Bold(true).
			Underline(true),
	}
}

// StepStatus renders a step status with its color.
func (s *Styles) StepStatus(status plan.StepStatus) string {
	switch status {
	case plan.StepComplete:
		return s.Success.Render(status.String())
	case plan.StepError:
		return s.Error.Render(status.String())
	case plan.StepAwaitingAction:
		return s.Warning.Render(status.String())
	default:
		return s.Dim.Render(status.String())
	}
}

// Outcome renders an execution outcome with its color.
func (s *Styles) Outcome(outcome string) string {
	switch outcome {
	case "succeeded", "expected":
		return s.Success.Render(outcome)
	case "interrupted", "duplicate":
		return s.Warning.Render(outcome)
	case "failed":
		return s.Error.Render(outcome)
	default:
		return outcome
	}
}

// Field renders one "label  value" line.
func (s *Styles) Field(label, value string) string {
	return s.Label.Render(label) + s.Value.Render(value)
}
