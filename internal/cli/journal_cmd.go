// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/tradeplan/internal/journal"
	"github.com/jeranaias/tradeplan/internal/util"
)

type executionRow struct {
	AttemptID  string `json:"attempt_id"`
	PlanID     string `json:"plan_id"`
	TradeKey   string `json:"trade_key,omitempty"`
	Phase      string `json:"phase"`
	Outcome    string `json:"outcome"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Message    string `json:"message,omitempty"`
	StepIndex  int    `json:"step_index"`
	StartedAt  string `json:"started_at"`
	DurationMs int64  `json:"duration_ms"`
}

func toRow(e journal.Execution) executionRow {
	return executionRow{
		AttemptID:  e.AttemptID,
		PlanID:     e.PlanID,
		TradeKey:   e.TradeKey,
		Phase:      e.Phase,
		Outcome:    e.Outcome,
		ErrorKind:  e.ErrorKind,
		Message:    e.Message,
		StepIndex:  e.StepIndex,
		StartedAt:  e.StartedAt.UTC().Format(time.RFC3339),
		DurationMs: e.Duration().Milliseconds(),
	}
}

func (r *Runner) newJournalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the execution journal",
	}
	cmd.AddCommand(r.newJournalListCommand())
	return cmd
}

func (r *Runner) newJournalListCommand() *cobra.Command {
	var (
		planID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent execution attempts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return usageError("--limit must be >= 0")
			}
			store, err := r.openJournal()
			if err != nil {
				return configError("open journal", err)
			}
			defer store.Close()

			execs, err := store.ListExecutions(cmd.Context(), planID, limit)
			if err != nil {
				return err
			}
			rows := make([]executionRow, len(execs))
			for i, e := range execs {
				rows[i] = toRow(e)
			}

			return r.emit(cmd, rows, func(w io.Writer) error {
				return r.renderExecutions(w, rows)
			})
		},
	}
	cmd.Flags().StringVar(&planID, "plan", "", "only attempts for this plan id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

// Journal table column widths.
const (
	colPlan    = 16
	colPhase   = 10
	colOutcome = 12
	colStep    = 5
	colTook    = 9
)

func (r *Runner) renderExecutions(w io.Writer, rows []executionRow) error {
	s := r.styles
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, s.Dim.Render("No executions recorded."))
		return err
	}

	width := TerminalWidth(w)
	msgWidth := width - (colPlan + colPhase + colOutcome + colStep + colTook + 5)
	if msgWidth < 10 {
		msgWidth = 10
	}

	var b strings.Builder
	header := strings.Join([]string{
		util.PadRight("PLAN", colPlan),
		util.PadRight("PHASE", colPhase),
		util.PadRight("OUTCOME", colOutcome),
		util.PadRight("STEP", colStep),
		util.PadRight("TOOK", colTook),
		"MESSAGE",
	}, " ")
	b.WriteString(s.Header.Render(header) + "\n")

	for _, row := range rows {
		msg := row.Message
		if row.ErrorKind != "" {
			msg = "[" + row.ErrorKind + "] " + msg
		}
		took := (time.Duration(row.DurationMs) * time.Millisecond).String()
		// Outcome is padded before styling so ANSI codes do not skew columns
		outcome := s.Outcome(row.Outcome)
		if pad := colOutcome - util.StringWidth(row.Outcome); pad > 0 {
			outcome += strings.Repeat(" ", pad)
		}
		fmt.Fprintf(&b, "%s %s %s %s %s %s\n",
			util.PadRight(util.ShortID(row.PlanID, 8, 4), colPlan),
			util.PadRight(row.Phase, colPhase),
			outcome,
			util.PadRight(fmt.Sprint(row.StepIndex), colStep),
			util.PadRight(took, colTook),
			util.TruncateWidth(msg, msgWidth),
		)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
