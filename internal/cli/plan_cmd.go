// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/tradeplan/internal/logging"
	"github.com/jeranaias/tradeplan/internal/plan"
	"github.com/jeranaias/tradeplan/internal/util"
)

func (r *Runner) newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Create, resume and inspect trade plans",
	}
	cmd.AddCommand(r.newPlanCreateCommand(), r.newPlanShowCommand())
	return cmd
}

// =============================================================================
// TRADE FILES
// =============================================================================

// tradeFile is the YAML form of a trade context.
type tradeFile struct {
	Key      string         `yaml:"key"`
	Address  string         `yaml:"address"`
	Quote    map[string]any `yaml:"quote"`
	Accepted struct {
		InputChainID  uint64 `yaml:"input_chain_id"`
		OutputChainID uint64 `yaml:"output_chain_id"`
		InputToken    string `yaml:"input_token"`
		OutputToken   string `yaml:"output_token"`
		InputAmount   string `yaml:"input_amount"`
		OutputAmount  string `yaml:"output_amount"`
	} `yaml:"accepted"`
}

// loadTradeFile reads a YAML trade file into a trade context.
func loadTradeFile(path string) (plan.TradeContext, error) {
	var tc plan.TradeContext

	data, err := os.ReadFile(path)
	if err != nil {
		return tc, fmt.Errorf("failed to read trade file: %w", err)
	}
	var tf tradeFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return tc, fmt.Errorf("failed to decode trade file %s: %w", path, err)
	}
	if tf.Address == "" {
		return tc, fmt.Errorf("trade file %s: address is required", path)
	}

	tc.Key = tf.Key
	tc.Address = tf.Address
	if len(tf.Quote) > 0 {
		quote, err := json.Marshal(tf.Quote)
		if err != nil {
			return tc, fmt.Errorf("trade file %s: quote: %w", path, err)
		}
		tc.Quote = quote
	}

	a := tf.Accepted
	tc.Accepted = plan.Trade{
		InputChainID:  a.InputChainID,
		OutputChainID: a.OutputChainID,
		InputToken:    a.InputToken,
		OutputToken:   a.OutputToken,
	}
	if a.InputAmount != "" {
		if tc.Accepted.InputAmount, err = plan.ParseAmount(a.InputAmount); err != nil {
			return tc, fmt.Errorf("trade file %s: input_amount: %w", path, err)
		}
	}
	if a.OutputAmount != "" {
		if tc.Accepted.OutputAmount, err = plan.ParseAmount(a.OutputAmount); err != nil {
			return tc, fmt.Errorf("trade file %s: output_amount: %w", path, err)
		}
	}
	return tc, nil
}

// =============================================================================
// PLAN CREATE / SHOW
// =============================================================================

func (r *Runner) newPlanCreateCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a plan for a trade, or resume its in-flight plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return usageError("--file is required")
			}
			tc, err := loadTradeFile(file)
			if err != nil {
				return usageError("%v", err)
			}

			svc, err := r.service()
			if err != nil {
				return err
			}
			resp, err := svc.CreateOrResumePlan(cmd.Context(), tc)
			if err != nil {
				return err
			}
			r.logger.Info("plan ready", logging.KeyPlanID, resp.PlanID, "resumed", resp.Resumed, "steps", len(resp.Steps))

			return r.emit(cmd, resp, func(w io.Writer) error {
				return r.renderPlan(w, resp)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML trade file")
	return cmd
}

func (r *Runner) newPlanShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a plan's live state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := r.service()
			if err != nil {
				return err
			}
			resp, err := svc.PollPlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return r.emit(cmd, resp, func(w io.Writer) error {
				return r.renderPlan(w, resp)
			})
		},
	}
}

// renderPlan prints a plan summary followed by its step table.
func (r *Runner) renderPlan(w io.Writer, resp *plan.PlanResponse) error {
	s := r.styles
	p := plan.Plan{
		ID:               resp.PlanID,
		Steps:            resp.Steps,
		CurrentStepIndex: resp.CurrentStepIndex,
		ExpectedOutput:   resp.ExpectedOutput,
		Status:           resp.Status,
	}

	var b strings.Builder
	b.WriteString(s.Title.Render("Plan "+resp.PlanID) + "\n")
	b.WriteString(s.Field("Status", resp.Status.String()) + "\n")
	b.WriteString(s.Field("Progress", p.Progress()) + "\n")
	b.WriteString(s.Field("Expected output", formatAmount(resp.ExpectedOutput)) + "\n")
	if resp.Resumed {
		b.WriteString(s.Field("Resumed", "yes") + "\n")
	}
	b.WriteString("\n")

	b.WriteString(s.Header.Render(fmt.Sprintf("%-4s %-22s %-12s %s", "#", "TYPE", "CHAIN", "STATUS")) + "\n")
	for _, step := range resp.Steps {
		marker := " "
		if step.Index == resp.CurrentStepIndex && !resp.Status.IsTerminal() {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s%-3d %s %s %s\n",
			marker,
			step.Index,
			util.PadRight(step.Type.String(), 22),
			util.PadRight(r.cfg.ChainName(step.ChainID), 12),
			s.StepStatus(step.Status),
		)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// amountPrinter groups digits of base-unit amounts for display.
var amountPrinter = message.NewPrinter(language.English)

// formatAmount renders a base-unit amount with thousands separators. Values
// outside int64 and unparseable strings are returned unchanged.
func formatAmount(s string) string {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return s
	}
	if !v.IsInt64() {
		return v.String()
	}
	return amountPrinter.Sprintf("%d", v.Int64())
}
