// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/tradeplan/internal/config"
	"github.com/jeranaias/tradeplan/internal/journal"
	"github.com/jeranaias/tradeplan/internal/logging"
	"github.com/jeranaias/tradeplan/internal/plan"
	"github.com/jeranaias/tradeplan/internal/registry"
	"github.com/jeranaias/tradeplan/internal/retry"
	"github.com/jeranaias/tradeplan/internal/watcher"
)

type watchResult struct {
	PlanID    string `json:"plan_id"`
	StepIndex int    `json:"step_index"`
	ChainID   uint64 `json:"chain_id"`
	Status    string `json:"status"`
	PlanState string `json:"plan_status"`
	Elapsed   string `json:"elapsed"`
}

func (r *Runner) newWatchCommand() *cobra.Command {
	var (
		stepIndex int
		chainID   uint64
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <plan-id>",
		Short: "Poll a submitted step until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planID := args[0]
			if stepIndex < 0 {
				return usageError("--step must be >= 0")
			}

			svc, err := r.service()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			// RELIABILITY: polling picks up edited block times and attempt
			// limits without restarting a long watch
			var current atomic.Pointer[config.Config]
			current.Store(r.cfg)
			if path := r.activeConfigPath(); path != "" {
				go r.followConfig(ctx, path, &current)
			}
			policy := func(chainID uint64) retry.Policy {
				return current.Load().PollPolicy(chainID)
			}

			w := watcher.New(svc, registry.New(), policy)
			start := time.Now()
			res, err := w.Watch(ctx, planID, stepIndex, chainID)
			elapsed := time.Since(start)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return &CommandError{Code: ExitTimeoutError, Action: "watch", Err: err}
				}
				return fmt.Errorf("watch %s step %d: %w", planID, stepIndex, err)
			}

			out := watchResult{
				PlanID:    planID,
				StepIndex: stepIndex,
				ChainID:   chainID,
				Status:    res.Step.Status.String(),
				PlanState: res.Response.Status.String(),
				Elapsed:   elapsed.Round(time.Millisecond).String(),
			}
			r.recordWatch(ctx, out, elapsed)

			if err := r.emit(cmd, out, func(w io.Writer) error {
				status := r.styles.StepStatus(res.Step.Status)
				fmt.Fprintf(w, "%s step %d of %s: %s (%s)\n",
					r.styles.Title.Render("Settled"), stepIndex, planID, status, out.Elapsed)
				return nil
			}); err != nil {
				return err
			}
			if res.Step.Status == plan.StepError {
				return &CommandError{Code: ExitGeneralError, Err: fmt.Errorf("step %d failed on chain", stepIndex)}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&stepIndex, "step", 0, "step index to watch")
	cmd.Flags().Uint64Var(&chainID, "chain", 0, "chain id of the step (sets the poll interval)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 = attempt limit only)")
	return cmd
}

// followConfig swaps in reloaded configs until ctx is done. Invalid edits
// are logged and the previous config stays in effect.
func (r *Runner) followConfig(ctx context.Context, path string, current *atomic.Pointer[config.Config]) {
	err := config.Watch(ctx, path, config.DefaultWatchDebounce, func(cfg *config.Config, err error) {
		if err != nil {
			r.logger.Warn("config reload failed", "path", path, "error", err)
			return
		}
		current.Store(cfg)
		r.logger.Info("config reloaded", "path", path)
	})
	if err != nil {
		r.logger.Warn("config watch stopped", "path", path, "error", err)
	}
}

// recordWatch stores the settled step in the journal when it is enabled.
func (r *Runner) recordWatch(ctx context.Context, res watchResult, elapsed time.Duration) {
	if !r.cfg.Journal.Enabled {
		return
	}
	store, err := r.openJournal()
	if err != nil {
		r.logger.Warn("journal unavailable", "error", err)
		return
	}
	defer store.Close()

	err = store.RecordTrade(context.WithoutCancel(ctx), journal.Trade{
		PlanID:     res.PlanID,
		StepIndex:  res.StepIndex,
		ChainID:    res.ChainID,
		Status:     res.Status,
		Latency:    elapsed,
		RecordedAt: time.Now(),
	})
	if err != nil {
		r.logger.Warn("failed to record watch", logging.KeyPlanID, res.PlanID, "error", err)
	}
}

func (r *Runner) openJournal() (*journal.Store, error) {
	path, err := r.cfg.JournalPath()
	if err != nil {
		return nil, err
	}
	return journal.Open(path)
}
