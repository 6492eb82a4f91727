// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the tradeplan command line interface.
//
// Commands:
//   - config show|validate|init: inspect and manage the configuration file
//   - plan create|show: create or resume a plan and inspect plan state
//   - watch: poll a submitted step until it settles
//   - journal list: list recorded execution attempts
//
// Every command accepts --json, which replaces human output with a
// JSONResponse envelope on stdout.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/tradeplan/internal/config"
	"github.com/jeranaias/tradeplan/internal/logging"
	"github.com/jeranaias/tradeplan/internal/planning"
)

// annotationSkipConfig marks commands that must run without a valid config.
const annotationSkipConfig = "tradeplan/skip-config"

// ServiceFactory builds the planning service for a loaded config.
type ServiceFactory func(cfg *config.Config) (planning.Service, error)

// Runner executes one CLI invocation.
type Runner struct {
	stdout     io.Writer
	stderr     io.Writer
	newService ServiceFactory

	// populated per invocation
	cfg        *config.Config
	configPath string
	jsonOut    bool
	logLevel   string
	logger     *slog.Logger
	styles     *Styles
}

// NewRunner creates a runner writing to the process's stdout and stderr.
func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

// NewRunnerWithWriters creates a runner with explicit output streams.
func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout:     stdout,
		stderr:     stderr,
		newService: newPlanningClient,
	}
}

// WithServiceFactory replaces how the planning service is built.
func (r *Runner) WithServiceFactory(f ServiceFactory) *Runner {
	r.newService = f
	return r
}

// Run executes args and returns the process exit code.
func (r *Runner) Run(args []string) int {
	root := r.newRootCommand()
	root.SetArgs(args)

	cmd, err := root.ExecuteC()
	if err == nil {
		return ExitSuccess
	}

	// Flag and argument errors from cobra itself are usage errors
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) && isUsageError(err) {
		err = &CommandError{Code: ExitUsageError, Err: err}
	}

	if r.jsonOut {
		name := ""
		if cmd != nil {
			name = cmd.CommandPath()
		}
		_ = NewJSONErrorResponse(name, err).Write(r.stdout)
	} else {
		styles := r.styles
		if styles == nil {
			styles = NewStyles(r.stderr)
		}
		fmt.Fprintln(r.stderr, styles.Error.Render("Error:")+" "+err.Error())
	}
	return ExitCode(err)
}

func isUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"unknown command", "unknown flag", "unknown shorthand", "accepts ", "requires ", "invalid argument", "flag needs"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

func (r *Runner) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tradeplan",
		Short:         "Execute and inspect multi-step trade plans",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			r.styles = NewStyles(r.stdout)
			if cmd.Annotations[annotationSkipConfig] == "true" {
				r.logger = logging.New(config.Default().Logging, r.stderr)
				return nil
			}
			return r.loadConfig()
		},
	}
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&r.configPath, "config", "", "config file (default ~/.tradeplan/config.toml)")
	flags.BoolVar(&r.jsonOut, "json", false, "write JSON output")
	flags.StringVar(&r.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		r.newConfigCommand(),
		r.newPlanCommand(),
		r.newWatchCommand(),
		r.newJournalCommand(),
		r.newVersionCommand(),
	)
	return root
}

// loadConfig loads the explicit --config file or the default search path.
func (r *Runner) loadConfig() error {
	var (
		cfg *config.Config
		err error
	)
	if r.configPath != "" {
		cfg, err = config.LoadFromPath(r.configPath)
		if err != nil {
			return configError("load config", err)
		}
	} else {
		cfg, err = config.Load()
		if cfg == nil {
			return configError("load config", err)
		}
		if err != nil {
			fmt.Fprintf(r.stderr, "Warning: %v (using defaults)\n", err)
		}
	}

	if r.logLevel != "" {
		cfg.Logging.Level = r.logLevel
	}
	r.cfg = cfg
	r.logger = logging.New(cfg.Logging, r.stderr)
	return nil
}

// activeConfigPath is the file a watch should follow for hot reload, or ""
// when running on built-in defaults.
func (r *Runner) activeConfigPath() string {
	if r.configPath != "" {
		return r.configPath
	}
	for _, pathFn := range []func() (string, error){config.ConfigPathTOML, config.ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func newPlanningClient(cfg *config.Config) (planning.Service, error) {
	return planning.NewClient(cfg.Planning.BaseURL,
		planning.WithAPIKey(cfg.Planning.APIKey),
		planning.WithTimeout(cfg.PlanningTimeout()),
		planning.WithRateLimit(cfg.Planning.RequestsPerSecond, cfg.Planning.Burst),
	)
}

// service builds the planning service for the loaded config.
func (r *Runner) service() (planning.Service, error) {
	svc, err := r.newService(r.cfg)
	if err != nil {
		return nil, configError("planning service", err)
	}
	return svc, nil
}

// emit writes data as a JSON envelope, or calls human when --json is off.
func (r *Runner) emit(cmd *cobra.Command, data any, human func(w io.Writer) error) error {
	if r.jsonOut {
		return NewJSONResponse(cmd.CommandPath(), data).Write(r.stdout)
	}
	return human(r.stdout)
}
