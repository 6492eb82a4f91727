// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/tradeplan/internal/config"
)

func (r *Runner) newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage the configuration file",
	}
	cmd.AddCommand(r.newConfigShowCommand(), r.newConfigValidateCommand(), r.newConfigInitCommand())
	return cmd
}

// =============================================================================
// CONFIG SHOW
// =============================================================================

func (r *Runner) newConfigShowCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := maskSecrets(r.cfg)
			if r.jsonOut {
				return NewJSONResponse(cmd.CommandPath(), cfg).Write(r.stdout)
			}
			return encodeConfig(r.stdout, cfg, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "toml", "output format (toml, json, yaml)")
	return cmd
}

// maskSecrets returns a copy of cfg safe to print.
// SECURITY: the planning API key never reaches stdout
func maskSecrets(cfg *config.Config) *config.Config {
	out := cfg.Clone()
	if out.Planning.APIKey != "" {
		out.Planning.APIKey = maskKey(out.Planning.APIKey)
	}
	return out
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

func encodeConfig(w io.Writer, cfg *config.Config, format string) error {
	switch strings.ToLower(format) {
	case "toml", "":
		return toml.NewEncoder(w).Encode(cfg)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	default:
		return usageError("unknown format %q (expected toml, json or yaml)", format)
	}
}

// =============================================================================
// CONFIG VALIDATE
// =============================================================================

type validateResult struct {
	Path   string `json:"path"`
	Valid  bool   `json:"valid"`
	Source string `json:"source"`
}

func (r *Runner) newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "validate [path]",
		Short:       "Validate a configuration file",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{annotationSkipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := r.activeConfigPath()
			if len(args) == 1 {
				path = args[0]
			}

			res := validateResult{Path: path, Valid: true, Source: "file"}
			if path == "" {
				res.Source = "defaults"
				if err := config.Default().Validate(); err != nil {
					return configError("validate defaults", err)
				}
			} else if _, err := config.LoadFromPath(path); err != nil {
				return configError("validate", err)
			}

			return r.emit(cmd, res, func(w io.Writer) error {
				if res.Source == "defaults" {
					fmt.Fprintln(w, r.styles.Success.Render("OK")+" no config file found, built-in defaults are valid")
					return nil
				}
				fmt.Fprintln(w, r.styles.Success.Render("OK")+" "+path+" is valid")
				return nil
			})
		},
	}
}

// =============================================================================
// CONFIG INIT
// =============================================================================

func (r *Runner) newConfigInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a default configuration file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationSkipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := r.configPath
			if path == "" {
				p, err := config.ConfigPathTOML()
				if err != nil {
					return configError("config path", err)
				}
				path = p
			}

			if _, err := os.Stat(path); err == nil && !force {
				return usageError("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return configError("stat config", err)
			}

			if err := config.SaveTOML(config.Default(), path); err != nil {
				return configError("write config", err)
			}

			return r.emit(cmd, map[string]string{"path": path}, func(w io.Writer) error {
				fmt.Fprintln(w, r.styles.Success.Render("Created")+" "+path)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
