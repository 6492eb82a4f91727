// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var buildInfo = BuildInfo{Version: "dev", GitCommit: "unknown", BuildDate: "unknown"}

// SetBuildInfo records the values injected by the linker.
func SetBuildInfo(version, commit, date string) {
	buildInfo.Version = version
	buildInfo.GitCommit = commit
	buildInfo.BuildDate = date
}

func (r *Runner) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationSkipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			info := buildInfo
			info.GoVersion = runtime.Version()
			info.Platform = runtime.GOOS + "/" + runtime.GOARCH
			return r.emit(cmd, info, func(w io.Writer) error {
				fmt.Fprintf(w, "tradeplan %s (%s, built %s)\n", info.Version, info.GitCommit, info.BuildDate)
				fmt.Fprintf(w, "%s %s\n", info.GoVersion, info.Platform)
				return nil
			})
		},
	}
}
