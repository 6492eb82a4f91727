// tradeplan - execute and inspect multi-step trade plans.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"

	"github.com/jeranaias/tradeplan/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	cli.SetBuildInfo(Version, GitCommit, BuildDate)
	os.Exit(cli.NewRunner().Run(os.Args[1:]))
}
