// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for tradeplan.
//
// Supports TOML, JSON and YAML configuration formats, with sensible defaults,
// environment variable overrides, validation and hot reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - EngineConfig: Price threshold, retry limits and delays for plan execution
//   - ChainConfig: Per-chain block times that size backoff delays
//   - PlanningConfig: Planning service URL, API key, timeout and rate limit
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (TRADEPLAN_*)
//   - ~/.tradeplan/config.toml
//   - ~/.tradeplan/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Derive retry policies:
//
//	proof := cfg.ProofPolicy(chainID)
//	poll := cfg.PollPolicy(chainID)
package config
