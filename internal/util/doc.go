// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the config layer and the CLI.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//
// Terminal Text:
//   - StringWidth, TruncateWidth, PadRight: display-width aware column helpers
//   - ShortID: head...tail shortening for plan ids and tx hashes
//
// # Usage
//
//	// Write config atomically to prevent a torn file
//	err := util.AtomicWriteFile(path, data, 0600)
//
//	// Fit a token symbol into a fixed column
//	cell := util.PadRight(symbol, 12)
package util
