// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// UNICODE: Width-aware helpers for terminal tables. Token symbols and
// chain names may contain wide characters, so column math uses display
// width rather than byte or rune counts.

// Ellipsis is appended to truncated cells.
const Ellipsis = "..."

// StringWidth returns the display width of s in terminal columns.
func StringWidth(s string) int {
	return runewidth.StringWidth(s)
}

// TruncateWidth truncates s so its display width, including the trailing
// ellipsis, is at most maxWidth.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= len(Ellipsis) {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, Ellipsis)
}

// PadRight truncates or pads s to exactly width columns.
func PadRight(s string, width int) string {
	s = TruncateWidth(s, width)
	return runewidth.FillRight(s, width)
}

// ShortID shortens long identifiers (plan ids, tx hashes) to head...tail.
func ShortID(id string, head, tail int) string {
	if head < 0 || tail < 0 || len(id) <= head+tail+len(Ellipsis) {
		return id
	}
	var b strings.Builder
	b.WriteString(id[:head])
	b.WriteString(Ellipsis)
	b.WriteString(id[len(id)-tail:])
	return b.String()
}
