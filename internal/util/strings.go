// Package util holds small internal helpers shared across packages without
// committing to public API stability.
package util

import "strings"

// Truncate shortens s to at most max runes, appending an ellipsis when the
// text was cut. max <= 0 returns s unchanged.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// Fields splits s on whitespace after normalizing hyphens to spaces.
func Fields(s string) []string {
	return strings.Fields(strings.ReplaceAll(s, "-", " "))
}

// AppendIfMissing appends v to items unless it is already present.
func AppendIfMissing(items []string, v string) []string {
	for _, item := range items {
		if item == v {
			return items
		}
	}
	return append(items, v)
}
