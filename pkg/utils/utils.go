package utils

import (
	"os"
	"strings"
)

type Record = map[string]any

// Cap limits a slice to at most n entries. Batch summaries log a capped
// error list so a pathological batch cannot flood the log.
func Cap[T any](items []T, n int) []T {
	if n >= 0 && len(items) > n {
		return items[:n]
	}
	return items
}

// ExpandEnv expands ${VAR} references in configuration values, leaving
// literal values untouched.
func ExpandEnv(s string) string {
	if strings.Contains(s, "$") {
		return os.ExpandEnv(s)
	}
	return s
}

// FirstNonEmpty returns the first non-empty string.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
