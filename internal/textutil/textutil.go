// Package textutil holds the small text normalization helpers shared by
// the scanner, sandbox, and prompt builder.
package textutil

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Compact collapses all whitespace runs to single spaces, trims, and
// truncates to maxLen visible columns with a "..." tail.
func Compact(text string, maxLen int) string {
	line := strings.Join(strings.Fields(text), " ")
	if runewidth.StringWidth(line) <= maxLen {
		return line
	}
	return runewidth.Truncate(line, maxLen, "...")
}

// EstimateTokens approximates token count as ceil(charCount / 4).
func EstimateTokens(charCount int) int {
	if charCount <= 0 {
		return 0
	}
	return (charCount + 3) / 4
}

// ParseBool accepts the loose truthy forms used on the config surface.
func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
