package market

import (
	"strings"
)

// NormalizeID lower-cases an identifier and collapses every run of
// whitespace into a single hyphen.
//
// Examples:
//   - "New  Delhi" -> "new-delhi"
//   - " Tomato "   -> "tomato"
func NormalizeID(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}

// DateLayout is the provider's ISO date format.
const DateLayout = "2006-01-02"
