package utils

import "strings"

// NormalizePlate uppercases a plate and drops every character outside [A-Z0-9].
// The result may be empty; callers decide whether that is an error.
func NormalizePlate(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
