package validators

import "strings"

// SanitizeString trims surrounding whitespace and clamps the result to
// maxLen bytes. A maxLen of zero leaves the length unbounded.
func SanitizeString(input string, maxLen int) string {
	out := strings.TrimSpace(input)
	if maxLen <= 0 || len(out) <= maxLen {
		return out
	}
	return out[:maxLen]
}
