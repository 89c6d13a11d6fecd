package util

import "strings"

// maxLoggedLength caps user-supplied values in logs to keep a hostile
// client from flooding them.
const maxLoggedLength = 200

// SanitizeForLog makes a user-supplied string safe for log output:
// newlines and other control characters are stripped and the length
// is capped. Use it on every value that originates from a request.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || (r >= 0x7F && r <= 0x9F) {
			continue
		}
		b.WriteRune(r)
		if b.Len() >= maxLoggedLength {
			break
		}
	}
	return b.String()
}
