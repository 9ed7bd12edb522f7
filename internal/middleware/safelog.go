package middleware

import "strings"

// MaskToken masks a push token for log lines (full tokens stay out of logs).
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 8 {
		return "****"
	}
	return s[:8] + "***"
}
