package logging

import "go.uber.org/zap"

// RedactSecret renders a credential for display without exposing it. Empty
// values report "(not set)"; short values are fully masked because a prefix
// would leak most of the secret; longer values keep a four-character prefix
// so operators can tell keys apart.
func RedactSecret(value string) string {
	if value == "" {
		return "(not set)"
	}
	r := []rune(value)
	if len(r) <= 8 {
		return "****"
	}
	return string(r[:4]) + "...REDACTED"
}

// Secret creates a zap field carrying the redacted form of a credential.
func Secret(key, value string) zap.Field {
	return zap.String(key, RedactSecret(value))
}
