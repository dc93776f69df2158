package util

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizeTenantID normalizes an externally supplied tenant identifier
// into a filesystem- and key-safe form: accents are stripped and every
// character outside [A-Za-z0-9_-] becomes an underscore. An empty input
// maps to "default", matching the original server's behaviour.
func SanitizeTenantID(raw string) string {
	if raw == "" {
		return "default"
	}
	decomposed := norm.NFD.String(raw)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			// Combining mark left over from decomposition; drop it.
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
