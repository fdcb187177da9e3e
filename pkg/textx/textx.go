// Package textx provides small text utilities shared by the usecases.
package textx

import (
	"strings"
)

// SanitizeText normalizes line endings to \n, drops control characters other
// than tab and newline, drops zero-width characters and the byte order mark,
// then trims surrounding whitespace.
func SanitizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\r':
			b.WriteRune('\n')
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r < 32 || r == 127:
		case isInvisible(r):
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func isInvisible(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
		return true
	}
	return false
}
