package policy

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// SanitizeUTF8 decodes b as UTF-8, replacing invalid sequences with U+FFFD.
func SanitizeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return string([]rune(string(b)))
	}
	return string(out)
}

// Truncate shortens s to at most n bytes without splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// CapOutput sanitizes raw process output and truncates it to n bytes.
func CapOutput(b []byte, n int) string {
	return Truncate(SanitizeUTF8(b), n)
}
