package model

import (
	"strings"
	"unicode/utf8"
)

// Widths of the stored token and address columns
const (
	MaxTokenBytes   = 512
	MaxAddressBytes = 255
)

// ValidText replaces invalid UTF-8, which MySQL and Postgres reject, with U+FFFD
func ValidText(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// Clip shortens s to at most n bytes without splitting a rune
func Clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ClipToken makes a message identifier valid UTF-8 that fits a token column
func ClipToken(s string) string {
	return Clip(ValidText(s), MaxTokenBytes)
}
