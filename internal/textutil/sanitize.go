package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeIdentifier converts a display name into a lowercase identifier safe
// for cache paths. Spaces and dashes become underscores; characters other
// than ASCII letters, digits, and underscores are dropped. Returns "" when
// nothing usable remains.
func SanitizeIdentifier(value string) string {
	value = strings.TrimSpace(value)
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r == ' ' || r == '-':
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// Truncate shortens text to at most limit runes, appending "..." when
// anything was cut. A limit <= 0 disables truncation.
func Truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimRightFunc(string(runes[:limit]), unicode.IsSpace) + "..."
}

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
