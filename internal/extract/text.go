package extract

import (
	"strings"
	"unicode/utf8"
)

// CleanText trims s and collapses every whitespace run, newlines and
// non-breaking spaces included, into a single space.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	count := 0
	for pos := range s {
		if count == limit {
			return s[:pos]
		}
		count++
	}
	return s
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
