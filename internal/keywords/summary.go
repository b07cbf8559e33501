package keywords

import (
	"strings"
	"unicode/utf8"
)

const ellipsis = "..."

// Clip shortens s to at most n runes, marking the cut with an ellipsis.
func Clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= len(ellipsis) {
		return string([]rune(s)[:n])
	}
	r := []rune(s)
	return strings.TrimRight(string(r[:n-len(ellipsis)]), " ") + ellipsis
}

// Summarize returns text itself when short enough, otherwise the longest run
// of whole sentences fitting in maxLen runes, or a clipped prefix when even
// the first sentence is too long.
func Summarize(text string, maxLen int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}

	r := []rune(text)
	cut := -1
	for i := 0; i < maxLen && i < len(r); i++ {
		switch r[i] {
		case '.', '!', '?':
			if i+1 == len(r) || r[i+1] == ' ' {
				cut = i + 1
			}
		}
	}
	if cut > 0 {
		return string(r[:cut])
	}
	return Clip(text, maxLen)
}
