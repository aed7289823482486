package utils

import (
	"strings"
	"unicode"
)

// SanitizeText trims free text supplied by admins, drops control characters, folds
// runs of whitespace and caps the length in runes.
func SanitizeText(input string, maxRunes int) string {
	input = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, input)
	input = strings.Join(strings.Fields(input), " ")

	if maxRunes > 0 {
		if runes := []rune(input); len(runes) > maxRunes {
			input = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}
	return input
}
