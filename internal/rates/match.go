package rates

import (
	"strings"
	"unicode"
)

// containsPhrase reports whether phrase occurs in text with no letter or digit touching
// either end. Both arguments are compared case-insensitively.
func containsPhrase(text string, phrase string) bool {
	upperText := strings.ToUpper(text)
	upperPhrase := strings.ToUpper(strings.TrimSpace(phrase))
	if len(upperPhrase) == 0 {
		return false
	}

	searchFrom := 0
	for searchFrom <= len(upperText)-len(upperPhrase) {
		offset := strings.Index(upperText[searchFrom:], upperPhrase)
		if offset < 0 {
			return false
		}
		start := searchFrom + offset
		end := start + len(upperPhrase)
		if isPhraseEdge(upperText, start-1, upperPhrase[0]) && isPhraseEdge(upperText, end, upperPhrase[len(upperPhrase)-1]) {
			return true
		}
		searchFrom = start + 1
	}
	return false
}

func isPhraseEdge(text string, position int, phraseEdge byte) bool {
	if position < 0 || position >= len(text) {
		return true
	}
	if !isAlphanumeric(rune(phraseEdge)) {
		return true
	}
	return !isAlphanumeric(rune(text[position]))
}

func isAlphanumeric(character rune) bool {
	return unicode.IsLetter(character) || unicode.IsDigit(character)
}
