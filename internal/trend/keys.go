package trend

import (
	"strings"
	"unicode"
)

// eventPhraseMinWords is the boundary between an entity-only label
// ("wray") and an event-phrase label ("trump fires wray").
const eventPhraseMinWords = 3

// DeriveEventKey produces the stable identity for a piece of evidence from
// its title and extracted entities. The key is the normalized title; the
// primary entity is the first extracted entity that actually appears in the
// title on a word boundary, falling back to the first entity.
func DeriveEventKey(title string, entities []string) (key, label, primaryEntity string) {
	label = NormalizeLabel(title)
	if label == "" {
		return "", "", ""
	}

	for _, entity := range entities {
		normalized := NormalizeLabel(entity)
		if normalized == "" {
			continue
		}
		if primaryEntity == "" {
			primaryEntity = normalized
		}
		if ContainsWord(label, normalized) {
			primaryEntity = normalized
			break
		}
	}

	key = strings.ReplaceAll(label, " ", "-")
	return key, label, primaryEntity
}

// NormalizeLabel lowercases, strips punctuation and collapses whitespace.
func NormalizeLabel(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// ContainsWord reports whether term occurs in text as a whole-word (possibly
// multi-word) sequence. Substring hits inside larger words do not count, so
// "ny" never matches inside "many".
func ContainsWord(text, term string) bool {
	textTokens := tokenize(text)
	termTokens := tokenize(term)
	if len(textTokens) == 0 || len(termTokens) == 0 {
		return false
	}

	for i := 0; i+len(termTokens) <= len(textTokens); i++ {
		matched := true
		for j, want := range termTokens {
			if textTokens[i+j] != want {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// IsEventPhrase reports whether a label describes an event rather than a
// bare entity.
func IsEventPhrase(label string) bool {
	return len(tokenize(label)) >= eventPhraseMinWords
}

// IsEntityOnly reports whether a label is at most two words, the shape of a
// bare entity mention.
func IsEntityOnly(label string) bool {
	n := len(tokenize(label))
	return n > 0 && n <= 2
}

func tokenize(text string) []string {
	normalized := NormalizeLabel(text)
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}
