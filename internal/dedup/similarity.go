package dedup

import (
	"sort"
	"strings"
	"unicode"
)

// fuzzyTokenThreshold is the trigram overlap at which two tokens count as
// the same word despite inflection ("fires" vs "fired").
const fuzzyTokenThreshold = 0.5

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "as": {}, "at": {}, "by": {},
	"for": {}, "in": {}, "is": {}, "of": {}, "on": {}, "the": {},
	"to": {}, "with": {},
}

// LabelSimilarity scores two event labels in [0,1]. It is a Jaccard overlap
// over content tokens, where tokens match exactly or by trigram overlap so
// inflected forms still count. Word order does not matter, which lets
// "trump fires wray" and "wray fired by trump" score as duplicates.
func LabelSimilarity(left, right string) float64 {
	leftTokens := contentTokens(left)
	rightTokens := contentTokens(right)
	if len(leftTokens) == 0 || len(rightTokens) == 0 {
		return 0
	}

	matchedRight := make([]bool, len(rightTokens))
	intersection := 0
	for _, lt := range leftTokens {
		for i, rt := range rightTokens {
			if matchedRight[i] {
				continue
			}
			if lt == rt || trigramJaccard(lt, rt) >= fuzzyTokenThreshold {
				matchedRight[i] = true
				intersection++
				break
			}
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(leftTokens) + len(rightTokens) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func trigramJaccard(left, right string) float64 {
	leftSet := trigramSet(left)
	rightSet := trigramSet(right)
	if len(leftSet) == 0 || len(rightSet) == 0 {
		return 0
	}

	intersection := 0
	for gram := range leftSet {
		if _, ok := rightSet[gram]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(leftSet) + len(rightSet) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func trigramSet(text string) map[string]struct{} {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) < 3 {
		return map[string]struct{}{string(runes): {}}
	}

	set := make(map[string]struct{}, len(runes)-2)
	for i := 0; i <= len(runes)-3; i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

func contentTokens(label string) []string {
	fields := strings.FieldsFunc(strings.ToLower(label), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if _, skip := stopwords[f]; skip {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// shingleKeys produces the bucket keys for a label: every unordered pair of
// its content tokens, plus the token itself for one-word labels. Two labels
// land in a shared bucket whenever they have two content tokens in common,
// regardless of word order, which bounds the pairwise comparisons without
// missing reworded duplicates.
func shingleKeys(label string) []string {
	tokens := contentTokens(label)
	if len(tokens) == 0 {
		return nil
	}

	unique := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		unique = append(unique, tok)
	}
	sort.Strings(unique)

	if len(unique) == 1 {
		return unique
	}

	keys := make([]string, 0, len(unique)*(len(unique)-1)/2)
	for i := 0; i < len(unique); i++ {
		for j := i + 1; j < len(unique); j++ {
			keys = append(keys, unique[i]+"|"+unique[j])
		}
	}
	return keys
}
