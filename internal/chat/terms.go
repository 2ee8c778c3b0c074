// Package chat implements the context-grounded chat pipeline: context
// assembly, prompt building and AI replies for the web chat and Telegram.
package chat

import (
	"strings"
	"unicode"
)

const maxSearchTerms = 8

var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "all": {}, "also": {}, "and": {}, "any": {}, "are": {},
	"because": {}, "been": {}, "but": {}, "can": {}, "could": {}, "did": {}, "does": {}, "don": {},
	"for": {}, "from": {}, "had": {}, "has": {}, "have": {}, "her": {}, "him": {}, "his": {},
	"how": {}, "its": {}, "just": {}, "like": {}, "more": {}, "not": {}, "now": {}, "our": {},
	"out": {}, "she": {}, "should": {}, "some": {}, "than": {}, "that": {}, "the": {}, "their": {},
	"them": {}, "then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "was": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "will": {}, "with": {},
	"would": {}, "you": {}, "your": {}, "feel": {}, "feeling": {}, "today": {}, "really": {},
}

// SearchTerms extracts lowercase keywords from a free-text query for the
// store's keyword search. Short words and stopwords are dropped and the
// result is deduplicated, keeping first occurrence order.
func SearchTerms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(words))
	terms := make([]string, 0, maxSearchTerms)
	for _, w := range words {
		if len([]rune(w)) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
		if len(terms) == maxSearchTerms {
			break
		}
	}
	return terms
}
