package documents

import (
	"strings"
	"unicode"
)

// tokenize lowercases s and splits it on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// queryTokens returns the distinct tokens of a search term in input order.
func queryTokens(term string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range tokenize(term) {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
