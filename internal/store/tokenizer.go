package store

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenize splits text into lowercase index terms.
//
// Latin letters and digits form word tokens. Each CJK ideograph is emitted as
// its own token so that Chinese and Japanese text can be matched without a
// segmentation dictionary. Every other rune acts as a separator.
func Tokenize(text string) []string {
	tokens := make([]string, 0, len(text)/4)
	scanTokens(text, func(term string, _, _ int, _ bool) {
		tokens = append(tokens, term)
	})
	return tokens
}

// scanTokens walks text and calls emit for every token with its byte offsets
// in the original text.
func scanTokens(text string, emit func(term string, start, end int, ideograph bool)) {
	var word strings.Builder
	wordStart := -1

	flush := func(end int) {
		if wordStart >= 0 {
			emit(word.String(), wordStart, end, false)
			word.Reset()
			wordStart = -1
		}
	}

	for i, r := range text {
		switch {
		case r == utf8.RuneError:
			flush(i)
		case isCJK(r):
			flush(i)
			emit(string(r), i, i+utf8.RuneLen(r), true)
		case isWordRune(r):
			if wordStart < 0 {
				wordStart = i
			}
			word.WriteRune(unicode.ToLower(r))
		default:
			flush(i)
		}
	}
	flush(len(text))
}

// isWordRune reports whether r belongs to a Latin word or number.
func isWordRune(r rune) bool {
	if r >= '0' && r <= '9' {
		return true
	}
	return unicode.IsLetter(r) && unicode.In(r, unicode.Latin)
}

// isCJK reports whether r is a CJK ideograph (Han script).
func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// UniqueTerms returns tokens with duplicates removed, first occurrence order kept.
func UniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
