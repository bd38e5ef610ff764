// Package phrase derives the lookup keys shared by the asset index and the
// utterance resolver.
package phrase

import (
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// Key is a normalized phrase: lower case with punctuation, symbols and
// whitespace removed.
type Key string

// Normalize folds text into a Key. It is idempotent.
func Normalize(text string) Key {
	t := transform.Chain(
		cases.Lower(language.Und),
		runes.Remove(runes.Predicate(strippable)),
	)
	out, _, err := transform.String(t, text)
	if err != nil {
		return Key(fallback(text))
	}
	return Key(out)
}

func strippable(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
}

// fallback handles input the transformer rejects (invalid UTF-8).
func fallback(text string) string {
	out := make([]rune, 0, len(text))
	for _, r := range text {
		if r == unicode.ReplacementChar || strippable(r) {
			continue
		}
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}
