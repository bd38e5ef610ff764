// Package resolver classifies recognized speech.
package resolver

import (
	"github.com/loqalabs/loqa-sign/internal/assets"
	"github.com/loqalabs/loqa-sign/internal/phrase"
)

type Kind int

const (
	KindUnmatched Kind = iota
	KindCommand
	KindPhrase
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindPhrase:
		return "phrase"
	default:
		return "unmatched"
	}
}

// Lookup is satisfied by *assets.Index.
type Lookup interface {
	Lookup(key phrase.Key) (assets.Handle, bool)
}

// Result is the classification of one utterance. Handle is set only for
// KindPhrase; Text always carries the original recognized text.
type Result struct {
	Kind   Kind
	Key    phrase.Key
	Handle assets.Handle
	Text   string
}

var stopCommands = map[phrase.Key]struct{}{
	"goodbye":       {},
	"close":         {},
	"exit":          {},
	"stoplistening": {},
}

// IsStopCommand reports whether key ends a listening session.
func IsStopCommand(key phrase.Key) bool {
	_, ok := stopCommands[key]
	return ok
}

// Resolve classifies text. Stop commands win over assets of the same name,
// and phrase matching is exact on the normalized key.
func Resolve(text string, index Lookup) Result {
	key := phrase.Normalize(text)
	res := Result{Key: key, Text: text}
	if IsStopCommand(key) {
		res.Kind = KindCommand
		return res
	}
	if index != nil && key != "" {
		if handle, ok := index.Lookup(key); ok {
			res.Kind = KindPhrase
			res.Handle = handle
			return res
		}
	}
	res.Kind = KindUnmatched
	return res
}
