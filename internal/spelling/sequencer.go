// Package spelling fingerspells text that has no whole-phrase asset.
package spelling

import (
	"errors"
	"log/slog"
	"time"
	"unicode"

	"github.com/loqalabs/loqa-sign/internal/assets"
	"github.com/loqalabs/loqa-sign/internal/display"
)

// NoLettersText replaces the viewport when there is nothing to spell.
const NoLettersText = "No letters to display."

const DefaultInterval = time.Second

var ErrNoLetters = errors.New("no letters to display")

// Player is the part of *player.Player the sequencer drives.
type Player interface {
	Load(handle assets.Handle)
	ShowMessage(text string)
}

// Glyphs maps a letter to its image.
type Glyphs interface {
	Glyph(letter rune) assets.Handle
}

type sequence struct {
	letters []rune
	pos     int
	step    display.Timer
}

// Sequencer shows one letter glyph per interval. It must only be used from
// the foreground context.
type Sequencer struct {
	sched    display.Scheduler
	player   Player
	glyphs   Glyphs
	interval time.Duration
	log      *slog.Logger

	gen uint64
	seq *sequence
}

func New(sched display.Scheduler, player Player, glyphs Glyphs, interval time.Duration, log *slog.Logger) *Sequencer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sequencer{
		sched:    sched,
		player:   player,
		glyphs:   glyphs,
		interval: interval,
		log:      log.With(slog.String("component", "spelling")),
	}
}

// Start cancels any sequence in progress and spells the letters of text.
// When text has no letters it shows NoLettersText and returns ErrNoLetters.
func (s *Sequencer) Start(text string) error {
	s.Cancel()

	letters := Letters(text)
	if len(letters) == 0 {
		s.player.ShowMessage(NoLettersText)
		return ErrNoLetters
	}
	s.seq = &sequence{letters: letters}
	s.log.Debug("spelling", slog.Int("letters", len(letters)))
	s.step(s.gen)
	return nil
}

// Cancel drops the current sequence. Steps already scheduled never run.
func (s *Sequencer) Cancel() {
	s.gen++
	if s.seq != nil && s.seq.step != nil {
		s.seq.step.Stop()
	}
	s.seq = nil
}

// Active reports whether a sequence still has letters to show.
func (s *Sequencer) Active() bool {
	return s.seq != nil
}

func (s *Sequencer) step(gen uint64) {
	if gen != s.gen || s.seq == nil {
		return
	}
	seq := s.seq
	seq.step = nil
	s.player.Load(s.glyphs.Glyph(seq.letters[seq.pos]))
	seq.pos++
	if seq.pos >= len(seq.letters) {
		s.seq = nil
		return
	}
	seq.step = s.sched.After(s.interval, func() { s.step(gen) })
}

// Letters keeps the alphabetic runes of text in order.
func Letters(text string) []rune {
	var out []rune
	for _, r := range text {
		if unicode.IsLetter(r) {
			out = append(out, r)
		}
	}
	return out
}
