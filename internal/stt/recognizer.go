package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-sign/internal/config"
)

var (
	// ErrNoSpeech means the audio held nothing intelligible.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrUnavailable means the backend failed. Callers may retry.
	ErrUnavailable = errors.New("transcription unavailable")
)

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends. pcm is signed 16-bit little-endian.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int) (TranscriptResult, error)
}

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(cfg.MockPhrases), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "openai":
		return NewOpenAIRecognizer(cfg)
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
