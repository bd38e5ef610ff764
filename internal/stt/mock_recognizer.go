package stt

import (
	"context"
	"sync"
)

type mockRecognizer struct {
	mu      sync.Mutex
	phrases []string
	next    int
}

// NewMockRecognizer cycles through phrases regardless of the audio it is
// given. With no phrases every call reports ErrNoSpeech.
func NewMockRecognizer(phrases []string) Recognizer {
	return &mockRecognizer{phrases: append([]string(nil), phrases...)}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, _ []byte, _ int, _ int) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.phrases) == 0 {
		return TranscriptResult{}, ErrNoSpeech
	}
	text := m.phrases[m.next%len(m.phrases)]
	m.next++
	return TranscriptResult{Text: text, Confidence: 1}, nil
}
