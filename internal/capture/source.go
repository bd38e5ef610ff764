// Package capture implements the capture and recognition collaborator: it
// listens for one utterance and hands the audio to a recognizer.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/stt"
)

// Utterance is one captured block of speech as signed 16-bit PCM.
type Utterance struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Source blocks until it has captured one utterance.
type Source interface {
	Listen(ctx context.Context) (Utterance, error)
}

// Pipeline captures one utterance and transcribes it.
type Pipeline struct {
	source Source
	rec    stt.Recognizer
	log    *slog.Logger
}

func NewPipeline(source Source, rec stt.Recognizer, log *slog.Logger) *Pipeline {
	return &Pipeline{source: source, rec: rec, log: log.With(slog.String("component", "capture"))}
}

// CaptureAndRecognizeOnce returns recognized text. Failures wrap
// stt.ErrNoSpeech or stt.ErrUnavailable, except context cancellation which
// is returned as is.
func (p *Pipeline) CaptureAndRecognizeOnce(ctx context.Context) (string, error) {
	utt, err := p.source.Listen(ctx)
	if err != nil {
		return "", classify(ctx, "capture", err)
	}
	start := time.Now()
	res, err := p.rec.Transcribe(ctx, utt.PCM, utt.SampleRate, utt.Channels)
	if err != nil {
		return "", classify(ctx, "transcribe", err)
	}
	p.log.Debug("transcribed",
		slog.Int("pcm_bytes", len(utt.PCM)),
		slog.Duration("latency", time.Since(start)),
		slog.Float64("confidence", res.Confidence))
	return res.Text, nil
}

func classify(ctx context.Context, stage string, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, stt.ErrNoSpeech), errors.Is(err, stt.ErrUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", stt.ErrUnavailable, stage, err)
	}
}

// NewSource picks the audio source for the configured recognizer. The mock
// recognizer ignores audio, so it is paired with a Ticker.
func NewSource(capCfg config.CaptureConfig, sttCfg config.STTConfig, log *slog.Logger) (Source, error) {
	if sttCfg.Mode == "" || sttCfg.Mode == "mock" {
		return NewTicker(time.Duration(sttCfg.MockIntervalMS)*time.Millisecond, capCfg.SampleRate, capCfg.Channels), nil
	}
	return NewMicrophone(capCfg, log)
}

// Ticker produces an empty utterance at a fixed interval.
type Ticker struct {
	interval   time.Duration
	sampleRate int
	channels   int
}

func NewTicker(interval time.Duration, sampleRate, channels int) *Ticker {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Ticker{interval: interval, sampleRate: sampleRate, channels: channels}
}

func (t *Ticker) Listen(ctx context.Context) (Utterance, error) {
	timer := time.NewTimer(t.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Utterance{}, ctx.Err()
	case <-timer.C:
		return Utterance{SampleRate: t.sampleRate, Channels: t.channels}, nil
	}
}
