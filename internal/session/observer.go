package session

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Stop reasons reported to observers.
const (
	ReasonCommand      = "command"
	ReasonShutdown     = "shutdown"
	ReasonLoopExited   = "capture_exited"
	FailureNoSpeech    = "no_speech"
	FailureUnavailable = "unavailable"
)

// Observer is notified of session activity on the foreground context.
// Implementations must not block.
type Observer interface {
	SessionStarted(id string)
	SessionStopped(id string, reason string)
	UtteranceResolved(id string, kind string)
	RecognitionFailed(id string, reason string)
	CaptureLoopExited(id string)
}

// Observers fans every notification out in order.
type Observers []Observer

func (o Observers) SessionStarted(id string) {
	for _, obs := range o {
		obs.SessionStarted(id)
	}
}

func (o Observers) SessionStopped(id string, reason string) {
	for _, obs := range o {
		obs.SessionStopped(id, reason)
	}
}

func (o Observers) UtteranceResolved(id string, kind string) {
	for _, obs := range o {
		obs.UtteranceResolved(id, kind)
	}
}

func (o Observers) RecognitionFailed(id string, reason string) {
	for _, obs := range o {
		obs.RecognitionFailed(id, reason)
	}
}

func (o Observers) CaptureLoopExited(id string) {
	for _, obs := range o {
		obs.CaptureLoopExited(id)
	}
}

// Metrics records session activity as OpenTelemetry counters.
type Metrics struct {
	sessions   metric.Int64Counter
	utterances metric.Int64Counter
	failures   metric.Int64Counter
}

func NewMetrics(log *slog.Logger) *Metrics {
	m := &Metrics{}
	if err := m.init(otel.Meter("github.com/loqalabs/loqa-sign/internal/session")); err != nil {
		log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return m
}

func (m *Metrics) init(meter metric.Meter) error {
	var err error
	if m.sessions, err = meter.Int64Counter("loqa_sign_sessions_total",
		metric.WithDescription("Listening sessions started")); err != nil {
		return err
	}
	if m.utterances, err = meter.Int64Counter("loqa_sign_utterances_total",
		metric.WithDescription("Recognized utterances by classification")); err != nil {
		return err
	}
	m.failures, err = meter.Int64Counter("loqa_sign_recognition_failures_total",
		metric.WithDescription("Capture or recognition attempts that produced no text"))
	return err
}

func (m *Metrics) SessionStarted(string) {
	if m.sessions != nil {
		m.sessions.Add(context.Background(), 1)
	}
}

func (m *Metrics) SessionStopped(string, string) {}

func (m *Metrics) UtteranceResolved(_ string, kind string) {
	if m.utterances != nil {
		m.utterances.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (m *Metrics) RecognitionFailed(_ string, reason string) {
	if m.failures != nil {
		m.failures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (m *Metrics) CaptureLoopExited(string) {}
