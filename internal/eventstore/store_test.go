package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-sign/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "events.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "ephemeral"})
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.StartSession(ctx, "s"); err != nil {
		t.Fatalf("ephemeral start session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "s", Type: TypeUtterance}); err != nil {
		t.Fatalf("ephemeral append: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, "s", 10)
	if err != nil || events != nil {
		t.Fatalf("expected nothing stored, got %v, %v", events, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})

	sessionID := "session-123"
	if err := es.StartSession(ctx, sessionID); err != nil {
		t.Fatalf("start session: %v", err)
	}
	for _, kind := range []string{"phrase", "unmatched", "command"} {
		if err := es.AppendEvent(ctx, Event{SessionID: sessionID, Type: TypeUtterance, Detail: kind}); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	if err := es.EndSession(ctx, sessionID, "command"); err != nil {
		t.Fatalf("end session: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 || events[0].Detail != "phrase" || events[2].Detail != "command" {
		t.Fatalf("unexpected events: %+v", events)
	}

	sessions, err := es.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Utterances != 3 || sessions[0].StopReason != "command" || sessions[0].StoppedAt.IsZero() {
		t.Fatalf("unexpected session summary: %+v", sessions[0])
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.StartSession(ctx, "old-session"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "old-session", Type: TypeUtterance}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.StartSession(ctx, "new-session"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
	sessions, err := es.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "new-session" {
		t.Fatalf("unexpected sessions after prune: %+v", sessions)
	}
}

func TestSessionRetentionClearsPreviousRun(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"}

	first, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.StartSession(ctx, "previous"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	_ = first.Close()

	second := openStore(t, cfg)
	sessions, err := second.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected previous run cleared, got %+v", sessions)
	}
}

func TestRecorderWritesAsynchronously(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})
	rec := NewRecorder(es, newLogger(), 16)

	rec.SessionStarted("abc")
	rec.UtteranceResolved("abc", "phrase")
	rec.RecognitionFailed("abc", "no_speech")
	rec.SessionStopped("abc", "command")
	rec.CaptureLoopExited("abc")
	rec.Close()
	rec.Close()

	events, err := es.ListSessionEvents(ctx, "abc", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	want := []string{TypeSessionStarted, TypeUtterance, TypeRecognitionFailed, TypeSessionStopped, TypeCaptureExited}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), events)
	}
	for i, w := range want {
		if events[i].Type != w {
			t.Fatalf("event %d = %s, want %s", i, events[i].Type, w)
		}
	}
	sessions, err := es.ListSessions(ctx, 1)
	if err != nil || len(sessions) != 1 || sessions[0].StopReason != "command" {
		t.Fatalf("unexpected session summary: %+v, %v", sessions, err)
	}
}
