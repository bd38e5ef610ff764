package runtime

import (
	"context"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/eventstore"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeAssets(t *testing.T, dir string) {
	t.Helper()
	anim := &gif.GIF{}
	for i := 0; i < 2; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 8, 8), palette.WebSafe)
		frame.Set(i, i, color.White)
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 5)
	}
	f, err := os.Create(filepath.Join(dir, "hello.gif"))
	if err != nil {
		t.Fatalf("create gif: %v", err)
	}
	if err := gif.EncodeAll(f, anim); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	f.Close()

	logo, err := os.Create(filepath.Join(dir, "signlang.png"))
	if err != nil {
		t.Fatalf("create logo: %v", err)
	}
	if err := png.Encode(logo, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode logo: %v", err)
	}
	logo.Close()
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		return 0, ""
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRuntimeEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeAssets(t, dir)

	cfg := config.Default()
	cfg.HTTP.Port = freePort(t)
	cfg.Assets.Directory = dir
	cfg.Bus.Enabled = true
	cfg.EventStore.RetentionMode = "persistent"
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "events.db")
	cfg.STT.MockPhrases = []string{"hello", "good bye"}
	cfg.STT.MockIntervalMS = 20

	rt := New(cfg, newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	var base string
	eventually(t, "readiness", func() bool {
		if rt.Addr() == "" {
			return false
		}
		base = "http://" + rt.Addr()
		status, _ := get(t, base+"/readyz")
		return status == http.StatusOK
	})

	if status, body := get(t, base+"/healthz"); status != http.StatusOK || body != "ok" {
		t.Fatalf("unexpected health response %d %q", status, body)
	}
	if status, body := get(t, base+"/"); status != http.StatusOK || !strings.Contains(body, "Start Listening") {
		t.Fatalf("unexpected index response %d", status)
	}

	resp, err := http.Post(base+"/api/listen", "application/json", nil)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	resp.Body.Close()

	eventually(t, "a full session in metrics", func() bool {
		_, body := get(t, base+"/metrics")
		return strings.Contains(body, "loqa_sign_sessions_total") &&
			strings.Contains(body, `kind="phrase"`) &&
			strings.Contains(body, `kind="command"`)
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runtime returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not stop")
	}
}

func TestRuntimeShutdownEndsSessionWithShutdownReason(t *testing.T) {
	dir := t.TempDir()
	writeAssets(t, dir)

	cfg := config.Default()
	cfg.HTTP.Port = freePort(t)
	cfg.Assets.Directory = dir
	cfg.EventStore.RetentionMode = "persistent"
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "events.db")
	cfg.STT.MockPhrases = []string{"hello"}
	cfg.STT.MockIntervalMS = 20

	rt := New(cfg, newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	var base string
	eventually(t, "readiness", func() bool {
		if rt.Addr() == "" {
			return false
		}
		base = "http://" + rt.Addr()
		status, _ := get(t, base+"/readyz")
		return status == http.StatusOK
	})
	resp, err := http.Post(base+"/api/listen", "application/json", nil)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	resp.Body.Close()
	eventually(t, "a recognized phrase", func() bool {
		_, body := get(t, base+"/metrics")
		return strings.Contains(body, `kind="phrase"`)
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runtime returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not stop")
	}

	store, err := eventstore.Open(context.Background(), cfg.EventStore, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	sessions, err := store.ListSessions(context.Background(), 1)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].StopReason != "shutdown" {
		t.Fatalf("expected the session to stop for shutdown, got %+v", sessions)
	}
}
