package player

import (
	"fmt"
	"image"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-sign/internal/assets"
	"github.com/loqalabs/loqa-sign/internal/display/displaytest"
	"github.com/loqalabs/loqa-sign/internal/imaging"
)

type fakeDecoder map[string]imaging.Animation

func (f fakeDecoder) Decode(path string) (imaging.Animation, error) {
	anim, ok := f[path]
	if !ok {
		return imaging.Animation{}, fmt.Errorf("%w: %s", imaging.ErrAssetNotFound, path)
	}
	return anim, nil
}

func frames(ids ...uint8) []image.Image {
	out := make([]image.Image, len(ids))
	for i, id := range ids {
		out[i] = displaytest.Frame(id)
	}
	return out
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPlayer(dec fakeDecoder) (*Player, *displaytest.Clock, *displaytest.Recorder) {
	clock := displaytest.NewClock()
	rec := &displaytest.Recorder{Clock: clock}
	return New(clock, rec, dec, 0, newLogger()), clock, rec
}

func frameIDs(rec *displaytest.Recorder) []uint8 {
	var ids []uint8
	for _, u := range rec.Updates {
		if !u.IsText() {
			ids = append(ids, displaytest.FrameID(u.Frame))
		}
	}
	return ids
}

func TestLoadStaticShowsOneFrame(t *testing.T) {
	p, clock, rec := newPlayer(fakeDecoder{"logo.png": {Frames: frames(1)}})

	p.Load("logo.png")
	clock.Advance(time.Second)

	if p.Mode() != ModeStatic || p.Playing() {
		t.Fatalf("expected static player, got %s playing=%v", p.Mode(), p.Playing())
	}
	if ids := frameIDs(rec); len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected single frame, got %v", ids)
	}
	if clock.Pending() != 0 {
		t.Fatalf("static asset scheduled work")
	}
}

func TestAnimationCyclesAtDeclaredDelay(t *testing.T) {
	p, clock, rec := newPlayer(fakeDecoder{
		"hello.gif": {Frames: frames(1, 2, 3), Delay: 50 * time.Millisecond},
	})

	p.Load("hello.gif")
	if p.Mode() != ModeAnimating || !p.Playing() {
		t.Fatalf("expected animating player")
	}
	clock.Advance(200 * time.Millisecond)

	want := []uint8{1, 2, 3, 1, 2}
	got := frameIDs(rec)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	if rec.Updates[1].At != 50*time.Millisecond {
		t.Fatalf("expected first tick at 50ms, got %v", rec.Updates[1].At)
	}
	if p.Index() != 1 {
		t.Fatalf("expected index 1, got %d", p.Index())
	}
}

func TestAnimationUsesDefaultDelay(t *testing.T) {
	p, clock, rec := newPlayer(fakeDecoder{"wave.gif": {Frames: frames(1, 2)}})

	p.Load("wave.gif")
	clock.Advance(99 * time.Millisecond)
	if len(rec.Updates) != 1 {
		t.Fatalf("ticked before default delay")
	}
	clock.Advance(time.Millisecond)
	if len(rec.Updates) != 2 {
		t.Fatalf("expected tick at default delay, got %d updates", len(rec.Updates))
	}
}

func TestStopKeepsFrameAndIsIdempotent(t *testing.T) {
	p, clock, rec := newPlayer(fakeDecoder{"wave.gif": {Frames: frames(1, 2, 3)}})

	p.Load("wave.gif")
	clock.Advance(100 * time.Millisecond)
	p.Stop()
	p.Stop()
	clock.Advance(time.Second)

	if p.Playing() || p.Pending() != 0 || clock.Pending() != 0 {
		t.Fatalf("expected no pending ticks after stop")
	}
	if ids := frameIDs(rec); len(ids) != 2 || ids[1] != 2 {
		t.Fatalf("unexpected frames after stop: %v", ids)
	}
	if p.Index() != 1 {
		t.Fatalf("stop moved the frame index")
	}
}

func TestStopOnEmptyPlayer(t *testing.T) {
	p, clock, rec := newPlayer(fakeDecoder{})
	p.Stop()
	p.Stop()
	if p.Mode() != ModeEmpty || len(rec.Updates) != 0 || clock.Pending() != 0 {
		t.Fatalf("stop on empty player changed state")
	}
}

func TestAtMostOnePendingTick(t *testing.T) {
	p, clock, _ := newPlayer(fakeDecoder{
		"a.gif": {Frames: frames(1, 2), Delay: 30 * time.Millisecond},
		"b.gif": {Frames: frames(3, 4), Delay: 70 * time.Millisecond},
	})

	ops := []func(){
		func() { p.Load("a.gif") },
		func() { p.Load("a.gif") },
		func() { p.Load("b.gif") },
		func() { p.Stop() },
		func() { p.Load("b.gif") },
		func() { clock.Advance(45 * time.Millisecond) },
		func() { p.Load("a.gif") },
		func() { clock.Advance(10 * time.Millisecond) },
	}
	for i, op := range ops {
		op()
		if clock.Pending() > 1 || p.Pending() > 1 {
			t.Fatalf("step %d: %d pending ticks", i, clock.Pending())
		}
		if p.Pending() != clock.Pending() {
			t.Fatalf("step %d: player reports %d pending, clock has %d", i, p.Pending(), clock.Pending())
		}
	}
}

func TestLoadSupersedesPreviousAnimation(t *testing.T) {
	p, clock, rec := newPlayer(fakeDecoder{
		"a.gif": {Frames: frames(1, 2, 3), Delay: 40 * time.Millisecond},
		"b.gif": {Frames: frames(10, 11), Delay: 100 * time.Millisecond},
	})

	p.Load("a.gif")
	clock.Advance(60 * time.Millisecond)
	rec.Reset()

	p.Load("b.gif")
	clock.Advance(time.Second)

	for _, id := range frameIDs(rec) {
		if id < 10 {
			t.Fatalf("frame %d of the previous asset rendered after load", id)
		}
	}
	if len(rec.Updates) != 11 {
		t.Fatalf("expected 11 frames of b, got %d", len(rec.Updates))
	}
}

func TestStaleTickIgnoredAfterGenerationChange(t *testing.T) {
	p, _, rec := newPlayer(fakeDecoder{"a.gif": {Frames: frames(1, 2)}})

	p.Load("a.gif")
	stale := p.gen
	p.Stop()
	rec.Reset()

	p.advance(stale)
	if len(rec.Updates) != 0 {
		t.Fatalf("stale tick rendered a frame")
	}
}

func TestMissingAssetShowsNotFound(t *testing.T) {
	p, clock, rec := newPlayer(fakeDecoder{"a.gif": {Frames: frames(1, 2)}})

	p.Load("a.gif")
	p.Load(assets.Handle("missing.gif"))
	clock.Advance(time.Second)

	if p.Mode() != ModeNotFound {
		t.Fatalf("expected not found mode, got %s", p.Mode())
	}
	last := rec.Last()
	if !last.IsText() || last.Text != NotFoundText {
		t.Fatalf("expected placeholder text, got %+v", last)
	}
	if clock.Pending() != 0 {
		t.Fatalf("not found state left a tick scheduled")
	}
}

func TestShowMessageStopsAnimation(t *testing.T) {
	p, clock, rec := newPlayer(fakeDecoder{"a.gif": {Frames: frames(1, 2)}})

	p.Load("a.gif")
	p.ShowMessage("No letters to display.")
	clock.Advance(time.Second)

	if p.Mode() != ModeMessage || clock.Pending() != 0 {
		t.Fatalf("expected message mode with no ticks")
	}
	if rec.Last().Text != "No letters to display." {
		t.Fatalf("unexpected last update %+v", rec.Last())
	}
}
