// Package player shows sign assets in the viewport, cycling through the
// frames of animated assets until it is stopped or another asset is loaded.
package player

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-sign/internal/assets"
	"github.com/loqalabs/loqa-sign/internal/display"
	"github.com/loqalabs/loqa-sign/internal/imaging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// NotFoundText replaces the viewport when an asset cannot be shown.
const NotFoundText = "Image not found."

// DefaultFrameDelay applies to animations that declare no delay of their own.
const DefaultFrameDelay = 100 * time.Millisecond

// Decoder turns an asset handle into resized frames.
type Decoder interface {
	Decode(path string) (imaging.Animation, error)
}

type Mode int

const (
	ModeEmpty Mode = iota
	ModeStatic
	ModeAnimating
	ModeNotFound
	ModeMessage
)

func (m Mode) String() string {
	switch m {
	case ModeStatic:
		return "static"
	case ModeAnimating:
		return "animating"
	case ModeNotFound:
		return "not_found"
	case ModeMessage:
		return "message"
	default:
		return "empty"
	}
}

// state is replaced wholesale on every display change.
type state struct {
	mode   Mode
	handle assets.Handle
	frames []image.Image
	index  int
	delay  time.Duration
	tick   display.Timer
}

// Player must only be used from the foreground context that owns sched and out.
type Player struct {
	sched        display.Scheduler
	out          display.Renderer
	dec          Decoder
	defaultDelay time.Duration
	log          *slog.Logger

	gen uint64
	st  state

	loads metric.Int64Counter
}

func New(sched display.Scheduler, out display.Renderer, dec Decoder, defaultDelay time.Duration, log *slog.Logger) *Player {
	if defaultDelay <= 0 {
		defaultDelay = DefaultFrameDelay
	}
	p := &Player{
		sched:        sched,
		out:          out,
		dec:          dec,
		defaultDelay: defaultDelay,
		log:          log.With(slog.String("component", "player")),
	}
	if err := p.initMetrics(); err != nil {
		p.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return p
}

func (p *Player) initMetrics() error {
	counter, err := otel.Meter("github.com/loqalabs/loqa-sign/internal/player").Int64Counter(
		"loqa_sign_asset_loads_total",
		metric.WithDescription("Asset loads by result"),
	)
	if err != nil {
		return err
	}
	p.loads = counter
	return nil
}

// Load replaces whatever is shown with the asset. Decode failures leave the
// player in ModeNotFound showing NotFoundText.
func (p *Player) Load(handle assets.Handle) {
	p.Stop()

	anim, err := p.dec.Decode(string(handle))
	if err == nil && len(anim.Frames) == 0 {
		err = imaging.ErrDecode
	}
	if err != nil {
		result := "decode_error"
		if errors.Is(err, imaging.ErrAssetNotFound) {
			result = "not_found"
		}
		p.record(result)
		p.log.Warn("asset unavailable", slog.String("asset", string(handle)), slog.String("error", err.Error()))
		p.st = state{mode: ModeNotFound, handle: handle}
		p.out.ShowText(NotFoundText)
		return
	}
	p.record("ok")

	delay := anim.Delay
	if delay <= 0 {
		delay = p.defaultDelay
	}
	p.st = state{
		mode:   ModeStatic,
		handle: handle,
		frames: anim.Frames,
		delay:  delay,
	}
	p.out.ShowFrame(p.st.frames[0])
	if len(p.st.frames) > 1 {
		p.st.mode = ModeAnimating
		p.schedule()
	}
}

// ShowMessage replaces the viewport with text.
func (p *Player) ShowMessage(text string) {
	p.Stop()
	p.st = state{mode: ModeMessage}
	p.out.ShowText(text)
}

// Stop cancels the pending frame advance and keeps the current frame on
// screen. It is safe to call at any time.
func (p *Player) Stop() {
	p.gen++
	if p.st.tick != nil {
		p.st.tick.Stop()
		p.st.tick = nil
	}
	if p.st.mode == ModeAnimating {
		p.st.mode = ModeStatic
	}
}

func (p *Player) Mode() Mode { return p.st.mode }

// Playing reports whether a frame advance is scheduled.
func (p *Player) Playing() bool { return p.st.tick != nil }

// Pending is the number of scheduled frame advances, never more than one.
func (p *Player) Pending() int {
	if p.st.tick != nil {
		return 1
	}
	return 0
}

// Index is the frame currently on screen.
func (p *Player) Index() int { return p.st.index }

// Current is the handle of the last loaded asset.
func (p *Player) Current() assets.Handle { return p.st.handle }

func (p *Player) schedule() {
	gen := p.gen
	p.st.tick = p.sched.After(p.st.delay, func() { p.advance(gen) })
}

func (p *Player) advance(gen uint64) {
	if gen != p.gen || p.st.mode != ModeAnimating {
		return
	}
	p.st.tick = nil
	p.st.index = (p.st.index + 1) % len(p.st.frames)
	p.out.ShowFrame(p.st.frames[p.st.index])
	p.schedule()
}

func (p *Player) record(result string) {
	if p.loads == nil {
		return
	}
	p.loads.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}
