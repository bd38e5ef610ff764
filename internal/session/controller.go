// Package session runs the listening state machine: a background worker
// captures and recognizes speech while every display change is marshaled
// onto the foreground loop.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-sign/internal/assets"
	"github.com/loqalabs/loqa-sign/internal/resolver"
	"github.com/loqalabs/loqa-sign/internal/spelling"
	"github.com/loqalabs/loqa-sign/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	IdleText         = "Click 'Start Listening' to begin."
	ListeningText    = "Listening continuously... Say 'Good Bye' to stop."
	StoppingText     = "Stopping... Click 'Start Listening' to begin again."
	TranscriptPrefix = "You said: "
	TranscriptIdle   = TranscriptPrefix + "..."
)

type State int

const (
	StateIdle State = iota
	StateListening
)

func (s State) String() string {
	if s == StateListening {
		return "listening"
	}
	return "idle"
}

// Recognizer captures one utterance and returns its text. It blocks and is
// only called from the background worker. Failures wrap stt.ErrNoSpeech or
// stt.ErrUnavailable.
type Recognizer interface {
	CaptureAndRecognizeOnce(ctx context.Context) (string, error)
}

// Poster runs functions on the foreground context. *display.Loop satisfies it.
type Poster interface {
	Post(fn func()) bool
}

// Index is the asset index as seen by the controller.
type Index interface {
	resolver.Lookup
	Reload() error
	Logo() assets.Handle
}

type Player interface {
	Load(handle assets.Handle)
	Stop()
}

type Speller interface {
	Start(text string) error
	Cancel()
}

// View holds the passive labels and the toggle control.
type View interface {
	SetListening(listening bool)
	SetInfo(text string)
	SetTranscript(text string)
}

type Dependencies struct {
	Loop       Poster
	Recognizer Recognizer
	Index      Index
	Player     Player
	Speller    Speller
	View       View
	Observer   Observer
	// RetryDelay pauses the worker after a backend failure. Zero retries
	// immediately.
	RetryDelay time.Duration
}

// run is one listening session. listening is the only state the worker
// shares with the foreground loop. done closes when the worker exits.
type run struct {
	id        string
	listening atomic.Bool
	done      chan struct{}
}

// Controller methods other than Close must be called on the foreground loop.
type Controller struct {
	deps   Dependencies
	log    *slog.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	state State
	cur   *run
	// last is the most recent run, kept after it stops so the next worker
	// can wait for its capture to finish.
	last *run
}

func NewController(parent context.Context, deps Dependencies, log *slog.Logger) *Controller {
	ctx, cancel := context.WithCancel(parent)
	if deps.Observer == nil {
		deps.Observer = Observers(nil)
	}
	return &Controller{
		deps:   deps,
		log:    log.With(slog.String("component", "session")),
		tracer: otel.Tracer("github.com/loqalabs/loqa-sign/internal/session"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ShowIdle puts the idle logo and labels on screen.
func (c *Controller) ShowIdle() {
	c.deps.Speller.Cancel()
	c.deps.Player.Load(c.deps.Index.Logo())
	c.deps.View.SetTranscript(TranscriptIdle)
	c.deps.View.SetInfo(IdleText)
	c.deps.View.SetListening(false)
}

func (c *Controller) State() State {
	return c.state
}

// SessionID is empty while idle.
func (c *Controller) SessionID() string {
	if c.cur == nil {
		return ""
	}
	return c.cur.id
}

// Start begins a listening session. It is a no-op while already listening.
func (c *Controller) Start() {
	if c.state == StateListening {
		c.log.Debug("start ignored, already listening")
		return
	}
	if c.ctx.Err() != nil {
		return
	}
	if err := c.deps.Index.Reload(); err != nil {
		c.log.Warn("asset reload failed", slog.String("error", err.Error()))
	}

	r := &run{id: uuid.NewString(), done: make(chan struct{})}
	r.listening.Store(true)
	prev := c.last
	c.cur = r
	c.last = r
	c.state = StateListening

	c.deps.View.SetListening(true)
	c.deps.View.SetInfo(ListeningText)
	c.log.Info("session started", slog.String("session_id", r.id))
	c.deps.Observer.SessionStarted(r.id)

	c.wg.Add(1)
	go c.captureLoop(r, prev)
}

// Stop ends the current session and returns to the idle display. The
// worker observes the change at its next iteration boundary.
func (c *Controller) Stop(reason string) {
	if c.state != StateListening {
		return
	}
	r := c.cur
	r.listening.Store(false)
	c.cur = nil
	c.state = StateIdle

	c.deps.Speller.Cancel()
	c.deps.Player.Stop()
	c.deps.Player.Load(c.deps.Index.Logo())
	c.deps.View.SetTranscript(TranscriptIdle)
	c.deps.View.SetInfo(StoppingText)
	c.deps.View.SetListening(false)
	c.log.Info("session stopped", slog.String("session_id", r.id), slog.String("reason", reason))
	c.deps.Observer.SessionStopped(r.id, reason)
}

// Close interrupts any in-flight capture and waits for the worker to exit.
// It may be called from any goroutine.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

// Shutdown ends the current session with ReasonShutdown on the loop, then
// closes the controller. Later Start calls are ignored. It may be called from
// any goroutine while the loop is running.
func (c *Controller) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	posted := c.deps.Loop.Post(func() {
		defer close(done)
		c.Stop(ReasonShutdown)
		c.cancel()
	})
	if posted {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	c.Close()
}

func (c *Controller) captureLoop(r *run, prev *run) {
	defer c.wg.Done()
	defer close(r.done)
	defer c.deps.Loop.Post(func() { c.loopExited(r) })

	// One microphone reader at a time: a restart right after a stop waits
	// for the previous worker's in-flight capture.
	if prev != nil {
		select {
		case <-prev.done:
		case <-c.ctx.Done():
			return
		}
	}

	for r.listening.Load() {
		text, err := c.deps.Recognizer.CaptureAndRecognizeOnce(c.ctx)
		if c.ctx.Err() != nil {
			return
		}
		if !c.deps.Loop.Post(func() { c.handle(r, text, err) }) {
			return
		}
		if err != nil && !errors.Is(err, stt.ErrNoSpeech) && c.deps.RetryDelay > 0 {
			select {
			case <-time.After(c.deps.RetryDelay):
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *Controller) handle(r *run, text string, err error) {
	if c.cur != r {
		c.log.Debug("dropping result from finished session", slog.String("session_id", r.id))
		return
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = stt.ErrNoSpeech
	}
	if err != nil {
		if errors.Is(err, stt.ErrNoSpeech) {
			c.log.Debug("no speech recognized", slog.String("session_id", r.id))
			c.deps.Observer.RecognitionFailed(r.id, FailureNoSpeech)
			return
		}
		c.log.Warn("recognition failed", slog.String("session_id", r.id), slog.String("error", err.Error()))
		c.deps.Observer.RecognitionFailed(r.id, FailureUnavailable)
		return
	}
	c.dispatch(r, text)
}

func (c *Controller) dispatch(r *run, text string) {
	_, span := c.tracer.Start(c.ctx, "session.dispatch",
		trace.WithAttributes(attribute.String("session.id", r.id)))
	defer span.End()

	res := resolver.Resolve(text, c.deps.Index)
	span.SetAttributes(attribute.String("utterance.kind", res.Kind.String()))
	c.log.Info("utterance", slog.String("session_id", r.id), slog.String("kind", res.Kind.String()))

	c.deps.View.SetTranscript(TranscriptPrefix + text)
	c.deps.Observer.UtteranceResolved(r.id, res.Kind.String())

	switch res.Kind {
	case resolver.KindCommand:
		c.Stop(ReasonCommand)
	case resolver.KindPhrase:
		c.deps.Speller.Cancel()
		c.deps.Player.Load(res.Handle)
	default:
		if err := c.deps.Speller.Start(text); err != nil {
			if errors.Is(err, spelling.ErrNoLetters) {
				c.log.Debug("nothing to spell", slog.String("session_id", r.id))
				return
			}
			c.log.Warn("spelling failed", slog.String("session_id", r.id), slog.String("error", err.Error()))
		}
	}
}

func (c *Controller) loopExited(r *run) {
	c.deps.Observer.CaptureLoopExited(r.id)
	if c.cur == r {
		c.Stop(ReasonLoopExited)
	}
}
