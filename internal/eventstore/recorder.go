package eventstore

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Recorder writes session activity to a Store from its own goroutine so
// callers on the display loop never wait on disk.
type Recorder struct {
	store *Store
	log   *slog.Logger
	ops   chan func(context.Context) error
	wg    sync.WaitGroup
	once  sync.Once
}

func NewRecorder(store *Store, log *slog.Logger, queue int) *Recorder {
	if queue <= 0 {
		queue = 256
	}
	r := &Recorder{
		store: store,
		log:   log.With(slog.String("component", "eventstore-recorder")),
		ops:   make(chan func(context.Context) error, queue),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for op := range r.ops {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := op(ctx); err != nil {
			r.log.Warn("failed to record session activity", slog.String("error", err.Error()))
		}
		cancel()
	}
}

func (r *Recorder) enqueue(op func(context.Context) error) {
	select {
	case r.ops <- op:
	default:
		r.log.Warn("activity queue full, dropping entry")
	}
}

// Close flushes queued entries. The recorder must not be used afterwards.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.ops)
		r.wg.Wait()
	})
}

func (r *Recorder) SessionStarted(id string) {
	now := r.store.clock()
	r.enqueue(func(ctx context.Context) error {
		if err := r.store.StartSession(ctx, id); err != nil {
			return err
		}
		return r.store.AppendEvent(ctx, Event{SessionID: id, Type: TypeSessionStarted, CreatedAt: now})
	})
}

func (r *Recorder) SessionStopped(id string, reason string) {
	now := r.store.clock()
	r.enqueue(func(ctx context.Context) error {
		if err := r.store.AppendEvent(ctx, Event{SessionID: id, Type: TypeSessionStopped, Detail: reason, CreatedAt: now}); err != nil {
			return err
		}
		return r.store.EndSession(ctx, id, reason)
	})
}

func (r *Recorder) UtteranceResolved(id string, kind string) {
	r.append(Event{SessionID: id, Type: TypeUtterance, Detail: kind})
}

func (r *Recorder) RecognitionFailed(id string, reason string) {
	r.append(Event{SessionID: id, Type: TypeRecognitionFailed, Detail: reason})
}

func (r *Recorder) CaptureLoopExited(id string) {
	r.append(Event{SessionID: id, Type: TypeCaptureExited})
}

func (r *Recorder) append(evt Event) {
	evt.CreatedAt = r.store.clock()
	r.enqueue(func(ctx context.Context) error {
		return r.store.AppendEvent(ctx, evt)
	})
}
