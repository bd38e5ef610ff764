package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-sign/internal/assets"
	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/capture"
	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/display"
	"github.com/loqalabs/loqa-sign/internal/eventstore"
	"github.com/loqalabs/loqa-sign/internal/imaging"
	"github.com/loqalabs/loqa-sign/internal/natsserver"
	"github.com/loqalabs/loqa-sign/internal/player"
	"github.com/loqalabs/loqa-sign/internal/session"
	"github.com/loqalabs/loqa-sign/internal/spelling"
	"github.com/loqalabs/loqa-sign/internal/stt"
	"github.com/loqalabs/loqa-sign/internal/viewer"
	"github.com/nats-io/nats.go"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	ready      atomic.Bool
	addr       atomic.Value
	wg         sync.WaitGroup

	busClient *bus.Client
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Addr is the address the HTTP server listens on once started.
func (r *Runtime) Addr() string {
	if v, ok := r.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Start runs the application until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	observers := session.Observers{session.NewMetrics(r.logger)}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()
	recorder := eventstore.NewRecorder(store, r.logger, 0)
	defer recorder.Close()
	observers = append(observers, recorder)

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	defer embedded.Shutdown()
	if r.cfg.Bus.Enabled {
		var extra []nats.Option
		if embedded != nil {
			extra = append(extra, nats.InProcessServer(embedded.Server()))
		}
		r.busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger, extra...)
		if err != nil {
			return err
		}
		defer r.busClient.Close()
		observers = append(observers, bus.NewPublisher(r.busClient))
	}

	recognizer, err := stt.New(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("create recognizer: %w", err)
	}
	source, err := capture.NewSource(r.cfg.Capture, r.cfg.STT, r.logger)
	if err != nil {
		return fmt.Errorf("create audio source: %w", err)
	}

	index := assets.New(assets.Options{
		Directory:        r.cfg.Assets.Directory,
		PhraseExtensions: r.cfg.Assets.PhraseExtensions,
		GlyphExtension:   r.cfg.Assets.GlyphExtension,
		Logo:             r.cfg.Assets.Logo,
	}, r.logger)
	if err := index.Reload(); err != nil {
		r.logger.Warn("asset index unavailable", slog.String("error", err.Error()))
	}

	loop := display.NewLoop(r.cfg.Display.QueueSize)
	view := viewer.New(r.logger)
	defer view.Close()
	decoder := imaging.NewDecoder(r.cfg.Display.Width, r.cfg.Display.Height)
	anim := player.New(loop, view, decoder, ms(r.cfg.Display.DefaultFrameDelayMS), r.logger)
	speller := spelling.New(loop, anim, index, ms(r.cfg.Display.SpellIntervalMS), r.logger)

	// The controller outlives ctx so Shutdown can record the stop reason.
	ctrl := session.NewController(context.WithoutCancel(ctx), session.Dependencies{
		Loop:       loop,
		Recognizer: capture.NewPipeline(source, recognizer, r.logger),
		Index:      index,
		Player:     anim,
		Speller:    speller,
		View:       view,
		Observer:   observers,
		RetryDelay: 250 * time.Millisecond,
	}, r.logger)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(loopCtx)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()
	loop.Post(ctrl.ShowIdle)
	view.OnToggle(func() { loop.Post(ctrl.Start) })

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	view.Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		ctrl.Close()
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.addr.Store(listener.Addr().String())
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", listener.Addr().String()), slog.Int("assets", index.Len()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	// Stop capture before the loop so the worker's final notifications land.
	ctrl.Shutdown(shutdownCtx)

	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (!r.cfg.Bus.Enabled || r.busClient.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
