package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer wraps a NATS server running inside the process. With
// port 0 it accepts in-process connections only.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start creates and starts an embedded NATS server. It returns nil when the
// bus is not configured as embedded.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Enabled || !cfg.Embedded {
		return nil, nil
	}

	opts := &server.Options{
		ServerName:    "loqa-sign",
		Host:          "127.0.0.1",
		Port:          cfg.Port,
		DontListen:    cfg.Port == 0,
		NoSigs:        true,
		NoLog:         true,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Authorization: cfg.Token,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start within 5 seconds")
	}

	log.Info("embedded NATS server started",
		slog.Int("port", cfg.Port),
		slog.Bool("in_process_only", opts.DontListen))

	return &EmbeddedServer{
		ns:  ns,
		log: log,
	}, nil
}

// Server exposes the underlying server for in-process client connections.
func (e *EmbeddedServer) Server() *server.Server {
	if e == nil {
		return nil
	}
	return e.ns
}

// Shutdown gracefully shuts down the embedded NATS server.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
