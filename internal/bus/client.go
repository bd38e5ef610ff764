package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection with minimal helpers.
type Client struct {
	conn   *nats.Conn
	log    *slog.Logger
	prefix string
}

// Connect dials the configured servers. Extra options, such as
// nats.InProcessServer for the embedded server, are applied last.
func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger, extra ...nats.Option) (*Client, error) {
	url := strings.Join(cfg.Servers, ",")
	if len(extra) == 0 && url == "" {
		return nil, errors.New("no NATS servers configured")
	}
	if url == "" {
		url = nats.DefaultURL
	}

	timeout := time.Duration(cfg.ConnectTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = nats.DefaultTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	options := []nats.Option{
		nats.Name("loqa-sign"),
		nats.Timeout(timeout),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	options = append(options, extra...)

	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url), slog.Bool("in_process", len(extra) > 0))

	return &Client{
		conn:   conn,
		log:    log,
		prefix: cfg.SubjectPrefix,
	}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	_ = c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// Subject prefixes name with the configured subject prefix.
func (c *Client) Subject(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + "." + name
}

func (c *Client) Logger() *slog.Logger {
	return c.log
}
