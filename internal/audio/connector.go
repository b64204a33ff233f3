// Package audio connects Nova to its audio backend (a Lavalink node) and
// tracks the per-guild voice sessions the bot holds open.
package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alekspetrov/nova/internal/logging"
)

// ErrBackendRejected marks failures the backend reported itself: a refused
// handshake, a bad password or a non-upgrade HTTP status.
var ErrBackendRejected = errors.New("audio backend rejected connection")

const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = time.Second
)

// Node is a live backend connection.
type Node interface {
	SessionID() string
	Close() error
}

// Dialer opens one backend connection.
type Dialer interface {
	Dial(ctx context.Context) (Node, error)
}

// ConnectorConfig configures a Connector.
type ConnectorConfig struct {
	MaxRetries int
	RetryDelay time.Duration

	// OnExhausted runs once when every attempt failed.
	OnExhausted func(ctx context.Context)

	// Sleep waits between attempts. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Connector dials the backend with a bounded number of attempts.
type Connector struct {
	dialer Dialer
	cfg    ConnectorConfig
	log    *slog.Logger

	exhausted sync.Once

	mu   sync.Mutex
	node Node
}

// NewConnector returns a Connector using d.
func NewConnector(d Dialer, cfg ConnectorConfig) *Connector {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Connector{dialer: d, cfg: cfg, log: logging.WithComponent("audio")}
}

// Connect tries up to MaxRetries times with RetryDelay between attempts.
// It reports whether a node is connected. When every attempt fails the
// OnExhausted hook runs; a cancelled context ends the loop quietly.
func (c *Connector) Connect(ctx context.Context) bool {
	limit := c.cfg.MaxRetries

	for attempt := 1; attempt <= limit; attempt++ {
		c.log.Info("Connecting to audio backend", slog.Int("attempt", attempt), slog.Int("max", limit))

		node, err := c.dialer.Dial(ctx)
		if err == nil {
			c.mu.Lock()
			c.node = node
			c.mu.Unlock()
			c.log.Info("Connected to audio backend",
				slog.Int("attempt", attempt),
				slog.String("session_id", node.SessionID()),
			)
			return true
		}

		if ctx.Err() != nil {
			return false
		}

		if errors.Is(err, ErrBackendRejected) {
			c.log.Error("Audio backend refused connection", slog.Int("attempt", attempt), slog.Any("error", err))
		} else {
			c.log.Error("Unexpected error connecting to audio backend", slog.Int("attempt", attempt), slog.Any("error", err))
		}

		if attempt < limit {
			c.log.Info("Retrying", slog.Duration("delay", c.cfg.RetryDelay))
			if err := c.cfg.Sleep(ctx, c.cfg.RetryDelay); err != nil {
				return false
			}
		}
	}

	c.log.Error("Maximum retries reached, could not connect to audio backend; check host and port",
		slog.Int("attempts", limit),
		slog.String("severity", "critical"),
	)
	c.exhausted.Do(func() {
		if c.cfg.OnExhausted != nil {
			c.cfg.OnExhausted(ctx)
		}
	})
	return false
}

// Node returns the connected node, or nil.
func (c *Connector) Node() Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.node
}

// Close drops the backend connection.
func (c *Connector) Close() error {
	c.mu.Lock()
	node := c.node
	c.node = nil
	c.mu.Unlock()

	if node == nil {
		return nil
	}
	return node.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
