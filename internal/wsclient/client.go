// Package wsclient provides a reconnecting consumer for the service's
// WebSocket feeds.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// ErrMaxAttempts is returned by Run when the consecutive reconnect
// budget is spent.
var ErrMaxAttempts = errors.New("reconnect attempts exhausted")

const (
	defaultReconnectDelay = 3 * time.Second
	defaultMaxAttempts    = 10
)

// Config configures a Client. URL is required; zero values elsewhere get
// defaults.
type Config struct {
	URL            string
	Dialer         *websocket.Dialer
	ReconnectDelay time.Duration
	MaxAttempts    int
	Log            *slog.Logger

	// OnConnect runs after each successful dial, before consuming.
	OnConnect func()
	// OnMessage receives every text/binary frame.
	OnMessage func(data []byte)
	// OnDrop runs when an established connection is lost.
	OnDrop func(err error)
}

// Client maintains a WebSocket subscription across connection drops. A
// successful dial resets the attempt counter; once MaxAttempts
// consecutive attempts fail, Run gives up for good.
type Client struct {
	cfg Config
}

// New creates a client. Defaults: gorilla's default dialer, 3s delay, 10
// attempts, slog default logger.
func New(cfg Config) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Client{cfg: cfg}
}

// Run dials and consumes until ctx is cancelled or the attempt budget is
// spent. It returns nil on cancellation and ErrMaxAttempts on give-up.
func (c *Client) Run(ctx context.Context) error {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempts++
			c.cfg.Log.Warn("websocket dial failed", "url", c.cfg.URL, "attempt", attempts, "err", err)
			if attempts >= c.cfg.MaxAttempts {
				return fmt.Errorf("%w: %s: %v", ErrMaxAttempts, c.cfg.URL, err)
			}
			if !c.wait(ctx) {
				return nil
			}
			continue
		}

		attempts = 0
		if c.cfg.OnConnect != nil {
			c.cfg.OnConnect()
		}

		readErr := c.consume(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}

		if c.cfg.OnDrop != nil {
			c.cfg.OnDrop(readErr)
		}
		attempts++
		c.cfg.Log.Warn("websocket connection lost", "url", c.cfg.URL, "attempt", attempts, "err", readErr)
		if attempts >= c.cfg.MaxAttempts {
			return fmt.Errorf("%w: %s: %v", ErrMaxAttempts, c.cfg.URL, readErr)
		}
		if !c.wait(ctx) {
			return nil
		}
	}
}

// consume reads frames until the connection fails. Cancelling ctx closes
// the connection to unblock the read.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(data)
		}
	}
}

// wait sleeps for the reconnect delay. It returns false when ctx is
// cancelled first.
func (c *Client) wait(ctx context.Context) bool {
	t := time.NewTimer(c.cfg.ReconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
