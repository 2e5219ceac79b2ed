// Package events maintains the long-lived connection to the switch's system
// event feed and dispatches parking transitions to the presence publisher.
package events

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/namith-arrellio/fs-ec2/internal/esl"
)

// Subscriptions requested on every (re)connect: parking lifecycle plus
// basic channel lifecycle. Custom subclasses must trail the named events.
var feedEvents = []string{
	"CHANNEL_CREATE", "CHANNEL_ANSWER", "CHANNEL_HANGUP",
	"CUSTOM", "valet_parking::info",
}

// Client is the auto-reconnecting event feed subscriber. It runs for the
// lifetime of the process: connection loss is logged and retried after a
// fixed delay, indefinitely.
type Client struct {
	addr       string
	password   string
	retryDelay time.Duration
	handler    func(*esl.Event)
	logger     *slog.Logger

	reconnects atomic.Uint64
}

// NewClient creates a feed client. handler is invoked once per received
// event on its own goroutine, so a slow handler cannot stall delivery.
func NewClient(addr, password string, retryDelay time.Duration, handler func(*esl.Event), logger *slog.Logger) *Client {
	return &Client{
		addr:       addr,
		password:   password,
		retryDelay: retryDelay,
		handler:    handler,
		logger:     logger.With("component", "event_feed"),
	}
}

// Reconnects returns how many connection attempts followed a failure.
func (c *Client) Reconnects() uint64 {
	return c.reconnects.Load()
}

// Run connects and consumes the feed until ctx is cancelled. Every failure
// path funnels into the same fixed-delay retry.
func (c *Client) Run(ctx context.Context) {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			c.logger.Info("event feed client stopping")
			return
		}

		c.logger.Warn("event feed connection lost, retrying",
			"addr", c.addr,
			"retry_in", c.retryDelay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			c.logger.Info("event feed client stopping")
			return
		case <-time.After(c.retryDelay):
			c.reconnects.Add(1)
		}
	}
}

// consume runs one feed connection: dial, authenticate, subscribe, then
// dispatch events until the connection dies.
func (c *Client) consume(ctx context.Context) error {
	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	defer nc.Close()

	// Unblock the read loop when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { nc.Close() })
	defer stop()

	conn := esl.NewConn(nc, c.logger)

	if err := conn.Auth(c.password); err != nil {
		return err
	}
	if err := conn.Subscribe(feedEvents...); err != nil {
		return err
	}

	c.logger.Info("event feed connected", "addr", c.addr)

	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			return err
		}
		// Fire-and-forget: one slow handler must not delay the next event.
		go c.handler(ev)
	}
}
