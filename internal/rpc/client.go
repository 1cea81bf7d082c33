// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package rpc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/irregularchat/signalbridge/internal/logging"
	"github.com/irregularchat/signalbridge/internal/metrics"
)

// maxLineSize bounds a single inbound frame. Group listings with full member
// detail are the largest frames observed; 4 MiB leaves ample headroom.
const maxLineSize = 4 << 20

// Config holds transport configuration.
type Config struct {
	// SocketPath is the Unix socket of the external messaging daemon.
	SocketPath string

	// CallTimeout is the default correlation window per call.
	// Default: 30s
	CallTimeout time.Duration

	// ReconnectInitial is the first reconnect delay. Default: 1s
	ReconnectInitial time.Duration

	// ReconnectMax caps the reconnect delay. Default: 32s
	ReconnectMax time.Duration

	// StabilityWindow is how long a connection must survive before the
	// backoff resets to ReconnectInitial. Default: 30s
	StabilityWindow time.Duration

	// NotificationBuffer sizes the notification channel. Default: 256
	NotificationBuffer int

	// WriteRate bounds outbound request frames per second. Zero disables
	// pacing. Default: 50
	WriteRate float64
}

func (c *Config) applyDefaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 32 * time.Second
	}
	if c.StabilityWindow <= 0 {
		c.StabilityWindow = 30 * time.Second
	}
	if c.NotificationBuffer <= 0 {
		c.NotificationBuffer = 256
	}
	if c.WriteRate == 0 {
		c.WriteRate = 50
	}
}

// Dialer produces a connection to the daemon. Injectable for testing.
type Dialer func(ctx context.Context) (net.Conn, error)

// Client maintains one long-lived connection to the messaging daemon and
// multiplexes correlated calls over it. It implements suture.Service via
// Serve.
type Client struct {
	cfg  Config
	dial Dialer
	log  zerolog.Logger

	connMu sync.RWMutex
	conn   net.Conn

	writeMu sync.Mutex
	limiter *rate.Limiter

	pendingMu sync.Mutex
	pending   map[string]chan *frame

	notifications chan *Envelope
}

// NewClient creates a client dialing the configured Unix socket.
func NewClient(cfg Config) *Client {
	cfg.applyDefaults()
	c := newClient(cfg, func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", cfg.SocketPath)
	})
	return c
}

// NewClientWithDialer creates a client with a custom dialer. Tests use this
// with net.Pipe.
func NewClientWithDialer(cfg Config, dial Dialer) *Client {
	cfg.applyDefaults()
	return newClient(cfg, dial)
}

func newClient(cfg Config, dial Dialer) *Client {
	var limiter *rate.Limiter
	if cfg.WriteRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.WriteRate), int(cfg.WriteRate))
	}
	return &Client{
		cfg:           cfg,
		dial:          dial,
		log:           logging.With().Str("component", "rpc").Logger(),
		limiter:       limiter,
		pending:       make(map[string]chan *frame),
		notifications: make(chan *Envelope, cfg.NotificationBuffer),
	}
}

// Notifications returns the channel of inbound asynchronous envelopes.
// Every notification line is delivered exactly once.
func (c *Client) Notifications() <-chan *Envelope {
	return c.notifications
}

// String implements fmt.Stringer for supervision logs.
func (c *Client) String() string { return "daemon-transport" }

// Connected reports whether a live connection exists.
func (c *Client) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// PendingCount returns the number of outstanding calls.
func (c *Client) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// Serve runs the connect/read loop until the context is canceled.
// Connection loss triggers reconnection with exponential backoff, never a
// service exit.
func (c *Client) Serve(ctx context.Context) error {
	delay := c.cfg.ReconnectInitial

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := c.dial(ctx)
		if err != nil {
			metrics.Reconnects.Inc()
			c.log.Warn().Err(err).Dur("retry_in", delay).Msg("daemon dial failed")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = nextDelay(delay, c.cfg.ReconnectMax)
			continue
		}

		c.setConn(conn)
		metrics.ConnectionState.Set(1)
		connectedAt := time.Now()
		c.log.Info().Str("socket", c.cfg.SocketPath).Msg("daemon connected")

		c.readLoop(ctx, conn)

		c.setConn(nil)
		metrics.ConnectionState.Set(0)
		c.failPending()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that survived the stability window earns a fresh
		// backoff; a flapping one keeps growing.
		if time.Since(connectedAt) >= c.cfg.StabilityWindow {
			delay = c.cfg.ReconnectInitial
		} else {
			delay = nextDelay(delay, c.cfg.ReconnectMax)
		}

		metrics.Reconnects.Inc()
		c.log.Warn().Dur("retry_in", delay).Msg("daemon connection lost, reconnecting")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func nextDelay(current, maxDelay time.Duration) time.Duration {
	next := current * 2
	if next > maxDelay {
		next = maxDelay
	}
	return next
}

func (c *Client) setConn(conn net.Conn) {
	c.connMu.Lock()
	old := c.conn
	c.conn = conn
	c.connMu.Unlock()

	if old != nil && conn == nil {
		_ = old.Close()
	}
}

func (c *Client) currentConn() net.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// readLoop is the sole reader of inbound lines. It returns when the
// connection errors or the context is canceled. Malformed lines are dropped
// and logged, never fatal.
func (c *Client) readLoop(ctx context.Context, conn net.Conn) {
	// Unblock the reader when the context is canceled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			metrics.MalformedFrames.Inc()
			c.log.Warn().Err(err).Int("bytes", len(line)).Msg("malformed frame dropped")
			continue
		}

		switch {
		case f.ID != "":
			c.resolve(&f)
		case f.Method != "":
			c.handleNotification(ctx, &f)
		default:
			metrics.MalformedFrames.Inc()
			c.log.Warn().Msg("frame with neither id nor method dropped")
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.log.Warn().Err(err).Msg("read loop terminated")
	}
}

// resolve matches a response frame to its pending call. Responses for calls
// that already timed out are logged and dropped.
func (c *Client) resolve(f *frame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
		metrics.PendingCalls.Set(float64(len(c.pending)))
	}
	c.pendingMu.Unlock()

	if !ok {
		metrics.LateResponses.Inc()
		c.log.Debug().Str("id", f.ID).Msg("late response dropped")
		return
	}
	ch <- f
}

// handleNotification decodes a notification line and forwards its envelope.
// Forwarding blocks when the channel is full; backpressure on the daemon is
// preferable to dropping an inbound message.
func (c *Client) handleNotification(ctx context.Context, f *frame) {
	if f.Method != "receive" {
		c.log.Debug().Str("method", f.Method).Msg("unhandled notification method")
		return
	}

	var params receiveParams
	if err := json.Unmarshal(f.Params, &params); err != nil || params.Envelope == nil {
		metrics.MalformedFrames.Inc()
		c.log.Warn().Err(err).Msg("malformed receive notification dropped")
		return
	}

	metrics.NotificationsReceived.Inc()
	select {
	case c.notifications <- params.Envelope:
	case <-ctx.Done():
	}
}

// failPending resolves every outstanding call with a nil frame, signaling
// connection loss. Call converts nil frames per method class.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- nil
	}
	metrics.PendingCalls.Set(0)
}

// Call issues a correlated request with the default timeout.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (*Result, error) {
	return c.CallTimeout(ctx, method, params, c.cfg.CallTimeout)
}

// CallTimeout issues a correlated request and waits up to timeout for the
// matching response.
//
// Read-only methods report a timeout as ErrTimeout. Mutating methods report
// it as StatusUnconfirmed with a nil error: the daemon frequently completes
// the mutation after the window closes, so the caller sees "likely
// succeeded, unconfirmed" rather than a failure.
func (c *Client) CallTimeout(ctx context.Context, method string, params interface{}, timeout time.Duration) (*Result, error) {
	conn := c.currentConn()
	if conn == nil {
		return nil, ErrNotConnected
	}

	id := uuid.NewString()
	ch := make(chan *frame, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	metrics.PendingCalls.Set(float64(len(c.pending)))
	c.pendingMu.Unlock()

	start := time.Now()
	if err := c.write(ctx, conn, &request{JSONRPC: "2.0", Method: method, Params: params, ID: id}); err != nil {
		c.unregister(id)
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-ch:
		if f == nil {
			// Connection lost after the request was written: the daemon may
			// still have executed it.
			if isMutating(method) {
				metrics.CallDuration.WithLabelValues(method, "unconfirmed").Observe(time.Since(start).Seconds())
				c.log.Warn().Str("method", method).Str("id", id).Msg("connection lost mid-call, reporting unconfirmed")
				return &Result{Status: StatusUnconfirmed}, nil
			}
			metrics.CallDuration.WithLabelValues(method, "error").Observe(time.Since(start).Seconds())
			return nil, ErrNotConnected
		}
		if f.Error != nil {
			metrics.CallDuration.WithLabelValues(method, "error").Observe(time.Since(start).Seconds())
			return nil, f.Error
		}
		metrics.CallDuration.WithLabelValues(method, "confirmed").Observe(time.Since(start).Seconds())
		return &Result{Status: StatusConfirmed, Payload: f.Result}, nil

	case <-timer.C:
		c.unregister(id)
		if isMutating(method) {
			metrics.CallDuration.WithLabelValues(method, "unconfirmed").Observe(time.Since(start).Seconds())
			c.log.Warn().Str("method", method).Str("id", id).Dur("timeout", timeout).Msg("mutating call unconfirmed after timeout")
			return &Result{Status: StatusUnconfirmed}, nil
		}
		metrics.CallDuration.WithLabelValues(method, "timeout").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%s after %s: %w", method, timeout, ErrTimeout)

	case <-ctx.Done():
		c.unregister(id)
		return nil, ctx.Err()
	}
}

func (c *Client) unregister(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	metrics.PendingCalls.Set(float64(len(c.pending)))
	c.pendingMu.Unlock()
}

// write serializes one request frame onto the connection. Writes are paced
// by the rate limiter and serialized by writeMu so concurrent calls never
// interleave frames.
func (c *Client) write(ctx context.Context, conn net.Conn, req *request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		c.log.Debug().Err(err).Msg("set write deadline failed")
	}
	if _, err := conn.Write(data); err != nil {
		return err
	}
	return nil
}
