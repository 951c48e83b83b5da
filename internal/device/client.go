// Package device owns the single TCP connection to a DT5533E and serializes
// every request/reply exchange on it.
package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	bridgeerrors "caen-hv-bridge/internal/errors"
	"caen-hv-bridge/internal/logger"
	"caen-hv-bridge/internal/metrics"
	"caen-hv-bridge/internal/protocol"
)

const (
	// DefaultPort is the device's telnet-style command port.
	DefaultPort = 23
	// DefaultTimeout bounds connect and each write+read exchange.
	DefaultTimeout = 3 * time.Second
	// DefaultRetryBackoff is the pause between the failed attempt and the retry.
	DefaultRetryBackoff = 200 * time.Millisecond

	maxReplyLength = 4096
)

// ErrReplyTooLong is returned when the device sends more than 4 KiB without a newline.
var ErrReplyTooLong = errors.New("reply exceeds 4096 bytes without line terminator")

// State is the connection state.
type State int32

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Dialer opens the transport. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config configures a Client.
type Config struct {
	Address      string        // host:port
	Timeout      time.Duration // connect timeout and per-exchange I/O timeout
	RetryBackoff time.Duration
	Dialer       Dialer
}

// Client is the Device Connection. It is safe for concurrent use; requests
// are executed one at a time in the order they acquire the gate.
type Client struct {
	cfg     Config
	metrics metrics.MetricsCollector

	// gate holds a token while a caller owns conn and reader.
	gate   chan struct{}
	conn   net.Conn
	reader *bufio.Reader

	state      atomic.Int32
	reconnects atomic.Int64
}

// Option customizes a Client.
type Option func(*Client)

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates a disconnected client. The connection is opened lazily.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	c := &Client{
		cfg:     cfg,
		metrics: metrics.NewNullMetrics(),
		gate:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Address returns the configured device address.
func (c *Client) Address() string {
	return c.cfg.Address
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Reconnects returns how many times the retry path reopened the connection.
func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

func (c *Client) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case c.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	<-c.gate
}

// Connect opens the connection if it is not open yet.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return bridgeerrors.NewTransportError("connect", err, c.cfg.Address, 0)
	}
	defer c.release()

	if c.conn != nil {
		return nil
	}
	if err := c.dial(ctx); err != nil {
		return bridgeerrors.NewTransportError("connect", err, c.cfg.Address, 1)
	}
	return nil
}

// Close drops the connection. It waits for an in-flight request to finish.
func (c *Client) Close() {
	c.gate <- struct{}{}
	defer c.release()
	c.closeLocked()
}

// Request sends one payload and returns the parsed reply line.
//
// A failed exchange (connect, write or read) closes the connection, waits
// RetryBackoff, reconnects and tries exactly once more. If that fails too the
// connection is left closed and a *errors.TransportError is returned.
// A reply with OK=false is not an error here.
func (c *Client) Request(ctx context.Context, payload string) (protocol.Reply, error) {
	if err := c.acquire(ctx); err != nil {
		return protocol.Reply{}, bridgeerrors.NewTransportError("acquire", err, c.cfg.Address, 0)
	}
	defer c.release()

	start := time.Now()
	reply, err := c.requestLocked(ctx, payload)
	switch {
	case err != nil:
		c.metrics.ObserveRequest(metrics.ResultTransport, time.Since(start))
	case !reply.OK:
		c.metrics.ObserveRequest(metrics.ResultError, time.Since(start))
	default:
		c.metrics.ObserveRequest(metrics.ResultOK, time.Since(start))
	}
	return reply, err
}

func (c *Client) requestLocked(ctx context.Context, payload string) (protocol.Reply, error) {
	line, err := c.exchange(ctx, payload)
	if err == nil {
		return protocol.ParseReply(line), nil
	}

	logger.LogWarn("⚠️ Device %s: %s failed (%v), reconnecting", c.cfg.Address, describe(payload), err)
	c.closeLocked()
	if ctx.Err() != nil {
		return protocol.Reply{}, bridgeerrors.NewTransportError(describe(payload), err, c.cfg.Address, 1)
	}

	if c.cfg.RetryBackoff > 0 {
		t := time.NewTimer(c.cfg.RetryBackoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return protocol.Reply{}, bridgeerrors.NewTransportError(describe(payload), ctx.Err(), c.cfg.Address, 1)
		}
	}

	c.reconnects.Add(1)
	c.metrics.IncrementReconnects()

	line, err = c.exchange(ctx, payload)
	if err != nil {
		c.closeLocked()
		logger.LogError("❌ Device %s: %s failed after retry: %v", c.cfg.Address, describe(payload), err)
		return protocol.Reply{}, bridgeerrors.NewTransportError(describe(payload), err, c.cfg.Address, 2)
	}
	return protocol.ParseReply(line), nil
}

// exchange performs one write and one line read, connecting first if needed.
// The caller must hold the gate.
func (c *Client) exchange(ctx context.Context, payload string) (string, error) {
	if c.conn == nil {
		if err := c.dial(ctx); err != nil {
			return "", err
		}
	}

	// In-flight I/O is bounded by the timeout only; cancelling ctx does not
	// cut an exchange in half.
	if err := c.conn.SetDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
		return "", err
	}

	trace := logger.IsTraceEnabled()
	if trace {
		logger.LogTrace("🔍 TX %s: %q", c.cfg.Address, payload)
	}
	if _, err := io.WriteString(c.conn, payload); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}

	line, err := c.readLine()
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	if trace {
		logger.LogTrace("🔍 RX %s: %q", c.cfg.Address, line)
	}
	return line, nil
}

func (c *Client) readLine() (string, error) {
	data, err := c.reader.ReadSlice('\n')
	switch {
	case err == nil:
		return string(data), nil
	case errors.Is(err, bufio.ErrBufferFull):
		return "", ErrReplyTooLong
	case errors.Is(err, io.EOF) && len(data) > 0:
		return "", io.ErrUnexpectedEOF
	default:
		return "", err
	}
}

func (c *Client) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	conn, err := c.cfg.Dialer.DialContext(dialCtx, "tcp", c.cfg.Address)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, maxReplyLength)
	c.state.Store(int32(Connected))
	c.metrics.SetConnectionUp(true)
	logger.LogDebug("🔧 Connected to device %s", c.cfg.Address)
	return nil
}

func (c *Client) closeLocked() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		logger.LogDebug("🔧 Closing connection to %s: %v", c.cfg.Address, err)
	}
	c.conn = nil
	c.reader = nil
	c.state.Store(int32(Disconnected))
	c.metrics.SetConnectionUp(false)
}

// describe shortens a payload for log and error messages.
func describe(payload string) string {
	return strings.TrimRight(payload, "\r\n")
}
