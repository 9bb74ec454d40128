// Package netconn implements the raw and message-framed TCP
// connection wrapper the peer protocol core is built on:
// connect-timeout/cancel racing, an inactivity watchdog, a strictly
// monotonic state machine, and disconnect-on-error semantics.
package netconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calmh/logger"
	"golang.org/x/time/rate"
)

var l = logger.DefaultLogger

var nextID uint64

func newID() string {
	return fmt.Sprintf("conn-%d", atomic.AddUint64(&nextID, 1))
}

// DisconnectHandler is called once, exactly when a Connection
// transitions to Disconnected. reason is nil for a caller-initiated
// clean disconnect.
type DisconnectHandler func(reason error)

// ProgressFunc is called after each successful chunk read or written,
// with the number of bytes moved so far and the total requested for
// that call. A nil ProgressFunc is a no-op.
type ProgressFunc func(bytesSoFar, total int)

func reportProgress(fn ProgressFunc, soFar, total int) {
	if fn != nil {
		fn(soFar, total)
	}
}

// Connection is a single TCP socket wrapped with a small lifecycle
// state machine. It is safe for concurrent Read/Write calls from
// different goroutines (writes are serialized internally); it is not
// safe to call ConnectAsync concurrently with itself.
type Connection struct {
	id        string
	endpoint  string
	direction Direction
	path      Path
	options   Options

	mu    sync.Mutex
	state State
	conn  net.Conn

	writeMu sync.Mutex

	watchdogStop chan struct{}
	watchdogDone chan struct{}

	inactivityMu    sync.Mutex
	inactivityTimer *time.Timer

	onDisconnectMu sync.Mutex
	onDisconnect   []DisconnectHandler

	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter
}

// New creates a Connection in state Pending, ready for ConnectAsync.
func New(endpoint string, direction Direction, path Path, opts Options) *Connection {
	return &Connection{
		id:        newID(),
		endpoint:  endpoint,
		direction: direction,
		path:      path,
		options:   opts,
		state:     Pending,
	}
}

func (c *Connection) ID() string          { return c.id }
func (c *Connection) Endpoint() string    { return c.endpoint }
func (c *Connection) Direction() Direction { return c.direction }
func (c *Connection) Path() Path          { return c.path }

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnDisconnect registers a handler invoked when the connection
// transitions to Disconnected. Handlers added after disconnection
// has already happened are never called.
func (c *Connection) OnDisconnect(h DisconnectHandler) {
	c.onDisconnectMu.Lock()
	c.onDisconnect = append(c.onDisconnect, h)
	c.onDisconnectMu.Unlock()
}

// ConnectAsync dials Endpoint, racing the configured connect timeout
// and ctx against the OS-level TCP handshake. It is
// legal only from Pending or Disconnected.
func (c *Connection) ConnectAsync(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Pending && c.state != Disconnected {
		s := c.state
		c.mu.Unlock()
		return &InvalidStateError{Op: "ConnectAsync", Current: s}
	}
	c.state = Connecting
	c.mu.Unlock()

	dialCtx := ctx
	var cancel context.CancelFunc
	if c.options.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, c.options.ConnectTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", c.endpoint)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()

		if errors.Is(ctx.Err(), context.Canceled) {
			return ErrCancelled
		}
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return &ConnectError{Endpoint: c.endpoint, Cause: err}
	}

	c.adopt(conn)
	return nil
}

// Adopt wraps an already-established net.Conn (an inbound accept, or
// a socket handed off from another Connection) and transitions
// straight to Connected, skipping Connecting.
func (c *Connection) Adopt(conn net.Conn) {
	c.adopt(conn)
}

func (c *Connection) adopt(conn net.Conn) {
	if c.options.ReadBufferSize > 0 || c.options.WriteBufferSize > 0 {
		if tc, ok := conn.(*net.TCPConn); ok {
			if c.options.ReadBufferSize > 0 {
				_ = tc.SetReadBuffer(c.options.ReadBufferSize)
			}
			if c.options.WriteBufferSize > 0 {
				_ = tc.SetWriteBuffer(c.options.WriteBufferSize)
			}
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.resetInactivity()
	c.startWatchdog()
}

// Read reads exactly n bytes, blocking until complete, ctx is
// cancelled, or the connection fails. A zero-byte read from the
// socket (remote close) is fatal, not an empty success. progress, if
// non-nil, is called after every chunk with (bytesSoFar, n).
func (c *Connection) Read(ctx context.Context, n int, progress ProgressFunc) ([]byte, error) {
	conn, err := c.liveConn("Read")
	if err != nil {
		return nil, err
	}
	waitN(ctx, c.readLimiter, n)

	buf := make([]byte, n)
	done := make(chan struct{})
	var read int
	var readErr error

	go func() {
		defer close(done)
		for read < n {
			m, err := conn.Read(buf[read:])
			if m == 0 && err == nil {
				readErr = errors.New("remote connection closed")
				return
			}
			read += m
			if m > 0 {
				c.resetInactivity()
				reportProgress(progress, read, n)
			}
			if err != nil {
				readErr = err
				return
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.Disconnect(ctx.Err())
		return nil, classifyCancel(ctx.Err())
	}

	if readErr != nil {
		if errors.Is(readErr, io.EOF) {
			readErr = errors.New("remote connection closed")
		}
		wrapped := &ReadError{Cause: readErr}
		c.Disconnect(wrapped)
		return nil, wrapped
	}
	return buf, nil
}

// Write writes all of b, honoring whatever chunking the OS send
// buffer imposes, serialized against any other concurrent Write on
// this Connection. progress, if non-nil, is called after every chunk
// with (bytesSoFar, len(b)).
func (c *Connection) Write(ctx context.Context, b []byte, progress ProgressFunc) error {
	conn, err := c.liveConn("Write")
	if err != nil {
		return err
	}
	waitN(ctx, c.writeLimiter, len(b))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	done := make(chan struct{})
	var writeErr error

	go func() {
		defer close(done)
		written := 0
		for written < len(b) {
			n, err := conn.Write(b[written:])
			written += n
			if n > 0 {
				c.resetInactivity()
				reportProgress(progress, written, len(b))
			}
			if err != nil {
				writeErr = err
				return
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.Disconnect(ctx.Err())
		return classifyCancel(ctx.Err())
	}

	if writeErr != nil {
		wrapped := &WriteError{Cause: writeErr}
		c.Disconnect(wrapped)
		return wrapped
	}
	return nil
}

func (c *Connection) liveConn(op string) (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return nil, &InvalidStateError{Op: op, Current: c.state}
	}
	return c.conn, nil
}

// Disconnect idempotently tears the connection down, stopping timers
// and closing the socket, and notifies OnDisconnect subscribers.
func (c *Connection) Disconnect(reason error) {
	c.mu.Lock()
	if c.state == Disconnected || c.state == Disconnecting {
		c.mu.Unlock()
		return
	}
	c.state = Disconnecting
	conn := c.conn
	c.mu.Unlock()

	c.stopWatchdog()
	c.stopInactivity()

	if conn != nil {
		_ = conn.Close()
	}

	c.mu.Lock()
	c.state = Disconnected
	c.conn = nil
	c.mu.Unlock()

	if debug {
		l.Debugf("connection %s disconnected: %v", c.id, reason)
	}

	c.onDisconnectMu.Lock()
	handlers := c.onDisconnect
	c.onDisconnectMu.Unlock()
	for _, h := range handlers {
		h(reason)
	}
}

// Handoff detaches the underlying socket and returns it, nulling this
// Connection's own reference so a subsequent Disconnect (or GC) does
// not close it out from under the new owner.
func (c *Connection) Handoff() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopWatchdog()
	c.stopInactivity()

	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	return conn
}

func (c *Connection) startWatchdog() {
	c.watchdogStop = make(chan struct{})
	c.watchdogDone = make(chan struct{})
	stop := c.watchdogStop
	done := c.watchdogDone

	go func() {
		defer close(done)
		ticker := time.NewTicker(watchdogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				conn := c.conn
				state := c.state
				c.mu.Unlock()
				if state != Connected || conn == nil {
					return
				}
				if !probeAlive(conn) {
					c.Disconnect(errors.New("closed unexpectedly"))
					return
				}
			}
		}
	}()
}

func (c *Connection) stopWatchdog() {
	if c.watchdogStop != nil {
		select {
		case <-c.watchdogStop:
		default:
			close(c.watchdogStop)
		}
		c.watchdogStop = nil
	}
}

func (c *Connection) resetInactivity() {
	if c.options.InactivityTimeout <= 0 {
		return
	}
	c.inactivityMu.Lock()
	defer c.inactivityMu.Unlock()
	if c.inactivityTimer == nil {
		c.inactivityTimer = time.AfterFunc(c.options.InactivityTimeout, func() {
			c.Disconnect(errors.New("inactivity timeout"))
		})
		return
	}
	c.inactivityTimer.Reset(c.options.InactivityTimeout)
}

func (c *Connection) stopInactivity() {
	c.inactivityMu.Lock()
	defer c.inactivityMu.Unlock()
	if c.inactivityTimer != nil {
		c.inactivityTimer.Stop()
	}
}

func classifyCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}
