// Package conn owns a single TCP connection to one server node and runs one
// request/response exchange at a time over it.
package conn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cosmez/redispool-go/internal/command"
	"github.com/cosmez/redispool-go/internal/resp"
)

const (
	readChunk       = 4096
	zeroReadBackoff = 2 * time.Millisecond
)

// State is the lifecycle stage of a Connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disposed"
	}
}

// Options configures connections built by a Factory.
type Options struct {
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	// ClientName prefixes the name sent with CLIENT SETNAME.
	ClientName string
	Logger     *slog.Logger
	// Dial overrides net.Dialer, mostly for tests.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 5 * time.Second
	}
	if o.ClientName == "" {
		o.ClientName = "redispool"
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Dial == nil {
		var d net.Dialer
		o.Dial = d.DialContext
	}
	return o
}

// Connection is one socket to one node. Commands are serialized by an
// internal mutex because RESP has no request ids; interleaved writers would
// corrupt framing.
type Connection struct {
	ID   uint64
	Addr string
	Name string

	opts   Options
	logger *slog.Logger

	mu     sync.Mutex // held for a whole request/response exchange
	state  atomic.Int32
	broken atomic.Bool
	buf    []byte // received bytes not yet handed out

	// conn is set once by Connect before the state becomes connected.
	// sockMu only orders that assignment against Close.
	sockMu sync.Mutex
	conn   net.Conn

	// db is the database selected on the server side. It is only touched by
	// the borrower currently holding the connection.
	db int
}

func newConnection(id uint64, addr string, opts Options) *Connection {
	c := &Connection{
		ID:     id,
		Addr:   addr,
		Name:   fmt.Sprintf("%s-%d", opts.ClientName, id),
		opts:   opts,
		logger: opts.Logger.With("conn", id, "addr", addr),
	}
	return c
}

// State returns the current lifecycle stage.
func (c *Connection) State() State { return State(c.state.Load()) }

// Reusable reports whether the connection can be handed to another borrower:
// it is connected and no exchange on it was interrupted mid-frame.
func (c *Connection) Reusable() bool {
	return c.State() == StateConnected && !c.broken.Load()
}

// DB returns the database index last selected on this connection.
func (c *Connection) DB() int { return c.db }

// SetDB records a successful SELECT.
func (c *Connection) SetDB(index int) { c.db = index }

// Connect dials the node and names the client. A connection that is already
// connected returns immediately.
func (c *Connection) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		switch c.State() {
		case StateConnected:
			return nil
		case StateDisposed:
			return &Error{Op: "connect", Addr: c.Addr, Err: ErrDisposed}
		default:
			return &Error{Op: "connect", Addr: c.Addr, Err: errors.New("connect already in progress")}
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	nc, err := c.opts.Dial(dialCtx, "tcp", c.Addr)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return &Error{Op: "connect", Addr: c.Addr, Err: err}
	}

	c.sockMu.Lock()
	c.conn = nc
	c.sockMu.Unlock()
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		// Closed while dialing.
		nc.Close()
		return &Error{Op: "connect", Addr: c.Addr, Err: ErrDisposed}
	}
	c.logger.Debug("connected")

	// Naming is best-effort; older servers or restricted ACLs may refuse it.
	reply, err := c.Exec(ctx, command.NewSub("CLIENT", "SETNAME", c.Name))
	if err != nil {
		c.logger.Debug("client setname failed", "err", err)
		if !c.Reusable() {
			return err
		}
	} else if se := command.ReplyError("CLIENT SETNAME", reply); se != nil {
		c.logger.Debug("client setname refused", "err", se)
	}
	return nil
}

// Do sends env and returns the raw bytes of the complete reply frame. The
// reply deadline is the envelope's timeout when set, the connection default
// otherwise. A failed exchange leaves the connection unusable.
func (c *Connection) Do(ctx context.Context, env command.Envelope) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkUsable(env.FullName()); err != nil {
		return nil, err
	}
	if err := c.write(ctx, env.Bytes()); err != nil {
		c.fail()
		return nil, &Error{Op: "send " + env.FullName(), Addr: c.Addr, Err: err}
	}
	frame, err := c.readFrame(ctx, c.replyTimeout(env.Timeout()), false)
	if err != nil {
		c.fail()
		return nil, &Error{Op: "receive " + env.FullName(), Addr: c.Addr, Err: err}
	}
	return frame, nil
}

// Exec is Do followed by parsing the frame. A frame that does not parse
// leaves the connection unusable.
func (c *Connection) Exec(ctx context.Context, env command.Envelope) (resp.RedisValue, error) {
	frame, err := c.Do(ctx, env)
	if err != nil {
		return nil, err
	}
	v, err := resp.Parse(frame)
	if err != nil {
		c.fail()
		return nil, err
	}
	return v, nil
}

// Send writes env without waiting for a reply. It is used once a connection
// has been dedicated to a push stream.
func (c *Connection) Send(ctx context.Context, env command.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkUsable(env.FullName()); err != nil {
		return err
	}
	if err := c.write(ctx, env.Bytes()); err != nil {
		c.fail()
		return &Error{Op: "send " + env.FullName(), Addr: c.Addr, Err: err}
	}
	return nil
}

// Receive reads the next frame. A zero timeout uses the connection default
// and command.NoDeadline waits indefinitely.
func (c *Connection) Receive(ctx context.Context, timeout time.Duration) (resp.RedisValue, error) {
	return c.receive(ctx, c.replyTimeout(timeout), false)
}

// poll reads the next frame but treats an expired deadline as "nothing yet":
// buffered partial bytes are kept for the next call and the connection stays
// usable.
func (c *Connection) poll(ctx context.Context, wait time.Duration) (resp.RedisValue, error) {
	return c.receive(ctx, wait, true)
}

func (c *Connection) receive(ctx context.Context, timeout time.Duration, poll bool) (resp.RedisValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkUsable("receive"); err != nil {
		return nil, err
	}
	frame, err := c.readFrame(ctx, timeout, poll)
	if err != nil {
		if poll && errors.Is(err, errPollTimeout) {
			return nil, err
		}
		c.fail()
		return nil, &Error{Op: "receive", Addr: c.Addr, Err: err}
	}
	v, err := resp.Parse(frame)
	if err != nil {
		c.fail()
		return nil, err
	}
	return v, nil
}

// Close releases the socket. Blocked reads and writes return promptly.
func (c *Connection) Close() error {
	prev := State(c.state.Swap(int32(StateDisposed)))
	if prev == StateDisposed {
		return nil
	}
	c.logger.Debug("closing", "state", prev)
	// An exchange in flight holds mu; closing the socket underneath it is
	// what unblocks it.
	c.sockMu.Lock()
	nc := c.conn
	c.sockMu.Unlock()
	if nc != nil {
		return nc.Close()
	}
	return nil
}

func (c *Connection) checkUsable(op string) error {
	switch {
	case c.State() == StateDisposed:
		return &Error{Op: op, Addr: c.Addr, Err: ErrDisposed}
	case c.State() != StateConnected:
		return &Error{Op: op, Addr: c.Addr, Err: ErrNotConnected}
	case c.broken.Load():
		return &Error{Op: op, Addr: c.Addr, Err: ErrBroken}
	}
	return nil
}

// fail marks the connection as holding an unknown amount of unread or
// unwritten data; it can no longer be reused.
func (c *Connection) fail() {
	if c.broken.CompareAndSwap(false, true) {
		c.logger.Debug("connection invalidated")
	}
}

func (c *Connection) replyTimeout(t time.Duration) time.Duration {
	switch {
	case t == command.NoDeadline:
		return 0
	case t > 0:
		return t
	default:
		return c.opts.CommandTimeout
	}
}

// watch interrupts socket I/O when ctx is cancelled. If the cancellation
// raced with the exchange the connection is invalidated, since a stale
// deadline may already be armed.
func (c *Connection) watch(ctx context.Context) func() {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		if !stop() && ctx.Err() != nil {
			c.fail()
		}
	}
}

func (c *Connection) write(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var deadline time.Time
	if d := c.opts.CommandTimeout; d > 0 {
		deadline = time.Now().Add(d)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	defer c.watch(ctx)()

	if _, err := c.conn.Write(payload); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

var errPollTimeout = errors.New("no frame within poll interval")

// readFrame reads until one whole frame is buffered and returns a copy of it.
// Extra bytes stay buffered for the next call.
func (c *Connection) readFrame(ctx context.Context, timeout time.Duration, poll bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}
	defer c.watch(ctx)()

	for {
		if n, ok := resp.FrameLength(c.buf); ok {
			frame := bytes.Clone(c.buf[:n])
			c.buf = append(c.buf[:0], c.buf[n:]...)
			return frame, nil
		}

		c.buf = slices.Grow(c.buf, readChunk)
		n, err := c.conn.Read(c.buf[len(c.buf):cap(c.buf)])
		c.buf = c.buf[:len(c.buf)+n]

		if err != nil {
			if n > 0 && resp.IsFrameComplete(c.buf) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if poll {
					return nil, errPollTimeout
				}
				return nil, fmt.Errorf("reply timed out after %s: %w", timeout, err)
			}
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("connection closed by server: %w", err)
			}
			return nil, err
		}
		if n == 0 {
			time.Sleep(zeroReadBackoff)
		}
	}
}
