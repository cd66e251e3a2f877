package redispool

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cosmez/redispool-go/internal/command"
	"github.com/cosmez/redispool-go/internal/conn"
	"github.com/cosmez/redispool-go/internal/resp"
)

// drainTimeout bounds each read while a closing subscription waits for its
// unsubscribe confirmations.
const drainTimeout = time.Second

// Message is one published message. Pattern is empty unless the message
// matched a pattern subscription.
type Message struct {
	Pattern string
	Channel string
	Payload string
}

// Handler receives messages on the subscription's own goroutine, one at a
// time and in arrival order.
type Handler func(Message)

// Subscription owns one connection dedicated to a push stream. Close it to
// stop delivery and give the connection back to the pool.
type Subscription struct {
	db      *Database
	conn    *conn.Connection
	handler Handler
	pattern bool
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool

	mu  sync.Mutex
	err error
}

// Subscribe listens on channels. It returns once the server has confirmed
// every channel; handler is then called for each message published to them.
func (d *Database) Subscribe(ctx context.Context, handler Handler, channels ...string) (*Subscription, error) {
	return d.subscribe(ctx, "Subscribe", "SUBSCRIBE", handler, channels)
}

// PSubscribe is Subscribe for glob-style channel patterns.
func (d *Database) PSubscribe(ctx context.Context, handler Handler, patterns ...string) (*Subscription, error) {
	return d.subscribe(ctx, "PSubscribe", "PSUBSCRIBE", handler, patterns)
}

func (d *Database) subscribe(ctx context.Context, op, name string, handler Handler, targets []string) (*Subscription, error) {
	if err := d.check(); err != nil {
		return nil, &CommandError{Op: op, Err: err}
	}
	if handler == nil {
		return nil, &CommandError{Op: op, Err: errors.New("nil handler")}
	}
	if len(targets) == 0 {
		return nil, &CommandError{Op: op, Err: errors.New("no channels")}
	}

	p := d.client.pool
	c, err := p.Acquire(ctx, command.New(name))
	if err != nil {
		return nil, &CommandError{Op: op, Err: err}
	}

	s := &Subscription{
		db:      d,
		conn:    c,
		handler: handler,
		pattern: name == "PSUBSCRIBE",
		logger:  d.logger.With("subscription", c.Name),
		done:    make(chan struct{}),
	}
	pending, err := s.confirm(ctx, name, targets)
	if err != nil {
		c.Close()
		p.Release(c)
		return nil, &CommandError{Op: op, Err: err}
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go s.run(loopCtx, pending)
	s.logger.Debug("subscribed", "targets", targets, "pattern", s.pattern)
	return s, nil
}

// confirm sends the subscribe command and reads until every target is
// acknowledged. Messages that arrive in between are returned for delivery.
func (s *Subscription) confirm(ctx context.Context, name string, targets []string) ([]Message, error) {
	args := make([]any, len(targets))
	for i, t := range targets {
		args[i] = t
	}
	if err := s.conn.Send(ctx, command.New(name, args...)); err != nil {
		return nil, err
	}

	kind := strings.ToLower(name)
	var pending []Message
	for acked := 0; acked < len(targets); {
		v, err := s.conn.Receive(ctx, 0)
		if err != nil {
			return nil, err
		}
		if err := command.ReplyError(name, v); err != nil {
			return nil, err
		}
		if m, ok := s.message(v); ok {
			pending = append(pending, m)
			continue
		}
		arr, ok := v.(resp.RedisArray)
		if !ok || len(arr.Values) != 3 || arr.Values[0].StringValue() != kind {
			return nil, unexpected(v, kind+" confirmation")
		}
		acked++
	}
	return pending, nil
}

func (s *Subscription) run(ctx context.Context, pending []Message) {
	defer close(s.done)
	for _, m := range pending {
		s.handler(m)
	}
	for v, err := range s.conn.Frames(ctx) {
		if err != nil {
			s.logger.Warn("subscription stopped", "err", err)
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		if m, ok := s.message(v); ok {
			s.handler(m)
			continue
		}
		s.logger.Debug("push frame", "kind", frameKind(v))
	}
}

// message converts a "message" or "pmessage" push frame.
func (s *Subscription) message(v resp.RedisValue) (Message, bool) {
	arr, ok := v.(resp.RedisArray)
	if !ok || len(arr.Values) < 3 {
		return Message{}, false
	}
	var m Message
	switch arr.Values[0].StringValue() {
	case "message":
		if len(arr.Values) != 3 {
			return Message{}, false
		}
		m = Message{Channel: arr.Values[1].StringValue(), Payload: arr.Values[2].StringValue()}
	case "pmessage":
		if len(arr.Values) != 4 {
			return Message{}, false
		}
		m = Message{Pattern: arr.Values[1].StringValue(), Channel: arr.Values[2].StringValue(), Payload: arr.Values[3].StringValue()}
	default:
		return Message{}, false
	}
	if payload, err := s.db.decode(m.Payload); err == nil {
		m.Payload = payload
	} else {
		s.logger.Warn("delivering undecoded payload", "channel", m.Channel, "err", err)
	}
	return m, true
}

func frameKind(v resp.RedisValue) string {
	if arr, ok := v.(resp.RedisArray); ok && len(arr.Values) > 0 {
		return arr.Values[0].StringValue()
	}
	return v.Type().String()
}

// Unsubscribe stops delivery from some channels, or patterns for a pattern
// subscription, or from all of them when none are named. The subscription
// stays open until Close.
func (s *Subscription) Unsubscribe(ctx context.Context, targets ...string) error {
	if s.closed.Load() {
		return &CommandError{Op: "Unsubscribe", Err: ErrDisposed}
	}
	name := "UNSUBSCRIBE"
	if s.pattern {
		name = "PUNSUBSCRIBE"
	}
	args := make([]any, len(targets))
	for i, t := range targets {
		args[i] = t
	}
	// The confirmation is consumed by the read loop.
	if err := s.conn.Send(ctx, command.New(name, args...)); err != nil {
		return &CommandError{Op: "Unsubscribe", Err: err}
	}
	return nil
}

// Done is closed when the read loop has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the failure that stopped the read loop, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the read loop, unsubscribes from everything and returns the
// connection to the pool. A connection that cannot be brought back to a
// clean state is closed instead.
func (s *Subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	<-s.done

	if err := s.drain(); err != nil {
		s.logger.Debug("discarding subscription connection", "err", err)
		s.conn.Close()
	}
	s.db.client.pool.Release(s.conn)
	return nil
}

// drain leaves subscriber mode. Replies to PUNSUBSCRIBE come last, so the
// final one reporting zero remaining subscriptions ends the exchange.
func (s *Subscription) drain() error {
	if !s.conn.Reusable() {
		return errors.New("connection not reusable")
	}
	ctx := context.Background()
	if err := s.conn.Send(ctx, command.New("UNSUBSCRIBE")); err != nil {
		return err
	}
	if err := s.conn.Send(ctx, command.New("PUNSUBSCRIBE")); err != nil {
		return err
	}
	for {
		v, err := s.conn.Receive(ctx, drainTimeout)
		if err != nil {
			return err
		}
		arr, ok := v.(resp.RedisArray)
		if !ok || len(arr.Values) != 3 || arr.Values[0].StringValue() != "punsubscribe" {
			continue
		}
		n, ok := arr.Values[2].(resp.RedisInteger)
		if !ok {
			return errors.New("malformed punsubscribe reply")
		}
		if n.IntValue == 0 {
			return nil
		}
	}
}
