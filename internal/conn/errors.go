package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrDisposed is returned for any use of a closed connection.
	ErrDisposed = errors.New("connection disposed")
	// ErrNotConnected is returned when a command is issued before Connect.
	ErrNotConnected = errors.New("connection not established")
	// ErrBroken is returned when an earlier exchange was interrupted mid-frame.
	ErrBroken = errors.New("connection left in an unknown state by an interrupted exchange")
)

// Error is a socket-level failure: refused, reset, closed or timed out.
type Error struct {
	Op   string
	Addr string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiring.
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}
