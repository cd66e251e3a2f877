package redispool

import (
	"errors"
	"fmt"

	"github.com/cosmez/redispool-go/internal/cluster"
	"github.com/cosmez/redispool-go/internal/command"
	"github.com/cosmez/redispool-go/internal/conn"
	"github.com/cosmez/redispool-go/internal/resp"
)

type (
	// ProtocolError is a malformed or truncated reply. The connection it
	// arrived on is discarded.
	ProtocolError = resp.ProtocolError
	// ConnectionError is a socket failure or timeout.
	ConnectionError = conn.Error
	// ServerError is an error reply; Kind and Redirect classify it.
	ServerError = command.ServerError
)

var (
	// ErrDisposed is returned by any use of a closed client, database
	// handle or subscription.
	ErrDisposed = errors.New("redispool: use after close")
	// ErrCrossSlot is returned before dispatch when a cluster command names
	// keys in different hash slots.
	ErrCrossSlot = command.ErrCrossSlot
	// ErrNotCluster is wrapped by topology probes against a single node.
	ErrNotCluster = cluster.ErrNotCluster
	// ErrUnexpectedReply means the server answered with a reply of the wrong
	// shape for the operation.
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// CommandError carries the failing operation's name alongside the cause.
type CommandError struct {
	Op  string
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

func unexpected(v resp.RedisValue, want string) error {
	got := "nothing"
	if v != nil {
		got = v.Type().String()
	}
	return fmt.Errorf("%w: want %s, got %s", ErrUnexpectedReply, want, got)
}
