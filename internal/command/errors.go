package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cosmez/redispool-go/internal/resp"
)

// ErrCrossSlot is returned before dispatch when a cluster request names keys
// in more than one hash slot.
var ErrCrossSlot = errors.New("keys in request don't hash to the same slot")

// ServerError is a well-formed error reply from the server.
type ServerError struct {
	Command string
	Message string
}

func (e *ServerError) Error() string {
	if e.Command == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// Kind is the error prefix, e.g. "ERR", "WRONGTYPE" or "MOVED".
func (e *ServerError) Kind() string {
	kind, _, _ := strings.Cut(e.Message, " ")
	return kind
}

// Redirect describes a MOVED or ASK reply.
type Redirect struct {
	Ask  bool
	Slot uint16
	Addr string
}

// Redirect parses "MOVED <slot> <addr>" and "ASK <slot> <addr>".
func (e *ServerError) Redirect() (Redirect, bool) {
	fields := strings.Fields(e.Message)
	if len(fields) != 3 || (fields[0] != "MOVED" && fields[0] != "ASK") {
		return Redirect{}, false
	}
	slot, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return Redirect{}, false
	}
	return Redirect{Ask: fields[0] == "ASK", Slot: uint16(slot), Addr: fields[2]}, true
}

// IsMoved reports whether err carries a MOVED reply.
func IsMoved(err error) bool {
	var se *ServerError
	if !errors.As(err, &se) {
		return false
	}
	r, ok := se.Redirect()
	return ok && !r.Ask
}

// ReplyError converts an error reply into a *ServerError attributed to cmd.
// Any other value yields nil.
func ReplyError(cmd string, v resp.RedisValue) error {
	if e, ok := v.(resp.RedisError); ok {
		return &ServerError{Command: cmd, Message: e.Value}
	}
	return nil
}
