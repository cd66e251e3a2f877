// Package command describes requests sent to the server: keys with their hash
// slots, immutable command envelopes, server error replies and the registry
// of commands known to the interactive shell.
package command

import (
	"strings"
	"time"

	"github.com/cosmez/redispool-go/internal/resp"
)

// NoDeadline as an envelope timeout disables the receive deadline entirely.
const NoDeadline time.Duration = -1

// Envelope is a single request. It is built per call and never modified
// afterwards; the With methods return copies.
type Envelope struct {
	name    string
	sub     []string
	args    []any
	keys    []Key
	inline  bool
	timeout time.Duration
}

// New builds an envelope. Key arguments (Key or []Key, at any nesting depth)
// are recorded for routing and encoded by name.
func New(name string, args ...any) Envelope {
	e := Envelope{name: strings.ToUpper(name), args: args}
	e.keys = collectKeys(nil, args)
	return e
}

// NewSub builds an envelope for a command with a sub-command, such as
// CLUSTER NODES or CLIENT SETNAME.
func NewSub(name, sub string, args ...any) Envelope {
	e := New(name, args...)
	e.sub = []string{strings.ToUpper(sub)}
	return e
}

func collectKeys(dst []Key, args []any) []Key {
	for _, a := range args {
		switch v := a.(type) {
		case Key:
			dst = append(dst, v)
		case []Key:
			dst = append(dst, v...)
		case []any:
			dst = collectKeys(dst, v)
		}
	}
	return dst
}

// WithTimeout returns a copy whose reply deadline overrides the connection
// default. Zero keeps the default; NoDeadline waits indefinitely.
func (e Envelope) WithTimeout(d time.Duration) Envelope {
	e.timeout = d
	return e
}

// WithInline returns a copy encoded as a space-delimited inline command.
func (e Envelope) WithInline() Envelope {
	e.inline = true
	return e
}

// Name is the command name, e.g. "CLUSTER".
func (e Envelope) Name() string { return e.name }

// FullName includes sub-commands, e.g. "CLUSTER NODES".
func (e Envelope) FullName() string {
	if len(e.sub) == 0 {
		return e.name
	}
	return e.name + " " + strings.Join(e.sub, " ")
}

func (e Envelope) Keys() []Key            { return e.keys }
func (e Envelope) Inline() bool           { return e.inline }
func (e Envelope) Timeout() time.Duration { return e.timeout }
func (e Envelope) SubCommands() []string  { return e.sub }
func (e Envelope) Args() []any            { return e.args }

// SameSlot reports whether every key maps to one hash slot. A request
// without keys trivially does.
func (e Envelope) SameSlot() bool {
	for _, k := range e.keys[min(1, len(e.keys)):] {
		if k.slot != e.keys[0].slot {
			return false
		}
	}
	return true
}

// Slot returns the slot shared by all keys. It reports false when there are
// no keys or when they span slots.
func (e Envelope) Slot() (uint16, bool) {
	if len(e.keys) == 0 || !e.SameSlot() {
		return 0, false
	}
	return e.keys[0].slot, true
}

// Items returns the flattened wire items: name, sub-commands, then arguments.
func (e Envelope) Items() []any {
	items := make([]any, 0, 1+len(e.sub)+len(e.args))
	items = append(items, e.name)
	for _, s := range e.sub {
		items = append(items, s)
	}
	return appendArgs(items, e.args)
}

func appendArgs(dst []any, args []any) []any {
	for _, a := range args {
		switch v := a.(type) {
		case []Key:
			for _, k := range v {
				dst = append(dst, k)
			}
		case []any:
			dst = appendArgs(dst, v)
		default:
			dst = resp.Flatten(dst, v)
		}
	}
	return dst
}

// Bytes encodes the envelope for the wire.
func (e Envelope) Bytes() []byte {
	if e.inline {
		return resp.EncodeInline(e.Items()...)
	}
	return resp.EncodeCommand(e.Items()...)
}

func (e Envelope) String() string {
	return strings.TrimSuffix(string(resp.EncodeInline(e.Items()...)), "\r\n")
}
