package conn

import "sync/atomic"

// Factory builds connections that share one set of options. It owns the
// counter used for connection ids and client names.
type Factory struct {
	opts Options
	next atomic.Uint64
}

func NewFactory(opts Options) *Factory {
	return &Factory{opts: opts.withDefaults()}
}

// New returns an unconnected connection to addr.
func (f *Factory) New(addr string) *Connection {
	return newConnection(f.next.Add(1), addr, f.opts)
}

// Options returns the options after defaults were applied.
func (f *Factory) Options() Options { return f.opts }
