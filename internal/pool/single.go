package pool

import (
	"context"
	"fmt"

	"github.com/cosmez/redispool-go/internal/cluster"
	"github.com/cosmez/redispool-go/internal/command"
	"github.com/cosmez/redispool-go/internal/conn"
)

// Single serves one node. It grows without bound: a connection is created
// whenever none is idle.
type Single struct {
	addr    string
	tracker *tracker
}

func newSingle(factory *conn.Factory, opts Options) *Single {
	return &Single{
		addr:    opts.Seed,
		tracker: newTracker(factory, opts.ConnectionsPerNode, opts.Logger.With("pool", "single")),
	}
}

// NewSingle builds a single-node pool without probing.
func NewSingle(opts Options) *Single {
	opts = opts.withDefaults()
	return newSingle(conn.NewFactory(opts.Conn), opts)
}

func (p *Single) Acquire(ctx context.Context, _ command.Envelope) (*conn.Connection, error) {
	return p.tracker.get(ctx, p.addr, 0)
}

func (p *Single) AcquireAddr(ctx context.Context, addr string) (*conn.Connection, error) {
	if addr != p.addr {
		return nil, fmt.Errorf("%w: %s", ErrNoNode, addr)
	}
	return p.tracker.get(ctx, p.addr, 0)
}

func (p *Single) Release(c *conn.Connection) { p.tracker.put(c, 0) }

// Redirected is a no-op; a single node never redirects.
func (p *Single) Redirected(context.Context, *conn.Connection) error { return nil }

func (p *Single) Addrs() []string             { return []string{p.addr} }
func (p *Single) Topology() *cluster.Topology { return nil }
func (p *Single) Close() error                { return p.tracker.close() }
