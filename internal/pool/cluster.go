package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cosmez/redispool-go/internal/cluster"
	"github.com/cosmez/redispool-go/internal/command"
	"github.com/cosmez/redispool-go/internal/conn"
)

// Cluster keeps idle connections per primary and routes by hash slot.
//
// Re-resolution is gated: while one caller probes, every Acquire waits, and
// callers reporting MOVED for a generation that has already been replaced
// return at once. Each burst of redirections therefore costs one probe.
type Cluster struct {
	seed     string
	resolver *cluster.Resolver
	tracker  *tracker
	logger   *slog.Logger
	next     atomic.Uint64

	mu        sync.Mutex
	topo      *cluster.Topology
	gen       uint64
	resolving chan struct{} // non-nil while a probe runs, closed when it ends
	lastErr   error
}

func newCluster(factory *conn.Factory, resolver *cluster.Resolver, topo *cluster.Topology, opts Options) *Cluster {
	logger := opts.Logger.With("pool", "cluster")
	return &Cluster{
		seed:     opts.Seed,
		resolver: resolver,
		tracker:  newTracker(factory, opts.ConnectionsPerNode, logger),
		logger:   logger,
		topo:     topo,
	}
}

// snapshot waits out a running re-resolution and returns the topology and
// its generation.
func (p *Cluster) snapshot(ctx context.Context) (*cluster.Topology, uint64, error) {
	for {
		p.mu.Lock()
		wait := p.resolving
		if wait == nil {
			topo, gen := p.topo, p.gen
			p.mu.Unlock()
			return topo, gen, nil
		}
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
}

// Acquire routes by the slot shared by env's keys. Keyless commands go to
// the primaries in turn.
func (p *Cluster) Acquire(ctx context.Context, env command.Envelope) (*conn.Connection, error) {
	if !env.SameSlot() {
		return nil, command.ErrCrossSlot
	}
	topo, gen, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var node cluster.Node
	if slot, ok := env.Slot(); ok {
		if node, ok = topo.NodeForSlot(slot); !ok {
			return nil, fmt.Errorf("%w: slot %d", ErrNoNode, slot)
		}
	} else {
		primaries := topo.Primaries()
		node = primaries[p.next.Add(1)%uint64(len(primaries))]
	}
	return p.tracker.get(ctx, node.Addr.HostPort(), gen)
}

// AcquireAddr borrows a connection to addr, which need not be a known
// primary; ASK redirections name the importing node directly.
func (p *Cluster) AcquireAddr(ctx context.Context, addr string) (*conn.Connection, error) {
	_, gen, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return p.tracker.get(ctx, addr, gen)
}

func (p *Cluster) Release(c *conn.Connection) {
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	p.tracker.put(c, gen)
}

// Redirected re-resolves the topology unless c's generation is already
// stale, in which case a newer topology exists and nothing is done.
func (p *Cluster) Redirected(ctx context.Context, c *conn.Connection) error {
	seen, ok := p.tracker.generation(c)
	if !ok {
		return ErrClosed
	}

	p.mu.Lock()
	if seen != p.gen {
		p.mu.Unlock()
		return nil
	}
	if wait := p.resolving; wait != nil {
		p.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.lastErr
	}
	done := make(chan struct{})
	p.resolving = done
	seeds := p.seedsLocked()
	p.mu.Unlock()

	p.logger.Info("re-resolving topology", "generation", seen, "seeds", len(seeds))
	// The probe serves every waiting caller, not just this one.
	topo, err := p.probe(context.WithoutCancel(ctx), seeds)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		p.topo = topo
		p.gen++
		// Borrowed connections of the old generation are closed on release.
		p.tracker.reset()
		p.logger.Info("topology replaced", "generation", p.gen, "primaries", len(topo.Primaries()))
	} else {
		p.logger.Warn("re-resolution failed", "generation", seen, "err", err)
	}
	p.lastErr = err
	p.resolving = nil
	close(done)
	return err
}

// seedsLocked lists the known primaries, then the original seed.
func (p *Cluster) seedsLocked() []string {
	var seeds []string
	for _, n := range p.topo.Primaries() {
		seeds = append(seeds, n.Addr.HostPort())
	}
	if !slices.Contains(seeds, p.seed) {
		seeds = append(seeds, p.seed)
	}
	return seeds
}

func (p *Cluster) probe(ctx context.Context, seeds []string) (*cluster.Topology, error) {
	var errs []error
	for _, seed := range seeds {
		topo, err := p.resolver.Probe(ctx, seed)
		if err == nil {
			return topo, nil
		}
		p.logger.Debug("probe failed", "seed", seed, "err", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("failed to resolve cluster topology: %w", errors.Join(errs...))
}

func (p *Cluster) Addrs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var addrs []string
	for _, n := range p.topo.Primaries() {
		addrs = append(addrs, n.Addr.HostPort())
	}
	return addrs
}

func (p *Cluster) Topology() *cluster.Topology {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.topo
}

// Generation counts completed re-resolutions.
func (p *Cluster) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

func (p *Cluster) Close() error { return p.tracker.close() }
