// Package pool lends connections to callers. A Single pool serves one node;
// a Cluster pool keeps connections per primary and routes by hash slot.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cosmez/redispool-go/internal/cluster"
	"github.com/cosmez/redispool-go/internal/command"
	"github.com/cosmez/redispool-go/internal/conn"
)

var (
	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.New("pool closed")
	// ErrNoNode is returned when no known node serves a slot or address.
	ErrNoNode = errors.New("no node serves the request")
)

// Pool is the contract shared by both variants. Every connection handed out
// by Acquire or AcquireAddr must be given back with Release.
type Pool interface {
	// Acquire borrows a connection to the node serving env's keys.
	Acquire(ctx context.Context, env command.Envelope) (*conn.Connection, error)
	// AcquireAddr borrows a connection to a specific node.
	AcquireAddr(ctx context.Context, addr string) (*conn.Connection, error)
	// Release returns c. Connections that are broken or belong to an older
	// topology are closed instead of reused.
	Release(c *conn.Connection)
	// Redirected reports that a command on c was answered with MOVED. The
	// first report for a topology generation re-resolves it; later reports for
	// the same generation wait for that resolution.
	Redirected(ctx context.Context, c *conn.Connection) error
	// Addrs lists the nodes commands can be sent to.
	Addrs() []string
	// Topology returns the current snapshot, nil for a single node.
	Topology() *cluster.Topology
	// Close closes every connection the pool created, borrowed or not.
	Close() error
}

// Options configures New.
type Options struct {
	Seed string
	// ConnectionsPerNode caps the idle connections kept per node.
	ConnectionsPerNode int
	ProbeTimeout       time.Duration
	Conn               conn.Options
	Logger             *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectionsPerNode <= 0 {
		o.ConnectionsPerNode = 4
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = cluster.DefaultProbeTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Conn.Logger == nil {
		o.Conn.Logger = o.Logger
	}
	return o
}

// New probes the seed and returns a Cluster pool when it is part of a
// cluster, a Single pool when it is not. An unreachable seed is an error.
func New(ctx context.Context, opts Options) (Pool, error) {
	opts = opts.withDefaults()
	factory := conn.NewFactory(opts.Conn)
	resolver := cluster.NewResolver(factory, opts.ProbeTimeout, opts.Logger)

	topo, err := resolver.Probe(ctx, opts.Seed)
	switch {
	case err == nil:
		opts.Logger.Info("cluster detected", "seed", opts.Seed, "primaries", len(topo.Primaries()))
		return newCluster(factory, resolver, topo, opts), nil
	case errors.Is(err, cluster.ErrNotCluster):
		opts.Logger.Info("single node detected", "seed", opts.Seed)
		opts.Logger.Debug("cluster probe", "err", err)
		return newSingle(factory, opts), nil
	default:
		return nil, fmt.Errorf("failed to reach %s: %w", opts.Seed, err)
	}
}
