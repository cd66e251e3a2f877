package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/cosmez/redispool-go/internal/command"
	"github.com/cosmez/redispool-go/internal/conn"
	"github.com/cosmez/redispool-go/internal/resp"
)

// DefaultProbeTimeout bounds a whole probe: connect plus CLUSTER NODES.
const DefaultProbeTimeout = 2 * time.Second

// ErrNotCluster means the seed answered but is not part of a cluster:
// cluster support is disabled, the reply was unusable, or no slots are
// assigned. Callers fall back to single-node mode.
var ErrNotCluster = errors.New("not a cluster deployment")

// Resolver discovers the topology through a short-lived connection.
type Resolver struct {
	factory *conn.Factory
	timeout time.Duration
	logger  *slog.Logger
}

func NewResolver(factory *conn.Factory, timeout time.Duration, logger *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{factory: factory, timeout: timeout, logger: logger}
}

// Probe asks seed for CLUSTER NODES. A seed that cannot be reached yields a
// *conn.Error; a seed that answers without a usable topology yields an error
// wrapping ErrNotCluster.
func (r *Resolver) Probe(ctx context.Context, seed string) (*Topology, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	c := r.factory.New(seed)
	defer c.Close()

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	reply, err := c.Exec(ctx, command.NewSub("CLUSTER", "NODES").WithTimeout(r.timeout))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotCluster, err)
	}
	if err := command.ReplyError("CLUSTER NODES", reply); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotCluster, err)
	}
	if reply.Type() != resp.TypeBulkString && reply.Type() != resp.TypeString {
		return nil, fmt.Errorf("%w: CLUSTER NODES replied with %s", ErrNotCluster, reply.Type())
	}

	nodes, err := ParseNodes(reply.StringValue())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotCluster, err)
	}
	fillMyselfAddr(nodes, seed)

	topo := NewTopology(nodes)
	if len(topo.Primaries()) == 0 {
		return nil, fmt.Errorf("%w: no slots assigned", ErrNotCluster)
	}
	r.logger.Debug("topology resolved", "seed", seed, "nodes", len(nodes),
		"primaries", len(topo.Primaries()), "covered", topo.Covered())
	return topo, nil
}

// fillMyselfAddr replaces the empty address a node reports for itself before
// it has met any peer with the address that was dialed.
func fillMyselfAddr(nodes []Node, seed string) {
	host, portStr, err := net.SplitHostPort(seed)
	if err != nil {
		return
	}
	port, _ := strconv.Atoi(portStr)
	for i := range nodes {
		if !nodes[i].Myself {
			continue
		}
		if nodes[i].Addr.IP == "" {
			nodes[i].Addr.IP = host
		}
		if nodes[i].Addr.Port == 0 {
			nodes[i].Addr.Port = port
		}
	}
}
