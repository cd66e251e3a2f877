package redispool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cosmez/redispool-go/internal/cluster"
	"github.com/cosmez/redispool-go/internal/conn"
	"github.com/cosmez/redispool-go/internal/pool"
	"github.com/cosmez/redispool-go/internal/serializer"
)

// Client owns the connection pool for one deployment. It is safe for
// concurrent use; hand out Database handles rather than sharing connections.
type Client struct {
	opts   Options
	pool   pool.Pool
	logger *slog.Logger
	closed atomic.Bool
}

// New validates opts, probes the seed node and builds a single-node or
// cluster pool depending on what answers.
func New(ctx context.Context, opts Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	p, err := pool.New(ctx, pool.Options{
		Seed:               opts.Addr(),
		ConnectionsPerNode: opts.ConnectionsPerNode,
		ProbeTimeout:       opts.ProbeTimeout,
		Logger:             opts.Logger,
		Conn: conn.Options{
			ConnectTimeout: opts.ConnectTimeout,
			CommandTimeout: opts.CommandTimeout,
			ClientName:     opts.ClientName,
			Logger:         opts.Logger,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Client{opts: opts, pool: p, logger: opts.Logger}, nil
}

// Open is ParseURI followed by New.
func Open(ctx context.Context, uri string) (*Client, error) {
	opts, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return New(ctx, opts)
}

// DatabaseOption configures a Database handle.
type DatabaseOption func(*Database) error

// WithSerializer encodes values written through the handle and decodes
// values read back, using one of the serializer package's codecs (base64,
// gzip or snappy).
func WithSerializer(name string) DatabaseOption {
	return func(d *Database) error {
		codec, err := serializer.Get(name)
		if err != nil {
			return &ConfigError{Field: "serializer", Value: name, Err: err}
		}
		d.codec = codec
		return nil
	}
}

// Database returns a handle bound to database index. A cluster only has
// database 0.
func (c *Client) Database(index int, opts ...DatabaseOption) (*Database, error) {
	if c.closed.Load() {
		return nil, ErrDisposed
	}
	if index < 0 {
		return nil, &ConfigError{Field: "db", Value: fmt.Sprint(index), Err: errors.New("must not be negative")}
	}
	if index != 0 && c.IsCluster() {
		return nil, &ConfigError{Field: "db", Value: fmt.Sprint(index), Err: errors.New("cluster deployments only have database 0")}
	}
	d := &Database{client: c, logger: c.logger}
	d.index.Store(int32(index))
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// DB returns a handle for the database named in the client's options.
func (c *Client) DB(opts ...DatabaseOption) (*Database, error) {
	return c.Database(c.opts.DB, opts...)
}

// IsCluster reports whether the seed answered as a cluster member.
func (c *Client) IsCluster() bool {
	return c.pool.Topology() != nil
}

// Topology returns the current cluster snapshot, or nil for a single node.
func (c *Client) Topology() *cluster.Topology {
	return c.pool.Topology()
}

// Nodes lists the addresses commands are sent to.
func (c *Client) Nodes() []string {
	return c.pool.Addrs()
}

// Close closes every connection, including ones held by open handles and
// subscriptions.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.pool.Close()
}
