package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmez/redispool-go/internal/conn"
	"github.com/cosmez/redispool-go/internal/redistest"
)

func TestProbeCluster(t *testing.T) {
	cl := redistest.StartCluster(t, 3)
	r := NewResolver(conn.NewFactory(conn.Options{}), time.Second, nil)

	topo, err := r.Probe(context.Background(), cl.Seed())
	require.NoError(t, err)
	assert.True(t, topo.Covered())
	require.Len(t, topo.Primaries(), 3)
	assert.Len(t, topo.Nodes(), 6)

	for i, n := range topo.Primaries() {
		assert.Equal(t, cl.Nodes()[i].Addr(), n.Addr.HostPort())
	}
	assert.True(t, topo.Primaries()[0].Myself)

	n, ok := topo.NodeForSlot(15118)
	require.True(t, ok)
	assert.Equal(t, cl.Nodes()[cl.Owner(15118)].Addr(), n.Addr.HostPort())
	assert.Equal(t, 1, cl.Probes())
}

func TestProbeStandalone(t *testing.T) {
	srv := redistest.Start(t)
	r := NewResolver(conn.NewFactory(conn.Options{}), time.Second, nil)

	_, err := r.Probe(context.Background(), srv.Addr())
	assert.ErrorIs(t, err, ErrNotCluster)
}

func TestProbeMalformedReply(t *testing.T) {
	srv := redistest.Start(t)
	srv.Intercept(func(args []string) (string, bool) {
		if args[0] == "CLUSTER" {
			return "$9\r\nnot nodes\r\n", true
		}
		return "", false
	})
	r := NewResolver(conn.NewFactory(conn.Options{}), time.Second, nil)

	_, err := r.Probe(context.Background(), srv.Addr())
	assert.ErrorIs(t, err, ErrNotCluster)
}

func TestProbeUnreachable(t *testing.T) {
	srv := redistest.Start(t)
	addr := srv.Addr()
	srv.Close()

	r := NewResolver(conn.NewFactory(conn.Options{}), time.Second, nil)
	_, err := r.Probe(context.Background(), addr)

	var ce *conn.Error
	require.ErrorAs(t, err, &ce)
	assert.NotErrorIs(t, err, ErrNotCluster)
}
