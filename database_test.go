package redispool

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmez/redispool-go/internal/hashslot"
	"github.com/cosmez/redispool-go/internal/redistest"
	"github.com/cosmez/redispool-go/internal/resp"
)

func newClient(t *testing.T, addr string) *Client {
	t.Helper()
	opts, err := ParseURI("redis://" + addr + "?probeTimeout=1s")
	require.NoError(t, err)
	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func newDB(t *testing.T, c *Client, opts ...DatabaseOption) *Database {
	t.Helper()
	db, err := c.DB(opts...)
	require.NoError(t, err)
	return db
}

func TestListLengthAfterPush(t *testing.T) {
	srv := redistest.Start(t)
	db := newDB(t, newClient(t, srv.Addr()))
	ctx := context.Background()
	key := NewKey("never-seen")

	n, err := db.ListLength(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = db.LeftPush(ctx, key, "Yo")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = db.ListLength(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGetSet(t *testing.T) {
	srv := redistest.Start(t)
	db := newDB(t, newClient(t, srv.Addr()))
	ctx := context.Background()

	_, ok, err := db.Get(ctx, NewKey("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Set(ctx, NewKey("greeting"), "hello world"))
	v, ok, err := db.Get(ctx, NewKey("greeting"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello world", v)

	require.NoError(t, db.SetMultiple(ctx, map[Key]string{
		NewKey("a"): "1",
		NewKey("b"): "2",
	}))
	for name, want := range map[string]string{"a": "1", "b": "2"} {
		v, ok, err := db.Get(ctx, NewKey(name))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, v)
	}
}

func TestServerErrorNamesOperation(t *testing.T) {
	srv := redistest.Start(t)
	db := newDB(t, newClient(t, srv.Addr()))
	ctx := context.Background()
	key := NewKey("list")

	_, err := db.RightPush(ctx, key, "x")
	require.NoError(t, err)

	_, _, err = db.Get(ctx, key)
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "Get", ce.Op)
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "WRONGTYPE", se.Kind())
	assert.Contains(t, err.Error(), "Get: GET: WRONGTYPE")

	// The connection survives an error reply.
	_, err = db.Ping(ctx)
	assert.NoError(t, err)
}

func TestProjectorMismatch(t *testing.T) {
	srv := redistest.Start(t)
	srv.Intercept(func(args []string) (string, bool) {
		if args[0] == "LLEN" {
			return "+OK\r\n", true
		}
		return "", false
	})
	db := newDB(t, newClient(t, srv.Addr()))

	_, err := db.ListLength(context.Background(), NewKey("k"))
	assert.ErrorIs(t, err, ErrUnexpectedReply)
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "ListLength", ce.Op)
}

func TestBlockingPop(t *testing.T) {
	srv := redistest.Start(t)
	db := newDB(t, newClient(t, srv.Addr()))
	ctx := context.Background()
	key := NewKey("jobs")

	t.Run("available", func(t *testing.T) {
		_, err := db.RightPush(ctx, key, "first", "second")
		require.NoError(t, err)

		got, ok, err := db.BlockingLeftPop(ctx, time.Second, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, PopResult{Key: "jobs", Value: "first"}, got)

		got, ok, err = db.BlockingRightPop(ctx, time.Second, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "second", got.Value)
	})

	t.Run("timeout", func(t *testing.T) {
		start := time.Now()
		_, ok, err := db.BlockingLeftPop(ctx, 100*time.Millisecond, key)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("waits past the command timeout", func(t *testing.T) {
		opts, err := ParseURI("redis://" + srv.Addr() + "?commandTimeout=100ms")
		require.NoError(t, err)
		c, err := New(ctx, opts)
		require.NoError(t, err)
		defer c.Close()
		slow := newDB(t, c)

		go func() {
			time.Sleep(300 * time.Millisecond)
			db.LeftPush(ctx, key, "late")
		}()
		got, ok, err := slow.BlockingLeftPop(ctx, 0, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "late", got.Value)
	})
}

func TestSelectIsolatesDatabases(t *testing.T) {
	srv := redistest.Start(t)
	c := newClient(t, srv.Addr())
	ctx := context.Background()
	db0 := newDB(t, c)
	db1, err := c.Database(1)
	require.NoError(t, err)

	require.NoError(t, db1.Set(ctx, NewKey("k"), "one"))
	_, ok, err := db0.Get(ctx, NewKey("k"))
	require.NoError(t, err)
	assert.False(t, ok, "db 0 does not see db 1 keys")

	require.NoError(t, db0.Select(ctx, 1))
	assert.Equal(t, 1, db0.Index())
	v, ok, err := db0.Get(ctx, NewKey("k"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	err = db0.Select(ctx, 99)
	var se *ServerError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, 1, db0.Index(), "rejected index leaves the handle unchanged")
}

func TestDisposedHandle(t *testing.T) {
	srv := redistest.Start(t)
	c := newClient(t, srv.Addr())
	ctx := context.Background()

	db := newDB(t, c)
	require.NoError(t, db.Close())
	_, err := db.ListLength(ctx, NewKey("k"))
	assert.ErrorIs(t, err, ErrDisposed)

	other := newDB(t, c)
	require.NoError(t, c.Close())
	_, _, err = other.Get(ctx, NewKey("k"))
	assert.ErrorIs(t, err, ErrDisposed)
	_, err = c.DB()
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestSerializer(t *testing.T) {
	srv := redistest.Start(t)
	c := newClient(t, srv.Addr())
	ctx := context.Background()
	raw := newDB(t, c)

	t.Run("base64", func(t *testing.T) {
		db := newDB(t, c, WithSerializer("base64"))
		require.NoError(t, db.Set(ctx, NewKey("b64"), "hello"))

		stored, _, err := raw.Get(ctx, NewKey("b64"))
		require.NoError(t, err)
		assert.Equal(t, "aGVsbG8=", stored)

		v, _, err := db.Get(ctx, NewKey("b64"))
		require.NoError(t, err)
		assert.Equal(t, "hello", v)
	})

	t.Run("snappy list", func(t *testing.T) {
		db := newDB(t, c, WithSerializer("SNAPPY"))
		_, err := db.RightPush(ctx, NewKey("compressed"), "one", "two")
		require.NoError(t, err)

		got, ok, err := db.BlockingLeftPop(ctx, time.Second, NewKey("compressed"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "one", got.Value)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := c.DB(WithSerializer("rot13"))
		var ce *ConfigError
		assert.ErrorAs(t, err, &ce)
	})
}

func TestIterators(t *testing.T) {
	srv := redistest.Start(t)
	db := newDB(t, newClient(t, srv.Addr()))
	ctx := context.Background()

	var items []string
	for i := range 250 {
		items = append(items, fmt.Sprint(i))
	}
	_, err := db.RightPush(ctx, NewKey("big"), items...)
	require.NoError(t, err)
	for _, k := range []string{"user:1", "user:2", "other"} {
		require.NoError(t, db.Set(ctx, NewKey(k), "x"))
	}

	var got []string
	for item, err := range db.ListRange(ctx, NewKey("big")) {
		require.NoError(t, err)
		got = append(got, item)
	}
	assert.Equal(t, items, got)

	var keys []string
	for k, err := range db.Keys(ctx, "user:*") {
		require.NoError(t, err)
		keys = append(keys, k)
	}
	slices.Sort(keys)
	assert.Equal(t, []string{"user:1", "user:2"}, keys)
}

func TestServerCommands(t *testing.T) {
	srv := redistest.Start(t)
	db := newDB(t, newClient(t, srv.Addr()))
	ctx := context.Background()

	pong, err := db.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PONG", pong)

	role, err := db.Role(ctx)
	require.NoError(t, err)
	assert.Equal(t, "master", role.Role)
	assert.Empty(t, role.Replicas)

	info, err := db.Info(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "standalone", info["redis_mode"])

	v, err := db.Do(ctx, "set", NewKey("raw"), "1")
	require.NoError(t, err)
	assert.Equal(t, resp.RedisString{Value: "OK"}, v)

	v, err = db.Do(ctx, "BLPOP", NewKey("empty"), "0.1")
	require.NoError(t, err)
	assert.True(t, resp.IsNull(v))

	_, err = db.Do(ctx, "NOSUCHCOMMAND")
	var se *ServerError
	assert.ErrorAs(t, err, &se)
}

func TestParseRole(t *testing.T) {
	replica := resp.RedisArray{Values: []resp.RedisValue{
		resp.RedisBulkString{Value: "slave"},
		resp.RedisBulkString{Value: "10.0.0.1"},
		resp.RedisInteger{IntValue: 6379},
		resp.RedisBulkString{Value: "connected"},
		resp.RedisInteger{IntValue: 1234},
	}}
	info, err := parseRole(replica)
	require.NoError(t, err)
	assert.Equal(t, RoleInfo{Role: "slave", Primary: "10.0.0.1:6379", Offset: 1234}, info)

	primary := resp.RedisArray{Values: []resp.RedisValue{
		resp.RedisBulkString{Value: "master"},
		resp.RedisInteger{IntValue: 99},
		resp.RedisArray{Values: []resp.RedisValue{
			resp.RedisArray{Values: []resp.RedisValue{
				resp.RedisBulkString{Value: "10.0.0.2"},
				resp.RedisBulkString{Value: "6380"},
				resp.RedisBulkString{Value: "99"},
			}},
		}},
	}}
	info, err = parseRole(primary)
	require.NoError(t, err)
	assert.Equal(t, RoleInfo{Role: "master", Offset: 99, Replicas: []string{"10.0.0.2:6380"}}, info)

	_, err = parseRole(resp.RedisString{Value: "OK"})
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestClusterCommands(t *testing.T) {
	cl := redistest.StartCluster(t, 3)
	c := newClient(t, cl.Seed())
	require.True(t, c.IsCluster())
	assert.Len(t, c.Nodes(), 3)
	db := newDB(t, c)
	ctx := context.Background()

	t.Run("routes by slot", func(t *testing.T) {
		for i := range 20 {
			key := NewKey(fmt.Sprintf("key-%d", i))
			require.NoError(t, db.Set(ctx, key, fmt.Sprint(i)))
			v, ok, err := db.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, fmt.Sprint(i), v)
		}
	})

	t.Run("cross slot", func(t *testing.T) {
		require.NotEqual(t, hashslot.Slot("a"), hashslot.Slot("b"))
		err := db.SetMultiple(ctx, map[Key]string{NewKey("a"): "1", NewKey("b"): "2"})
		assert.ErrorIs(t, err, ErrCrossSlot)

		err = db.SetMultiple(ctx, map[Key]string{NewKey("{user}a"): "1", NewKey("{user}b"): "2"})
		assert.NoError(t, err)
	})

	t.Run("only database 0", func(t *testing.T) {
		_, err := c.Database(1)
		var ce *ConfigError
		assert.ErrorAs(t, err, &ce)
	})
}

func TestClusterFollowsMoved(t *testing.T) {
	cl := redistest.StartCluster(t, 3)
	c := newClient(t, cl.Seed())
	db := newDB(t, c)
	ctx := context.Background()

	key := NewKey("test_key")
	require.NoError(t, db.Set(ctx, key, "before"))
	require.Equal(t, 1, cl.Probes())

	newOwner := (cl.Owner(key.Slot()) + 1) % 3
	cl.MoveSlots(key.Slot(), key.Slot(), newOwner)

	v, ok, err := db.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "before", v)
	assert.Equal(t, 2, cl.Probes(), "one re-resolution")

	node, ok := c.Topology().NodeForSlot(key.Slot())
	require.True(t, ok)
	assert.Equal(t, cl.Nodes()[newOwner].Addr(), node.Addr.HostPort())

	// Later commands go straight to the new owner.
	require.NoError(t, db.Set(ctx, key, "after"))
	assert.Equal(t, 2, cl.Probes())
}

func TestClusterRedirectLimit(t *testing.T) {
	cl := redistest.StartCluster(t, 2)
	opts, err := ParseURI("redis://" + cl.Seed() + "?maxRedirects=1")
	require.NoError(t, err)
	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	defer c.Close()
	db := newDB(t, c)

	// Every node bounces the key to the other one.
	key := NewKey("pingpong")
	for i, n := range cl.Nodes() {
		other := cl.Nodes()[1-i].Addr()
		n.Intercept(func(args []string) (string, bool) {
			if args[0] == "GET" {
				return fmt.Sprintf("-ASK %d %s\r\n", key.Slot(), other), true
			}
			return "", false
		})
	}

	_, _, err = db.Get(context.Background(), key)
	var se *ServerError
	require.ErrorAs(t, err, &se)
	r, ok := se.Redirect()
	require.True(t, ok)
	assert.True(t, r.Ask)
	assert.Equal(t, 2, cl.Nodes()[0].Calls("GET")+cl.Nodes()[1].Calls("GET"), "first try plus one redirect")
}

func TestClusterRedirectsDisabled(t *testing.T) {
	cl := redistest.StartCluster(t, 3)
	opts, err := ParseURI("redis://" + cl.Seed() + "?maxRedirects=0")
	require.NoError(t, err)
	require.Equal(t, NoRedirects, opts.MaxRedirects)
	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	defer c.Close()
	db := newDB(t, c)
	ctx := context.Background()

	key := NewKey("test_key")
	require.NoError(t, db.Set(ctx, key, "v"))
	cl.MoveSlots(key.Slot(), key.Slot(), (cl.Owner(key.Slot())+1)%3)

	_, _, err = db.Get(ctx, key)
	var se *ServerError
	require.ErrorAs(t, err, &se)
	r, ok := se.Redirect()
	require.True(t, ok)
	assert.False(t, r.Ask)

	gets := 0
	for _, n := range cl.Nodes() {
		gets += n.Calls("GET")
	}
	assert.Equal(t, 1, gets, "the MOVED reply is not followed")
}
