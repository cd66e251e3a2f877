package redispool

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cosmez/redispool-go/internal/command"
	"github.com/cosmez/redispool-go/internal/conn"
	"github.com/cosmez/redispool-go/internal/resp"
	"github.com/cosmez/redispool-go/internal/serializer"
)

type (
	// Value is any decoded reply.
	Value = resp.RedisValue
	// Key is a key name with its precomputed hash slot.
	Key = command.Key
)

// NewKey computes the hash slot of name once.
func NewKey(name string) Key { return command.NewKey(name) }

// blockingGrace is added to a blocking pop's server-side timeout so the
// server's own timeout reply arrives before the read deadline.
const blockingGrace = time.Second

// Database is a handle bound to one database index. Handles are cheap and
// safe for concurrent use; each command borrows a pooled connection for the
// duration of one exchange.
type Database struct {
	client *Client
	index  atomic.Int32
	codec  serializer.Codec
	logger *slog.Logger
	closed atomic.Bool
}

// Index is the database the handle's commands run against.
func (d *Database) Index() int { return int(d.index.Load()) }

// Close disposes of the handle. Later calls fail with ErrDisposed; the
// client and its pool stay open.
func (d *Database) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *Database) check() error {
	if d.closed.Load() || d.client.closed.Load() {
		return ErrDisposed
	}
	return nil
}

// Get returns the value at key. The boolean is false when the key does not
// exist.
func (d *Database) Get(ctx context.Context, key Key) (string, bool, error) {
	reply, err := d.execute(ctx, "Get", command.New("GET", key))
	if err != nil {
		return "", false, err
	}
	if resp.IsNull(reply) {
		return "", false, nil
	}
	b, ok := reply.(resp.RedisBulkString)
	if !ok {
		return "", false, &CommandError{Op: "Get", Err: unexpected(reply, "bulk string")}
	}
	v, err := d.decode(b.Value)
	if err != nil {
		return "", false, &CommandError{Op: "Get", Err: err}
	}
	return v, true, nil
}

// Set stores value at key.
func (d *Database) Set(ctx context.Context, key Key, value string) error {
	enc, err := d.encode(value)
	if err != nil {
		return &CommandError{Op: "Set", Err: err}
	}
	reply, err := d.execute(ctx, "Set", command.New("SET", key, enc))
	if err != nil {
		return err
	}
	return expectOK("Set", reply)
}

// SetMultiple stores every pair with one MSET. In a cluster all keys must
// hash to the same slot.
func (d *Database) SetMultiple(ctx context.Context, pairs map[Key]string) error {
	if len(pairs) == 0 {
		return nil
	}
	keys := slices.SortedFunc(maps.Keys(pairs), func(a, b Key) int {
		return strings.Compare(a.Name(), b.Name())
	})
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		enc, err := d.encode(pairs[k])
		if err != nil {
			return &CommandError{Op: "SetMultiple", Err: err}
		}
		args = append(args, k, enc)
	}
	reply, err := d.execute(ctx, "SetMultiple", command.New("MSET", args...))
	if err != nil {
		return err
	}
	return expectOK("SetMultiple", reply)
}

// ListLength returns the length of the list at key, 0 when it is missing.
func (d *Database) ListLength(ctx context.Context, key Key) (int64, error) {
	reply, err := d.execute(ctx, "ListLength", command.New("LLEN", key))
	if err != nil {
		return 0, err
	}
	return expectInt("ListLength", reply)
}

// LeftPush prepends values and returns the new length.
func (d *Database) LeftPush(ctx context.Context, key Key, values ...string) (int64, error) {
	return d.push(ctx, "LeftPush", "LPUSH", key, values)
}

// RightPush appends values and returns the new length.
func (d *Database) RightPush(ctx context.Context, key Key, values ...string) (int64, error) {
	return d.push(ctx, "RightPush", "RPUSH", key, values)
}

func (d *Database) push(ctx context.Context, op, name string, key Key, values []string) (int64, error) {
	if len(values) == 0 {
		return 0, &CommandError{Op: op, Err: errors.New("no values to push")}
	}
	args := []any{key}
	for _, v := range values {
		enc, err := d.encode(v)
		if err != nil {
			return 0, &CommandError{Op: op, Err: err}
		}
		args = append(args, enc)
	}
	reply, err := d.execute(ctx, op, command.New(name, args...))
	if err != nil {
		return 0, err
	}
	return expectInt(op, reply)
}

// PopResult is the outcome of a blocking pop.
type PopResult struct {
	Key   string
	Value string
}

// BlockingLeftPop pops the head of the first non-empty list among keys,
// waiting up to timeout for one to receive an element. A zero timeout
// waits indefinitely. The boolean is false when the timeout expired.
func (d *Database) BlockingLeftPop(ctx context.Context, timeout time.Duration, keys ...Key) (PopResult, bool, error) {
	return d.blockingPop(ctx, "BlockingLeftPop", "BLPOP", timeout, keys)
}

// BlockingRightPop is BlockingLeftPop for the tail of the list.
func (d *Database) BlockingRightPop(ctx context.Context, timeout time.Duration, keys ...Key) (PopResult, bool, error) {
	return d.blockingPop(ctx, "BlockingRightPop", "BRPOP", timeout, keys)
}

func (d *Database) blockingPop(ctx context.Context, op, name string, timeout time.Duration, keys []Key) (PopResult, bool, error) {
	if len(keys) == 0 {
		return PopResult{}, false, &CommandError{Op: op, Err: errors.New("no keys")}
	}
	if timeout < 0 {
		return PopResult{}, false, &CommandError{Op: op, Err: errors.New("negative timeout")}
	}
	secs := strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64)
	env := command.New(name, keys, secs).WithTimeout(popDeadline(timeout))

	reply, err := d.execute(ctx, op, env)
	if err != nil {
		return PopResult{}, false, err
	}
	if resp.IsNull(reply) {
		return PopResult{}, false, nil
	}
	arr, ok := reply.(resp.RedisArray)
	if !ok || len(arr.Values) != 2 {
		return PopResult{}, false, &CommandError{Op: op, Err: unexpected(reply, "array of two elements")}
	}
	v, err := d.decode(arr.Values[1].StringValue())
	if err != nil {
		return PopResult{}, false, &CommandError{Op: op, Err: err}
	}
	return PopResult{Key: arr.Values[0].StringValue(), Value: v}, true, nil
}

func popDeadline(timeout time.Duration) time.Duration {
	if timeout == 0 {
		return command.NoDeadline
	}
	return timeout + blockingGrace
}

// Publish posts message on channel and returns the number of receivers.
func (d *Database) Publish(ctx context.Context, channel, message string) (int64, error) {
	enc, err := d.encode(message)
	if err != nil {
		return 0, &CommandError{Op: "Publish", Err: err}
	}
	reply, err := d.execute(ctx, "Publish", command.New("PUBLISH", channel, enc))
	if err != nil {
		return 0, err
	}
	return expectInt("Publish", reply)
}

// Select moves the handle to database index. The server is asked first, so
// an index it rejects leaves the handle unchanged.
func (d *Database) Select(ctx context.Context, index int) error {
	if err := d.check(); err != nil {
		return &CommandError{Op: "Select", Err: err}
	}
	p := d.client.pool
	c, err := p.Acquire(ctx, command.New("SELECT"))
	if err != nil {
		return &CommandError{Op: "Select", Err: err}
	}
	defer p.Release(c)

	reply, err := c.Exec(ctx, command.New("SELECT", index))
	if err == nil {
		err = command.ReplyError("SELECT", reply)
	}
	if err != nil {
		return &CommandError{Op: "Select", Err: err}
	}
	c.SetDB(index)
	d.index.Store(int32(index))
	return nil
}

// Ping round-trips PING, optionally echoing message.
func (d *Database) Ping(ctx context.Context, message ...string) (string, error) {
	env := command.New("PING")
	if len(message) > 0 {
		env = command.New("PING", message[0])
	}
	reply, err := d.execute(ctx, "Ping", env)
	if err != nil {
		return "", err
	}
	switch reply.(type) {
	case resp.RedisString, resp.RedisBulkString:
		return reply.StringValue(), nil
	}
	return "", &CommandError{Op: "Ping", Err: unexpected(reply, "string")}
}

// RoleInfo is the replication role reported by ROLE.
type RoleInfo struct {
	// Role is "master", "slave" or "sentinel".
	Role string
	// Offset is the replication offset, when the role reports one.
	Offset int64
	// Primary is the host:port a replica follows.
	Primary string
	// Replicas lists host:port of a primary's connected replicas.
	Replicas []string
}

// Role asks the server which replication role it plays.
func (d *Database) Role(ctx context.Context) (RoleInfo, error) {
	reply, err := d.execute(ctx, "Role", command.New("ROLE"))
	if err != nil {
		return RoleInfo{}, err
	}
	info, err := parseRole(reply)
	if err != nil {
		return RoleInfo{}, &CommandError{Op: "Role", Err: err}
	}
	return info, nil
}

func parseRole(reply resp.RedisValue) (RoleInfo, error) {
	arr, ok := reply.(resp.RedisArray)
	if !ok || len(arr.Values) == 0 {
		return RoleInfo{}, unexpected(reply, "array")
	}
	info := RoleInfo{Role: arr.Values[0].StringValue()}
	switch info.Role {
	case "master":
		if len(arr.Values) < 3 {
			return info, unexpected(reply, "array of three elements")
		}
		if n, ok := arr.Values[1].(resp.RedisInteger); ok {
			info.Offset = n.IntValue
		}
		replicas, _ := arr.Values[2].(resp.RedisArray)
		for _, r := range replicas.Values {
			if fields, ok := r.(resp.RedisArray); ok && len(fields.Values) >= 2 {
				info.Replicas = append(info.Replicas, fields.Values[0].StringValue()+":"+fields.Values[1].StringValue())
			}
		}
	case "slave":
		if len(arr.Values) < 5 {
			return info, unexpected(reply, "array of five elements")
		}
		info.Primary = arr.Values[1].StringValue() + ":" + arr.Values[2].StringValue()
		if n, ok := arr.Values[4].(resp.RedisInteger); ok {
			info.Offset = n.IntValue
		}
	}
	return info, nil
}

// Info returns the fields of INFO, optionally limited to one section. In a
// cluster the node answering is whichever primary is next in turn.
func (d *Database) Info(ctx context.Context, section string) (map[string]string, error) {
	if err := d.check(); err != nil {
		return nil, &CommandError{Op: "Info", Err: err}
	}
	p := d.client.pool
	c, err := p.Acquire(ctx, command.New("INFO"))
	if err != nil {
		return nil, &CommandError{Op: "Info", Err: err}
	}
	defer p.Release(c)

	info, err := c.Info(ctx, section)
	if err != nil {
		return nil, &CommandError{Op: "Info", Err: err}
	}
	return info, nil
}

// Keys iterates the keys matching pattern with SCAN. In a cluster every
// primary is scanned in turn. Errors end the iteration.
func (d *Database) Keys(ctx context.Context, pattern string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := d.check(); err != nil {
			yield("", &CommandError{Op: "Keys", Err: err})
			return
		}
		for _, addr := range d.client.pool.Addrs() {
			if !d.scanNode(ctx, addr, pattern, yield) {
				return
			}
		}
	}
}

func (d *Database) scanNode(ctx context.Context, addr, pattern string, yield func(string, error) bool) bool {
	p := d.client.pool
	c, err := p.AcquireAddr(ctx, addr)
	if err != nil {
		yield("", &CommandError{Op: "Keys", Err: err})
		return false
	}
	defer p.Release(c)

	if err := d.selectDB(ctx, c); err != nil {
		yield("", &CommandError{Op: "Keys", Err: err})
		return false
	}
	for key, err := range c.ScanKeys(ctx, pattern, 0) {
		if err != nil {
			yield("", &CommandError{Op: "Keys", Err: err})
			return false
		}
		if !yield(key, nil) {
			return false
		}
	}
	return true
}

// ListRange iterates the whole list at key, fetching it one page at a time.
func (d *Database) ListRange(ctx context.Context, key Key) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := d.check(); err != nil {
			yield("", &CommandError{Op: "ListRange", Err: err})
			return
		}
		p := d.client.pool
		c, err := p.Acquire(ctx, command.New("LRANGE", key))
		if err != nil {
			yield("", &CommandError{Op: "ListRange", Err: err})
			return
		}
		defer p.Release(c)

		if err := d.selectDB(ctx, c); err != nil {
			yield("", &CommandError{Op: "ListRange", Err: err})
			return
		}
		for item, err := range c.ListRange(ctx, key, 0) {
			if err == nil {
				item, err = d.decode(item)
			}
			if err != nil {
				yield("", &CommandError{Op: "ListRange", Err: err})
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// blockingCommands take their server-side timeout, in seconds, as the last
// argument.
var blockingCommands = map[string]bool{
	"BLPOP": true, "BRPOP": true, "BLMOVE": true, "BRPOPLPUSH": true,
	"BZPOPMIN": true, "BZPOPMAX": true,
}

// Do sends an arbitrary command. Key arguments route the command in a
// cluster; other arguments are encoded as bulk strings. Error replies come
// back as a *ServerError wrapped in a *CommandError. The value codec is not
// applied.
func (d *Database) Do(ctx context.Context, name string, args ...any) (Value, error) {
	env := command.New(name, args...)
	if blockingCommands[env.Name()] && len(args) > 0 {
		if secs, err := strconv.ParseFloat(fmt.Sprint(args[len(args)-1]), 64); err == nil && secs >= 0 {
			env = env.WithTimeout(popDeadline(time.Duration(secs * float64(time.Second))))
		}
	}
	return d.execute(ctx, "Do", env)
}

// execute runs env and classifies the reply. MOVED and ASK redirections are
// followed up to MaxRedirects times; a MOVED also re-resolves the cluster
// topology.
func (d *Database) execute(ctx context.Context, op string, env command.Envelope) (resp.RedisValue, error) {
	if err := d.check(); err != nil {
		return nil, &CommandError{Op: op, Err: err}
	}

	var (
		addr   string
		asking bool
	)
	for attempt := 0; ; attempt++ {
		reply, err := d.exchange(ctx, env, addr, asking)
		if err == nil {
			return reply, nil
		}

		var se *ServerError
		if !errors.As(err, &se) {
			return nil, &CommandError{Op: op, Err: err}
		}
		r, ok := se.Redirect()
		if !ok || attempt >= max(d.client.opts.MaxRedirects, 0) {
			return nil, &CommandError{Op: op, Err: err}
		}
		d.logger.Debug("redirected", "db", d.Index(), "command", env.FullName(), "slot", r.Slot, "to", r.Addr, "ask", r.Ask)

		asking = r.Ask
		addr = r.Addr
		if !r.Ask && len(env.Keys()) > 0 {
			// The re-resolved topology routes keyed commands.
			addr = ""
		}
	}
}

// exchange borrows a connection, runs env on it and returns it to the pool.
// An error reply is returned as a *ServerError.
func (d *Database) exchange(ctx context.Context, env command.Envelope, addr string, asking bool) (resp.RedisValue, error) {
	p := d.client.pool
	var (
		c   *conn.Connection
		err error
	)
	if addr != "" {
		c, err = p.AcquireAddr(ctx, addr)
	} else {
		c, err = p.Acquire(ctx, env)
	}
	if err != nil {
		return nil, err
	}
	defer p.Release(c)

	if err := d.selectDB(ctx, c); err != nil {
		return nil, err
	}
	if asking {
		reply, err := c.Exec(ctx, command.New("ASKING"))
		if err != nil {
			return nil, err
		}
		if err := command.ReplyError("ASKING", reply); err != nil {
			return nil, err
		}
	}

	reply, err := c.Exec(ctx, env)
	if err != nil {
		return nil, err
	}
	if err := command.ReplyError(env.FullName(), reply); err != nil {
		if command.IsMoved(err) {
			if rerr := p.Redirected(ctx, c); rerr != nil {
				d.logger.Warn("topology refresh failed", "err", rerr)
			}
		}
		return nil, err
	}
	return reply, nil
}

// selectDB issues SELECT when the connection last served another database.
func (d *Database) selectDB(ctx context.Context, c *conn.Connection) error {
	index := d.Index()
	if c.DB() == index {
		return nil
	}
	reply, err := c.Exec(ctx, command.New("SELECT", index))
	if err != nil {
		return err
	}
	if err := command.ReplyError("SELECT", reply); err != nil {
		return err
	}
	c.SetDB(index)
	return nil
}

func (d *Database) encode(v string) (string, error) {
	if d.codec == nil {
		return v, nil
	}
	b, err := d.codec.Encode([]byte(v))
	if err != nil {
		return "", fmt.Errorf("failed to encode value with %s: %w", d.codec.Name(), err)
	}
	return string(b), nil
}

func (d *Database) decode(v string) (string, error) {
	if d.codec == nil {
		return v, nil
	}
	b, err := d.codec.Decode([]byte(v))
	if err != nil {
		return "", fmt.Errorf("failed to decode value with %s: %w", d.codec.Name(), err)
	}
	return string(b), nil
}

func expectOK(op string, reply resp.RedisValue) error {
	if s, ok := reply.(resp.RedisString); ok && s.Value == "OK" {
		return nil
	}
	return &CommandError{Op: op, Err: unexpected(reply, "OK")}
}

func expectInt(op string, reply resp.RedisValue) (int64, error) {
	n, ok := reply.(resp.RedisInteger)
	if !ok {
		return 0, &CommandError{Op: op, Err: unexpected(reply, "integer")}
	}
	return n.IntValue, nil
}
