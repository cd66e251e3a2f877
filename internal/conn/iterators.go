package conn

import (
	"context"
	"fmt"
	"iter"
	"strconv"

	"github.com/cosmez/redispool-go/internal/command"
	"github.com/cosmez/redispool-go/internal/resp"
)

// ScanKeys walks the node's keyspace with SCAN. The cursor loop ends when the
// server hands back cursor 0. Errors are yielded once and end the iteration.
func (c *Connection) ScanKeys(ctx context.Context, pattern string, count int) iter.Seq2[string, error] {
	if pattern == "" {
		pattern = "*"
	}
	if count <= 0 {
		count = 100
	}
	return func(yield func(string, error) bool) {
		cursor := "0"
		for {
			reply, err := c.Exec(ctx, command.New("SCAN", cursor, "MATCH", pattern, "COUNT", count))
			if err != nil {
				yield("", err)
				return
			}
			if err := command.ReplyError("SCAN", reply); err != nil {
				yield("", err)
				return
			}
			next, keys, err := scanPage(reply)
			if err != nil {
				yield("", err)
				return
			}
			for _, key := range keys {
				if !yield(key, nil) {
					return
				}
			}
			if next == "0" {
				return
			}
			cursor = next
		}
	}
}

func scanPage(reply resp.RedisValue) (string, []string, error) {
	arr, ok := reply.(resp.RedisArray)
	if !ok || len(arr.Values) != 2 {
		return "", nil, fmt.Errorf("SCAN: unexpected reply %s", reply.Type())
	}
	keys, ok := arr.Values[1].(resp.RedisArray)
	if !ok {
		return "", nil, fmt.Errorf("SCAN: unexpected keys element %s", arr.Values[1].Type())
	}
	return arr.Values[0].StringValue(), keys.Strings(), nil
}

// ListRange walks a list front to back, pageSize elements per LRANGE.
func (c *Connection) ListRange(ctx context.Context, key command.Key, pageSize int) iter.Seq2[string, error] {
	if pageSize <= 0 {
		pageSize = 100
	}
	return func(yield func(string, error) bool) {
		for start := 0; ; start += pageSize {
			stop := start + pageSize - 1
			reply, err := c.Exec(ctx, command.New("LRANGE", key, strconv.Itoa(start), strconv.Itoa(stop)))
			if err != nil {
				yield("", err)
				return
			}
			if err := command.ReplyError("LRANGE", reply); err != nil {
				yield("", err)
				return
			}
			arr, ok := reply.(resp.RedisArray)
			if !ok {
				yield("", fmt.Errorf("LRANGE: unexpected reply %s", reply.Type()))
				return
			}
			for _, item := range arr.Values {
				if !yield(item.StringValue(), nil) {
					return
				}
			}
			if len(arr.Values) < pageSize {
				return
			}
		}
	}
}
