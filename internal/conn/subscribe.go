package conn

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/cosmez/redispool-go/internal/resp"
)

// PollInterval bounds how long Frames blocks in one read before it looks at
// the context again.
const PollInterval = 200 * time.Millisecond

// Frames streams pushed frames off a connection that has been dedicated to a
// subscription. It stops when ctx is cancelled, the consumer stops iterating,
// or a read fails; a failure is yielded once as the final element.
//
// Short polls keep the connection usable when ctx is cancelled between
// frames, so it can be released afterwards.
func (c *Connection) Frames(ctx context.Context) iter.Seq2[resp.RedisValue, error] {
	return func(yield func(resp.RedisValue, error) bool) {
		for ctx.Err() == nil {
			v, err := c.poll(context.WithoutCancel(ctx), PollInterval)
			if errors.Is(err, errPollTimeout) {
				continue
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}
