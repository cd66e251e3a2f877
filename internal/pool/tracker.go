package pool

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cosmez/redispool-go/internal/conn"
)

// tracker owns every connection a pool creates: the per-node idle queues and
// the generation each live connection was created under.
type tracker struct {
	factory *conn.Factory
	size    int
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	idle   map[string]chan *conn.Connection
	live   map[*conn.Connection]uint64
}

func newTracker(factory *conn.Factory, size int, logger *slog.Logger) *tracker {
	return &tracker{
		factory: factory,
		size:    size,
		logger:  logger,
		idle:    make(map[string]chan *conn.Connection),
		live:    make(map[*conn.Connection]uint64),
	}
}

// get borrows an idle connection to addr or creates one tagged with gen.
func (t *tracker) get(ctx context.Context, addr string, gen uint64) (*conn.Connection, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	// Queues are only touched under mu, so len is exact.
	for q := t.queue(addr); len(q) > 0; {
		c := <-q
		if c.Reusable() {
			t.mu.Unlock()
			return c, nil
		}
		t.dropLocked(c)
	}
	c := t.factory.New(addr)
	t.live[c] = gen
	t.mu.Unlock()

	t.logger.Debug("new connection", "conn", c.ID, "addr", addr, "generation", gen)
	if err := c.Connect(ctx); err != nil {
		t.drop(c)
		return nil, err
	}
	return c, nil
}

// put returns c to its idle queue when it is reusable, still current and
// there is room; otherwise it is closed.
func (t *tracker) put(c *conn.Connection, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	owned, ok := t.live[c]
	if !ok {
		return
	}
	if t.closed || owned != gen || !c.Reusable() {
		t.dropLocked(c)
		return
	}
	select {
	case t.queue(c.Addr) <- c:
	default:
		t.dropLocked(c)
	}
}

func (t *tracker) generation(c *conn.Connection) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	gen, ok := t.live[c]
	return gen, ok
}

// reset closes every idle connection and forgets the queues. Borrowed
// connections stay open until they are released.
func (t *tracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, q := range t.idle {
		for len(q) > 0 {
			t.dropLocked(<-q)
		}
	}
	t.idle = make(map[string]chan *conn.Connection)
}

func (t *tracker) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for c := range t.live {
		c.Close()
	}
	clear(t.live)
	t.idle = make(map[string]chan *conn.Connection)
	return nil
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

func (t *tracker) queue(addr string) chan *conn.Connection {
	q, ok := t.idle[addr]
	if !ok {
		q = make(chan *conn.Connection, t.size)
		t.idle[addr] = q
	}
	return q
}

func (t *tracker) drop(c *conn.Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropLocked(c)
}

func (t *tracker) dropLocked(c *conn.Connection) {
	delete(t.live, c)
	c.Close()
}
