package redistest

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/cosmez/redispool-go/internal/hashslot"
)

// Cluster is a group of nodes sharing one keyspace. Slot ownership is
// scripted: MoveSlots changes what CLUSTER NODES reports and which node
// answers MOVED.
type Cluster struct {
	mu    sync.Mutex
	nodes []*Server
	ids   []string
	slots []int
	epoch int
}

// StartCluster runs n primaries with the slot space split evenly between
// them. Each primary is also listed with one replica that is never dialed.
func StartCluster(t testing.TB, n int) *Cluster {
	t.Helper()
	cl := &Cluster{slots: make([]int, hashslot.Count), epoch: n}
	st := newState()
	for i := range n {
		s, err := newServer(st, cl, i)
		if err != nil {
			t.Fatalf("redistest: %v", err)
		}
		t.Cleanup(s.Close)
		cl.nodes = append(cl.nodes, s)
		cl.ids = append(cl.ids, fmt.Sprintf("%040x", i+1))
	}
	per := hashslot.Count / n
	for slot := range cl.slots {
		cl.slots[slot] = min(slot/per, n-1)
	}
	return cl
}

// Nodes returns the primaries in slot order.
func (c *Cluster) Nodes() []*Server { return c.nodes }

// Seed is the address of the first node.
func (c *Cluster) Seed() string { return c.nodes[0].Addr() }

// MoveSlots hands slots start..end to node to.
func (c *Cluster) MoveSlots(start, end uint16, to int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := int(start); s <= int(end); s++ {
		c.slots[s] = to
	}
	c.epoch++
}

// Owner returns the index of the node owning slot.
func (c *Cluster) Owner(slot uint16) int { return c.owner(slot) }

// Probes counts CLUSTER NODES requests across all nodes.
func (c *Cluster) Probes() int {
	n := 0
	for _, s := range c.nodes {
		n += s.Calls("CLUSTER NODES")
	}
	return n
}

func (c *Cluster) owner(slot uint16) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[slot]
}

func (c *Cluster) nodesText(self int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	for i, s := range c.nodes {
		host, port := splitAddr(s.Addr())
		flags := "master"
		if i == self {
			flags = "myself,master"
		}
		fmt.Fprintf(&b, "%s %s:%d@%d %s - 0 1659439685901 %d connected", c.ids[i], host, port, port+10000, flags, c.epoch)
		for _, r := range c.rangesOf(i) {
			b.WriteString(" " + r)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "%040x %s:1@10001 slave %s 0 1659439685901 %d connected\n", 100+i, host, c.ids[i], c.epoch)
	}
	return b.String()
}

// rangesOf renders node i's slots as CLUSTER NODES tokens. c.mu must be held.
func (c *Cluster) rangesOf(i int) []string {
	var out []string
	for s := 0; s < len(c.slots); {
		if c.slots[s] != i {
			s++
			continue
		}
		start := s
		for s < len(c.slots) && c.slots[s] == i {
			s++
		}
		if start == s-1 {
			out = append(out, strconv.Itoa(start))
		} else {
			out = append(out, fmt.Sprintf("%d-%d", start, s-1))
		}
	}
	return out
}

func splitAddr(addr string) (string, int) {
	i := strings.LastIndexByte(addr, ':')
	port, _ := strconv.Atoi(addr[i+1:])
	return addr[:i], port
}
