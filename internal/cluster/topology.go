// Package cluster models a sharded deployment's topology and discovers it
// with CLUSTER NODES.
package cluster

import (
	"net"
	"strconv"

	"github.com/cosmez/redispool-go/internal/hashslot"
)

// Role is a node's replication role as derived from its flags.
type Role int

const (
	RoleUndefined Role = iota
	RolePrimary
	RoleSecondary
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	default:
		return "undefined"
	}
}

// LinkState is the state of the cluster bus link to a node.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnected
)

func (l LinkState) String() string {
	if l == LinkConnected {
		return "connected"
	}
	return "disconnected"
}

// Addr is a node's client and cluster-bus endpoint.
type Addr struct {
	IP      string
	Port    int
	BusPort int
}

// HostPort is the address clients dial.
func (a Addr) HostPort() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
}

func (a Addr) String() string {
	return a.HostPort() + "@" + strconv.Itoa(a.BusPort)
}

// SlotRange is an inclusive range of hash slots.
type SlotRange struct {
	Start uint16
	End   uint16
}

func (r SlotRange) Contains(slot uint16) bool {
	return slot >= r.Start && slot <= r.End
}

func (r SlotRange) String() string {
	if r.Start == r.End {
		return strconv.Itoa(int(r.Start))
	}
	return strconv.Itoa(int(r.Start)) + "-" + strconv.Itoa(int(r.End))
}

// Node is one line of CLUSTER NODES.
type Node struct {
	ID          string
	Addr        Addr
	Flags       []string
	Role        Role
	Myself      bool
	PrimaryID   string // empty unless Role is RoleSecondary
	PingSent    int64
	PongRecv    int64
	ConfigEpoch int64
	Link        LinkState
	Slots       []SlotRange // nil for secondaries
}

// Topology is an immutable snapshot of the cluster. A re-resolution builds a
// new one rather than modifying an existing one.
type Topology struct {
	nodes []Node
	// owner maps a slot to an index into nodes, -1 when unassigned.
	owner []int16
}

// NewTopology indexes slot ownership for nodes. Only primaries own slots;
// when two primaries claim a slot the later one wins.
func NewTopology(nodes []Node) *Topology {
	t := &Topology{nodes: nodes, owner: make([]int16, hashslot.Count)}
	for i := range t.owner {
		t.owner[i] = -1
	}
	for i, n := range nodes {
		if n.Role != RolePrimary {
			continue
		}
		for _, r := range n.Slots {
			for s := int(r.Start); s <= int(r.End) && s < hashslot.Count; s++ {
				t.owner[s] = int16(i)
			}
		}
	}
	return t
}

// Nodes returns every node in the order the server listed them.
func (t *Topology) Nodes() []Node { return t.nodes }

// Primaries returns the primaries that own at least one slot.
func (t *Topology) Primaries() []Node {
	var out []Node
	for _, n := range t.nodes {
		if n.Role == RolePrimary && len(n.Slots) > 0 {
			out = append(out, n)
		}
	}
	return out
}

// NodeForSlot returns the primary owning slot.
func (t *Topology) NodeForSlot(slot uint16) (Node, bool) {
	if int(slot) >= len(t.owner) || t.owner[slot] < 0 {
		return Node{}, false
	}
	return t.nodes[t.owner[slot]], true
}

// Covered reports whether every slot has an owner, as in a healthy cluster.
func (t *Topology) Covered() bool {
	for _, o := range t.owner {
		if o < 0 {
			return false
		}
	}
	return true
}
