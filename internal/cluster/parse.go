package cluster

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cosmez/redispool-go/internal/hashslot"
)

// ParseNodes parses a CLUSTER NODES reply, one node per line.
//
//	<id> <ip:port@cport[,hostname]> <flags> <primary> <ping-sent> <pong-recv> <config-epoch> <link-state> <slot> ... <slot>
func ParseNodes(text string) ([]Node, error) {
	var nodes []Node
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		n, err := ParseNodeLine(line)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("empty CLUSTER NODES reply")
	}
	return nodes, nil
}

// ParseNodeLine parses a single CLUSTER NODES line. The slot list is optional.
func ParseNodeLine(line string) (Node, error) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return Node{}, fmt.Errorf("cluster node line has %d fields, want at least 8: %q", len(fields), line)
	}

	n := Node{ID: fields[0]}

	addr, err := parseAddr(fields[1])
	if err != nil {
		return Node{}, fmt.Errorf("node %s: %w", n.ID, err)
	}
	n.Addr = addr

	n.Flags = strings.Split(fields[2], ",")
	for _, f := range n.Flags {
		switch f {
		case "myself":
			n.Myself = true
		case "master":
			n.Role = RolePrimary
		case "slave", "replica":
			n.Role = RoleSecondary
		}
	}

	if fields[3] != "-" {
		n.PrimaryID = fields[3]
	}

	if n.PingSent, err = strconv.ParseInt(fields[4], 10, 64); err != nil {
		return Node{}, fmt.Errorf("node %s: invalid ping-sent %q", n.ID, fields[4])
	}
	if n.PongRecv, err = strconv.ParseInt(fields[5], 10, 64); err != nil {
		return Node{}, fmt.Errorf("node %s: invalid pong-recv %q", n.ID, fields[5])
	}
	if n.ConfigEpoch, err = strconv.ParseInt(fields[6], 10, 64); err != nil {
		return Node{}, fmt.Errorf("node %s: invalid config-epoch %q", n.ID, fields[6])
	}
	if fields[7] == "connected" {
		n.Link = LinkConnected
	}

	for _, tok := range fields[8:] {
		// [slot->-node] and [slot-<-node] describe migrations in progress.
		if strings.HasPrefix(tok, "[") {
			continue
		}
		r, err := parseSlotRange(tok)
		if err != nil {
			return Node{}, fmt.Errorf("node %s: %w", n.ID, err)
		}
		n.Slots = append(n.Slots, r)
	}
	return n, nil
}

func parseAddr(s string) (Addr, error) {
	s, _, _ = strings.Cut(s, ",") // hostname suffix
	hostPort, bus, _ := strings.Cut(s, "@")

	i := strings.LastIndexByte(hostPort, ':')
	if i < 0 {
		return Addr{}, fmt.Errorf("invalid node address %q", s)
	}
	port, err := strconv.Atoi(hostPort[i+1:])
	if err != nil {
		return Addr{}, fmt.Errorf("invalid node port in %q", s)
	}
	a := Addr{IP: strings.Trim(hostPort[:i], "[]"), Port: port}
	if bus != "" {
		if a.BusPort, err = strconv.Atoi(bus); err != nil {
			return Addr{}, fmt.Errorf("invalid bus port in %q", s)
		}
	}
	return a, nil
}

func parseSlotRange(tok string) (SlotRange, error) {
	startTok, endTok, isRange := strings.Cut(tok, "-")
	start, err := parseSlot(startTok)
	if err != nil {
		return SlotRange{}, err
	}
	if !isRange {
		return SlotRange{Start: start, End: start}, nil
	}
	end, err := parseSlot(endTok)
	if err != nil {
		return SlotRange{}, err
	}
	if end < start {
		return SlotRange{}, fmt.Errorf("inverted slot range %q", tok)
	}
	return SlotRange{Start: start, End: end}, nil
}

func parseSlot(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil || v >= hashslot.Count {
		return 0, fmt.Errorf("invalid slot %q", s)
	}
	return uint16(v), nil
}
