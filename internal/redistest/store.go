package redistest

import (
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cosmez/redispool-go/internal/hashslot"
)

// state is the data shared by every node of a deployment.
type state struct {
	mu      sync.Mutex
	dbs     map[int]*db
	changed chan struct{} // closed and replaced on every list push
	subs    map[*client]struct{}
}

type db struct {
	strings map[string]string
	lists   map[string][]string
}

func newState() *state {
	return &state{
		dbs:     make(map[int]*db),
		changed: make(chan struct{}),
		subs:    make(map[*client]struct{}),
	}
}

// db returns database i. state.mu must be held.
func (st *state) db(i int) *db {
	d, ok := st.dbs[i]
	if !ok {
		d = &db{strings: make(map[string]string), lists: make(map[string][]string)}
		st.dbs[i] = d
	}
	return d
}

func (st *state) notify() {
	close(st.changed)
	st.changed = make(chan struct{})
}

func (s *Server) exec(c *client, name string, args []string) string {
	if reply, redirected := s.route(name, args); redirected {
		return reply
	}

	switch name {
	case "PING":
		if len(args) > 1 {
			return bulk(args[1])
		}
		return simple("PONG")
	case "SELECT":
		if len(args) != 2 {
			return arityErr(args[0])
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 || n > 15 {
			return errReply("ERR DB index is out of range")
		}
		if s.cluster != nil && n != 0 {
			return errReply("ERR SELECT is not allowed in cluster mode")
		}
		c.db = n
		return simple("OK")
	case "CLIENT SETNAME", "CLIENT SETINFO", "ASKING":
		return simple("OK")
	case "ROLE":
		return "*3\r\n" + bulk("master") + integer(0) + "*0\r\n"
	case "INFO":
		mode := "standalone"
		if s.cluster != nil {
			mode = "cluster"
		}
		return bulk("# Server\r\nredis_version:7.2.0\r\nredis_mode:" + mode + "\r\n\r\n# Replication\r\nrole:master\r\nconnected_slaves:0\r\n")
	case "COMMAND":
		return "*0\r\n"
	case "CLUSTER NODES":
		if s.cluster == nil {
			return errReply("ERR This instance has cluster support disabled")
		}
		return bulk(s.cluster.nodesText(s.index))
	case "PUBLISH":
		if len(args) != 3 {
			return arityErr(args[0])
		}
		return integer(s.state.publish(args[1], args[2]))
	case "SUBSCRIBE", "PSUBSCRIBE", "UNSUBSCRIBE", "PUNSUBSCRIBE":
		if len(args) < 2 && (name == "SUBSCRIBE" || name == "PSUBSCRIBE") {
			return arityErr(args[0])
		}
		return s.state.subscribe(c, name, args[1:])
	}

	st := s.state
	st.mu.Lock()
	defer st.mu.Unlock()
	d := st.db(c.db)

	switch name {
	case "GET":
		if len(args) != 2 {
			return arityErr(args[0])
		}
		if _, ok := d.lists[args[1]]; ok {
			return wrongType()
		}
		v, ok := d.strings[args[1]]
		if !ok {
			return nullBulk()
		}
		return bulk(v)
	case "SET":
		if len(args) < 3 {
			return arityErr(args[0])
		}
		delete(d.lists, args[1])
		d.strings[args[1]] = args[2]
		return simple("OK")
	case "MSET":
		if len(args) < 3 || len(args)%2 != 1 {
			return arityErr(args[0])
		}
		for i := 1; i < len(args); i += 2 {
			delete(d.lists, args[i])
			d.strings[args[i]] = args[i+1]
		}
		return simple("OK")
	case "DEL":
		n := 0
		for _, k := range args[1:] {
			if _, ok := d.strings[k]; ok {
				n++
			}
			if _, ok := d.lists[k]; ok {
				n++
			}
			delete(d.strings, k)
			delete(d.lists, k)
		}
		return integer(n)
	case "LLEN":
		if len(args) != 2 {
			return arityErr(args[0])
		}
		if _, ok := d.strings[args[1]]; ok {
			return wrongType()
		}
		return integer(len(d.lists[args[1]]))
	case "LPUSH", "RPUSH":
		if len(args) < 3 {
			return arityErr(args[0])
		}
		if _, ok := d.strings[args[1]]; ok {
			return wrongType()
		}
		l := d.lists[args[1]]
		for _, v := range args[2:] {
			if name == "LPUSH" {
				l = append([]string{v}, l...)
			} else {
				l = append(l, v)
			}
		}
		d.lists[args[1]] = l
		st.notify()
		return integer(len(l))
	case "LRANGE":
		if len(args) != 4 {
			return arityErr(args[0])
		}
		start, err1 := strconv.Atoi(args[2])
		stop, err2 := strconv.Atoi(args[3])
		if err1 != nil || err2 != nil {
			return errReply("ERR value is not an integer or out of range")
		}
		return bulkArray(listRange(d.lists[args[1]], start, stop))
	case "SCAN":
		return scan(d, args[1:])
	case "BLPOP", "BRPOP":
		if len(args) < 3 {
			return arityErr(args[0])
		}
		secs, err := strconv.ParseFloat(args[len(args)-1], 64)
		if err != nil || secs < 0 {
			return errReply("ERR timeout is not a float or out of range")
		}
		return s.blockingPop(c, name == "BLPOP", args[1:len(args)-1], time.Duration(secs*float64(time.Second)))
	}
	return errReply(fmt.Sprintf("ERR unknown command '%s'", args[0]))
}

// blockingPop is entered with state.mu held and returns with it held.
func (s *Server) blockingPop(c *client, left bool, keys []string, timeout time.Duration) string {
	st := s.state
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		d := st.db(c.db)
		for _, k := range keys {
			l := d.lists[k]
			if len(l) == 0 {
				continue
			}
			var v string
			if left {
				v, l = l[0], l[1:]
			} else {
				v, l = l[len(l)-1], l[:len(l)-1]
			}
			if len(l) == 0 {
				delete(d.lists, k)
			} else {
				d.lists[k] = l
			}
			return bulkArray([]string{k, v})
		}

		changed := st.changed
		st.mu.Unlock()
		select {
		case <-changed:
			st.mu.Lock()
		case <-expired:
			st.mu.Lock()
			return nullArray()
		case <-s.done:
			st.mu.Lock()
			return nullArray()
		}
	}
}

func listRange(l []string, start, stop int) []string {
	n := len(l)
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = n + stop
	}
	stop = min(stop, n-1)
	if start > stop || start >= n {
		return nil
	}
	return l[start : stop+1]
}

// scan pages through the sorted key set; the cursor is an offset.
func scan(d *db, args []string) string {
	if len(args) < 1 {
		return arityErr("scan")
	}
	cursor, err := strconv.Atoi(args[0])
	if err != nil || cursor < 0 {
		return errReply("ERR invalid cursor")
	}
	pattern, count := "*", 10
	for i := 1; i+1 < len(args); i += 2 {
		switch strings.ToUpper(args[i]) {
		case "MATCH":
			pattern = args[i+1]
		case "COUNT":
			if count, err = strconv.Atoi(args[i+1]); err != nil || count < 1 {
				return errReply("ERR value is not an integer or out of range")
			}
		}
	}

	var keys []string
	for k := range d.strings {
		keys = append(keys, k)
	}
	for k := range d.lists {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	end := min(cursor+count, len(keys))
	var page []string
	for _, k := range keys[min(cursor, len(keys)):end] {
		if ok, _ := path.Match(pattern, k); ok {
			page = append(page, k)
		}
	}
	next := end
	if next >= len(keys) {
		next = 0
	}
	return "*2\r\n" + bulk(strconv.Itoa(next)) + bulkArray(page)
}

// publish delivers to every matching subscriber and returns the count.
func (st *state) publish(channel, payload string) int {
	st.mu.Lock()
	var frames []func()
	for c := range st.subs {
		if _, ok := c.channels[channel]; ok {
			frames = append(frames, func() { c.write(bulkArray([]string{"message", channel, payload})) })
		}
		for p := range c.patterns {
			if ok, _ := path.Match(p, channel); ok {
				frames = append(frames, func() { c.write(bulkArray([]string{"pmessage", p, channel, payload})) })
			}
		}
	}
	st.mu.Unlock()

	for _, send := range frames {
		send()
	}
	return len(frames)
}

func (st *state) subscribe(c *client, name string, targets []string) string {
	st.mu.Lock()
	defer st.mu.Unlock()

	if c.channels == nil {
		c.channels = make(map[string]struct{})
		c.patterns = make(map[string]struct{})
	}
	set, kind := c.channels, strings.ToLower(name)
	if strings.HasPrefix(name, "P") {
		set = c.patterns
	}
	unsubscribe := strings.Contains(name, "UNSUBSCRIBE")
	if unsubscribe && len(targets) == 0 {
		for t := range set {
			targets = append(targets, t)
		}
		slices.Sort(targets)
		if len(targets) == 0 {
			return "*3\r\n" + bulk(kind) + nullBulk() + integer(len(c.channels)+len(c.patterns))
		}
	}

	var out strings.Builder
	for _, t := range targets {
		if unsubscribe {
			delete(set, t)
		} else {
			set[t] = struct{}{}
		}
		out.WriteString("*3\r\n" + bulk(kind) + bulk(t) + integer(len(c.channels)+len(c.patterns)))
	}
	if len(c.channels)+len(c.patterns) > 0 {
		st.subs[c] = struct{}{}
	} else {
		delete(st.subs, c)
	}
	return out.String()
}

func (st *state) unsubscribeAll(c *client) {
	st.mu.Lock()
	delete(st.subs, c)
	st.mu.Unlock()
}

// route answers MOVED or CROSSSLOT when this node is part of a cluster and
// does not own the command's keys.
func (s *Server) route(name string, args []string) (string, bool) {
	if s.cluster == nil {
		return "", false
	}
	keys := commandKeys(name, args)
	if len(keys) == 0 {
		return "", false
	}
	if !hashslot.AllInSingleSlot(keys...) {
		return errReply("CROSSSLOT Keys in request don't hash to the same slot"), true
	}
	slot := hashslot.Slot(keys[0])
	owner := s.cluster.owner(slot)
	if owner == s.index {
		return "", false
	}
	return errReply(fmt.Sprintf("MOVED %d %s", slot, s.cluster.nodes[owner].Addr())), true
}

func commandKeys(name string, args []string) []string {
	switch name {
	case "GET", "SET", "LLEN", "LPUSH", "RPUSH", "LRANGE":
		if len(args) > 1 {
			return args[1:2]
		}
	case "MSET":
		var keys []string
		for i := 1; i < len(args); i += 2 {
			keys = append(keys, args[i])
		}
		return keys
	case "DEL":
		return args[1:]
	case "BLPOP", "BRPOP":
		if len(args) > 2 {
			return args[1 : len(args)-1]
		}
	}
	return nil
}

func simple(s string) string     { return "+" + s + "\r\n" }
func errReply(s string) string   { return "-" + s + "\r\n" }
func integer(n int) string       { return ":" + strconv.Itoa(n) + "\r\n" }
func bulk(s string) string       { return "$" + strconv.Itoa(len(s)) + "\r\n" + s + "\r\n" }
func nullBulk() string           { return "$-1\r\n" }
func nullArray() string          { return "*-1\r\n" }
func wrongType() string          { return errReply("WRONGTYPE Operation against a key holding the wrong kind of value") }
func arityErr(cmd string) string { return errReply(fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(cmd))) }

func bulkArray(items []string) string {
	var b strings.Builder
	b.WriteString("*" + strconv.Itoa(len(items)) + "\r\n")
	for _, it := range items {
		b.WriteString(bulk(it))
	}
	return b.String()
}
