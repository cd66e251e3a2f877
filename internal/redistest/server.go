// Package redistest runs an in-memory RESP server for tests. It speaks enough
// of the protocol for the commands this module issues and can be grouped into
// a scripted cluster that answers CLUSTER NODES and redirects with MOVED.
package redistest

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tidwall/redcon"
)

// Interceptor sees every command before the server does. Returning ok
// sends reply verbatim instead of running the command.
type Interceptor func(args []string) (reply string, ok bool)

// Server is a single in-memory node.
type Server struct {
	srv   *redcon.Server
	addr  string
	state *state

	cluster *Cluster
	index   int

	mu        sync.Mutex
	clients   map[*client]struct{}
	intercept Interceptor
	calls     map[string]int

	accepted atomic.Int64
	closed   atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// Start runs a standalone node on a loopback port until the test ends.
func Start(t testing.TB) *Server {
	t.Helper()
	s, err := newServer(newState(), nil, 0)
	if err != nil {
		t.Fatalf("redistest: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func newServer(st *state, cl *Cluster, index int) (*Server, error) {
	s := &Server{
		state:   st,
		cluster: cl,
		index:   index,
		clients: make(map[*client]struct{}),
		calls:   make(map[string]int),
		done:    make(chan struct{}),
	}
	s.srv = redcon.NewServerNetwork("tcp", "127.0.0.1:0", s.handle, s.accept, s.closedConn)

	signal := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.srv.ListenServeAndSignal(signal)
	}()
	if err := <-signal; err != nil {
		s.wg.Wait()
		return nil, err
	}
	s.addr = s.srv.Addr().String()
	return s, nil
}

// Addr is the host:port the server listens on.
func (s *Server) Addr() string { return s.addr }

// Accepted counts connections accepted so far.
func (s *Server) Accepted() int { return int(s.accepted.Load()) }

// Calls counts how often a command (upper case, e.g. "SELECT" or
// "CLUSTER NODES") was received.
func (s *Server) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

// Intercept installs fn in front of the command handlers. Nil removes it.
func (s *Server) Intercept(fn Interceptor) {
	s.mu.Lock()
	s.intercept = fn
	s.mu.Unlock()
}

// DropClients closes every open client connection.
func (s *Server) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		_ = c.conn.NetConn().Close()
	}
}

// Close stops accepting and drops every client.
func (s *Server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	_ = s.srv.Close()
	s.DropClients()
	s.wg.Wait()
}

func (s *Server) accept(conn redcon.Conn) bool {
	if s.closed.Load() {
		return false
	}
	s.accepted.Add(1)
	c := &client{conn: conn}
	conn.SetContext(c)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	return true
}

func (s *Server) closedConn(conn redcon.Conn, _ error) {
	if c, ok := conn.Context().(*client); ok {
		s.forget(c)
	}
}

func (s *Server) forget(c *client) {
	s.state.unsubscribeAll(c)
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// handle runs on redcon's connection goroutine. A client that subscribes is
// detached so publishers on other connections can push frames to it; its
// remaining commands are then read by serveDetached.
func (s *Server) handle(conn redcon.Conn, cmd redcon.Command) {
	c, ok := conn.Context().(*client)
	if !ok {
		conn.WriteError("ERR no client state")
		return
	}
	args := commandArgs(cmd)
	if len(args) == 0 {
		return
	}
	switch strings.ToUpper(args[0]) {
	case "SUBSCRIBE", "PSUBSCRIBE":
		c.detach()
		s.wg.Add(1)
		go s.serveDetached(c, args)
		return
	}
	if !s.dispatch(c, args) {
		_ = conn.Close()
	}
}

func (s *Server) serveDetached(c *client, first []string) {
	defer s.wg.Done()
	defer func() {
		s.forget(c)
		_ = c.dc.Close()
	}()
	if !s.dispatch(c, first) {
		return
	}
	for {
		cmd, err := c.dc.ReadCommand()
		if err != nil {
			return
		}
		if args := commandArgs(cmd); len(args) > 0 && !s.dispatch(c, args) {
			return
		}
	}
}

// dispatch runs one command and reports whether the connection stays open.
func (s *Server) dispatch(c *client, args []string) bool {
	args[0] = strings.ToUpper(args[0])
	name := args[0]
	if name == "CLUSTER" || name == "CLIENT" {
		if len(args) > 1 {
			name += " " + strings.ToUpper(args[1])
		}
	}

	s.mu.Lock()
	s.calls[name]++
	intercept := s.intercept
	s.mu.Unlock()

	if intercept != nil {
		if reply, ok := intercept(args); ok {
			c.write(reply)
			return true
		}
	}
	if name == "QUIT" {
		c.write(simple("OK"))
		return false
	}
	if reply := s.exec(c, name, args); reply != "" {
		c.write(reply)
	}
	return true
}

func commandArgs(cmd redcon.Command) []string {
	args := make([]string, len(cmd.Args))
	for i, a := range cmd.Args {
		args[i] = string(a)
	}
	return args
}

type client struct {
	conn redcon.Conn
	wmu  sync.Mutex
	dc   redcon.DetachedConn // set once the client subscribes
	db   int

	// Guarded by state.mu.
	channels map[string]struct{}
	patterns map[string]struct{}
}

func (c *client) detach() {
	c.wmu.Lock()
	c.dc = c.conn.Detach()
	c.wmu.Unlock()
}

// write queues reply on the connection. Attached replies are flushed by
// redcon when the handler returns; detached ones are flushed here.
func (c *client) write(reply string) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.dc == nil {
		c.conn.WriteRaw([]byte(reply))
		return
	}
	c.dc.WriteRaw([]byte(reply))
	_ = c.dc.Flush()
}
