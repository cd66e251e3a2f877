package command

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cosmez/redispool-go/internal/resp"
)

// CommandDoc documents one command for the shell. FirstKey, LastKey and
// KeyStep follow the COMMAND reply convention: positions count the command
// name as 0, a negative LastKey counts from the end, and FirstKey 0 means the
// command takes no keys.
type CommandDoc struct {
	Command   string
	Summary   string
	Arguments string
	Group     string
	FirstKey  int
	LastKey   int
	KeyStep   int
}

// keyPositions returns the indexes into the argument list (name excluded)
// that hold keys.
func (d *CommandDoc) keyPositions(nargs int) []int {
	if d.FirstKey <= 0 || nargs == 0 {
		return nil
	}
	last := d.LastKey
	if last < 0 {
		last = nargs + 1 + last
	}
	last = min(last, nargs)
	step := max(d.KeyStep, 1)

	var positions []int
	for p := d.FirstKey; p <= last; p += step {
		positions = append(positions, p-1)
	}
	return positions
}

var builtinDocs = []CommandDoc{
	{Command: "GET", Summary: "Get the value of a key", Arguments: "key", Group: "string", FirstKey: 1, LastKey: 1, KeyStep: 1},
	{Command: "SET", Summary: "Set the string value of a key", Arguments: "key value", Group: "string", FirstKey: 1, LastKey: 1, KeyStep: 1},
	{Command: "MSET", Summary: "Set multiple keys to multiple values", Arguments: "key value [key value ...]", Group: "string", FirstKey: 1, LastKey: -1, KeyStep: 2},
	{Command: "LLEN", Summary: "Get the length of a list", Arguments: "key", Group: "list", FirstKey: 1, LastKey: 1, KeyStep: 1},
	{Command: "LPUSH", Summary: "Prepend one or multiple elements to a list", Arguments: "key element [element ...]", Group: "list", FirstKey: 1, LastKey: 1, KeyStep: 1},
	{Command: "RPUSH", Summary: "Append one or multiple elements to a list", Arguments: "key element [element ...]", Group: "list", FirstKey: 1, LastKey: 1, KeyStep: 1},
	{Command: "LRANGE", Summary: "Get a range of elements from a list", Arguments: "key start stop", Group: "list", FirstKey: 1, LastKey: 1, KeyStep: 1},
	{Command: "BLPOP", Summary: "Remove and get the first element in a list, or block until one is available", Arguments: "key [key ...] timeout", Group: "list", FirstKey: 1, LastKey: -2, KeyStep: 1},
	{Command: "BRPOP", Summary: "Remove and get the last element in a list, or block until one is available", Arguments: "key [key ...] timeout", Group: "list", FirstKey: 1, LastKey: -2, KeyStep: 1},
	{Command: "PUBLISH", Summary: "Post a message to a channel", Arguments: "channel message", Group: "pubsub"},
	{Command: "SUBSCRIBE", Summary: "Listen for messages published to the given channels", Arguments: "channel [channel ...]", Group: "pubsub"},
	{Command: "PSUBSCRIBE", Summary: "Listen for messages published to channels matching the given patterns", Arguments: "pattern [pattern ...]", Group: "pubsub"},
	{Command: "PING", Summary: "Ping the server", Arguments: "[message]", Group: "connection"},
	{Command: "SELECT", Summary: "Change the selected database for the current connection", Arguments: "index", Group: "connection"},
	{Command: "ROLE", Summary: "Return the role of the instance in the context of replication", Group: "server"},
	{Command: "INFO", Summary: "Get information and statistics about the server", Arguments: "[section]", Group: "server"},
	{Command: "SCAN", Summary: "Incrementally iterate the keys space", Arguments: "cursor [MATCH pattern] [COUNT count]", Group: "generic"},
	{Command: "CLUSTER NODES", Summary: "Get cluster config for the node", Group: "cluster"},
}

var shellDocs = []CommandDoc{
	{Command: "EXIT", Summary: "Exit the shell", Group: "application"},
	{Command: "HELP", Summary: "Show help for a command", Arguments: "[command]", Group: "application"},
	{Command: "CLEAR", Summary: "Clear the screen", Group: "application"},
	{Command: "NODES", Summary: "Print the resolved cluster topology", Group: "application"},
	{Command: "SAFEKEYS", Summary: "Iterate keys with SCAN on every primary", Arguments: "[pattern]", Group: "application"},
}

// Registry indexes command documentation by upper-case name.
type Registry struct {
	docs  []CommandDoc
	index map[string]int
}

// NewRegistry returns a registry holding the commands issued by the client
// plus the shell's own commands.
func NewRegistry() *Registry {
	docs := slices.Concat(builtinDocs, shellDocs)
	idx := make(map[string]int, len(docs))
	for i, doc := range docs {
		idx[doc.Command] = i
	}
	return &Registry{docs: docs, index: idx}
}

// Get returns the documentation for cmd, or nil.
func (r *Registry) Get(cmd string) *CommandDoc {
	if i, ok := r.index[strings.ToUpper(cmd)]; ok {
		return &r.docs[i]
	}
	return nil
}

// GetCommands returns command names starting with prefix, for completion.
func (r *Registry) GetCommands(prefix string) []string {
	prefix = strings.ToUpper(prefix)
	var matches []string
	for _, doc := range r.docs {
		if strings.HasPrefix(doc.Command, prefix) {
			matches = append(matches, doc.Command)
		}
	}
	return matches
}

// MergeServerCommands adds entries for commands reported by the server's
// COMMAND reply that the registry does not know yet. Known entries keep their
// documentation. Malformed entries are skipped.
func (r *Registry) MergeServerCommands(reply resp.RedisValue) int {
	arr, ok := reply.(resp.RedisArray)
	if !ok {
		return 0
	}
	added := 0
	for _, entry := range arr.Values {
		doc, ok := docFromCommandEntry(entry)
		if !ok {
			continue
		}
		if _, exists := r.index[doc.Command]; exists {
			continue
		}
		r.index[doc.Command] = len(r.docs)
		r.docs = append(r.docs, doc)
		added++
	}
	return added
}

// docFromCommandEntry reads [name, arity, flags, first-key, last-key, step, ...].
func docFromCommandEntry(v resp.RedisValue) (CommandDoc, bool) {
	arr, ok := v.(resp.RedisArray)
	if !ok || len(arr.Values) < 6 {
		return CommandDoc{}, false
	}
	ints := make([]int64, 0, 4)
	for _, idx := range []int{1, 3, 4, 5} {
		n, ok := arr.Values[idx].(resp.RedisInteger)
		if !ok {
			return CommandDoc{}, false
		}
		ints = append(ints, n.IntValue)
	}
	return CommandDoc{
		Command:   strings.ToUpper(strings.ReplaceAll(arr.Values[0].StringValue(), "|", " ")),
		Arguments: arityHint(ints[0]),
		FirstKey:  int(ints[1]),
		LastKey:   int(ints[2]),
		KeyStep:   int(ints[3]),
	}, true
}

// arityHint renders a placeholder argument list. Arity counts the command
// name; a negative arity is a minimum.
func arityHint(arity int64) string {
	switch arity {
	case 0, 1:
		return ""
	case -1:
		return "[arg ...]"
	}
	n := arity
	if n < 0 {
		n = -n
	}
	parts := make([]string, n-1)
	for i := range parts {
		parts[i] = fmt.Sprintf("arg%d", i+1)
	}
	hint := strings.Join(parts, " ")
	if arity < 0 {
		hint += " [arg ...]"
	}
	return hint
}
