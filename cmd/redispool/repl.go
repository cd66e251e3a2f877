package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cosmez/redispool-go"
	"github.com/cosmez/redispool-go/internal/command"
	"github.com/cosmez/redispool-go/internal/output"
	"github.com/cosmez/redispool-go/internal/resp"
)

// replCompleter implements readline.AutoCompleter for the command word.
type replCompleter struct {
	reg *command.Registry
}

func (c *replCompleter) Do(line []rune, pos int) (newLine [][]rune, length int) {
	text := string(line[:pos])
	if strings.Contains(text, " ") {
		return nil, 0
	}
	for _, match := range c.reg.GetCommands(text) {
		newLine = append(newLine, []rune(match[len(text):]+" "))
	}
	return newLine, len(text)
}

// replHinter shows the argument summary of the command being typed on the
// line below the input. Paint only clears a stale hint; OnChange draws the
// new one after readline has redrawn the line, so readline's cursor
// bookkeeping is not disturbed.
type replHinter struct {
	reg       *command.Registry
	out       io.Writer
	promptLen int
	termWidth int
}

func (h *replHinter) Paint(line []rune, pos int) []rune {
	out := make([]rune, len(line), len(line)+3)
	copy(out, line)
	return append(out, []rune("\033[J")...)
}

func (h *replHinter) OnChange(line []rune, pos int, key rune) ([]rune, int, bool) {
	if len(line) == 0 {
		return nil, 0, false
	}
	text := string(line)
	cmd, rest, hasArgs := strings.Cut(text, " ")

	// Upper-case a known command word as soon as it is typed.
	if upper := strings.ToUpper(cmd); cmd != upper && h.reg.Get(upper) != nil {
		return []rune(upper + text[len(cmd):]), pos, true
	}
	if !hasArgs || cmd == "" {
		return nil, 0, false
	}

	doc := h.findDoc(cmd, rest)
	if doc == nil {
		return nil, 0, false
	}
	hint := strings.TrimSpace(doc.Command + " " + doc.Arguments)
	rows := 1
	if width := 2 + len(hint) + 3 + len(doc.Summary); h.termWidth > 0 {
		rows = (width + h.termWidth - 1) / h.termWidth
	}
	// Newline, clear, hint, then back up and over to the cursor.
	fmt.Fprintf(h.out, "\n\r\033[K  \033[36m%s\033[0m\033[34m - %s\033[0m\033[%dA\r\033[%dC",
		hint, doc.Summary, rows, h.promptLen+pos)
	return nil, 0, false
}

// findDoc prefers a two-word command such as "CLUSTER NODES".
func (h *replHinter) findDoc(cmd, rest string) *command.CommandDoc {
	base := strings.ToUpper(cmd)
	if sub, _, _ := strings.Cut(strings.TrimSpace(rest), " "); sub != "" {
		if doc := h.reg.Get(base + " " + strings.ToUpper(sub)); doc != nil {
			return doc
		}
	}
	return h.reg.Get(base)
}

func runRepl(cmd *cobra.Command, g *globalFlags) error {
	client, db, err := g.connect(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	sh := &shell{
		session: session{
			ctx:    cmd.Context(),
			out:    cmd.OutOrStdout(),
			in:     cmd.InOrStdin(),
			client: client,
			db:     db,
			opts:   g.printOpts(),
		},
		reg: command.NewRegistry(),
	}
	sh.mergeServerCommands()
	sh.printConnectionInfo()

	homeDir, _ := os.UserHomeDir()
	prompt := fmt.Sprintf("%s> ", client.Nodes()[0])
	if client.IsCluster() {
		prompt = fmt.Sprintf("%s (cluster)> ", client.Nodes()[0])
	}
	tw, _, _ := term.GetSize(int(os.Stdout.Fd()))
	hinter := &replHinter{reg: sh.reg, out: os.Stdout, promptLen: len(prompt), termWidth: tw}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(homeDir, ".redispool_history"),
		AutoComplete:    &replCompleter{reg: sh.reg},
		Painter:         hinter,
		Listener:        hinter,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()
	sh.interrupt = func() {
		for {
			if _, err := rl.Readline(); errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return
			}
		}
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if errors.Is(err, io.EOF) {
			return nil
		}

		if sh.exec(line) {
			return nil
		}
		// The window may have been resized.
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			hinter.termWidth = w
		}
	}
}

// shell runs one typed line at a time against the session's database.
type shell struct {
	session
	reg *command.Registry
	// interrupt blocks until the user presses Ctrl+C. It ends SUBSCRIBE.
	interrupt func()
}

// exec runs line and reports whether the shell should exit.
func (sh *shell) exec(line string) bool {
	env, err := command.ParseLine(line, sh.reg)
	if errors.Is(err, command.ErrEmptyCommand) {
		return false
	}
	if err != nil {
		sh.fail(err)
		return false
	}
	args := env.Args()

	switch env.Name() {
	case "EXIT", "QUIT":
		return true
	case "CLEAR":
		fmt.Fprint(sh.out, "\033[2J\033[H")
	case "HELP":
		sh.help(args)
	case "NODES":
		output.PrintTopology(sh.out, sh.client.Topology(), sh.opts)
	case "SAFEKEYS":
		pattern := "*"
		if len(args) > 0 {
			pattern = fmt.Sprint(args[0])
		}
		if err := output.PrintList(sh.out, sh.in, sh.db.Keys(sh.ctx, pattern), sh.opts, 100); err != nil {
			sh.fail(err)
		}
	case "SUBSCRIBE", "PSUBSCRIBE":
		sh.subscribe(env.Name() == "PSUBSCRIBE", strs(args))
	case "SELECT":
		sh.selectDB(args)
	default:
		reply, err := sh.db.Do(sh.ctx, env.Name(), args...)
		if err != nil {
			sh.fail(err)
			return false
		}
		output.PrintValue(sh.out, reply, sh.opts)
	}
	return false
}

func (sh *shell) help(args []any) {
	if len(args) == 0 {
		fmt.Fprintln(sh.out, "Usage: HELP <command>")
		return
	}
	name := strings.ToUpper(fmt.Sprint(args[0]))
	if len(args) > 1 {
		if doc := sh.reg.Get(name + " " + strings.ToUpper(fmt.Sprint(args[1]))); doc != nil {
			name = doc.Command
		}
	}
	doc := sh.reg.Get(name)
	if doc == nil {
		fmt.Fprintf(sh.out, "Unknown command: %s\n", name)
		return
	}
	fmt.Fprintln(sh.out, strings.TrimSpace(doc.Command+" "+doc.Arguments))
	if doc.Summary != "" {
		fmt.Fprintln(sh.out, doc.Summary)
	}
	if doc.Group != "" {
		fmt.Fprintf(sh.out, "Group: %s\n", doc.Group)
	}
}

// selectDB moves the shell's handle rather than one pooled connection.
func (sh *shell) selectDB(args []any) {
	if len(args) != 1 {
		fmt.Fprintln(sh.out, "Usage: SELECT <index>")
		return
	}
	var index int
	if _, err := fmt.Sscan(fmt.Sprint(args[0]), &index); err != nil {
		sh.fail(fmt.Errorf("invalid database index %v", args[0]))
		return
	}
	if err := sh.db.Select(sh.ctx, index); err != nil {
		sh.fail(err)
		return
	}
	output.PrintValue(sh.out, resp.RedisString{Value: "OK"}, sh.opts)
}

func (sh *shell) subscribe(pattern bool, targets []string) {
	if len(targets) == 0 {
		fmt.Fprintln(sh.out, "Usage: SUBSCRIBE <channel> [channel ...]")
		return
	}
	subscribe := sh.db.Subscribe
	if pattern {
		subscribe = sh.db.PSubscribe
	}
	sub, err := subscribe(sh.ctx, func(m redispool.Message) {
		output.PrintMessage(sh.out, m.Pattern, m.Channel, m.Payload, sh.opts)
	}, targets...)
	if err != nil {
		sh.fail(err)
		return
	}
	defer sub.Close()

	fmt.Fprintln(sh.out, "Subscribed. Press Ctrl+C to stop.")
	if sh.interrupt != nil {
		sh.interrupt()
	}
}

func strs(args []any) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = fmt.Sprint(a)
	}
	return out
}

// fail prints err the way redis-cli prints error replies.
func (sh *shell) fail(err error) {
	var se *redispool.ServerError
	if errors.As(err, &se) {
		output.PrintValue(sh.out, resp.RedisError{Value: se.Message}, sh.opts)
		return
	}
	output.PrintValue(sh.out, resp.RedisError{Value: err.Error()}, sh.opts)
}

// mergeServerCommands adds the server's COMMAND list to the registry for
// completion. Failures only cost completion entries.
func (sh *shell) mergeServerCommands() {
	reply, err := sh.db.Do(sh.ctx, "COMMAND")
	if err != nil {
		fmt.Fprintf(sh.out, "Warning: could not fetch server commands: %v\n", err)
		return
	}
	sh.reg.MergeServerCommands(reply)
}

func (sh *shell) printConnectionInfo() {
	info, err := sh.db.Info(sh.ctx, "")
	if err != nil {
		fmt.Fprintf(sh.out, "Warning: could not fetch server info: %v\n", err)
		return
	}
	mode := info["redis_mode"]
	if mode == "" {
		mode = "standalone"
	}
	fmt.Fprintf(sh.out, "Connected to Redis %s %s\n", info["redis_version"], mode)
	if sh.client.IsCluster() {
		fmt.Fprintf(sh.out, "Primaries: %s\n", strings.Join(sh.client.Nodes(), ", "))
	}
	if mem := info["used_memory_human"]; mem != "" {
		fmt.Fprintf(sh.out, "Memory: %s\n", mem)
	}
	fmt.Fprintln(sh.out)
}
