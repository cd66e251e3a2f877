// Package output renders replies, topologies and pub/sub messages for the
// command line, optionally with ANSI colors.
package output

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/cosmez/redispool-go/internal/cluster"
	"github.com/cosmez/redispool-go/internal/resp"
	"github.com/cosmez/redispool-go/internal/serializer"
)

// Opts configures rendering.
type Opts struct {
	Color bool
	// Codec, when set, decodes string payloads before they are shown.
	Codec   serializer.Codec
	Padding string
	Newline bool
}

var (
	colorString  = color.New(color.FgHiBlue)
	colorInteger = color.New(color.FgHiGreen)
	colorError   = color.New(color.FgRed, color.Bold)
	colorNull    = color.New(color.FgHiBlack)
	colorPrompt  = color.New(color.FgHiYellow)
	colorIndex   = color.New(color.FgHiBlack)
	colorChannel = color.New(color.FgHiMagenta)
)

func paint(w io.Writer, c *color.Color, enabled bool, text string) {
	if enabled && c != nil {
		c.Fprint(w, text)
		return
	}
	fmt.Fprint(w, text)
}

func digitWidth(n int) int {
	w := 1
	for n >= 10 {
		w++
		n /= 10
	}
	return w
}

func (o Opts) decode(s string) string {
	if o.Codec == nil {
		return s
	}
	if out, err := o.Codec.Decode([]byte(s)); err == nil {
		return string(out)
	}
	return s
}

// PrintValue writes v the way redis-cli does: quoted bulk strings,
// "(integer)" prefixes and right-aligned array indexes.
func PrintValue(w io.Writer, v resp.RedisValue, opts Opts) {
	if v == nil {
		return
	}

	arr, ok := v.(resp.RedisArray)
	if !ok {
		printScalar(w, v, opts)
		if opts.Newline {
			fmt.Fprintln(w)
		}
		return
	}

	if len(arr.Values) == 0 {
		paint(w, colorNull, opts.Color, "(empty array)")
		if opts.Newline {
			fmt.Fprintln(w)
		}
		return
	}

	digits := digitWidth(len(arr.Values))
	for i, elem := range arr.Values {
		// The first element sits where the parent already positioned us.
		if i > 0 {
			fmt.Fprint(w, opts.Padding)
		}
		paint(w, colorIndex, opts.Color, fmt.Sprintf("%*d) ", digits, i+1))

		child := opts
		child.Padding = opts.Padding + strings.Repeat(" ", digits+2)
		child.Newline = false
		PrintValue(w, elem, child)

		// A non-empty nested array ends with its own newline.
		if nested, ok := elem.(resp.RedisArray); !ok || len(nested.Values) == 0 {
			fmt.Fprintln(w)
		}
	}
}

func printScalar(w io.Writer, v resp.RedisValue, opts Opts) {
	switch v.Type() {
	case resp.TypeString:
		paint(w, colorString, opts.Color, opts.decode(v.StringValue()))
	case resp.TypeBulkString:
		paint(w, colorString, opts.Color, "\""+opts.decode(v.StringValue())+"\"")
	case resp.TypeInteger:
		paint(w, colorInteger, opts.Color, "(integer) "+v.StringValue())
	case resp.TypeError:
		paint(w, colorError, opts.Color, "(error) "+v.StringValue())
	case resp.TypeNull:
		paint(w, colorNull, opts.Color, "(nil)")
	}
}

// PrintList writes numbered entries from values. Every warningAt entries it
// asks on r whether to continue. It returns the first error the sequence
// yields.
func PrintList(w io.Writer, r io.Reader, values iter.Seq2[string, error], opts Opts, warningAt int) error {
	i := 0
	for value, err := range values {
		if err != nil {
			return err
		}
		i++
		paint(w, colorIndex, opts.Color, fmt.Sprintf("%d) ", i))
		paint(w, colorString, opts.Color, opts.decode(value))
		fmt.Fprintln(w)

		if warningAt > 0 && i%warningAt == 0 && !confirm(w, r, opts) {
			return nil
		}
	}
	if i == 0 {
		paint(w, colorNull, opts.Color, "(empty)")
		fmt.Fprintln(w)
	}
	return nil
}

// confirm reads one line byte by byte so nothing past the newline is taken
// from r; the REPL reads the same input afterwards.
func confirm(w io.Writer, r io.Reader, opts Opts) bool {
	fmt.Fprint(w, "Continue listing? ")
	paint(w, colorPrompt, opts.Color, "(Y/N) ")

	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				break
			}
			line = append(line, buf[0])
		}
		if err != nil {
			break
		}
	}
	ans := strings.TrimSpace(string(line))
	return ans != "" && (ans[0] == 'Y' || ans[0] == 'y')
}

// PrintTopology writes one row per node.
func PrintTopology(w io.Writer, topo *cluster.Topology, opts Opts) {
	if topo == nil {
		paint(w, colorNull, opts.Color, "(single node)")
		fmt.Fprintln(w)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tADDRESS\tROLE\tPRIMARY\tEPOCH\tLINK\tSLOTS")
	for _, n := range topo.Nodes() {
		id := n.ID
		if len(id) > 8 {
			id = id[:8]
		}
		primary := "-"
		if n.PrimaryID != "" {
			primary = n.PrimaryID[:min(8, len(n.PrimaryID))]
		}
		role := n.Role.String()
		if n.Myself {
			role += "*"
		}
		slots := make([]string, len(n.Slots))
		for i, s := range n.Slots {
			slots[i] = s.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			id, n.Addr, role, primary, n.ConfigEpoch, n.Link, strings.Join(slots, ","))
	}
	tw.Flush()
}

// PrintMessage writes one pub/sub delivery. Pattern is empty for plain
// channel subscriptions.
func PrintMessage(w io.Writer, pattern, channel, payload string, opts Opts) {
	if pattern != "" {
		paint(w, colorIndex, opts.Color, pattern+" ")
	}
	paint(w, colorChannel, opts.Color, channel)
	fmt.Fprint(w, ": ")
	paint(w, colorString, opts.Color, opts.decode(payload))
	fmt.Fprintln(w)
}

// Export writes one entry per line to filename and returns how many were
// written.
func Export(filename string, values iter.Seq2[string, error]) (int, error) {
	f, err := os.Create(filename)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", filename, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	n := 0
	for value, err := range values {
		if err != nil {
			return n, err
		}
		if _, err := fmt.Fprintln(bw, value); err != nil {
			return n, fmt.Errorf("failed to write %s: %w", filename, err)
		}
		n++
	}
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return n, nil
}
