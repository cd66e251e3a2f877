package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cosmez/redispool-go"
	"github.com/cosmez/redispool-go/internal/output"
)

var version = "dev" // set at build time via -ldflags "-X main.version=..."

// globalFlags are shared by every subcommand.
type globalFlags struct {
	uri        string
	host       string
	port       int
	db         int
	config     string
	serializer string
	verbose    bool
	noColor    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "redispool",
		Short: "A pooled, cluster-aware Redis client",
		Long: "redispool talks to a single Redis node or a whole cluster through the same commands.\n" +
			"Without a subcommand it starts an interactive shell.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepl(cmd, g)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.uri, "uri", "", "connection URI, e.g. redis://localhost:6379/0?connectionsPerNode=8")
	pf.StringVarP(&g.host, "host", "H", "localhost", "server host")
	pf.IntVarP(&g.port, "port", "p", redispool.DefaultPort, "server port")
	pf.IntVarP(&g.db, "db", "n", 0, "database index")
	pf.StringVar(&g.config, "config", "", "YAML file with connection options")
	pf.StringVar(&g.serializer, "serializer", "", "value codec applied to reads and writes (base64, gzip, snappy)")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log pool and connection activity to stderr")
	pf.BoolVar(&g.noColor, "no-color", false, "disable colored output")

	root.AddCommand(dataCommands(g)...)
	root.AddCommand(pubsubCommands(g)...)
	root.AddCommand(serverCommands(g)...)
	return root
}

// options merges the config file, the URI and explicitly set flags, in that
// order of increasing precedence.
func (g *globalFlags) options(cmd *cobra.Command) (redispool.Options, error) {
	var (
		opts redispool.Options
		err  error
	)
	switch {
	case g.config != "":
		opts, err = redispool.LoadOptions(g.config)
	case g.uri != "":
		opts, err = redispool.ParseURI(g.uri)
	default:
		opts = redispool.Options{Host: g.host, Port: g.port, DB: g.db}
	}
	if err != nil {
		return opts, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		opts.Host = g.host
	}
	if flags.Changed("port") {
		opts.Port = g.port
	}
	if flags.Changed("db") {
		opts.DB = g.db
	}
	if g.verbose {
		opts.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return opts, nil
}

// connect opens a client and a handle for the selected database. The caller
// closes the client.
func (g *globalFlags) connect(cmd *cobra.Command) (*redispool.Client, *redispool.Database, error) {
	opts, err := g.options(cmd)
	if err != nil {
		return nil, nil, err
	}
	client, err := redispool.New(cmd.Context(), opts)
	if err != nil {
		return nil, nil, fmt.Errorf("connection failed: %w", err)
	}

	var dbOpts []redispool.DatabaseOption
	if g.serializer != "" {
		dbOpts = append(dbOpts, redispool.WithSerializer(g.serializer))
	}
	db, err := client.DB(dbOpts...)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, db, nil
}

// session is what a command body works with.
type session struct {
	ctx    context.Context
	out    io.Writer
	in     io.Reader
	client *redispool.Client
	db     *redispool.Database
	opts   output.Opts
}

// run wraps a subcommand body with connection setup and teardown.
func (g *globalFlags) run(fn func(s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, db, err := g.connect(cmd)
		if err != nil {
			return err
		}
		defer client.Close()
		return fn(&session{
			ctx:    cmd.Context(),
			out:    cmd.OutOrStdout(),
			in:     cmd.InOrStdin(),
			client: client,
			db:     db,
			opts:   g.printOpts(),
		}, args)
	}
}

func (g *globalFlags) printOpts() output.Opts {
	return output.Opts{Color: !g.noColor && !color.NoColor, Newline: true}
}
