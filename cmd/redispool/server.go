package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cosmez/redispool-go"
	"github.com/cosmez/redispool-go/internal/output"
	"github.com/cosmez/redispool-go/internal/resp"
)

func pubsubCommands(g *globalFlags) []*cobra.Command {
	var count int
	subscribe := func(use, short string, pattern bool) *cobra.Command {
		cmd := &cobra.Command{
			Use:   use + " CHANNEL [CHANNEL...]",
			Short: short,
			Args:  cobra.MinimumNArgs(1),
			RunE: g.run(func(s *session, args []string) error {
				return listen(s, args, pattern, count)
			}),
		}
		cmd.Flags().IntVar(&count, "count", 0, "exit after this many messages, 0 runs until interrupted")
		return cmd
	}

	return []*cobra.Command{
		{
			Use:   "publish CHANNEL MESSAGE",
			Short: "Post a message to a channel",
			Args:  cobra.ExactArgs(2),
			RunE: g.run(func(s *session, args []string) error {
				n, err := s.db.Publish(s.ctx, args[0], args[1])
				if err != nil {
					return err
				}
				output.PrintValue(s.out, resp.RedisInteger{IntValue: n}, s.opts)
				return nil
			}),
		},
		subscribe("subscribe", "Print messages published to channels", false),
		subscribe("psubscribe", "Print messages published to channels matching glob patterns", true),
	}
}

// listen prints messages until the context ends or count messages arrived.
func listen(s *session, targets []string, pattern bool, count int) error {
	received := make(chan struct{}, 1)
	n := 0
	handler := func(m redispool.Message) {
		output.PrintMessage(s.out, m.Pattern, m.Channel, m.Payload, s.opts)
		n++
		if count > 0 && n == count {
			received <- struct{}{}
		}
	}

	subscribe := s.db.Subscribe
	if pattern {
		subscribe = s.db.PSubscribe
	}
	sub, err := subscribe(s.ctx, handler, targets...)
	if err != nil {
		return err
	}
	defer sub.Close()
	fmt.Fprintf(s.out, "Listening on %s\n", strings.Join(targets, ", "))

	select {
	case <-s.ctx.Done():
	case <-received:
	case <-sub.Done():
		return sub.Err()
	}
	return nil
}

func serverCommands(g *globalFlags) []*cobra.Command {
	return []*cobra.Command{
		{
			Use:   "ping [MESSAGE]",
			Short: "Check that the server answers",
			Args:  cobra.MaximumNArgs(1),
			RunE: g.run(func(s *session, args []string) error {
				reply, err := s.db.Ping(s.ctx, args...)
				if err != nil {
					return err
				}
				fmt.Fprintln(s.out, reply)
				return nil
			}),
		},
		{
			Use:   "info [SECTION]",
			Short: "Print server information fields",
			Args:  cobra.MaximumNArgs(1),
			RunE: g.run(func(s *session, args []string) error {
				section := ""
				if len(args) == 1 {
					section = args[0]
				}
				info, err := s.db.Info(s.ctx, section)
				if err != nil {
					return err
				}
				for _, field := range slices.Sorted(maps.Keys(info)) {
					fmt.Fprintf(s.out, "%s:%s\n", field, info[field])
				}
				return nil
			}),
		},
		{
			Use:   "nodes",
			Short: "Print the cluster topology the client resolved",
			Args:  cobra.NoArgs,
			RunE: g.run(func(s *session, _ []string) error {
				output.PrintTopology(s.out, s.client.Topology(), s.opts)
				return nil
			}),
		},
		keysCommand(g),
	}
}

func keysCommand(g *globalFlags) *cobra.Command {
	var exportFile string
	cmd := &cobra.Command{
		Use:   "keys [PATTERN]",
		Short: "List keys with SCAN, across every primary of a cluster",
		Args:  cobra.MaximumNArgs(1),
		RunE: g.run(func(s *session, args []string) error {
			pattern := "*"
			if len(args) == 1 {
				pattern = args[0]
			}
			found := s.db.Keys(s.ctx, pattern)
			if exportFile != "" {
				return export(s, exportFile, found)
			}
			return output.PrintList(s.out, s.in, found, s.opts, 0)
		}),
	}
	cmd.Flags().StringVar(&exportFile, "export", "", "write the keys to a file instead")
	return cmd
}
