package main

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cosmez/redispool-go"
	"github.com/cosmez/redispool-go/internal/output"
	"github.com/cosmez/redispool-go/internal/resp"
)

func dataCommands(g *globalFlags) []*cobra.Command {
	var popTimeout time.Duration
	blockingPop := func(use, short string, left bool) *cobra.Command {
		cmd := &cobra.Command{
			Use:   use + " KEY [KEY...]",
			Short: short,
			Args:  cobra.MinimumNArgs(1),
			RunE: g.run(func(s *session, args []string) error {
				pop := s.db.BlockingRightPop
				if left {
					pop = s.db.BlockingLeftPop
				}
				got, ok, err := pop(s.ctx, popTimeout, keys(args)...)
				if err != nil {
					return err
				}
				if !ok {
					output.PrintValue(s.out, resp.RedisNull{Array: true}, s.opts)
					return nil
				}
				output.PrintValue(s.out, bulkArray(got.Key, got.Value), s.opts)
				return nil
			}),
		}
		cmd.Flags().DurationVarP(&popTimeout, "timeout", "t", 0, "how long to wait for an element, 0 waits forever")
		return cmd
	}

	push := func(use, short string, left bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " KEY VALUE [VALUE...]",
			Short: short,
			Args:  cobra.MinimumNArgs(2),
			RunE: g.run(func(s *session, args []string) error {
				fn := s.db.RightPush
				if left {
					fn = s.db.LeftPush
				}
				n, err := fn(s.ctx, redispool.NewKey(args[0]), args[1:]...)
				if err != nil {
					return err
				}
				output.PrintValue(s.out, resp.RedisInteger{IntValue: n}, s.opts)
				return nil
			}),
		}
	}

	var exportFile string
	lrange := &cobra.Command{
		Use:   "lrange KEY",
		Short: "Print a whole list, fetched page by page",
		Args:  cobra.ExactArgs(1),
		RunE: g.run(func(s *session, args []string) error {
			items := s.db.ListRange(s.ctx, redispool.NewKey(args[0]))
			if exportFile != "" {
				return export(s, exportFile, items)
			}
			return output.PrintList(s.out, s.in, items, s.opts, 0)
		}),
	}
	lrange.Flags().StringVar(&exportFile, "export", "", "write the items to a file instead")

	return []*cobra.Command{
		{
			Use:   "get KEY",
			Short: "Get the value of a key",
			Args:  cobra.ExactArgs(1),
			RunE: g.run(func(s *session, args []string) error {
				v, ok, err := s.db.Get(s.ctx, redispool.NewKey(args[0]))
				if err != nil {
					return err
				}
				if !ok {
					output.PrintValue(s.out, resp.RedisNull{}, s.opts)
					return nil
				}
				output.PrintValue(s.out, resp.RedisBulkString{Value: v, Length: len(v)}, s.opts)
				return nil
			}),
		},
		{
			Use:   "set KEY VALUE",
			Short: "Set the string value of a key",
			Args:  cobra.ExactArgs(2),
			RunE: g.run(func(s *session, args []string) error {
				if err := s.db.Set(s.ctx, redispool.NewKey(args[0]), args[1]); err != nil {
					return err
				}
				output.PrintValue(s.out, resp.RedisString{Value: "OK"}, s.opts)
				return nil
			}),
		},
		{
			Use:   "mset KEY VALUE [KEY VALUE...]",
			Short: "Set several keys at once; in a cluster they must share a hash slot",
			Args: func(cmd *cobra.Command, args []string) error {
				if len(args) == 0 || len(args)%2 != 0 {
					return errors.New("requires key/value pairs")
				}
				return nil
			},
			RunE: g.run(func(s *session, args []string) error {
				pairs := make(map[redispool.Key]string, len(args)/2)
				for i := 0; i < len(args); i += 2 {
					pairs[redispool.NewKey(args[i])] = args[i+1]
				}
				if err := s.db.SetMultiple(s.ctx, pairs); err != nil {
					return err
				}
				output.PrintValue(s.out, resp.RedisString{Value: "OK"}, s.opts)
				return nil
			}),
		},
		{
			Use:   "llen KEY",
			Short: "Get the length of a list",
			Args:  cobra.ExactArgs(1),
			RunE: g.run(func(s *session, args []string) error {
				n, err := s.db.ListLength(s.ctx, redispool.NewKey(args[0]))
				if err != nil {
					return err
				}
				output.PrintValue(s.out, resp.RedisInteger{IntValue: n}, s.opts)
				return nil
			}),
		},
		push("lpush", "Prepend elements to a list", true),
		push("rpush", "Append elements to a list", false),
		blockingPop("blpop", "Pop the head of the first non-empty list, waiting if needed", true),
		blockingPop("brpop", "Pop the tail of the first non-empty list, waiting if needed", false),
		lrange,
	}
}

func keys(names []string) []redispool.Key {
	out := make([]redispool.Key, len(names))
	for i, n := range names {
		out[i] = redispool.NewKey(n)
	}
	return out
}

func bulkArray(items ...string) resp.RedisArray {
	arr := resp.RedisArray{Values: make([]resp.RedisValue, len(items))}
	for i, it := range items {
		arr.Values[i] = resp.RedisBulkString{Value: it, Length: len(it)}
	}
	return arr
}

func export(s *session, filename string, items iter.Seq2[string, error]) error {
	n, err := output.Export(filename, items)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Exported %d entries to %s\n", n, filename)
	return nil
}
