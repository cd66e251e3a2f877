package conn

import (
	"context"
	"fmt"
	"strings"

	"github.com/cosmez/redispool-go/internal/command"
	"github.com/cosmez/redispool-go/internal/resp"
)

// ParseInfo reads the "field:value" lines of an INFO reply. Section headers
// and blank lines are skipped.
func ParseInfo(text string) map[string]string {
	info := make(map[string]string)
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if field, value, ok := strings.Cut(line, ":"); ok {
			info[field] = value
		}
	}
	return info
}

// Info sends INFO, optionally for one section, and parses the reply.
func (c *Connection) Info(ctx context.Context, section string) (map[string]string, error) {
	env := command.New("INFO")
	if section != "" {
		env = command.New("INFO", section)
	}
	reply, err := c.Exec(ctx, env)
	if err != nil {
		return nil, err
	}
	if err := command.ReplyError("INFO", reply); err != nil {
		return nil, err
	}
	bulk, ok := reply.(resp.RedisBulkString)
	if !ok {
		return nil, fmt.Errorf("INFO: expected bulk string, got %s", reply.Type())
	}
	return ParseInfo(bulk.Value), nil
}
