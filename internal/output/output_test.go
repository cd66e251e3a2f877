package output

import (
	"bytes"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cosmez/redispool-go/internal/cluster"
	"github.com/cosmez/redispool-go/internal/resp"
	"github.com/cosmez/redispool-go/internal/serializer"
)

func TestPrintValue(t *testing.T) {
	tests := []struct {
		name     string
		value    resp.RedisValue
		opts     Opts
		expected string
	}{
		{
			name:     "String",
			value:    resp.RedisString{Value: "OK"},
			opts:     Opts{Newline: true},
			expected: "OK\n",
		},
		{
			name:     "Integer",
			value:    resp.RedisInteger{IntValue: 42},
			opts:     Opts{Newline: true},
			expected: "(integer) 42\n",
		},
		{
			name:     "Null",
			value:    resp.RedisNull{},
			opts:     Opts{Newline: true},
			expected: "(nil)\n",
		},
		{
			name:     "BulkString",
			value:    resp.RedisBulkString{Value: "hello", Length: 5},
			opts:     Opts{Newline: true},
			expected: "\"hello\"\n",
		},
		{
			name:     "Error",
			value:    resp.RedisError{Value: "ERR unknown command"},
			opts:     Opts{Newline: true},
			expected: "(error) ERR unknown command\n",
		},
		{
			name: "Array",
			value: resp.RedisArray{Values: []resp.RedisValue{
				resp.RedisString{Value: "one"},
				resp.RedisString{Value: "two"},
			}},
			opts:     Opts{Newline: true},
			expected: "1) one\n2) two\n",
		},
		{
			name: "Nested Array",
			value: resp.RedisArray{Values: []resp.RedisValue{
				resp.RedisString{Value: "one"},
				resp.RedisArray{Values: []resp.RedisValue{
					resp.RedisString{Value: "two"},
					resp.RedisString{Value: "three"},
				}},
			}},
			opts:     Opts{Newline: true},
			expected: "1) one\n2) 1) two\n   2) three\n",
		},
		{
			name:     "Empty Array",
			value:    resp.RedisArray{},
			opts:     Opts{Newline: true},
			expected: "(empty array)\n",
		},
		{
			name: "Array with typed values",
			value: resp.RedisArray{Values: []resp.RedisValue{
				resp.RedisBulkString{Value: "hello", Length: 5},
				resp.RedisInteger{IntValue: 42},
				resp.RedisNull{},
			}},
			opts:     Opts{Newline: true},
			expected: "1) \"hello\"\n2) (integer) 42\n3) (nil)\n",
		},
		{
			name:     "Decoded with codec",
			value:    resp.RedisBulkString{Value: "aGVsbG8=", Length: 8},
			opts:     Opts{Newline: true, Codec: mustCodec(t, "base64")},
			expected: "\"hello\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			PrintValue(&buf, tt.value, tt.opts)
			if got := buf.String(); got != tt.expected {
				t.Errorf("PrintValue() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func mustCodec(t *testing.T, name string) serializer.Codec {
	t.Helper()
	c, err := serializer.Get(name)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func seqOf(values ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, v := range values {
			if !yield(v, nil) {
				return
			}
		}
	}
}

func TestPrintList(t *testing.T) {
	tests := []struct {
		name      string
		values    []string
		input     string
		warningAt int
		expected  string
	}{
		{"no pause", []string{"one", "two"}, "", 100, "1) one\n2) two\n"},
		{"continue", []string{"one", "two", "three"}, "Y\n", 2, "1) one\n2) two\nContinue listing? (Y/N) 3) three\n"},
		{"stop", []string{"one", "two", "three"}, "N\n", 2, "1) one\n2) two\nContinue listing? (Y/N) "},
		{"empty", nil, "", 10, "(empty)\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := PrintList(&buf, strings.NewReader(tt.input), seqOf(tt.values...), Opts{}, tt.warningAt)
			if err != nil {
				t.Fatalf("PrintList failed: %v", err)
			}
			if got := buf.String(); got != tt.expected {
				t.Errorf("PrintList() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPrintListError(t *testing.T) {
	boom := errors.New("boom")
	values := func(yield func(string, error) bool) {
		if yield("one", nil) {
			yield("", boom)
		}
	}
	var buf bytes.Buffer
	if err := PrintList(&buf, strings.NewReader(""), values, Opts{}, 0); !errors.Is(err, boom) {
		t.Errorf("PrintList() error = %v, want %v", err, boom)
	}
}

func TestPrintTopology(t *testing.T) {
	topo := cluster.NewTopology([]cluster.Node{
		{
			ID:          "65d8df8b2c5a2c7e",
			Addr:        cluster.Addr{IP: "192.168.86.40", Port: 7001, BusPort: 17001},
			Role:        cluster.RolePrimary,
			Myself:      true,
			ConfigEpoch: 19,
			Link:        cluster.LinkConnected,
			Slots:       []cluster.SlotRange{{Start: 0, End: 16383}},
		},
		{
			ID:        "07c37dfeb2352134",
			Addr:      cluster.Addr{IP: "192.168.86.41", Port: 7002, BusPort: 17002},
			Role:      cluster.RoleSecondary,
			PrimaryID: "65d8df8b2c5a2c7e",
		},
	})

	var buf bytes.Buffer
	PrintTopology(&buf, topo, Opts{})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", buf.String())
	}
	for _, want := range []string{"65d8df8b", "192.168.86.40:7001@17001", "primary*", "0-16383", "connected"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row %q does not contain %q", lines[1], want)
		}
	}
	for _, want := range []string{"secondary", "disconnected"} {
		if !strings.Contains(lines[2], want) {
			t.Errorf("row %q does not contain %q", lines[2], want)
		}
	}

	buf.Reset()
	PrintTopology(&buf, nil, Opts{})
	if buf.String() != "(single node)\n" {
		t.Errorf("PrintTopology(nil) = %q", buf.String())
	}
}

func TestPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	PrintMessage(&buf, "", "news", "hello", Opts{})
	PrintMessage(&buf, "chan*", "channel1", "hi", Opts{})
	want := "news: hello\nchan* channel1: hi\n"
	if buf.String() != want {
		t.Errorf("PrintMessage() = %q, want %q", buf.String(), want)
	}
}

func TestExport(t *testing.T) {
	file := filepath.Join(t.TempDir(), "export.txt")

	n, err := Export(file, seqOf("one", "two"))
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Export() wrote %d entries, want 2", n)
	}

	content, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("failed to read exported file: %v", err)
	}
	if string(content) != "one\ntwo\n" {
		t.Errorf("exported %q, want %q", content, "one\ntwo\n")
	}
}
