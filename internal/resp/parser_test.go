package resp

import (
	"bufio"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected RedisValue
		consumed int
		wantErr  bool
	}{
		{
			name:     "Simple String",
			input:    "+OK\r\n",
			expected: RedisString{Value: "OK"},
			consumed: 5,
		},
		{
			name:     "Error",
			input:    "-ERR unknown command\r\n",
			expected: RedisError{Value: "ERR unknown command"},
			consumed: 22,
		},
		{
			name:     "Integer",
			input:    ":42\r\n",
			expected: RedisInteger{IntValue: 42},
			consumed: 5,
		},
		{
			name:     "Negative Integer",
			input:    ":-7\r\n",
			expected: RedisInteger{IntValue: -7},
			consumed: 5,
		},
		{
			name:     "Bulk String",
			input:    "$6\r\nfoobar\r\n",
			expected: RedisBulkString{Value: "foobar", Length: 6},
			consumed: 12,
		},
		{
			name:     "Null Bulk String",
			input:    "$-1\r\n",
			expected: RedisNull{},
			consumed: 5,
		},
		{
			name:     "Empty Bulk String",
			input:    "$0\r\n\r\n",
			expected: RedisBulkString{Value: "", Length: 0},
			consumed: 6,
		},
		{
			name:     "Binary Bulk String",
			input:    "$4\r\n\x00\r\n\x03\r\n",
			expected: RedisBulkString{Value: "\x00\r\n\x03", Length: 4},
			consumed: 10,
		},
		{
			name:  "Array",
			input: "*2\r\n$3\r\nfoo\r\n$3\r\nbar\r\n",
			expected: RedisArray{
				Values: []RedisValue{
					RedisBulkString{Value: "foo", Length: 3},
					RedisBulkString{Value: "bar", Length: 3},
				},
			},
			consumed: 22,
		},
		{
			name:     "Null Array",
			input:    "*-1\r\n",
			expected: RedisNull{Array: true},
			consumed: 5,
		},
		{
			name:     "Empty Array",
			input:    "*0\r\n",
			expected: RedisArray{Values: []RedisValue{}},
			consumed: 4,
		},
		{
			name:  "Nested Array",
			input: "*2\r\n*1\r\n:1\r\n*1\r\n:2\r\n",
			expected: RedisArray{
				Values: []RedisValue{
					RedisArray{Values: []RedisValue{RedisInteger{IntValue: 1}}},
					RedisArray{Values: []RedisValue{RedisInteger{IntValue: 2}}},
				},
			},
			consumed: 20,
		},
		{
			name:     "Trailing Bytes Ignored",
			input:    "+PONG\r\n+OK\r\n",
			expected: RedisString{Value: "PONG"},
			consumed: 7,
		},
		{name: "Invalid Type", input: "?OK\r\n", wantErr: true},
		{name: "Invalid Integer", input: ":abc\r\n", wantErr: true},
		{name: "Invalid Bulk String Length", input: "$abc\r\n", wantErr: true},
		{name: "Negative Bulk String Length", input: "$-2\r\n", wantErr: true},
		{name: "Missing Bulk CRLF", input: "$3\r\nfooXX", wantErr: true},
		{name: "Invalid Array Count", input: "*abc\r\n", wantErr: true},
		{name: "Short Array", input: "*3\r\n:1\r\n:2\r\n", wantErr: true},
		{name: "Overflowing Bulk Length", input: "$9223372036854775807\r\nab\r\n", wantErr: true},
		{name: "Bulk Length Over Limit", input: "$536870913\r\nab\r\n", wantErr: true},
		{name: "Overflowing Array Count", input: "*9223372036854775807\r\n:1\r\n", wantErr: true},
		{name: "Array Count Beyond Buffer", input: "*3000000000\r\n:1\r\n", wantErr: true},
		{name: "Empty Input", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := ParsePrefix([]byte(tt.input), DefaultMaxDepth)

			if (err != nil) != tt.wantErr {
				t.Errorf("ParsePrefix() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				var perr *ProtocolError
				if !errors.As(err, &perr) {
					t.Errorf("expected *ProtocolError, got %T", err)
				}
				return
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ParsePrefix() got = %v, want %v", got, tt.expected)
			}
			if n != tt.consumed {
				t.Errorf("ParsePrefix() consumed = %d, want %d", n, tt.consumed)
			}
		})
	}
}

func TestParseTruncatedArray(t *testing.T) {
	_, err := Parse([]byte("*2\r\n$3\r\nfoo\r\n"))
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
	if !perr.Truncated {
		t.Errorf("expected a truncated frame, got %v", perr)
	}
}

func TestParseDepthLimit(t *testing.T) {
	input := strings.Repeat("*1\r\n", 5) + ":1\r\n"

	if _, _, err := ParsePrefix([]byte(input), 5); err != nil {
		t.Fatalf("depth 5 should parse: %v", err)
	}
	if _, _, err := ParsePrefix([]byte(input), 4); err == nil {
		t.Fatal("expected nesting beyond the limit to fail")
	}
}

func TestReadValue(t *testing.T) {
	input := "*3\r\n$9\r\nsubscribe\r\n$4\r\nnews\r\n:1\r\n+OK\r\n"
	r := bufio.NewReader(strings.NewReader(input))

	first, err := ReadValue(r)
	if err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}
	want := RedisArray{Values: []RedisValue{
		RedisBulkString{Value: "subscribe", Length: 9},
		RedisBulkString{Value: "news", Length: 4},
		RedisInteger{IntValue: 1},
	}}
	if !reflect.DeepEqual(first, want) {
		t.Errorf("ReadValue() got = %v, want %v", first, want)
	}

	second, err := ReadValue(r)
	if err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}
	if second != (RedisString{Value: "OK"}) {
		t.Errorf("expected OK, got %v", second)
	}
}

func TestReadValueHugeDeclaredSizes(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bulk length", "$9223372036854775807\r\nab\r\n"},
		{"array count", "*9223372036854775807\r\n:1\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bufio.NewReader(strings.NewReader(tt.input))
			if _, err := ReadValue(r); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestReadValueInvalidType(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("?nope\r\n"))
	_, err := ReadValue(r)
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
}
