package resp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DefaultMaxDepth bounds array nesting for Parse, ReadValue and FrameLength.
const DefaultMaxDepth = 64

// MaxBulkLength is the largest bulk string accepted, matching the server's
// proto-max-bulk-len default.
const MaxBulkLength = 512 << 20

var crlf = []byte("\r\n")

// Parse decodes one complete frame from buf. Bytes after the frame are
// ignored; use ParsePrefix to learn how many were consumed.
func Parse(buf []byte) (RedisValue, error) {
	v, _, err := ParsePrefix(buf, DefaultMaxDepth)
	return v, err
}

// ParsePrefix decodes the frame at the start of buf and returns the number of
// bytes it occupied. Arrays nested deeper than maxDepth are rejected.
func ParsePrefix(buf []byte, maxDepth int) (RedisValue, int, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return parse(buf, 0, maxDepth)
}

func parse(buf []byte, depth, maxDepth int) (RedisValue, int, error) {
	if len(buf) == 0 {
		return nil, 0, truncated("empty buffer")
	}

	switch buf[0] {
	case '+':
		line, n, err := parseLine(buf)
		if err != nil {
			return nil, 0, err
		}
		return RedisString{Value: string(line)}, n, nil
	case '-':
		line, n, err := parseLine(buf)
		if err != nil {
			return nil, 0, err
		}
		return RedisError{Value: string(line)}, n, nil
	case ':':
		line, n, err := parseLine(buf)
		if err != nil {
			return nil, 0, err
		}
		val, err := strconv.ParseInt(string(line), 10, 64)
		if err != nil {
			return nil, 0, violation("invalid integer %q", line)
		}
		return RedisInteger{IntValue: val}, n, nil
	case '$':
		return parseBulk(buf)
	case '*':
		return parseArray(buf, depth, maxDepth)
	default:
		return nil, 0, violation("unknown type byte %q", buf[0])
	}
}

// parseLine returns the content between the type byte and the first CRLF.
func parseLine(buf []byte) ([]byte, int, error) {
	idx := bytes.Index(buf[1:], crlf)
	if idx < 0 {
		return nil, 0, truncated("missing CRLF after %q header", buf[0])
	}
	return buf[1 : 1+idx], idx + 3, nil
}

func parseBulk(buf []byte) (RedisValue, int, error) {
	line, n, err := parseLine(buf)
	if err != nil {
		return nil, 0, err
	}
	length, err := strconv.Atoi(string(line))
	if err != nil {
		return nil, 0, violation("invalid bulk string length %q", line)
	}
	if length == -1 {
		// Encode writes null as "$-1\r\n\r\n"; no frame starts with CR,
		// so a following CRLF belongs to the null.
		if bytes.HasPrefix(buf[n:], crlf) {
			n += 2
		}
		return RedisNull{}, n, nil
	}
	if length < -1 || length > MaxBulkLength {
		return nil, 0, violation("invalid bulk string length %d", length)
	}
	if length > len(buf)-n-2 {
		return nil, 0, truncated("bulk string wants %d bytes, have %d", length, len(buf)-n)
	}
	end := n + length
	if buf[end] != '\r' || buf[end+1] != '\n' {
		return nil, 0, violation("expected CRLF after bulk string payload, got %q", buf[end:end+2])
	}
	return RedisBulkString{Value: string(buf[n:end]), Length: length}, end + 2, nil
}

func parseArray(buf []byte, depth, maxDepth int) (RedisValue, int, error) {
	line, n, err := parseLine(buf)
	if err != nil {
		return nil, 0, err
	}
	count, err := strconv.Atoi(string(line))
	if err != nil {
		return nil, 0, violation("invalid array count %q", line)
	}
	if count == -1 {
		return RedisNull{Array: true}, n, nil
	}
	if count < -1 {
		return nil, 0, violation("invalid array count %d", count)
	}
	if depth >= maxDepth {
		return nil, 0, violation("array nesting exceeds %d", maxDepth)
	}
	// The shortest element ("+\r\n") takes three bytes.
	if count > (len(buf)-n)/3 {
		return nil, 0, truncated("array declares %d elements, buffer holds %d bytes", count, len(buf)-n)
	}

	values := make([]RedisValue, count)
	consumed := n
	for i := 0; i < count; i++ {
		if consumed >= len(buf) {
			return nil, 0, truncated("array declares %d elements, buffer ends after %d", count, i)
		}
		v, m, err := parse(buf[consumed:], depth+1, maxDepth)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to parse array element %d: %w", i, err)
		}
		values[i] = v
		consumed += m
	}
	return RedisArray{Values: values}, consumed, nil
}

// ReadValue reads a single RESP value from a buffered stream. It is used where
// frames arrive on a reader rather than a framed buffer, such as the request
// side of a server.
func ReadValue(r *bufio.Reader) (RedisValue, error) {
	return readValue(r, 0)
}

func readValue(r *bufio.Reader, depth int) (RedisValue, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch b {
	case '+':
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		return RedisString{Value: line}, nil
	case '-':
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		return RedisError{Value: line}, nil
	case ':':
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		val, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, violation("invalid integer %q", line)
		}
		return RedisInteger{IntValue: val}, nil
	case '$':
		return readBulkString(r)
	case '*':
		return readArray(r, depth)
	default:
		return nil, violation("unknown type byte %q", b)
	}
}

// readLine reads until \n and strips the trailing \r\n.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\r\n"), nil
}

func readBulkString(r *bufio.Reader) (RedisValue, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	length, err := strconv.Atoi(line)
	if err != nil {
		return nil, violation("invalid bulk string length %q", line)
	}
	if length == -1 {
		return RedisNull{}, nil
	}
	if length < -1 || length > MaxBulkLength {
		return nil, violation("invalid bulk string length %d", length)
	}

	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read bulk string payload: %w", err)
	}
	if buf[length] != '\r' || buf[length+1] != '\n' {
		return nil, violation("expected CRLF after bulk string payload, got %q", buf[length:])
	}
	return RedisBulkString{Value: string(buf[:length]), Length: length}, nil
}

func readArray(r *bufio.Reader, depth int) (RedisValue, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(line)
	if err != nil {
		return nil, violation("invalid array count %q", line)
	}
	if count == -1 {
		return RedisNull{Array: true}, nil
	}
	if count < -1 {
		return nil, violation("invalid array count %d", count)
	}
	if depth >= DefaultMaxDepth {
		return nil, violation("array nesting exceeds %d", DefaultMaxDepth)
	}

	// Grow as elements arrive; the declared count is not trusted.
	values := make([]RedisValue, 0, min(count, 1024))
	for i := 0; i < count; i++ {
		val, err := readValue(r, depth+1)
		if err != nil {
			return nil, fmt.Errorf("failed to parse array element %d: %w", i, err)
		}
		values = append(values, val)
	}
	return RedisArray{Values: values}, nil
}
