package resp

import "bytes"

// IsFrameComplete reports whether buf holds at least one whole reply.
func IsFrameComplete(buf []byte) bool {
	_, ok := FrameLength(buf)
	return ok
}

// FrameLength reports the size of the first reply in buf once all of its bytes
// have arrived. It runs on every partial read, so it does not allocate and
// does not decode content.
//
// Malformed input is reported as complete over the whole buffer so the caller
// hands it to Parse, which returns the ProtocolError.
func FrameLength(buf []byte) (int, bool) {
	n, state := frameEnd(buf, 0, 0)
	switch state {
	case frameComplete:
		return n, true
	case frameMalformed:
		return len(buf), true
	default:
		return 0, false
	}
}

type frameState int

const (
	frameComplete frameState = iota
	frameIncomplete
	frameMalformed
)

func frameEnd(buf []byte, off, depth int) (int, frameState) {
	if off >= len(buf) {
		return 0, frameIncomplete
	}
	switch buf[off] {
	case '+', '-', ':', '$', '*':
	default:
		return 0, frameMalformed
	}
	lineEnd := bytes.Index(buf[off+1:], crlf)
	if lineEnd < 0 {
		return 0, frameIncomplete
	}
	header := buf[off+1 : off+1+lineEnd]
	next := off + 1 + lineEnd + 2

	switch buf[off] {
	case '+', '-', ':':
		return next, frameComplete
	case '$':
		length, ok := atoi(header)
		if !ok || length < -1 || length > MaxBulkLength {
			return 0, frameMalformed
		}
		if length == -1 {
			rest := buf[next:]
			if bytes.HasPrefix(rest, crlf) {
				return next + 2, frameComplete
			}
			if depth > 0 && len(rest) == 1 && rest[0] == '\r' {
				return 0, frameIncomplete
			}
			return next, frameComplete
		}
		end := next + length + 2
		if len(buf) < end {
			return 0, frameIncomplete
		}
		return end, frameComplete
	case '*':
		count, ok := atoi(header)
		if !ok || count < -1 {
			return 0, frameMalformed
		}
		if count <= 0 {
			return next, frameComplete
		}
		if depth >= DefaultMaxDepth {
			return 0, frameMalformed
		}
		pos := next
		for i := 0; i < count; i++ {
			end, state := frameEnd(buf, pos, depth+1)
			if state != frameComplete {
				return 0, state
			}
			pos = end
		}
		return pos, frameComplete
	}
	return 0, frameMalformed
}

// atoi parses a signed decimal without allocating.
func atoi(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	neg := false
	if b[0] == '-' {
		neg = true
		b = b[1:]
		if len(b) == 0 {
			return 0, false
		}
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n > 1<<31 {
			return 0, false
		}
	}
	if neg {
		n = -n
	}
	return n, true
}
