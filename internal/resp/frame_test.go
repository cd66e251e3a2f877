package resp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validFrames = []string{
	"+OK\r\n",
	"-MOVED 3999 127.0.0.1:6381\r\n",
	":1000\r\n",
	"$6\r\nfoobar\r\n",
	"$0\r\n\r\n",
	"$-1\r\n",
	"*-1\r\n",
	"*0\r\n",
	"*2\r\n$3\r\nfoo\r\n$3\r\nbar\r\n",
	"*3\r\n$7\r\nmessage\r\n$7\r\nchannel\r\n$11\r\nhello world\r\n",
	"*2\r\n:1\r\n*2\r\n+a\r\n$-1\r\n",
	"*2\r\n$6\r\nmylist\r\n$2\r\nYo\r\n",
}

func TestFrameLengthPrefixes(t *testing.T) {
	for _, frame := range validFrames {
		t.Run(frame, func(t *testing.T) {
			buf := []byte(frame)
			for i := 0; i < len(buf); i++ {
				assert.False(t, IsFrameComplete(buf[:i]), "prefix %q reported complete", buf[:i])
			}
			n, ok := FrameLength(buf)
			require.True(t, ok)
			assert.Equal(t, len(buf), n)

			// The detector must agree with the parser on the frame size.
			_, consumed, err := ParsePrefix(buf, DefaultMaxDepth)
			if err == nil {
				assert.Equal(t, consumed, n)
			}
		})
	}
}

func TestFrameLengthWithTrailingData(t *testing.T) {
	buf := []byte("+PONG\r\n$3\r\nfo")
	n, ok := FrameLength(buf)
	require.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = FrameLength(buf[n:])
	assert.False(t, ok)
}

func TestFrameLengthMalformed(t *testing.T) {
	tests := []string{
		"?what\r\n",
		"$x\r\n",
		"*2\r\n!\r\n",
		"$536870913\r\nab\r\n",
	}
	for _, input := range tests {
		n, ok := FrameLength([]byte(input))
		assert.True(t, ok, "malformed input %q should be handed to the parser", input)
		assert.Equal(t, len(input), n)

		_, err := Parse([]byte(input))
		assert.Error(t, err)
	}
}

func TestFrameLengthEncodedNull(t *testing.T) {
	buf := Encode("a", nil, "c")
	n, ok := FrameLength(buf)
	require.True(t, ok)
	assert.Equal(t, len(buf), n)

	assert.False(t, IsFrameComplete(buf[:len("*3\r\n$1\r\na\r\n$-1\r\n\r")]))
}

func TestFrameLengthDoesNotAllocate(t *testing.T) {
	buf := []byte(validFrames[9])
	allocs := testing.AllocsPerRun(100, func() {
		FrameLength(buf[:len(buf)-3])
		FrameLength(buf)
	})
	assert.Zero(t, allocs)
}
