package ptyhost

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineBuffer_SplitsAcrossWrites(t *testing.T) {
	b := newLineBuffer(100, 0)
	_, _ = b.Write([]byte("hel"))
	_, _ = b.Write([]byte("lo\r\nwor"))
	assert.Equal(t, []string{"hello", "wor"}, b.snapshot())

	_, _ = b.Write([]byte("ld\n"))
	assert.Equal(t, []string{"hello", "world"}, b.snapshot())
}

func TestLineBuffer_StripsEscapes(t *testing.T) {
	b := newLineBuffer(100, 0)
	_, _ = b.Write([]byte("\x1b[1;32mREADY\x1b[0m on :8080\r\n"))
	_, _ = b.Write([]byte("\x1b]0;title\x07prompt $ \r\n"))
	assert.Equal(t, []string{"READY on :8080", "prompt $"}, b.snapshot())
}

func TestLineBuffer_CarriageReturnOverwrites(t *testing.T) {
	b := newLineBuffer(100, 0)
	_, _ = b.Write([]byte("progress 10%\rprogress 55%\rdone\r\n"))
	assert.Equal(t, []string{"done"}, b.snapshot())
}

func TestLineBuffer_WrapsAtColumns(t *testing.T) {
	b := newLineBuffer(100, 4)
	_, _ = b.Write([]byte("abcdefghij\n"))
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, b.snapshot())

	b = newLineBuffer(100, 4)
	_, _ = b.Write([]byte("日本語\n"))
	assert.Equal(t, []string{"日本", "語"}, b.snapshot(), "wide runes take two columns")
}

func TestLineBuffer_KeepsNewestLines(t *testing.T) {
	b := newLineBuffer(3, 0)
	for i := 0; i < 10; i++ {
		_, _ = fmt.Fprintf(b, "line %d\n", i)
	}
	assert.Equal(t, []string{"line 7", "line 8", "line 9"}, b.snapshot())
	assert.Equal(t, 7, b.dropped)
}

func TestLineBuffer_FlushesRunawayLine(t *testing.T) {
	b := newLineBuffer(10, 0)
	_, _ = b.Write([]byte(strings.Repeat("x", maxPendingBytes+10)))
	lines := b.snapshot()
	assert.Len(t, lines, 1)
	assert.Len(t, lines[0], maxPendingBytes+10)

	b = newLineBuffer(10, 0)
	_, _ = b.Write([]byte(strings.Repeat("x", maxPendingBytes)))
	_, _ = b.Write([]byte("tail\n"))
	assert.Equal(t, []string{strings.Repeat("x", maxPendingBytes), "tail"}, b.snapshot())
}

func TestLineBuffer_BlankPendingNotReported(t *testing.T) {
	b := newLineBuffer(10, 0)
	_, _ = b.Write([]byte("one\n\x1b[K"))
	assert.Equal(t, []string{"one"}, b.snapshot())
}
