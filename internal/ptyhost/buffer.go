package ptyhost

import (
	"bytes"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
)

// maxPendingBytes flushes a line that never ends, so a program printing
// without newlines cannot grow the buffer without bound.
const maxPendingBytes = 64 * 1024

// lineBuffer turns raw terminal output into plain text lines. Escape
// sequences are removed, a carriage return restarts the current line, and
// lines wider than the terminal are split the way the terminal wraps them.
// Only the newest limit lines are kept.
type lineBuffer struct {
	mu      sync.Mutex
	lines   []string
	pending []byte
	limit   int
	cols    int
	dropped int
}

func newLineBuffer(limit, cols int) *lineBuffer {
	return &lineBuffer{limit: limit, cols: cols}
}

// Write implements io.Writer; it never fails.
func (b *lineBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rest := p
	for len(rest) > 0 {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			b.pending = append(b.pending, rest...)
			if len(b.pending) >= maxPendingBytes {
				b.flushLocked()
			}
			break
		}
		b.pending = append(b.pending, rest[:i]...)
		b.flushLocked()
		rest = rest[i+1:]
	}
	return len(p), nil
}

func (b *lineBuffer) flushLocked() {
	line := cleanLine(string(b.pending))
	b.pending = b.pending[:0]
	b.lines = append(b.lines, wrap(line, b.cols)...)
	if over := len(b.lines) - b.limit; over > 0 {
		b.lines = append([]string(nil), b.lines[over:]...)
		b.dropped += over
	}
}

// cleanLine strips escape sequences, applies carriage returns and drops
// the remaining control characters.
func cleanLine(raw string) string {
	s := ansi.Strip(raw)
	s = strings.TrimSuffix(s, "\r")
	if i := strings.LastIndexByte(s, '\r'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.Map(func(r rune) rune {
		if (r < 32 && r != '\t') || r == 127 {
			return -1
		}
		return r
	}, s)
	return strings.TrimRight(s, " \t")
}

// wrap splits line into chunks of at most cols terminal cells.
func wrap(line string, cols int) []string {
	if cols <= 0 || runewidth.StringWidth(line) <= cols {
		return []string{line}
	}
	var (
		out   []string
		cur   strings.Builder
		width int
	)
	for _, r := range line {
		w := runewidth.RuneWidth(r)
		if width+w > cols {
			out = append(out, cur.String())
			cur.Reset()
			width = 0
		}
		cur.WriteRune(r)
		width += w
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// snapshot returns the retained lines plus the unterminated current line
// when it has content.
func (b *lineBuffer) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines), len(b.lines)+1)
	copy(out, b.lines)
	if len(b.pending) > 0 {
		if cur := cleanLine(string(b.pending)); cur != "" {
			out = append(out, wrap(cur, b.cols)...)
		}
	}
	return out
}
