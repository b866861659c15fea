package terminal

import (
	"strings"
	"sync"

	"ensemble/internal/buffer"
)

const DefaultBufferLines = 1000

// OutputBuffer keeps the most recent complete lines of output plus the
// unterminated tail. Carriage returns ending a line are dropped.
type OutputBuffer struct {
	mu       sync.Mutex
	maxLines int
	lines    *buffer.Ring[string]
	carry    string
}

func NewOutputBuffer(maxLines int) *OutputBuffer {
	if maxLines <= 0 {
		maxLines = DefaultBufferLines
	}
	return &OutputBuffer{
		maxLines: maxLines,
		lines:    buffer.NewRing[string](maxLines),
	}
}

func (b *OutputBuffer) Append(data []byte) {
	if len(data) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	chunk := b.carry + string(data)
	parts := strings.Split(chunk, "\n")
	if chunk[len(chunk)-1] != '\n' {
		b.carry = parts[len(parts)-1]
		parts = parts[:len(parts)-1]
	} else {
		b.carry = ""
		parts = parts[:len(parts)-1]
	}
	for _, line := range parts {
		b.lines.Add(strings.TrimSuffix(line, "\r"))
	}
}

func (b *OutputBuffer) Lines() []string {
	return b.Tail(0)
}

// Tail returns up to n of the newest lines, including the unterminated tail.
// n <= 0 returns everything buffered.
func (b *OutputBuffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := b.lines.Len()
	if b.carry != "" {
		count++
	}
	if n <= 0 || n > count {
		n = count
	}
	want := n
	if b.carry != "" {
		want--
	}
	lines := b.lines.Last(want)
	if lines == nil {
		lines = []string{}
	}
	if b.carry != "" && n > 0 {
		lines = append(lines, strings.TrimSuffix(b.carry, "\r"))
	}
	return lines
}
