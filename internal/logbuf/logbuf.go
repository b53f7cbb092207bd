// Package logbuf keeps a bounded in-memory tail of the service log.
//
// The buffer is wired next to stdout via io.MultiWriter so the log endpoint
// can serve recent lines without touching the filesystem.
package logbuf

import (
	"bytes"
	"sync"
)

// Buffer is a line-oriented ring buffer implementing io.Writer.
type Buffer struct {
	mu      sync.Mutex
	lines   []string
	next    int // ring write position once full
	full    bool
	limit   int
	partial bytes.Buffer // incomplete trailing line between writes
}

const defaultLimit = 2000

// New creates a buffer retaining up to limit lines. Non-positive limits fall
// back to 2000.
func New(limit int) *Buffer {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Buffer{
		lines: make([]string, 0, limit),
		limit: limit,
	}
}

// Write splits p into lines and appends them, evicting the oldest once the
// limit is reached. A trailing fragment without a newline is held back until
// completed by a later write. Always succeeds.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)
	for {
		data := b.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		b.append(string(data[:i]))
		b.partial.Next(i + 1)
	}
	return len(p), nil
}

func (b *Buffer) append(line string) {
	if line == "" {
		return
	}
	if !b.full {
		b.lines = append(b.lines, line)
		if len(b.lines) == b.limit {
			b.full = true
		}
		return
	}
	b.lines[b.next] = line
	b.next = (b.next + 1) % b.limit
}

// Tail returns up to max of the most recent lines, oldest first. A
// non-positive max returns everything retained.
func (b *Buffer) Tail(max int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ordered []string
	if b.full {
		ordered = make([]string, 0, b.limit)
		ordered = append(ordered, b.lines[b.next:]...)
		ordered = append(ordered, b.lines[:b.next]...)
	} else {
		ordered = append([]string(nil), b.lines...)
	}

	if max > 0 && len(ordered) > max {
		ordered = ordered[len(ordered)-max:]
	}
	return ordered
}

// Len returns the number of retained lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return b.limit
	}
	return len(b.lines)
}
