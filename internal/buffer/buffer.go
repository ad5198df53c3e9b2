// Package buffer provides the bounded output accumulator used for subprocess
// stdout and stderr.
package buffer

import "sync"

const (
	// DefaultMaxStdout is the stdout cap when no override is configured.
	DefaultMaxStdout = 10 * 1024 * 1024

	// MaxStderr caps captured stderr. Not configurable.
	MaxStderr = 1 * 1024 * 1024

	StdoutTrailer = "\n[truncated]"
	StderrTrailer = "\n[stderr truncated]"
)

// Buffer accumulates bytes up to a fixed cap. The first append that would
// cross the cap keeps only the part that fits, adds the trailer once, and
// every later append is a no-op. Len never exceeds max+len(trailer).
type Buffer struct {
	mu        sync.Mutex
	data      []byte
	max       int
	trailer   string
	truncated bool
}

// New returns a Buffer capped at max bytes.
func New(max int, trailer string) *Buffer {
	if max < 0 {
		max = 0
	}
	return &Buffer{max: max, trailer: trailer}
}

// NewStdout returns a stdout buffer with the given cap.
func NewStdout(max int) *Buffer {
	return New(max, StdoutTrailer)
}

// NewStderr returns a stderr buffer with the fixed stderr cap.
func NewStderr() *Buffer {
	return New(MaxStderr, StderrTrailer)
}

// Append adds chunk to the buffer, truncating at the cap.
func (b *Buffer) Append(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated || len(chunk) == 0 {
		return
	}
	room := b.max - len(b.data)
	if len(chunk) <= room {
		b.data = append(b.data, chunk...)
		return
	}
	if room > 0 {
		b.data = append(b.data, chunk[:room]...)
	}
	b.data = append(b.data, b.trailer...)
	b.truncated = true
}

// Write implements io.Writer. It never fails so a chatty subprocess is not
// interrupted once the cap is hit.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// String returns a copy of the accumulated content.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// Len returns the current length in bytes, trailer included.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Truncated reports whether the cap was hit.
func (b *Buffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
