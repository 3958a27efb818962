// Package verify implements VerificationBuffer: a rolling-window scanner
// that matches expected echo text in a worker's PTY output, used to
// confirm an injected message actually reached the wrapped CLI.
package verify

import (
	"sync"
)

// defaultWindowBytes is the capacity of the retained tail of visible text.
const defaultWindowBytes = 16 * 1024

// Buffer accumulates a bounded tail of visible (ANSI-stripped) output and
// tests it for substring containment against one or more pending needles.
// One Buffer is owned by one PtyWorker; it is not safe to share across
// workers, but its own methods are safe for concurrent use by that
// worker's read and write tasks.
type Buffer struct {
	mu       sync.Mutex
	window   []byte
	cap      int
	ansiTail []byte // held-back partial escape sequence; no code path sets it, so it stays empty
}

// NewBuffer creates a Buffer with the given window capacity in bytes. A
// zero or negative capacity falls back to the default (16 KiB).
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = defaultWindowBytes
	}
	return &Buffer{cap: capacity}
}

// Feed appends a chunk of raw PTY output to the rolling window, stripping
// ANSI escape sequences first so that cursor movement and color codes
// never appear inside the visible text the matcher compares against.
// Carriage returns are dropped as well, so the "\r\n" line endings a PTY
// writes compare equal to the "\n" that ends an injected message.
func (b *Buffer) Feed(chunk []byte) {
	visible := StripANSI(append(b.drainANSITail(), chunk...))

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range visible {
		if c != '\r' {
			b.window = append(b.window, c)
		}
	}
	if over := len(b.window) - b.cap; over > 0 {
		b.window = b.window[over:]
	}
}

// drainANSITail returns and clears any bytes held back from the previous
// Feed call because they looked like the start of an escape sequence that
// hadn't finished arriving yet. StripANSI (ansi.go) scans each call's
// input on its own and nothing assigns ansiTail, so this always returns
// nil.
func (b *Buffer) drainANSITail() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	tail := b.ansiTail
	b.ansiTail = nil
	return tail
}

// Contains reports whether needle appears anywhere in the current visible
// window.
func (b *Buffer) Contains(needle string) bool {
	if needle == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return containsBytes(b.window, needle)
}

// Reset clears the window, used when a worker is released and its PTY
// state is about to be torn down.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window = nil
	b.ansiTail = nil
}

// Snapshot returns a copy of the current visible window, for diagnostics
// (get_status / get_metrics scrollback snippets).
func (b *Buffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.window))
	copy(out, b.window)
	return out
}

func containsBytes(haystack []byte, needle string) bool {
	n := len(needle)
	if n == 0 || n > len(haystack) {
		return false
	}
	for i := 0; i+n <= len(haystack); i++ {
		if string(haystack[i:i+n]) == needle {
			return true
		}
	}
	return false
}
