// File: core/buffer/bytebuffer.go
// Package buffer provides the per-connection receive buffer.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-capacity byte buffer with independent read and write cursors
// and an explicit compaction step. Backing storage never reallocates.

package buffer

// Buffer is a contiguous byte region of fixed capacity with cursors
// read <= write <= cap. The region [read, write) holds bytes that were
// committed but not yet consumed; [write, cap) is free for I/O.
//
// A Buffer is owned by exactly one connection and is not safe for
// concurrent use.
type Buffer struct {
	buf   []byte
	read  int
	write int
}

// New allocates a Buffer with the given capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("buffer: capacity must be positive")
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// Capacity returns the fixed capacity of the buffer.
func (b *Buffer) Capacity() int { return len(b.buf) }

// Unread returns the number of committed, not yet consumed bytes.
func (b *Buffer) Unread() int { return b.write - b.read }

// FreeTail returns the number of bytes available at the tail for the
// next write. It does not account for space reclaimable via Shift.
func (b *Buffer) FreeTail() int { return len(b.buf) - b.write }

// ReadRegion returns the committed bytes [read, write). The slice
// aliases the buffer and is invalidated by Shift.
func (b *Buffer) ReadRegion() []byte { return b.buf[b.read:b.write] }

// WriteRegion returns the free tail [write, cap) for I/O to fill.
// The caller reports how much it wrote via Committed.
func (b *Buffer) WriteRegion() []byte { return b.buf[b.write:] }

// Consume advances the read cursor by n. The caller guarantees
// n <= Unread().
func (b *Buffer) Consume(n int) {
	if n < 0 || n > b.Unread() {
		panic("buffer: consume out of range")
	}
	b.read += n
}

// Committed advances the write cursor by n after the caller filled the
// write region. The caller guarantees n <= FreeTail().
func (b *Buffer) Committed(n int) {
	if n < 0 || n > b.FreeTail() {
		panic("buffer: commit out of range")
	}
	b.write += n
}

// Shift compacts the unread bytes to the front of the buffer so the
// whole remaining capacity becomes writable. Returns the number of
// unread bytes. O(Unread), safe at any time; when nothing is unread
// both cursors simply reset.
func (b *Buffer) Shift() int {
	unread := b.Unread()
	if unread == 0 {
		b.read, b.write = 0, 0
		return 0
	}
	if b.read > 0 {
		copy(b.buf, b.buf[b.read:b.write])
		b.read = 0
		b.write = unread
	}
	return unread
}
