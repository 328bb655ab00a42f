// Package ring implements the single-producer/single-consumer byte
// ring buffer that sits between the feed adapter and the dispatcher.
package ring

import "sync/atomic"

// Buffer is a fixed-capacity byte ring with one producer and one
// consumer. One slot of capacity is always kept empty so that the head
// and tail indices never coincide ambiguously between full and empty.
// Multi-writer or multi-reader use is undefined.
type Buffer struct {
	buf      []byte
	capacity uint64
	head     atomic.Uint64 // producer-owned write index
	tail     atomic.Uint64 // consumer-owned read index
	readOnly bool
}

// New allocates a ring buffer of the given byte capacity.
func New(capacity int) *Buffer {
	return &Buffer{buf: make([]byte, capacity), capacity: uint64(capacity)}
}

// NewReadOnly allocates a ring buffer that rejects all writes, for
// tests or consumer-only harnesses that inject bytes directly into buf.
func NewReadOnly(capacity int) *Buffer {
	b := New(capacity)
	b.readOnly = true
	return b
}

// Write copies up to len(data) bytes into the ring and returns the
// number actually written. A read-only buffer, or one with no free
// space, writes zero bytes; it never blocks and never errors — a
// partial write is the caller's RingFull condition per the feed
// adapter's drop-on-full policy.
func (b *Buffer) Write(data []byte) int {
	if b.readOnly {
		return 0
	}
	head := b.head.Load()
	tail := b.tail.Load()

	free := (tail + b.capacity - head - 1) % b.capacity
	toWrite := min(uint64(len(data)), free)
	if toWrite == 0 {
		return 0
	}

	first := min(toWrite, b.capacity-(head%b.capacity))
	copy(b.buf[head%b.capacity:], data[:first])
	if second := toWrite - first; second > 0 {
		copy(b.buf, data[first:toWrite])
	}

	b.head.Store((head + toWrite) % b.capacity)
	return int(toWrite)
}

// Read copies up to len(out) available bytes from the ring into out
// and returns the number actually read. Zero means the ring was empty.
func (b *Buffer) Read(out []byte) int {
	head := b.head.Load()
	tail := b.tail.Load()

	available := (head + b.capacity - tail) % b.capacity
	toRead := min(uint64(len(out)), available)
	if toRead == 0 {
		return 0
	}

	first := min(toRead, b.capacity-(tail%b.capacity))
	copy(out[:first], b.buf[tail%b.capacity:])
	if second := toRead - first; second > 0 {
		copy(out[first:toRead], b.buf[:second])
	}

	b.tail.Store((tail + toRead) % b.capacity)
	return int(toRead)
}

// Len reports the number of bytes currently buffered, for the ring
// capacity-bound property: Len() is always <= Capacity()-1.
func (b *Buffer) Len() int {
	head := b.head.Load()
	tail := b.tail.Load()
	return int((head + b.capacity - tail) % b.capacity)
}

// Capacity returns the total byte capacity of the ring, including the
// one slot permanently reserved to disambiguate full from empty.
func (b *Buffer) Capacity() int { return int(b.capacity) }
