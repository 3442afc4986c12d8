// ABOUTME: Bounded pool of chunks shared by one decoder and one consumer
// ABOUTME: Allocation blocks when the pool is exhausted until a chunk returns
package pipe

import "sync/atomic"

// Buffer is a fixed pool of chunks. Its capacity bounds decoder memory.
type Buffer struct {
	free     chan *Chunk
	capacity int
	inUse    atomic.Int64
}

// NewBuffer preallocates n chunks.
func NewBuffer(n int) *Buffer {
	if n < 1 {
		n = 1
	}
	b := &Buffer{free: make(chan *Chunk, n), capacity: n}
	for i := 0; i < n; i++ {
		b.free <- &Chunk{}
	}
	return b
}

// Allocate returns a free chunk, waiting until one is returned. It gives up
// and returns false as soon as interrupt is closed or receives a value.
func (b *Buffer) Allocate(interrupt <-chan struct{}) (*Chunk, bool) {
	select {
	case c := <-b.free:
		b.inUse.Add(1)
		return c, true
	default:
	}

	select {
	case c := <-b.free:
		b.inUse.Add(1)
		return c, true
	case <-interrupt:
		return nil, false
	}
}

// TryAllocate returns a free chunk or nil without blocking.
func (b *Buffer) TryAllocate() *Chunk {
	select {
	case c := <-b.free:
		b.inUse.Add(1)
		return c
	default:
		return nil
	}
}

// Return clears c and puts it back into the pool.
func (b *Buffer) Return(c *Chunk) {
	if c == nil {
		return
	}
	c.reset()
	b.inUse.Add(-1)
	b.free <- c
}

// Capacity returns the pool size.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Free returns the number of chunks available for allocation.
func (b *Buffer) Free() int {
	return len(b.free)
}

// InUse returns the number of chunks currently allocated.
func (b *Buffer) InUse() int {
	return int(b.inUse.Load())
}
