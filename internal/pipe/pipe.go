// ABOUTME: FIFO of committed chunks from the decoder to the consumer
// ABOUTME: Closing the pipe marks the end of the song
package pipe

import "sync"

// Pipe carries committed chunks in order. Push never blocks because the
// pipe can hold every chunk of its Buffer.
type Pipe struct {
	ch     chan *Chunk
	mu     sync.Mutex
	closed bool
}

// New creates a pipe sized for buf.
func New(buf *Buffer) *Pipe {
	return &Pipe{ch: make(chan *Chunk, buf.Capacity())}
}

// Push hands a committed chunk to the consumer. It reports false if the pipe
// was already closed, in which case the caller still owns c.
func (p *Pipe) Push(c *Chunk) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.ch <- c
	return true
}

// C returns the receive side for the consumer. It is closed after Close
// once every queued chunk has been received.
func (p *Pipe) C() <-chan *Chunk {
	return p.ch
}

// Close marks the end of stream. It is safe to call more than once.
func (p *Pipe) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
}

// Clear returns every queued chunk to buf without closing the pipe.
func (p *Pipe) Clear(buf *Buffer) int {
	n := 0
	for {
		select {
		case c, ok := <-p.ch:
			if !ok {
				return n
			}
			buf.Return(c)
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued chunks.
func (p *Pipe) Len() int {
	return len(p.ch)
}
