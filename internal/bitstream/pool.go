package bitstream

// Pool is a LIFO free list of BitStreams.
//
// It is not safe for concurrent use; the session dispatch loop owns one pool
// and touches it from a single goroutine.
type Pool struct {
	free []*BitStream
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// Acquire returns the most recently released BitStream, or a new one when the
// pool is empty. The result is valid, empty and has both cursors at zero.
func (p *Pool) Acquire() *BitStream {
	n := len(p.free)
	if n == 0 {
		return New()
	}
	b := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]

	b.released = false
	b.Reset()
	return b
}

// Release hands b back to the pool. The former owner must not use b again;
// any call it makes is a no-op. Releasing the same stream twice, a closed
// stream or nil does nothing.
func (p *Pool) Release(b *BitStream) {
	if !b.Valid() {
		return
	}
	b.dropBorrowed()
	b.released = true
	p.free = append(p.free, b)
}

// Len returns how many streams are waiting in the pool.
func (p *Pool) Len() int {
	return len(p.free)
}
