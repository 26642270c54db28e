package transport

import (
	"sync"
	"sync/atomic"
)

// seqGen numbers outgoing sequenced frames. The first call to next returns 1.
type seqGen struct {
	val atomic.Uint32
}

func (s *seqGen) next() uint32 {
	return s.val.Add(1)
}

// seqFilter accepts only frames newer than the newest one seen, using serial
// number arithmetic so the counter may wrap.
type seqFilter struct {
	mu   sync.Mutex
	last uint32
}

// accept reports whether seq should be delivered and how many earlier
// sequence numbers it skipped over.
func (f *seqFilter) accept(seq uint32) (ok bool, skipped uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := int32(seq - f.last)
	if d <= 0 {
		return false, 0
	}
	f.last = seq
	return true, uint32(d - 1)
}
