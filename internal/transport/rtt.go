package transport

import (
	"sync"
	"time"
)

// rttSamples keeps the round trip figures a Link reports.
type rttSamples struct {
	mu     sync.Mutex
	n      int
	last   time.Duration
	lowest time.Duration
	avg    time.Duration
}

// add records one round trip. The average is exponential with weight 1/8,
// seeded by the first sample.
func (r *rttSamples) add(d time.Duration) {
	if d < 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		r.lowest, r.avg = d, d
	}
	r.n++
	r.last = d
	r.lowest = min(r.lowest, d)
	r.avg += (d - r.avg) / 8
}

// get returns last, average and lowest in milliseconds, or -1 for each
// before the first sample.
func (r *rttSamples) get() (last, avg, lowest int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		return -1, -1, -1
	}
	return int(r.last.Milliseconds()), int(r.avg.Milliseconds()), int(r.lowest.Milliseconds())
}
