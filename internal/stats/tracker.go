package stats

import (
	"sync"
	"time"

	"github.com/1ureka/rakpeer/internal/protocol"
)

const (
	bucketWidth = 100 * time.Millisecond
	bucketCount = int64(time.Second / bucketWidth)
)

type bucket struct {
	values [MetricCount]uint64
	sent   uint64
	lost   uint64
}

// Tracker accumulates counters for one connection and produces Statistics
// snapshots. The last-second window is a ring of ten 100ms buckets.
//
// Engines update a Tracker from their I/O goroutines, so it is safe for
// concurrent use.
type Tracker struct {
	mu  sync.Mutex
	now func() time.Time

	start time.Time
	slot  int64
	ring  [bucketCount]bucket

	total     [MetricCount]uint64
	sent      uint64
	lost      uint64
	queuedMsg [protocol.PriorityCount]uint64
	queuedLen [protocol.PriorityCount]uint64

	resendMsg uint64
	resendLen uint64

	congestionBPS uint64
	bandwidthBPS  uint64
}

// NewTracker starts a tracker at the current wall-clock time.
func NewTracker() *Tracker {
	return NewTrackerWithClock(time.Now)
}

// NewTrackerWithClock starts a tracker driven by now.
func NewTrackerWithClock(now func() time.Time) *Tracker {
	return &Tracker{now: now, start: now()}
}

// advance rotates the ring up to the current slot. Caller holds mu.
func (t *Tracker) advance() *bucket {
	cur := int64(t.now().Sub(t.start) / bucketWidth)
	if cur-t.slot >= bucketCount {
		t.ring = [bucketCount]bucket{}
		t.slot = cur
	}
	for t.slot < cur {
		t.slot++
		t.ring[t.slot%bucketCount] = bucket{}
	}
	return &t.ring[t.slot%bucketCount]
}

// Add increases m by n.
func (t *Tracker) Add(m Metric, n uint64) {
	if m < 0 || m >= MetricCount {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advance().values[m] += n
	t.total[m] += n
}

// RecordSent notes one datagram that may later be reported lost.
func (t *Tracker) RecordSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advance().sent++
	t.sent++
}

// RecordLost notes one datagram that never arrived.
func (t *Tracker) RecordLost() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advance().lost++
	t.lost++
}

// RecordBatch notes sent datagrams of which lost never arrived, for
// receivers that infer loss from gaps in a sequence.
func (t *Tracker) RecordBatch(sent, lost uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.advance()
	b.sent += sent
	b.lost += lost
	t.sent += sent
	t.lost += lost
}

// Enqueue counts a message waiting in the send buffer at p.
func (t *Tracker) Enqueue(p protocol.Priority, size int) {
	if int(p) >= protocol.PriorityCount {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queuedMsg[p]++
	t.queuedLen[p] += uint64(size)
}

// Dequeue removes a message counted by Enqueue.
func (t *Tracker) Dequeue(p protocol.Priority, size int) {
	if int(p) >= protocol.PriorityCount {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queuedMsg[p] > 0 {
		t.queuedMsg[p]--
	}
	t.queuedLen[p] -= min(t.queuedLen[p], uint64(size))
}

// SetResendBuffer records the current size of the retransmission buffer.
func (t *Tracker) SetResendBuffer(messages, size uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resendMsg, t.resendLen = messages, size
}

// SetBandwidthLimit records an outgoing bandwidth ceiling; zero clears it.
func (t *Tracker) SetBandwidthLimit(bps uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bandwidthBPS = bps
}

// SetCongestionLimit records a congestion-control ceiling; zero clears it.
func (t *Tracker) SetCongestionLimit(bps uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.congestionBPS = bps
}

// Snapshot returns the current statistics.
func (t *Tracker) Snapshot() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advance()

	var s Statistics
	var sent, lost uint64
	for i := range t.ring {
		b := &t.ring[i]
		for m := range b.values {
			s.ValueLastSecond[m] += b.values[m]
		}
		sent += b.sent
		lost += b.lost
	}
	s.RunningTotal = t.total

	s.ConnectionStartTime = uint64(t.start.UnixMilli())
	s.ConnectionTime = uint64(t.now().Sub(t.start).Milliseconds())

	s.CongestionLimited = t.congestionBPS > 0
	s.CongestionLimitBPS = t.congestionBPS
	s.BandwidthLimited = t.bandwidthBPS > 0
	s.BandwidthLimitBPS = t.bandwidthBPS

	s.MessagesInSendBuffer = t.queuedMsg
	s.BytesInSendBuffer = t.queuedLen
	s.MessagesInResendBuffer = t.resendMsg
	s.BytesInResendBuffer = t.resendLen

	s.PacketLossLastSecond = ratio(lost, sent)
	s.PacketLossTotal = ratio(t.lost, t.sent)
	return s
}

func ratio(lost, sent uint64) float32 {
	if sent == 0 {
		return 0
	}
	return min(float32(lost)/float32(sent), 1)
}
