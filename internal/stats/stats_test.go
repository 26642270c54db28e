package stats

import (
	"strings"
	"testing"
	"time"

	"github.com/1ureka/rakpeer/internal/protocol"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time           { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker() (*Tracker, *fakeClock) {
	c := &fakeClock{t: time.Unix(1700000000, 0)}
	return NewTrackerWithClock(c.now), c
}

// TestTrackerWindow checks that the last-second value drops old buckets
// while the running total keeps everything.
func TestTrackerWindow(t *testing.T) {
	tr, clock := newTestTracker()

	tr.Add(BytesSent, 100)
	clock.advance(500 * time.Millisecond)
	tr.Add(BytesSent, 50)

	s := tr.Snapshot()
	if got := s.LastSecond(BytesSent); got != 150 {
		t.Errorf("last second after 0.5s: got %d, want 150", got)
	}

	clock.advance(600 * time.Millisecond)
	s = tr.Snapshot()
	if got := s.LastSecond(BytesSent); got != 50 {
		t.Errorf("last second after 1.1s: got %d, want 50", got)
	}
	if got := s.Total(BytesSent); got != 150 {
		t.Errorf("total: got %d, want 150", got)
	}

	clock.advance(5 * time.Second)
	s = tr.Snapshot()
	if got := s.LastSecond(BytesSent); got != 0 {
		t.Errorf("last second after idle: got %d, want 0", got)
	}
	if s.ConnectionTime != 6100 {
		t.Errorf("connection time: got %d ms, want 6100", s.ConnectionTime)
	}
}

// TestTrackerQueues checks per-priority send buffer accounting.
func TestTrackerQueues(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Enqueue(protocol.PriorityHigh, 10)
	tr.Enqueue(protocol.PriorityHigh, 20)
	tr.Enqueue(protocol.PriorityLow, 5)
	tr.Dequeue(protocol.PriorityHigh, 10)
	tr.Dequeue(protocol.PriorityMedium, 99)

	s := tr.Snapshot()
	if s.MessagesQueued(protocol.PriorityHigh) != 1 || s.BytesQueued(protocol.PriorityHigh) != 20 {
		t.Errorf("high: %d msgs, %d bytes", s.MessagesQueued(protocol.PriorityHigh), s.BytesQueued(protocol.PriorityHigh))
	}
	if s.MessagesQueued(protocol.PriorityLow) != 1 {
		t.Errorf("low: %d msgs", s.MessagesQueued(protocol.PriorityLow))
	}
	if s.MessagesQueued(protocol.PriorityMedium) != 0 || s.BytesQueued(protocol.PriorityMedium) != 0 {
		t.Error("medium should not underflow")
	}
	if s.MessagesQueued(protocol.Priority(9)) != 0 {
		t.Error("out-of-range priority should read zero")
	}
}

// TestPacketLoss checks the loss ratio and its percent rendering.
func TestPacketLoss(t *testing.T) {
	tr, clock := newTestTracker()

	for range 8 {
		tr.RecordSent()
	}
	tr.RecordLost()

	s := tr.Snapshot()
	if got := s.PacketLoss(); got != 12 {
		t.Errorf("loss percent: got %d, want 12", got)
	}

	clock.advance(2 * time.Second)
	s = tr.Snapshot()
	if s.PacketLoss() != 0 {
		t.Errorf("loss should fall out of the window, got %d", s.PacketLoss())
	}
	if got := s.PacketLossPercentTotal(); got != 12 {
		t.Errorf("total loss percent: got %d, want 12", got)
	}
}

// TestLimits checks the limit flags follow the configured ceilings.
func TestLimits(t *testing.T) {
	tr, _ := newTestTracker()
	tr.SetBandwidthLimit(64000)

	s := tr.Snapshot()
	if !s.BandwidthLimited || s.BandwidthLimitBPS != 64000 {
		t.Errorf("bandwidth: limited=%v bps=%d", s.BandwidthLimited, s.BandwidthLimitBPS)
	}
	if s.CongestionLimited {
		t.Error("congestion should not be limited")
	}

	tr.SetBandwidthLimit(0)
	if s = tr.Snapshot(); s.BandwidthLimited {
		t.Error("zero limit should clear the flag")
	}
}

// TestStatisticsBounds checks out-of-range metric access.
func TestStatisticsBounds(t *testing.T) {
	var s Statistics
	s.ValueLastSecond[BytesSent] = 3
	if s.LastSecond(Metric(-1)) != 0 || s.Total(MetricCount) != 0 {
		t.Error("out-of-range metrics should read zero")
	}
	s.Reset()
	if s.LastSecond(BytesSent) != 0 {
		t.Error("reset should zero counters")
	}
}

// TestFormatBytes checks the fixed-width rendering.
func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{5 * 1024 * 1024, " 5.0 MiB"},
	}

	for _, tc := range testCases {
		got := FormatBytes(tc.in)
		if got != tc.want {
			t.Errorf("FormatBytes(%v): got %q, want %q", tc.in, got, tc.want)
		}
		if len(got) != 8 {
			t.Errorf("FormatBytes(%v): width %d, want 8", tc.in, len(got))
		}
	}

	if !strings.Contains(formatStats(&Statistics{}), "Loss:  0%") {
		t.Error("summary should include the loss column")
	}
}

// TestStatisticsAdd sums two connections.
func TestStatisticsAdd(t *testing.T) {
	var a, b Statistics
	a.ValueLastSecond[BytesSent] = 10
	a.RunningTotal[BytesSent] = 100
	a.MessagesInSendBuffer[protocol.PriorityHigh] = 1
	a.PacketLossLastSecond = 0.5
	b.ValueLastSecond[BytesSent] = 5
	b.RunningTotal[BytesSent] = 50
	b.MessagesInSendBuffer[protocol.PriorityHigh] = 2
	b.PacketLossLastSecond = 0.25

	a.Add(&b)
	if got := a.LastSecond(BytesSent); got != 15 {
		t.Errorf("last second: got %d, want 15", got)
	}
	if got := a.Total(BytesSent); got != 150 {
		t.Errorf("total: got %d, want 150", got)
	}
	if got := a.MessagesQueued(protocol.PriorityHigh); got != 3 {
		t.Errorf("queued: got %d, want 3", got)
	}
	if got := a.PacketLoss(); got != 50 {
		t.Errorf("loss: got %d, want 50", got)
	}
}
