package transport

import (
	"bytes"
	"testing"
	"time"

	"github.com/eapache/queue"

	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/stats"
)

// TestFrameRoundTrip encodes and decodes every frame kind.
func TestFrameRoundTrip(t *testing.T) {
	testCases := []struct {
		name      string
		in        frame
		sequenced bool
	}{
		{"data", frame{kind: frameData, payload: []byte{200, 'h', 'i'}}, false},
		{"sequenced data", frame{kind: frameData, seq: 0xDEADBEEF, payload: []byte{134}}, true},
		{"ping", frame{kind: framePing, stamp: 123456789}, false},
		{"pong", frame{kind: framePong, stamp: 1}, false},
		{"bye", frame{kind: frameBye, message: "see you"}, false},
		{"bye without message", frame{kind: frameBye}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeFrame(encodeFrame(tc.in, tc.sequenced), tc.sequenced)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if got.kind != tc.in.kind || got.seq != tc.in.seq || got.stamp != tc.in.stamp || got.message != tc.in.message {
				t.Errorf("got %+v, want %+v", got, tc.in)
			}
			if !bytes.Equal(got.payload, tc.in.payload) {
				t.Errorf("payload: got %v, want %v", got.payload, tc.in.payload)
			}
		})
	}
}

// TestFrameMalformed checks that short or unknown frames are rejected.
func TestFrameMalformed(t *testing.T) {
	testCases := []struct {
		name      string
		in        []byte
		sequenced bool
	}{
		{"empty", nil, false},
		{"unknown kind", []byte{9}, false},
		{"short ping", []byte{byte(framePing), 1, 2}, false},
		{"short sequence", []byte{byte(frameData), 0, 0}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := decodeFrame(tc.in, tc.sequenced); err != errBadFrame {
				t.Errorf("got %v, want errBadFrame", err)
			}
		})
	}
}

// TestChannelFor maps every reliability onto its channel.
func TestChannelFor(t *testing.T) {
	testCases := []struct {
		in   protocol.Reliability
		want channelKind
	}{
		{protocol.Unreliable, channelUnreliable},
		{protocol.UnreliableWithAck, channelUnreliable},
		{protocol.UnreliableSequenced, channelSequenced},
		{protocol.Reliable, channelReliable},
		{protocol.ReliableWithAck, channelReliable},
		{protocol.ReliableOrdered, channelReliableOrdered},
		{protocol.ReliableOrderedWithAck, channelReliableOrdered},
		{protocol.ReliableSequenced, channelReliableOrdered},
	}

	for _, tc := range testCases {
		t.Run(tc.in.String(), func(t *testing.T) {
			got := channelFor(tc.in)
			if got != tc.want {
				t.Errorf("got %s, want %s", channelSpecs[got].label, channelSpecs[tc.want].label)
			}
			if channelSpecs[got].reliable != tc.in.IsReliable() {
				t.Errorf("channel reliability does not match %s", tc.in)
			}
		})
	}
}

// TestSeqFilter drops stale frames and reports gaps, across wraparound.
func TestSeqFilter(t *testing.T) {
	var f seqFilter
	steps := []struct {
		seq     uint32
		ok      bool
		skipped uint32
	}{
		{1, true, 0},
		{2, true, 0},
		{5, true, 2},
		{4, false, 0},
		{5, false, 0},
		{6, true, 0},
	}
	for _, s := range steps {
		ok, skipped := f.accept(s.seq)
		if ok != s.ok || skipped != s.skipped {
			t.Errorf("accept(%d) = %v, %d; want %v, %d", s.seq, ok, skipped, s.ok, s.skipped)
		}
	}

	w := seqFilter{last: 0xFFFFFFFE}
	if ok, _ := w.accept(0xFFFFFFFF); !ok {
		t.Error("should accept the last value before wrapping")
	}
	if ok, skipped := w.accept(1); !ok || skipped != 1 {
		t.Errorf("should accept across the wrap, skipped=%d", skipped)
	}
}

// TestSeqGen starts at one and increases.
func TestSeqGen(t *testing.T) {
	var g seqGen
	for want := uint32(1); want <= 3; want++ {
		if got := g.next(); got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
}

// TestRTT checks last, average and lowest.
func TestRTT(t *testing.T) {
	var r rttSamples
	if last, avg, lowest := r.get(); last != -1 || avg != -1 || lowest != -1 {
		t.Fatalf("empty samples: %d %d %d", last, avg, lowest)
	}

	r.add(80 * time.Millisecond)
	r.add(40 * time.Millisecond)
	r.add(-time.Millisecond)

	last, avg, lowest := r.get()
	if last != 40 || lowest != 40 {
		t.Errorf("last=%d lowest=%d", last, lowest)
	}
	if avg != 75 {
		t.Errorf("avg: got %d, want 75", avg)
	}
}

// TestSenderPriority pops higher priorities first and keeps FIFO order
// within one priority.
func TestSenderPriority(t *testing.T) {
	s := &sender{wake: make(chan struct{}, 1), tracker: stats.NewTracker()}
	for i := range s.queues {
		s.queues[i] = queue.New()
	}

	push := func(p protocol.Priority, tag byte) {
		s.push(&outgoing{priority: p, data: []byte{tag}, size: 1})
	}
	push(protocol.PriorityLow, 'a')
	push(protocol.PriorityHigh, 'b')
	push(protocol.PriorityImmediate, 'c')
	push(protocol.PriorityHigh, 'd')
	push(protocol.PriorityMedium, 'e')

	st := s.tracker.Snapshot()
	if st.MessagesQueued(protocol.PriorityHigh) != 2 {
		t.Errorf("queued at high: got %d", st.MessagesQueued(protocol.PriorityHigh))
	}

	var got []byte
	for o := s.next(); o != nil; o = s.next() {
		got = append(got, o.data[0])
	}
	if string(got) != "cbdea" {
		t.Errorf("order: got %q, want %q", got, "cbdea")
	}
}
