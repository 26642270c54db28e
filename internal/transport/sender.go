package transport

import (
	"context"
	"sync"

	"github.com/eapache/queue"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/stats"
	"github.com/1ureka/rakpeer/internal/util"
)

const (
	highWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
)

// Shaper limits how fast a sender may write. Wait blocks until n more bytes
// are allowed or ctx ends.
type Shaper interface {
	Wait(ctx context.Context, n int) error
}

type outgoing struct {
	channel  channelKind
	priority protocol.Priority
	data     []byte
	size     int       // payload size, for the queue statistics
	sent     chan bool // optional; receives whether the write succeeded
}

// sender is the single writer for all data channels of a Link. Messages
// wait in one FIFO per priority and leave highest priority first.
type sender struct {
	mu     sync.Mutex
	queues [protocol.PriorityCount]*queue.Queue
	wake   chan struct{}
	drain  [channelCount]chan struct{}

	tracker *stats.Tracker
	shaper  Shaper
}

// newSender wires the backpressure callbacks on dcs and starts the write
// loop, which waits for open and exits when ctx is cancelled.
func newSender(ctx context.Context, dcs [channelCount]*webrtc.DataChannel, open <-chan struct{}, tracker *stats.Tracker, shaper Shaper) *sender {
	s := &sender{
		wake:    make(chan struct{}, 1),
		tracker: tracker,
		shaper:  shaper,
	}
	for i := range s.queues {
		s.queues[i] = queue.New()
	}
	for i, dc := range dcs {
		signal := make(chan struct{}, 1)
		s.drain[i] = signal
		dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
		dc.OnBufferedAmountLow(func() {
			select {
			case signal <- struct{}{}:
			default:
			}
		})
	}

	go s.loop(ctx, dcs, open)
	return s
}

// push queues o without blocking.
func (s *sender) push(o *outgoing) {
	if int(o.priority) >= protocol.PriorityCount {
		o.priority = protocol.PriorityLow
	}
	p := o.priority
	s.mu.Lock()
	s.queues[p].Add(o)
	s.mu.Unlock()
	s.tracker.Enqueue(p, o.size)

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest message of the highest non-empty priority.
func (s *sender) next() *outgoing {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queues {
		if q.Length() > 0 {
			return q.Remove().(*outgoing)
		}
	}
	return nil
}

func (s *sender) loop(ctx context.Context, dcs [channelCount]*webrtc.DataChannel, open <-chan struct{}) {
	select {
	case <-open:
	case <-ctx.Done():
		return
	}

	for {
		o := s.next()
		if o == nil {
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		s.tracker.Dequeue(o.priority, o.size)

		ok := s.write(ctx, dcs[o.channel], o)
		if o.sent != nil {
			o.sent <- ok
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *sender) write(ctx context.Context, dc *webrtc.DataChannel, o *outgoing) bool {
	if s.shaper != nil {
		if err := s.shaper.Wait(ctx, len(o.data)); err != nil {
			return false
		}
	}
	if dc.BufferedAmount() > uint64(highWaterMark) {
		select {
		case <-s.drain[o.channel]:
		case <-ctx.Done():
			return false
		}
	}

	if err := dc.Send(o.data); err != nil {
		util.LogDebug("send on %s failed: %v", dc.Label(), err)
		return false
	}

	n := uint64(len(o.data))
	s.tracker.Add(stats.ActualBytesSent, n)
	s.tracker.Add(stats.ActualMessagesSent, 1)
	if o.size > 0 {
		s.tracker.Add(stats.BytesSent, uint64(o.size))
		s.tracker.Add(stats.MessagesSent, 1)
	}
	return true
}

// bufferedBytes returns the bytes waiting in the SCTP send buffers of the
// reliable channels.
func bufferedBytes(dcs [channelCount]*webrtc.DataChannel) uint64 {
	var n uint64
	for i, dc := range dcs {
		if channelSpecs[i].reliable {
			n += dc.BufferedAmount()
		}
	}
	return n
}
