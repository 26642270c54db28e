// Package transport carries session messages between two peers over one
// WebRTC PeerConnection. Each Link negotiates four data channels, one per
// delivery class (reliable ordered, reliable, unreliable sequenced and
// unreliable), and leaves retransmission and ordering to SCTP.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/stats"
	"github.com/1ureka/rakpeer/internal/util"
)

// DefaultSTUNServers are used when Config.ICEServers is nil. No TURN: links
// are meant to be direct.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

const (
	defaultPingInterval = time.Second
	byeTimeout          = 500 * time.Millisecond
)

// ErrClosed is returned by Send once the Link is done.
var ErrClosed = errors.New("transport: link closed")

// Config tunes a Link.
type Config struct {
	// ICEServers lists STUN/TURN URLs. Nil selects DefaultSTUNServers; an
	// empty slice gathers host candidates only.
	ICEServers []string

	// Shaper, when set, caps the outgoing byte rate.
	Shaper Shaper

	PingInterval time.Duration
}

// Link is a PeerConnection with its data channels, a priority sender and
// round trip tracking.
//
// Its lifecycle is governed by the data channels and the context passed at
// construction: the Link is done when any channel closes, the connection
// fails, or ctx is cancelled.
type Link struct {
	pc     *webrtc.PeerConnection
	dcs    [channelCount]*webrtc.DataChannel
	sender *sender

	tracker *stats.Tracker
	rtt     rttSamples
	seq     seqGen
	filter  seqFilter
	epoch   time.Time

	ready  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	onMessage func(data []byte)
	onBye     func(message string)
	pcState   webrtc.PeerConnectionState
	byeOnce   sync.Once
	peerBye   atomic.Bool
}

// NewLink creates a Link in the new state. The caller drives signaling
// through the SDP/ICE methods and uses Send and OnMessage once Ready fires.
func NewLink(ctx context.Context, cfg Config) (*Link, error) {
	pc, err := newPeerConnection(cfg.ICEServers)
	if err != nil {
		return nil, err
	}
	dcs, err := newDataChannels(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	lCtx, lCancel := context.WithCancel(ctx)
	l := &Link{
		pc:      pc,
		dcs:     dcs,
		tracker: stats.NewTracker(),
		epoch:   time.Now(),
		ready:   make(chan struct{}),
		ctx:     lCtx,
		cancel:  lCancel,
		pcState: webrtc.PeerConnectionStateNew,
	}

	// The link is ready once every channel is open.
	var opened atomic.Int32
	var readyOnce sync.Once
	for i, dc := range dcs {
		kind := channelKind(i)
		dc.OnOpen(func() {
			if opened.Add(1) == int32(channelCount) {
				readyOnce.Do(func() { close(l.ready) })
			}
		})
		dc.OnClose(func() {
			util.LogDebug("DataChannel %s closed", channelSpecs[kind].label)
			lCancel()
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			l.receive(kind, msg.Data)
		})
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		l.mu.Lock()
		l.pcState = state
		l.mu.Unlock()
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			lCancel()
		}
	})

	l.sender = newSender(lCtx, dcs, l.ready, l.tracker, cfg.Shaper)

	interval := cfg.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	go l.pingLoop(interval)

	return l, nil
}

func newPeerConnection(servers []string) (*webrtc.PeerConnection, error) {
	if servers == nil {
		servers = DefaultSTUNServers
	}
	var config webrtc.Configuration
	if len(servers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: servers}}
	}
	return webrtc.NewPeerConnection(config)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when every data channel is open.
func (l *Link) Ready() <-chan struct{} {
	return l.ready
}

// Done returns a channel that is closed when the Link shuts down.
func (l *Link) Done() <-chan struct{} {
	return l.ctx.Done()
}

// ClosedByPeer reports whether the remote side said goodbye before the
// Link went down.
func (l *Link) ClosedByPeer() bool {
	return l.peerBye.Load()
}

// Shutdown says goodbye with message, waits briefly for it to leave, then
// closes the Link.
func (l *Link) Shutdown(message string) error {
	select {
	case <-l.ready:
		sent := make(chan bool, 1)
		l.sender.push(&outgoing{
			channel:  channelReliableOrdered,
			priority: protocol.PriorityImmediate,
			data:     encodeFrame(frame{kind: frameBye, message: message}, false),
			sent:     sent,
		})
		select {
		case <-sent:
			// give SCTP a moment to flush the goodbye
			l.waitFlushed(byeTimeout)
		case <-time.After(byeTimeout):
		case <-l.ctx.Done():
		}
	default:
	}
	return l.Close()
}

func (l *Link) waitFlushed(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if l.dcs[channelReliableOrdered].BufferedAmount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Close tears the Link down without a goodbye.
func (l *Link) Close() error {
	l.cancel()
	var errs []error
	for _, dc := range l.dcs {
		errs = append(errs, dc.Close())
	}
	errs = append(errs, l.pc.Close())
	return errors.Join(errs...)
}

// ConnectionState returns the last observed PeerConnection state.
func (l *Link) ConnectionState() webrtc.PeerConnectionState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pcState
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (l *Link) CreateOffer() (webrtc.SessionDescription, error) {
	return l.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (l *Link) CreateAnswer() (webrtc.SessionDescription, error) {
	return l.pc.CreateAnswer(nil)
}

func (l *Link) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetLocalDescription(sdp)
}

func (l *Link) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback for every gathered local candidate.
// A nil candidate signals the end of gathering.
func (l *Link) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	l.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote candidate received through signaling.
func (l *Link) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Send queues data on the channel matching reliability. It never blocks.
func (l *Link) Send(data []byte, priority protocol.Priority, reliability protocol.Reliability) error {
	if l.ctx.Err() != nil {
		return ErrClosed
	}
	ch := channelFor(reliability)
	f := frame{kind: frameData, payload: data}
	if channelSpecs[ch].sequenced {
		f.seq = l.seq.next()
	}

	n := uint64(len(data))
	l.tracker.Add(stats.BytesPushed, n)
	l.sender.push(&outgoing{
		channel:  ch,
		priority: priority,
		data:     encodeFrame(f, channelSpecs[ch].sequenced),
		size:     len(data),
	})
	return nil
}

// OnMessage registers the callback for inbound payloads. It runs on pion's
// goroutines and must not block.
func (l *Link) OnMessage(fn func(data []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onMessage = fn
}

// OnBye registers the callback for the peer's goodbye message.
func (l *Link) OnBye(fn func(message string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onBye = fn
}

func (l *Link) receive(kind channelKind, data []byte) {
	spec := channelSpecs[kind]
	l.tracker.Add(stats.ActualBytesReceived, uint64(len(data)))
	l.tracker.Add(stats.ActualMessagesReceived, 1)

	f, err := decodeFrame(data, spec.sequenced)
	if err != nil {
		l.tracker.Add(stats.BytesReceivedIgnored, uint64(len(data)))
		util.LogDebug("dropping frame on %s: %v", spec.label, err)
		return
	}

	switch f.kind {
	case frameData:
		if spec.sequenced {
			ok, skipped := l.filter.accept(f.seq)
			l.tracker.RecordBatch(uint64(skipped)+1, uint64(skipped))
			if !ok {
				l.tracker.Add(stats.BytesReceivedIgnored, uint64(len(f.payload)))
				return
			}
		}
		if len(f.payload) == 0 {
			return
		}
		l.tracker.Add(stats.BytesReceivedProcessed, uint64(len(f.payload)))
		l.mu.RLock()
		fn := l.onMessage
		l.mu.RUnlock()
		if fn != nil {
			fn(f.payload)
		}

	case framePing:
		l.sender.push(&outgoing{
			channel:  channelUnreliable,
			priority: protocol.PriorityImmediate,
			data:     encodeFrame(frame{kind: framePong, stamp: f.stamp}, false),
		})

	case framePong:
		l.rtt.add(time.Since(l.epoch) - time.Duration(f.stamp))

	case frameBye:
		l.byeOnce.Do(func() {
			l.peerBye.Store(true)
			l.mu.RLock()
			fn := l.onBye
			l.mu.RUnlock()
			if fn != nil {
				fn(f.message)
			}
			l.cancel()
		})
	}
}

func (l *Link) pingLoop(interval time.Duration) {
	select {
	case <-l.ready:
	case <-l.ctx.Done():
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		l.sender.push(&outgoing{
			channel:  channelUnreliable,
			priority: protocol.PriorityImmediate,
			data:     encodeFrame(frame{kind: framePing, stamp: uint64(time.Since(l.epoch))}, false),
		})
		select {
		case <-ticker.C:
		case <-l.ctx.Done():
			return
		}
	}
}

// Ping returns the last round trip in milliseconds, or -1 before the first.
func (l *Link) Ping() int {
	last, _, _ := l.rtt.get()
	return last
}

func (l *Link) AveragePing() int {
	_, avg, _ := l.rtt.get()
	return avg
}

func (l *Link) LowestPing() int {
	_, _, lowest := l.rtt.get()
	return lowest
}

// Statistics returns a snapshot of the Link's counters.
func (l *Link) Statistics() stats.Statistics {
	l.tracker.SetResendBuffer(0, bufferedBytes(l.dcs))
	return l.tracker.Snapshot()
}

// SetBandwidthLimit records the shaper ceiling in the statistics.
func (l *Link) SetBandwidthLimit(bps uint64) {
	l.tracker.SetBandwidthLimit(bps)
}
