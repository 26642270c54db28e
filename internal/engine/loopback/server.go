package loopback

import (
	"errors"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/1ureka/rakpeer/internal/engine"
	"github.com/1ureka/rakpeer/internal/engine/admission"
	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/stats"
)

var errQueryDisabled = errors.New("loopback: server does not answer queries")

type peer struct {
	client  *Client
	address string
	tracker *stats.Tracker
}

// outgoing is a server message held back by the bandwidth shaper.
type outgoing struct {
	guid uint64
	data []byte
	opts engine.SendOptions
}

// Server is a loopback server engine. It implements engine.Server.
type Server struct {
	net    *Network
	guid   uint64
	gate   *admission.Gate
	shaper *admission.Shaper
	inbox  *engine.Inbox

	mu      sync.Mutex
	started bool
	closed  bool
	host    string
	port    uint16
	peers   map[uint64]*peer
	order   []uint64
	outbox  *queue.Queue

	queryAllowed  bool
	queryResponse []byte
}

var _ engine.Server = (*Server)(nil)

// NewServer creates a stopped server on the network.
func (n *Network) NewServer() *Server {
	return &Server{
		net:    n,
		guid:   engine.NewGUID(),
		gate:   admission.NewGate(n.now),
		shaper: admission.NewShaper(n.now),
		inbox:  engine.NewInbox(),
		peers:  make(map[uint64]*peer),
		outbox: queue.New(),
	}
}

func (s *Server) Start(cfg engine.StartConfig) engine.StartResult {
	if s == nil {
		return engine.ServerPointerIsNull
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || cfg.MaxConnections < 1 {
		return engine.ServerInitError
	}
	if s.started {
		return engine.IsAlreadyStarted
	}

	host := wildcardHost
	if cfg.Address != "" && cfg.Address != wildcardHost {
		h, ok := resolve(cfg.Address)
		if !ok {
			return engine.BindingError
		}
		host = h
	}
	port, err := s.net.bind(s, host, cfg.Port)
	if err != nil {
		return engine.PortIsAlreadyUse
	}

	s.gate.Configure(cfg.Password, cfg.MaxConnections, cfg.Insecure)
	s.host, s.port = host, port
	s.started = true
	return engine.Started
}

// Stop disconnects every peer with message and releases the port.
func (s *Server) Stop(message string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	peers := s.orderedPeers()
	s.peers = make(map[uint64]*peer)
	s.order = nil
	s.outbox = queue.New()
	host, port := s.host, s.port
	s.mu.Unlock()

	s.net.unbind(host, port)
	s.inbox.Clear()
	for _, p := range peers {
		p.client.detach(s, engine.ControlPacket(protocol.IDDisconnectionNotification, message))
	}
}

// orderedPeers returns peers in join order. Caller holds mu.
func (s *Server) orderedPeers() []*peer {
	out := make([]*peer, 0, len(s.order))
	for _, g := range s.order {
		if p, ok := s.peers[g]; ok {
			out = append(out, p)
		}
	}
	return out
}

// removePeer drops guid and returns its entry. Caller holds mu.
func (s *Server) removePeer(guid uint64) *peer {
	p, ok := s.peers[guid]
	if !ok {
		return nil
	}
	delete(s.peers, guid)
	for i, g := range s.order {
		if g == guid {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return p
}

// admit runs the admission rules for c and registers it on success.
func (s *Server) admit(c *Client, req admission.Request) protocol.MessageID {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return protocol.IDConnectionAttemptFailed
	}
	id := s.gate.Check(req, len(s.peers), func(g uint64) bool {
		_, ok := s.peers[g]
		return ok
	})
	if id == protocol.IDConnectionRequestAccepted {
		s.peers[c.guid] = &peer{client: c, address: req.Address, tracker: stats.NewTrackerWithClock(s.net.now)}
		s.order = append(s.order, c.guid)
	}
	s.mu.Unlock()

	if id == protocol.IDConnectionRequestAccepted {
		s.pushFrom(c.guid, req.Address, engine.ControlPacket(protocol.IDNewIncomingConnection, ""))
	}
	return id
}

// peerLeft handles a graceful disconnect initiated by the client.
func (s *Server) peerLeft(guid uint64) {
	s.mu.Lock()
	p := s.removePeer(guid)
	s.mu.Unlock()
	if p != nil {
		s.pushFrom(guid, p.address, engine.ControlPacket(protocol.IDDisconnectionNotification, ""))
	}
}

// DropConnection severs guid without a goodbye, as if the link died. Both
// sides receive IDConnectionLost.
func (s *Server) DropConnection(guid uint64) {
	s.mu.Lock()
	p := s.removePeer(guid)
	s.mu.Unlock()
	if p == nil {
		return
	}
	s.pushFrom(guid, p.address, engine.ControlPacket(protocol.IDConnectionLost, ""))
	p.client.detach(s, engine.ControlPacket(protocol.IDConnectionLost, ""))
}

func (s *Server) pushFrom(guid uint64, address string, data []byte) {
	s.inbox.Push(&engine.Packet{
		Data:        data,
		GUID:        guid,
		Address:     address,
		ReceiveTime: s.net.stamp(),
	})
}

// receiveFrom accepts a user message sent by a connected client.
func (s *Server) receiveFrom(guid uint64, address string, data []byte) error {
	s.mu.Lock()
	p, ok := s.peers[guid]
	s.mu.Unlock()
	if !ok {
		return engine.ErrNotConnected
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	s.pushFrom(guid, address, buf)

	n := uint64(len(data))
	p.tracker.Add(stats.ActualBytesReceived, n)
	p.tracker.Add(stats.ActualMessagesReceived, 1)
	p.tracker.Add(stats.BytesReceivedProcessed, n)
	return nil
}

// Receive flushes messages the shaper now allows, then pops one packet.
func (s *Server) Receive() (*engine.Packet, error) {
	if s == nil {
		return nil, engine.ErrUnavailable
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, engine.ErrUnavailable
	}
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil, nil
	}

	s.flush()
	return s.inbox.Pop(), nil
}

func (s *Server) Release(p *engine.Packet) {
	if p != nil {
		p.Data = nil
	}
}

func (s *Server) Send(guid uint64, data []byte, opts engine.SendOptions) error {
	if s == nil {
		return engine.ErrUnavailable
	}
	s.mu.Lock()
	if s.closed || !s.started {
		s.mu.Unlock()
		return engine.ErrUnavailable
	}
	p, ok := s.peers[guid]
	if !ok {
		s.mu.Unlock()
		return engine.ErrNotConnected
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	n := uint64(len(buf))
	p.tracker.Add(stats.BytesPushed, n)

	if s.outbox.Length() > 0 || !s.shaper.Allow(len(buf)) {
		s.outbox.Add(&outgoing{guid: guid, data: buf, opts: opts})
		p.tracker.Enqueue(opts.Priority, len(buf))
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.deliver(p, buf, opts)
	return nil
}

// flush delivers held-back messages while the shaper has budget.
func (s *Server) flush() {
	for {
		s.mu.Lock()
		if s.outbox.Length() == 0 {
			s.mu.Unlock()
			return
		}
		o := s.outbox.Peek().(*outgoing)
		if !s.shaper.Allow(len(o.data)) {
			s.mu.Unlock()
			return
		}
		s.outbox.Remove()
		p, ok := s.peers[o.guid]
		s.mu.Unlock()

		if ok {
			p.tracker.Dequeue(o.opts.Priority, len(o.data))
			s.deliver(p, o.data, o.opts)
		}
	}
}

func (s *Server) deliver(p *peer, data []byte, opts engine.SendOptions) {
	n := uint64(len(data))
	p.tracker.Add(stats.BytesSent, n)
	p.tracker.Add(stats.MessagesSent, 1)
	p.tracker.Add(stats.ActualBytesSent, n)
	p.tracker.Add(stats.ActualMessagesSent, 1)

	if !opts.Reliability.IsReliable() {
		p.tracker.RecordSent()
		if s.net.dropUnreliable() {
			p.tracker.RecordLost()
			return
		}
	}
	p.client.push(s, data)
}

func (s *Server) Broadcast(data []byte, opts engine.SendOptions, except uint64) error {
	if s == nil {
		return engine.ErrUnavailable
	}
	s.mu.Lock()
	if s.closed || !s.started {
		s.mu.Unlock()
		return engine.ErrUnavailable
	}
	guids := make([]uint64, 0, len(s.order))
	for _, g := range s.order {
		if g != except {
			guids = append(guids, g)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, g := range guids {
		if err := s.Send(g, data, opts); err != nil && !errors.Is(err, engine.ErrNotConnected) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CloseConnection ends the session with guid. With notify the peer receives
// IDDisconnectionNotification carrying message; without it the peer sees the
// link drop.
func (s *Server) CloseConnection(guid uint64, notify bool, message string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	p := s.removePeer(guid)
	s.mu.Unlock()
	if p == nil {
		return
	}
	if notify {
		p.client.detach(s, engine.ControlPacket(protocol.IDDisconnectionNotification, message))
	} else {
		p.client.detach(s, engine.ControlPacket(protocol.IDConnectionLost, ""))
	}
}

func (s *Server) GUID() uint64 { return s.guid }

func (s *Server) BoundAddress() (string, uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host, s.port
}

func (s *Server) RemoteAddress(guid uint64) (string, uint16, bool) {
	s.mu.Lock()
	p, ok := s.peers[guid]
	s.mu.Unlock()
	if !ok {
		return "", 0, false
	}
	ap, err := netip.ParseAddrPort(p.address)
	if err != nil {
		host, port, _ := net.SplitHostPort(p.address)
		n, _ := strconv.Atoi(port)
		return host, uint16(n), true
	}
	return ap.Addr().String(), ap.Port(), true
}

func (s *Server) Ping(guid uint64) int {
	s.mu.Lock()
	_, ok := s.peers[guid]
	s.mu.Unlock()
	if !ok {
		return -1
	}
	return s.net.ping()
}

func (s *Server) AveragePing(guid uint64) int { return s.Ping(guid) }
func (s *Server) LowestPing(guid uint64) int  { return s.Ping(guid) }

func (s *Server) Statistics(guid uint64) (stats.Statistics, bool) {
	s.mu.Lock()
	p, ok := s.peers[guid]
	s.mu.Unlock()
	if !ok {
		return stats.Statistics{}, false
	}
	st := p.tracker.Snapshot()
	if bps := s.shaper.Limit(); bps > 0 {
		st.BandwidthLimited = true
		st.BandwidthLimitBPS = bps
	}
	return st, true
}

func (s *Server) SetPassword(password string) { s.gate.SetPassword(password) }
func (s *Server) HasPassword() bool           { return s.gate.HasPassword() }
func (s *Server) SetMaxConnections(n int)     { s.gate.SetMaxConnections(n) }
func (s *Server) MaxConnections() int         { return s.gate.MaxConnections() }

func (s *Server) AddBan(pattern string, d time.Duration) error { return s.gate.Bans.Add(pattern, d) }
func (s *Server) RemoveBan(pattern string)                    { s.gate.Bans.Remove(pattern) }
func (s *Server) IsBanned(address string) bool                { return s.gate.Bans.Contains(address) }
func (s *Server) ClearBans()                                  { s.gate.Bans.Clear() }

func (s *Server) SetBandwidthLimit(bytesPerSecond uint64) { s.shaper.SetLimit(bytesPerSecond) }
func (s *Server) SetConnectionFrequencyLimit(enabled bool) {
	s.gate.Frequency.SetEnabled(enabled)
}

func (s *Server) SetQueryAllowed(allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryAllowed = allowed
}

func (s *Server) SetQueryResponse(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryResponse = append([]byte(nil), payload...)
}

func (s *Server) queryReply() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || !s.queryAllowed {
		return nil, errQueryDisabled
	}
	return append([]byte(nil), s.queryResponse...), nil
}

// NumberOfConnections returns how many peers are connected.
func (s *Server) NumberOfConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Close stops the server and makes every later call report ErrUnavailable.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	s.Stop("")
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
