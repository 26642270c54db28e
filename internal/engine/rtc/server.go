package rtc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/1ureka/rakpeer/internal/engine"
	"github.com/1ureka/rakpeer/internal/engine/admission"
	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/signaling"
	"github.com/1ureka/rakpeer/internal/stats"
	"github.com/1ureka/rakpeer/internal/transport"
)

// peer is one admitted client. Messages that arrive before the server has
// announced the peer are held in early so NEW_INCOMING_CONNECTION always
// comes first.
type peer struct {
	guid    uint64
	address string
	link    *transport.Link

	mu     sync.Mutex
	joined bool
	early  [][]byte
	bye    string
}

// Server is a WebRTC server engine. It implements engine.Server.
type Server struct {
	cfg    Config
	guid   uint64
	gate   *admission.Gate
	shaper *admission.Shaper
	inbox  *engine.Inbox

	mu      sync.Mutex
	started bool
	closed  bool
	sig     *signaling.Server
	ctx     context.Context
	cancel  context.CancelFunc
	host    string
	port    uint16
	peers   map[uint64]*peer
	order   []uint64
	pending map[uint64]struct{} // admitted, link not yet open

	queryAllowed  bool
	queryResponse []byte
}

var _ engine.Server = (*Server)(nil)

// NewServer returns a stopped server.
func NewServer(cfg Config) *Server {
	return &Server{
		cfg:     cfg.withDefaults(),
		guid:    engine.NewGUID(),
		gate:    admission.NewGate(time.Now),
		shaper:  admission.NewShaper(time.Now),
		inbox:   engine.NewInbox(),
		peers:   make(map[uint64]*peer),
		pending: make(map[uint64]struct{}),
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
		h, ok := resolve(context.Background(), cfg.Address)
		if !ok {
			return engine.BindingError
		}
		host = h
	}
	sig := signaling.NewServer(s.handle, s.queryReply)
	port, err := sig.Listen(host, cfg.Port)
	if err != nil {
		log.Debug("%v", err)
		if isAddrInUse(err) {
			return engine.PortIsAlreadyUse
		}
		return engine.BindingError
	}

	s.gate.Configure(cfg.Password, cfg.MaxConnections, cfg.Insecure)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.sig = sig
	s.host, s.port = host, port
	s.started = true
	return engine.Started
}

// Stop says goodbye to every peer with message and closes the listener.
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
	s.pending = make(map[uint64]struct{})
	sig, cancel := s.sig, s.cancel
	s.sig = nil
	s.mu.Unlock()

	s.inbox.Clear()
	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.link.Shutdown(message)
		}()
	}
	wg.Wait()

	// aborts exchanges still in flight so their handlers return
	cancel()
	if err := sig.Close(); err != nil {
		log.Debug("closing signaling server: %v", err)
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

// handle runs one signaling connection: admission, then the SDP exchange.
func (s *Server) handle(conn *signaling.Conn) {
	hello, err := conn.ReceiveWithin(s.cfg.Timeout)
	if err != nil || hello.Type != signaling.MsgTypeHello {
		return
	}
	req := admission.Request{
		GUID:            hello.GUID,
		Address:         conn.RemoteAddr(),
		Password:        hello.Password,
		ProtocolVersion: hello.Version,
		Secure:          hello.Secure,
	}

	id, ctx := s.admit(req)
	if id != protocol.IDConnectionRequestAccepted {
		log.Debug("refusing %s: %s", req.Address, protocol.Name(id))
		_ = conn.Send(signaling.Message{Type: signaling.MsgTypeReject, Reason: id})
		return
	}

	p, err := s.open(ctx, conn, req)
	if err != nil {
		log.Debug("connection from %s failed: %v", req.Address, err)
		s.mu.Lock()
		delete(s.pending, req.GUID)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	delete(s.pending, req.GUID)
	if !s.started || s.ctx != ctx {
		s.mu.Unlock()
		p.link.Close()
		return
	}
	s.peers[p.guid] = p
	s.order = append(s.order, p.guid)
	s.mu.Unlock()

	s.join(p)
	go s.watch(p)
}

// admit checks req against the gate, reserving a slot on success.
func (s *Server) admit(req admission.Request) (protocol.MessageID, context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return protocol.IDConnectionAttemptFailed, nil
	}
	id := s.gate.Check(req, len(s.peers)+len(s.pending), func(g uint64) bool {
		_, connected := s.peers[g]
		_, pending := s.pending[g]
		return connected || pending
	})
	if id == protocol.IDConnectionRequestAccepted {
		s.pending[req.GUID] = struct{}{}
	}
	return id, s.ctx
}

// open accepts the peer and brings its link up.
func (s *Server) open(ctx context.Context, conn *signaling.Conn, req admission.Request) (*peer, error) {
	if err := conn.Send(signaling.Message{Type: signaling.MsgTypeAccept, GUID: s.guid}); err != nil {
		return nil, err
	}

	tl, err := transport.NewLink(ctx, s.cfg.link(s.shaper))
	if err != nil {
		return nil, err
	}
	tl.SetBandwidthLimit(s.shaper.Limit())
	p := &peer{guid: req.GUID, address: req.Address, link: tl}
	tl.OnMessage(p.deliver(s))
	tl.OnBye(func(message string) {
		p.mu.Lock()
		p.bye = message
		p.mu.Unlock()
	})

	ectx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := signaling.Offer(ectx, conn, tl); err != nil {
		tl.Close()
		return nil, err
	}
	return p, nil
}

// deliver returns the link callback that hands p's messages to the inbox.
func (p *peer) deliver(s *Server) func([]byte) {
	return func(data []byte) {
		data = append([]byte(nil), data...)
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.joined {
			p.early = append(p.early, data)
			return
		}
		s.pushFrom(p.guid, p.address, data)
	}
}

// join announces p and releases the messages it sent meanwhile.
func (s *Server) join(p *peer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.pushFrom(p.guid, p.address, engine.ControlPacket(protocol.IDNewIncomingConnection, ""))
	for _, data := range p.early {
		s.pushFrom(p.guid, p.address, data)
	}
	p.early = nil
	p.joined = true
}

// watch reports the end of p's link unless the server dropped it first.
func (s *Server) watch(p *peer) {
	<-p.link.Done()

	s.mu.Lock()
	current := s.peers[p.guid] == p
	if current {
		s.removePeer(p.guid)
	}
	s.mu.Unlock()
	if !current {
		return
	}

	data := engine.ControlPacket(protocol.IDConnectionLost, "")
	if p.link.ClosedByPeer() {
		p.mu.Lock()
		data = engine.ControlPacket(protocol.IDDisconnectionNotification, p.bye)
		p.mu.Unlock()
	}
	s.pushFrom(p.guid, p.address, data)
	p.link.Close()
}

func (s *Server) pushFrom(guid uint64, address string, data []byte) {
	s.inbox.Push(&engine.Packet{
		Data:        data,
		GUID:        guid,
		Address:     address,
		ReceiveTime: stamp(),
	})
}

func (s *Server) Receive() (*engine.Packet, error) {
	if s == nil {
		return nil, engine.ErrUnavailable
	}
	s.mu.Lock()
	closed, started := s.closed, s.started
	s.mu.Unlock()
	if closed {
		return nil, engine.ErrUnavailable
	}
	if !started {
		return nil, nil
	}
	return s.inbox.Pop(), nil
}

func (s *Server) Release(p *engine.Packet) {
	if p != nil {
		p.Data = nil
	}
}

func (s *Server) lookup(guid uint64) (*peer, error) {
	if s == nil {
		return nil, engine.ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.started {
		return nil, engine.ErrUnavailable
	}
	p, ok := s.peers[guid]
	if !ok {
		return nil, engine.ErrNotConnected
	}
	return p, nil
}

func (s *Server) Send(guid uint64, data []byte, opts engine.SendOptions) error {
	p, err := s.lookup(guid)
	if err != nil {
		return err
	}
	if err := p.link.Send(data, opts.Priority, opts.Reliability); err != nil {
		return engine.ErrNotConnected
	}
	return nil
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

// CloseConnection ends the session with guid. With notify the peer is sent
// a goodbye carrying message; without it the link is simply closed.
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
		go p.link.Shutdown(message)
		return
	}
	p.link.Close()
}

func (s *Server) GUID() uint64 { return s.guid }

func (s *Server) BoundAddress() (string, uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host, s.port
}

func (s *Server) RemoteAddress(guid uint64) (string, uint16, bool) {
	p, err := s.lookup(guid)
	if err != nil {
		return "", 0, false
	}
	host, port := splitHostPort(p.address)
	return host, port, true
}

func (s *Server) Ping(guid uint64) int {
	p, err := s.lookup(guid)
	if err != nil {
		return -1
	}
	return p.link.Ping()
}

func (s *Server) AveragePing(guid uint64) int {
	p, err := s.lookup(guid)
	if err != nil {
		return -1
	}
	return p.link.AveragePing()
}

func (s *Server) LowestPing(guid uint64) int {
	p, err := s.lookup(guid)
	if err != nil {
		return -1
	}
	return p.link.LowestPing()
}

func (s *Server) Statistics(guid uint64) (stats.Statistics, bool) {
	p, err := s.lookup(guid)
	if err != nil {
		return stats.Statistics{}, false
	}
	return p.link.Statistics(), true
}

func (s *Server) SetPassword(password string) { s.gate.SetPassword(password) }
func (s *Server) HasPassword() bool           { return s.gate.HasPassword() }
func (s *Server) SetMaxConnections(n int)     { s.gate.SetMaxConnections(n) }
func (s *Server) MaxConnections() int         { return s.gate.MaxConnections() }

func (s *Server) AddBan(pattern string, d time.Duration) error { return s.gate.Bans.Add(pattern, d) }
func (s *Server) RemoveBan(pattern string)                    { s.gate.Bans.Remove(pattern) }
func (s *Server) IsBanned(address string) bool                { return s.gate.Bans.Contains(address) }
func (s *Server) ClearBans()                                  { s.gate.Bans.Clear() }

// SetBandwidthLimit caps the combined outgoing rate of every link.
func (s *Server) SetBandwidthLimit(bytesPerSecond uint64) {
	s.shaper.SetLimit(bytesPerSecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.peers {
		p.link.SetBandwidthLimit(bytesPerSecond)
	}
}

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

func (s *Server) queryReply() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || !s.queryAllowed {
		return nil, false
	}
	return append([]byte(nil), s.queryResponse...), true
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
