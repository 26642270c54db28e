package session

import (
	"time"

	"github.com/1ureka/rakpeer/internal/bitstream"
	"github.com/1ureka/rakpeer/internal/engine"
	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/stats"
)

// ServerState is the lifecycle of a server session.
type ServerState int

const (
	ServerNotStarted ServerState = iota
	ServerStarted
	ServerStopped
)

func (s ServerState) String() string {
	switch s {
	case ServerNotStarted:
		return "not started"
	case ServerStarted:
		return "started"
	case ServerStopped:
		return "stopped"
	}
	return "unknown"
}

// Server is the server side of a session.
type Server struct {
	eng       engine.Server
	d         dispatcher
	listeners listeners[ServerListener]
	registry  *Registry
	state     ServerState

	// OnStopped, when set, runs at the end of Stop.
	OnStopped func()
}

// NewServer returns a server session over eng that has not started yet.
// A nil eng is allowed; every call then reports the engine as missing.
func NewServer(eng engine.Server) *Server {
	return &Server{
		eng:      eng,
		d:        newDispatcher("server"),
		registry: NewRegistry(),
	}
}

// Subscribe adds l after the existing listeners and returns a function that
// removes it again.
func (s *Server) Subscribe(l ServerListener) (unsubscribe func()) {
	return s.listeners.add(l)
}

func (s *Server) State() ServerState { return s.state }

// Start asks the engine to listen and returns its answer unchanged. Only
// engine.Started moves the session to ServerStarted.
func (s *Server) Start(cfg engine.StartConfig) engine.StartResult {
	if s.eng == nil {
		s.d.unavailable("start", engine.ErrUnavailable)
		return engine.ServerPointerIsNull
	}
	res := s.eng.Start(cfg)
	if res != engine.Started {
		s.d.log.Warn("Start failed: %s", res)
		return res
	}

	s.state = ServerStarted
	s.registry.Clear()
	host, port := s.eng.BoundAddress()
	s.d.log.Info("Listening on %s:%d (max %d connections)", host, port, cfg.MaxConnections)
	return res
}

// Stop disconnects every peer with message and stops the engine. Registry
// entries are dropped without calling OnDisconnected. It does nothing unless
// the server is started.
func (s *Server) Stop(message string) {
	if s.state != ServerStarted {
		return
	}
	if s.eng != nil {
		s.eng.Stop(message)
	}
	s.registry.Clear()
	s.state = ServerStopped
	s.d.log.Info("Stopped")

	if s.OnStopped != nil {
		s.OnStopped()
	}
}

// Tick drains the engine and refreshes every peer's statistics.
func (s *Server) Tick() {
	if s.eng == nil {
		s.d.unavailable("tick", engine.ErrUnavailable)
		return
	}
	if !s.d.drain(s.eng.Receive, s.eng.Release, s.handle) {
		return
	}

	s.registry.Each(func(c *Connection) {
		if st, ok := s.eng.Statistics(c.GUID); ok {
			c.Statistics = st
		}
	})
}

func (s *Server) handle(p *engine.Packet, id protocol.MessageID, b *bitstream.BitStream) {
	if !protocol.IsUser(id) {
		s.control(p, id, b)
		return
	}

	c, ok := s.registry.Get(p.GUID)
	if !ok {
		s.d.log.Debug("Dropping message %d from unknown peer %016x", id, p.GUID)
		return
	}
	index, guid := c.Index, c.GUID
	s.listeners.each(func(l ServerListener) {
		rewind(b)
		l.OnReceived(id, index, guid, b, p.ReceiveTime)
	})
}

func (s *Server) control(p *engine.Packet, id protocol.MessageID, b *bitstream.BitStream) {
	if id == protocol.IDNewIncomingConnection {
		s.connected(p)
		return
	}

	reason, ok := protocol.ServerDisconnectReason(id)
	if !ok {
		s.d.log.Debug("Ignoring %s from %016x", protocol.Name(id), p.GUID)
		return
	}
	s.remove(p.GUID, reason, b.ReadString())
}

func (s *Server) connected(p *engine.Packet) {
	if _, ok := s.registry.Get(p.GUID); ok {
		return
	}
	host, port, ok := s.eng.RemoteAddress(p.GUID)
	if !ok {
		host = p.Address
	}
	c, ok := s.registry.Add(p.GUID, host, port)
	if !ok {
		s.d.log.Warn("Registry full, closing %016x", p.GUID)
		s.eng.CloseConnection(p.GUID, true, "")
		return
	}
	c.State = ConnectionConnected
	s.d.log.Info("Peer %016x connected from %s:%d as #%d", c.GUID, host, port, c.Index)

	index, guid := c.Index, c.GUID
	s.listeners.each(func(l ServerListener) {
		l.OnConnected(index, guid)
	})
}

// remove drops guid from the registry and reports the index it held.
func (s *Server) remove(guid uint64, reason protocol.DisconnectReason, message string) {
	c, ok := s.registry.Remove(guid)
	if !ok {
		return
	}
	s.d.log.Info("Peer %016x disconnected: %s", guid, reason)
	s.listeners.each(func(l ServerListener) {
		l.OnDisconnected(c.Index, guid, reason, message)
	})
}

// CloseConnection disconnects guid, optionally telling the peer message, and
// reports protocol.ReasonByUser to the listeners.
func (s *Server) CloseConnection(guid uint64, notify bool, message string) {
	if s.eng == nil {
		s.d.unavailable("close connection", engine.ErrUnavailable)
		return
	}
	s.eng.CloseConnection(guid, notify, message)
	s.remove(guid, protocol.ReasonByUser, message)
}

// NewMessage returns a pooled BitStream with id already written. Hand it to
// one of the send helpers, or to Release if it is never sent.
func (s *Server) NewMessage(id protocol.MessageID) *bitstream.BitStream {
	return s.d.message(id)
}

// Release returns a stream from NewMessage to the pool without sending it.
func (s *Server) Release(b *bitstream.BitStream) {
	s.d.pool.Release(b)
}

// send runs fn with the written bytes of b and releases b afterwards.
func (s *Server) send(site string, b *bitstream.BitStream, fn func(data []byte) error) error {
	defer s.d.pool.Release(b)
	if s.eng == nil {
		s.d.unavailable(site, engine.ErrUnavailable)
		return engine.ErrUnavailable
	}
	if !b.Valid() {
		return errInvalidStream
	}
	if err := fn(b.Bytes()); err != nil {
		return wrap(site, err)
	}
	return nil
}

// SendTo transmits b to guid and releases b.
func (s *Server) SendTo(guid uint64, b *bitstream.BitStream, opts engine.SendOptions) error {
	return s.send("send", b, func(data []byte) error {
		return s.eng.Send(guid, data, opts)
	})
}

// SendToAll transmits b to every peer and releases b.
func (s *Server) SendToAll(b *bitstream.BitStream, opts engine.SendOptions) error {
	return s.SendToAllExcept(0, b, opts)
}

// SendToAllExcept transmits b to every peer but except and releases b.
func (s *Server) SendToAllExcept(except uint64, b *bitstream.BitStream, opts engine.SendOptions) error {
	return s.send("broadcast", b, func(data []byte) error {
		return s.eng.Broadcast(data, opts, except)
	})
}

// Connection returns a copy of guid's registry entry.
func (s *Server) Connection(guid uint64) (Connection, bool) {
	c, ok := s.registry.Get(guid)
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// ConnectionAt returns a copy of the entry at index.
func (s *Server) ConnectionAt(index uint16) (Connection, bool) {
	c, ok := s.registry.At(index)
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// Connections returns copies of every entry in index order.
func (s *Server) Connections() []Connection {
	return s.registry.Snapshot()
}

func (s *Server) NumberOfConnections() int {
	return s.registry.Len()
}

// Index returns guid's current registry index.
func (s *Server) Index(guid uint64) (uint16, bool) {
	c, ok := s.registry.Get(guid)
	if !ok {
		return 0, false
	}
	return c.Index, true
}

// GUIDAt returns the GUID registered at index.
func (s *Server) GUIDAt(index uint16) (uint64, bool) {
	c, ok := s.registry.At(index)
	if !ok {
		return 0, false
	}
	return c.GUID, true
}

// Statistics returns the snapshot the last Tick took for guid.
func (s *Server) Statistics(guid uint64) (stats.Statistics, bool) {
	c, ok := s.registry.Get(guid)
	if !ok {
		return stats.Statistics{}, false
	}
	return c.Statistics, true
}

// Loss returns guid's last-second packet loss in percent.
func (s *Server) Loss(guid uint64) int {
	st, ok := s.Statistics(guid)
	if !ok {
		return 0
	}
	return st.PacketLoss()
}

func (s *Server) GUID() uint64 {
	if s.eng == nil {
		return 0
	}
	return s.eng.GUID()
}

// BoundAddress returns the address and port the engine listens on.
func (s *Server) BoundAddress() (string, uint16) {
	if s.eng == nil {
		return "", 0
	}
	return s.eng.BoundAddress()
}

// Address returns guid's remote address and port.
func (s *Server) Address(guid uint64) (string, uint16, bool) {
	c, ok := s.registry.Get(guid)
	if !ok {
		return "", 0, false
	}
	return c.Address, c.Port, true
}

func (s *Server) Ping(guid uint64) int {
	if s.eng == nil {
		return -1
	}
	return s.eng.Ping(guid)
}

func (s *Server) AveragePing(guid uint64) int {
	if s.eng == nil {
		return -1
	}
	return s.eng.AveragePing(guid)
}

func (s *Server) LowestPing(guid uint64) int {
	if s.eng == nil {
		return -1
	}
	return s.eng.LowestPing(guid)
}

// The administrative calls below forward to the engine and do nothing
// without one.

func (s *Server) SetPassword(password string) {
	if s.eng != nil {
		s.eng.SetPassword(password)
	}
}

func (s *Server) HasPassword() bool {
	return s.eng != nil && s.eng.HasPassword()
}

func (s *Server) SetMaxConnections(n int) {
	if s.eng != nil {
		s.eng.SetMaxConnections(n)
	}
}

func (s *Server) MaxConnections() int {
	if s.eng == nil {
		return 0
	}
	return s.eng.MaxConnections()
}

// AddBan bans an address pattern for d, or forever when d is zero.
func (s *Server) AddBan(pattern string, d time.Duration) error {
	if s.eng == nil {
		return engine.ErrUnavailable
	}
	return s.eng.AddBan(pattern, d)
}

func (s *Server) RemoveBan(pattern string) {
	if s.eng != nil {
		s.eng.RemoveBan(pattern)
	}
}

func (s *Server) IsBanned(address string) bool {
	return s.eng != nil && s.eng.IsBanned(address)
}

func (s *Server) ClearBans() {
	if s.eng != nil {
		s.eng.ClearBans()
	}
}

func (s *Server) SetBandwidthLimit(bytesPerSecond uint64) {
	if s.eng != nil {
		s.eng.SetBandwidthLimit(bytesPerSecond)
	}
}

func (s *Server) SetConnectionFrequencyLimit(enabled bool) {
	if s.eng != nil {
		s.eng.SetConnectionFrequencyLimit(enabled)
	}
}

func (s *Server) SetQueryAllowed(allowed bool) {
	if s.eng != nil {
		s.eng.SetQueryAllowed(allowed)
	}
}

func (s *Server) SetQueryResponse(payload []byte) {
	if s.eng != nil {
		s.eng.SetQueryResponse(payload)
	}
}

// Close stops the server if needed and shuts the engine down.
func (s *Server) Close() error {
	if s.eng == nil {
		return nil
	}
	s.Stop("")
	return s.eng.Close()
}
