package loopback

import (
	"net"
	"strconv"
	"sync"

	"github.com/1ureka/rakpeer/internal/engine"
	"github.com/1ureka/rakpeer/internal/engine/admission"
	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/stats"
)

type clientState int

const (
	clientIdle clientState = iota
	clientConnecting
	clientConnected
)

// ClientOption customizes a loopback client.
type ClientOption func(*Client)

// WithAddress sets the IP the client appears to connect from.
func WithAddress(ip string) ClientOption {
	return func(c *Client) { c.host = ip }
}

// WithProtocolVersion overrides the protocol version sent in the handshake.
func WithProtocolVersion(v uint8) ClientOption {
	return func(c *Client) { c.version = v }
}

// WithoutSecurity makes the client skip security negotiation, so servers
// that require it refuse the connection.
func WithoutSecurity() ClientOption {
	return func(c *Client) { c.secure = false }
}

type target struct {
	host     string
	port     uint16
	password string
}

// Client is a loopback client engine. It implements engine.Client.
type Client struct {
	net     *Network
	guid    uint64
	host    string
	port    uint16
	version uint8
	secure  bool
	inbox   *engine.Inbox

	mu        sync.Mutex
	state     clientState
	handshake bool // handshake for the current attempt already ran
	target    target
	server    *Server
	tracker   *stats.Tracker
	closed    bool
}

var _ engine.Client = (*Client)(nil)

// NewClient attaches a new client to the network.
func (n *Network) NewClient(opts ...ClientOption) *Client {
	n.mu.Lock()
	port := n.nextPort
	n.nextPort++
	n.mu.Unlock()

	c := &Client{
		net:     n,
		guid:    engine.NewGUID(),
		host:    "127.0.0.1",
		port:    port,
		version: protocol.ProtocolVersion,
		secure:  true,
		inbox:   engine.NewInbox(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) address() string {
	return net.JoinHostPort(c.host, strconv.Itoa(int(c.port)))
}

// Connect starts a connection attempt. The handshake itself runs on the
// next Receive, so the caller always observes the connecting state first.
// The loopback medium answers at once, so attempts only needs to be valid.
func (c *Client) Connect(address string, port uint16, password string, attempts int) engine.ConnectResult {
	if c == nil {
		return engine.ClientPointerIsNull
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || attempts < 0 {
		return engine.ClientInitError
	}
	switch c.state {
	case clientConnected:
		return engine.AlreadyConnected
	case clientConnecting:
		return engine.AlreadyConnecting
	}
	host, ok := resolve(address)
	if !ok {
		return engine.CannotResolveDomainName
	}

	c.inbox.Clear()
	c.state = clientConnecting
	c.handshake = false
	c.target = target{host: host, port: port, password: password}
	return engine.Connecting
}

// Disconnect closes the session, notifying the server when connected.
// Pending inbound packets are discarded.
func (c *Client) Disconnect() {
	if c == nil {
		return
	}
	c.mu.Lock()
	wasConnected, srv := c.state == clientConnected, c.server
	c.state = clientIdle
	c.server = nil
	c.mu.Unlock()

	c.inbox.Clear()
	if wasConnected && srv != nil {
		srv.peerLeft(c.guid)
	}
}

func (c *Client) Receive() (*engine.Packet, error) {
	if c == nil {
		return nil, engine.ErrUnavailable
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, engine.ErrUnavailable
	}
	run := c.state == clientConnecting && !c.handshake
	c.handshake = c.handshake || run
	t := c.target
	c.mu.Unlock()

	if run {
		c.runHandshake(t)
	}
	return c.inbox.Pop(), nil
}

func (c *Client) runHandshake(t target) {
	srv := c.net.lookup(t.host, t.port)
	if srv == nil {
		c.refuse(protocol.IDConnectionAttemptFailed, 0, t)
		return
	}

	req := admission.Request{
		GUID:            c.guid,
		Address:         c.address(),
		Password:        t.password,
		ProtocolVersion: c.version,
		Secure:          c.secure,
	}
	tracker := stats.NewTrackerWithClock(c.net.now)
	if id := srv.admit(c, req); id != protocol.IDConnectionRequestAccepted {
		c.refuse(id, srv.GUID(), t)
		return
	}

	c.mu.Lock()
	if c.state != clientConnecting {
		// Disconnect raced the handshake.
		c.mu.Unlock()
		srv.peerLeft(c.guid)
		return
	}
	c.state = clientConnected
	c.server = srv
	c.tracker = tracker
	c.mu.Unlock()

	c.push(srv, engine.ControlPacket(protocol.IDConnectionRequestAccepted, ""))
}

func (c *Client) refuse(id protocol.MessageID, from uint64, t target) {
	c.mu.Lock()
	c.state = clientIdle
	c.mu.Unlock()
	c.inbox.Push(&engine.Packet{
		Data:        engine.ControlPacket(id, ""),
		GUID:        from,
		Address:     net.JoinHostPort(t.host, strconv.Itoa(int(t.port))),
		ReceiveTime: c.net.stamp(),
	})
}

// push queues data from srv and counts it.
func (c *Client) push(srv *Server, data []byte) {
	host, port := srv.BoundAddress()
	c.inbox.Push(&engine.Packet{
		Data:        data,
		GUID:        srv.GUID(),
		Address:     net.JoinHostPort(host, strconv.Itoa(int(port))),
		ReceiveTime: c.net.stamp(),
	})

	c.mu.Lock()
	tr := c.tracker
	c.mu.Unlock()
	if tr != nil {
		tr.Add(stats.ActualBytesReceived, uint64(len(data)))
		tr.Add(stats.ActualMessagesReceived, 1)
		tr.Add(stats.BytesReceivedProcessed, uint64(len(data)))
	}
}

// detach ends the session from the server side and queues data, which is
// the control packet explaining why.
func (c *Client) detach(srv *Server, data []byte) {
	c.mu.Lock()
	if c.server == srv {
		c.state = clientIdle
		c.server = nil
	}
	c.mu.Unlock()
	c.push(srv, data)
}

func (c *Client) Release(p *engine.Packet) {
	if p != nil {
		p.Data = nil
	}
}

func (c *Client) Send(data []byte, opts engine.SendOptions) error {
	if c == nil {
		return engine.ErrUnavailable
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return engine.ErrUnavailable
	}
	srv, tr := c.server, c.tracker
	connected := c.state == clientConnected
	c.mu.Unlock()
	if !connected || srv == nil {
		return engine.ErrNotConnected
	}

	n := uint64(len(data))
	tr.Add(stats.BytesPushed, n)
	tr.Add(stats.BytesSent, n)
	tr.Add(stats.MessagesSent, 1)
	tr.Add(stats.ActualBytesSent, n)
	tr.Add(stats.ActualMessagesSent, 1)

	if !opts.Reliability.IsReliable() {
		tr.RecordSent()
		if c.net.dropUnreliable() {
			tr.RecordLost()
			return nil
		}
	}
	return srv.receiveFrom(c.guid, c.address(), data)
}

func (c *Client) GUID() uint64 { return c.guid }

func (c *Client) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == clientConnected
}

func (c *Client) Ping() int {
	if !c.connected() {
		return -1
	}
	return c.net.ping()
}

func (c *Client) AveragePing() int { return c.Ping() }
func (c *Client) LowestPing() int  { return c.Ping() }

func (c *Client) Statistics() (stats.Statistics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != clientConnected || c.tracker == nil {
		return stats.Statistics{}, false
	}
	return c.tracker.Snapshot(), true
}

// Close disconnects and makes every later call report ErrUnavailable.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
