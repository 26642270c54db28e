package session

import (
	"github.com/1ureka/rakpeer/internal/bitstream"
	"github.com/1ureka/rakpeer/internal/engine"
	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/stats"
)

// ClientState is the lifecycle of a client session.
type ClientState int

const (
	ClientDisconnected ClientState = iota
	ClientConnecting
	ClientConnected
)

func (s ClientState) String() string {
	switch s {
	case ClientDisconnected:
		return "disconnected"
	case ClientConnecting:
		return "connecting"
	case ClientConnected:
		return "connected"
	}
	return "unknown"
}

// Client is the client side of a session.
type Client struct {
	eng       engine.Client
	d         dispatcher
	listeners listeners[ClientListener]

	state    ClientState
	address  string
	port     uint16
	password string
	stats    stats.Statistics
}

// NewClient returns a disconnected session over eng. A nil eng is allowed;
// every call then reports the engine as missing.
func NewClient(eng engine.Client) *Client {
	return &Client{eng: eng, d: newDispatcher("client")}
}

// Subscribe adds l after the existing listeners and returns a function that
// removes it again.
func (c *Client) Subscribe(l ClientListener) (unsubscribe func()) {
	return c.listeners.add(l)
}

func (c *Client) State() ClientState { return c.state }

// Target returns the address, port and password of the last attempt that
// reached the connecting state.
func (c *Client) Target() (string, uint16, string) {
	return c.address, c.port, c.password
}

// Connect starts an attempt and returns the engine's answer unchanged. Only
// engine.Connecting moves the session to ClientConnecting.
func (c *Client) Connect(address string, port uint16, password string, attempts int) engine.ConnectResult {
	if c.eng == nil {
		c.d.unavailable("connect", engine.ErrUnavailable)
		return engine.ClientPointerIsNull
	}
	res := c.eng.Connect(address, port, password, attempts)
	if res == engine.Connecting {
		c.state = ClientConnecting
		c.address, c.port, c.password = address, port, password
		c.d.log.Info("Connecting to %s:%d", address, port)
	} else {
		c.d.log.Warn("Connect to %s:%d: %s", address, port, res)
	}
	return res
}

// Disconnect ends the session whatever its state and reports
// protocol.ReasonByUser to the listeners.
func (c *Client) Disconnect() {
	c.disconnect(protocol.ReasonByUser, "")
}

func (c *Client) disconnect(reason protocol.DisconnectReason, message string) {
	if c.eng != nil {
		c.eng.Disconnect()
	}
	c.state = ClientDisconnected
	c.stats.Reset()
	c.d.log.Info("Disconnected: %s", reason)

	c.listeners.each(func(l ClientListener) {
		l.OnDisconnected(reason, message)
	})
}

// Tick notifies connecting listeners, drains the engine and refreshes the
// cached statistics.
func (c *Client) Tick() {
	if c.eng == nil {
		c.d.unavailable("tick", engine.ErrUnavailable)
		return
	}

	if c.state == ClientConnecting {
		c.listeners.each(func(l ClientListener) {
			l.OnConnecting(c.address, c.port, c.password)
		})
	}

	if !c.d.drain(c.eng.Receive, c.eng.Release, c.handle) {
		return
	}

	if c.state == ClientConnected {
		if st, ok := c.eng.Statistics(); ok {
			c.stats = st
		}
	}
}

func (c *Client) handle(p *engine.Packet, id protocol.MessageID, b *bitstream.BitStream) {
	if !protocol.IsUser(id) {
		c.control(id, b)
		return
	}

	size := uint32(len(p.Data))
	c.listeners.each(func(l ClientListener) {
		rewind(b)
		l.OnReceived(id, size, b, p.ReceiveTime)
	})
}

func (c *Client) control(id protocol.MessageID, b *bitstream.BitStream) {
	if id == protocol.IDConnectionRequestAccepted {
		if c.state == ClientConnected {
			return
		}
		c.state = ClientConnected
		c.stats.Reset()
		c.d.log.Info("Connected to %s:%d", c.address, c.port)
		c.listeners.each(func(l ClientListener) {
			l.OnConnected(c.address, c.port, c.password)
		})
		return
	}

	reason, ok := protocol.ClientDisconnectReason(id)
	if !ok {
		c.d.log.Debug("Ignoring %s", protocol.Name(id))
		return
	}
	c.disconnect(reason, b.ReadString())
}

// NewMessage returns a pooled BitStream with id already written. Hand it to
// Send, or to Release if it is never sent.
func (c *Client) NewMessage(id protocol.MessageID) *bitstream.BitStream {
	return c.d.message(id)
}

// Release returns a stream from NewMessage to the pool without sending it.
func (c *Client) Release(b *bitstream.BitStream) {
	c.d.pool.Release(b)
}

// Send transmits the written part of b and releases it to the pool; b must
// not be used afterwards.
func (c *Client) Send(b *bitstream.BitStream, opts engine.SendOptions) error {
	defer c.d.pool.Release(b)
	if c.eng == nil {
		c.d.unavailable("send", engine.ErrUnavailable)
		return engine.ErrUnavailable
	}
	if !b.Valid() {
		return errInvalidStream
	}
	if err := c.eng.Send(b.Bytes(), opts); err != nil {
		return wrap("send", err)
	}
	return nil
}

// GUID returns this peer's identifier, or 0 without an engine.
func (c *Client) GUID() uint64 {
	if c.eng == nil {
		return 0
	}
	return c.eng.GUID()
}

// Ping returns the last round trip in milliseconds, or -1 when unknown.
func (c *Client) Ping() int {
	if c.eng == nil {
		return -1
	}
	return c.eng.Ping()
}

func (c *Client) AveragePing() int {
	if c.eng == nil {
		return -1
	}
	return c.eng.AveragePing()
}

func (c *Client) LowestPing() int {
	if c.eng == nil {
		return -1
	}
	return c.eng.LowestPing()
}

// Statistics returns the snapshot taken by the last Tick while connected.
func (c *Client) Statistics() stats.Statistics {
	return c.stats
}

// Loss returns last-second packet loss in percent, or 0 when not connected.
func (c *Client) Loss() int {
	if c.state != ClientConnected {
		return 0
	}
	return c.stats.PacketLoss()
}

// Close disconnects if needed and shuts the engine down.
func (c *Client) Close() error {
	if c.eng == nil {
		return nil
	}
	if c.state != ClientDisconnected {
		c.Disconnect()
	}
	return c.eng.Close()
}
