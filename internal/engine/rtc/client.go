package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1ureka/rakpeer/internal/engine"
	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/signaling"
	"github.com/1ureka/rakpeer/internal/stats"
	"github.com/1ureka/rakpeer/internal/transport"
)

type clientState int

const (
	clientIdle clientState = iota
	clientConnecting
	clientConnected
)

// link is the client's live connection to one server.
type link struct {
	*transport.Link
	guid    uint64 // server
	address string
	live    atomic.Bool
	bye     atomic.Value // string
}

func (l *link) byeMessage() string {
	m, _ := l.bye.Load().(string)
	return m
}

// refusal is an attempt the server answered with a reject.
type refusal struct {
	id protocol.MessageID
}

func (r refusal) Error() string { return "refused: " + protocol.Name(r.id) }

// Client is a WebRTC client engine. It implements engine.Client.
type Client struct {
	cfg   Config
	guid  uint64
	inbox *engine.Inbox

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   clientState
	attempt uint64 // bumped by every Connect and Disconnect
	abort   context.CancelFunc
	current *link
	closed  bool
}

var _ engine.Client = (*Client)(nil)

// NewClient returns an idle client.
func NewClient(cfg Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg.withDefaults(),
		guid:   engine.NewGUID(),
		inbox:  engine.NewInbox(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect resolves address and starts connecting in the background. Up to
// attempts tries are made; zero means one.
func (c *Client) Connect(address string, port uint16, password string, attempts int) engine.ConnectResult {
	if c == nil {
		return engine.ClientPointerIsNull
	}
	c.mu.Lock()
	if c.closed || attempts < 0 {
		c.mu.Unlock()
		return engine.ClientInitError
	}
	switch c.state {
	case clientConnected:
		c.mu.Unlock()
		return engine.AlreadyConnected
	case clientConnecting:
		c.mu.Unlock()
		return engine.AlreadyConnecting
	}
	c.mu.Unlock()

	rctx, cancel := context.WithTimeout(c.ctx, c.cfg.Timeout)
	host, ok := resolve(rctx, address)
	cancel()
	if !ok {
		return engine.CannotResolveDomainName
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != clientIdle {
		return engine.AlreadyConnecting
	}
	ctx, abort := context.WithCancel(c.ctx)
	c.attempt++
	c.abort = abort
	c.state = clientConnecting
	c.inbox.Clear()

	go c.connect(ctx, c.attempt, host, port, password, max(attempts, 1))
	return engine.Connecting
}

func (c *Client) connect(ctx context.Context, attempt uint64, host string, port uint16, password string, attempts int) {
	address := joinHostPort(host, port)
	for i := range attempts {
		if i > 0 {
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return
			}
		}

		err := c.try(ctx, attempt, host, port, password)
		if err == nil {
			return
		}
		var r refusal
		if errors.As(err, &r) {
			c.fail(attempt, r.id, address)
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Debug("attempt %d/%d to %s failed: %v", i+1, attempts, address, err)
	}
	c.fail(attempt, protocol.IDConnectionAttemptFailed, address)
}

// try runs one attempt: admission over signaling, then the SDP exchange.
func (c *Client) try(ctx context.Context, attempt uint64, host string, port uint16, password string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	conn, err := signaling.Dial(ctx, signaling.URL(host, port))
	if err != nil {
		return err
	}
	defer conn.Close()

	err = conn.Send(signaling.Message{
		Type:     signaling.MsgTypeHello,
		GUID:     c.guid,
		Password: password,
		Version:  protocol.ProtocolVersion,
		Secure:   true, // DTLS
	})
	if err != nil {
		return err
	}
	reply, err := conn.ReceiveWithin(c.cfg.Timeout)
	if err != nil {
		return err
	}
	switch reply.Type {
	case signaling.MsgTypeReject:
		return refusal{id: reply.Reason}
	case signaling.MsgTypeAccept:
	default:
		return errors.New("unexpected signaling reply " + string(reply.Type))
	}

	tl, err := transport.NewLink(c.ctx, c.cfg.link(nil))
	if err != nil {
		return err
	}
	l := &link{Link: tl, guid: reply.GUID, address: joinHostPort(host, port)}
	l.OnMessage(func(data []byte) {
		if l.live.Load() {
			c.inbox.Push(&engine.Packet{
				Data:        append([]byte(nil), data...),
				GUID:        l.guid,
				Address:     l.address,
				ReceiveTime: stamp(),
			})
		}
	})
	l.OnBye(func(message string) { l.bye.Store(message) })

	if err := signaling.Answer(ctx, conn, tl); err != nil {
		tl.Close()
		return err
	}

	c.mu.Lock()
	if c.attempt != attempt || c.state != clientConnecting {
		// Disconnect or Close won the race.
		c.mu.Unlock()
		tl.Close()
		return nil
	}
	c.state = clientConnected
	c.current = l
	l.live.Store(true)
	c.inbox.Push(&engine.Packet{
		Data:        engine.ControlPacket(protocol.IDConnectionRequestAccepted, ""),
		GUID:        l.guid,
		Address:     l.address,
		ReceiveTime: stamp(),
	})
	c.mu.Unlock()

	go c.watch(l)
	return nil
}

// fail ends a connecting attempt with the control id the session reports.
func (c *Client) fail(attempt uint64, id protocol.MessageID, address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt || c.state != clientConnecting {
		return
	}
	c.state = clientIdle
	c.inbox.Push(&engine.Packet{
		Data:        engine.ControlPacket(id, ""),
		Address:     address,
		ReceiveTime: stamp(),
	})
}

// watch reports the end of l unless the client dropped it first.
func (c *Client) watch(l *link) {
	<-l.Done()

	c.mu.Lock()
	if c.current != l {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.state = clientIdle
	l.live.Store(false)

	data := engine.ControlPacket(protocol.IDConnectionLost, "")
	if l.ClosedByPeer() {
		data = engine.ControlPacket(protocol.IDDisconnectionNotification, l.byeMessage())
	}
	c.inbox.Push(&engine.Packet{Data: data, GUID: l.guid, Address: l.address, ReceiveTime: stamp()})
	c.mu.Unlock()
	l.Close()
}

// Disconnect aborts a pending attempt or says goodbye to the server.
// Pending inbound packets are discarded.
func (c *Client) Disconnect() {
	if c == nil {
		return
	}
	c.mu.Lock()
	l := c.current
	c.current = nil
	c.state = clientIdle
	c.attempt++
	if c.abort != nil {
		c.abort()
		c.abort = nil
	}
	c.mu.Unlock()

	c.inbox.Clear()
	if l != nil {
		l.live.Store(false)
		if err := l.Shutdown(""); err != nil {
			log.Debug("closing link: %v", err)
		}
	}
}

func (c *Client) Receive() (*engine.Packet, error) {
	if c == nil {
		return nil, engine.ErrUnavailable
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, engine.ErrUnavailable
	}
	return c.inbox.Pop(), nil
}

func (c *Client) Release(p *engine.Packet) {
	if p != nil {
		p.Data = nil
	}
}

func (c *Client) live() (*link, error) {
	if c == nil {
		return nil, engine.ErrUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, engine.ErrUnavailable
	}
	if c.current == nil {
		return nil, engine.ErrNotConnected
	}
	return c.current, nil
}

func (c *Client) Send(data []byte, opts engine.SendOptions) error {
	l, err := c.live()
	if err != nil {
		return err
	}
	if err := l.Send(data, opts.Priority, opts.Reliability); err != nil {
		return engine.ErrNotConnected
	}
	return nil
}

func (c *Client) GUID() uint64 {
	if c == nil {
		return 0
	}
	return c.guid
}

func (c *Client) Ping() int {
	l, err := c.live()
	if err != nil {
		return -1
	}
	return l.Ping()
}

func (c *Client) AveragePing() int {
	l, err := c.live()
	if err != nil {
		return -1
	}
	return l.AveragePing()
}

func (c *Client) LowestPing() int {
	l, err := c.live()
	if err != nil {
		return -1
	}
	return l.LowestPing()
}

func (c *Client) Statistics() (stats.Statistics, bool) {
	l, err := c.live()
	if err != nil {
		return stats.Statistics{}, false
	}
	return l.Statistics(), true
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
	c.cancel()
	return nil
}
