package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one signaling WebSocket. Writes are serialized; reads must come
// from a single goroutine.
type Conn struct {
	ws     *websocket.Conn
	remote string
	mu     sync.Mutex
}

func newConn(ws *websocket.Conn, remote string) *Conn {
	return &Conn{ws: ws, remote: remote}
}

// Dial connects to the signaling endpoint at url, e.g.
//
//	ws://203.0.113.7:7777/ws
func Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := websocket.DefaultDialer
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}
	return newConn(ws, ws.RemoteAddr().String()), nil
}

// Send writes msg as JSON.
func (c *Conn) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

// Receive reads the next message.
func (c *Conn) Receive() (Message, error) {
	var msg Message
	err := c.ws.ReadJSON(&msg)
	return msg, err
}

// ReceiveWithin reads the next message, failing once d elapses.
func (c *Conn) ReceiveWithin(d time.Duration) (Message, error) {
	if err := c.ws.SetReadDeadline(time.Now().Add(d)); err != nil {
		return Message{}, err
	}
	defer c.ws.SetReadDeadline(time.Time{})
	return c.Receive()
}

// RemoteAddr returns the peer's "ip:port".
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Close sends a normal closure frame and closes the socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}
