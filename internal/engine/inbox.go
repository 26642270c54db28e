package engine

import (
	"sync"

	"github.com/eapache/queue"
)

// Inbox is the FIFO engines park inbound packets in until the session polls
// them. It is safe for concurrent use.
type Inbox struct {
	mu sync.Mutex
	q  *queue.Queue
}

// NewInbox returns an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{q: queue.New()}
}

func (in *Inbox) Push(p *Packet) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.q.Add(p)
}

// Pop returns the oldest packet, or nil when the inbox is empty.
func (in *Inbox) Pop() *Packet {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.q.Length() == 0 {
		return nil
	}
	return in.q.Remove().(*Packet)
}

func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.q.Length()
}

// Clear drops every waiting packet.
func (in *Inbox) Clear() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.q = queue.New()
}
