// Package session turns a polled transport engine into connection state
// machines for the two roles. A Client tracks one outgoing connection, a
// Server tracks many peers in a Registry. Both are driven by Tick, which
// drains the engine, splits internal control packets from application
// messages at protocol.UserPacketEnum and fans the results out to
// subscribed listeners.
//
// Sessions are not safe for concurrent use. Tick, Connect, Disconnect,
// Start, Stop and the send helpers must all be called from one goroutine,
// normally the one running Loop.
package session

import (
	"errors"
	"fmt"

	"github.com/1ureka/rakpeer/internal/bitstream"
	"github.com/1ureka/rakpeer/internal/engine"
	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/util"
)

var errInvalidStream = errors.New("session: stream is closed or released")

// dispatcher holds what both roles need to drain an engine.
type dispatcher struct {
	pool   *bitstream.Pool
	log    util.Logger
	warned map[string]bool
}

func newDispatcher(tag string) dispatcher {
	return dispatcher{
		pool:   bitstream.NewPool(),
		log:    util.NewLogger(tag),
		warned: make(map[string]bool),
	}
}

// unavailable logs err the first time site reports it.
func (d *dispatcher) unavailable(site string, err error) {
	if d.warned[site] {
		return
	}
	d.warned[site] = true
	d.log.Error("%s: %v", site, err)
}

// drain pops packets until receive reports none. Each packet is wrapped in a
// pooled BitStream positioned after its type byte and handed to handle; the
// stream goes back to the pool and the packet back to the engine afterwards.
// It returns false when the engine failed and the tick should stop.
func (d *dispatcher) drain(
	receive func() (*engine.Packet, error),
	release func(*engine.Packet),
	handle func(p *engine.Packet, id protocol.MessageID, b *bitstream.BitStream),
) bool {
	for {
		p, err := receive()
		if err != nil {
			d.unavailable("receive", err)
			return false
		}
		if p == nil {
			return true
		}
		if len(p.Data) == 0 {
			d.log.Debug("dropping empty packet from %016x", p.GUID)
			release(p)
			continue
		}

		b := d.pool.Acquire()
		b.Wrap(p.Data)
		id := b.ReadUint8()
		handle(p, id, b)
		d.pool.Release(b)
		release(p)
	}
}

// message acquires a pooled stream with id already written.
func (d *dispatcher) message(id protocol.MessageID) *bitstream.BitStream {
	b := d.pool.Acquire()
	b.WriteUint8(id)
	return b
}

// rewind puts b back just after the type byte, so every listener reads the
// body from the start.
func rewind(b *bitstream.BitStream) {
	b.SetReadOffset(8)
}

func wrap(site string, err error) error {
	return fmt.Errorf("%s: %w", site, err)
}
