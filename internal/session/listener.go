package session

import (
	"github.com/1ureka/rakpeer/internal/bitstream"
	"github.com/1ureka/rakpeer/internal/protocol"
)

// ClientListener receives the events of a client session. Every method is
// called synchronously from Tick, Connect or Disconnect.
//
// The BitStream passed to OnReceived is positioned just after the type byte
// and is only valid for the duration of the call.
type ClientListener interface {
	OnConnecting(address string, port uint16, password string)
	OnConnected(address string, port uint16, password string)
	OnDisconnected(reason protocol.DisconnectReason, message string)
	OnReceived(packetType protocol.MessageID, size uint32, b *bitstream.BitStream, localTime uint64)
}

// ServerListener receives the events of a server session. index is the
// peer's current dense registry index; guid is stable for the session.
type ServerListener interface {
	OnConnected(index uint16, guid uint64)
	OnDisconnected(index uint16, guid uint64, reason protocol.DisconnectReason, message string)
	OnReceived(packetType protocol.MessageID, index uint16, guid uint64, b *bitstream.BitStream, localTime uint64)
}

// ClientFuncs adapts plain functions to ClientListener. Nil fields are
// skipped.
type ClientFuncs struct {
	Connecting   func(address string, port uint16, password string)
	Connected    func(address string, port uint16, password string)
	Disconnected func(reason protocol.DisconnectReason, message string)
	Received     func(packetType protocol.MessageID, size uint32, b *bitstream.BitStream, localTime uint64)
}

func (f ClientFuncs) OnConnecting(address string, port uint16, password string) {
	if f.Connecting != nil {
		f.Connecting(address, port, password)
	}
}

func (f ClientFuncs) OnConnected(address string, port uint16, password string) {
	if f.Connected != nil {
		f.Connected(address, port, password)
	}
}

func (f ClientFuncs) OnDisconnected(reason protocol.DisconnectReason, message string) {
	if f.Disconnected != nil {
		f.Disconnected(reason, message)
	}
}

func (f ClientFuncs) OnReceived(packetType protocol.MessageID, size uint32, b *bitstream.BitStream, localTime uint64) {
	if f.Received != nil {
		f.Received(packetType, size, b, localTime)
	}
}

// ServerFuncs adapts plain functions to ServerListener. Nil fields are
// skipped.
type ServerFuncs struct {
	Connected    func(index uint16, guid uint64)
	Disconnected func(index uint16, guid uint64, reason protocol.DisconnectReason, message string)
	Received     func(packetType protocol.MessageID, index uint16, guid uint64, b *bitstream.BitStream, localTime uint64)
}

func (f ServerFuncs) OnConnected(index uint16, guid uint64) {
	if f.Connected != nil {
		f.Connected(index, guid)
	}
}

func (f ServerFuncs) OnDisconnected(index uint16, guid uint64, reason protocol.DisconnectReason, message string) {
	if f.Disconnected != nil {
		f.Disconnected(index, guid, reason, message)
	}
}

func (f ServerFuncs) OnReceived(packetType protocol.MessageID, index uint16, guid uint64, b *bitstream.BitStream, localTime uint64) {
	if f.Received != nil {
		f.Received(packetType, index, guid, b, localTime)
	}
}

// listeners is an ordered subscription list. Unsubscribing swaps in a new
// slice, so a fan-out already in progress keeps its snapshot and only has to
// skip entries flagged as removed.
type listeners[T any] struct {
	entries []*subscription[T]
}

type subscription[T any] struct {
	l       T
	removed bool
}

func (s *listeners[T]) add(l T) func() {
	sub := &subscription[T]{l: l}
	s.entries = append(s.entries, sub)
	return func() {
		if sub.removed {
			return
		}
		sub.removed = true
		kept := make([]*subscription[T], 0, len(s.entries))
		for _, e := range s.entries {
			if e != sub {
				kept = append(kept, e)
			}
		}
		s.entries = kept
	}
}

// each calls fn for every live subscriber in subscription order. Nil
// listeners are skipped. Listeners added during the call are not visited
// until the next one.
func (s *listeners[T]) each(fn func(T)) {
	for _, e := range s.entries {
		if !e.removed && any(e.l) != nil {
			fn(e.l)
		}
	}
}

func (s *listeners[T]) len() int {
	return len(s.entries)
}
