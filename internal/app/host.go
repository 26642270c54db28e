package app

import (
	"github.com/1ureka/rakpeer/internal/bitstream"
	"github.com/1ureka/rakpeer/internal/engine"
	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/session"
	"github.com/1ureka/rakpeer/internal/util"
)

var hostLog = util.NewLogger("host")

// Player is an accepted client as the host sees it.
type Player struct {
	GUID uint64
	Name string
}

// Host runs the server half of the sample protocol on a session.Server.
// Like the session it wraps, it must only be used from the tick goroutine.
type Host struct {
	srv     *session.Server
	name    string
	players []Player // accepted order

	// OnAccepted, when set, runs after a player's name is stored.
	OnAccepted func(p Player)
}

// NewHost subscribes to srv. name is published in the query response.
func NewHost(srv *session.Server, name string) *Host {
	h := &Host{srv: srv, name: name}
	srv.Subscribe(session.ServerFuncs{
		Connected:    h.connected,
		Disconnected: h.disconnected,
		Received:     h.received,
	})
	return h
}

func (h *Host) connected(index uint16, guid uint64) {
	address, port, _ := h.srv.Address(guid)
	hostLog.Info("client %d connected from %s:%d", guid, address, port)

	req := h.srv.NewMessage(PacketDataRequest)
	opts := engine.SendOptions{Priority: protocol.PriorityImmediate, Reliability: protocol.Reliable}
	if err := h.srv.SendTo(guid, req, opts); err != nil {
		hostLog.Warn("data request to %d failed: %v", guid, err)
	}
}

func (h *Host) disconnected(index uint16, guid uint64, reason protocol.DisconnectReason, message string) {
	for i, p := range h.players {
		if p.GUID == guid {
			h.players = append(h.players[:i], h.players[i+1:]...)
			hostLog.Info("player %s disconnected (%s)", p.Name, reason)
			h.Publish()
			return
		}
	}
	hostLog.Info("client %d disconnected (%s)", guid, reason)
}

func (h *Host) received(packetType protocol.MessageID, index uint16, guid uint64, b *bitstream.BitStream, localTime uint64) {
	if packetType != PacketDataReply {
		return
	}
	name := b.ReadString()
	p := Player{GUID: guid, Name: name}
	h.players = append(h.players, p)

	reply := h.srv.NewMessage(PacketDataAccepted)
	reply.WriteString("edited_" + name)
	opts := engine.SendOptions{Priority: protocol.PriorityLow, Reliability: protocol.Reliable}
	if err := h.srv.SendTo(guid, reply, opts); err != nil {
		hostLog.Warn("accept to %d failed: %v", guid, err)
	}
	h.Publish()

	if h.OnAccepted != nil {
		h.OnAccepted(p)
	}
}

// Players returns the accepted players in join order.
func (h *Host) Players() []Player {
	return append([]Player(nil), h.players...)
}

// Kick disconnects a player with a goodbye message.
func (h *Host) Kick(guid uint64, message string) {
	h.srv.CloseConnection(guid, true, message)
}

// Ban bans the player's address and kicks it.
func (h *Host) Ban(guid uint64) error {
	address, _, ok := h.srv.Address(guid)
	if !ok {
		return engine.ErrNotConnected
	}
	if err := h.srv.AddBan(address, 0); err != nil {
		return err
	}
	h.Kick(guid, "banned")
	return nil
}

// Info describes the server as published on the query endpoint.
func (h *Host) Info() ServerInfo {
	names := make([]string, len(h.players))
	for i, p := range h.players {
		names[i] = p.Name
	}
	return ServerInfo{
		Name:           h.name,
		Players:        names,
		MaxConnections: h.srv.MaxConnections(),
		Password:       h.srv.HasPassword(),
		Version:        protocol.ProtocolVersion,
	}
}

// Publish refreshes the query response.
func (h *Host) Publish() {
	data, err := h.Info().Encode()
	if err != nil {
		hostLog.Warn("%v", err)
		return
	}
	h.srv.SetQueryResponse(data)
}
