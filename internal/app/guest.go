package app

import (
	"github.com/1ureka/rakpeer/internal/bitstream"
	"github.com/1ureka/rakpeer/internal/engine"
	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/session"
	"github.com/1ureka/rakpeer/internal/util"
)

var clientLog = util.NewLogger("client")

// Guest runs the client half of the sample protocol on a session.Client.
type Guest struct {
	cli      *session.Client
	name     string
	accepted bool

	// OnAccepted, when set, runs with the name the server settled on.
	OnAccepted func(name string)
	// OnDisconnected, when set, runs after the session ends.
	OnDisconnected func(reason protocol.DisconnectReason, message string)
}

// NewGuest subscribes to cli and answers data requests with name.
func NewGuest(cli *session.Client, name string) *Guest {
	g := &Guest{cli: cli, name: name}
	cli.Subscribe(session.ClientFuncs{
		Connecting: func(address string, port uint16, _ string) {
			clientLog.Info("connecting to %s:%d", address, port)
		},
		Connected: func(address string, port uint16, _ string) {
			clientLog.Info("connected to %s:%d", address, port)
		},
		Disconnected: g.disconnected,
		Received:     g.received,
	})
	return g
}

func (g *Guest) disconnected(reason protocol.DisconnectReason, message string) {
	g.accepted = false
	if message != "" {
		clientLog.Info("disconnected: %s (%s)", reason, message)
	} else {
		clientLog.Info("disconnected: %s", reason)
	}
	if g.OnDisconnected != nil {
		g.OnDisconnected(reason, message)
	}
}

func (g *Guest) received(packetType protocol.MessageID, size uint32, b *bitstream.BitStream, localTime uint64) {
	switch packetType {
	case PacketDataRequest:
		reply := g.cli.NewMessage(PacketDataReply)
		reply.WriteString(g.name)
		opts := engine.SendOptions{Priority: protocol.PriorityImmediate, Reliability: protocol.Reliable}
		if err := g.cli.Send(reply, opts); err != nil {
			clientLog.Warn("data reply failed: %v", err)
		}

	case PacketDataAccepted:
		g.name = b.ReadString()
		g.accepted = true
		clientLog.Info("data accepted by server, my name is %s", g.name)
		if g.OnAccepted != nil {
			g.OnAccepted(g.name)
		}
	}
}

// Name returns the current player name, edited by the server once accepted.
func (g *Guest) Name() string { return g.name }

// Accepted reports whether the server has acknowledged the player data.
func (g *Guest) Accepted() bool { return g.accepted }
