package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/1ureka/rakpeer/internal/bitstream"
	"github.com/1ureka/rakpeer/internal/engine"
	"github.com/1ureka/rakpeer/internal/engine/loopback"
	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/stats"
)

const testPacket protocol.MessageID = 200

// recordClient subscribes a listener that logs every event as a string.
func recordClient(c *Client) *[]string {
	var events []string
	c.Subscribe(ClientFuncs{
		Connecting: func(address string, port uint16, password string) {
			events = append(events, "connecting")
		},
		Connected: func(address string, port uint16, password string) {
			events = append(events, "connected")
		},
		Disconnected: func(reason protocol.DisconnectReason, message string) {
			events = append(events, fmt.Sprintf("disconnected:%s:%s", reason, message))
		},
		Received: func(packetType protocol.MessageID, size uint32, b *bitstream.BitStream, localTime uint64) {
			events = append(events, fmt.Sprintf("received:%d:%s", packetType, b.ReadString()))
		},
	})
	return &events
}

// recordServer is recordClient for the server role.
func recordServer(s *Server) *[]string {
	var events []string
	s.Subscribe(ServerFuncs{
		Connected: func(index uint16, guid uint64) {
			events = append(events, fmt.Sprintf("connected:%d", index))
		},
		Disconnected: func(index uint16, guid uint64, reason protocol.DisconnectReason, message string) {
			events = append(events, fmt.Sprintf("disconnected:%d:%s:%s", index, reason, message))
		},
		Received: func(packetType protocol.MessageID, index uint16, guid uint64, b *bitstream.BitStream, localTime uint64) {
			events = append(events, fmt.Sprintf("received:%d:%d:%s", packetType, index, b.ReadString()))
		},
	})
	return &events
}

func startServer(t *testing.T, n *loopback.Network, cfg engine.StartConfig) (*Server, *loopback.Server) {
	t.Helper()
	eng := n.NewServer()
	s := NewServer(eng)
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 8
	}
	cfg.Insecure = true
	if r := s.Start(cfg); r != engine.Started {
		t.Fatalf("Start: got %v", r)
	}
	if s.State() != ServerStarted {
		t.Fatalf("state: got %v", s.State())
	}
	return s, eng
}

// connectClient runs a full handshake and returns the connected session.
func connectClient(t *testing.T, n *loopback.Network, s *Server) *Client {
	t.Helper()
	_, port := s.BoundAddress()
	c := NewClient(n.NewClient())
	if r := c.Connect("127.0.0.1", port, "", 3); r != engine.Connecting {
		t.Fatalf("Connect: got %v", r)
	}
	c.Tick()
	s.Tick()
	if c.State() != ClientConnected {
		t.Fatalf("client state: got %v", c.State())
	}
	return c
}

func checkEvents(t *testing.T, got *[]string, want ...string) {
	t.Helper()
	if want == nil {
		want = []string{}
	}
	g := *got
	if g == nil {
		g = []string{}
	}
	if !reflect.DeepEqual(g, want) {
		t.Errorf("events:\n got  %q\n want %q", g, want)
	}
	*got = nil
}

// TestClientLifecycle walks a client through connect, disconnect and a
// second Disconnect from the idle state.
func TestClientLifecycle(t *testing.T) {
	n := loopback.NewNetwork()
	s, _ := startServer(t, n, engine.StartConfig{Port: 7777})
	c := NewClient(n.NewClient())
	events := recordClient(c)

	if c.State() != ClientDisconnected {
		t.Fatalf("initial state: %v", c.State())
	}
	if r := c.Connect("localhost", 7777, "", 3); r != engine.Connecting {
		t.Fatalf("Connect: got %v", r)
	}
	if c.State() != ClientConnecting {
		t.Fatalf("after Connect: %v", c.State())
	}
	if r := c.Connect("localhost", 7777, "", 3); r != engine.AlreadyConnecting {
		t.Errorf("second Connect: got %v", r)
	}

	c.Tick()
	checkEvents(t, events, "connecting", "connected")
	if c.State() != ClientConnected {
		t.Fatalf("after handshake: %v", c.State())
	}
	if addr, port, _ := c.Target(); addr != "localhost" || port != 7777 {
		t.Errorf("target: %s:%d", addr, port)
	}

	c.Tick()
	checkEvents(t, events)

	c.Disconnect()
	checkEvents(t, events, "disconnected:closed by user:")
	if c.State() != ClientDisconnected {
		t.Errorf("after Disconnect: %v", c.State())
	}

	c.Disconnect()
	checkEvents(t, events, "disconnected:closed by user:")

	serverEvents := recordServer(s)
	s.Tick()
	checkEvents(t, serverEvents, "connected:0", "disconnected:0:connection closed:")
	if s.NumberOfConnections() != 0 {
		t.Errorf("registry should be empty, has %d", s.NumberOfConnections())
	}
}

// TestClientRefused maps every refusal to its disconnect reason.
func TestClientRefused(t *testing.T) {
	testCases := []struct {
		name     string
		setup    func(*Server)
		port     uint16
		password string
		want     protocol.DisconnectReason
	}{
		{"attempt failed", nil, 1, "", protocol.ReasonAttemptFailed},
		{"password", func(s *Server) { s.SetPassword("secret") }, 0, "guess", protocol.ReasonInvalidPassword},
		{"banned", func(s *Server) { _ = s.AddBan("127.0.0.1", 0) }, 0, "", protocol.ReasonIsBanned},
		{"full", func(s *Server) { s.SetMaxConnections(0) }, 0, "", protocol.ReasonServerIsFull},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n := loopback.NewNetwork()
			s, _ := startServer(t, n, engine.StartConfig{})
			if tc.setup != nil {
				tc.setup(s)
			}
			port := tc.port
			if port == 0 {
				_, port = s.BoundAddress()
			}

			c := NewClient(n.NewClient())
			events := recordClient(c)
			c.Connect("127.0.0.1", port, tc.password, 1)
			c.Tick()

			checkEvents(t, events, "connecting", fmt.Sprintf("disconnected:%s:", tc.want))
			if c.State() != ClientDisconnected {
				t.Errorf("state: %v", c.State())
			}
		})
	}
}

// TestConnectionLost drops the link under a connected client.
func TestConnectionLost(t *testing.T) {
	n := loopback.NewNetwork()
	s, eng := startServer(t, n, engine.StartConfig{})
	c := connectClient(t, n, s)
	clientEvents := recordClient(c)
	serverEvents := recordServer(s)

	eng.DropConnection(c.GUID())
	c.Tick()
	s.Tick()

	checkEvents(t, clientEvents, "disconnected:connection lost:")
	checkEvents(t, serverEvents, "disconnected:0:connection lost:")
	if c.State() != ClientDisconnected {
		t.Errorf("client state: %v", c.State())
	}
	if _, ok := s.Connection(c.GUID()); ok {
		t.Error("lookup by GUID should fail after the connection is lost")
	}
}

// TestServerRegistry checks entry creation, index compaction and removal.
func TestServerRegistry(t *testing.T) {
	n := loopback.NewNetwork()
	s, _ := startServer(t, n, engine.StartConfig{})
	events := recordServer(s)

	a := connectClient(t, n, s)
	b := connectClient(t, n, s)
	cc := connectClient(t, n, s)
	checkEvents(t, events, "connected:0", "connected:1", "connected:2")

	conn, ok := s.Connection(b.GUID())
	if !ok || conn.Index != 1 || conn.State != ConnectionConnected || conn.Address != "127.0.0.1" {
		t.Errorf("entry for b: %+v, %v", conn, ok)
	}

	b.Disconnect()
	s.Tick()
	checkEvents(t, events, "disconnected:1:connection closed:")

	if idx, ok := s.Index(cc.GUID()); !ok || idx != 1 {
		t.Errorf("c should move to index 1, got %d (%v)", idx, ok)
	}
	if g, ok := s.GUIDAt(0); !ok || g != a.GUID() {
		t.Errorf("index 0 should still be a")
	}
	if _, ok := s.GUIDAt(2); ok {
		t.Error("index 2 should be free")
	}
	if got := len(s.Connections()); got != 2 {
		t.Errorf("connections: got %d, want 2", got)
	}
}

// TestDispatchThreshold sends the last control id and the first user id.
func TestDispatchThreshold(t *testing.T) {
	n := loopback.NewNetwork()
	s, _ := startServer(t, n, engine.StartConfig{})
	c := connectClient(t, n, s)

	var got []protocol.MessageID
	s.Subscribe(ServerFuncs{
		Received: func(packetType protocol.MessageID, index uint16, guid uint64, b *bitstream.BitStream, localTime uint64) {
			got = append(got, packetType)
		},
	})

	for _, id := range []protocol.MessageID{protocol.UserPacketEnum - 1, protocol.UserPacketEnum} {
		if err := c.Send(c.NewMessage(id), engine.DefaultSendOptions); err != nil {
			t.Fatalf("Send %d: %v", id, err)
		}
	}
	s.Tick()

	if !reflect.DeepEqual(got, []protocol.MessageID{protocol.UserPacketEnum}) {
		t.Errorf("OnReceived saw %v, want only %d", got, protocol.UserPacketEnum)
	}
	if s.NumberOfConnections() != 1 {
		t.Error("an unknown control id must not touch the registry")
	}
}

// TestEndToEnd sends a name to the server and an edited name back.
func TestEndToEnd(t *testing.T) {
	n := loopback.NewNetwork()
	s, _ := startServer(t, n, engine.StartConfig{})
	c := connectClient(t, n, s)
	serverEvents := recordServer(s)
	clientEvents := recordClient(c)

	s.Subscribe(ServerFuncs{
		Received: func(packetType protocol.MessageID, index uint16, guid uint64, b *bitstream.BitStream, localTime uint64) {
			reply := s.NewMessage(packetType + 1)
			reply.WriteString("edited_" + b.ReadString())
			if err := s.SendTo(guid, reply, engine.DefaultSendOptions); err != nil {
				t.Errorf("SendTo: %v", err)
			}
		},
	})

	msg := c.NewMessage(testPacket)
	msg.WriteString("Alice")
	if err := c.Send(msg, engine.SendOptions{Priority: protocol.PriorityHigh, Reliability: protocol.Reliable}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Valid() {
		t.Error("Send should release the stream")
	}

	s.Tick()
	checkEvents(t, serverEvents, "received:200:0:Alice")

	c.Tick()
	checkEvents(t, clientEvents, "received:201:edited_Alice")
}

// TestListenersEachReadTheBody checks that a listener reading the payload
// does not starve the next one.
func TestListenersEachReadTheBody(t *testing.T) {
	n := loopback.NewNetwork()
	s, _ := startServer(t, n, engine.StartConfig{})
	c := connectClient(t, n, s)
	first := recordServer(s)
	second := recordServer(s)

	msg := c.NewMessage(testPacket)
	msg.WriteString("Bob")
	_ = c.Send(msg, engine.DefaultSendOptions)
	s.Tick()

	checkEvents(t, first, "received:200:0:Bob")
	checkEvents(t, second, "received:200:0:Bob")
}

// TestUnsubscribeDuringFanOut removes a later listener from inside an
// earlier one.
func TestUnsubscribeDuringFanOut(t *testing.T) {
	n := loopback.NewNetwork()
	s, _ := startServer(t, n, engine.StartConfig{})

	var order []string
	var unsubscribeSecond func()
	s.Subscribe(ServerFuncs{Connected: func(uint16, uint64) {
		order = append(order, "first")
		unsubscribeSecond()
	}})
	unsubscribeSecond = s.Subscribe(ServerFuncs{Connected: func(uint16, uint64) {
		order = append(order, "second")
	}})
	s.Subscribe(ServerFuncs{Connected: func(uint16, uint64) {
		order = append(order, "third")
	}})

	connectClient(t, n, s)
	connectClient(t, n, s)

	want := []string{"first", "third", "first", "third"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("got %v, want %v", order, want)
	}
	unsubscribeSecond()
	if s.listeners.len() != 2 {
		t.Errorf("listeners: got %d, want 2", s.listeners.len())
	}
}

// TestNilListenerSkipped checks that a nil subscription is ignored during
// fan-out and the listeners after it still run.
func TestNilListenerSkipped(t *testing.T) {
	n := loopback.NewNetwork()
	s, _ := startServer(t, n, engine.StartConfig{})
	s.Subscribe(nil)
	serverEvents := recordServer(s)

	c := connectClient(t, n, s)
	checkEvents(t, serverEvents, "connected:0")

	c.Subscribe(nil)
	clientEvents := recordClient(c)
	c.Disconnect()
	checkEvents(t, clientEvents, "disconnected:closed by user:")

	s.Tick()
	checkEvents(t, serverEvents, "disconnected:0:connection closed:")
}

// TestServerStop drops every peer without per-peer events.
func TestServerStop(t *testing.T) {
	n := loopback.NewNetwork()
	s, _ := startServer(t, n, engine.StartConfig{})
	c := connectClient(t, n, s)
	serverEvents := recordServer(s)
	clientEvents := recordClient(c)

	stopped := 0
	s.OnStopped = func() { stopped++ }
	s.Stop("maintenance")
	s.Stop("again")

	if stopped != 1 || s.State() != ServerStopped {
		t.Errorf("stopped=%d state=%v", stopped, s.State())
	}
	if s.NumberOfConnections() != 0 {
		t.Error("registry should be empty after Stop")
	}
	checkEvents(t, serverEvents)

	c.Tick()
	checkEvents(t, clientEvents, "disconnected:connection closed:maintenance")

	if r := s.Start(engine.StartConfig{MaxConnections: 2, Insecure: true}); r != engine.Started {
		t.Errorf("restart: got %v", r)
	}
}

// TestCloseConnection kicks a peer with a message.
func TestCloseConnection(t *testing.T) {
	n := loopback.NewNetwork()
	s, _ := startServer(t, n, engine.StartConfig{})
	c := connectClient(t, n, s)
	serverEvents := recordServer(s)
	clientEvents := recordClient(c)

	s.CloseConnection(c.GUID(), true, "kicked")
	checkEvents(t, serverEvents, "disconnected:0:closed by user:kicked")

	c.Tick()
	checkEvents(t, clientEvents, "disconnected:connection closed:kicked")

	s.CloseConnection(c.GUID(), true, "kicked")
	checkEvents(t, serverEvents)
}

// TestBroadcast covers SendToAll and SendToAllExcept.
func TestBroadcast(t *testing.T) {
	n := loopback.NewNetwork()
	s, _ := startServer(t, n, engine.StartConfig{})
	a := connectClient(t, n, s)
	b := connectClient(t, n, s)
	aEvents := recordClient(a)
	bEvents := recordClient(b)

	msg := s.NewMessage(testPacket)
	msg.WriteString("all")
	if err := s.SendToAll(msg, engine.DefaultSendOptions); err != nil {
		t.Fatalf("SendToAll: %v", err)
	}
	msg = s.NewMessage(testPacket)
	msg.WriteString("not a")
	if err := s.SendToAllExcept(a.GUID(), msg, engine.DefaultSendOptions); err != nil {
		t.Fatalf("SendToAllExcept: %v", err)
	}

	a.Tick()
	b.Tick()
	checkEvents(t, aEvents, "received:200:all")
	checkEvents(t, bEvents, "received:200:all", "received:200:not a")
}

// TestPoolReuse checks that a drain recycles one stream.
func TestPoolReuse(t *testing.T) {
	n := loopback.NewNetwork()
	s, _ := startServer(t, n, engine.StartConfig{})
	c := connectClient(t, n, s)

	for i := 0; i < 5; i++ {
		msg := c.NewMessage(testPacket)
		msg.WriteUint32(uint32(i))
		_ = c.Send(msg, engine.DefaultSendOptions)
	}
	s.Tick()

	if got := s.d.pool.Len(); got != 1 {
		t.Errorf("server pool: got %d streams, want 1", got)
	}
	if got := c.d.pool.Len(); got != 1 {
		t.Errorf("client pool: got %d streams, want 1", got)
	}
}

// TestStatisticsRefresh checks that ticks cache engine statistics.
func TestStatisticsRefresh(t *testing.T) {
	n := loopback.NewNetwork()
	s, _ := startServer(t, n, engine.StartConfig{})
	c := connectClient(t, n, s)

	msg := c.NewMessage(testPacket)
	msg.WriteString("count me")
	_ = c.Send(msg, engine.DefaultSendOptions)
	c.Tick()
	s.Tick()

	if st := c.Statistics(); st.Total(stats.BytesPushed) == 0 {
		t.Error("client statistics should be refreshed by Tick")
	}
	if st, ok := s.Statistics(c.GUID()); !ok || st.Total(stats.BytesReceivedProcessed) == 0 {
		t.Errorf("server statistics for peer: ok=%v", ok)
	}
	if c.Loss() != 0 {
		t.Errorf("loss: got %d", c.Loss())
	}

	c.Disconnect()
	if st := c.Statistics(); st.Total(stats.BytesPushed) != 0 {
		t.Error("statistics should reset on disconnect")
	}
}

// TestMissingEngine checks the safe defaults without an engine.
func TestMissingEngine(t *testing.T) {
	c := NewClient(nil)
	if r := c.Connect("127.0.0.1", 1, "", 1); r != engine.ClientPointerIsNull {
		t.Errorf("Connect: got %v", r)
	}
	c.Tick()
	if err := c.Send(c.NewMessage(testPacket), engine.DefaultSendOptions); !errors.Is(err, engine.ErrUnavailable) {
		t.Errorf("Send: got %v", err)
	}
	if c.Ping() != -1 || c.GUID() != 0 {
		t.Error("ping and GUID should report nothing")
	}

	s := NewServer(nil)
	if r := s.Start(engine.StartConfig{MaxConnections: 1}); r != engine.ServerPointerIsNull {
		t.Errorf("Start: got %v", r)
	}
	s.Tick()
	if s.State() != ServerNotStarted {
		t.Errorf("state: %v", s.State())
	}
	if err := s.SendToAll(s.NewMessage(testPacket), engine.DefaultSendOptions); !errors.Is(err, engine.ErrUnavailable) {
		t.Errorf("SendToAll: got %v", err)
	}
	if err := s.AddBan("10.0.0.1", 0); !errors.Is(err, engine.ErrUnavailable) {
		t.Errorf("AddBan: got %v", err)
	}
}

// TestClosedEngine abandons the tick when the engine reports unavailable.
func TestClosedEngine(t *testing.T) {
	n := loopback.NewNetwork()
	eng := n.NewClient()
	c := NewClient(eng)
	events := recordClient(c)

	c.Connect("127.0.0.1", 1, "", 1)
	_ = eng.Close()
	c.Tick()

	checkEvents(t, events, "connecting")
	if c.State() != ClientConnecting {
		t.Errorf("state should be left alone, got %v", c.State())
	}
}

// TestLoop runs ticks until the context is cancelled.
func TestLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var order []string
	ticks := 0
	err := Loop(ctx, time.Millisecond,
		TickFunc(func() { order = append(order, "server") }),
		TickFunc(func() {
			order = append(order, "client")
			ticks++
			if ticks == 3 {
				cancel()
			}
		}),
	)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Loop returned %v", err)
	}
	want := []string{"server", "client", "server", "client", "server", "client"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order: got %v", order)
	}
}
