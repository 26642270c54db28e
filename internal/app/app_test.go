package app

import (
	"errors"
	"reflect"
	"testing"

	"github.com/1ureka/rakpeer/internal/engine"
	"github.com/1ureka/rakpeer/internal/engine/loopback"
	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/session"
)

// pair is a sample host and one guest on a loopback network.
type pair struct {
	net   *loopback.Network
	srv   *session.Server
	cli   *session.Client
	host  *Host
	guest *Guest
}

func newPair(t *testing.T, name string) *pair {
	t.Helper()
	n := loopback.NewNetwork()
	srv := session.NewServer(n.NewServer())
	h := NewHost(srv, "test")
	if r := srv.Start(engine.StartConfig{Address: "127.0.0.1", Port: 7777, MaxConnections: 4}); r != engine.Started {
		t.Fatalf("Start: %s", r)
	}
	srv.SetQueryAllowed(true)
	h.Publish()

	cli := session.NewClient(n.NewClient())
	g := NewGuest(cli, name)
	if r := cli.Connect("127.0.0.1", 7777, "", 1); r != engine.Connecting {
		t.Fatalf("Connect: %s", r)
	}
	t.Cleanup(func() {
		cli.Close()
		srv.Close()
	})
	return &pair{net: n, srv: srv, cli: cli, host: h, guest: g}
}

// settle ticks both sides enough times for the exchange to finish.
func (p *pair) settle() {
	for range 4 {
		p.cli.Tick()
		p.srv.Tick()
	}
}

// TestDataExchange runs request, reply and accept end to end.
func TestDataExchange(t *testing.T) {
	p := newPair(t, "Alice")
	var accepted []Player
	p.host.OnAccepted = func(pl Player) { accepted = append(accepted, pl) }
	p.settle()

	if !p.guest.Accepted() {
		t.Fatal("guest was not accepted")
	}
	if got := p.guest.Name(); got != "edited_Alice" {
		t.Errorf("guest name: got %q, want %q", got, "edited_Alice")
	}
	if len(accepted) != 1 || accepted[0].Name != "Alice" || accepted[0].GUID != p.cli.GUID() {
		t.Errorf("host accepted %+v", accepted)
	}
	if got := p.host.Players(); len(got) != 1 || got[0].Name != "Alice" {
		t.Errorf("players: %+v", got)
	}
}

// TestQueryResponse checks the published server info follows the players.
func TestQueryResponse(t *testing.T) {
	p := newPair(t, "Bob")
	p.settle()

	data, err := p.net.Query("127.0.0.1", 7777)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	info, err := DecodeServerInfo(data)
	if err != nil {
		t.Fatalf("DecodeServerInfo failed: %v", err)
	}
	want := ServerInfo{Name: "test", Players: []string{"Bob"}, MaxConnections: 4, Version: protocol.ProtocolVersion}
	if !reflect.DeepEqual(info, want) {
		t.Errorf("got %+v, want %+v", info, want)
	}

	p.cli.Disconnect()
	p.settle()
	data, _ = p.net.Query("127.0.0.1", 7777)
	info, _ = DecodeServerInfo(data)
	if len(info.Players) != 0 {
		t.Errorf("players after leave: %q", info.Players)
	}
}

// TestKickAndBan covers the host's moderation helpers.
func TestKickAndBan(t *testing.T) {
	t.Run("kick", func(t *testing.T) {
		p := newPair(t, "Carol")
		var got []string
		p.guest.OnDisconnected = func(reason protocol.DisconnectReason, message string) {
			got = append(got, reason.String()+":"+message)
		}
		p.settle()

		p.host.Kick(p.cli.GUID(), "bye")
		p.settle()
		if !reflect.DeepEqual(got, []string{"connection closed:bye"}) {
			t.Errorf("guest saw %q", got)
		}
		if len(p.host.Players()) != 0 {
			t.Errorf("players: %+v", p.host.Players())
		}
	})

	t.Run("ban", func(t *testing.T) {
		p := newPair(t, "Dave")
		p.settle()

		if err := p.host.Ban(p.cli.GUID()); err != nil {
			t.Fatalf("Ban failed: %v", err)
		}
		p.settle()
		if !p.srv.IsBanned("127.0.0.1") {
			t.Error("address not banned")
		}
		if err := p.host.Ban(12345); !errors.Is(err, engine.ErrNotConnected) {
			t.Errorf("Ban of unknown guid: got %v", err)
		}
	})
}

// TestServerInfoEncoding round-trips the query document.
func TestServerInfoEncoding(t *testing.T) {
	in := ServerInfo{Name: "lobby", Players: []string{"a", "b"}, MaxConnections: 8, Password: true, Version: 6}
	data, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := DecodeServerInfo(data)
	if err != nil {
		t.Fatalf("DecodeServerInfo failed: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("got %+v, want %+v", out, in)
	}

	if _, err := DecodeServerInfo([]byte{0xc1}); err == nil {
		t.Error("expected an error for a malformed document")
	}
}
