package signaling

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// TestMessageJSON checks the wire names and that empty fields are omitted.
func TestMessageJSON(t *testing.T) {
	testCases := []struct {
		name string
		msg  Message
		want string
	}{
		{"hello", Message{Type: MsgTypeHello, GUID: 7, Password: "pw", Version: 6, Secure: true},
			`{"type":"hello","guid":7,"password":"pw","version":6,"secure":true}`},
		{"reject", Message{Type: MsgTypeReject, Reason: 23}, `{"type":"reject","reason":23}`},
		{"offer", Message{Type: MsgTypeOffer, SDP: "v=0"}, `{"type":"offer","sdp":"v=0"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.msg)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(data) != tc.want {
				t.Errorf("got %s, want %s", data, tc.want)
			}
		})
	}
}

// TestServerRoundTrip dials the WebSocket endpoint and echoes one message.
func TestServerRoundTrip(t *testing.T) {
	srv := NewServer(func(conn *Conn) {
		msg, err := conn.Receive()
		if err != nil {
			return
		}
		_ = conn.Send(Message{Type: MsgTypeAccept, GUID: msg.GUID + 1})
	}, nil)
	port, err := srv.Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, URL("127.0.0.1", port))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(Message{Type: MsgTypeHello, GUID: 41}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	reply, err := conn.ReceiveWithin(5 * time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if reply.Type != MsgTypeAccept || reply.GUID != 42 {
		t.Errorf("unexpected reply %+v", reply)
	}
}

// TestQuery covers the payload, absent handler and refused cases.
func TestQuery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("payload", func(t *testing.T) {
		srv := NewServer(func(*Conn) {}, func() ([]byte, bool) { return []byte("info"), true })
		port, err := srv.Listen("127.0.0.1", 0)
		if err != nil {
			t.Fatalf("Listen failed: %v", err)
		}
		defer srv.Close()

		got, err := Query(ctx, "127.0.0.1", port)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if string(got) != "info" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("no handler", func(t *testing.T) {
		srv := NewServer(func(*Conn) {}, nil)
		port, err := srv.Listen("127.0.0.1", 0)
		if err != nil {
			t.Fatalf("Listen failed: %v", err)
		}
		defer srv.Close()

		if _, err := Query(ctx, "127.0.0.1", port); err == nil || !strings.Contains(err.Error(), "404") {
			t.Errorf("expected 404 error, got %v", err)
		}
	})
}

// TestListenInUse ensures binding a taken port fails.
func TestListenInUse(t *testing.T) {
	first := NewServer(func(*Conn) {}, nil)
	port, err := first.Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer first.Close()

	second := NewServer(func(*Conn) {}, nil)
	if _, err := second.Listen("127.0.0.1", port); err == nil {
		second.Close()
		t.Fatal("expected second Listen to fail")
	}
}

// TestURL formats IPv4 and IPv6 endpoints.
func TestURL(t *testing.T) {
	if got := URL("10.0.0.1", 80); got != "ws://10.0.0.1:80/ws" {
		t.Errorf("got %q", got)
	}
	if got := URL("::1", 80); got != "ws://[::1]:80/ws" {
		t.Errorf("got %q", got)
	}
}
