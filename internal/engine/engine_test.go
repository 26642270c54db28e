package engine

import (
	"testing"

	"github.com/1ureka/rakpeer/internal/bitstream"
	"github.com/1ureka/rakpeer/internal/protocol"
)

// TestNewGUIDUnique draws a batch of identifiers and checks for collisions.
func TestNewGUIDUnique(t *testing.T) {
	seen := make(map[uint64]struct{}, 1000)
	for range 1000 {
		g := NewGUID()
		if g == 0 {
			t.Fatal("GUID must not be zero")
		}
		if _, dup := seen[g]; dup {
			t.Fatalf("duplicate GUID %x", g)
		}
		seen[g] = struct{}{}
	}
}

// TestControlPacket checks the control payload layout.
func TestControlPacket(t *testing.T) {
	testCases := []struct {
		name    string
		message string
		size    int
	}{
		{"bare", "", 1},
		{"with message", "server restarting", 1 + 2 + len("server restarting")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := ControlPacket(protocol.IDDisconnectionNotification, tc.message)
			if len(data) != tc.size {
				t.Fatalf("size: got %d, want %d", len(data), tc.size)
			}
			b := bitstream.FromBytes(data)
			if id := b.ReadUint8(); id != protocol.IDDisconnectionNotification {
				t.Errorf("id: got %d", id)
			}
			if got := b.ReadString(); got != tc.message {
				t.Errorf("message: got %q, want %q", got, tc.message)
			}
		})
	}
}

// TestResultStrings makes sure every result has a readable name.
func TestResultStrings(t *testing.T) {
	for r := ClientPointerIsNull; r <= AlreadyConnecting; r++ {
		if r.String() == "unknown" {
			t.Errorf("ConnectResult %d has no name", r)
		}
	}
	for r := ServerPointerIsNull; r <= BindingError; r++ {
		if r.String() == "unknown" {
			t.Errorf("StartResult %d has no name", r)
		}
	}
}
