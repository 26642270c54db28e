package session

import "testing"

// TestRegistryCompaction removes entries from the front, middle and back.
func TestRegistryCompaction(t *testing.T) {
	testCases := []struct {
		name   string
		remove uint64
		want   []uint64
	}{
		{"front", 10, []uint64{20, 30, 40}},
		{"middle", 30, []uint64{10, 20, 40}},
		{"back", 40, []uint64{10, 20, 30}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry()
			for _, g := range []uint64{10, 20, 30, 40} {
				if _, ok := r.Add(g, "10.0.0.1", 1000); !ok {
					t.Fatalf("Add(%d) failed", g)
				}
			}

			removed, ok := r.Remove(tc.remove)
			if !ok || removed.GUID != tc.remove || removed.State != ConnectionDisconnected {
				t.Fatalf("Remove: %+v, %v", removed, ok)
			}
			if _, ok := r.Get(tc.remove); ok {
				t.Error("removed GUID still resolves")
			}
			if r.Len() != len(tc.want) {
				t.Fatalf("Len: got %d", r.Len())
			}
			for i, g := range tc.want {
				c, ok := r.At(uint16(i))
				if !ok || c.GUID != g || c.Index != uint16(i) {
					t.Errorf("index %d: got %+v, want GUID %d", i, c, g)
				}
			}
		})
	}
}

// TestRegistryAdd checks duplicate adds and Clear.
func TestRegistryAdd(t *testing.T) {
	r := NewRegistry()
	a, _ := r.Add(1, "127.0.0.1", 5000)
	b, _ := r.Add(1, "10.9.9.9", 6000)
	if a != b || r.Len() != 1 || b.Address != "127.0.0.1" {
		t.Errorf("duplicate add should return the first entry: %+v", b)
	}
	if a.State != ConnectionPending {
		t.Errorf("new entry state: %v", a.State)
	}
	if _, ok := r.Remove(99); ok {
		t.Error("removing an unknown GUID should fail")
	}

	r.Clear()
	if r.Len() != 0 {
		t.Errorf("Len after Clear: %d", r.Len())
	}
	if _, ok := r.Get(1); ok {
		t.Error("Get after Clear should fail")
	}
	if c, _ := r.Add(2, "", 0); c.Index != 0 {
		t.Errorf("index after Clear: %d", c.Index)
	}
}
