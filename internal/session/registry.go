package session

import (
	"math"

	"github.com/1ureka/rakpeer/internal/stats"
)

// ConnectionState is the lifecycle of one registry entry.
type ConnectionState int

const (
	ConnectionPending ConnectionState = iota
	ConnectionConnected
	ConnectionDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionPending:
		return "pending"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Connection is what a server knows about one peer.
type Connection struct {
	GUID       uint64
	Address    string
	Port       uint16
	Index      uint16
	State      ConnectionState
	Statistics stats.Statistics
}

// Registry maps peer GUIDs to connections and keeps their indices dense:
// removing a peer shifts every later peer down by one, so indices always
// run 0..Len()-1 in join order.
//
// Registry is not safe for concurrent use.
type Registry struct {
	list   []*Connection
	byGUID map[uint64]*Connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byGUID: make(map[uint64]*Connection)}
}

// Add registers guid at the next index in the pending state. Adding a GUID
// that is already present returns the existing entry. It fails only when
// every index is taken.
func (r *Registry) Add(guid uint64, address string, port uint16) (*Connection, bool) {
	if c, ok := r.byGUID[guid]; ok {
		return c, true
	}
	if len(r.list) > math.MaxUint16 {
		return nil, false
	}
	c := &Connection{
		GUID:    guid,
		Address: address,
		Port:    port,
		Index:   uint16(len(r.list)),
		State:   ConnectionPending,
	}
	r.list = append(r.list, c)
	r.byGUID[guid] = c
	return c, true
}

// Remove deletes guid and compacts the indices behind it. The returned copy
// is marked disconnected.
func (r *Registry) Remove(guid uint64) (Connection, bool) {
	c, ok := r.byGUID[guid]
	if !ok {
		return Connection{}, false
	}
	delete(r.byGUID, guid)

	i := int(c.Index)
	copy(r.list[i:], r.list[i+1:])
	r.list[len(r.list)-1] = nil
	r.list = r.list[:len(r.list)-1]
	for ; i < len(r.list); i++ {
		r.list[i].Index = uint16(i)
	}

	out := *c
	out.State = ConnectionDisconnected
	return out, true
}

// Get returns the live entry for guid.
func (r *Registry) Get(guid uint64) (*Connection, bool) {
	c, ok := r.byGUID[guid]
	return c, ok
}

// At returns the entry at index.
func (r *Registry) At(index uint16) (*Connection, bool) {
	if int(index) >= len(r.list) {
		return nil, false
	}
	return r.list[index], true
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.list)
}

// Each calls fn for every entry in index order.
func (r *Registry) Each(fn func(c *Connection)) {
	for _, c := range r.list {
		fn(c)
	}
}

// Snapshot returns copies of every entry in index order.
func (r *Registry) Snapshot() []Connection {
	out := make([]Connection, len(r.list))
	for i, c := range r.list {
		out[i] = *c
	}
	return out
}

// Clear drops every entry.
func (r *Registry) Clear() {
	clear(r.list)
	r.list = r.list[:0]
	clear(r.byGUID)
}
