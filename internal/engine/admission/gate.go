package admission

import (
	"sync"
	"time"

	"github.com/1ureka/rakpeer/internal/protocol"
)

// Request describes one incoming connection attempt.
type Request struct {
	GUID            uint64
	Address         string // "ip:port"
	Password        string
	ProtocolVersion uint8
	Secure          bool // the peer negotiated transport security
}

// Gate applies the server's admission rules in a fixed order: ban list,
// connection frequency, protocol version, security, password, duplicate
// session, then capacity.
type Gate struct {
	Bans      *BanList
	Frequency *FrequencyLimiter

	mu             sync.Mutex
	password       string
	maxConnections int
	insecure       bool
}

// NewGate returns a gate with no password and no capacity.
func NewGate(now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{
		Bans:      NewBanListWithClock(now),
		Frequency: NewFrequencyLimiter(DefaultFrequencyWindow, now),
	}
}

// Configure sets the rules a freshly started server listens with.
func (g *Gate) Configure(password string, maxConnections int, insecure bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.password = password
	g.maxConnections = maxConnections
	g.insecure = insecure
}

func (g *Gate) SetPassword(password string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.password = password
}

func (g *Gate) HasPassword() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.password != ""
}

func (g *Gate) SetMaxConnections(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maxConnections = max(n, 0)
}

func (g *Gate) MaxConnections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxConnections
}

// Check returns IDConnectionRequestAccepted when req may connect, otherwise
// the control identifier the peer should be refused with. connected is the
// current number of peers and has reports whether a GUID already holds a
// session.
func (g *Gate) Check(req Request, connected int, has func(guid uint64) bool) protocol.MessageID {
	if g.Bans.Contains(req.Address) {
		return protocol.IDConnectionBanned
	}
	if !g.Frequency.Allow(req.Address) {
		return protocol.IDIPRecentlyConnected
	}
	if req.ProtocolVersion != protocol.ProtocolVersion {
		return protocol.IDIncompatibleProtocolVersion
	}

	g.mu.Lock()
	password, maxConnections, insecure := g.password, g.maxConnections, g.insecure
	g.mu.Unlock()

	if !insecure && !req.Secure {
		return protocol.IDRemoteSystemRequiresPublicKey
	}
	if req.Password != password {
		return protocol.IDInvalidPassword
	}
	if has != nil && has(req.GUID) {
		return protocol.IDAlreadyConnected
	}
	if connected >= maxConnections {
		return protocol.IDNoFreeIncomingConnections
	}
	return protocol.IDConnectionRequestAccepted
}
