// Package engine defines the boundary between sessions and the transport
// engines that move their datagrams. Engines own reliability, ordering and
// the connection handshake; sessions only poll, classify and send.
//
// Engines may run goroutines internally but hand results to sessions only
// through Receive, which sessions call until it reports empty.
package engine

import (
	"errors"
	"time"

	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/stats"
)

var (
	// ErrUnavailable means the engine is missing, closed or not initialized.
	ErrUnavailable = errors.New("engine: unavailable")

	// ErrNotConnected means there is no live connection to send on.
	ErrNotConnected = errors.New("engine: not connected")
)

// Packet is one inbound datagram. Data starts with the packet type byte.
type Packet struct {
	Data        []byte
	GUID        uint64 // sender; for clients this is the server's GUID
	Address     string // sender "ip:port"
	ReceiveTime uint64 // local milliseconds when the engine received it
}

// SendOptions bundles the delivery parameters of one message.
type SendOptions struct {
	Priority    protocol.Priority
	Reliability protocol.Reliability
	Channel     uint8
}

// DefaultSendOptions is reliable-ordered at high priority on channel 0.
var DefaultSendOptions = SendOptions{
	Priority:    protocol.PriorityHigh,
	Reliability: protocol.ReliableOrdered,
}

// StartConfig describes how a server engine should listen.
type StartConfig struct {
	Address        string // bind address; empty listens on every interface
	Port           uint16 // zero picks a free port
	Password       string
	MaxConnections int
	Insecure       bool // accept peers that do not negotiate security
}

// Client is the engine surface a client session drives.
type Client interface {
	Connect(address string, port uint16, password string, attempts int) ConnectResult
	Disconnect()

	// Receive returns the next inbound packet, or (nil, nil) when none is
	// waiting. Every packet returned must be handed back with Release.
	Receive() (*Packet, error)
	Release(p *Packet)

	Send(data []byte, opts SendOptions) error

	GUID() uint64
	Ping() int
	AveragePing() int
	LowestPing() int

	// Statistics is safe to call from any goroutine.
	Statistics() (stats.Statistics, bool)

	Close() error
}

// Server is the engine surface a server session drives.
type Server interface {
	Start(cfg StartConfig) StartResult
	Stop(message string)

	Receive() (*Packet, error)
	Release(p *Packet)

	Send(guid uint64, data []byte, opts SendOptions) error
	// Broadcast sends to every connected peer except the one whose GUID is
	// except; zero excludes nobody.
	Broadcast(data []byte, opts SendOptions, except uint64) error
	CloseConnection(guid uint64, notify bool, message string)

	GUID() uint64
	BoundAddress() (string, uint16)
	RemoteAddress(guid uint64) (string, uint16, bool)
	Ping(guid uint64) int
	AveragePing(guid uint64) int
	LowestPing(guid uint64) int
	Statistics(guid uint64) (stats.Statistics, bool)

	SetPassword(password string)
	HasPassword() bool
	SetMaxConnections(n int)
	MaxConnections() int

	AddBan(pattern string, d time.Duration) error
	RemoveBan(pattern string)
	IsBanned(address string) bool
	ClearBans()

	SetBandwidthLimit(bytesPerSecond uint64)
	SetConnectionFrequencyLimit(enabled bool)
	SetQueryAllowed(allowed bool)
	SetQueryResponse(payload []byte)

	Close() error
}
