// Package rtc is the WebRTC engine: sessions reach each other through a
// signaling WebSocket, then talk over a transport.Link whose data channels
// provide the reliability and ordering the session layer asks for.
package rtc

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/1ureka/rakpeer/internal/signaling"
	"github.com/1ureka/rakpeer/internal/transport"
	"github.com/1ureka/rakpeer/internal/util"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultRetryDelay = 500 * time.Millisecond
	wildcardHost      = "0.0.0.0"
)

// Config tunes both engine roles.
type Config struct {
	// ICEServers is passed to every transport.Link; nil selects the
	// default STUN servers.
	ICEServers []string

	// Timeout bounds one connection attempt: admission, SDP exchange and
	// ICE until the data channels open.
	Timeout time.Duration

	// RetryDelay separates client connection attempts.
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	return c
}

func (c Config) link(shaper transport.Shaper) transport.Config {
	return transport.Config{ICEServers: c.ICEServers, Shaper: shaper}
}

var log = util.NewLogger("rtc")

// Query fetches the query response of the server at address:port.
func Query(ctx context.Context, address string, port uint16) ([]byte, error) {
	return signaling.Query(ctx, address, port)
}

// resolve maps a host name or literal to one IPv4 or IPv6 address.
func resolve(ctx context.Context, address string) (string, bool) {
	if address == "" {
		return "", false
	}
	if ip := net.ParseIP(address); ip != nil {
		return ip.String(), true
	}
	addrs, err := net.DefaultResolver.LookupHost(ctx, address)
	if err != nil || len(addrs) == 0 {
		return "", false
	}
	return addrs[0], true
}

func joinHostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

func splitHostPort(address string) (string, uint16) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return address, 0
	}
	n, _ := strconv.Atoi(port)
	return host, uint16(n)
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

// stamp returns the local time in milliseconds for Packet.ReceiveTime.
func stamp() uint64 {
	return uint64(time.Now().UnixMilli())
}
