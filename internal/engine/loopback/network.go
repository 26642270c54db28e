// Package loopback is an in-process engine: clients and servers created from
// the same Network exchange datagrams through FIFO inboxes without
// touching the operating system. Delivery is instant and ordered; unreliable
// messages can optionally be dropped to exercise loss statistics.
package loopback

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"
)

const (
	firstEphemeralPort = 50000
	wildcardHost       = "0.0.0.0"
)

var errPortInUse = errors.New("loopback: port in use")

type binding struct {
	host   string
	port   uint16
	server *Server
}

// Network is the shared medium clients and servers attach to.
type Network struct {
	mu       sync.Mutex
	now      func() time.Time
	epoch    time.Time
	servers  map[string]binding
	nextPort uint16
	latency  int

	loss float64
	rng  *rand.Rand
}

// NewNetwork returns an empty network on the wall clock.
func NewNetwork() *Network {
	return NewNetworkWithClock(time.Now)
}

// NewNetworkWithClock returns an empty network driven by now.
func NewNetworkWithClock(now func() time.Time) *Network {
	return &Network{
		now:      now,
		epoch:    now(),
		servers:  make(map[string]binding),
		nextPort: firstEphemeralPort,
	}
}

// SetLatency sets the round trip every ping query reports, in milliseconds.
func (n *Network) SetLatency(ms int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latency = max(ms, 0)
}

// SetUnreliableLoss drops each unreliable message with probability rate,
// using a generator seeded with seed.
func (n *Network) SetUnreliableLoss(rate float64, seed uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loss = min(max(rate, 0), 1)
	n.rng = rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
}

func (n *Network) dropUnreliable() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loss > 0 && n.rng.Float64() < n.loss
}

func (n *Network) ping() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.latency
}

func (n *Network) stamp() uint64 {
	return uint64(n.now().Sub(n.epoch).Milliseconds())
}

// bind reserves host:port for s. Port zero picks a free one.
func (n *Network) bind(s *Server, host string, port uint16) (uint16, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if port == 0 {
		for n.portTaken(host, n.nextPort) {
			n.nextPort++
		}
		port = n.nextPort
		n.nextPort++
	} else if n.portTaken(host, port) {
		return 0, errPortInUse
	}
	n.servers[net.JoinHostPort(host, strconv.Itoa(int(port)))] = binding{host: host, port: port, server: s}
	return port, nil
}

// portTaken reports a clash; a wildcard bind clashes with every host.
// Caller holds mu.
func (n *Network) portTaken(host string, port uint16) bool {
	for _, b := range n.servers {
		if b.port == port && (b.host == host || b.host == wildcardHost || host == wildcardHost) {
			return true
		}
	}
	return false
}

func (n *Network) unbind(host string, port uint16) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.servers, net.JoinHostPort(host, strconv.Itoa(int(port))))
}

func (n *Network) lookup(host string, port uint16) *Server {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := strconv.Itoa(int(port))
	if b, ok := n.servers[net.JoinHostPort(host, p)]; ok {
		return b.server
	}
	return n.servers[net.JoinHostPort(wildcardHost, p)].server
}

// Query returns the query payload of the server at address:port, the
// in-process counterpart of an unconnected ping.
func (n *Network) Query(address string, port uint16) ([]byte, error) {
	host, ok := resolve(address)
	if !ok {
		return nil, fmt.Errorf("cannot resolve %q", address)
	}
	s := n.lookup(host, port)
	if s == nil {
		return nil, fmt.Errorf("no server at %s", net.JoinHostPort(host, strconv.Itoa(int(port))))
	}
	return s.queryReply()
}

// resolve accepts literal IPs and "localhost".
func resolve(address string) (string, bool) {
	if address == "localhost" {
		return "127.0.0.1", true
	}
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
