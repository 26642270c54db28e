// Package admission decides whether a connecting peer is let in: ban list,
// connection frequency, password, protocol version and capacity checks. It
// also provides the outgoing bandwidth shaper engines share.
package admission

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go4.org/netipx"
)

type ban struct {
	prefix  netip.Prefix
	expires time.Time // zero means never
}

// BanList holds address patterns with optional expiry. Patterns may be a
// single address ("10.0.0.7"), an IPv4 wildcard with trailing stars
// ("192.168.*.*") or a CIDR prefix ("fd00::/8").
type BanList struct {
	mu   sync.Mutex
	now  func() time.Time
	bans map[string]ban
	set  *netipx.IPSet
}

// NewBanList returns an empty list using the wall clock.
func NewBanList() *BanList {
	return NewBanListWithClock(time.Now)
}

// NewBanListWithClock returns an empty list driven by now.
func NewBanListWithClock(now func() time.Time) *BanList {
	return &BanList{now: now, bans: make(map[string]ban), set: &netipx.IPSet{}}
}

// Add bans pattern for d, or forever when d is zero. Re-adding a pattern
// replaces its expiry.
func (l *BanList) Add(pattern string, d time.Duration) error {
	pattern = strings.TrimSpace(pattern)
	prefix, err := ParsePattern(pattern)
	if err != nil {
		return err
	}

	var expires time.Time
	if d > 0 {
		expires = l.now().Add(d)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.bans[pattern] = ban{prefix: prefix, expires: expires}
	return l.rebuild()
}

// Remove lifts the ban on exactly pattern.
func (l *BanList) Remove(pattern string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.bans[strings.TrimSpace(pattern)]; !ok {
		return
	}
	delete(l.bans, strings.TrimSpace(pattern))
	_ = l.rebuild()
}

// Clear lifts every ban.
func (l *BanList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bans = make(map[string]ban)
	l.set = &netipx.IPSet{}
}

// Len returns the number of active patterns.
func (l *BanList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expire()
	return len(l.bans)
}

// Contains reports whether address, given as "ip" or "ip:port", is banned.
// Unparseable addresses are never banned.
func (l *BanList) Contains(address string) bool {
	addr, ok := parseHost(address)
	if !ok {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expire()
	return l.set.Contains(addr)
}

// expire drops elapsed bans. Caller holds mu.
func (l *BanList) expire() {
	now := l.now()
	changed := false
	for p, b := range l.bans {
		if !b.expires.IsZero() && !now.Before(b.expires) {
			delete(l.bans, p)
			changed = true
		}
	}
	if changed {
		_ = l.rebuild()
	}
}

// rebuild recomputes the IP set. Caller holds mu.
func (l *BanList) rebuild() error {
	var b netipx.IPSetBuilder
	for _, ban := range l.bans {
		b.AddPrefix(ban.prefix)
	}
	set, err := b.IPSet()
	if err != nil {
		return fmt.Errorf("failed to build ban set: %w", err)
	}
	l.set = set
	return nil
}

// ParsePattern converts a ban pattern into the prefix it covers.
func ParsePattern(pattern string) (netip.Prefix, error) {
	if strings.Contains(pattern, "/") {
		p, err := netip.ParsePrefix(pattern)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid ban prefix %q: %w", pattern, err)
		}
		return p.Masked(), nil
	}
	if strings.Contains(pattern, "*") {
		return parseWildcard(pattern)
	}
	addr, err := netip.ParseAddr(pattern)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid ban address %q: %w", pattern, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func parseWildcard(pattern string) (netip.Prefix, error) {
	parts := strings.Split(pattern, ".")
	if len(parts) != 4 {
		return netip.Prefix{}, fmt.Errorf("invalid wildcard %q: want four IPv4 octets", pattern)
	}
	var octets [4]byte
	bits := 0
	wild := false
	for i, part := range parts {
		if part == "*" {
			wild = true
			continue
		}
		if wild {
			return netip.Prefix{}, fmt.Errorf("invalid wildcard %q: stars must be trailing", pattern)
		}
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 || v > 255 {
			return netip.Prefix{}, fmt.Errorf("invalid wildcard %q: bad octet %q", pattern, part)
		}
		octets[i] = byte(v)
		bits += 8
	}
	return netip.PrefixFrom(netip.AddrFrom4(octets), bits), nil
}

// parseHost extracts the IP from "ip" or "ip:port".
func parseHost(address string) (netip.Addr, bool) {
	host := address
	if h, _, err := net.SplitHostPort(address); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
