// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role represents the user's chosen role.
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
	RoleQuery  Role = "query" // fetch a server's query response and exit
)

// Transport selects the engine implementation.
type Transport string

const (
	TransportRTC      Transport = "rtc"
	TransportLoopback Transport = "loopback" // host and client in one process
)

const (
	DefaultPort           = 7777
	DefaultMaxConnections = 8
	DefaultAttempts       = 6
	DefaultTickInterval   = 16 * time.Millisecond
)

// Config stores all parameters gathered from CLI flags or the interactive
// prompts.
type Config struct {
	Role      Role
	Transport Transport

	Address  string // host: bind address, empty for every interface; client/query: server address
	Port     int
	Password string
	Name     string // client: player name sent in the data reply

	MaxConnections int  // host only
	Insecure       bool // host: admit peers that did not negotiate security
	Attempts       int  // client only

	TickInterval time.Duration
	ICEServers   []string // nil selects the transport defaults
	Debug        bool
}

// Default returns a configuration with every optional field filled.
func Default() Config {
	return Config{
		Transport:      TransportRTC,
		Port:           DefaultPort,
		MaxConnections: DefaultMaxConnections,
		Attempts:       DefaultAttempts,
		TickInterval:   DefaultTickInterval,
	}
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Role {
	case RoleHost, RoleClient, RoleQuery:
	default:
		errs = append(errs, fmt.Errorf("invalid role %q: must be host, client or query", c.Role))
	}
	switch c.Transport {
	case TransportRTC, TransportLoopback:
	default:
		errs = append(errs, fmt.Errorf("invalid transport %q: must be rtc or loopback", c.Transport))
	}
	if c.Role == RoleQuery && c.Transport == TransportLoopback {
		errs = append(errs, errors.New("query needs the rtc transport"))
	}

	minPort := 1
	if c.Role == RoleHost {
		minPort = 0 // any free port
	}
	if c.Port < minPort || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d: must be %d ~ 65535", c.Port, minPort))
	}
	if c.Role != RoleHost && strings.TrimSpace(c.Address) == "" && c.Transport == TransportRTC {
		errs = append(errs, errors.New("missing server address"))
	}

	if c.Role == RoleHost && (c.MaxConnections < 1 || c.MaxConnections > 65535) {
		errs = append(errs, fmt.Errorf("invalid max connections %d: must be 1 ~ 65535", c.MaxConnections))
	}
	if c.Role == RoleClient && c.Attempts < 1 {
		errs = append(errs, fmt.Errorf("invalid attempts %d: must be at least 1", c.Attempts))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid tick interval %s", c.TickInterval))
	}

	return errors.Join(errs...)
}

// SplitList parses a comma-separated flag value, dropping empty items.
// An empty input yields nil.
func SplitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
