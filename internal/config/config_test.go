package config

import (
	"strings"
	"testing"
)

// TestValidate checks accepted and rejected configurations.
func TestValidate(t *testing.T) {
	base := Default()

	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"host defaults", func(c *Config) { c.Role = RoleHost }, ""},
		{"host any port", func(c *Config) { c.Role = RoleHost; c.Port = 0 }, ""},
		{"client", func(c *Config) { c.Role = RoleClient; c.Address = "10.0.0.1" }, ""},
		{"loopback client needs no address", func(c *Config) { c.Role = RoleClient; c.Transport = TransportLoopback }, ""},
		{"missing role", func(c *Config) {}, "invalid role"},
		{"bad transport", func(c *Config) { c.Role = RoleHost; c.Transport = "udp" }, "invalid transport"},
		{"client port zero", func(c *Config) { c.Role = RoleClient; c.Address = "a"; c.Port = 0 }, "invalid port 0"},
		{"port too large", func(c *Config) { c.Role = RoleHost; c.Port = 70000 }, "invalid port"},
		{"client without address", func(c *Config) { c.Role = RoleClient }, "missing server address"},
		{"no capacity", func(c *Config) { c.Role = RoleHost; c.MaxConnections = 0 }, "invalid max connections"},
		{"no attempts", func(c *Config) { c.Role = RoleClient; c.Address = "a"; c.Attempts = 0 }, "invalid attempts"},
		{"loopback query", func(c *Config) { c.Role = RoleQuery; c.Transport = TransportLoopback }, "query needs the rtc transport"},
		{"no tick", func(c *Config) { c.Role = RoleHost; c.TickInterval = 0 }, "invalid tick interval"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("got %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

// TestValidateReportsAll ensures several problems are joined.
func TestValidateReportsAll(t *testing.T) {
	c := Config{Role: "x", Transport: "y", Port: -1}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{"invalid role", "invalid transport", "invalid port", "invalid tick interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

// TestSplitList covers the comma-separated flag parser.
func TestSplitList(t *testing.T) {
	testCases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"stun:a", []string{"stun:a"}},
		{" stun:a , ,stun:b ", []string{"stun:a", "stun:b"}},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got := SplitList(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("item %d: got %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}
