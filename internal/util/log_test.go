package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pterm/pterm"
)

// TestLogLevels checks which level each helper writes through the default
// logger, timestamp included.
func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	prev := pterm.DefaultLogger.Writer
	pterm.DefaultLogger.Writer = &buf
	t.Cleanup(func() { pterm.DefaultLogger.Writer = prev })

	testCases := []struct {
		name  string
		log   func(format string, args ...interface{})
		level string
	}{
		{"success", LogSuccess, "INFO"},
		{"info", LogInfo, "INFO"},
		{"warning", LogWarning, "WARN"},
		{"error", LogError, "ERROR"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			tc.log("listening on %d", 7777)
			out := pterm.RemoveColorFromString(buf.String())
			if !strings.Contains(out, tc.level+" ") || !strings.Contains(out, "listening on 7777") {
				t.Errorf("got %q, want level %s", out, tc.level)
			}
			if !strings.Contains(out, ":") {
				t.Errorf("missing timestamp: %q", out)
			}
		})
	}
}
