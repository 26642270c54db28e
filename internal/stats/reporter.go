package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/1ureka/rakpeer/internal/util"
)

// Source returns the statistics to report and whether there is a live
// connection to report on. It is called from the reporter goroutine and must
// be safe for that.
type Source func() (Statistics, bool)

// StartReporter launches a goroutine that logs a one-line traffic summary
// for src every interval while there is something worth reporting. It stops
// when ctx is cancelled.
func StartReporter(ctx context.Context, interval time.Duration, label string, src Source) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s, ok := src()
				if !ok {
					continue
				}
				in := s.LastSecond(ActualBytesReceived)
				out := s.LastSecond(ActualBytesSent)
				if in > 10 || out > 10 || s.PacketLoss() > 0 {
					util.LogInfo("%s %s", label, formatStats(&s))
				}

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes renders a byte count in exactly 8 characters,
// e.g. "99.0   B", " 1.5 KiB", "98.9 GiB".
func FormatBytes(b float64) string {
	unitIdx := 0

	// keep at most two integer digits
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

func formatStats(s *Statistics) string {
	var queued uint64
	for _, n := range s.MessagesInSendBuffer {
		queued += n
	}
	return fmt.Sprintf("In: %s/s | Out: %s/s | Loss: %2d%% | Queued: %d",
		FormatBytes(float64(s.LastSecond(ActualBytesReceived))),
		FormatBytes(float64(s.LastSecond(ActualBytesSent))),
		s.PacketLoss(),
		queued,
	)
}
