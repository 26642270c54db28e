// Package stats holds per-connection network statistics: the snapshot type
// handed to applications and the rolling tracker engines feed it from.
package stats

import "github.com/1ureka/rakpeer/internal/protocol"

// Metric selects one of the per-second / running-total counters.
type Metric int

const (
	BytesPushed Metric = iota // bytes handed to the engine by the application
	BytesSent                 // user payload bytes put on the wire
	MessagesSent
	BytesResent
	MessagesResent
	BytesReceivedProcessed // bytes delivered to the application
	BytesReceivedIgnored   // bytes dropped as duplicates or stale
	ActualBytesSent        // wire bytes including engine overhead
	ActualMessagesSent
	ActualBytesReceived
	ActualMessagesReceived

	MetricCount
)

var metricNames = [MetricCount]string{
	"bytes pushed",
	"bytes sent",
	"messages sent",
	"bytes resent",
	"messages resent",
	"bytes received (processed)",
	"bytes received (ignored)",
	"actual bytes sent",
	"actual messages sent",
	"actual bytes received",
	"actual messages received",
}

func (m Metric) String() string {
	if m < 0 || m >= MetricCount {
		return "unknown"
	}
	return metricNames[m]
}

// Statistics is a point-in-time view of one connection. Times are in
// milliseconds. RunningTotal is not guaranteed to be at least ValueLastSecond
// because the two are sampled from different windows.
type Statistics struct {
	ValueLastSecond [MetricCount]uint64
	RunningTotal    [MetricCount]uint64

	ConnectionStartTime uint64
	ConnectionTime      uint64

	CongestionLimited  bool
	CongestionLimitBPS uint64
	BandwidthLimited   bool
	BandwidthLimitBPS  uint64

	MessagesInSendBuffer [protocol.PriorityCount]uint64
	BytesInSendBuffer    [protocol.PriorityCount]uint64

	MessagesInResendBuffer uint64
	BytesInResendBuffer    uint64

	PacketLossLastSecond float32 // 0..1
	PacketLossTotal      float32 // 0..1
}

// LastSecond returns the value of m over the last second, or 0 for an
// unknown metric.
func (s *Statistics) LastSecond(m Metric) uint64 {
	if m < 0 || m >= MetricCount {
		return 0
	}
	return s.ValueLastSecond[m]
}

// Total returns the lifetime value of m, or 0 for an unknown metric.
func (s *Statistics) Total(m Metric) uint64 {
	if m < 0 || m >= MetricCount {
		return 0
	}
	return s.RunningTotal[m]
}

// MessagesQueued returns how many messages wait in the send buffer at p.
func (s *Statistics) MessagesQueued(p protocol.Priority) uint64 {
	if int(p) >= protocol.PriorityCount {
		return 0
	}
	return s.MessagesInSendBuffer[p]
}

// BytesQueued returns how many bytes wait in the send buffer at p.
func (s *Statistics) BytesQueued(p protocol.Priority) uint64 {
	if int(p) >= protocol.PriorityCount {
		return 0
	}
	return s.BytesInSendBuffer[p]
}

// PacketLoss returns the last-second loss as a whole percentage, rounded down.
func (s *Statistics) PacketLoss() int {
	return int(s.PacketLossLastSecond * 100)
}

// PacketLossPercentTotal returns the lifetime loss as a whole percentage.
func (s *Statistics) PacketLossPercentTotal() int {
	return int(s.PacketLossTotal * 100)
}

// Reset zeroes every field.
func (s *Statistics) Reset() {
	*s = Statistics{}
}

// Add accumulates the counters of o into s, for a summary across
// connections. Loss takes the worse of the two.
func (s *Statistics) Add(o *Statistics) {
	for m := range s.ValueLastSecond {
		s.ValueLastSecond[m] += o.ValueLastSecond[m]
		s.RunningTotal[m] += o.RunningTotal[m]
	}
	for p := range s.MessagesInSendBuffer {
		s.MessagesInSendBuffer[p] += o.MessagesInSendBuffer[p]
		s.BytesInSendBuffer[p] += o.BytesInSendBuffer[p]
	}
	s.MessagesInResendBuffer += o.MessagesInResendBuffer
	s.BytesInResendBuffer += o.BytesInResendBuffer
	s.PacketLossLastSecond = max(s.PacketLossLastSecond, o.PacketLossLastSecond)
	s.PacketLossTotal = max(s.PacketLossTotal, o.PacketLossTotal)
}
