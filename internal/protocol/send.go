package protocol

// Priority orders outbound messages inside an engine. Immediate bypasses
// batching; the rest are drained High first.
type Priority uint8

const (
	PriorityImmediate Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow

	PriorityCount = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityImmediate:
		return "immediate"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// Reliability selects delivery guarantees for one message.
type Reliability uint8

const (
	Unreliable Reliability = iota
	UnreliableSequenced
	Reliable
	ReliableOrdered
	ReliableSequenced
	UnreliableWithAck
	ReliableWithAck
	ReliableOrderedWithAck
)

// IsReliable reports whether the engine must retransmit until acknowledged.
func (r Reliability) IsReliable() bool {
	switch r {
	case Reliable, ReliableOrdered, ReliableSequenced, ReliableWithAck, ReliableOrderedWithAck:
		return true
	}
	return false
}

// IsOrdered reports whether delivery order within a channel is preserved.
// Sequenced modes count as ordered: late arrivals are dropped, never
// delivered out of order.
func (r Reliability) IsOrdered() bool {
	switch r {
	case UnreliableSequenced, ReliableOrdered, ReliableSequenced, ReliableOrderedWithAck:
		return true
	}
	return false
}

// WantsReceipt reports whether the sender asked for an ack or loss receipt.
func (r Reliability) WantsReceipt() bool {
	return r == UnreliableWithAck || r == ReliableWithAck || r == ReliableOrderedWithAck
}

func (r Reliability) String() string {
	switch r {
	case Unreliable:
		return "unreliable"
	case UnreliableSequenced:
		return "unreliable-sequenced"
	case Reliable:
		return "reliable"
	case ReliableOrdered:
		return "reliable-ordered"
	case ReliableSequenced:
		return "reliable-sequenced"
	case UnreliableWithAck:
		return "unreliable-with-ack"
	case ReliableWithAck:
		return "reliable-with-ack"
	case ReliableOrderedWithAck:
		return "reliable-ordered-with-ack"
	}
	return "unknown"
}
