package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rakpeer/internal/protocol"
)

// channelKind selects one of the four data channels every Link negotiates.
type channelKind uint8

const (
	channelReliableOrdered channelKind = iota
	channelReliable
	channelSequenced
	channelUnreliable

	channelCount
)

type channelSpec struct {
	label     string
	ordered   bool
	reliable  bool
	sequenced bool // frames carry a sequence number and stale ones are dropped
}

var channelSpecs = [channelCount]channelSpec{
	channelReliableOrdered: {label: "reliable-ordered", ordered: true, reliable: true},
	channelReliable:        {label: "reliable", reliable: true},
	channelSequenced:       {label: "sequenced", sequenced: true},
	channelUnreliable:      {label: "unreliable"},
}

// channelFor maps a reliability mode onto the channel that provides it. The
// receipt variants travel like their base mode.
func channelFor(r protocol.Reliability) channelKind {
	switch r {
	case protocol.ReliableOrdered, protocol.ReliableOrderedWithAck, protocol.ReliableSequenced:
		return channelReliableOrdered
	case protocol.Reliable, protocol.ReliableWithAck:
		return channelReliable
	case protocol.UnreliableSequenced:
		return channelSequenced
	}
	return channelUnreliable
}

// newDataChannels creates the four channels in negotiated mode with fixed
// IDs, so both sides build them independently without OnDataChannel.
func newDataChannels(pc *webrtc.PeerConnection) ([channelCount]*webrtc.DataChannel, error) {
	var dcs [channelCount]*webrtc.DataChannel
	for i, spec := range channelSpecs {
		ordered := spec.ordered
		negotiated := true
		id := uint16(i)
		init := &webrtc.DataChannelInit{
			Ordered:    &ordered,
			Negotiated: &negotiated,
			ID:         &id,
		}
		if !spec.reliable {
			retransmits := uint16(0)
			init.MaxRetransmits = &retransmits
		}

		dc, err := pc.CreateDataChannel(spec.label, init)
		if err != nil {
			return dcs, err
		}
		dcs[i] = dc
	}
	return dcs, nil
}
