package engine

import (
	"github.com/1ureka/rakpeer/internal/bitstream"
	"github.com/1ureka/rakpeer/internal/protocol"
)

// ControlPacket builds an engine-originated control payload: the id byte,
// followed by message as a length-prefixed string when it is not empty.
func ControlPacket(id protocol.MessageID, message string) []byte {
	b := bitstream.New()
	b.WriteUint8(id)
	if message != "" {
		b.WriteString(message)
	}
	return b.CopyData()
}
