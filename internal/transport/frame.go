package transport

import (
	"errors"

	"github.com/1ureka/rakpeer/internal/bitstream"
)

// frameKind is the first byte of every data channel message.
type frameKind uint8

const (
	frameData frameKind = iota
	framePing
	framePong
	frameBye
)

var errBadFrame = errors.New("transport: malformed frame")

// frame is one data channel message. Which fields are meaningful depends on
// kind: data frames carry payload (and seq on sequenced channels), ping and
// pong carry stamp, bye carries message.
type frame struct {
	kind    frameKind
	seq     uint32
	stamp   uint64
	payload []byte
	message string
}

func encodeFrame(f frame, sequenced bool) []byte {
	b := bitstream.NewWithCapacity(len(f.payload) + 9)
	b.WriteUint8(uint8(f.kind))
	switch f.kind {
	case frameData:
		if sequenced {
			b.WriteUint32(f.seq)
		}
		b.WriteBytes(f.payload)
	case framePing, framePong:
		b.WriteUint64(f.stamp)
	case frameBye:
		b.WriteString(f.message)
	}
	return b.Bytes()
}

func decodeFrame(p []byte, sequenced bool) (frame, error) {
	b := bitstream.New()
	b.Wrap(p)
	if b.UnreadBits() < 8 {
		return frame{}, errBadFrame
	}
	f := frame{kind: frameKind(b.ReadUint8())}

	switch f.kind {
	case frameData:
		if sequenced {
			if b.UnreadBits() < 32 {
				return frame{}, errBadFrame
			}
			f.seq = b.ReadUint32()
		}
		f.payload = b.ReadBytes(b.UnreadBits() / 8)
	case framePing, framePong:
		if b.UnreadBits() < 64 {
			return frame{}, errBadFrame
		}
		f.stamp = b.ReadUint64()
	case frameBye:
		f.message = b.ReadString()
	default:
		return frame{}, errBadFrame
	}
	return f, nil
}
