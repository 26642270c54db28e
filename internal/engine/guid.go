package engine

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// NewGUID returns a random, non-zero 64-bit peer identifier folded from a
// version 4 UUID. Zero is reserved for "no peer".
func NewGUID() uint64 {
	for {
		u := uuid.New()
		g := binary.BigEndian.Uint64(u[:8]) ^ binary.BigEndian.Uint64(u[8:])
		if g != 0 {
			return g
		}
	}
}
