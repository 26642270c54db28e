package bitstream

import "unsafe"

// Integer is the set of fixed-width integer types the codec can encode.
// Platform-sized int and uint are left out so the wire width never depends
// on the build target.
type Integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func widthOf[T Integer]() int {
	var zero T
	return int(unsafe.Sizeof(zero)) * 8
}

func isSigned[T Integer]() bool {
	return ^T(0) < 0
}

func lowBits(v uint64, n int) uint64 {
	if n >= 64 {
		return v
	}
	return v & (1<<uint(n) - 1)
}

// Write appends v in its full width, big-endian.
func Write[T Integer](b *BitStream, v T) {
	if !b.Valid() {
		return
	}
	n := widthOf[T]()
	b.writeBits(lowBits(uint64(v), n), n)
}

// Read reads a value written by Write.
func Read[T Integer](b *BitStream) T {
	u, ok := b.readBits(widthOf[T]())
	if !ok {
		return 0
	}
	return T(u)
}

// WriteCompressed writes v using leading-byte elision.
//
// Starting at the most significant byte, each byte equal to the match byte
// costs a single 1 bit. The first byte that differs is announced by a 0 bit
// and followed by every remaining byte verbatim. If all upper bytes match,
// the last byte is sent as 1 plus its low nibble when its high nibble
// matches, or 0 plus all 8 bits otherwise.
//
// Unsigned values match 0x00. Signed values are preceded by a sign bit and
// match 0x00 when non-negative or 0xFF when negative, so small magnitudes of
// either sign stay short.
func WriteCompressed[T Integer](b *BitStream, v T) {
	if !b.Valid() {
		return
	}
	n := widthOf[T]()
	var match byte
	if isSigned[T]() {
		neg := v < 0
		b.WriteBool(neg)
		if neg {
			match = 0xFF
		}
	}
	b.writeCompressedBits(lowBits(uint64(v), n), n/8, match)
}

// ReadCompressed reads a value written by WriteCompressed.
func ReadCompressed[T Integer](b *BitStream) T {
	if !b.Valid() {
		return 0
	}
	start := b.readBit
	var match byte
	if isSigned[T]() {
		neg, ok := b.readBits(1)
		if !ok {
			return 0
		}
		if neg == 1 {
			match = 0xFF
		}
	}
	u, ok := b.readCompressedBits(widthOf[T]()/8, match)
	if !ok {
		b.readBit = start
		return 0
	}
	return T(u)
}

func (b *BitStream) writeCompressedBits(u uint64, size int, match byte) {
	for i := size - 1; i > 0; i-- {
		if byte(u>>uint(8*i)) == match {
			b.writeBits(1, 1)
			continue
		}
		b.writeBits(0, 1)
		b.writeBits(lowBits(u, 8*(i+1)), 8*(i+1))
		return
	}
	last := byte(u)
	if last&0xF0 == match&0xF0 {
		b.writeBits(1, 1)
		b.writeBits(uint64(last&0x0F), 4)
		return
	}
	b.writeBits(0, 1)
	b.writeBits(uint64(last), 8)
}

func (b *BitStream) readCompressedBits(size int, match byte) (uint64, bool) {
	start := b.readBit
	fail := func() (uint64, bool) {
		b.readBit = start
		return 0, false
	}

	var u uint64
	for i := size - 1; i > 0; i-- {
		flag, ok := b.readBits(1)
		if !ok {
			return fail()
		}
		if flag == 1 {
			u |= uint64(match) << uint(8*i)
			continue
		}
		rest, ok := b.readBits(8 * (i + 1))
		if !ok {
			return fail()
		}
		return u | rest, true
	}

	flag, ok := b.readBits(1)
	if !ok {
		return fail()
	}
	if flag == 1 {
		nib, ok := b.readBits(4)
		if !ok {
			return fail()
		}
		return u | uint64(match&0xF0) | nib, true
	}
	last, ok := b.readBits(8)
	if !ok {
		return fail()
	}
	return u | last, true
}

// WriteDelta writes a single 0 bit when v equals last, otherwise a 1 bit
// followed by v in its full width.
func WriteDelta[T Integer](b *BitStream, v, last T) {
	if !b.Valid() {
		return
	}
	if v == last {
		b.WriteBool(false)
		return
	}
	b.WriteBool(true)
	Write(b, v)
}

// ReadDelta reads a value written by WriteDelta, returning last when the
// value was unchanged.
func ReadDelta[T Integer](b *BitStream, last T) T {
	return readDelta(b, last, Read[T])
}

// WriteCompressedDelta is WriteDelta with a compressed payload.
func WriteCompressedDelta[T Integer](b *BitStream, v, last T) {
	if !b.Valid() {
		return
	}
	if v == last {
		b.WriteBool(false)
		return
	}
	b.WriteBool(true)
	WriteCompressed(b, v)
}

// ReadCompressedDelta reads a value written by WriteCompressedDelta.
func ReadCompressedDelta[T Integer](b *BitStream, last T) T {
	return readDelta(b, last, ReadCompressed[T])
}

func readDelta[T Integer](b *BitStream, last T, read func(*BitStream) T) T {
	if !b.Valid() {
		return 0
	}
	start := b.readBit
	changed, ok := b.readBits(1)
	if !ok {
		return 0
	}
	if changed == 0 {
		return last
	}
	before := b.readBit
	v := read(b)
	if b.readBit == before {
		// payload missing
		b.readBit = start
		return 0
	}
	return v
}

// WriteDeltaBool writes a 0 bit when v equals last, otherwise 1 followed by v.
func (b *BitStream) WriteDeltaBool(v, last bool) {
	if !b.Valid() {
		return
	}
	if v == last {
		b.WriteBool(false)
		return
	}
	b.WriteBool(true)
	b.WriteBool(v)
}

// ReadDeltaBool reads a value written by WriteDeltaBool.
func (b *BitStream) ReadDeltaBool(last bool) bool {
	start := b.ReadOffset()
	changed, ok := b.readBits(1)
	if !ok {
		return false
	}
	if changed == 0 {
		return last
	}
	v, ok := b.readBits(1)
	if !ok {
		b.readBit = start
		return false
	}
	return v == 1
}
