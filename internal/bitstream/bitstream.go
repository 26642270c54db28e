// Package bitstream implements a bit-addressable binary codec with plain,
// compressed, delta and quantized encodings, plus a LIFO pool of codecs.
//
// Bits are packed most-significant-first and multi-byte values are written
// big-endian. A BitStream holds one buffer and two independent cursors: the
// write cursor (which is also the logical length) and the read cursor.
// Reads never pass the write cursor; a read that would returns the zero value
// and leaves the read cursor where it was.
package bitstream

import (
	"math"
	"unicode/utf8"
)

const defaultCapacity = 256

// MaxStringLength is the longest string body a length prefix can describe.
const MaxStringLength = math.MaxUint16

// MaxArrayLength is the longest array an int16 count can describe.
const MaxArrayLength = math.MaxInt16

// BitStream is a read/write cursor pair over a byte buffer.
//
// A nil, closed or released BitStream is invalid: every operation on it is a
// no-op and every read returns the zero value.
type BitStream struct {
	data     []byte
	own      []byte // owned buffer, kept while data points at a wrapped one
	borrowed bool

	writeBit int
	readBit  int

	closed   bool
	released bool

	scratch  []byte
	scratchF []float32
}

// New returns an empty BitStream with a small owned buffer.
func New() *BitStream {
	return NewWithCapacity(defaultCapacity)
}

// NewWithCapacity returns an empty BitStream whose buffer can hold n bytes
// before growing.
func NewWithCapacity(n int) *BitStream {
	if n < 1 {
		n = 1
	}
	return &BitStream{data: make([]byte, n)}
}

// FromBytes returns a BitStream holding a copy of p, ready to be read.
func FromBytes(p []byte) *BitStream {
	b := NewWithCapacity(len(p))
	b.SetData(p)
	return b
}

// Valid reports whether the BitStream can be used.
func (b *BitStream) Valid() bool {
	return b != nil && !b.closed && !b.released
}

// Close invalidates the BitStream and drops its buffers. Pooled codecs should
// be handed back with Pool.Release instead.
func (b *BitStream) Close() {
	if b == nil {
		return
	}
	b.closed = true
	b.data, b.own, b.borrowed = nil, nil, false
	b.scratch, b.scratchF = nil, nil
	b.writeBit, b.readBit = 0, 0
}

// ---------------------------------------------------------------------------
// Cursors
// ---------------------------------------------------------------------------

// Reset empties the stream and rewinds both cursors.
func (b *BitStream) Reset() {
	if !b.Valid() {
		return
	}
	if !b.borrowed {
		// Partial-byte writes only touch their own bits.
		clear(b.data)
	}
	b.writeBit, b.readBit = 0, 0
}

// NumberOfBitsUsed returns the logical length of the stream in bits.
func (b *BitStream) NumberOfBitsUsed() int {
	if !b.Valid() {
		return 0
	}
	return b.writeBit
}

// NumberOfBytesUsed returns the logical length rounded up to whole bytes.
func (b *BitStream) NumberOfBytesUsed() int {
	return (b.NumberOfBitsUsed() + 7) >> 3
}

// UnreadBits returns how many bits remain between the read and write cursors.
func (b *BitStream) UnreadBits() int {
	if !b.Valid() {
		return 0
	}
	return b.writeBit - b.readBit
}

// ReadOffset returns the read cursor in bits.
func (b *BitStream) ReadOffset() int {
	if !b.Valid() {
		return 0
	}
	return b.readBit
}

// SetReadOffset moves the read cursor, clamped to [0, NumberOfBitsUsed].
func (b *BitStream) SetReadOffset(bits int) {
	if !b.Valid() {
		return
	}
	b.readBit = min(max(bits, 0), b.writeBit)
}

// ResetReadPointer rewinds the read cursor to the start.
func (b *BitStream) ResetReadPointer() { b.SetReadOffset(0) }

// WriteOffset returns the write cursor in bits.
func (b *BitStream) WriteOffset() int {
	return b.NumberOfBitsUsed()
}

// SetWriteOffset moves the write cursor, growing the buffer if needed. Bytes
// uncovered by a forward move keep whatever the buffer held.
func (b *BitStream) SetWriteOffset(bits int) {
	if !b.Valid() {
		return
	}
	bits = max(bits, 0)
	if bits > b.writeBit {
		b.grow(bits - b.writeBit)
	}
	b.writeBit = bits
	b.readBit = min(b.readBit, b.writeBit)
}

// ResetWritePointer truncates the stream to zero length.
func (b *BitStream) ResetWritePointer() { b.SetWriteOffset(0) }

// IgnoreBits advances the read cursor by n bits, stopping at the end.
func (b *BitStream) IgnoreBits(n int) {
	if !b.Valid() || n <= 0 {
		return
	}
	b.readBit = min(b.readBit+n, b.writeBit)
}

// IgnoreBytes advances the read cursor by n bytes, stopping at the end.
func (b *BitStream) IgnoreBytes(n int) { b.IgnoreBits(n * 8) }

// AlignWriteToByteBoundary pads the write cursor with zero bits up to the
// next whole byte.
func (b *BitStream) AlignWriteToByteBoundary() {
	if !b.Valid() {
		return
	}
	if pad := (8 - b.writeBit&7) & 7; pad > 0 {
		b.writeBits(0, pad)
	}
}

// AlignReadToByteBoundary skips the read cursor to the next whole byte.
func (b *BitStream) AlignReadToByteBoundary() {
	if !b.Valid() {
		return
	}
	b.IgnoreBits((8 - b.readBit&7) & 7)
}

// ---------------------------------------------------------------------------
// Buffer access
// ---------------------------------------------------------------------------

// Bytes returns the written bytes without copying. The slice aliases the
// stream and is only valid until the next write, Reset or Release.
func (b *BitStream) Bytes() []byte {
	if !b.Valid() {
		return nil
	}
	return b.data[:b.NumberOfBytesUsed()]
}

// CopyData returns a copy of the written bytes.
func (b *BitStream) CopyData() []byte {
	src := b.Bytes()
	if src == nil {
		return nil
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

// SetData replaces the stream contents with a copy of p and rewinds the read
// cursor.
func (b *BitStream) SetData(p []byte) {
	if !b.Valid() {
		return
	}
	b.dropBorrowed()
	b.writeBit, b.readBit = 0, 0
	b.writeBytes(p)
}

// Wrap points the stream at p without copying, for reading an inbound
// payload. The caller keeps ownership of p; writes after Wrap copy it first.
func (b *BitStream) Wrap(p []byte) {
	if !b.Valid() {
		return
	}
	if !b.borrowed {
		b.own = b.data
	}
	b.data = p
	b.borrowed = true
	b.writeBit = len(p) * 8
	b.readBit = 0
}

func (b *BitStream) dropBorrowed() {
	if b.borrowed {
		b.data, b.own, b.borrowed = b.own, nil, false
	}
}

// grow makes room for n more bits after the write cursor. A wrapped buffer
// is copied into an owned one first.
func (b *BitStream) grow(n int) {
	need := (b.writeBit + n + 7) >> 3
	if !b.borrowed && need <= len(b.data) {
		return
	}
	used := b.data[:min(len(b.data), (b.writeBit+7)>>3)]
	buf := b.data
	if b.borrowed {
		buf = b.own
	}
	if len(buf) < need {
		size := max(len(buf), defaultCapacity)
		for size < need {
			size *= 2
		}
		buf = make([]byte, size)
	}
	copy(buf, used)
	clear(buf[len(used):])
	b.data, b.own, b.borrowed = buf, nil, false
}

// ---------------------------------------------------------------------------
// Bit primitives
// ---------------------------------------------------------------------------

// writeBits appends the low n bits of v, most significant first.
func (b *BitStream) writeBits(v uint64, n int) {
	if n <= 0 {
		return
	}
	b.grow(n)
	for n > 0 {
		idx := b.writeBit >> 3
		free := 8 - b.writeBit&7
		take := min(free, n)
		m := (1 << take) - 1
		chunk := byte((v >> uint(n-take)) & uint64(m))
		shift := free - take
		b.data[idx] = b.data[idx]&^byte(m<<shift) | chunk<<shift
		b.writeBit += take
		n -= take
	}
}

// readBits consumes n bits (n <= 64). When fewer than n bits remain it
// returns false and leaves the cursor untouched.
func (b *BitStream) readBits(n int) (uint64, bool) {
	if !b.Valid() || n <= 0 || b.readBit+n > b.writeBit {
		return 0, false
	}
	var v uint64
	for n > 0 {
		idx := b.readBit >> 3
		free := 8 - b.readBit&7
		take := min(free, n)
		shift := free - take
		chunk := (int(b.data[idx]) >> shift) & ((1 << take) - 1)
		v = v<<uint(take) | uint64(chunk)
		b.readBit += take
		n -= take
	}
	return v, true
}

func (b *BitStream) writeBytes(p []byte) {
	if len(p) == 0 {
		return
	}
	if b.writeBit&7 == 0 {
		b.grow(len(p) * 8)
		copy(b.data[b.writeBit>>3:], p)
		b.writeBit += len(p) * 8
		return
	}
	for _, c := range p {
		b.writeBits(uint64(c), 8)
	}
}

func (b *BitStream) readBytesInto(dst []byte) bool {
	if !b.Valid() || b.readBit+len(dst)*8 > b.writeBit {
		return false
	}
	if b.readBit&7 == 0 {
		copy(dst, b.data[b.readBit>>3:])
		b.readBit += len(dst) * 8
		return true
	}
	for i := range dst {
		v, _ := b.readBits(8)
		dst[i] = byte(v)
	}
	return true
}

// ---------------------------------------------------------------------------
// Plain values
// ---------------------------------------------------------------------------

// WriteBool writes a single bit.
func (b *BitStream) WriteBool(v bool) {
	if !b.Valid() {
		return
	}
	if v {
		b.writeBits(1, 1)
	} else {
		b.writeBits(0, 1)
	}
}

// ReadBool reads a single bit.
func (b *BitStream) ReadBool() bool {
	v, _ := b.readBits(1)
	return v == 1
}

func (b *BitStream) WriteUint8(v uint8)   { Write(b, v) }
func (b *BitStream) WriteInt8(v int8)     { Write(b, v) }
func (b *BitStream) WriteUint16(v uint16) { Write(b, v) }
func (b *BitStream) WriteInt16(v int16)   { Write(b, v) }
func (b *BitStream) WriteUint32(v uint32) { Write(b, v) }
func (b *BitStream) WriteInt32(v int32)   { Write(b, v) }
func (b *BitStream) WriteUint64(v uint64) { Write(b, v) }
func (b *BitStream) WriteInt64(v int64)   { Write(b, v) }

func (b *BitStream) ReadUint8() uint8   { return Read[uint8](b) }
func (b *BitStream) ReadInt8() int8     { return Read[int8](b) }
func (b *BitStream) ReadUint16() uint16 { return Read[uint16](b) }
func (b *BitStream) ReadInt16() int16   { return Read[int16](b) }
func (b *BitStream) ReadUint32() uint32 { return Read[uint32](b) }
func (b *BitStream) ReadInt32() int32   { return Read[int32](b) }
func (b *BitStream) ReadUint64() uint64 { return Read[uint64](b) }
func (b *BitStream) ReadInt64() int64   { return Read[int64](b) }

// WriteFloat32 writes the IEEE-754 bits of v.
func (b *BitStream) WriteFloat32(v float32) { Write(b, math.Float32bits(v)) }

// ReadFloat32 reads a value written by WriteFloat32.
func (b *BitStream) ReadFloat32() float32 { return math.Float32frombits(Read[uint32](b)) }

// WriteFloat64 writes the IEEE-754 bits of v.
func (b *BitStream) WriteFloat64(v float64) { Write(b, math.Float64bits(v)) }

// ReadFloat64 reads a value written by WriteFloat64.
func (b *BitStream) ReadFloat64() float64 { return math.Float64frombits(Read[uint64](b)) }

// WriteBytes appends p verbatim, with no length prefix.
func (b *BitStream) WriteBytes(p []byte) {
	if !b.Valid() {
		return
	}
	b.writeBytes(p)
}

// ReadBytes reads n raw bytes into a new slice. It returns nil when fewer
// than n bytes remain.
func (b *BitStream) ReadBytes(n int) []byte {
	if n <= 0 || b.UnreadBits() < n*8 {
		return nil
	}
	out := make([]byte, n)
	b.readBytesInto(out)
	return out
}

// ---------------------------------------------------------------------------
// Quantized floats
// ---------------------------------------------------------------------------

const (
	float16Steps   = math.MaxUint16
	unitFloatScale = 32767.5
	unitDoubleBias = 2147483648.0
)

// WriteFloat16 maps v, clamped to [lo, hi], onto 16 bits. The value read
// back differs from the clamped input by at most (hi-lo)/65535. NaN is
// written as lo.
func (b *BitStream) WriteFloat16(v, lo, hi float32) {
	if !b.Valid() {
		return
	}
	var p uint16
	if hi > lo && !math.IsNaN(float64(v)) {
		v = min(max(v, lo), hi)
		f := math.Round(float16Steps * float64(v-lo) / float64(hi-lo))
		p = uint16(min(max(f, 0), float16Steps))
	}
	Write(b, p)
}

// ReadFloat16 reads a value written by WriteFloat16 with the same range.
func (b *BitStream) ReadFloat16(lo, hi float32) float32 {
	p, ok := b.readBits(16)
	if !ok {
		return 0
	}
	return lo + float32(float64(p)/float16Steps*float64(hi-lo))
}

// WriteCompressedFloat32 writes v, clamped to [-1, 1], in 16 bits.
func (b *BitStream) WriteCompressedFloat32(v float32) {
	if !b.Valid() {
		return
	}
	v = min(max(v, -1), 1)
	Write(b, uint16((float64(v)+1)*unitFloatScale))
}

// ReadCompressedFloat32 reads a value written by WriteCompressedFloat32.
func (b *BitStream) ReadCompressedFloat32() float32 {
	u, ok := b.readBits(16)
	if !ok {
		return 0
	}
	return float32(float64(u)/unitFloatScale - 1)
}

// WriteCompressedFloat64 writes v, clamped to [-1, 1], in 32 bits.
func (b *BitStream) WriteCompressedFloat64(v float64) {
	if !b.Valid() {
		return
	}
	v = min(max(v, -1), 1)
	Write(b, uint32(min((v+1)*unitDoubleBias, math.MaxUint32)))
}

// ReadCompressedFloat64 reads a value written by WriteCompressedFloat64.
func (b *BitStream) ReadCompressedFloat64() float64 {
	u, ok := b.readBits(32)
	if !ok {
		return 0
	}
	return float64(u)/unitDoubleBias - 1
}

// ---------------------------------------------------------------------------
// Strings and arrays
// ---------------------------------------------------------------------------

// WriteString writes a uint16 byte length followed by the UTF-8 bytes of s.
// Bodies longer than MaxStringLength are cut at the last whole rune that fits.
func (b *BitStream) WriteString(s string) {
	if !b.Valid() {
		return
	}
	s = truncateUTF8(s, MaxStringLength)
	Write(b, uint16(len(s)))
	b.writeBytes([]byte(s))
}

// ReadString reads a string written by WriteString. A zero length yields ""
// without touching the body.
func (b *BitStream) ReadString() string {
	start := b.ReadOffset()
	n, ok := b.readBits(16)
	if !ok || n == 0 {
		return ""
	}
	buf := make([]byte, n)
	if !b.readBytesInto(buf) {
		b.readBit = start
		return ""
	}
	return string(buf)
}

func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// WriteByteArray writes an int16 element count followed by the bytes. Only
// the first MaxArrayLength bytes are written.
func (b *BitStream) WriteByteArray(p []byte) {
	if !b.Valid() {
		return
	}
	p = p[:min(len(p), MaxArrayLength)]
	Write(b, int16(len(p)))
	b.writeBytes(p)
}

// ReadByteArray reads an array written by WriteByteArray into a scratch
// buffer owned by the stream. The result is only valid until the next array
// read or until the stream is reset or released. A negative or truncated
// count yields an empty slice.
func (b *BitStream) ReadByteArray() []byte {
	if !b.Valid() {
		return nil
	}
	start := b.readBit
	n := int(Read[int16](b))
	if n <= 0 {
		return b.scratch[:0]
	}
	if b.UnreadBits() < n*8 {
		b.readBit = start
		return b.scratch[:0]
	}
	if cap(b.scratch) < n {
		b.scratch = make([]byte, n)
	}
	out := b.scratch[:n]
	b.readBytesInto(out)
	return out
}

// WriteFloat32Array writes an int16 element count followed by the values.
func (b *BitStream) WriteFloat32Array(p []float32) {
	if !b.Valid() {
		return
	}
	p = p[:min(len(p), MaxArrayLength)]
	Write(b, int16(len(p)))
	for _, v := range p {
		b.WriteFloat32(v)
	}
}

// ReadFloat32Array is the float32 counterpart of ReadByteArray.
func (b *BitStream) ReadFloat32Array() []float32 {
	if !b.Valid() {
		return nil
	}
	start := b.readBit
	n := int(Read[int16](b))
	if n <= 0 {
		return b.scratchF[:0]
	}
	if b.UnreadBits() < n*32 {
		b.readBit = start
		return b.scratchF[:0]
	}
	if cap(b.scratchF) < n {
		b.scratchF = make([]float32, n)
	}
	out := b.scratchF[:n]
	for i := range out {
		out[i] = b.ReadFloat32()
	}
	return out
}
