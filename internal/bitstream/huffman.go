package bitstream

import (
	"container/heap"
	"errors"
)

// ErrCorruptBlock is returned by Decompress when the block is truncated or
// its header is inconsistent.
var ErrCorruptBlock = errors.New("bitstream: corrupt compressed block")

// HuffmanTree is a static prefix code over byte values. Two trees built from
// the same frequency table are identical, so a table is all a peer needs to
// decode.
type HuffmanTree struct {
	root  *huffmanNode
	codes [256]huffmanCode
}

type huffmanNode struct {
	weight uint64
	order  int // tie-break for a deterministic shape
	symbol byte
	leaf   bool
	left   *huffmanNode
	right  *huffmanNode
}

type huffmanCode struct {
	bits uint64
	n    int
}

// NewHuffmanTree builds a tree from per-byte frequencies. Bytes with a zero
// frequency get no code and are skipped by Encode.
func NewHuffmanTree(freq [256]uint32) *HuffmanTree {
	t := &HuffmanTree{}

	var h nodeHeap
	for i, f := range freq {
		if f > 0 {
			h = append(h, &huffmanNode{weight: uint64(f), order: i, symbol: byte(i), leaf: true})
		}
	}
	switch len(h) {
	case 0:
		return t
	case 1:
		// a lone symbol still needs a one-bit code
		h = append(h, &huffmanNode{order: 256, symbol: h[0].symbol + 1, leaf: true})
	}
	heap.Init(&h)

	next := 257
	for h.Len() > 1 {
		a := heap.Pop(&h).(*huffmanNode)
		b := heap.Pop(&h).(*huffmanNode)
		heap.Push(&h, &huffmanNode{weight: a.weight + b.weight, order: next, left: a, right: b})
		next++
	}
	t.root = heap.Pop(&h).(*huffmanNode)
	t.assign(t.root, 0, 0)
	return t
}

func (t *HuffmanTree) assign(n *huffmanNode, bits uint64, depth int) {
	if n.leaf {
		if n.weight > 0 || n.order < 256 {
			t.codes[n.symbol] = huffmanCode{bits: bits, n: depth}
		}
		return
	}
	t.assign(n.left, bits<<1, depth+1)
	t.assign(n.right, bits<<1|1, depth+1)
}

// Encode appends the code of every byte of p. It returns the number of bits
// written.
func (t *HuffmanTree) Encode(p []byte, out *BitStream) int {
	if !out.Valid() || t.root == nil {
		return 0
	}
	start := out.writeBit
	for _, c := range p {
		code := t.codes[c]
		out.writeBits(code.bits, code.n)
	}
	return out.writeBit - start
}

// Decode reads up to count symbols. It returns false, leaving the cursor in
// place, when the stream runs out first.
func (t *HuffmanTree) Decode(in *BitStream, count int) ([]byte, bool) {
	if !in.Valid() {
		return nil, false
	}
	if count <= 0 {
		return nil, true
	}
	// every symbol costs at least one bit
	if t.root == nil || count > in.UnreadBits() {
		return nil, false
	}

	start := in.readBit
	out := make([]byte, 0, count)
	n := t.root
	for len(out) < count {
		bit, ok := in.readBits(1)
		if !ok {
			in.readBit = start
			return nil, false
		}
		if bit == 0 {
			n = n.left
		} else {
			n = n.right
		}
		if n.leaf {
			out = append(out, n.symbol)
			n = t.root
		}
	}
	return out, true
}

type nodeHeap []*huffmanNode

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].weight != h[j].weight {
		return h[i].weight < h[j].weight
	}
	return h[i].order < h[j].order
}
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x interface{}) { *h = append(*h, x.(*huffmanNode)) }

func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// ---------------------------------------------------------------------------
// Block compression
// ---------------------------------------------------------------------------

// Compress writes p to out as a self-describing block: the 256 byte
// frequencies, the payload length, then the Huffman-coded payload.
func Compress(p []byte, out *BitStream) {
	if !out.Valid() {
		return
	}
	var freq [256]uint32
	for _, c := range p {
		freq[c]++
	}
	for _, f := range freq {
		WriteCompressed(out, f)
	}
	WriteCompressed(out, uint32(len(p)))
	NewHuffmanTree(freq).Encode(p, out)
}

// Decompress reads a block written by Compress.
func Decompress(in *BitStream) ([]byte, error) {
	if !in.Valid() {
		return nil, ErrCorruptBlock
	}
	start := in.readBit
	fail := func() ([]byte, error) {
		in.readBit = start
		return nil, ErrCorruptBlock
	}

	var freq [256]uint32
	var total uint64
	for i := range freq {
		before := in.readBit
		freq[i] = ReadCompressed[uint32](in)
		if in.readBit == before {
			return fail()
		}
		total += uint64(freq[i])
	}
	before := in.readBit
	n := ReadCompressed[uint32](in)
	if in.readBit == before || uint64(n) != total {
		return fail()
	}
	if n == 0 {
		return []byte{}, nil
	}
	out, ok := NewHuffmanTree(freq).Decode(in, int(n))
	if !ok {
		return fail()
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// String compression
// ---------------------------------------------------------------------------

// TextCompressor encodes strings for a given language id. Implementations
// must write a self-delimiting body.
type TextCompressor interface {
	EncodeString(s string, out *BitStream, language uint16)
	DecodeString(in *BitStream, language uint16) (string, bool)
}

// HuffmanTextCompressor keeps one Huffman tree per language. Language 0 is a
// built-in table tuned for English text and is used for unknown ids.
type HuffmanTextCompressor struct {
	trees map[uint16]*HuffmanTree
}

// DefaultTextCompressor is used by the string helpers when no compressor is
// supplied.
var DefaultTextCompressor TextCompressor = NewHuffmanTextCompressor()

// NewHuffmanTextCompressor returns a compressor with the English table
// registered as language 0.
func NewHuffmanTextCompressor() *HuffmanTextCompressor {
	return &HuffmanTextCompressor{
		trees: map[uint16]*HuffmanTree{0: NewHuffmanTree(englishFrequencies())},
	}
}

// AddLanguage registers a frequency table under id, replacing any previous one.
// Every byte value should have a non-zero frequency or it cannot be encoded.
func (c *HuffmanTextCompressor) AddLanguage(id uint16, freq [256]uint32) {
	c.trees[id] = NewHuffmanTree(freq)
}

func (c *HuffmanTextCompressor) tree(language uint16) *HuffmanTree {
	if t, ok := c.trees[language]; ok {
		return t
	}
	return c.trees[0]
}

func (c *HuffmanTextCompressor) EncodeString(s string, out *BitStream, language uint16) {
	s = truncateUTF8(s, MaxStringLength)
	WriteCompressed(out, uint16(len(s)))
	c.tree(language).Encode([]byte(s), out)
}

func (c *HuffmanTextCompressor) DecodeString(in *BitStream, language uint16) (string, bool) {
	start := in.ReadOffset()
	n := ReadCompressed[uint16](in)
	if in.ReadOffset() == start {
		return "", false
	}
	p, ok := c.tree(language).Decode(in, int(n))
	if !ok {
		in.SetReadOffset(start)
		return "", false
	}
	return string(p), true
}

// WriteCompressedString writes a uint16 language id followed by s encoded by
// tc. A nil tc selects DefaultTextCompressor.
func (b *BitStream) WriteCompressedString(s string, language uint16, tc TextCompressor) {
	if !b.Valid() {
		return
	}
	if tc == nil {
		tc = DefaultTextCompressor
	}
	Write(b, language)
	tc.EncodeString(s, b, language)
}

// ReadCompressedString reads a string written by WriteCompressedString and
// returns it with its language id.
func (b *BitStream) ReadCompressedString(tc TextCompressor) (string, uint16) {
	if !b.Valid() {
		return "", 0
	}
	if tc == nil {
		tc = DefaultTextCompressor
	}
	start := b.readBit
	language, ok := b.readBits(16)
	if !ok {
		return "", 0
	}
	s, ok := tc.DecodeString(b, uint16(language))
	if !ok {
		b.readBit = start
		return "", 0
	}
	return s, uint16(language)
}

func englishFrequencies() [256]uint32 {
	var f [256]uint32
	for i := range f {
		f[i] = 1
	}
	for c := 0x20; c < 0x7F; c++ {
		f[c] = 12
	}
	for c := 'A'; c <= 'Z'; c++ {
		f[c] = 40
	}
	for c := '0'; c <= '9'; c++ {
		f[c] = 60
	}
	for i, c := range "etaoinshrdlcumwfgypbvkjxqz" {
		f[c] = uint32(1300 - 48*i)
	}
	f[' '] = 2000
	f['.'], f[','] = 120, 120
	return f
}
