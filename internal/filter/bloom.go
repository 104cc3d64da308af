// Package filter implements the per-block Bloom filter used to short-circuit
// Get calls that would otherwise require a block read that turns up nothing
// (§4.2, §4.3). The filter is the classic LevelDB design: one 32-bit hash
// per key, k probe bits derived from it by a cheap rotation trick, and a
// new filter generated every 2 KiB of data-block output so the filter for
// a given block can be located without scanning the whole filter block.
//
// This hash and bit-layout are a deliberate from-scratch reproduction of
// LevelDB's util/bloom.cc, not a library call: the bit patterns are part
// of the on-disk format (S6 compatibility with the wider LevelDB/Bedrock
// table family), so swapping in a different hash or a library's Bloom
// filter would silently produce a file with a different false-positive
// surface and, worse, would not round-trip through a standalone reader
// matched to the classic algorithm.
package filter

// FilterPolicy builds and probes filters for a set of keys. BitsPerKey is
// fixed by the DB's Options.BitsPerKey and supplied per call rather than
// stored, so one policy value can serve tables built with different
// settings over the life of a DB.
type FilterPolicy interface {
	// Name identifies the policy for compatibility checks; stored in the
	// filter block's metaindex entry.
	Name() string
	// CreateFilter builds a filter over keys for the given bits-per-key.
	CreateFilter(keys [][]byte, bitsPerKey int) []byte
	// KeyMayMatch reports whether key may be a member of filter. False
	// negatives are not allowed; false positives are expected at roughly
	// the rate implied by bitsPerKey.
	KeyMayMatch(key []byte, filter []byte) bool
}

// BloomFilterPolicy is the default FilterPolicy (§4.2).
type BloomFilterPolicy struct{}

// NewBloomFilterPolicy returns the classic Bloom FilterPolicy.
func NewBloomFilterPolicy() *BloomFilterPolicy { return &BloomFilterPolicy{} }

// Name implements FilterPolicy.
func (*BloomFilterPolicy) Name() string { return "leveldb.BuiltinBloomFilter" }

// numProbes derives k from bits-per-key the way LevelDB does: k = ln(2) *
// bits_per_key, clamped to [1, 30].
func numProbes(bitsPerKey int) int {
	k := int(float64(bitsPerKey) * 0.69)
	switch {
	case k < 1:
		k = 1
	case k > 30:
		k = 30
	}
	return k
}

// CreateFilter implements FilterPolicy.
func (*BloomFilterPolicy) CreateFilter(keys [][]byte, bitsPerKey int) []byte {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	k := numProbes(bitsPerKey)

	bits := len(keys) * bitsPerKey
	// A tiny key set still gets a minimum-size filter so it isn't
	// pathologically noisy.
	if bits < 64 {
		bits = 64
	}
	bytesLen := (bits + 7) / 8
	bits = bytesLen * 8

	filter := make([]byte, bytesLen+1)
	filter[bytesLen] = byte(k)

	for _, key := range keys {
		h := bloomHash(key)
		delta := (h >> 17) | (h << 15) // rotate right 17 bits
		for range k {
			bitpos := h % uint32(bits)
			filter[bitpos/8] |= 1 << (bitpos % 8)
			h += delta
		}
	}
	return filter
}

// KeyMayMatch implements FilterPolicy.
func (*BloomFilterPolicy) KeyMayMatch(key []byte, filter []byte) bool {
	length := len(filter)
	if length < 2 {
		// Too short to hold a probe count: treat as a match so a damaged
		// filter never causes a false negative.
		return true
	}
	bytesLen := length - 1
	bits := bytesLen * 8

	k := int(filter[bytesLen])
	if k > 30 {
		// Reserved for future encodings (§9): treat as a match so an
		// upgraded format is never mistaken for an empty filter.
		return true
	}

	h := bloomHash(key)
	delta := (h >> 17) | (h << 15)
	for range k {
		bitpos := h % uint32(bits)
		if filter[bitpos/8]&(1<<(bitpos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}

// bloomHash is LevelDB's util/hash.cc Hash(): a 32-bit Murmur-style hash
// seeded with 0xbc9f1d34, processing 4 bytes at a time.
func bloomHash(data []byte) uint32 {
	const (
		seed = uint32(0xbc9f1d34)
		m    = uint32(0xc6a4a793)
	)
	h := seed ^ (uint32(len(data)) * m)

	for len(data) >= 4 {
		w := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
		h += w
		h *= m
		h ^= h >> 16
		data = data[4:]
	}

	switch len(data) {
	case 3:
		h += uint32(data[2]) << 16
		fallthrough
	case 2:
		h += uint32(data[1]) << 8
		fallthrough
	case 1:
		h += uint32(data[0])
		h *= m
		h ^= h >> 24
	}
	return h
}
