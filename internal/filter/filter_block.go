package filter

import "encoding/binary"

// filterBaseLg is the log2 of the byte window over which data-block output
// is grouped before a new filter is generated: one filter per 2 KiB of
// block data (§4.2).
const filterBaseLg = 11

const filterBase = 1 << filterBaseLg

// BlockBuilder assembles the filter block written after the last data
// block: a sequence of per-window filters, an offset array, and a trailer
// giving the offset array's own offset and the base_lg.
type BlockBuilder struct {
	policy FilterPolicy

	keys        [][]byte
	result      []byte
	filterOffsets []uint32
}

// NewBlockBuilder returns a filter-block builder over the given policy.
func NewBlockBuilder(policy FilterPolicy) *BlockBuilder {
	if policy == nil {
		policy = NewBloomFilterPolicy()
	}
	return &BlockBuilder{policy: policy}
}

// StartBlock is called with the file offset a new data block begins at.
// It generates filters for every 2 KiB window up to that offset that
// hasn't been covered yet, so a filter exists for every window a data
// block could start in.
func (b *BlockBuilder) StartBlock(blockOffset uint64, bitsPerKey int) {
	filterIndex := blockOffset / filterBase
	for uint64(len(b.filterOffsets)) < filterIndex {
		b.generateFilter(bitsPerKey)
	}
}

// AddKey records a key seen in the current window.
func (b *BlockBuilder) AddKey(key []byte) {
	b.keys = append(b.keys, append([]byte(nil), key...))
}

// Finish emits the filter block's bytes: concatenated per-window filters,
// a little-endian uint32 array of their offsets, the offset of that array,
// and the base_lg byte.
func (b *BlockBuilder) Finish(bitsPerKey int) []byte {
	if len(b.keys) > 0 {
		b.generateFilter(bitsPerKey)
	}

	arrayOffset := uint32(len(b.result))
	for _, off := range b.filterOffsets {
		b.result = binary.LittleEndian.AppendUint32(b.result, off)
	}
	b.result = binary.LittleEndian.AppendUint32(b.result, arrayOffset)
	b.result = append(b.result, filterBaseLg)
	return b.result
}

func (b *BlockBuilder) generateFilter(bitsPerKey int) {
	b.filterOffsets = append(b.filterOffsets, uint32(len(b.result)))
	if len(b.keys) == 0 {
		return
	}
	b.result = append(b.result, b.policy.CreateFilter(b.keys, bitsPerKey)...)
	b.keys = b.keys[:0]
}

// BlockReader probes a filter block built by BlockBuilder.
type BlockReader struct {
	policy  FilterPolicy
	data    []byte
	offsets []byte // the trailing offset array, still encoded
	num     int
	baseLg  int
}

// NewBlockReader parses contents as a filter block. A malformed block
// (too short for its own trailer) yields a reader that always returns
// true from KeyMayMatch, matching the "never false-negative" contract by
// degrading to "no filtering" rather than panicking.
func NewBlockReader(policy FilterPolicy, contents []byte) *BlockReader {
	if policy == nil {
		policy = NewBloomFilterPolicy()
	}
	r := &BlockReader{policy: policy}
	n := len(contents)
	if n < 5 {
		return r
	}
	baseLg := int(contents[n-1])
	arrayOffset := binary.LittleEndian.Uint32(contents[n-5:])
	if uint64(arrayOffset) > uint64(n-5) {
		return r
	}
	r.data = contents[:arrayOffset]
	r.offsets = contents[arrayOffset : n-1]
	r.num = len(r.offsets) / 4
	r.baseLg = baseLg
	return r
}

// KeyMayMatch reports whether key may be present in the data block whose
// first byte is at blockOffset.
func (r *BlockReader) KeyMayMatch(blockOffset uint64, key []byte) bool {
	if r.data == nil {
		return true
	}
	index := blockOffset >> uint(r.baseLg)
	if index >= uint64(r.num) {
		return true
	}
	start := binary.LittleEndian.Uint32(r.offsets[index*4:])
	var limit uint32
	if int(index)+1 < r.num {
		limit = binary.LittleEndian.Uint32(r.offsets[(index+1)*4:])
	} else {
		limit = uint32(len(r.data))
	}
	if start > limit || uint64(limit) > uint64(len(r.data)) {
		return true
	}
	if start == limit {
		// No keys fell in this window: the filter for it is empty, which
		// means "nothing added", not "everything added".
		return false
	}
	return r.policy.KeyMayMatch(key, r.data[start:limit])
}
