package block

import (
	"encoding/binary"

	"github.com/lumenkv/lumenkv/internal/dbformat"
	"github.com/lumenkv/lumenkv/internal/encoding"
)

// Block is a parsed data, index, or meta-index block: a sequence of
// prefix-compressed entries followed by a restart-point array and a
// trailing restart count (§4.1).
type Block struct {
	// data is the raw block data (entries + restarts array + count), not
	// including the 5-byte compression/checksum trailer.
	data []byte

	// restarts is the offset of the restarts array within data.
	restarts int

	// numRestarts is the number of restart points.
	numRestarts int
}

// NewBlock parses data (already decompressed, trailer stripped) into a
// Block. The slice is not copied; the caller must keep it alive for as
// long as the Block and any of its iterators are in use.
func NewBlock(data []byte) (*Block, error) {
	if len(data) < 4 {
		return nil, ErrBadBlock
	}

	numRestarts := binary.LittleEndian.Uint32(data[len(data)-4:])
	if numRestarts == 0 {
		return nil, ErrBadBlock
	}

	restartsSize := int(numRestarts+1) * 4 // +1 for the trailing count itself
	if restartsSize > len(data) {
		return nil, ErrBadBlock
	}
	restartsOffset := len(data) - restartsSize

	return &Block{
		data:        data,
		restarts:    restartsOffset,
		numRestarts: int(numRestarts),
	}, nil
}

// Size returns the size of the block data.
func (b *Block) Size() int { return len(b.data) }

// Data returns the raw block data.
func (b *Block) Data() []byte { return b.data }

// NumRestarts returns the number of restart points.
func (b *Block) NumRestarts() int { return b.numRestarts }

// GetRestartPoint returns the offset of the i-th restart point, or -1 if i
// is out of range.
func (b *Block) GetRestartPoint(i int) int {
	if i < 0 || i >= b.numRestarts {
		return -1
	}
	offset := b.restarts + i*4
	return int(binary.LittleEndian.Uint32(b.data[offset:]))
}

// DataEnd returns the end offset of the entries section (start of the
// restarts array).
func (b *Block) DataEnd() int { return b.restarts }

// Entry is a decoded key-value pair from a block.
type Entry struct {
	Key   []byte
	Value []byte
}

// Iterator iterates over the entries in a block, supporting restart-point
// binary search for Seek (§4.1).
type Iterator struct {
	block       *Block
	data        []byte // points to block.data
	restartsEnd int    // end of entries section
	current     int    // current entry start offset in data
	nextOffset  int    // offset of next entry (after current key+value)
	key         []byte // current key (fully assembled)
	value       []byte // current value (slice into data)
	valid       bool
	err         error
}

// NewIterator creates a new block iterator.
func (b *Block) NewIterator() *Iterator {
	return &Iterator{
		block:       b,
		data:        b.data,
		restartsEnd: b.restarts,
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.valid && it.err == nil }

// Key returns the current key. Only valid when Valid() is true.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current value. Only valid when Valid() is true.
func (it *Iterator) Value() []byte { return it.value }

// Error returns any error encountered during iteration.
func (it *Iterator) Error() error { return it.err }

// SeekToFirst positions the iterator at the first entry.
func (it *Iterator) SeekToFirst() {
	it.key = it.key[:0]
	it.value = nil
	it.valid = false
	it.current = 0
	it.nextOffset = 0
	it.Next()
}

// SeekToLast positions the iterator at the last entry.
func (it *Iterator) SeekToLast() {
	it.seekToRestartPoint(it.block.numRestarts - 1)

	var lastKey, lastValue []byte
	var lastCurrent, lastNextOffset int
	var lastValid bool

	for {
		it.Next()
		if !it.Valid() {
			break
		}
		lastKey = append(lastKey[:0], it.key...)
		lastValue = it.value
		lastCurrent = it.current
		lastNextOffset = it.nextOffset
		lastValid = true
	}

	if lastValid {
		it.key = lastKey
		it.value = lastValue
		it.current = lastCurrent
		it.nextOffset = lastNextOffset
		it.valid = true
	}
}

// Next moves to the next entry.
func (it *Iterator) Next() {
	if it.err != nil {
		it.valid = false
		return
	}
	if it.nextOffset >= it.restartsEnd {
		it.valid = false
		return
	}
	it.current = it.nextOffset
	it.parseCurrentEntry()
}

// Prev moves to the previous entry. REQUIRES: Valid().
func (it *Iterator) Prev() {
	if it.err != nil {
		it.valid = false
		return
	}

	original := it.current

	restartIndex := it.findRestartPointBefore(original)
	if restartOffset := it.block.GetRestartPoint(restartIndex); restartOffset == original && restartIndex > 0 {
		restartIndex--
	}
	it.seekToRestartPoint(restartIndex)

	var prevKey, prevValue []byte
	var prevCurrent, prevNextOffset int
	found := false

	for {
		it.Next()
		if !it.Valid() || it.current >= original {
			break
		}
		prevKey = append(prevKey[:0], it.key...)
		prevValue = it.value
		prevCurrent = it.current
		prevNextOffset = it.nextOffset
		found = true
	}

	if found {
		it.key = prevKey
		it.value = prevValue
		it.current = prevCurrent
		it.nextOffset = prevNextOffset
		it.valid = true
	} else {
		it.valid = false
	}
}

// findRestartPointBefore finds the largest restart index with offset <= target.
func (it *Iterator) findRestartPointBefore(target int) int {
	left, right := 0, it.block.numRestarts-1
	for left < right {
		mid := (left + right + 1) / 2
		if it.block.GetRestartPoint(mid) <= target {
			left = mid
		} else {
			right = mid - 1
		}
	}
	return left
}

func (it *Iterator) seekToRestartPoint(index int) {
	it.key = it.key[:0]
	it.value = nil
	it.valid = false
	offset := max(it.block.GetRestartPoint(index), 0)
	it.current = offset
	it.nextOffset = offset
}

func (it *Iterator) parseCurrentEntry() {
	if it.current >= it.restartsEnd {
		it.valid = false
		return
	}

	data := it.data[it.current:]
	offset := 0

	shared, n1, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.err = ErrBadBlock
		it.valid = false
		return
	}
	offset += n1
	data = data[n1:]

	unshared, n2, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.err = ErrBadBlock
		it.valid = false
		return
	}
	offset += n2
	data = data[n2:]

	valueLen, n3, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.err = ErrBadBlock
		it.valid = false
		return
	}
	offset += n3
	data = data[n3:]

	if int(shared) > len(it.key) || len(data) < int(unshared)+int(valueLen) {
		it.err = ErrBadBlock
		it.valid = false
		return
	}

	it.key = append(it.key[:shared], data[:unshared]...)
	offset += int(unshared)
	data = data[unshared:]

	it.value = data[:valueLen]
	offset += int(valueLen)

	it.nextOffset = it.current + offset
	it.valid = true
}

// Seek positions the iterator at the first entry with a key >= target,
// using binary search over restart points followed by a linear scan
// within the restart interval (§4.1).
func (it *Iterator) Seek(target []byte) {
	left, right := 0, it.block.numRestarts-1

	for left < right {
		mid := (left + right + 1) / 2
		it.seekToRestartPoint(mid)
		it.Next()

		if !it.Valid() || it.compareKey(target) > 0 {
			right = mid - 1
		} else {
			left = mid
		}
	}

	it.seekToRestartPoint(left)
	for {
		it.Next()
		if !it.Valid() {
			return
		}
		if it.compareKey(target) >= 0 {
			return
		}
	}
}

// compareKey compares the current key with target using internal-key order.
func (it *Iterator) compareKey(target []byte) int {
	return dbformat.CompareInternalKeys(it.key, target)
}
