package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/lumenkv/lumenkv/internal/dbformat"
	"github.com/lumenkv/lumenkv/internal/encoding"
)

// MemTable holds writes before they are flushed to an SST file (§4.5). It
// wraps a SkipList keyed by internal key (user key plus sequence/type
// trailer) so lookups and iteration both resolve to the newest visible
// version of a user key directly from skip-list order.
//
// Entry format stored in the skip list:
//
//	internal_key_size : varint32 (length of internal_key)
//	internal_key      : internal_key_size bytes (user_key + 8-byte trailer)
//	value_size        : varint32 (length of value)
//	value             : value_size bytes
type MemTable struct {
	skiplist *SkipList
	compare  Comparator

	memoryUsage int64

	firstSeqno    dbformat.SequenceNumber
	earliestSeqno dbformat.SequenceNumber

	refs int32

	// nextLogNumber is the number of the WAL file that began receiving
	// writes once this memtable became immutable; WAL files numbered below
	// it are safe to delete once this memtable is flushed.
	nextLogNumber uint64

	mu sync.Mutex
}

// NewMemTable creates an empty MemTable using cmp to order user keys
// (BytewiseComparator if cmp is nil).
func NewMemTable(cmp Comparator) *MemTable {
	if cmp == nil {
		cmp = BytewiseComparator
	}

	internalCmp := func(a, b []byte) int {
		return compareMemTableEntries(a, b, cmp)
	}

	return &MemTable{
		skiplist:      NewSkipList(internalCmp),
		compare:       cmp,
		refs:          1,
		firstSeqno:    0,
		earliestSeqno: ^dbformat.SequenceNumber(0),
	}
}

// extractInternalKey pulls the internal key out of an encoded skip-list
// entry, or returns nil if the entry is malformed.
func extractInternalKey(entry []byte) []byte {
	if len(entry) < 2 {
		return nil
	}
	keyLen, n := decodeVarint32(entry)
	if n <= 0 || int(keyLen) > len(entry)-n {
		return nil
	}
	return entry[n : n+int(keyLen)]
}

// compareMemTableEntries orders encoded entries by user key ascending, then
// by sequence number descending, matching the internal-key order used by
// the rest of the engine (§3).
func compareMemTableEntries(a, b []byte, userCmp Comparator) int {
	aInternalKey := extractInternalKey(a)
	bInternalKey := extractInternalKey(b)

	if aInternalKey == nil || bInternalKey == nil {
		return userCmp(a, b)
	}

	if len(aInternalKey) < dbformat.NumInternalBytes || len(bInternalKey) < dbformat.NumInternalBytes {
		return userCmp(aInternalKey, bInternalKey)
	}

	aUserKey := aInternalKey[:len(aInternalKey)-dbformat.NumInternalBytes]
	bUserKey := bInternalKey[:len(bInternalKey)-dbformat.NumInternalBytes]

	if cmp := userCmp(aUserKey, bUserKey); cmp != 0 {
		return cmp
	}

	aTrailer := encoding.DecodeFixed64(aInternalKey[len(aInternalKey)-dbformat.NumInternalBytes:])
	bTrailer := encoding.DecodeFixed64(bInternalKey[len(bInternalKey)-dbformat.NumInternalBytes:])

	// Trailer packs (seq<<8 | type); comparing trailers directly sorts
	// higher sequence numbers first, which is what a reader wants.
	switch {
	case aTrailer > bTrailer:
		return -1
	case aTrailer < bTrailer:
		return 1
	default:
		return 0
	}
}

// Ref increments the reference count.
func (mt *MemTable) Ref() {
	atomic.AddInt32(&mt.refs, 1)
}

// Unref decrements the reference count and reports whether it reached zero.
func (mt *MemTable) Unref() bool {
	return atomic.AddInt32(&mt.refs, -1) == 0
}

// Add inserts a Put or Delete at the given sequence number.
func (mt *MemTable) Add(seq dbformat.SequenceNumber, typ dbformat.ValueType, key, value []byte) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	internalKeyLen := len(key) + dbformat.NumInternalBytes
	trailer := dbformat.PackSequenceAndType(seq, typ)

	entry := make([]byte, 0, internalKeyLen+len(value)+10)
	entry = appendVarint32(entry, uint32(internalKeyLen))
	entry = append(entry, key...)
	entry = encoding.AppendFixed64(entry, trailer)
	entry = appendVarint32(entry, uint32(len(value)))
	entry = append(entry, value...)

	mt.skiplist.Insert(entry)

	atomic.AddInt64(&mt.memoryUsage, int64(len(entry)+64)) // 64 for skip-list node overhead

	if seq < mt.earliestSeqno {
		mt.earliestSeqno = seq
	}
	if seq > mt.firstSeqno {
		mt.firstSeqno = seq
	}
}

// Get looks up key as of seq. found reports whether any entry for key was
// visible at seq; deleted distinguishes a tombstone from a value.
func (mt *MemTable) Get(key []byte, seq dbformat.SequenceNumber) (value []byte, found bool, deleted bool) {
	lookupKey := make([]byte, len(key)+dbformat.NumInternalBytes)
	copy(lookupKey, key)
	encoding.EncodeFixed64(lookupKey[len(key):], dbformat.PackSequenceAndType(seq, dbformat.ValueTypeForSeek))

	iter := mt.skiplist.NewIterator()
	iter.Seek(buildLookupEntry(lookupKey))

	if !iter.Valid() {
		return nil, false, false
	}

	entryKey, entryValue, entrySeq, entryType, ok := parseEntry(iter.Key())
	if !ok || mt.compare(key, entryKey) != 0 || entrySeq > seq {
		return nil, false, false
	}

	switch entryType {
	case dbformat.TypeValue:
		return entryValue, true, false
	case dbformat.TypeDeletion:
		return nil, true, true
	default:
		return nil, false, false
	}
}

// buildLookupEntry wraps an internal key in the varint length prefix the
// skip list's comparator expects.
func buildLookupEntry(internalKey []byte) []byte {
	entry := make([]byte, 0, len(internalKey)+5)
	entry = appendVarint32(entry, uint32(len(internalKey)))
	entry = append(entry, internalKey...)
	return entry
}

// parseEntry decodes a skip-list entry into its user key, value, sequence
// number, and type.
func parseEntry(entry []byte) (key, value []byte, seq dbformat.SequenceNumber, typ dbformat.ValueType, ok bool) {
	if len(entry) < 2 {
		return nil, nil, 0, 0, false
	}

	keyLen, n := decodeVarint32(entry)
	if n <= 0 || int(keyLen) > len(entry)-n {
		return nil, nil, 0, 0, false
	}
	entry = entry[n:]

	if keyLen < dbformat.NumInternalBytes {
		return nil, nil, 0, 0, false
	}

	internalKey := entry[:keyLen]
	entry = entry[keyLen:]

	key = internalKey[:int(keyLen)-dbformat.NumInternalBytes]
	trailer := encoding.DecodeFixed64(internalKey[int(keyLen)-dbformat.NumInternalBytes:])
	seq, typ = dbformat.UnpackSequenceAndType(trailer)

	if len(entry) < 1 {
		return key, nil, seq, typ, true
	}

	valueLen, n := decodeVarint32(entry)
	if n <= 0 {
		return nil, nil, 0, 0, false
	}
	entry = entry[n:]

	if int(valueLen) > len(entry) {
		return nil, nil, 0, 0, false
	}

	value = entry[:valueLen]
	return key, value, seq, typ, true
}

// ApproximateMemoryUsage returns the estimated memory usage in bytes.
func (mt *MemTable) ApproximateMemoryUsage() int64 {
	return atomic.LoadInt64(&mt.memoryUsage)
}

// NextLogNumber returns the WAL number below which log files are safe to
// delete once this memtable is flushed, or 0 if not yet set.
func (mt *MemTable) NextLogNumber() uint64 {
	return atomic.LoadUint64(&mt.nextLogNumber)
}

// SetNextLogNumber records the successor WAL number; called when this
// memtable becomes immutable.
func (mt *MemTable) SetNextLogNumber(num uint64) {
	atomic.StoreUint64(&mt.nextLogNumber, num)
}

// Count returns the number of entries (including tombstones) in the memtable.
func (mt *MemTable) Count() int64 {
	return mt.skiplist.Count()
}

// Empty reports whether the memtable has no entries.
func (mt *MemTable) Empty() bool {
	return mt.Count() == 0
}

// NewIterator returns an iterator over every (internal-key, value) entry in
// the memtable, newest-sequence-first per user key.
func (mt *MemTable) NewIterator() *MemTableIterator {
	return &MemTableIterator{
		iter:    mt.skiplist.NewIterator(),
		compare: mt.compare,
	}
}

// MemTableIterator iterates over memtable entries in internal-key order.
type MemTableIterator struct {
	iter    *Iterator
	compare Comparator

	userKey []byte
	value   []byte
	seq     dbformat.SequenceNumber
	typ     dbformat.ValueType
	valid   bool
}

// Valid reports whether the iterator is positioned at an entry.
func (it *MemTableIterator) Valid() bool {
	return it.valid && it.iter.Valid()
}

// SeekToFirst positions the iterator at the first entry.
func (it *MemTableIterator) SeekToFirst() {
	it.iter.SeekToFirst()
	it.parseCurrentEntry()
}

// SeekToLast positions the iterator at the last entry.
func (it *MemTableIterator) SeekToLast() {
	it.iter.SeekToLast()
	it.parseCurrentEntry()
}

// Seek positions the iterator at the first entry with internal key >= target.
func (it *MemTableIterator) Seek(target []byte) {
	it.iter.Seek(buildLookupEntry(target))
	it.parseCurrentEntry()
}

// Next advances to the next entry.
func (it *MemTableIterator) Next() {
	it.iter.Next()
	it.parseCurrentEntry()
}

// Prev moves to the previous entry.
func (it *MemTableIterator) Prev() {
	it.iter.Prev()
	it.parseCurrentEntry()
}

// UserKey returns the current entry's user key (without the trailer).
func (it *MemTableIterator) UserKey() []byte {
	return it.userKey
}

// Key reconstructs and returns the current entry's full internal key.
func (it *MemTableIterator) Key() []byte {
	key := make([]byte, len(it.userKey)+dbformat.NumInternalBytes)
	copy(key, it.userKey)
	trailer := dbformat.PackSequenceAndType(it.seq, it.typ)
	encoding.EncodeFixed64(key[len(it.userKey):], trailer)
	return key
}

// Value returns the current entry's value (empty for a deletion).
func (it *MemTableIterator) Value() []byte {
	return it.value
}

// Error always returns nil: a skip-list iterator cannot fail mid-scan.
func (it *MemTableIterator) Error() error {
	return nil
}

// Sequence returns the current entry's sequence number.
func (it *MemTableIterator) Sequence() dbformat.SequenceNumber {
	return it.seq
}

// Type returns the current entry's value type.
func (it *MemTableIterator) Type() dbformat.ValueType {
	return it.typ
}

func (it *MemTableIterator) parseCurrentEntry() {
	if !it.iter.Valid() {
		it.valid = false
		it.userKey = nil
		it.value = nil
		return
	}

	var ok bool
	it.userKey, it.value, it.seq, it.typ, ok = parseEntry(it.iter.Key())
	it.valid = ok
}

func appendVarint32(buf []byte, v uint32) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	buf = append(buf, byte(v))
	return buf
}

func decodeVarint32(data []byte) (uint32, int) {
	var v uint32
	for i := 0; i < 5 && i < len(data); i++ {
		b := data[i]
		v |= uint32(b&0x7F) << (7 * i)
		if b < 0x80 {
			return v, i + 1
		}
	}
	return 0, 0
}
