package db

import (
	"github.com/lumenkv/lumenkv/internal/dbformat"
	"github.com/lumenkv/lumenkv/internal/manifest"
	"github.com/lumenkv/lumenkv/internal/memtable"
	"github.com/lumenkv/lumenkv/internal/table"
	"github.com/lumenkv/lumenkv/internal/version"
)

const (
	dirForward = 1
	dirReverse = -1
)

// internalSource is the common interface over a memtable iterator and an SST
// table iterator: both expose internal keys, which Iterator decodes and
// filters by sequence number and tombstone (§4.10).
type internalSource interface {
	Valid() bool
	Key() []byte
	Value() []byte
	SeekToFirst()
	SeekToLast()
	Seek(target []byte)
	Next()
	Prev()
	Error() error
}

type memtableSource struct{ iter *memtable.MemTableIterator }

func (s memtableSource) Valid() bool         { return s.iter.Valid() }
func (s memtableSource) Key() []byte         { return s.iter.Key() }
func (s memtableSource) Value() []byte       { return s.iter.Value() }
func (s memtableSource) SeekToFirst()        { s.iter.SeekToFirst() }
func (s memtableSource) SeekToLast()         { s.iter.SeekToLast() }
func (s memtableSource) Seek(target []byte)  { s.iter.Seek(target) }
func (s memtableSource) Next()               { s.iter.Next() }
func (s memtableSource) Prev()               { s.iter.Prev() }
func (s memtableSource) Error() error        { return s.iter.Error() }

type sstSource struct {
	iter    *table.TableIterator
	fileNum uint64
}

func (s sstSource) Valid() bool        { return s.iter.Valid() }
func (s sstSource) Key() []byte        { return s.iter.Key() }
func (s sstSource) Value() []byte      { return s.iter.Value() }
func (s sstSource) SeekToFirst()       { s.iter.SeekToFirst() }
func (s sstSource) SeekToLast()        { s.iter.SeekToLast() }
func (s sstSource) Seek(target []byte) { s.iter.Seek(target) }
func (s sstSource) Next()              { s.iter.Next() }
func (s sstSource) Prev()              { s.iter.Prev() }
func (s sstSource) Error() error       { return s.iter.Error() }

// Iterator walks the database's entries in user-key order, merging the
// active memtable, the frozen one (if any), and every on-disk SST file,
// collapsing an internal-key entry to at most one visible version per user
// key and hiding tombstones (§6, §4.10).
type Iterator struct {
	d        *DB
	seq      dbformat.SequenceNumber
	sources  []internalSource
	version  *version.Version
	fileNums []uint64 // opened SST files, for Release on Close

	mem *memtable.MemTable
	imm *memtable.MemTable

	direction  int
	valid      bool
	closed     bool
	err        error
	savedKey   []byte
	savedValue []byte
}

// Iterator opens an Iterator as of ReadOptions.Snapshot (or "now" if nil or
// the options themselves are nil). The caller must call Close when done to
// release the memtable and SST file references it pins (§6).
func (d *DB) Iterator(opts *ReadOptions) (*Iterator, error) {
	d.mu.Lock()
	if err := d.checkOpen(); err != nil {
		d.mu.Unlock()
		return nil, err
	}

	seq := dbformat.SequenceNumber(d.vset.LastSequence())
	if opts != nil && opts.Snapshot != nil {
		seq = opts.Snapshot.seq
	}

	it := &Iterator{d: d, seq: seq, mem: d.mem}

	it.mem.Ref()
	it.sources = append(it.sources, memtableSource{iter: it.mem.NewIterator()})
	if d.imm != nil {
		it.imm = d.imm
		it.imm.Ref()
		it.sources = append(it.sources, memtableSource{iter: it.imm.NewIterator()})
	}

	v := d.vset.Current()
	v.Ref()
	it.version = v
	d.mu.Unlock()

	for level := 0; level < v.NumLevels(); level++ {
		for _, f := range v.Files(level) {
			src, err := it.openSSTSource(f)
			if err != nil {
				_ = it.Close()
				return nil, err
			}
			it.sources = append(it.sources, src)
		}
	}

	return it, nil
}

func (it *Iterator) openSSTSource(f *manifest.FileMetaData) (internalSource, error) {
	path := it.d.SSTFilePath(f.FD.Number)
	reader, err := it.d.tableCache.Get(f.FD.Number, path)
	if err != nil {
		return nil, ioErrorf(err, "open SST %d", f.FD.Number)
	}
	it.fileNums = append(it.fileNums, f.FD.Number)
	return sstSource{iter: reader.NewIterator(), fileNum: f.FD.Number}, nil
}

// Close releases every memtable and SST reference this iterator pinned.
// Safe to call more than once.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true

	if it.mem != nil {
		it.mem.Unref()
	}
	if it.imm != nil {
		it.imm.Unref()
	}
	for _, fn := range it.fileNums {
		it.d.tableCache.Release(fn)
	}
	if it.version != nil {
		it.version.Unref()
	}
	return nil
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.valid && it.err == nil }

// Error returns the first error encountered, if any.
func (it *Iterator) Error() error { return it.err }

// Key returns the current user key. Valid until the next positioning call.
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.savedKey
}

// Value returns the current value.
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.savedValue
}

// SeekToFirst positions at the smallest key.
func (it *Iterator) SeekToFirst() {
	it.direction = dirForward
	it.err = nil
	for _, s := range it.sources {
		s.SeekToFirst()
	}
	it.findNext()
}

// SeekToLast positions at the largest key.
func (it *Iterator) SeekToLast() {
	it.direction = dirReverse
	it.err = nil
	for _, s := range it.sources {
		s.SeekToLast()
	}
	it.findPrev()
}

// Seek positions at the first key >= target.
func (it *Iterator) Seek(target []byte) {
	it.direction = dirForward
	it.err = nil
	seekKey := dbformat.NewInternalKey(target, it.seq, dbformat.ValueTypeForSeek)
	for _, s := range it.sources {
		s.Seek(seekKey)
	}
	it.findNext()
}

// Next advances to the next user key.
func (it *Iterator) Next() {
	if !it.valid {
		return
	}
	if it.direction == dirReverse {
		it.resyncForward()
		return
	}
	for _, s := range it.sources {
		for s.Valid() && it.d.opts.Comparator(dbformat.ExtractUserKey(s.Key()), it.savedKey) == 0 {
			s.Next()
		}
	}
	it.findNext()
}

// Prev moves to the previous user key.
func (it *Iterator) Prev() {
	if !it.valid {
		return
	}
	if it.direction == dirForward {
		it.resyncBackward()
		return
	}
	for _, s := range it.sources {
		for s.Valid() && it.d.opts.Comparator(dbformat.ExtractUserKey(s.Key()), it.savedKey) == 0 {
			s.Prev()
		}
	}
	it.findPrev()
}

// resyncForward repositions every source past savedKey after a direction
// flip from reverse to forward (mirrors the teacher's DBIter ReverseToForward).
func (it *Iterator) resyncForward() {
	it.direction = dirForward
	seekKey := dbformat.NewInternalKey(it.savedKey, dbformat.MaxSequenceNumber, dbformat.ValueTypeForSeek)
	for _, s := range it.sources {
		s.Seek(seekKey)
		for s.Valid() && it.d.opts.Comparator(dbformat.ExtractUserKey(s.Key()), it.savedKey) == 0 {
			s.Next()
		}
	}
	it.findNext()
}

// resyncBackward repositions every source before savedKey after a direction
// flip from forward to reverse (mirrors the teacher's DBIter ReverseToBackward).
func (it *Iterator) resyncBackward() {
	it.direction = dirReverse
	seekKey := dbformat.NewInternalKey(it.savedKey, dbformat.MaxSequenceNumber, dbformat.ValueTypeForSeek)
	for _, s := range it.sources {
		s.Seek(seekKey)
		if s.Valid() {
			if it.d.opts.Comparator(dbformat.ExtractUserKey(s.Key()), it.savedKey) > 0 {
				s.Prev()
			} else {
				for s.Valid() && it.d.opts.Comparator(dbformat.ExtractUserKey(s.Key()), it.savedKey) == 0 {
					s.Prev()
				}
			}
		} else {
			s.SeekToLast()
			for s.Valid() && it.d.opts.Comparator(dbformat.ExtractUserKey(s.Key()), it.savedKey) == 0 {
				s.Prev()
			}
		}
	}
	it.findPrev()
}

// findNext finds the smallest visible user key across every source, skipping
// versions hidden by the snapshot and user keys whose newest visible version
// is a tombstone.
func (it *Iterator) findNext() {
	for {
		minIdx := -1
		var minKey []byte
		var minSeq dbformat.SequenceNumber

		restarted := false
		for i, s := range it.sources {
			if !s.Valid() {
				continue
			}
			if err := s.Error(); err != nil {
				it.err = err
				it.valid = false
				return
			}

			ik := s.Key()
			seq := dbformat.ExtractSequenceNumber(ik)
			if seq > it.seq {
				s.Next()
				restarted = true
				continue
			}

			userKey := dbformat.ExtractUserKey(ik)
			if minIdx == -1 {
				minIdx, minKey, minSeq = i, userKey, seq
				continue
			}
			cmp := it.d.opts.Comparator(userKey, minKey)
			if cmp < 0 || (cmp == 0 && seq > minSeq) {
				minIdx, minKey, minSeq = i, userKey, seq
			}
		}
		if restarted {
			continue
		}

		if minIdx == -1 {
			it.valid = false
			return
		}

		if dbformat.ExtractValueType(it.sources[minIdx].Key()) == dbformat.TypeDeletion {
			toSkip := append([]byte(nil), minKey...)
			for _, s := range it.sources {
				for s.Valid() && it.d.opts.Comparator(dbformat.ExtractUserKey(s.Key()), toSkip) == 0 {
					s.Next()
				}
			}
			continue
		}

		it.savedKey = append([]byte(nil), minKey...)
		it.savedValue = append([]byte(nil), it.sources[minIdx].Value()...)
		it.valid = true
		return
	}
}

// findPrev is findNext's mirror image for reverse iteration.
func (it *Iterator) findPrev() {
	for {
		maxIdx := -1
		var maxKey []byte
		var maxSeq dbformat.SequenceNumber

		restarted := false
		for i, s := range it.sources {
			if !s.Valid() {
				continue
			}
			if err := s.Error(); err != nil {
				it.err = err
				it.valid = false
				return
			}

			ik := s.Key()
			seq := dbformat.ExtractSequenceNumber(ik)
			if seq > it.seq {
				s.Prev()
				restarted = true
				continue
			}

			userKey := dbformat.ExtractUserKey(ik)
			if maxIdx == -1 {
				maxIdx, maxKey, maxSeq = i, userKey, seq
				continue
			}
			cmp := it.d.opts.Comparator(userKey, maxKey)
			if cmp > 0 || (cmp == 0 && seq > maxSeq) {
				maxIdx, maxKey, maxSeq = i, userKey, seq
			}
		}
		if restarted {
			continue
		}

		if maxIdx == -1 {
			it.valid = false
			return
		}

		if dbformat.ExtractValueType(it.sources[maxIdx].Key()) == dbformat.TypeDeletion {
			toSkip := append([]byte(nil), maxKey...)
			for _, s := range it.sources {
				for s.Valid() && it.d.opts.Comparator(dbformat.ExtractUserKey(s.Key()), toSkip) == 0 {
					s.Prev()
				}
			}
			continue
		}

		it.savedKey = append([]byte(nil), maxKey...)
		it.savedValue = append([]byte(nil), it.sources[maxIdx].Value()...)
		it.valid = true
		return
	}
}
