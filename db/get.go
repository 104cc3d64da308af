package db

import (
	"github.com/lumenkv/lumenkv/internal/dbformat"
	"github.com/lumenkv/lumenkv/internal/manifest"
	"github.com/lumenkv/lumenkv/internal/memtable"
	"github.com/lumenkv/lumenkv/internal/version"
)

// Get returns the value associated with key, or nil if it is absent. A
// missing key is not an error (§7); the bool reports whether the key exists
// at all, distinguishing "absent" from "present with an empty value".
func (d *DB) Get(opts *ReadOptions, key []byte) ([]byte, bool, error) {
	d.mu.Lock()
	if err := d.checkOpen(); err != nil {
		d.mu.Unlock()
		return nil, false, err
	}

	seq := dbformat.SequenceNumber(d.vset.LastSequence())
	if opts != nil && opts.Snapshot != nil {
		seq = opts.Snapshot.seq
	}

	mem := d.mem
	mem.Ref()
	var imm *memtable.MemTable
	if d.imm != nil {
		imm = d.imm
		imm.Ref()
	}
	cur := d.vset.Current()
	cur.Ref()
	d.mu.Unlock()

	defer mem.Unref()
	if imm != nil {
		defer imm.Unref()
	}
	defer cur.Unref()

	if value, found, deleted := mem.Get(key, seq); found {
		if deleted {
			return nil, false, nil
		}
		return value, true, nil
	}

	if imm != nil {
		if value, found, deleted := imm.Get(key, seq); found {
			if deleted {
				return nil, false, nil
			}
			return value, true, nil
		}
	}

	return d.getFromVersion(cur, key, seq)
}

// getFromVersion searches cur level by level, newest file first within L0,
// stopping at the first entry visible at seq. Once the search is done it
// charges RecordReadSample exactly once, matching the "a wasted seek through
// an L0 file eventually schedules it for compaction" rule (§4.9).
func (d *DB) getFromVersion(cur *version.Version, key []byte, seq dbformat.SequenceNumber) ([]byte, bool, error) {
	lookupKey := dbformat.NewInternalKey(key, seq, dbformat.ValueTypeForSeek)

	value, found, deleted, err := d.searchLevels(cur, key, lookupKey)

	if marked := cur.RecordReadSample(key); marked != nil {
		d.mu.Lock()
		d.maybeScheduleBackgroundWorkLocked()
		d.mu.Unlock()
	}

	if err != nil {
		return nil, false, err
	}
	if !found || deleted {
		return nil, false, nil
	}
	return value, true, nil
}

func (d *DB) searchLevels(cur *version.Version, key []byte, lookupKey dbformat.InternalKey) (value []byte, found bool, deleted bool, err error) {
	for level := 0; level < cur.NumLevels(); level++ {
		files := cur.Files(level)
		if len(files) == 0 {
			continue
		}

		for _, f := range filesOverlappingKey(files, level, key, d.opts.Comparator) {
			value, found, deleted, err = d.lookupInFile(f, lookupKey, key)
			if err != nil {
				return nil, false, false, err
			}
			if found {
				return value, true, deleted, nil
			}
		}
	}
	return nil, false, false, nil
}

// filesOverlappingKey returns, within a single level, the files whose range
// could contain key: every L0 file whose range qualifies, newest (highest
// file number) first since L0 files can overlap; at most one file at L1+,
// since those ranges are disjoint.
func filesOverlappingKey(files []*manifest.FileMetaData, level int, key []byte, cmp dbformat.UserKeyComparer) []*manifest.FileMetaData {
	var matches []*manifest.FileMetaData
	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		if cmp(key, dbformat.ExtractUserKey(f.Smallest)) < 0 {
			continue
		}
		if cmp(key, dbformat.ExtractUserKey(f.Largest)) > 0 {
			continue
		}
		matches = append(matches, f)
		if level > 0 {
			break
		}
	}
	return matches
}

// lookupInFile performs a point lookup for key inside a single SST file via
// the table cache, decoding the entry at or just after lookupKey.
func (d *DB) lookupInFile(f *manifest.FileMetaData, lookupKey dbformat.InternalKey, userKey []byte) (value []byte, found bool, deleted bool, err error) {
	path := d.SSTFilePath(f.FD.Number)
	reader, gerr := d.tableCache.Get(f.FD.Number, path)
	if gerr != nil {
		return nil, false, false, ioErrorf(gerr, "open SST %d", f.FD.Number)
	}
	defer d.tableCache.Release(f.FD.Number)

	iter := reader.NewIterator()
	iter.Seek(lookupKey)
	if !iter.Valid() {
		if ierr := iter.Error(); ierr != nil {
			return nil, false, false, ioErrorf(ierr, "read SST %d", f.FD.Number)
		}
		return nil, false, false, nil
	}

	entryKey := iter.Key()
	if d.opts.Comparator(userKey, dbformat.ExtractUserKey(entryKey)) != 0 {
		return nil, false, false, nil
	}

	switch dbformat.ExtractValueType(entryKey) {
	case dbformat.TypeValue:
		return iter.Value(), true, false, nil
	case dbformat.TypeDeletion:
		return nil, true, true, nil
	default:
		return nil, false, false, nil
	}
}
