// Package version implements Version and VersionSet: the immutable
// per-level file listing an LSM-tree query runs against, and the manager
// that installs a new Version each time a VersionEdit is applied and
// durably records the edit in the MANIFEST (§4.8).
package version

import (
	"sync/atomic"

	"github.com/lumenkv/lumenkv/internal/dbformat"
	"github.com/lumenkv/lumenkv/internal/manifest"
)

// MaxNumLevels is the maximum number of levels in the LSM-tree.
const MaxNumLevels = 7

// Version represents a snapshot of the database state at a point in time.
// Each Version keeps track of the set of SST files at each level.
//
// Versions are immutable once created. New versions are created by applying
// VersionEdits to an existing version via the Builder.
//
// Versions use reference counting to manage their lifetime. When a Version
// is no longer needed, call Unref() to decrement the reference count.
type Version struct {
	// Files at each level: L0 sorted by file number, other levels by smallest key
	files [MaxNumLevels][]*manifest.FileMetaData

	// Reference count for this version
	refs int32

	// The VersionSet this version belongs to
	vset *VersionSet

	// Version number (for debugging)
	versionNumber uint64

	// Linked list pointers (for VersionSet's version list)
	prev *Version
	next *Version

	// Compaction score for each level (computed after version is finalized)
	compactionScore []float64 //nolint:unused // Reserved for future compaction scheduling
	compactionLevel []int     //nolint:unused // Reserved for future compaction scheduling
}

// NewVersion creates a new empty Version.
func NewVersion(vset *VersionSet, versionNumber uint64) *Version {
	return &Version{
		vset:          vset,
		versionNumber: versionNumber,
		refs:          0,
	}
}

// Ref increments the reference count.
func (v *Version) Ref() {
	atomic.AddInt32(&v.refs, 1)
}

// Unref decrements the reference count and deletes the version if it reaches 0.
func (v *Version) Unref() {
	if atomic.AddInt32(&v.refs, -1) == 0 {
		// Must hold the VersionSet's list lock when modifying the linked list
		// to prevent races with other Unref() calls and appendVersion().
		// We use a separate listMu to avoid deadlock with the main mu.
		if v.vset != nil {
			v.vset.listMu.Lock()
			defer v.vset.listMu.Unlock()
		}
		// Remove from linked list
		if v.prev != nil {
			v.prev.next = v.next
		}
		if v.next != nil {
			v.next.prev = v.prev
		}
		// Clear pointers to help GC
		v.prev = nil
		v.next = nil
		// The version is now unreachable and can be garbage collected
	}
}

// NumLevels returns the number of levels in use.
func (v *Version) NumLevels() int {
	return MaxNumLevels
}

// NumFiles returns the number of files at the given level.
func (v *Version) NumFiles(level int) int {
	if level < 0 || level >= MaxNumLevels {
		return 0
	}
	return len(v.files[level])
}

// Files returns the files at the given level.
func (v *Version) Files(level int) []*manifest.FileMetaData {
	if level < 0 || level >= MaxNumLevels {
		return nil
	}
	return v.files[level]
}

// TotalFiles returns the total number of files across all levels.
func (v *Version) TotalFiles() int {
	total := 0
	for level := range MaxNumLevels {
		total += len(v.files[level])
	}
	return total
}

// NumLevelBytes returns the total size of files at the given level.
func (v *Version) NumLevelBytes(level int) uint64 {
	if level < 0 || level >= MaxNumLevels {
		return 0
	}
	var size uint64
	for _, f := range v.files[level] {
		size += f.FD.FileSize
	}
	return size
}

// VersionNumber returns the version number for debugging.
func (v *Version) VersionNumber() uint64 {
	return v.versionNumber
}

// filesContainingUserKey returns, for a single level, the files whose
// [Smallest, Largest] range could hold userKey. At level 0 more than one
// file may qualify since L0 files can overlap; at L1+ at most one can.
func (v *Version) filesContainingUserKey(level int, userKey []byte) []*manifest.FileMetaData {
	var matches []*manifest.FileMetaData
	for _, f := range v.files[level] {
		if dbformat.BytewiseCompare(userKey, dbformat.ExtractUserKey(f.Smallest)) < 0 {
			continue
		}
		if dbformat.BytewiseCompare(userKey, dbformat.ExtractUserKey(f.Largest)) > 0 {
			continue
		}
		matches = append(matches, f)
		if level > 0 {
			// L1+ ranges are disjoint: the first match is the only match.
			break
		}
	}
	return matches
}

// RecordReadSample charges a seek against the first file that overlaps
// userKey, scanning levels from 0 upward and each level's files in stored
// order (so within L0 the oldest file comes first), once it's established
// that a second overlapping file exists. Nothing is charged if fewer than
// two files overlap the key. When the charged file's seek budget is
// exhausted, it's flagged so the compaction picker schedules it with
// CompactionReasonSeekTrigger. Returns the file only when this call flags
// it; otherwise returns nil.
func (v *Version) RecordReadSample(userKey []byte) *manifest.FileMetaData {
	var first *manifest.FileMetaData
	matched := 0

	for level := 0; level < MaxNumLevels && matched < 2; level++ {
		for _, f := range v.filesContainingUserKey(level, userKey) {
			matched++
			if first == nil {
				first = f
			}
			if matched >= 2 {
				break
			}
		}
	}

	if matched < 2 || first == nil {
		return nil
	}

	first.AllowedSeeks--
	if first.AllowedSeeks <= 0 && !first.MarkedForCompaction {
		first.MarkedForCompaction = true
		return first
	}
	return nil
}

// OverlappingInputs returns the files at the given level that overlap with
// the key range [begin, end]. If begin or end is nil, it means "no bound".
func (v *Version) OverlappingInputs(level int, begin, end []byte) []*manifest.FileMetaData {
	if level < 0 || level >= MaxNumLevels {
		return nil
	}

	var result []*manifest.FileMetaData
	for _, f := range v.files[level] {
		if begin != nil && len(f.Largest) > 0 {
			if dbformat.CompareInternalKeys(f.Largest, begin) < 0 {
				continue
			}
		}
		if end != nil && len(f.Smallest) > 0 {
			if dbformat.CompareInternalKeys(f.Smallest, end) > 0 {
				continue
			}
		}
		result = append(result, f)
	}
	return result
}
