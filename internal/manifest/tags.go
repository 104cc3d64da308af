// Package manifest implements VersionEdit and its MANIFEST encoding: the
// log of changes applied to a Version as memtables flush and compactions
// run (§4.8).
//
// Each field of a VersionEdit is written as a tag/value pair so a reader
// can skip fields it doesn't recognize, provided the tag's safe-to-ignore
// bit is set.
package manifest

// Tag identifies a field within a serialized VersionEdit. These numbers
// are written to disk and must never change meaning once assigned.
type Tag uint32

const (
	TagComparator     Tag = 1
	TagLogNumber      Tag = 2
	TagNextFileNumber Tag = 3
	TagLastSequence   Tag = 4
	TagDeletedFile    Tag = 6
	TagPrevLogNumber  Tag = 9

	TagNewFile4 Tag = 103

	// TagSafeIgnoreMask marks a tag a reader may skip (rather than reject
	// the whole record) if it doesn't recognize it.
	TagSafeIgnoreMask Tag = 1 << 13
)

// IsSafeToIgnore reports whether an unrecognized t may be skipped.
func (t Tag) IsSafeToIgnore() bool {
	return t&TagSafeIgnoreMask != 0
}

// NewFileCustomTag identifies an optional field within a NewFile4 entry.
type NewFileCustomTag uint32

const (
	// NewFileTagTerminate marks the end of a NewFile4 entry's custom fields.
	NewFileTagTerminate NewFileCustomTag = 1

	// NewFileTagNeedCompaction flags a file for priority compaction.
	NewFileTagNeedCompaction NewFileCustomTag = 2

	// newFileTagNonSafeIgnoreMask marks a custom tag a reader must
	// understand or else reject the record.
	newFileTagNonSafeIgnoreMask NewFileCustomTag = 1 << 6
)

// IsSafeToIgnore reports whether an unrecognized custom tag may be skipped.
func (t NewFileCustomTag) IsSafeToIgnore() bool {
	return t&newFileTagNonSafeIgnoreMask == 0
}
