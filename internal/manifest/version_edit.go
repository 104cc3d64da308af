// version_edit.go implements VersionEdit encoding and decoding: the record
// format journalled to the MANIFEST file and replayed during recovery to
// rebuild a Version (§4.8).
package manifest

import (
	"errors"

	"github.com/lumenkv/lumenkv/internal/encoding"
)

// Errors returned during VersionEdit encoding/decoding.
var (
	ErrUnexpectedEndOfInput = errors.New("manifest: unexpected end of input")
	ErrUnknownRequiredTag   = errors.New("manifest: unknown required tag")
)

// SequenceNumber is a database sequence number, as stored in a VersionEdit.
type SequenceNumber uint64

// FileDescriptor is the core file identity and size used to order and
// locate an SST file.
type FileDescriptor struct {
	Number        uint64
	FileSize      uint64
	SmallestSeqno SequenceNumber
	LargestSeqno  SequenceNumber
}

// FileMetaData describes one SST file tracked by a Version.
type FileMetaData struct {
	FD       FileDescriptor
	Smallest []byte // smallest internal key in the file
	Largest  []byte // largest internal key in the file

	MarkedForCompaction bool // set when a read hit too many seeks in this file

	// BeingCompacted is runtime state, not persisted: true while this file
	// is an input to an in-progress compaction.
	BeingCompacted bool

	// AllowedSeeks is runtime state, not persisted: the remaining budget of
	// "unproductive" seeks into this file before it gets flagged for
	// compaction. Seeded from FileSize by InitialAllowedSeeks and charged by
	// Version.RecordReadSample.
	AllowedSeeks int32
}

// NewFileMetaData returns an empty FileMetaData.
func NewFileMetaData() *FileMetaData {
	return &FileMetaData{}
}

// seekBytesPerUnit and minAllowedSeeks tune InitialAllowedSeeks: a file is
// assumed to absorb one wasted seek per 16KB of its size, but every file
// gets at least 100 seeks regardless of size so small files near L0 aren't
// compacted away on the first few misses.
const (
	seekBytesPerUnit = 16 * 1024
	minAllowedSeeks  = 100
)

// InitialAllowedSeeks computes the seek budget a newly created or recovered
// file starts with, based on its size: larger files cost more to rewrite in
// a compaction, so they're allowed more wasted seeks before one is charged
// against them and triggers compaction.
func InitialAllowedSeeks(fileSize uint64) int32 {
	seeks := int32(fileSize / seekBytesPerUnit)
	if seeks < minAllowedSeeks {
		seeks = minAllowedSeeks
	}
	return seeks
}

// DeletedFileEntry identifies a file removed by a VersionEdit.
type DeletedFileEntry struct {
	Level      int
	FileNumber uint64
}

// NewFileEntry identifies a file added by a VersionEdit.
type NewFileEntry struct {
	Level int
	Meta  *FileMetaData
}

// VersionEdit is a single change to the database's Version: some
// combination of a new log/file-number watermark, a new last sequence
// number, and files added to or removed from levels.
type VersionEdit struct {
	Comparator    string
	HasComparator bool

	LogNumber        uint64
	HasLogNumber     bool
	PrevLogNumber    uint64
	HasPrevLogNumber bool

	NextFileNumber    uint64
	HasNextFileNumber bool

	LastSequence    SequenceNumber
	HasLastSequence bool

	DeletedFiles []DeletedFileEntry
	NewFiles     []NewFileEntry
}

// NewVersionEdit returns an empty VersionEdit.
func NewVersionEdit() *VersionEdit {
	return &VersionEdit{}
}

// Clear resets the VersionEdit to its initial state.
func (ve *VersionEdit) Clear() {
	*ve = VersionEdit{}
}

// SetComparatorName records the user-key comparator's name, so a later
// open can refuse to use an incompatible comparator.
func (ve *VersionEdit) SetComparatorName(name string) {
	ve.Comparator = name
	ve.HasComparator = true
}

// SetLogNumber sets the current WAL file number.
func (ve *VersionEdit) SetLogNumber(num uint64) {
	ve.LogNumber = num
	ve.HasLogNumber = true
}

// SetPrevLogNumber sets the previous WAL file number.
func (ve *VersionEdit) SetPrevLogNumber(num uint64) {
	ve.PrevLogNumber = num
	ve.HasPrevLogNumber = true
}

// SetNextFileNumber sets the next file number to be allocated.
func (ve *VersionEdit) SetNextFileNumber(num uint64) {
	ve.NextFileNumber = num
	ve.HasNextFileNumber = true
}

// SetLastSequence sets the last sequence number assigned by the engine.
func (ve *VersionEdit) SetLastSequence(seq SequenceNumber) {
	ve.LastSequence = seq
	ve.HasLastSequence = true
}

// DeleteFile records fileNumber's removal from level.
func (ve *VersionEdit) DeleteFile(level int, fileNumber uint64) {
	ve.DeletedFiles = append(ve.DeletedFiles, DeletedFileEntry{Level: level, FileNumber: fileNumber})
}

// AddFile records meta's addition to level.
func (ve *VersionEdit) AddFile(level int, meta *FileMetaData) {
	ve.NewFiles = append(ve.NewFiles, NewFileEntry{Level: level, Meta: meta})
}

// EncodeTo appends the VersionEdit's tag/value encoding to dst.
func (ve *VersionEdit) EncodeTo() []byte {
	var dst []byte

	if ve.HasComparator {
		dst = encoding.AppendVarint32(dst, uint32(TagComparator))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(ve.Comparator))
	}
	if ve.HasLogNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagLogNumber))
		dst = encoding.AppendVarint64(dst, ve.LogNumber)
	}
	if ve.HasPrevLogNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagPrevLogNumber))
		dst = encoding.AppendVarint64(dst, ve.PrevLogNumber)
	}
	if ve.HasNextFileNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagNextFileNumber))
		dst = encoding.AppendVarint64(dst, ve.NextFileNumber)
	}
	if ve.HasLastSequence {
		dst = encoding.AppendVarint32(dst, uint32(TagLastSequence))
		dst = encoding.AppendVarint64(dst, uint64(ve.LastSequence))
	}

	for _, df := range ve.DeletedFiles {
		dst = encoding.AppendVarint32(dst, uint32(TagDeletedFile))
		dst = encoding.AppendVarint32(dst, uint32(df.Level))
		dst = encoding.AppendVarint64(dst, df.FileNumber)
	}

	for _, nf := range ve.NewFiles {
		dst = ve.encodeNewFile4(dst, nf)
	}

	return dst
}

func (ve *VersionEdit) encodeNewFile4(dst []byte, nf NewFileEntry) []byte {
	f := nf.Meta

	dst = encoding.AppendVarint32(dst, uint32(TagNewFile4))
	dst = encoding.AppendVarint32(dst, uint32(nf.Level))
	dst = encoding.AppendVarint64(dst, f.FD.Number)
	dst = encoding.AppendVarint64(dst, f.FD.FileSize)
	dst = encoding.AppendLengthPrefixedSlice(dst, f.Smallest)
	dst = encoding.AppendLengthPrefixedSlice(dst, f.Largest)
	dst = encoding.AppendVarint64(dst, uint64(f.FD.SmallestSeqno))
	dst = encoding.AppendVarint64(dst, uint64(f.FD.LargestSeqno))

	if f.MarkedForCompaction {
		dst = encoding.AppendVarint32(dst, uint32(NewFileTagNeedCompaction))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte{1})
	}

	dst = encoding.AppendVarint32(dst, uint32(NewFileTagTerminate))
	return dst
}

// DecodeFrom replaces ve's contents by decoding data, a buffer holding one
// or more tag/value records as produced by EncodeTo.
func (ve *VersionEdit) DecodeFrom(data []byte) error {
	ve.Clear()

	for len(data) > 0 {
		tagVal, n, err := encoding.DecodeVarint32(data)
		if err != nil {
			return ErrUnexpectedEndOfInput
		}
		data = data[n:]
		tag := Tag(tagVal)

		switch tag {
		case TagComparator:
			val, n, err := encoding.DecodeLengthPrefixedSlice(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			ve.Comparator = string(val)
			ve.HasComparator = true
			data = data[n:]

		case TagLogNumber:
			val, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			ve.LogNumber = val
			ve.HasLogNumber = true
			data = data[n:]

		case TagPrevLogNumber:
			val, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			ve.PrevLogNumber = val
			ve.HasPrevLogNumber = true
			data = data[n:]

		case TagNextFileNumber:
			val, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			ve.NextFileNumber = val
			ve.HasNextFileNumber = true
			data = data[n:]

		case TagLastSequence:
			val, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			ve.LastSequence = SequenceNumber(val)
			ve.HasLastSequence = true
			data = data[n:]

		case TagDeletedFile:
			level, n, err := encoding.DecodeVarint32(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			data = data[n:]

			fileNum, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			data = data[n:]

			ve.DeleteFile(int(level), fileNum)

		case TagNewFile4:
			var err error
			data, err = ve.decodeNewFile4(data)
			if err != nil {
				return err
			}

		default:
			if !tag.IsSafeToIgnore() {
				return ErrUnknownRequiredTag
			}
			val, n, err := encoding.DecodeLengthPrefixedSlice(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			_ = val
			data = data[n:]
		}
	}

	return nil
}

func (ve *VersionEdit) decodeNewFile4(data []byte) ([]byte, error) {
	meta := NewFileMetaData()

	level, n, err := encoding.DecodeVarint32(data)
	if err != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	data = data[n:]

	fileNum, n, err := encoding.DecodeVarint64(data)
	if err != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	data = data[n:]

	fileSize, n, err := encoding.DecodeVarint64(data)
	if err != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	data = data[n:]

	meta.FD = FileDescriptor{Number: fileNum, FileSize: fileSize}

	smallest, n, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	meta.Smallest = smallest
	data = data[n:]

	largest, n, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	meta.Largest = largest
	data = data[n:]

	smallestSeqno, n, err := encoding.DecodeVarint64(data)
	if err != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	meta.FD.SmallestSeqno = SequenceNumber(smallestSeqno)
	data = data[n:]

	largestSeqno, n, err := encoding.DecodeVarint64(data)
	if err != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	meta.FD.LargestSeqno = SequenceNumber(largestSeqno)
	data = data[n:]

	for {
		customTag, n, err := encoding.DecodeVarint32(data)
		if err != nil {
			return nil, ErrUnexpectedEndOfInput
		}
		data = data[n:]

		if NewFileCustomTag(customTag) == NewFileTagTerminate {
			break
		}

		val, n, err := encoding.DecodeLengthPrefixedSlice(data)
		if err != nil {
			return nil, ErrUnexpectedEndOfInput
		}
		data = data[n:]

		switch NewFileCustomTag(customTag) {
		case NewFileTagNeedCompaction:
			if len(val) > 0 && val[0] == 1 {
				meta.MarkedForCompaction = true
			}
		default:
			if !NewFileCustomTag(customTag).IsSafeToIgnore() {
				return nil, ErrUnknownRequiredTag
			}
		}
	}

	ve.AddFile(int(level), meta)
	return data, nil
}
