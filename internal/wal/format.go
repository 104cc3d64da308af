// Package wal implements the write-ahead log: a sequence of 32 KiB physical
// blocks, each holding one or more framed records, used to recover the
// memtable after a crash (§4.6).
//
// Record Format:
//
//	+----------+---------+------+---------+
//	| CRC (4B) | Len(2B) | Type | Payload |
//	+----------+---------+------+---------+
//
// CRC is computed over Type + Payload and masked using checksum.Mask.
package wal

// BlockSize is the size of each physical block in the log file. Records are
// packed into these blocks, with zero padding at the end of a block when
// fewer than HeaderSize bytes remain.
const BlockSize = 32768

// HeaderSize is the size of a record header: checksum (4) + length (2) +
// type (1).
const HeaderSize = 7

// MaxRecordPayload is the maximum payload a single physical record can
// carry within one block.
const MaxRecordPayload = BlockSize - HeaderSize

// RecordType identifies a physical record's role in reassembling a logical
// record that may span several blocks. These values are part of the
// on-disk format and must not change.
type RecordType uint8

const (
	// ZeroType marks preallocated-but-unwritten space (all zeros); readers
	// treat it as end-of-log, not corruption.
	ZeroType RecordType = 0

	// FullType is a complete logical record that fit in a single fragment.
	FullType RecordType = 1

	// FirstType is the first fragment of a logical record that spans
	// multiple physical records.
	FirstType RecordType = 2

	// MiddleType is an interior fragment.
	MiddleType RecordType = 3

	// LastType is the final fragment.
	LastType RecordType = 4
)

// IsFragmentType reports whether t is one of Full/First/Middle/Last.
func IsFragmentType(t RecordType) bool {
	return t >= FullType && t <= LastType
}

// String returns the name of a RecordType.
func (t RecordType) String() string {
	switch t {
	case ZeroType:
		return "ZeroType"
	case FullType:
		return "FullType"
	case FirstType:
		return "FirstType"
	case MiddleType:
		return "MiddleType"
	case LastType:
		return "LastType"
	default:
		return "UnknownType"
	}
}
