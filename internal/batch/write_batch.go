// Package batch implements the write-batch wire format used both as the
// WAL record payload and as the unit the memtable applies atomically
// (§4.7):
//
//	Header (12 bytes):
//	  - 8 bytes: sequence number (little-endian uint64)
//	  - 4 bytes: count (little-endian uint32)
//	Records (repeated):
//	  - 1 byte: tag (TypeValue or TypeDeletion)
//	  - length-prefixed key
//	  - (TypeValue only): length-prefixed value
package batch

import (
	"encoding/binary"
	"errors"

	"github.com/lumenkv/lumenkv/internal/dbformat"
	"github.com/lumenkv/lumenkv/internal/encoding"
)

// HeaderSize is the size of the WriteBatch header (8-byte sequence + 4-byte count).
const HeaderSize = 12

const (
	// TypeDeletion tags a tombstone record.
	TypeDeletion = byte(dbformat.TypeDeletion)
	// TypeValue tags a value record.
	TypeValue = byte(dbformat.TypeValue)
)

var (
	// ErrCorrupted indicates a malformed batch body.
	ErrCorrupted = errors.New("batch: corrupted write batch")

	// ErrTooSmall indicates the batch is smaller than the header.
	ErrTooSmall = errors.New("batch: too small")
)

// WriteBatch is a sequence of Put/Delete operations applied atomically.
type WriteBatch struct {
	data []byte // raw batch bytes, including the 12-byte header
}

// New creates an empty WriteBatch.
func New() *WriteBatch {
	return &WriteBatch{data: make([]byte, HeaderSize)}
}

// NewFromData wraps an existing encoded batch (e.g. one just read back
// from the WAL) without copying.
func NewFromData(data []byte) (*WriteBatch, error) {
	if len(data) < HeaderSize {
		return nil, ErrTooSmall
	}
	return &WriteBatch{data: data}, nil
}

// Clear resets the batch to empty, preserving its backing array.
func (wb *WriteBatch) Clear() {
	wb.data = wb.data[:HeaderSize]
	binary.LittleEndian.PutUint32(wb.data[8:12], 0)
}

// Data returns the raw encoded batch.
func (wb *WriteBatch) Data() []byte { return wb.data }

// Clone returns a deep copy of the batch.
func (wb *WriteBatch) Clone() *WriteBatch {
	clone := &WriteBatch{data: make([]byte, len(wb.data))}
	copy(clone.data, wb.data)
	return clone
}

// Size returns the size of the encoded batch in bytes.
func (wb *WriteBatch) Size() int { return len(wb.data) }

// Count returns the number of records in the batch.
func (wb *WriteBatch) Count() uint32 { return binary.LittleEndian.Uint32(wb.data[8:12]) }

// SetCount overwrites the count field.
func (wb *WriteBatch) SetCount(count uint32) { binary.LittleEndian.PutUint32(wb.data[8:12], count) }

// Sequence returns the batch's base sequence number: the Put/Delete at
// index i within the batch is assigned Sequence()+i (§3, §4.7).
func (wb *WriteBatch) Sequence() dbformat.SequenceNumber {
	return dbformat.SequenceNumber(binary.LittleEndian.Uint64(wb.data[0:8]))
}

// SetSequence sets the batch's base sequence number.
func (wb *WriteBatch) SetSequence(seq dbformat.SequenceNumber) {
	binary.LittleEndian.PutUint64(wb.data[0:8], uint64(seq))
}

// Put appends a value record.
func (wb *WriteBatch) Put(key, value []byte) {
	wb.data = append(wb.data, TypeValue)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, value)
	wb.SetCount(wb.Count() + 1)
}

// Delete appends a tombstone record.
func (wb *WriteBatch) Delete(key []byte) {
	wb.data = append(wb.data, TypeDeletion)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.SetCount(wb.Count() + 1)
}

// Append appends src's records to wb. src's own sequence number is
// ignored; the combined batch keeps wb's.
func (wb *WriteBatch) Append(src *WriteBatch) {
	if src.Count() == 0 {
		return
	}
	wb.data = append(wb.data, src.data[HeaderSize:]...)
	wb.SetCount(wb.Count() + src.Count())
}

// Handler receives each record during Iterate.
type Handler interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Iterate calls handler for every record in the batch, in order.
func (wb *WriteBatch) Iterate(handler Handler) error {
	if len(wb.data) < HeaderSize {
		return ErrTooSmall
	}

	data := wb.data[HeaderSize:]
	for len(data) > 0 {
		tag := data[0]
		data = data[1:]

		var key, value []byte
		var err error

		switch tag {
		case TypeValue:
			key, data, err = decodeLengthPrefixed(data)
			if err != nil {
				return err
			}
			value, data, err = decodeLengthPrefixed(data)
			if err != nil {
				return err
			}
			if err := handler.Put(key, value); err != nil {
				return err
			}

		case TypeDeletion:
			key, data, err = decodeLengthPrefixed(data)
			if err != nil {
				return err
			}
			if err := handler.Delete(key); err != nil {
				return err
			}

		default:
			return ErrCorrupted
		}
	}
	return nil
}

func decodeLengthPrefixed(data []byte) ([]byte, []byte, error) {
	if len(data) == 0 {
		return nil, nil, ErrCorrupted
	}
	length, n, err := encoding.DecodeVarint32(data)
	if err != nil {
		return nil, nil, ErrCorrupted
	}
	data = data[n:]
	if len(data) < int(length) {
		return nil, nil, ErrCorrupted
	}
	return data[:length], data[length:], nil
}
