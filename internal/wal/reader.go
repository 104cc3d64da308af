// reader.go implements WAL file reading: reassembling logical records from
// their physical fragments, verifying each fragment's checksum, and
// tolerating a truncated final block as a normal consequence of a crash
// mid-append rather than as corruption (§4.6, §7).
package wal

import (
	"errors"
	"io"

	"github.com/lumenkv/lumenkv/internal/checksum"
	"github.com/lumenkv/lumenkv/internal/encoding"
)

var (
	// ErrCorruptedRecord indicates a record with an invalid checksum.
	ErrCorruptedRecord = errors.New("wal: corrupted record (bad checksum)")

	// ErrShortRecord indicates a record that is shorter than its header claims.
	ErrShortRecord = errors.New("wal: short record")

	// ErrInvalidRecordType indicates an unrecognized record type.
	ErrInvalidRecordType = errors.New("wal: invalid record type")

	// ErrUnexpectedEOF indicates the file ended in the middle of a
	// multi-fragment record.
	ErrUnexpectedEOF = errors.New("wal: unexpected end of file")

	// ErrUnexpectedMiddleRecord indicates a middle record without a
	// preceding first record.
	ErrUnexpectedMiddleRecord = errors.New("wal: unexpected middle record")

	// ErrUnexpectedLastRecord indicates a last record without a preceding
	// first record.
	ErrUnexpectedLastRecord = errors.New("wal: unexpected last record")

	// ErrUnexpectedFirstRecord indicates a first record while already
	// assembling a fragmented record.
	ErrUnexpectedFirstRecord = errors.New("wal: unexpected first record")
)

// Reporter is notified when the reader detects corruption it is skipping
// past, so the caller can log it without aborting recovery.
type Reporter interface {
	Corruption(bytes int, err error)
}

// Reader reads logical records from a WAL file, reassembling fragments and
// verifying checksums.
type Reader struct {
	src          io.Reader
	reporter     Reporter
	verifyCRC    bool
	backingStore []byte // buffer for reading one block at a time
	buffer       []byte // unconsumed bytes in backingStore

	eof           bool
	blockOffset   int
	lastRecordEnd int

	fragments          []byte
	inFragmentedRecord bool
}

// NewReader creates a WAL reader over src.
func NewReader(src io.Reader, reporter Reporter, verifyCRC bool) *Reader {
	return &Reader{
		src:          src,
		reporter:     reporter,
		verifyCRC:    verifyCRC,
		backingStore: make([]byte, BlockSize),
	}
}

// ReadRecord reads the next logical record. It returns io.EOF once the log
// is exhausted. The returned slice is only valid until the next call.
func (r *Reader) ReadRecord() ([]byte, error) {
	r.fragments = r.fragments[:0]
	r.inFragmentedRecord = false

	for {
		recordType, fragment, err := r.readPhysicalRecord()
		if err != nil {
			if errors.Is(err, io.EOF) && r.inFragmentedRecord {
				// A first/middle fragment with no following last fragment
				// means the writer crashed mid-append (§7): treat it as
				// end of valid log, not a hard error.
				return nil, io.EOF
			}
			return nil, err
		}

		switch recordType {
		case FullType:
			if r.inFragmentedRecord {
				r.reportCorruption(len(r.fragments), ErrUnexpectedFirstRecord)
			}
			return fragment, nil

		case FirstType:
			if r.inFragmentedRecord {
				r.reportCorruption(len(r.fragments), ErrUnexpectedFirstRecord)
			}
			r.fragments = append(r.fragments[:0], fragment...)
			r.inFragmentedRecord = true

		case MiddleType:
			if !r.inFragmentedRecord {
				r.reportCorruption(len(fragment), ErrUnexpectedMiddleRecord)
				continue
			}
			r.fragments = append(r.fragments, fragment...)

		case LastType:
			if !r.inFragmentedRecord {
				r.reportCorruption(len(fragment), ErrUnexpectedLastRecord)
				continue
			}
			r.fragments = append(r.fragments, fragment...)
			r.inFragmentedRecord = false
			result := make([]byte, len(r.fragments))
			copy(result, r.fragments)
			return result, nil

		case ZeroType:
			continue

		default:
			r.reportCorruption(len(fragment), ErrInvalidRecordType)
			continue
		}
	}
}

// readPhysicalRecord reads a single physical record.
func (r *Reader) readPhysicalRecord() (RecordType, []byte, error) {
	for {
		if len(r.buffer) < HeaderSize {
			if r.eof {
				return 0, nil, io.EOF
			}

			n, err := io.ReadFull(r.src, r.backingStore)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					r.eof = true
					if n == 0 {
						return 0, nil, io.EOF
					}
				} else {
					return 0, nil, err
				}
			}

			r.buffer = r.backingStore[:n]
			r.blockOffset = 0
		}

		if len(r.buffer) < HeaderSize {
			// A truncated header at the tail of the file: the last append
			// never completed. Treat as clean end of log.
			if r.eof {
				return 0, nil, io.EOF
			}
			r.reportCorruption(len(r.buffer), ErrShortRecord)
			r.buffer = nil
			continue
		}

		header := r.buffer[:HeaderSize]
		crcStored := encoding.DecodeFixed32(header[0:4])
		length := int(encoding.DecodeFixed16(header[4:6]))
		recordType := RecordType(header[6])

		if len(r.buffer) < HeaderSize+length {
			if r.eof {
				return 0, nil, io.EOF
			}
			r.reportCorruption(len(r.buffer), ErrShortRecord)
			r.buffer = nil
			continue
		}

		if recordType == ZeroType && length == 0 {
			r.buffer = r.buffer[HeaderSize:]
			r.blockOffset += HeaderSize
			continue
		}

		payload := r.buffer[HeaderSize : HeaderSize+length]

		if r.verifyCRC {
			crc := checksum.Value([]byte{byte(recordType)})
			crc = checksum.Extend(crc, payload)
			crc = checksum.Mask(crc)

			if crc != crcStored {
				r.reportCorruption(HeaderSize+length, ErrCorruptedRecord)
				r.buffer = r.buffer[HeaderSize+length:]
				r.blockOffset += HeaderSize + length
				continue
			}
		}

		r.buffer = r.buffer[HeaderSize+length:]
		r.blockOffset += HeaderSize + length
		r.lastRecordEnd = r.blockOffset

		result := make([]byte, len(payload))
		copy(result, payload)
		return recordType, result, nil
	}
}

func (r *Reader) reportCorruption(bytes int, err error) {
	if r.reporter != nil {
		r.reporter.Corruption(bytes, err)
	}
}

// IsEOF reports whether the reader has reached end of file.
func (r *Reader) IsEOF() bool { return r.eof }

// LastRecordEnd returns the byte offset just after the last successfully
// read record.
func (r *Reader) LastRecordEnd() int { return r.lastRecordEnd }
