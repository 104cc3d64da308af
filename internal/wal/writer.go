// writer.go implements WAL file writing: an append-only stream that
// fragments logical records across 32 KiB block boundaries (§4.6).
package wal

import (
	"io"

	"github.com/lumenkv/lumenkv/internal/checksum"
	"github.com/lumenkv/lumenkv/internal/encoding"
	"github.com/lumenkv/lumenkv/internal/testutil"
)

// Writer writes records to a WAL file, fragmenting logical records that
// don't fit in the space remaining in the current block.
type Writer struct {
	dest        io.Writer
	blockOffset int // current offset within the current block

	// typeCRC holds the precomputed CRC32C of each single-byte record type,
	// so each emitPhysicalRecord call only needs to extend it.
	typeCRC [LastType + 1]uint32

	headerBuf [HeaderSize]byte
}

// NewWriter creates a WAL writer appending to dest at the given block
// offset (0 for a fresh file; the recovered tail offset when reopening a
// log that was not rolled).
func NewWriter(dest io.Writer, blockOffset int) *Writer {
	w := &Writer{dest: dest, blockOffset: blockOffset}
	for i := range w.typeCRC {
		w.typeCRC[i] = checksum.Value([]byte{byte(i)})
	}
	return w
}

// AddRecord writes a complete logical record to the log, fragmenting it
// across block boundaries as needed. Returns the number of bytes written,
// including headers and padding.
func (w *Writer) AddRecord(data []byte) (int, error) {
	testutil.MaybeKill(testutil.KPWALAppend0)

	ptr := data
	left := len(data)
	totalWritten := 0
	begin := true

	// Even an empty record emits one zero-length FullType fragment, so a
	// reader can still observe "a record was written here".
	for {
		leftover := BlockSize - w.blockOffset

		if leftover < HeaderSize {
			if leftover > 0 {
				padding := make([]byte, leftover)
				n, err := w.dest.Write(padding)
				totalWritten += n
				if err != nil {
					return totalWritten, err
				}
			}
			w.blockOffset = 0
		}

		avail := BlockSize - w.blockOffset - HeaderSize
		fragmentLength := min(left, avail)

		end := left == fragmentLength
		var recordType RecordType
		switch {
		case begin && end:
			recordType = FullType
		case begin:
			recordType = FirstType
		case end:
			recordType = LastType
		default:
			recordType = MiddleType
		}

		n, err := w.emitPhysicalRecord(recordType, ptr[:fragmentLength])
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}

		ptr = ptr[fragmentLength:]
		left -= fragmentLength
		begin = false

		if left == 0 {
			break
		}
	}

	return totalWritten, nil
}

func (w *Writer) emitPhysicalRecord(t RecordType, payload []byte) (int, error) {
	n := len(payload)
	if n > 0xFFFF {
		panic("wal: record payload too large") //nolint:forbidigo // intentional panic for precondition violation
	}

	w.headerBuf[4] = byte(n & 0xFF)
	w.headerBuf[5] = byte(n >> 8)
	w.headerBuf[6] = byte(t)

	crc := checksum.Extend(w.typeCRC[t], payload)
	crc = checksum.Mask(crc)
	encoding.EncodeFixed32(w.headerBuf[:], crc)

	totalWritten := 0
	written, err := w.dest.Write(w.headerBuf[:HeaderSize])
	totalWritten += written
	if err != nil {
		return totalWritten, err
	}

	written, err = w.dest.Write(payload)
	totalWritten += written
	if err != nil {
		return totalWritten, err
	}

	w.blockOffset += HeaderSize + n
	return totalWritten, nil
}

// BlockOffset returns the current offset within the current block.
func (w *Writer) BlockOffset() int { return w.blockOffset }

// Sync flushes the underlying writer if it supports it.
func (w *Writer) Sync() error {
	testutil.MaybeKill(testutil.KPWALSync0)

	if syncer, ok := w.dest.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return err
		}
	}

	testutil.MaybeKill(testutil.KPWALSync1)
	return nil
}
