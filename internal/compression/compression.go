// Package compression implements the block compressors used by the table
// builder and reader (§4.2, §4.3). Every compressed block carries a 1-byte
// tag identifying which of these was used, so the tag values are a fixed
// part of the on-disk format and must never be renumbered.
package compression

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Type identifies a block compressor. The numeric values are persisted in
// every block trailer and in the table properties; they are fixed for
// compatibility with the wider LevelDB/Bedrock table family and must not be
// reassigned.
type Type uint8

const (
	// NoCompression stores the block verbatim.
	NoCompression Type = 0

	// SnappyCompression uses Google's Snappy format. Snappy embeds its own
	// uncompressed-length varint, so decompression needs no external size
	// hint.
	SnappyCompression Type = 1

	// ZlibRawCompression uses raw DEFLATE (no zlib header/trailer,
	// windowBits = -14-equivalent). This is the default "zlib" tag used by
	// the Bedrock Edition table format.
	ZlibRawCompression Type = 2

	// ZlibCompression uses DEFLATE wrapped in a zlib header/Adler-32
	// trailer (RFC 1950), for producers that emit the fuller container.
	ZlibCompression Type = 4

	// ZstdCompression uses Zstandard.
	ZstdCompression Type = 5
)

// String returns the human-readable name of the compression type.
func (t Type) String() string {
	switch t {
	case NoCompression:
		return "None"
	case SnappyCompression:
		return "Snappy"
	case ZlibRawCompression:
		return "ZlibRaw"
	case ZlibCompression:
		return "Zlib"
	case ZstdCompression:
		return "Zstd"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// IsSupported reports whether t is one of the tags this build understands.
func (t Type) IsSupported() bool {
	switch t {
	case NoCompression, SnappyCompression, ZlibRawCompression, ZlibCompression, ZstdCompression:
		return true
	default:
		return false
	}
}

// hasEmbeddedSize reports whether the compressed representation already
// carries its own uncompressed length, so the table reader doesn't need to
// consult the block handle's uncompressed-size hint.
func hasEmbeddedSize(t Type) bool {
	return t == SnappyCompression
}

// HasEmbeddedSize exports hasEmbeddedSize for callers outside the package
// (the table builder decides whether to record an uncompressed-length hint).
func HasEmbeddedSize(t Type) bool { return hasEmbeddedSize(t) }

// Compress compresses data with the given algorithm.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil

	case SnappyCompression:
		return snappy.Encode(nil, data), nil

	case ZlibRawCompression:
		return compressFlate(data)

	case ZlibCompression:
		return compressZlib(data)

	case ZstdCompression:
		return compressZstd(data)

	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

func compressFlate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("compression: raw deflate writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compression: raw deflate write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compression: raw deflate close: %w", err)
	}
	return buf.Bytes(), nil
}

func compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("compression: zlib writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compression: zlib write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compression: zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("compression: zstd encoder: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

// Decompress decompresses data with the given algorithm. expectedSize, if
// nonzero, is a hint for allocating the output buffer; it is required for
// none of the supported algorithms since each self-describes its length,
// but a correct hint avoids a reallocation.
func Decompress(t Type, data []byte, expectedSize int) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil

	case SnappyCompression:
		return snappy.Decode(nil, data)

	case ZlibRawCompression:
		return decompressFlate(data, expectedSize)

	case ZlibCompression:
		return decompressZlib(data, expectedSize)

	case ZstdCompression:
		return decompressZstd(data)

	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

func decompressFlate(data []byte, expectedSize int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer func() { _ = r.Close() }()
	return readAllSized(r, expectedSize)
}

func decompressZlib(data []byte, expectedSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("compression: zlib reader: %w", err)
	}
	defer func() { _ = r.Close() }()
	return readAllSized(r, expectedSize)
}

func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("compression: zstd decoder: %w", err)
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}

func readAllSized(r io.Reader, expectedSize int) ([]byte, error) {
	if expectedSize > 0 {
		buf := bytes.NewBuffer(make([]byte, 0, expectedSize))
		if _, err := io.Copy(buf, r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return io.ReadAll(r)
}
