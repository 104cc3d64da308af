// Package checksum implements the masked CRC32C (Castagnoli) checksum used
// to frame every on-disk record: WAL fragments and SST block trailers.
//
// The CRC32C primitive itself is treated as an external collaborator per
// the spec — it is the standard library's Castagnoli table, not a
// reimplementation — but the masking transform is part of the core
// block/record format and lives here.
package checksum

import "hash/crc32"

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maskDelta is added after the bit-rotation in Mask. It keeps a masked CRC
// of an all-zero or highly-repetitive block from collapsing onto a small,
// easily colliding constant.
const maskDelta = 0xa282ead8

// Value computes the unmasked CRC32C of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// Extend computes the CRC32C of concat(a, data) given crc == Value(a).
func Extend(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, castagnoli, data)
}

// Mask transforms a raw CRC32C so it is safe to store alongside the record
// it protects — see §4.1:
//
//	mask(c) = ((c >> 15) | (c << 17)) + 0xa282ead8  (mod 2^32)
func Mask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Unmask reverses Mask.
func Unmask(maskedCRC uint32) uint32 {
	rot := maskedCRC - maskDelta
	return (rot >> 17) | (rot << 15)
}

// MaskedValue computes Mask(Value(data)) in one call.
func MaskedValue(data []byte) uint32 {
	return Mask(Value(data))
}

// MaskedExtend computes Mask(Extend(crc, data)) in one call.
func MaskedExtend(crc uint32, data []byte) uint32 {
	return Mask(Extend(crc, data))
}
