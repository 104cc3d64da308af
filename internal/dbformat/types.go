// Package dbformat implements the internal-key encoding shared by the
// memtable, the WAL, and SST files: a user key followed by an 8-byte
// trailer packing a sequence number and an entry type (§3).
//
// Internal-key order: user key ascending (by the configured comparator);
// for equal user keys, sequence number descending, so the newest entry for
// a given user key sorts first. This is what lets a single forward scan
// resolve "freshest visible entry" without a second pass.
package dbformat

import (
	"errors"
	"fmt"

	"github.com/lumenkv/lumenkv/internal/encoding"
)

// SequenceNumber is the 56-bit monotonic counter assigned per entry (§3).
type SequenceNumber uint64

// MaxSequenceNumber is the largest representable sequence number (2^56 - 1).
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// NumInternalBytes is the size of the internal-key trailer (sequence + type).
const NumInternalBytes = 8

// ValueType is the entry type embedded in the internal-key trailer. Only
// two types are part of the on-disk contract (§3); they must never change
// value, since they are persisted in the WAL, memtable, and every SST.
type ValueType uint8

const (
	// TypeDeletion marks a tombstone: the user key is logically absent as
	// of this sequence number.
	TypeDeletion ValueType = 0x00
	// TypeValue marks a live value.
	TypeValue ValueType = 0x01
)

// ValueTypeForSeek is the type used when building a lookup key for Get: by
// using the maximum type value for a given sequence, the first internal key
// the comparator places at or after the lookup key is the newest entry
// visible to that sequence, whether it is a value or a tombstone.
const ValueTypeForSeek = TypeValue

var (
	// ErrKeyTooSmall is returned when data is shorter than the trailer.
	ErrKeyTooSmall = errors.New("dbformat: internal key too small")
	// ErrInvalidValueType is returned when the trailer's type byte is not
	// one of the two defined entry types.
	ErrInvalidValueType = errors.New("dbformat: invalid value type")
)

// IsValueType reports whether t is one of the defined entry types.
func IsValueType(t ValueType) bool {
	return t == TypeDeletion || t == TypeValue
}

// PackSequenceAndType packs a sequence number and type into the 8-byte
// trailer's 64-bit integer form: sequence in the upper 56 bits, type in the
// lower 8.
func PackSequenceAndType(seq SequenceNumber, t ValueType) uint64 {
	return (uint64(seq) << 8) | uint64(t)
}

// UnpackSequenceAndType is the inverse of PackSequenceAndType.
func UnpackSequenceAndType(packed uint64) (SequenceNumber, ValueType) {
	return SequenceNumber(packed >> 8), ValueType(packed & 0xFF)
}

// ParsedInternalKey is the decomposed form of an internal key.
type ParsedInternalKey struct {
	UserKey  []byte
	Sequence SequenceNumber
	Type     ValueType
}

func (p *ParsedInternalKey) String() string {
	return fmt.Sprintf("{UserKey: %q, Seq: %d, Type: %d}", p.UserKey, p.Sequence, p.Type)
}

// EncodedLength returns the length of the internal-key encoding of p.
func (p *ParsedInternalKey) EncodedLength() int {
	return len(p.UserKey) + NumInternalBytes
}

// AppendInternalKey appends the internal-key encoding of key to dst.
func AppendInternalKey(dst []byte, key *ParsedInternalKey) []byte {
	dst = append(dst, key.UserKey...)
	return encoding.AppendFixed64(dst, PackSequenceAndType(key.Sequence, key.Type))
}

// ParseInternalKey parses data as an internal key. It still returns the
// parsed value alongside ErrInvalidValueType when the type byte is unknown,
// so a caller iterating a block can skip just that entry.
func ParseInternalKey(data []byte) (*ParsedInternalKey, error) {
	n := len(data)
	if n < NumInternalBytes {
		return nil, ErrKeyTooSmall
	}
	seq, t := UnpackSequenceAndType(encoding.DecodeFixed64(data[n-NumInternalBytes:]))
	result := &ParsedInternalKey{UserKey: data[:n-NumInternalBytes], Sequence: seq, Type: t}
	if !IsValueType(t) {
		return result, ErrInvalidValueType
	}
	return result, nil
}

// ExtractUserKey returns the user-key portion of an internal key.
func ExtractUserKey(internalKey []byte) []byte {
	if len(internalKey) < NumInternalBytes {
		return nil
	}
	return internalKey[:len(internalKey)-NumInternalBytes]
}

// ExtractValueType returns the entry type of an internal key.
func ExtractValueType(internalKey []byte) ValueType {
	if len(internalKey) < NumInternalBytes {
		return TypeDeletion
	}
	n := len(internalKey)
	return ValueType(encoding.DecodeFixed64(internalKey[n-NumInternalBytes:]) & 0xFF)
}

// ExtractSequenceNumber returns the sequence number of an internal key.
func ExtractSequenceNumber(internalKey []byte) SequenceNumber {
	if len(internalKey) < NumInternalBytes {
		return 0
	}
	n := len(internalKey)
	return SequenceNumber(encoding.DecodeFixed64(internalKey[n-NumInternalBytes:]) >> 8)
}

// InternalKey is an encoded internal key.
type InternalKey []byte

// NewInternalKey builds an internal key from its parts.
func NewInternalKey(userKey []byte, seq SequenceNumber, t ValueType) InternalKey {
	return AppendInternalKey(nil, &ParsedInternalKey{UserKey: userKey, Sequence: seq, Type: t})
}

func (k InternalKey) UserKey() []byte         { return ExtractUserKey(k) }
func (k InternalKey) Sequence() SequenceNumber { return ExtractSequenceNumber(k) }
func (k InternalKey) Type() ValueType          { return ExtractValueType(k) }

// Valid reports whether k decodes as a well-formed internal key.
func (k InternalKey) Valid() bool {
	if len(k) < NumInternalBytes {
		return false
	}
	_, err := ParseInternalKey(k)
	return err == nil
}

// UserKeyComparer orders user keys; negative/zero/positive for </=/>.
// Implementations MUST satisfy compare(a,b)=0 ⇒ bytes.Equal(a,b) — the
// engine relies on byte-identical keys for on-disk stability (§9 open
// question). Nothing in the engine checks this property, so a comparator
// that treats distinct byte strings as equal is not rejected.
type UserKeyComparer func(a, b []byte) int

// BytewiseCompare is the default comparator: plain lexicographic order.
func BytewiseCompare(a, b []byte) int {
	minLen := min(len(a), len(b))
	for i := range minLen {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// FindShortSeparator returns a short key in [a, b) suitable for an index
// separator: the shortest prefix-extended string that still separates a
// block of keys ending at a from the next block starting at b. Used by the
// SST index to keep separator keys small (§4.2).
func FindShortSeparator(cmp UserKeyComparer, a, b []byte) []byte {
	if cmp == nil {
		cmp = BytewiseCompare
	}
	minLen := min(len(a), len(b))
	diffIndex := 0
	for diffIndex < minLen && a[diffIndex] == b[diffIndex] {
		diffIndex++
	}
	if diffIndex >= minLen {
		return a
	}
	aByte := a[diffIndex]
	if aByte == 0xff || aByte+1 >= b[diffIndex] {
		return a
	}
	shortened := append(append([]byte{}, a[:diffIndex]...), aByte+1)
	if cmp(shortened, b) >= 0 {
		return a
	}
	return shortened
}

// FindShortSuccessor returns a short string >= a with the same property,
// used for the index entry of a table's final block, which has no b.
func FindShortSuccessor(a []byte) []byte {
	for i, c := range a {
		if c != 0xff {
			successor := append(append([]byte{}, a[:i]...), c+1)
			return successor
		}
	}
	return a
}

// InternalKeyComparator orders internal keys: user key ascending, then
// sequence+type descending (§3).
type InternalKeyComparator struct {
	userCompare UserKeyComparer
	name        string
}

// NewInternalKeyComparator wraps a user-key comparator (nil = bytewise),
// reporting it under the default comparator name. Use
// NewInternalKeyComparatorNamed for any comparator other than the default,
// so its MANIFEST-persisted name actually matches what it orders.
func NewInternalKeyComparator(userCompare UserKeyComparer) *InternalKeyComparator {
	return NewInternalKeyComparatorNamed(userCompare, "")
}

// NewInternalKeyComparatorNamed wraps a user-key comparator (nil = bytewise)
// together with the name under which it must be persisted in the MANIFEST
// (§6); an empty name defaults to "leveldb.BytewiseComparator".
func NewInternalKeyComparatorNamed(userCompare UserKeyComparer, name string) *InternalKeyComparator {
	if userCompare == nil {
		userCompare = BytewiseCompare
	}
	if name == "" {
		name = "leveldb.BytewiseComparator"
	}
	return &InternalKeyComparator{userCompare: userCompare, name: name}
}

// DefaultInternalKeyComparator orders internal keys bytewise on the user key.
var DefaultInternalKeyComparator = NewInternalKeyComparator(BytewiseCompare)

// Compare orders two internal keys.
func (c *InternalKeyComparator) Compare(a, b []byte) int {
	userKeyA := ExtractUserKey(a)
	userKeyB := ExtractUserKey(b)
	if userKeyA == nil {
		userKeyA = a
	}
	if userKeyB == nil {
		userKeyB = b
	}
	if cmp := c.userCompare(userKeyA, userKeyB); cmp != 0 {
		return cmp
	}
	if len(a) >= NumInternalBytes && len(b) >= NumInternalBytes {
		trailerA := encoding.DecodeFixed64(a[len(a)-NumInternalBytes:])
		trailerB := encoding.DecodeFixed64(b[len(b)-NumInternalBytes:])
		switch {
		case trailerA > trailerB:
			return -1
		case trailerA < trailerB:
			return 1
		}
	}
	return 0
}

// CompareUserKey compares just the user-key portion of two internal keys.
func (c *InternalKeyComparator) CompareUserKey(a, b []byte) int {
	userKeyA := ExtractUserKey(a)
	userKeyB := ExtractUserKey(b)
	if userKeyA == nil {
		userKeyA = a
	}
	if userKeyB == nil {
		userKeyB = b
	}
	return c.userCompare(userKeyA, userKeyB)
}

// UserCompare returns the wrapped user-key comparator.
func (c *InternalKeyComparator) UserCompare() UserKeyComparer { return c.userCompare }

// Name identifies the comparator in the MANIFEST; a mismatch on reopen is
// fatal (§6, §7).
func (c *InternalKeyComparator) Name() string { return c.name }

// CompareInternalKeys compares two internal keys using the default bytewise
// user-key comparator.
func CompareInternalKeys(a, b []byte) int {
	return DefaultInternalKeyComparator.Compare(a, b)
}
