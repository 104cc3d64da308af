package dbformat

import (
	"bytes"
	"errors"
	"testing"
)

func TestPackUnpackSequenceAndType(t *testing.T) {
	tests := []struct {
		name string
		seq  SequenceNumber
		typ  ValueType
	}{
		{"zero", 0, TypeDeletion},
		{"one_value", 1, TypeValue},
		{"max_seq", MaxSequenceNumber, TypeValue},
		{"mid_seq_deletion", 12345, TypeDeletion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed := PackSequenceAndType(tt.seq, tt.typ)
			gotSeq, gotType := UnpackSequenceAndType(packed)

			if gotSeq != tt.seq {
				t.Errorf("Sequence mismatch: got %d, want %d", gotSeq, tt.seq)
			}
			if gotType != tt.typ {
				t.Errorf("Type mismatch: got %d, want %d", gotType, tt.typ)
			}
		})
	}
}

func TestInternalKeyEncodeDecode(t *testing.T) {
	tests := []struct {
		name    string
		userKey []byte
		seq     SequenceNumber
		typ     ValueType
	}{
		{"empty_key", []byte{}, 0, TypeValue},
		{"simple", []byte("hello"), 1, TypeValue},
		{"binary_key", []byte{0x00, 0x01, 0xFF}, 12345, TypeDeletion},
		{"max_seq", []byte("test"), MaxSequenceNumber, TypeDeletion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := NewInternalKey(tt.userKey, tt.seq, tt.typ)

			expectedLen := len(tt.userKey) + NumInternalBytes
			if len(key) != expectedLen {
				t.Errorf("Key length = %d, want %d", len(key), expectedLen)
			}

			parsed, err := ParseInternalKey(key)
			if err != nil {
				t.Fatalf("ParseInternalKey error: %v", err)
			}
			if !bytes.Equal(parsed.UserKey, tt.userKey) {
				t.Errorf("UserKey mismatch: got %v, want %v", parsed.UserKey, tt.userKey)
			}
			if parsed.Sequence != tt.seq {
				t.Errorf("Sequence mismatch: got %d, want %d", parsed.Sequence, tt.seq)
			}
			if parsed.Type != tt.typ {
				t.Errorf("Type mismatch: got %d, want %d", parsed.Type, tt.typ)
			}

			if !bytes.Equal(key.UserKey(), tt.userKey) {
				t.Errorf("InternalKey.UserKey() mismatch")
			}
			if key.Sequence() != tt.seq {
				t.Errorf("InternalKey.Sequence() mismatch")
			}
			if key.Type() != tt.typ {
				t.Errorf("InternalKey.Type() mismatch")
			}
		})
	}
}

func TestInternalKeyValid(t *testing.T) {
	tests := []struct {
		name  string
		key   InternalKey
		valid bool
	}{
		{"valid_simple", NewInternalKey([]byte("test"), 1, TypeValue), true},
		{"valid_empty_user_key", NewInternalKey([]byte{}, 0, TypeValue), true},
		{"too_short", InternalKey([]byte{0, 1, 2}), false},
		{"empty", InternalKey([]byte{}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestParseInternalKeyErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", []byte{}, ErrKeyTooSmall},
		{"too_short_1", []byte{0x00}, ErrKeyTooSmall},
		{"too_short_7", []byte{0, 1, 2, 3, 4, 5, 6}, ErrKeyTooSmall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInternalKey(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseInternalKey error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseInternalKeyInvalidType(t *testing.T) {
	key := NewInternalKey([]byte("k"), 1, TypeValue)
	// Corrupt the type byte (the lowest byte of the trailer) to an unused value.
	key[len(key)-NumInternalBytes] = 0x7F

	parsed, err := ParseInternalKey(key)
	if !errors.Is(err, ErrInvalidValueType) {
		t.Fatalf("ParseInternalKey error = %v, want ErrInvalidValueType", err)
	}
	if !bytes.Equal(parsed.UserKey, []byte("k")) {
		t.Errorf("UserKey should still be decoded despite invalid type, got %v", parsed.UserKey)
	}
}

func TestIsValueType(t *testing.T) {
	if !IsValueType(TypeDeletion) || !IsValueType(TypeValue) {
		t.Error("IsValueType should accept TypeDeletion and TypeValue")
	}
	if IsValueType(ValueType(0x7F)) {
		t.Error("IsValueType should reject an undefined type byte")
	}
}

func TestExtractFunctionsOnTooShortInput(t *testing.T) {
	short := []byte("short")
	if got := ExtractUserKey(short); got != nil {
		t.Errorf("ExtractUserKey(short) = %v, want nil", got)
	}
	if got := ExtractValueType(short); got != TypeDeletion {
		t.Errorf("ExtractValueType(short) = %d, want TypeDeletion", got)
	}
	if got := ExtractSequenceNumber(short); got != 0 {
		t.Errorf("ExtractSequenceNumber(short) = %d, want 0", got)
	}
}

func TestMaxSequenceNumber(t *testing.T) {
	expected := SequenceNumber((1 << 56) - 1)
	if MaxSequenceNumber != expected {
		t.Errorf("MaxSequenceNumber = %d, want %d", MaxSequenceNumber, expected)
	}

	packed := PackSequenceAndType(MaxSequenceNumber, TypeValue)
	gotSeq, _ := UnpackSequenceAndType(packed)
	if gotSeq != MaxSequenceNumber {
		t.Errorf("max sequence roundtrip failed: got %d", gotSeq)
	}
}

func TestInternalKeyGoldenFormat(t *testing.T) {
	userKey := []byte("key")
	seq := SequenceNumber(0x123456789AB)
	typ := TypeValue

	key := NewInternalKey(userKey, seq, typ)

	// Packed = (0x123456789AB << 8) | 0x01 = 0x123456789AB01, little-endian.
	expectedTrailer := []byte{0x01, 0xAB, 0x89, 0x67, 0x45, 0x23, 0x01, 0x00}
	expected := append([]byte("key"), expectedTrailer...)

	if !bytes.Equal(key, expected) {
		t.Errorf("internal key binary format mismatch:\ngot:  %v\nwant: %v", []byte(key), expected)
	}
}

func TestBytewiseCompare(t *testing.T) {
	tests := []struct {
		a, b []byte
		want int
	}{
		{[]byte("abc"), []byte("abc"), 0},
		{[]byte("abc"), []byte("abd"), -1},
		{[]byte("abd"), []byte("abc"), 1},
		{[]byte("ab"), []byte("abc"), -1},
		{[]byte("abc"), []byte("ab"), 1},
		{[]byte{}, []byte{}, 0},
	}
	for _, tt := range tests {
		if got := BytewiseCompare(tt.a, tt.b); sign(got) != sign(tt.want) {
			t.Errorf("BytewiseCompare(%q, %q) = %d, want sign %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCompareInternalKeys(t *testing.T) {
	// Same user key: higher sequence number sorts first.
	k1 := NewInternalKey([]byte("foo"), 100, TypeValue)
	k2 := NewInternalKey([]byte("foo"), 99, TypeValue)
	if CompareInternalKeys(k1, k2) >= 0 {
		t.Error("higher sequence should sort before lower sequence for the same user key")
	}

	// Different user keys: orders by user key regardless of sequence.
	k3 := NewInternalKey([]byte("bar"), 5, TypeValue)
	k4 := NewInternalKey([]byte("foo"), 1000, TypeValue)
	if CompareInternalKeys(k3, k4) >= 0 {
		t.Error("\"bar\" should sort before \"foo\" regardless of sequence")
	}
}

func TestFindShortSeparator(t *testing.T) {
	got := FindShortSeparator(BytewiseCompare, []byte("helloworld"), []byte("hellozebra"))
	if BytewiseCompare(got, []byte("helloworld")) < 0 {
		t.Errorf("FindShortSeparator result %q must be >= start %q", got, "helloworld")
	}
	if BytewiseCompare(got, []byte("hellozebra")) >= 0 {
		t.Errorf("FindShortSeparator result %q must be < limit %q", got, "hellozebra")
	}
}

func TestFindShortSuccessor(t *testing.T) {
	got := FindShortSuccessor([]byte("hello"))
	if BytewiseCompare(got, []byte("hello")) < 0 {
		t.Errorf("FindShortSuccessor(%q) = %q, must be >= input", "hello", got)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
