package block

import (
	"bytes"
	"testing"

	"github.com/lumenkv/lumenkv/internal/dbformat"
)

func internalKey(userKey string, seq dbformat.SequenceNumber) []byte {
	return dbformat.NewInternalKey([]byte(userKey), seq, dbformat.TypeValue)
}

func buildBlock(t *testing.T, restartInterval int, entries []Entry) []byte {
	t.Helper()
	b := NewBuilder(restartInterval)
	for _, e := range entries {
		b.Add(e.Key, e.Value)
	}
	return b.Finish()
}

func TestBlockBuilderAndIteratorRoundtrip(t *testing.T) {
	entries := []Entry{
		{Key: internalKey("apple", 5), Value: []byte("fruit")},
		{Key: internalKey("banana", 4), Value: []byte("also fruit")},
		{Key: internalKey("cherry", 3), Value: []byte("small fruit")},
		{Key: internalKey("date", 2), Value: []byte("dried fruit")},
	}

	data := buildBlock(t, 2, entries)

	blk, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock() error = %v", err)
	}

	it := blk.NewIterator()
	var got []Entry
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, Entry{Key: append([]byte(nil), it.Key()...), Value: append([]byte(nil), it.Value()...)})
	}
	if err := it.Error(); err != nil {
		t.Fatalf("iteration error = %v", err)
	}

	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i, e := range entries {
		if !bytes.Equal(got[i].Key, e.Key) {
			t.Errorf("entry %d key = %v, want %v", i, got[i].Key, e.Key)
		}
		if !bytes.Equal(got[i].Value, e.Value) {
			t.Errorf("entry %d value = %q, want %q", i, got[i].Value, e.Value)
		}
	}
}

func TestBlockIteratorBackward(t *testing.T) {
	entries := []Entry{
		{Key: internalKey("a", 1), Value: []byte("1")},
		{Key: internalKey("b", 1), Value: []byte("2")},
		{Key: internalKey("c", 1), Value: []byte("3")},
	}
	data := buildBlock(t, 16, entries)

	blk, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock() error = %v", err)
	}

	it := blk.NewIterator()
	var got [][]byte
	for it.SeekToLast(); it.Valid(); it.Prev() {
		got = append(got, append([]byte(nil), it.Key()...))
	}

	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i := range got {
		want := entries[len(entries)-1-i].Key
		if !bytes.Equal(got[i], want) {
			t.Errorf("backward entry %d = %v, want %v", i, got[i], want)
		}
	}
}

func TestBlockIteratorSeek(t *testing.T) {
	entries := []Entry{
		{Key: internalKey("a", 1), Value: []byte("1")},
		{Key: internalKey("c", 1), Value: []byte("3")},
		{Key: internalKey("e", 1), Value: []byte("5")},
		{Key: internalKey("g", 1), Value: []byte("7")},
	}
	data := buildBlock(t, 2, entries)

	blk, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock() error = %v", err)
	}

	it := blk.NewIterator()
	it.Seek(internalKey("d", dbformat.MaxSequenceNumber))
	if !it.Valid() {
		t.Fatal("Seek(\"d\") landed on an invalid position")
	}
	if !bytes.Equal(it.Key(), entries[2].Key) {
		t.Errorf("Seek(\"d\") key = %v, want %v", it.Key(), entries[2].Key)
	}
}

func TestBlockBuilderRestartPoints(t *testing.T) {
	entries := []Entry{
		{Key: internalKey("a", 1), Value: []byte("1")},
		{Key: internalKey("b", 1), Value: []byte("2")},
		{Key: internalKey("c", 1), Value: []byte("3")},
		{Key: internalKey("d", 1), Value: []byte("4")},
	}
	// restartInterval=2 means a restart every 2 entries: 2 restart points
	// for 4 entries.
	data := buildBlock(t, 2, entries)

	blk, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock() error = %v", err)
	}
	if blk.NumRestarts() != 2 {
		t.Errorf("NumRestarts() = %d, want 2", blk.NumRestarts())
	}
	if blk.GetRestartPoint(0) != 0 {
		t.Errorf("GetRestartPoint(0) = %d, want 0", blk.GetRestartPoint(0))
	}
	if blk.GetRestartPoint(-1) != -1 {
		t.Error("GetRestartPoint(-1) should return -1")
	}
	if blk.GetRestartPoint(blk.NumRestarts()) != -1 {
		t.Error("GetRestartPoint(NumRestarts()) should return -1")
	}
}

func TestBlockBuilderEmpty(t *testing.T) {
	b := NewBuilder(16)
	if !b.Empty() {
		t.Error("Empty() on a fresh builder should be true")
	}
	b.Add(internalKey("a", 1), []byte("1"))
	if b.Empty() {
		t.Error("Empty() after Add should be false")
	}
}

func TestBlockBuilderReset(t *testing.T) {
	b := NewBuilder(16)
	b.Add(internalKey("a", 1), []byte("1"))
	b.Add(internalKey("b", 1), []byte("2"))
	b.Reset()

	if !b.Empty() {
		t.Error("Empty() after Reset() should be true")
	}
	b.Add(internalKey("z", 1), []byte("26"))
	data := b.Finish()

	blk, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock() after Reset()+Add() error = %v", err)
	}
	it := blk.NewIterator()
	it.SeekToFirst()
	if !it.Valid() || !bytes.Equal(it.Key(), internalKey("z", 1)) {
		t.Errorf("block after Reset() contains stale data: key = %v", it.Key())
	}
	it.Next()
	if it.Valid() {
		t.Error("block after Reset() should contain exactly one entry")
	}
}

func TestNewBlockRejectsShortData(t *testing.T) {
	if _, err := NewBlock([]byte{0x01, 0x02}); err != ErrBadBlock {
		t.Errorf("NewBlock(short) error = %v, want ErrBadBlock", err)
	}
}

func TestNewBlockRejectsZeroRestarts(t *testing.T) {
	data := make([]byte, 4)
	// numRestarts = 0 encoded as the trailing uint32.
	if _, err := NewBlock(data); err != ErrBadBlock {
		t.Errorf("NewBlock(zero restarts) error = %v, want ErrBadBlock", err)
	}
}

func TestHandleEncodeDecode(t *testing.T) {
	tests := []Handle{
		{Offset: 0, Size: 0},
		{Offset: 1, Size: 100},
		{Offset: 1 << 40, Size: 1 << 20},
	}

	for _, h := range tests {
		buf := h.EncodeToSlice()
		if len(buf) != h.EncodedLength() {
			t.Errorf("EncodedLength() = %d, want len(buf) = %d", h.EncodedLength(), len(buf))
		}

		got, rest, err := DecodeHandle(buf)
		if err != nil {
			t.Fatalf("DecodeHandle() error = %v", err)
		}
		if got != h {
			t.Errorf("DecodeHandle() = %+v, want %+v", got, h)
		}
		if len(rest) != 0 {
			t.Errorf("DecodeHandle() left %d trailing bytes, want 0", len(rest))
		}
	}
}

func TestHandleIsNull(t *testing.T) {
	if !NullHandle.IsNull() {
		t.Error("NullHandle.IsNull() = false, want true")
	}
	h := Handle{Offset: 1, Size: 0}
	if h.IsNull() {
		t.Error("Handle{Offset: 1}.IsNull() = true, want false")
	}
}

func TestDecodeHandleCorrupted(t *testing.T) {
	if _, _, err := DecodeHandle([]byte{0x80}); err != ErrBadBlockHandle {
		t.Errorf("DecodeHandle(truncated) error = %v, want ErrBadBlockHandle", err)
	}
}

func TestFooterEncodeDecode(t *testing.T) {
	f := &Footer{
		MetaindexHandle: Handle{Offset: 100, Size: 50},
		IndexHandle:     Handle{Offset: 200, Size: 75},
	}

	encoded := f.EncodeTo()
	if len(encoded) != FooterEncodedLength {
		t.Fatalf("EncodeTo() length = %d, want %d", len(encoded), FooterEncodedLength)
	}

	decoded, err := DecodeFooter(encoded)
	if err != nil {
		t.Fatalf("DecodeFooter() error = %v", err)
	}
	if decoded.MetaindexHandle != f.MetaindexHandle {
		t.Errorf("MetaindexHandle = %+v, want %+v", decoded.MetaindexHandle, f.MetaindexHandle)
	}
	if decoded.IndexHandle != f.IndexHandle {
		t.Errorf("IndexHandle = %+v, want %+v", decoded.IndexHandle, f.IndexHandle)
	}
}

func TestDecodeFooterRejectsBadMagic(t *testing.T) {
	f := &Footer{MetaindexHandle: NullHandle, IndexHandle: NullHandle}
	encoded := f.EncodeTo()
	encoded[len(encoded)-1] ^= 0xFF // corrupt the magic number

	if _, err := DecodeFooter(encoded); err != ErrBadBlockFooter {
		t.Errorf("DecodeFooter(bad magic) error = %v, want ErrBadBlockFooter", err)
	}
}

func TestDecodeFooterRejectsWrongLength(t *testing.T) {
	if _, err := DecodeFooter([]byte{0x01, 0x02}); err != ErrBadBlockFooter {
		t.Errorf("DecodeFooter(short) error = %v, want ErrBadBlockFooter", err)
	}
}
