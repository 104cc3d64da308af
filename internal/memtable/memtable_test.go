package memtable

import (
	"testing"

	"github.com/lumenkv/lumenkv/internal/dbformat"
)

func TestMemTableGetAfterPut(t *testing.T) {
	mt := NewMemTable(nil)
	mt.Add(1, dbformat.TypeValue, []byte("k1"), []byte("v1"))

	value, found, deleted := mt.Get([]byte("k1"), 1)
	if !found || deleted {
		t.Fatalf("Get() = (found=%v, deleted=%v), want (true, false)", found, deleted)
	}
	if string(value) != "v1" {
		t.Errorf("Get() value = %q, want %q", value, "v1")
	}
}

func TestMemTableGetMissing(t *testing.T) {
	mt := NewMemTable(nil)
	mt.Add(1, dbformat.TypeValue, []byte("k1"), []byte("v1"))

	_, found, _ := mt.Get([]byte("missing"), 1)
	if found {
		t.Error("Get() of an absent key should report found=false")
	}
}

func TestMemTableGetDeletion(t *testing.T) {
	mt := NewMemTable(nil)
	mt.Add(1, dbformat.TypeValue, []byte("k1"), []byte("v1"))
	mt.Add(2, dbformat.TypeDeletion, []byte("k1"), nil)

	value, found, deleted := mt.Get([]byte("k1"), 2)
	if !found || !deleted {
		t.Fatalf("Get() = (found=%v, deleted=%v), want (true, true)", found, deleted)
	}
	if value != nil {
		t.Errorf("Get() of a tombstone returned value %q, want nil", value)
	}
}

func TestMemTableGetRespectsSnapshotSequence(t *testing.T) {
	mt := NewMemTable(nil)
	mt.Add(1, dbformat.TypeValue, []byte("k1"), []byte("v1"))
	mt.Add(5, dbformat.TypeValue, []byte("k1"), []byte("v5"))

	// A reader at seq=3 must see the version written at seq=1, not seq=5.
	value, found, deleted := mt.Get([]byte("k1"), 3)
	if !found || deleted {
		t.Fatalf("Get() at seq=3 = (found=%v, deleted=%v), want (true, false)", found, deleted)
	}
	if string(value) != "v1" {
		t.Errorf("Get() at seq=3 value = %q, want %q (older visible version)", value, "v1")
	}

	value, found, deleted = mt.Get([]byte("k1"), 5)
	if !found || deleted || string(value) != "v5" {
		t.Fatalf("Get() at seq=5 = (%q, %v, %v), want (v5, true, false)", value, found, deleted)
	}
}

func TestMemTableGetIgnoresLaterWrite(t *testing.T) {
	mt := NewMemTable(nil)
	mt.Add(10, dbformat.TypeValue, []byte("k1"), []byte("v1"))

	_, found, _ := mt.Get([]byte("k1"), 5)
	if found {
		t.Error("a write at seq=10 must not be visible to a reader at seq=5")
	}
}

func TestMemTableCountAndEmpty(t *testing.T) {
	mt := NewMemTable(nil)
	if !mt.Empty() {
		t.Error("a freshly created memtable should be empty")
	}
	mt.Add(1, dbformat.TypeValue, []byte("a"), []byte("1"))
	mt.Add(2, dbformat.TypeValue, []byte("b"), []byte("2"))

	if mt.Count() != 2 {
		t.Errorf("Count() = %d, want 2", mt.Count())
	}
	if mt.Empty() {
		t.Error("Empty() should be false after writes")
	}
}

func TestMemTableApproximateMemoryUsageGrows(t *testing.T) {
	mt := NewMemTable(nil)
	before := mt.ApproximateMemoryUsage()
	mt.Add(1, dbformat.TypeValue, []byte("a-reasonably-long-key"), []byte("a-reasonably-long-value"))
	after := mt.ApproximateMemoryUsage()

	if after <= before {
		t.Errorf("ApproximateMemoryUsage() = %d after a write, want > %d", after, before)
	}
}

func TestMemTableRefUnref(t *testing.T) {
	mt := NewMemTable(nil)
	mt.Ref()
	if mt.Unref() {
		t.Error("Unref() should not report zero refs while a Ref() is outstanding")
	}
	if !mt.Unref() {
		t.Error("Unref() of the last reference should report true")
	}
}

func TestMemTableNextLogNumber(t *testing.T) {
	mt := NewMemTable(nil)
	if mt.NextLogNumber() != 0 {
		t.Errorf("NextLogNumber() = %d, want 0 before SetNextLogNumber", mt.NextLogNumber())
	}
	mt.SetNextLogNumber(7)
	if mt.NextLogNumber() != 7 {
		t.Errorf("NextLogNumber() = %d, want 7", mt.NextLogNumber())
	}
}

func TestMemTableIteratorOrdersNewestSequenceFirstPerKey(t *testing.T) {
	mt := NewMemTable(nil)
	mt.Add(1, dbformat.TypeValue, []byte("a"), []byte("a1"))
	mt.Add(3, dbformat.TypeValue, []byte("a"), []byte("a3"))
	mt.Add(2, dbformat.TypeValue, []byte("b"), []byte("b2"))

	it := mt.NewIterator()
	it.SeekToFirst()

	if !it.Valid() {
		t.Fatal("SeekToFirst() should be valid on a non-empty memtable")
	}
	// "a" sorts before "b"; within "a", the higher sequence comes first.
	if string(it.UserKey()) != "a" || it.Sequence() != 3 {
		t.Errorf("entry 0 = (key=%q, seq=%d), want (a, 3)", it.UserKey(), it.Sequence())
	}
	it.Next()
	if string(it.UserKey()) != "a" || it.Sequence() != 1 {
		t.Errorf("entry 1 = (key=%q, seq=%d), want (a, 1)", it.UserKey(), it.Sequence())
	}
	it.Next()
	if string(it.UserKey()) != "b" || it.Sequence() != 2 {
		t.Errorf("entry 2 = (key=%q, seq=%d), want (b, 2)", it.UserKey(), it.Sequence())
	}
	it.Next()
	if it.Valid() {
		t.Error("iterator should be exhausted after 3 entries")
	}
}

func TestMemTableIteratorSeekToLastAndPrev(t *testing.T) {
	mt := NewMemTable(nil)
	mt.Add(1, dbformat.TypeValue, []byte("a"), []byte("1"))
	mt.Add(1, dbformat.TypeValue, []byte("b"), []byte("2"))
	mt.Add(1, dbformat.TypeValue, []byte("c"), []byte("3"))

	it := mt.NewIterator()
	it.SeekToLast()
	if !it.Valid() || string(it.UserKey()) != "c" {
		t.Fatalf("SeekToLast(): valid=%v key=%q, want c", it.Valid(), it.UserKey())
	}
	it.Prev()
	if !it.Valid() || string(it.UserKey()) != "b" {
		t.Errorf("Prev(): key=%q, want b", it.UserKey())
	}
}

func TestMemTableIteratorSeek(t *testing.T) {
	mt := NewMemTable(nil)
	mt.Add(5, dbformat.TypeValue, []byte("b"), []byte("b5"))
	mt.Add(5, dbformat.TypeValue, []byte("d"), []byte("d5"))

	it := mt.NewIterator()
	target := dbformat.NewInternalKey([]byte("c"), dbformat.MaxSequenceNumber, dbformat.ValueTypeForSeek)
	it.Seek(target)

	if !it.Valid() || string(it.UserKey()) != "d" {
		t.Fatalf("Seek(c): valid=%v key=%q, want d (first internal key >= target)", it.Valid(), it.UserKey())
	}
}

func TestMemTableIteratorValueAndType(t *testing.T) {
	mt := NewMemTable(nil)
	mt.Add(9, dbformat.TypeDeletion, []byte("gone"), nil)

	it := mt.NewIterator()
	it.SeekToFirst()
	if !it.Valid() {
		t.Fatal("SeekToFirst() should be valid")
	}
	if it.Type() != dbformat.TypeDeletion {
		t.Errorf("Type() = %v, want TypeDeletion", it.Type())
	}
	if len(it.Value()) != 0 {
		t.Errorf("Value() of a tombstone = %q, want empty", it.Value())
	}
}

func TestMemTableIteratorKeyReconstructsInternalKey(t *testing.T) {
	mt := NewMemTable(nil)
	mt.Add(42, dbformat.TypeValue, []byte("k"), []byte("v"))

	it := mt.NewIterator()
	it.SeekToFirst()
	key := it.Key()

	parsedSeq := dbformat.ExtractSequenceNumber(key)
	parsedType := dbformat.ExtractValueType(key)
	if parsedSeq != 42 || parsedType != dbformat.TypeValue {
		t.Errorf("reconstructed key decodes to (seq=%d, type=%v), want (42, TypeValue)", parsedSeq, parsedType)
	}
	if string(dbformat.ExtractUserKey(key)) != "k" {
		t.Errorf("reconstructed key user-key = %q, want %q", dbformat.ExtractUserKey(key), "k")
	}
}

func TestMemTableIteratorEmptyIsInvalid(t *testing.T) {
	mt := NewMemTable(nil)
	it := mt.NewIterator()
	it.SeekToFirst()
	if it.Valid() {
		t.Error("SeekToFirst() on an empty memtable should be invalid")
	}
	if it.Error() != nil {
		t.Errorf("Error() = %v, want nil", it.Error())
	}
}

func TestMemTableCustomComparator(t *testing.T) {
	reverse := func(a, b []byte) int {
		// BytewiseComparator inverted.
		return -BytewiseComparator(a, b)
	}
	mt := NewMemTable(reverse)
	mt.Add(1, dbformat.TypeValue, []byte("a"), []byte("1"))
	mt.Add(1, dbformat.TypeValue, []byte("b"), []byte("2"))

	it := mt.NewIterator()
	it.SeekToFirst()
	if !it.Valid() || string(it.UserKey()) != "b" {
		t.Errorf("with a reverse comparator, first entry = %q, want b", it.UserKey())
	}
}
