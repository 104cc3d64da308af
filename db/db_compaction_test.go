// db_compaction_test.go - Flush, CompactRange, and ApproximateSizes.

package db

import (
	"testing"
)

func TestFlushMovesMemtableToSST(t *testing.T) {
	d := openTestDB(t)

	for i := 0; i < 10; i++ {
		if err := d.Put(nil, keyN(i), valueN(i)); err != nil {
			t.Fatalf("Put(%d) error = %v", i, err)
		}
	}

	if err := d.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	d.mu.Lock()
	l0 := d.vset.Current().NumFiles(0)
	d.mu.Unlock()
	if l0 == 0 {
		t.Error("NumFiles(0) = 0 after Flush, want at least 1")
	}

	for i := 0; i < 10; i++ {
		value, found, err := d.Get(nil, keyN(i))
		if err != nil {
			t.Fatalf("Get(%d) error = %v", i, err)
		}
		if !found {
			t.Errorf("Get(%d) found = false after flush", i)
		}
		_ = value
	}
}

func TestFlushEmptyMemtableIsNoop(t *testing.T) {
	d := openTestDB(t)

	if err := d.Flush(); err != nil {
		t.Fatalf("Flush() on empty memtable error = %v", err)
	}
}

func TestCompactRangeMergesLevels(t *testing.T) {
	d := openTestDB(t)

	for round := 0; round < 3; round++ {
		for i := 0; i < 20; i++ {
			if err := d.Put(nil, keyN(round*20+i), valueN(round*20+i)); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
		}
		if err := d.Flush(); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
	}

	if err := d.CompactRange(nil, nil); err != nil {
		t.Fatalf("CompactRange() error = %v", err)
	}

	for i := 0; i < 60; i++ {
		value, found, err := d.Get(nil, keyN(i))
		if err != nil {
			t.Fatalf("Get(%d) error = %v", i, err)
		}
		if !found {
			t.Errorf("Get(%d) found = false after CompactRange", i)
			continue
		}
		if string(value) != string(valueN(i)) {
			t.Errorf("Get(%d) = %q, want %q", i, value, valueN(i))
		}
	}
}

func TestCompactRangeBoundedByKeyRange(t *testing.T) {
	d := openTestDB(t)

	for i := 0; i < 20; i++ {
		if err := d.Put(nil, keyN(i), valueN(i)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if err := d.CompactRange(keyN(0), keyN(5)); err != nil {
		t.Fatalf("CompactRange() error = %v", err)
	}

	for i := 0; i < 20; i++ {
		_, found, err := d.Get(nil, keyN(i))
		if err != nil {
			t.Fatalf("Get(%d) error = %v", i, err)
		}
		if !found {
			t.Errorf("Get(%d) found = false, want true (bounded CompactRange must not drop data)", i)
		}
	}
}

func TestApproximateSizesGrowsWithData(t *testing.T) {
	d := openTestDB(t)

	full := []Range{{Start: nil, Limit: nil}}

	sizesBefore, err := d.ApproximateSizes(full)
	if err != nil {
		t.Fatalf("ApproximateSizes() error = %v", err)
	}

	for i := 0; i < 200; i++ {
		if err := d.Put(nil, keyN(i), bytes200()); err != nil {
			t.Fatalf("Put(%d) error = %v", i, err)
		}
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	sizesAfter, err := d.ApproximateSizes(full)
	if err != nil {
		t.Fatalf("ApproximateSizes() error = %v", err)
	}

	if sizesAfter[0] <= sizesBefore[0] {
		t.Errorf("ApproximateSizes() after writes = %d, want > %d", sizesAfter[0], sizesBefore[0])
	}
}

func TestApproximateSizesEmptyRange(t *testing.T) {
	d := openTestDB(t)

	sizes, err := d.ApproximateSizes([]Range{{Start: []byte("zzz"), Limit: []byte("zzzz")}})
	if err != nil {
		t.Fatalf("ApproximateSizes() error = %v", err)
	}
	if sizes[0] != 0 {
		t.Errorf("ApproximateSizes() for empty range = %d, want 0", sizes[0])
	}
}

func bytes200() []byte {
	b := make([]byte, 200)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}
