// iterator_test.go - forward/backward range iteration across the memtable
// and flushed SST files.

package db

import (
	"bytes"
	"testing"
)

func TestIteratorForward(t *testing.T) {
	d := openTestDB(t)

	want := []string{"a", "b", "c", "d"}
	for _, k := range want {
		if err := d.Put(nil, []byte(k), []byte(k+"-value")); err != nil {
			t.Fatalf("Put(%q) error = %v", k, err)
		}
	}

	it, err := d.Iterator(nil)
	if err != nil {
		t.Fatalf("Iterator() error = %v", err)
	}
	defer it.Close()

	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
		if !bytes.Equal(it.Value(), []byte(string(it.Key())+"-value")) {
			t.Errorf("Value() for key %q = %q, want %q", it.Key(), it.Value(), string(it.Key())+"-value")
		}
	}
	if err := it.Error(); err != nil {
		t.Fatalf("iteration error = %v", err)
	}
	if !equalStrings(got, want) {
		t.Errorf("forward iteration = %v, want %v", got, want)
	}
}

func TestIteratorBackward(t *testing.T) {
	d := openTestDB(t)

	for _, k := range []string{"a", "b", "c"} {
		if err := d.Put(nil, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Put(%q) error = %v", k, err)
		}
	}

	it, err := d.Iterator(nil)
	if err != nil {
		t.Fatalf("Iterator() error = %v", err)
	}
	defer it.Close()

	var got []string
	for it.SeekToLast(); it.Valid(); it.Prev() {
		got = append(got, string(it.Key()))
	}
	if err := it.Error(); err != nil {
		t.Fatalf("iteration error = %v", err)
	}
	want := []string{"c", "b", "a"}
	if !equalStrings(got, want) {
		t.Errorf("backward iteration = %v, want %v", got, want)
	}
}

func TestIteratorSeek(t *testing.T) {
	d := openTestDB(t)

	for _, k := range []string{"a", "c", "e", "g"} {
		if err := d.Put(nil, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Put(%q) error = %v", k, err)
		}
	}

	it, err := d.Iterator(nil)
	if err != nil {
		t.Fatalf("Iterator() error = %v", err)
	}
	defer it.Close()

	it.Seek([]byte("d"))
	if !it.Valid() {
		t.Fatal("Seek(\"d\") landed on an invalid position")
	}
	if string(it.Key()) != "e" {
		t.Errorf("Seek(\"d\") key = %q, want %q", it.Key(), "e")
	}
}

func TestIteratorSkipsTombstones(t *testing.T) {
	d := openTestDB(t)

	if err := d.Put(nil, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := d.Put(nil, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := d.Delete(nil, []byte("a")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	it, err := d.Iterator(nil)
	if err != nil {
		t.Fatalf("Iterator() error = %v", err)
	}
	defer it.Close()

	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"b"}
	if !equalStrings(got, want) {
		t.Errorf("iteration after delete = %v, want %v", got, want)
	}
}

func TestIteratorAcrossFlush(t *testing.T) {
	d := openTestDB(t)

	if err := d.Put(nil, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if err := d.Put(nil, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	it, err := d.Iterator(nil)
	if err != nil {
		t.Fatalf("Iterator() error = %v", err)
	}
	defer it.Close()

	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"a", "b"}
	if !equalStrings(got, want) {
		t.Errorf("iteration across flush = %v, want %v", got, want)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
