// db_snapshot_test.go - snapshot isolation: a Get/Iterator through a
// Snapshot never observes writes committed after it was taken.

package db

import (
	"bytes"
	"testing"
)

func TestSnapshotIsolation(t *testing.T) {
	d := openTestDB(t)

	if err := d.Put(nil, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	snap := d.GetSnapshot()
	defer d.ReleaseSnapshot(snap)

	if err := d.Put(nil, []byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	value, found, err := d.Get(&ReadOptions{Snapshot: snap}, []byte("k"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || !bytes.Equal(value, []byte("v1")) {
		t.Errorf("Get() via snapshot = (%q, %v), want (%q, true)", value, found, "v1")
	}

	value, found, err = d.Get(nil, []byte("k"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || !bytes.Equal(value, []byte("v2")) {
		t.Errorf("Get() without snapshot = (%q, %v), want (%q, true)", value, found, "v2")
	}
}

func TestSnapshotHidesLaterDelete(t *testing.T) {
	d := openTestDB(t)

	if err := d.Put(nil, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	snap := d.GetSnapshot()
	defer d.ReleaseSnapshot(snap)

	if err := d.Delete(nil, []byte("k")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	_, found, err := d.Get(&ReadOptions{Snapshot: snap}, []byte("k"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Error("Get() via snapshot found = false, want true (pre-delete)")
	}

	_, found, err = d.Get(nil, []byte("k"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("Get() without snapshot found = true, want false (post-delete)")
	}
}

func TestSnapshotSurvivesFlush(t *testing.T) {
	d := openTestDB(t)

	if err := d.Put(nil, []byte("k"), []byte("before-flush")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	snap := d.GetSnapshot()
	defer d.ReleaseSnapshot(snap)

	if err := d.Put(nil, []byte("k"), []byte("after-flush")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	value, found, err := d.Get(&ReadOptions{Snapshot: snap}, []byte("k"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || !bytes.Equal(value, []byte("before-flush")) {
		t.Errorf("Get() via snapshot after flush = (%q, %v), want (%q, true)", value, found, "before-flush")
	}
}
