package testutil

import (
	"path/filepath"
	"testing"
)

func TestNewFileExpectedStateCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")

	fes, err := NewFileExpectedState(path, 100, 2)
	if err != nil {
		t.Fatalf("NewFileExpectedState() error = %v", err)
	}

	if fes.MaxKey() != 100 || fes.NumColumnFamilies() != 2 {
		t.Errorf("dimensions = (%d, %d), want (100, 2)", fes.MaxKey(), fes.NumColumnFamilies())
	}
	if fes.Path() != path {
		t.Errorf("Path() = %q, want %q", fes.Path(), path)
	}
}

func TestFileExpectedStatePutDeleteGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	fes, err := NewFileExpectedState(path, 10, 1)
	if err != nil {
		t.Fatalf("NewFileExpectedState() error = %v", err)
	}

	fes.Put(0, 3, 9)
	if !fes.Exists(0, 3) {
		t.Error("key should exist after Put")
	}
	if id, ok := fes.GetValueID(0, 3); !ok || id != 9 {
		t.Errorf("GetValueID(0, 3) = (%d, %v), want (9, true)", id, ok)
	}

	fes.Delete(0, 3)
	if !fes.IsDeleted(0, 3) {
		t.Error("key should be deleted")
	}
	if fes.Exists(0, 3) {
		t.Error("a deleted key should not exist")
	}
}

func TestFileExpectedStateSeqnoAdvances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	fes, err := NewFileExpectedState(path, 10, 1)
	if err != nil {
		t.Fatalf("NewFileExpectedState() error = %v", err)
	}

	fes.Put(0, 1, 0)
	fes.Delete(0, 2)
	if fes.Seqno() != 2 {
		t.Errorf("Seqno() = %d, want 2", fes.Seqno())
	}
}

func TestFileExpectedStatePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	fes, err := NewFileExpectedState(path, 50, 2)
	if err != nil {
		t.Fatalf("NewFileExpectedState() error = %v", err)
	}

	fes.Put(0, 5, 11)
	fes.Delete(1, 7)
	if err := fes.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewFileExpectedState(path, 50, 2)
	if err != nil {
		t.Fatalf("NewFileExpectedState() on reopen error = %v", err)
	}

	if id, ok := reopened.GetValueID(0, 5); !ok || id != 11 {
		t.Errorf("reopened GetValueID(0, 5) = (%d, %v), want (11, true)", id, ok)
	}
	if !reopened.IsDeleted(1, 7) {
		t.Error("reopened state should preserve the deletion")
	}
}

func TestFileExpectedStateReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	fes, err := NewFileExpectedState(path, 10, 1)
	if err != nil {
		t.Fatalf("NewFileExpectedState() error = %v", err)
	}

	fes.Put(0, 1, 4)
	if err := fes.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	other, err := NewFileExpectedState(path, 10, 1)
	if err != nil {
		t.Fatalf("second NewFileExpectedState() error = %v", err)
	}
	other.Put(0, 2, 8)
	if err := other.Sync(); err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}

	if err := fes.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if !fes.Exists(0, 2) {
		t.Error("Reload() should pick up state written by another handle")
	}
}

func TestFileExpectedStateSyncIsNoOpWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	fes, err := NewFileExpectedState(path, 10, 1)
	if err != nil {
		t.Fatalf("NewFileExpectedState() error = %v", err)
	}

	// No mutation happened; Sync should be a cheap no-op, not error.
	if err := fes.Sync(); err != nil {
		t.Errorf("Sync() on an unmodified state error = %v", err)
	}
}

func TestFileExpectedStateConfigMismatchOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	if _, err := NewFileExpectedState(path, 10, 1); err != nil {
		t.Fatalf("NewFileExpectedState() error = %v", err)
	}

	if _, err := NewFileExpectedState(path, 20, 1); err == nil {
		t.Error("reopening with a different maxKey should fail")
	}
}

func TestFileExpectedStateClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	fes, err := NewFileExpectedState(path, 10, 1)
	if err != nil {
		t.Fatalf("NewFileExpectedState() error = %v", err)
	}

	fes.Put(0, 1, 0)
	fes.Clear()

	if fes.Exists(0, 1) {
		t.Error("Clear() should reset all keys")
	}
	if fes.Seqno() != 0 {
		t.Error("Clear() should reset the sequence number")
	}
}

func TestFileExpectedStateOutOfRangeIsUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	fes, err := NewFileExpectedState(path, 10, 1)
	if err != nil {
		t.Fatalf("NewFileExpectedState() error = %v", err)
	}

	if fes.Get(5, 0) != ValueStateUnknown {
		t.Error("an out-of-range CF should report unknown")
	}
	if fes.Get(0, 100) != ValueStateUnknown {
		t.Error("an out-of-range key should report unknown")
	}
}

func TestFileExpectedStateImplementsInterface(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	fes, err := NewFileExpectedState(path, 10, 1)
	if err != nil {
		t.Fatalf("NewFileExpectedState() error = %v", err)
	}

	var iface ExpectedStateInterface = fes
	iface.Put(0, 1, 2)
	if !iface.Exists(0, 1) {
		t.Error("ExpectedStateInterface methods should operate on the underlying FileExpectedState")
	}
}
