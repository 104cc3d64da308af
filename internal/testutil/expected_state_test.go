package testutil

import (
	"path/filepath"
	"testing"
)

func TestExpectedStatePutAndGet(t *testing.T) {
	es := NewExpectedState(100, 2)

	es.Put(0, 5, 7)
	if !es.Exists(0, 5) {
		t.Error("key should exist after Put")
	}
	if id, ok := es.GetValueID(0, 5); !ok || id != 7 {
		t.Errorf("GetValueID(0, 5) = (%d, %v), want (7, true)", id, ok)
	}
}

func TestExpectedStateDelete(t *testing.T) {
	es := NewExpectedState(100, 1)
	es.Put(0, 1, 3)
	es.Delete(0, 1)

	if !es.IsDeleted(0, 1) {
		t.Error("key should be deleted")
	}
	if es.Exists(0, 1) {
		t.Error("a deleted key should not exist")
	}
	if _, ok := es.GetValueID(0, 1); ok {
		t.Error("GetValueID on a deleted key should report not found")
	}
}

func TestExpectedStateUnknownKeyIsNotExists(t *testing.T) {
	es := NewExpectedState(100, 1)
	if es.Exists(0, 50) {
		t.Error("an untouched key should not exist")
	}
	if es.Get(0, 50) != ValueStateUnknown {
		t.Error("an untouched key should be in the unknown state")
	}
}

func TestExpectedStateOutOfRangeReturnsUnknown(t *testing.T) {
	es := NewExpectedState(10, 1)
	if es.Get(5, 0) != ValueStateUnknown {
		t.Error("an out-of-range CF should report unknown")
	}
	if es.Get(0, 100) != ValueStateUnknown {
		t.Error("an out-of-range key should report unknown")
	}
}

func TestExpectedStateSeqnoAdvances(t *testing.T) {
	es := NewExpectedState(10, 1)
	if es.Seqno() != 0 {
		t.Fatal("a fresh state should start at seqno 0")
	}
	es.Put(0, 1, 0)
	es.Delete(0, 2)
	if es.Seqno() != 2 {
		t.Errorf("Seqno() = %d, want 2", es.Seqno())
	}
}

func TestExpectedStateClear(t *testing.T) {
	es := NewExpectedState(10, 1)
	es.Put(0, 1, 0)
	es.Clear()

	if es.Exists(0, 1) {
		t.Error("Clear() should reset all keys")
	}
	if es.Seqno() != 0 {
		t.Error("Clear() should reset the sequence number")
	}
}

func TestPendingExpectedValueCommitPut(t *testing.T) {
	es := NewExpectedState(10, 1)

	pev := es.PreparePut(0, 3, 9)
	if pev == nil {
		t.Fatal("PreparePut should return a non-nil pending value")
	}
	// State is unaffected until commit.
	if es.Exists(0, 3) {
		t.Error("key should not exist before commit")
	}

	pev.Commit(9, false)
	if !es.Exists(0, 3) {
		t.Error("key should exist after commit")
	}
	if id, _ := es.GetValueID(0, 3); id != 9 {
		t.Errorf("GetValueID(0, 3) = %d, want 9", id)
	}

	// A second Commit is a no-op.
	pev.Commit(1, false)
	if id, _ := es.GetValueID(0, 3); id != 9 {
		t.Error("a second Commit call should be a no-op")
	}
}

func TestPendingExpectedValueRollback(t *testing.T) {
	es := NewExpectedState(10, 1)
	es.Put(0, 1, 5)

	pev := es.PreparePut(0, 1, 6)
	pev.Rollback()

	if id, _ := es.GetValueID(0, 1); id != 5 {
		t.Errorf("after rollback GetValueID(0, 1) = %d, want the original 5", id)
	}

	// A Rollback after Commit must not revert state.
	pev2 := es.PreparePut(0, 2, 1)
	pev2.Commit(1, false)
	pev2.Rollback()
	if id, _ := es.GetValueID(0, 2); id != 1 {
		t.Error("Rollback after Commit should be a no-op")
	}
}

func TestPendingExpectedValueCommitDelete(t *testing.T) {
	es := NewExpectedState(10, 1)
	es.Put(0, 4, 2)

	pev := es.PrepareDelete(0, 4)
	pev.Commit(0, true)

	if !es.IsDeleted(0, 4) {
		t.Error("key should be deleted after a delete commit")
	}
}

func TestExpectedStatePreparePutOutOfRange(t *testing.T) {
	es := NewExpectedState(10, 1)
	if es.PreparePut(5, 0, 0) != nil {
		t.Error("PreparePut with an out-of-range CF should return nil")
	}
}

func TestGenerateAndVerifyValue(t *testing.T) {
	value := GenerateValue(42, 7, 32)
	if len(value) != 32 {
		t.Fatalf("GenerateValue() length = %d, want 32", len(value))
	}
	if !VerifyValue(42, 7, value) {
		t.Error("VerifyValue should accept a value generated with the same key/valueID")
	}
	if VerifyValue(42, 8, value) {
		t.Error("VerifyValue should reject a mismatched valueID")
	}
	if VerifyValue(43, 7, value) {
		t.Error("VerifyValue should reject a mismatched key")
	}
}

func TestGenerateValueEnforcesMinimumSize(t *testing.T) {
	value := GenerateValue(1, 1, 4)
	if len(value) != 12 {
		t.Errorf("GenerateValue() with a too-small size = %d, want the minimum 12", len(value))
	}
}

func TestVerifyValueRejectsShortInput(t *testing.T) {
	if VerifyValue(1, 1, []byte{1, 2, 3}) {
		t.Error("VerifyValue should reject a value shorter than the header")
	}
}

func TestExpectedStateManagerSnapshotRoundTrip(t *testing.T) {
	es := NewExpectedState(10, 1)
	es.Put(0, 1, 5)
	mgr := NewExpectedStateManager(es)

	mgr.TakeSnapshot()
	if mgr.NumSnapshots() != 1 {
		t.Fatalf("NumSnapshots() = %d, want 1", mgr.NumSnapshots())
	}

	es.Put(0, 2, 6)
	es.Delete(0, 1)

	if !mgr.RestoreLatestSnapshot() {
		t.Fatal("RestoreLatestSnapshot() should succeed with a snapshot present")
	}

	if id, _ := es.GetValueID(0, 1); id != 5 {
		t.Errorf("after restore GetValueID(0, 1) = %d, want 5", id)
	}
	if es.Exists(0, 2) {
		t.Error("after restore, state written after the snapshot should be gone")
	}
}

func TestExpectedStateManagerRestoreWithNoSnapshots(t *testing.T) {
	es := NewExpectedState(10, 1)
	mgr := NewExpectedStateManager(es)

	if mgr.RestoreLatestSnapshot() {
		t.Error("RestoreLatestSnapshot() should fail with no snapshots taken")
	}
}

func TestExpectedStateManagerClearSnapshots(t *testing.T) {
	es := NewExpectedState(10, 1)
	mgr := NewExpectedStateManager(es)
	mgr.TakeSnapshot()
	mgr.TakeSnapshot()

	mgr.ClearSnapshots()
	if mgr.NumSnapshots() != 0 {
		t.Errorf("NumSnapshots() after ClearSnapshots() = %d, want 0", mgr.NumSnapshots())
	}
}

func TestExpectedStateSaveAndLoadRoundTrip(t *testing.T) {
	es := NewExpectedState(20, 2)
	es.Put(0, 1, 3)
	es.Delete(1, 5)

	path := filepath.Join(t.TempDir(), "state.bin")
	if err := es.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded, err := LoadExpectedStateFromFile(path)
	if err != nil {
		t.Fatalf("LoadExpectedStateFromFile() error = %v", err)
	}

	if id, ok := loaded.GetValueID(0, 1); !ok || id != 3 {
		t.Errorf("loaded GetValueID(0, 1) = (%d, %v), want (3, true)", id, ok)
	}
	if !loaded.IsDeleted(1, 5) {
		t.Error("loaded state should preserve deletions")
	}
	if loaded.Seqno() != es.Seqno() {
		t.Errorf("loaded seqno = %d, want %d", loaded.Seqno(), es.Seqno())
	}
}

func TestLoadExpectedStateFromFileRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	if err := writeFile(path, make([]byte, 40)); err != nil {
		t.Fatalf("writeFile() error = %v", err)
	}

	if _, err := LoadExpectedStateFromFile(path); err != errInvalidMagic {
		t.Errorf("LoadExpectedStateFromFile() error = %v, want errInvalidMagic", err)
	}
}

func TestLoadExpectedStateFromFileRejectsTruncatedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.bin")
	if err := writeFile(path, make([]byte, 10)); err != nil {
		t.Fatalf("writeFile() error = %v", err)
	}

	if _, err := LoadExpectedStateFromFile(path); err != errInvalidFile {
		t.Errorf("LoadExpectedStateFromFile() error = %v, want errInvalidFile", err)
	}
}
