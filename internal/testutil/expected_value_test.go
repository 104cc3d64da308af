package testutil

import (
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestExpectedValueInitialStateIsDeleted(t *testing.T) {
	ev := NewExpectedValue()
	if !ev.IsDeleted() {
		t.Error("a freshly created ExpectedValue should be deleted")
	}
	if ev.Exists() {
		t.Error("a deleted value should not exist")
	}
}

func TestExpectedValuePutClearsDeletedAndAdvancesBase(t *testing.T) {
	ev := NewExpectedValue()
	ev.Put(false)

	if ev.IsDeleted() {
		t.Error("Put(false) should clear the deleted flag")
	}
	if ev.GetValueBase() != 1 {
		t.Errorf("GetValueBase() = %d, want 1", ev.GetValueBase())
	}
	if !ev.Exists() {
		t.Error("a committed put should exist")
	}
}

func TestExpectedValuePendingPutDoesNotCommit(t *testing.T) {
	ev := NewExpectedValue()
	ev.Put(true)

	if !ev.PendingWrite() {
		t.Error("Put(true) should set the pending write flag")
	}
	if ev.Exists() {
		t.Error("a pending write should not count as existing yet")
	}
	if ev.GetValueBase() != 0 {
		t.Errorf("GetValueBase() during a pending write = %d, want unchanged 0", ev.GetValueBase())
	}
	if ev.GetFinalValueBase() != 1 {
		t.Errorf("GetFinalValueBase() = %d, want 1 (the value once committed)", ev.GetFinalValueBase())
	}
}

func TestExpectedValueDeleteReturnsPriorExistence(t *testing.T) {
	ev := NewExpectedValue()
	ev.Put(false)

	existed := ev.Delete(false)
	if !existed {
		t.Error("Delete() on an existing key should report it existed")
	}
	if !ev.IsDeleted() {
		t.Error("Delete(false) should set the deleted flag")
	}

	existedAgain := ev.Delete(false)
	if existedAgain {
		t.Error("Delete() on an already-deleted key should report it did not exist")
	}
}

func TestExpectedValueDelCounterWraps(t *testing.T) {
	ev := NewExpectedValue()
	ev.SetDelCounter(delCounterMask >> 16)
	next := ev.NextDelCounter()
	if next != 0 {
		t.Errorf("NextDelCounter() at max = %d, want wraparound to 0", next)
	}
}

func TestExpectedValueValueBaseWraps(t *testing.T) {
	ev := NewExpectedValue()
	ev.SetValueBase(valueBaseMask)
	next := ev.NextValueBase()
	if next != 0 {
		t.Errorf("NextValueBase() at max = %d, want wraparound to 0", next)
	}
}

func TestExpectedValueSyncPutAndSyncDelete(t *testing.T) {
	ev := NewExpectedValue()
	ev.SyncPut(7)

	if ev.IsDeleted() {
		t.Error("SyncPut should clear the deleted flag")
	}
	if ev.GetValueBase() != 7 {
		t.Errorf("GetValueBase() = %d, want 7", ev.GetValueBase())
	}

	ev.SyncDelete()
	if !ev.IsDeleted() {
		t.Error("SyncDelete should set the deleted flag")
	}
}

func TestPendingExpectedValueV2CommitStoresFinal(t *testing.T) {
	var slot atomic.Uint32
	orig := NewExpectedValue()
	final := orig
	final.Put(false)
	slot.Store(uint32(orig))

	pev := NewPendingExpectedValueV2(&slot, orig, final)
	pev.Commit()

	if ExpectedValue(slot.Load()) != final {
		t.Error("Commit should store the final value")
	}
	if !pev.IsClosed() {
		t.Error("IsClosed() should be true after Commit")
	}

	// A second Commit/Rollback must be a no-op.
	pev.Rollback()
	if ExpectedValue(slot.Load()) != final {
		t.Error("a Commit followed by Rollback should not revert the stored value")
	}
}

func TestPendingExpectedValueV2RollbackRestoresOriginal(t *testing.T) {
	var slot atomic.Uint32
	orig := NewExpectedValue()
	orig.Put(false)
	final := orig
	final.Delete(false)
	slot.Store(uint32(final)) // simulate the delete already visible in the slot

	pev := NewPendingExpectedValueV2(&slot, orig, final)
	pev.Rollback()

	if ExpectedValue(slot.Load()) != orig {
		t.Error("Rollback should restore the original value")
	}
}

func TestExpectedValueHelperMustHaveNotExisted(t *testing.T) {
	pre := NewExpectedValue() // deleted
	post := pre

	if !MustHaveNotExisted(pre, post) {
		t.Error("a key deleted before and unwritten during a read must have not existed")
	}

	post.Put(false)
	if MustHaveNotExisted(pre, post) {
		t.Error("a write during the read should invalidate MustHaveNotExisted")
	}
}

func TestExpectedValueHelperMustHaveExisted(t *testing.T) {
	pre := NewExpectedValue()
	pre.Put(false)
	post := pre

	if !MustHaveExisted(pre, post) {
		t.Error("a key present before and not deleted during a read must have existed")
	}

	post.Delete(false)
	if MustHaveExisted(pre, post) {
		t.Error("a delete during the read should invalidate MustHaveExisted")
	}
}

func TestInExpectedValueBaseRange(t *testing.T) {
	pre := NewExpectedValue()
	pre.SetValueBase(5)
	post := pre
	post.SetValueBase(10)

	if !InExpectedValueBaseRange(7, pre, post) {
		t.Error("7 should fall within [5,10]")
	}
	if InExpectedValueBaseRange(11, pre, post) {
		t.Error("11 should fall outside [5,10]")
	}
	if InExpectedValueBaseRange(valueBaseMask+1, pre, post) {
		t.Error("a value base beyond the mask should always be invalid")
	}
}

func TestNewExpectedStateV2Basics(t *testing.T) {
	es := NewExpectedStateV2(100, 2, 2)

	if es.MaxKey() != 100 {
		t.Errorf("MaxKey() = %d, want 100", es.MaxKey())
	}
	if es.NumColumnFamilies() != 2 {
		t.Errorf("NumColumnFamilies() = %d, want 2", es.NumColumnFamilies())
	}
	if es.Exists(0, 5) {
		t.Error("a fresh state should have no existing keys")
	}
}

func TestExpectedStateV2PreparePutCommit(t *testing.T) {
	es := NewExpectedStateV2(10, 1, 2)

	pev := es.PreparePut(0, 3)
	if pev == nil {
		t.Fatal("PreparePut should return a non-nil pending value")
	}
	if es.Exists(0, 3) {
		t.Error("key should not exist while the put is pending")
	}

	pev.Commit()
	if !es.Exists(0, 3) {
		t.Error("key should exist after commit")
	}
	if es.GetValueBase(0, 3) != 1 {
		t.Errorf("GetValueBase(0, 3) = %d, want 1", es.GetValueBase(0, 3))
	}
}

func TestExpectedStateV2PreparePutRollback(t *testing.T) {
	es := NewExpectedStateV2(10, 1, 2)

	pev := es.PreparePut(0, 3)
	pev.Rollback()

	if es.Exists(0, 3) {
		t.Error("key should not exist after a rolled-back put")
	}
}

func TestExpectedStateV2PrepareDeleteCommit(t *testing.T) {
	es := NewExpectedStateV2(10, 1, 2)
	es.PreparePut(0, 1).Commit()

	pev := es.PrepareDelete(0, 1)
	pev.Commit()

	if es.Exists(0, 1) {
		t.Error("key should not exist after a committed delete")
	}
}

func TestExpectedStateV2OutOfRangeReturnsNil(t *testing.T) {
	es := NewExpectedStateV2(10, 1, 2)

	if es.PreparePut(5, 0) != nil {
		t.Error("PreparePut with an out-of-range CF should return nil")
	}
	if es.PreparePut(0, -1) != nil {
		t.Error("PreparePut with a negative key should return nil")
	}
	if es.GetMutexForKey(5, 0) != nil {
		t.Error("GetMutexForKey with an out-of-range CF should return nil")
	}
}

func TestExpectedStateV2ClearAndClearColumnFamily(t *testing.T) {
	es := NewExpectedStateV2(10, 2, 2)
	es.PreparePut(0, 1).Commit()
	es.PreparePut(1, 1).Commit()
	es.SetPersistedSeqno(42)

	es.ClearColumnFamily(0)
	if es.Exists(0, 1) {
		t.Error("ClearColumnFamily(0) should reset CF 0")
	}
	if !es.Exists(1, 1) {
		t.Error("ClearColumnFamily(0) should not touch CF 1")
	}

	es.Clear()
	if es.Exists(1, 1) {
		t.Error("Clear() should reset every CF")
	}
	if es.GetPersistedSeqno() != 0 {
		t.Error("Clear() should reset the persisted sequence number")
	}
}

func TestExpectedStateV2SyncPutSyncDelete(t *testing.T) {
	es := NewExpectedStateV2(10, 1, 2)

	es.SyncPut(0, 1, 42)
	if !es.Exists(0, 1) {
		t.Error("key should exist after SyncPut")
	}
	if es.GetValueBase(0, 1) != 42 {
		t.Errorf("GetValueBase(0, 1) = %d, want 42", es.GetValueBase(0, 1))
	}

	es.SyncDelete(0, 1)
	if es.Exists(0, 1) {
		t.Error("key should not exist after SyncDelete")
	}

	es.SyncPut(0, 1, 1)
	if !es.Exists(0, 1) {
		t.Error("key should exist again after a SyncPut following a delete")
	}
}

func TestExpectedStateV2SaveAndLoadRoundTrip(t *testing.T) {
	es := NewExpectedStateV2(50, 2, 3)
	es.PreparePut(0, 10).Commit()
	es.PreparePut(1, 20).Commit()
	es.SetPersistedSeqno(99)

	path := filepath.Join(t.TempDir(), "state.bin")
	if err := es.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded, err := LoadExpectedStateV2FromFile(path)
	if err != nil {
		t.Fatalf("LoadExpectedStateV2FromFile() error = %v", err)
	}

	if loaded.MaxKey() != 50 || loaded.NumColumnFamilies() != 2 {
		t.Errorf("loaded dimensions = (%d, %d), want (50, 2)", loaded.MaxKey(), loaded.NumColumnFamilies())
	}
	if loaded.GetPersistedSeqno() != 99 {
		t.Errorf("loaded seqno = %d, want 99", loaded.GetPersistedSeqno())
	}
	if !loaded.Exists(0, 10) || !loaded.Exists(1, 20) {
		t.Error("loaded state should preserve committed keys")
	}
}

func TestExpectedStateV2SaveConservativelyResolvesPendingOps(t *testing.T) {
	es := NewExpectedStateV2(10, 1, 2)
	es.PreparePut(0, 1) // leave pending, never commit

	path := filepath.Join(t.TempDir(), "pending.bin")
	if err := es.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded, err := LoadExpectedStateV2FromFile(path)
	if err != nil {
		t.Fatalf("LoadExpectedStateV2FromFile() error = %v", err)
	}

	// A pending write is persisted as if it had completed.
	if !loaded.Exists(0, 1) {
		t.Error("a pending write should be saved as if it completed")
	}
}

func TestLoadExpectedStateV2FromFileRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	if err := writeFileV2(path, make([]byte, 40)); err != nil {
		t.Fatalf("writeFileV2() error = %v", err)
	}

	if _, err := LoadExpectedStateV2FromFile(path); err != errInvalidMagicV2 {
		t.Errorf("LoadExpectedStateV2FromFile() error = %v, want errInvalidMagicV2", err)
	}
}
