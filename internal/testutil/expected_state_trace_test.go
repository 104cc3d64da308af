package testutil

import (
	"io"
	"path/filepath"
	"testing"
)

func TestTraceWriterReaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.trace")

	tw, err := NewTraceWriter(path, 10, 2, 100)
	if err != nil {
		t.Fatalf("NewTraceWriter() error = %v", err)
	}
	if err := tw.RecordPut(0, 1, 5, 11); err != nil {
		t.Fatalf("RecordPut() error = %v", err)
	}
	if err := tw.RecordDelete(1, 2, 12); err != nil {
		t.Fatalf("RecordDelete() error = %v", err)
	}
	if tw.Count() != 2 {
		t.Errorf("Count() = %d, want 2", tw.Count())
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	tr, err := OpenTraceReader(path)
	if err != nil {
		t.Fatalf("OpenTraceReader() error = %v", err)
	}
	defer tr.Close()

	if tr.StartSeq() != 10 || tr.NumCFs() != 2 || tr.MaxKey() != 100 {
		t.Errorf("header = (%d, %d, %d), want (10, 2, 100)", tr.StartSeq(), tr.NumCFs(), tr.MaxKey())
	}

	rec1, err := tr.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if rec1.Op != TraceOpPut || rec1.CF != 0 || rec1.Key != 1 || rec1.ValueBase != 5 || rec1.SeqNo != 11 {
		t.Errorf("rec1 = %+v, want Put(cf=0,key=1,val=5,seq=11)", rec1)
	}

	rec2, err := tr.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if rec2.Op != TraceOpDelete || rec2.CF != 1 || rec2.Key != 2 || rec2.SeqNo != 12 {
		t.Errorf("rec2 = %+v, want Delete(cf=1,key=2,seq=12)", rec2)
	}

	if _, err := tr.Next(); err != io.EOF {
		t.Errorf("Next() at end = %v, want io.EOF", err)
	}
}

func TestTraceWriterRecordAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.trace")
	tw, err := NewTraceWriter(path, 0, 1, 10)
	if err != nil {
		t.Fatalf("NewTraceWriter() error = %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := tw.RecordPut(0, 1, 1, 1); err == nil {
		t.Error("RecordPut after Close should fail")
	}
}

func TestOpenTraceReaderRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.trace")
	if err := writeFileV2(path, make([]byte, 40)); err != nil {
		t.Fatalf("writeFileV2() error = %v", err)
	}

	if _, err := OpenTraceReader(path); err == nil {
		t.Error("OpenTraceReader should reject a file with a bad magic number")
	}
}

func TestReplayTraceAppliesUpToTargetSeqno(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.trace")
	tw, err := NewTraceWriter(path, 0, 1, 10)
	if err != nil {
		t.Fatalf("NewTraceWriter() error = %v", err)
	}
	if err := tw.RecordPut(0, 1, 3, 1); err != nil {
		t.Fatalf("RecordPut() error = %v", err)
	}
	if err := tw.RecordPut(0, 2, 4, 2); err != nil {
		t.Fatalf("RecordPut() error = %v", err)
	}
	if err := tw.RecordDelete(0, 1, 3); err != nil {
		t.Fatalf("RecordDelete() error = %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	state := NewExpectedStateV2(10, 1, 2)
	applied, err := ReplayTrace(path, 2, state)
	if err != nil {
		t.Fatalf("ReplayTrace() error = %v", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}

	if !state.Exists(0, 1) {
		t.Error("key 1 should exist: its delete (seq 3) is beyond the target seqno")
	}
	if !state.Exists(0, 2) {
		t.Error("key 2 should exist after its put (seq 2)")
	}
}

func TestReplayTraceAppliesDeleteWithinTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.trace")
	tw, err := NewTraceWriter(path, 0, 1, 10)
	if err != nil {
		t.Fatalf("NewTraceWriter() error = %v", err)
	}
	if err := tw.RecordPut(0, 1, 3, 1); err != nil {
		t.Fatalf("RecordPut() error = %v", err)
	}
	if err := tw.RecordDelete(0, 1, 2); err != nil {
		t.Fatalf("RecordDelete() error = %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	state := NewExpectedStateV2(10, 1, 2)
	applied, err := ReplayTrace(path, 2, state)
	if err != nil {
		t.Fatalf("ReplayTrace() error = %v", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}
	if state.Exists(0, 1) {
		t.Error("key 1 should be deleted after both operations are applied")
	}
}

func TestExpectedStateRecoveryLifecycle(t *testing.T) {
	base := filepath.Join(t.TempDir(), "recovery")
	recovery := NewExpectedStateRecovery(base, 1, 20)

	state := NewExpectedStateV2(20, 1, 2)
	state.PreparePut(0, 5).Commit()

	tw, err := recovery.SaveAtAndAfter(state, 0)
	if err != nil {
		t.Fatalf("SaveAtAndAfter() error = %v", err)
	}
	if err := tw.RecordPut(0, 6, 1, 1); err != nil {
		t.Fatalf("RecordPut() error = %v", err)
	}
	if err := recovery.StopTracing(); err != nil {
		t.Fatalf("StopTracing() error = %v", err)
	}

	if !recovery.HasRecoveryFiles() {
		t.Fatal("HasRecoveryFiles() should be true after SaveAtAndAfter")
	}

	restored, applied, err := recovery.Restore(1)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
	if !restored.Exists(0, 5) {
		t.Error("restored state should contain the snapshotted key")
	}
	if !restored.Exists(0, 6) {
		t.Error("restored state should contain the replayed key")
	}

	if err := recovery.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if recovery.HasRecoveryFiles() {
		t.Error("HasRecoveryFiles() should be false after Cleanup")
	}
}

func TestExpectedStateRecoveryNoFilesInitially(t *testing.T) {
	base := filepath.Join(t.TempDir(), "recovery")
	recovery := NewExpectedStateRecovery(base, 1, 10)

	if recovery.HasRecoveryFiles() {
		t.Error("HasRecoveryFiles() should be false before SaveAtAndAfter is called")
	}
}

func TestTraceRecordChecksumIsDeterministic(t *testing.T) {
	rec := TraceRecord{Op: TraceOpPut, CF: 0, Key: 5, ValueBase: 9, SeqNo: 3}

	c1 := TraceRecordChecksum(rec)
	c2 := TraceRecordChecksum(rec)
	if c1 != c2 {
		t.Error("TraceRecordChecksum should be deterministic for identical records")
	}

	other := rec
	other.Key = 6
	if TraceRecordChecksum(other) == c1 {
		t.Error("TraceRecordChecksum should differ when the record content differs")
	}
}
