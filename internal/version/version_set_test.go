package version

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lumenkv/lumenkv/internal/manifest"
)

func TestVersionSetCreateInitializesEmptyVersion(t *testing.T) {
	vs := NewVersionSet(DefaultVersionSetOptions(t.TempDir()))
	if err := vs.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer vs.Close()

	if vs.Current() == nil {
		t.Fatal("Current() should be non-nil after Create()")
	}
	if vs.Current().TotalFiles() != 0 {
		t.Error("a freshly created version should have no files")
	}
	if _, err := os.Stat(filepath.Join(vs.opts.DBName, "CURRENT")); err != nil {
		t.Errorf("Create() should write a CURRENT file: %v", err)
	}
}

func TestVersionSetLogAndApplyInstallsNewVersion(t *testing.T) {
	vs := NewVersionSet(DefaultVersionSetOptions(t.TempDir()))
	if err := vs.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer vs.Close()

	before := vs.Current()
	edit := manifest.NewVersionEdit()
	edit.AddFile(0, fileMeta(1, "a", "z", 100))
	edit.SetLastSequence(5)

	if err := vs.LogAndApply(edit); err != nil {
		t.Fatalf("LogAndApply() error = %v", err)
	}

	after := vs.Current()
	if after == before {
		t.Error("LogAndApply() should install a new current version")
	}
	if after.NumFiles(0) != 1 {
		t.Errorf("NumFiles(0) = %d, want 1", after.NumFiles(0))
	}
	if vs.LastSequence() != 5 {
		t.Errorf("LastSequence() = %d, want 5", vs.LastSequence())
	}
}

func TestVersionSetRecoverMissingCurrentFails(t *testing.T) {
	vs := NewVersionSet(DefaultVersionSetOptions(t.TempDir()))
	if err := vs.Recover(); err != ErrNoCurrentManifest {
		t.Errorf("Recover() with no CURRENT file = %v, want ErrNoCurrentManifest", err)
	}
}

func TestVersionSetRecoverRestoresState(t *testing.T) {
	dbname := t.TempDir()

	vs := NewVersionSet(DefaultVersionSetOptions(dbname))
	if err := vs.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	edit := manifest.NewVersionEdit()
	edit.AddFile(0, fileMeta(1, "a", "m", 200))
	edit.AddFile(1, fileMeta(2, "n", "z", 300))
	edit.SetLastSequence(42)
	edit.SetLogNumber(7)
	if err := vs.LogAndApply(edit); err != nil {
		t.Fatalf("LogAndApply() error = %v", err)
	}
	if err := vs.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	recovered := NewVersionSet(DefaultVersionSetOptions(dbname))
	if err := recovered.Recover(); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	defer recovered.Close()

	if recovered.LastSequence() != 42 {
		t.Errorf("LastSequence() after Recover = %d, want 42", recovered.LastSequence())
	}
	if recovered.LogNumber() != 7 {
		t.Errorf("LogNumber() after Recover = %d, want 7", recovered.LogNumber())
	}
	cur := recovered.Current()
	if cur.NumFiles(0) != 1 || cur.NumFiles(1) != 1 {
		t.Errorf("recovered file counts = (L0:%d, L1:%d), want (1, 1)", cur.NumFiles(0), cur.NumFiles(1))
	}
	if cur.Files(0)[0].FD.Number != 1 || cur.Files(1)[0].FD.Number != 2 {
		t.Error("recovered file numbers do not match what was logged")
	}
}

func TestVersionSetRecoverRejectsComparatorMismatch(t *testing.T) {
	dbname := t.TempDir()

	vs := NewVersionSet(DefaultVersionSetOptions(dbname))
	if err := vs.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := vs.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	opts := DefaultVersionSetOptions(dbname)
	opts.ComparatorName = "some.OtherComparator"
	recovered := NewVersionSet(opts)
	if err := recovered.Recover(); err == nil {
		t.Error("Recover() with a mismatched comparator name should fail")
	}
}

func TestVersionSetNumLevelFilesAndBytes(t *testing.T) {
	vs := NewVersionSet(DefaultVersionSetOptions(t.TempDir()))
	if err := vs.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer vs.Close()

	edit := manifest.NewVersionEdit()
	edit.AddFile(3, fileMeta(1, "a", "b", 500))
	edit.AddFile(3, fileMeta(2, "c", "d", 250))
	if err := vs.LogAndApply(edit); err != nil {
		t.Fatalf("LogAndApply() error = %v", err)
	}

	if vs.NumLevelFiles(3) != 2 {
		t.Errorf("NumLevelFiles(3) = %d, want 2", vs.NumLevelFiles(3))
	}
	if vs.NumLevelBytes(3) != 750 {
		t.Errorf("NumLevelBytes(3) = %d, want 750", vs.NumLevelBytes(3))
	}
}
