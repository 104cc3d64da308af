package vfs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFaultInjectionFSCreate(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())

	path := filepath.Join(dir, "test.txt")
	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	n, err := f.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != 5 {
		t.Errorf("Write returned %d, want 5", n)
	}
	f.Close()

	if !fs.Exists(path) {
		t.Error("file should exist")
	}
}

func TestFaultInjectionFSInjectWriteError(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())
	path := filepath.Join(dir, "test.txt")

	fs.InjectWriteError(path)

	if _, err := fs.Create(path); !errors.Is(err, ErrInjectedWriteError) {
		t.Errorf("Create() error = %v, want ErrInjectedWriteError", err)
	}

	fs.ClearErrors()

	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Create after ClearErrors failed: %v", err)
	}
	f.Close()
}

func TestFaultInjectionFSInjectReadError(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())
	path := filepath.Join(dir, "test.txt")
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	fs.InjectReadError(path)

	if _, err := fs.Open(path); !errors.Is(err, ErrInjectedReadError) {
		t.Errorf("Open() error = %v, want ErrInjectedReadError", err)
	}
	if _, err := fs.OpenRandomAccess(path); !errors.Is(err, ErrInjectedReadError) {
		t.Errorf("OpenRandomAccess() error = %v, want ErrInjectedReadError", err)
	}
}

func TestFaultInjectionFSInjectSyncError(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())
	path := filepath.Join(dir, "test.txt")

	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	fs.InjectSyncError()

	if err := f.Sync(); !errors.Is(err, ErrInjectedSyncError) {
		t.Errorf("Sync() error = %v, want ErrInjectedSyncError", err)
	}
	f.Close()
}

func TestFaultInjectionFSTracksSyncState(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())
	path := filepath.Join(dir, "test.txt")

	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	absPath, _ := filepath.Abs(path)
	syncedPos, currentPos, ok := fs.GetFileState(absPath)
	if !ok {
		t.Fatal("file state should exist")
	}
	if syncedPos != 0 || currentPos != 5 {
		t.Errorf("state before sync = (synced=%d, current=%d), want (0, 5)", syncedPos, currentPos)
	}

	if err := f.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	syncedPos, currentPos, _ = fs.GetFileState(absPath)
	if syncedPos != 5 || currentPos != 5 {
		t.Errorf("state after sync = (synced=%d, current=%d), want (5, 5)", syncedPos, currentPos)
	}
	f.Close()
}

func TestFaultInjectionFSDropUnsyncedData(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())
	path := filepath.Join(dir, "test.txt")

	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if _, err := f.Write([]byte(" world")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	f.Close()

	data, _ := os.ReadFile(path)
	if string(data) != "hello world" {
		t.Fatalf("content before drop = %q, want 'hello world'", data)
	}

	if err := fs.DropUnsyncedData(); err != nil {
		t.Fatalf("DropUnsyncedData failed: %v", err)
	}

	data, _ = os.ReadFile(path)
	if string(data) != "hello" {
		t.Errorf("content after drop = %q, want 'hello' (unsynced tail discarded)", data)
	}
}

func TestFaultInjectionFSSetFilesystemActive(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())

	fs.SetFilesystemActive(false)

	path := filepath.Join(dir, "test.txt")
	if _, err := fs.Create(path); !errors.Is(err, ErrInjectedWriteError) {
		t.Errorf("Create() on inactive filesystem error = %v, want ErrInjectedWriteError", err)
	}

	fs.SetFilesystemActive(true)

	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Create after reactivation failed: %v", err)
	}
	f.Close()
}

func TestFaultInjectionFSRenameTransfersState(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())

	oldPath := filepath.Join(dir, "old.txt")
	newPath := filepath.Join(dir, "new.txt")

	f, err := fs.Create(oldPath)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("content")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	f.Close()

	absOld, _ := filepath.Abs(oldPath)
	if _, _, ok := fs.GetFileState(absOld); !ok {
		t.Error("state should exist for old path before rename")
	}

	if err := fs.Rename(oldPath, newPath); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	absNew, _ := filepath.Abs(newPath)
	if _, _, ok := fs.GetFileState(absNew); !ok {
		t.Error("state should exist for new path after rename")
	}
	if _, _, ok := fs.GetFileState(absOld); ok {
		t.Error("state should not exist for old path after rename")
	}
}

func TestFaultInjectionFSRemoveClearsState(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())
	path := filepath.Join(dir, "test.txt")

	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("content")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	f.Close()

	absPath, _ := filepath.Abs(path)
	if _, _, ok := fs.GetFileState(absPath); !ok {
		t.Fatal("state should exist before remove")
	}

	if err := fs.Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if _, _, ok := fs.GetFileState(absPath); ok {
		t.Error("state should not exist after remove")
	}
}

func TestFaultInjectionFSInjectErrorForAllPaths(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())

	fs.InjectWriteError("")

	for _, name := range []string{"test1.txt", "test2.txt"} {
		path := filepath.Join(dir, name)
		if _, err := fs.Create(path); !errors.Is(err, ErrInjectedWriteError) {
			t.Errorf("Create(%s) error = %v, want ErrInjectedWriteError", name, err)
		}
	}
}

func TestFaultInjectionFSTruncate(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())
	path := filepath.Join(dir, "test.txt")

	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	absPath, _ := filepath.Abs(path)
	syncedPos, currentPos, _ := fs.GetFileState(absPath)
	if syncedPos != 11 || currentPos != 11 {
		t.Fatalf("state before truncate = (synced=%d, current=%d), want (11, 11)", syncedPos, currentPos)
	}

	if err := f.Truncate(5); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}

	syncedPos, currentPos, _ = fs.GetFileState(absPath)
	if syncedPos != 5 || currentPos != 5 {
		t.Errorf("state after truncate = (synced=%d, current=%d), want (5, 5)", syncedPos, currentPos)
	}
	f.Close()
}

func TestFaultInjectionFSSyncDir(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())
	path := filepath.Join(dir, "test.txt")

	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	f.Close()

	if err := fs.SyncDir(dir); err != nil {
		t.Fatalf("SyncDir failed: %v", err)
	}
}

func TestFaultInjectionFSMkdirAll(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())
	path := filepath.Join(dir, "a", "b", "c")

	if err := fs.MkdirAll(path, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if !fs.Exists(path) {
		t.Error("directory should exist")
	}

	fs.SetFilesystemActive(false)
	path2 := filepath.Join(dir, "d", "e")
	if err := fs.MkdirAll(path2, 0755); !errors.Is(err, ErrInjectedWriteError) {
		t.Errorf("MkdirAll on inactive filesystem error = %v, want ErrInjectedWriteError", err)
	}
}

func TestFaultInjectionFSPassthroughMethods(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())

	path := filepath.Join(dir, "test.txt")
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	info, err := fs.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 7 {
		t.Errorf("Size() = %d, want 7", info.Size())
	}

	if !fs.Exists(path) {
		t.Error("Exists() should return true")
	}

	names, err := fs.ListDir(dir)
	if err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	if len(names) != 1 || names[0] != "test.txt" {
		t.Errorf("ListDir() = %v, want [test.txt]", names)
	}

	lock, err := fs.Lock(filepath.Join(dir, "LOCK"))
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	lock.Close()
}

// A rename without a following SyncDir on the parent directory is not yet
// durable: it stays reversible until the directory entry is synced.
func TestFaultInjectionFSRenameNotDurableWithoutDirSync(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())

	oldPath := filepath.Join(dir, "MANIFEST-000001")
	f, err := fs.Create(oldPath)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("manifest content")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	f.Close()

	currentPath := filepath.Join(dir, "CURRENT")
	curFile, err := fs.Create(currentPath)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := curFile.Write([]byte("MANIFEST-000001\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := curFile.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	curFile.Close()

	if err := fs.SyncDir(dir); err != nil {
		t.Fatalf("SyncDir failed: %v", err)
	}

	newManifestPath := filepath.Join(dir, "MANIFEST-000002")
	mf, err := fs.Create(newManifestPath)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := mf.Write([]byte("new manifest content")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := mf.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	mf.Close()

	tmpPath := filepath.Join(dir, "CURRENT.tmp")
	tmp, err := fs.Create(tmpPath)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := tmp.Write([]byte("MANIFEST-000002\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := tmp.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	tmp.Close()

	if err := fs.Rename(tmpPath, currentPath); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	if !fs.HasPendingRenames() {
		t.Error("rename without a directory sync should be pending")
	}
	if fs.PendingRenameCount() != 1 {
		t.Errorf("PendingRenameCount() = %d, want 1", fs.PendingRenameCount())
	}

	if err := fs.RevertUnsyncedRenames(); err != nil {
		t.Fatalf("RevertUnsyncedRenames failed: %v", err)
	}

	if fs.HasPendingRenames() {
		t.Error("pending renames should be cleared after a revert")
	}
}

func TestFaultInjectionFSSyncDirMakesRenamesDurable(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())

	oldPath := filepath.Join(dir, "old.txt")
	f, err := fs.Create(oldPath)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("content")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	f.Close()

	newPath := filepath.Join(dir, "new.txt")
	if err := fs.Rename(oldPath, newPath); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	if !fs.HasPendingRenames() {
		t.Error("rename should be pending before a directory sync")
	}

	if err := fs.SyncDir(dir); err != nil {
		t.Fatalf("SyncDir failed: %v", err)
	}

	if fs.HasPendingRenames() {
		t.Error("pending renames should be cleared after SyncDir")
	}
	if !fs.Exists(newPath) {
		t.Error("renamed file should still exist after SyncDir")
	}
}

func TestFaultInjectionFSSyncDirLieMode(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())
	fs.SetSyncDirLieMode(true)

	if !fs.IsSyncDirLieModeEnabled() {
		t.Fatal("SyncDirLieMode should be enabled")
	}

	oldPath := filepath.Join(dir, "old.txt")
	f, err := fs.Create(oldPath)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	f.Close()

	newPath := filepath.Join(dir, "new.txt")
	if err := fs.Rename(oldPath, newPath); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	// SyncDir reports success but, under lie mode, the rename is still
	// reversible on a simulated crash.
	if err := fs.SyncDir(dir); err != nil {
		t.Fatalf("SyncDir failed: %v", err)
	}
	if err := fs.RevertUnsyncedRenames(); err != nil {
		t.Fatalf("RevertUnsyncedRenames failed: %v", err)
	}
}

func TestFaultInjectionFSFileSyncLieMode(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())
	fs.SetFileSyncLieMode(true, "*.txt")

	if !fs.IsFileSyncLieModeEnabled() {
		t.Fatal("FileSyncLieMode should be enabled")
	}
	if fs.GetFileSyncLiePattern() != "*.txt" {
		t.Errorf("GetFileSyncLiePattern() = %q, want '*.txt'", fs.GetFileSyncLiePattern())
	}

	path := filepath.Join(dir, "test.txt")
	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	f.Close()
}

func TestFaultInjectionFSRenameAnomalyModes(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())
	fs.SetRenameDoubleNameMode(true, "CURRENT")

	if !fs.IsRenameDoubleNameModeEnabled() {
		t.Error("RenameDoubleNameMode should be enabled")
	}

	fs.SetRenameNeitherNameMode(true, "CURRENT")
	if !fs.IsRenameNeitherNameModeEnabled() {
		t.Error("RenameNeitherNameMode should be enabled")
	}

	oldPath := filepath.Join(dir, "MANIFEST-000001")
	f, err := fs.Create(oldPath)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	f.Close()

	currentPath := filepath.Join(dir, "CURRENT")
	if err := fs.Rename(oldPath, currentPath); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	if err := fs.SimulateCrashWithRenameAnomalies(); err != nil {
		t.Fatalf("SimulateCrashWithRenameAnomalies failed: %v", err)
	}
}
