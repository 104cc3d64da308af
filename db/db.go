package db

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/lumenkv/lumenkv/internal/batch"
	"github.com/lumenkv/lumenkv/internal/cache"
	"github.com/lumenkv/lumenkv/internal/compaction"
	"github.com/lumenkv/lumenkv/internal/dbformat"
	"github.com/lumenkv/lumenkv/internal/memtable"
	"github.com/lumenkv/lumenkv/internal/table"
	"github.com/lumenkv/lumenkv/internal/version"
	"github.com/lumenkv/lumenkv/internal/vfs"
	"github.com/lumenkv/lumenkv/internal/wal"
)

// DB is a single open handle to a database directory. Its mutex serializes
// writes and every mutation to the VersionSet, memtable pointers, and
// snapshot registry; readers only take it briefly to clone a reference to
// the current Version or memtables (§5).
type DB struct {
	mu   sync.Mutex
	opts Options
	path string

	vset       *version.VersionSet
	tableCache *table.TableCache
	blockCache *cache.ShardedLRUCache
	picker     *compaction.LeveledCompactionPicker
	snapshots  *snapshotList

	mem     *memtable.MemTable
	imm     *memtable.MemTable // frozen, being flushed; nil when none
	logFile vfs.WritableFile
	log     *wal.Writer
	logNum  uint64

	lock io.Closer

	closed         bool
	bgErr          error
	bgWorkCh       chan struct{} // buffered wakeup signal for the background worker
	bgWorkFinished chan struct{} // closed once the current round of background work is done
	bgScheduled    bool

	cond *sync.Cond
}

// Open opens (or, with CreateIfMissing, creates) the database at path.
// Recovery replays the MANIFEST and any WAL records written after the last
// flush before returning (§4.11).
func Open(path string, opts *Options) (*DB, error) {
	o := opts.withDefaults()

	if err := o.Env.MkdirAll(path, 0o755); err != nil {
		return nil, ioErrorf(err, "create database directory %s", path)
	}

	lock, err := o.Env.Lock(filepath.Join(path, "LOCK"))
	if err != nil {
		return nil, ioErrorf(err, "acquire database lock")
	}

	blockCache := cache.NewShardedLRUCache(o.BlockCacheSize, 16)

	d := &DB{
		opts:       o,
		path:       path,
		lock:       lock,
		snapshots:  newSnapshotList(),
		blockCache: blockCache,
		tableCache: table.NewTableCache(o.Env, table.TableCacheOptions{
			MaxOpenFiles:    o.TableCacheSize,
			VerifyChecksums: true,
			BlockCache:      blockCache,
		}),
		picker: &compaction.LeveledCompactionPicker{
			NumLevels:             version.MaxNumLevels,
			L0CompactionTrigger:   o.L0CompactionTrigger,
			L0StopWritesTrigger:   o.L0StopWritesTrigger,
			MaxBytesForLevelBase:  o.MaxBytesForLevelBase,
			MaxBytesForLevelMulti: o.MaxBytesForLevelMultiplier,
			TargetFileSizeBase:    o.TargetFileSize,
			TargetFileSizeMulti:   o.TargetFileSizeMultiplier,
		},
	}
	d.cond = sync.NewCond(&d.mu)

	d.vset = version.NewVersionSet(version.VersionSetOptions{
		DBName:         path,
		FS:             o.Env,
		NumLevels:      version.MaxNumLevels,
		ComparatorName: o.ComparatorName,
	})

	currentExists := o.Env.Exists(filepath.Join(path, "CURRENT"))
	if !currentExists {
		if !o.CreateIfMissing {
			_ = lock.Close()
			return nil, newError(CodeInvalidArgument, "database does not exist and CreateIfMissing is false", nil)
		}
		if err := d.vset.Create(); err != nil {
			_ = lock.Close()
			return nil, ioErrorf(err, "initialize new database")
		}
	} else {
		if o.ErrorIfExists {
			_ = lock.Close()
			return nil, newError(CodeInvalidArgument, "database already exists and ErrorIfExists is true", nil)
		}
		if err := d.vset.Recover(); err != nil {
			_ = lock.Close()
			return nil, corruptionf("recover MANIFEST: %v", err)
		}
	}

	if err := d.recoverLog(); err != nil {
		_ = lock.Close()
		return nil, err
	}

	if err := d.openNewLog(); err != nil {
		_ = lock.Close()
		return nil, err
	}

	d.bgWorkFinished = make(chan struct{})
	close(d.bgWorkFinished)
	d.startBackgroundWorker()

	return d, nil
}

// recoverLog replays the WAL file named by the VersionSet's current log
// number (the only one that can hold entries not yet reflected in the
// current Version) into a fresh memtable. A truncated tail is tolerated as
// a crash artifact (§4.6, §7); corruption earlier in the stream is fatal.
func (d *DB) recoverLog() error {
	d.mem = memtable.NewMemTable(d.opts.Comparator)
	d.mem.Ref()

	logNum := d.vset.LogNumber()
	if logNum == 0 {
		return nil
	}
	logPath := d.logFilePath(logNum)
	if !d.opts.Env.Exists(logPath) {
		return nil
	}

	f, err := d.opts.Env.Open(logPath)
	if err != nil {
		return ioErrorf(err, "open WAL %s for recovery", logPath)
	}
	defer func() { _ = f.Close() }()

	reader := wal.NewReader(readerAdapter{f}, nil, true)
	maxSeq := dbformat.SequenceNumber(d.vset.LastSequence())

	for {
		record, rerr := reader.ReadRecord()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return corruptionf("replay WAL %s: %v", logPath, rerr)
		}

		wb, werr := batch.NewFromData(record)
		if werr != nil {
			return corruptionf("decode batch from WAL %s: %v", logPath, werr)
		}

		base := wb.Sequence()
		if err := applyBatchToMemtable(d.mem, wb); err != nil {
			return corruptionf("apply recovered batch: %v", err)
		}
		end := base + dbformat.SequenceNumber(wb.Count()) - 1
		if wb.Count() > 0 && end > maxSeq {
			maxSeq = end
		}
	}

	if maxSeq > dbformat.SequenceNumber(d.vset.LastSequence()) {
		d.vset.SetLastSequence(uint64(maxSeq))
	}
	return nil
}

// openNewLog rolls over to a freshly allocated WAL file and records its
// number so a future recovery knows where to resume from.
func (d *DB) openNewLog() error {
	newLogNum := d.vset.NextFileNumber()
	logPath := d.logFilePath(newLogNum)

	f, err := d.opts.Env.Create(logPath)
	if err != nil {
		return ioErrorf(err, "create WAL %s", logPath)
	}

	d.logFile = f
	d.log = wal.NewWriter(f, 0)
	d.logNum = newLogNum
	return nil
}

func (d *DB) logFilePath(num uint64) string {
	return filepath.Join(d.path, fmt.Sprintf("%06d.log", num))
}

// SSTFilePath returns the path of an SST file by number (flush.DB, §6).
func (d *DB) SSTFilePath(fileNum uint64) string {
	return filepath.Join(d.path, fmt.Sprintf("%06d.sst", fileNum))
}

// NextFileNumber implements flush.DB.
func (d *DB) NextFileNumber() uint64 { return d.vset.NextFileNumber() }

// FS implements flush.DB.
func (d *DB) FS() vfs.FS { return d.opts.Env }

// DBPath implements flush.DB.
func (d *DB) DBPath() string { return d.path }

// ComparatorName implements flush.DB.
func (d *DB) ComparatorName() string { return d.opts.ComparatorName }

// Close waits for any in-flight background work to finish, releases the
// file lock, and makes every subsequent call fail with ErrShuttingDown
// (§4.11, §7).
func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for d.bgScheduled {
		d.cond.Wait()
	}
	close(d.bgWorkCh)
	d.mu.Unlock()

	var firstErr error
	if d.log != nil {
		if err := d.logFile.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := d.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := d.vset.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.tableCache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	d.blockCache.Close()
	if err := d.lock.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return ioErrorf(firstErr, "close database")
	}
	return nil
}

func (d *DB) checkOpen() error {
	if d.closed {
		return newError(CodeShuttingDown, "database is closed", nil)
	}
	if d.bgErr != nil {
		return newError(CodeIoError, "background error", d.bgErr)
	}
	return nil
}

// readerAdapter turns a vfs.SequentialFile into an io.Reader for wal.NewReader.
type readerAdapter struct {
	f vfs.SequentialFile
}

func (r readerAdapter) Read(p []byte) (int, error) {
	return r.f.Read(p)
}
