package db

import (
	"github.com/lumenkv/lumenkv/internal/compression"
	"github.com/lumenkv/lumenkv/internal/dbformat"
	"github.com/lumenkv/lumenkv/internal/logging"
	"github.com/lumenkv/lumenkv/internal/vfs"
)

// Options configures an Open call. Every field has a usable zero value via
// DefaultOptions; collaborators (comparator, filesystem, logger) are
// injected here rather than read from globals (§9). There is no filter
// policy field: every table uses the built-in Bloom filter.
type Options struct {
	// CreateIfMissing creates the database directory structure on Open if
	// it does not already exist.
	CreateIfMissing bool

	// ErrorIfExists fails Open if the database directory already contains
	// a CURRENT file.
	ErrorIfExists bool

	// Comparator orders user keys. The name is persisted in the MANIFEST;
	// reopening with a different comparator name is fatal (§6).
	Comparator dbformat.UserKeyComparer

	// ComparatorName identifies Comparator in the MANIFEST (§6). Defaults
	// to "leveldb.BytewiseComparator"; set this alongside a custom
	// Comparator so a later reopen with a mismatched comparator is caught
	// instead of silently misinterpreting key order.
	ComparatorName string

	// WriteBufferSize is the memtable size, in bytes, that triggers a
	// freeze-and-flush.
	WriteBufferSize uint64

	// BlockSize is the target uncompressed size of a data block. Open
	// fills in the default when it is zero, but flush and compaction build
	// tables with table.DefaultBuilderOptions(), so this value is not used.
	BlockSize int

	// BlockRestartInterval is the number of entries between full-key
	// restart points in a data block. Not used: tables are built with
	// table.DefaultBuilderOptions().
	BlockRestartInterval int

	// BitsPerKey is the Bloom filter density in bits per key. Zero is
	// replaced by the default of 10, so it cannot turn filters off. Not
	// used: tables are built with table.DefaultBuilderOptions().
	BitsPerKey int

	// BlockCacheSize is the sharded LRU block cache capacity, in bytes.
	BlockCacheSize uint64

	// TableCacheSize is the open-SSTable-handle cache capacity, by count.
	TableCacheSize int

	// Compression names a compressor tag (§4.1): 0 none, 1 snappy,
	// 2 zlib-raw, 4 zlib-wrapped, 5 zstd. Not used: tables are built with
	// table.DefaultBuilderOptions(), which stores blocks uncompressed.
	Compression compression.Type

	// L0CompactionTrigger is the L0 file count that schedules a compaction.
	L0CompactionTrigger int

	// L0SlowdownWritesTrigger is the L0 file count past which writes sleep
	// briefly to let compaction catch up.
	L0SlowdownWritesTrigger int

	// L0StopWritesTrigger is the L0 file count past which writes block
	// until compaction reduces L0.
	L0StopWritesTrigger int

	// TargetFileSize is the target size of a compaction output file at L0;
	// level L uses TargetFileSize * TargetFileSizeMultiplier^L.
	TargetFileSize uint64

	// TargetFileSizeMultiplier scales TargetFileSize per level.
	TargetFileSizeMultiplier float64

	// MaxBytesForLevelBase is the target total size of L1.
	MaxBytesForLevelBase uint64

	// MaxBytesForLevelMultiplier scales MaxBytesForLevelBase per level.
	MaxBytesForLevelMultiplier float64

	// Env is the virtual filesystem collaborator. Defaults to the real OS
	// filesystem.
	Env vfs.FS

	// Logger is the logging collaborator. Defaults to a WARN-level logger
	// on stderr. No engine code writes to it: recovery, flush and
	// compaction do not log.
	Logger logging.Logger
}

// DefaultOptions returns the option set described by the spec's defaults:
// 4 KiB blocks, 16-entry restart interval, 4-file L0 compaction trigger,
// 10x per-level size growth.
func DefaultOptions() Options {
	return Options{
		CreateIfMissing:            true,
		Comparator:                 dbformat.BytewiseCompare,
		ComparatorName:             "leveldb.BytewiseComparator",
		WriteBufferSize:            4 * 1024 * 1024,
		BlockSize:                  4 * 1024,
		BlockRestartInterval:       16,
		BitsPerKey:                 10,
		BlockCacheSize:             8 * 1024 * 1024,
		TableCacheSize:             1000,
		Compression:                compression.NoCompression,
		L0CompactionTrigger:        4,
		L0SlowdownWritesTrigger:    8,
		L0StopWritesTrigger:        20,
		TargetFileSize:             64 * 1024 * 1024,
		TargetFileSizeMultiplier:   1.0,
		MaxBytesForLevelBase:       256 * 1024 * 1024,
		MaxBytesForLevelMultiplier: 10.0,
		Env:                        vfs.Default(),
		Logger:                     logging.OrDefault(nil),
	}
}

// WriteOptions controls a single Put/Delete/Write call.
type WriteOptions struct {
	// Sync forces an fsync of the WAL before the call returns.
	Sync bool
}

// ReadOptions controls a single Get or Iterator call.
type ReadOptions struct {
	// Snapshot pins the read to a prior Snapshot, or zero for "now".
	Snapshot *Snapshot
}

func (o *Options) withDefaults() Options {
	d := DefaultOptions()
	if o == nil {
		return d
	}
	out := *o
	if out.Comparator == nil {
		out.Comparator = d.Comparator
	}
	if out.ComparatorName == "" {
		out.ComparatorName = d.ComparatorName
	}
	if out.WriteBufferSize == 0 {
		out.WriteBufferSize = d.WriteBufferSize
	}
	if out.BlockSize == 0 {
		out.BlockSize = d.BlockSize
	}
	if out.BlockRestartInterval == 0 {
		out.BlockRestartInterval = d.BlockRestartInterval
	}
	if out.BlockCacheSize == 0 {
		out.BlockCacheSize = d.BlockCacheSize
	}
	if out.TableCacheSize == 0 {
		out.TableCacheSize = d.TableCacheSize
	}
	if out.L0CompactionTrigger == 0 {
		out.L0CompactionTrigger = d.L0CompactionTrigger
	}
	if out.L0SlowdownWritesTrigger == 0 {
		out.L0SlowdownWritesTrigger = d.L0SlowdownWritesTrigger
	}
	if out.L0StopWritesTrigger == 0 {
		out.L0StopWritesTrigger = d.L0StopWritesTrigger
	}
	if out.TargetFileSize == 0 {
		out.TargetFileSize = d.TargetFileSize
	}
	if out.TargetFileSizeMultiplier == 0 {
		out.TargetFileSizeMultiplier = d.TargetFileSizeMultiplier
	}
	if out.MaxBytesForLevelBase == 0 {
		out.MaxBytesForLevelBase = d.MaxBytesForLevelBase
	}
	if out.MaxBytesForLevelMultiplier == 0 {
		out.MaxBytesForLevelMultiplier = d.MaxBytesForLevelMultiplier
	}
	if out.BitsPerKey == 0 {
		out.BitsPerKey = d.BitsPerKey
	}
	if out.Env == nil {
		out.Env = d.Env
	}
	if out.Logger == nil {
		out.Logger = d.Logger
	}
	return out
}
