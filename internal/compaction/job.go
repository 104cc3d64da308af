// job.go implements CompactionJob: reads every input file through an
// N-way merge, drops entries made obsolete by a newer sequence number
// among the inputs, and writes the surviving entries out to new SST files
// on the output level (§4.9).
package compaction

import (
	"fmt"
	"path/filepath"

	"github.com/lumenkv/lumenkv/internal/dbformat"
	"github.com/lumenkv/lumenkv/internal/iterator"
	"github.com/lumenkv/lumenkv/internal/manifest"
	"github.com/lumenkv/lumenkv/internal/table"
	"github.com/lumenkv/lumenkv/internal/testutil"
	"github.com/lumenkv/lumenkv/internal/vfs"
)

// CompactionJob performs a single compaction operation.
// It reads from input files, merges them, and writes to new output files.
type CompactionJob struct {
	compaction *Compaction
	dbPath     string
	fs         vfs.FS
	tableCache *table.TableCache

	// File number generator
	nextFileNum func() uint64

	// Output files created by this job
	outputFiles []*manifest.FileMetaData

	// Earliest snapshot sequence number still visible to a reader; entries
	// superseded by a newer version at or below this sequence are dropped.
	earliestSnapshot dbformat.SequenceNumber

	// userCompare orders user keys for the merging iterator and the
	// same-key grouping in processEntries; nil means bytewise order.
	userCompare dbformat.UserKeyComparer
}

// NewCompactionJob creates a new compaction job.
func NewCompactionJob(
	c *Compaction,
	dbPath string,
	fs vfs.FS,
	tableCache *table.TableCache,
	nextFileNum func() uint64,
) *CompactionJob {
	return NewCompactionJobWithSnapshot(c, dbPath, fs, tableCache, nextFileNum, 0, nil)
}

// NewCompactionJobWithSnapshot creates a new compaction job with an earliest
// snapshot sequence number, below which superseded entries are dropped, and
// the comparator used to order keys for merging and grouping.
func NewCompactionJobWithSnapshot(
	c *Compaction,
	dbPath string,
	fs vfs.FS,
	tableCache *table.TableCache,
	nextFileNum func() uint64,
	earliestSnapshot dbformat.SequenceNumber,
	userCompare dbformat.UserKeyComparer,
) *CompactionJob {
	return &CompactionJob{
		compaction:       c,
		dbPath:           dbPath,
		fs:               fs,
		tableCache:       tableCache,
		nextFileNum:      nextFileNum,
		earliestSnapshot: earliestSnapshot,
		userCompare:      userCompare,
	}
}

// Run executes the compaction.
// Returns the list of output files created.
func (j *CompactionJob) Run() ([]*manifest.FileMetaData, error) {
	// Whitebox [synctest]: barrier at compaction job start
	_ = testutil.SP(testutil.SPCompactionStart)

	// Check for trivial move
	if j.compaction.IsTrivialMove {
		return j.doTrivialMove()
	}

	// Whitebox [synctest]: barrier before opening input files
	_ = testutil.SP(testutil.SPCompactionOpenInputs)

	// Create iterators for all input files
	iters, err := j.createInputIterators()
	if err != nil {
		return nil, fmt.Errorf("create input iterators: %w", err)
	}

	// Create merging iterator, ordered by the same comparator the rest of
	// the database uses so compaction output agrees with lookups (§6).
	ikCmp := dbformat.NewInternalKeyComparator(j.userCompare)
	mergingIter := iterator.NewMergingIterator(iters, ikCmp.Compare)

	// Whitebox [synctest]: barrier during entry processing
	_ = testutil.SP(testutil.SPCompactionProcessing)

	// Process all entries
	err = j.processEntries(mergingIter)
	if err != nil {
		return nil, fmt.Errorf("process entries: %w", err)
	}

	// Whitebox [synctest]: barrier at compaction job complete
	_ = testutil.SP(testutil.SPCompactionComplete)

	return j.outputFiles, nil
}

// doTrivialMove handles trivial move compactions (just update metadata).
func (j *CompactionJob) doTrivialMove() ([]*manifest.FileMetaData, error) {
	// For trivial move, we just update the level in the edit
	// The file itself doesn't need to be rewritten
	for _, input := range j.compaction.Inputs {
		for _, f := range input.Files {
			// Add the file to the output level
			outputMeta := manifest.NewFileMetaData()
			outputMeta.FD = f.FD
			outputMeta.Smallest = f.Smallest
			outputMeta.Largest = f.Largest
			j.compaction.Edit.AddFile(j.compaction.OutputLevel, outputMeta)

			// Delete from the input level
			j.compaction.Edit.DeleteFile(input.Level, f.FD.Number)
		}
	}
	return nil, nil
}

// createInputIterators creates iterators for all input files.
func (j *CompactionJob) createInputIterators() ([]iterator.Iterator, error) {
	var iters []iterator.Iterator
	var openedFiles []uint64 // Track opened files for cleanup on error

	for _, input := range j.compaction.Inputs {
		for _, f := range input.Files {
			// Construct the file path
			filePath := j.sstPath(f.FD.Number)

			// Verify file exists before opening
			if !j.fs.Exists(filePath) {
				// Clean up already opened files
				for _, fileNum := range openedFiles {
					j.tableCache.Release(fileNum)
				}
				return nil, fmt.Errorf("input file %d does not exist: %s", f.FD.Number, filePath)
			}

			reader, err := j.tableCache.Get(f.FD.Number, filePath)
			if err != nil {
				// Clean up already opened files
				for _, fileNum := range openedFiles {
					j.tableCache.Release(fileNum)
				}
				return nil, fmt.Errorf("get table reader %d: %w", f.FD.Number, err)
			}
			openedFiles = append(openedFiles, f.FD.Number)

			// Wrap the table iterator
			iters = append(iters, &tableIteratorWrapper{
				iter:       reader.NewIterator(),
				fileNumber: f.FD.Number,
			})
		}
	}

	return iters, nil
}

// sstPath returns the path to an SST file.
func (j *CompactionJob) sstPath(fileNum uint64) string {
	return filepath.Join(j.dbPath, fmt.Sprintf("%06d.sst", fileNum))
}

// isBaseLevelForKey reports whether dropping a deletion/superseded entry at
// this compaction's output level is safe: no lower level (further from L0)
// can contain an older version of the same user key that would reappear.
func (j *CompactionJob) isBottommostOutput() bool {
	for _, in := range j.compaction.Inputs {
		if in.Level > j.compaction.OutputLevel {
			return false
		}
	}
	return true
}

// processEntries iterates through all entries and writes them to output files.
// It drops superseded versions of a user key (all but the newest at or
// above the earliest live snapshot) and, when this compaction reaches the
// bottommost level touched by its inputs, drops deletion tombstones whose
// sequence number is no longer needed by any snapshot.
func (j *CompactionJob) processEntries(iter *iterator.MergingIterator) error {
	var builder *table.TableBuilder
	var currentFile *compactionOutputFile
	var err error

	bottommost := j.isBottommostOutput()
	userCompare := j.userCompare
	if userCompare == nil {
		userCompare = dbformat.BytewiseCompare
	}
	var lastUserKey []byte
	haveLastUserKey := false
	// lastSeqForKey is the sequence number of the last entry emitted (or
	// dropped) for the current user key; reset to MaxSequenceNumber at
	// each new key so its first version is never mistaken for a
	// superseded one. Mirrors LevelDB's IsBaseLevelForKey loop.
	lastSeqForKey := dbformat.MaxSequenceNumber

	iter.SeekToFirst()

	for iter.Valid() {
		key := iter.Key()
		value := iter.Value()

		userKey := dbformat.ExtractUserKey(key)
		seq := dbformat.ExtractSequenceNumber(key)
		typ := dbformat.ExtractValueType(key)

		sameUserKey := haveLastUserKey && userCompare(userKey, lastUserKey) == 0
		if !sameUserKey {
			lastSeqForKey = dbformat.MaxSequenceNumber
		}
		lastUserKey = append(lastUserKey[:0], userKey...)
		haveLastUserKey = true

		// A version of a key still visible to some outstanding snapshot
		// must be kept; everything else superseding it can be dropped.
		// The drop decision is gated on the sequence of the previously
		// emitted version of this key, not this entry's own sequence:
		// the newest version is always kept regardless of how small its
		// own sequence number is.
		drop := false
		if sameUserKey && lastSeqForKey <= j.earliestSnapshot {
			drop = true
		} else if bottommost && typ == dbformat.TypeDeletion && seq <= j.earliestSnapshot {
			// Reached only when this entry is the newest surviving
			// version of its key (the branch above didn't fire). If it's
			// a tombstone no live snapshot can still observe and this
			// compaction is bottommost, nothing below can resurrect an
			// older version it was masking, so it can be dropped too.
			drop = true
		}

		lastSeqForKey = seq

		if drop {
			iter.Next()
			continue
		}

		// Start a new output file for the first kept entry, or once the
		// current file has reached MaxOutputFileSize. Files are only cut
		// between user keys, so all versions of a key share one file.
		if builder == nil || (!sameUserKey && j.shouldFinishFile(currentFile, builder)) {
			// Finish current file if any
			if builder != nil {
				err = j.finishOutputFile(builder, currentFile)
				if err != nil {
					return err
				}
			}

			// Start new file
			currentFile, builder, err = j.startOutputFile()
			if err != nil {
				return err
			}
		}

		// Add the key-value pair
		builder.Add(key, value)
		if err := builder.Status(); err != nil {
			return fmt.Errorf("add to builder: %w", err)
		}

		// Track key range
		if currentFile.smallest == nil {
			currentFile.smallest = append([]byte{}, key...)
		}
		currentFile.largest = append(currentFile.largest[:0], key...)

		iter.Next()
	}

	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}

	// Finish the last file
	if builder != nil {
		err = j.finishOutputFile(builder, currentFile)
		if err != nil {
			return err
		}
	}

	return nil
}

type compactionOutputFile struct {
	fileNumber uint64
	file       vfs.WritableFile
	path       string
	smallest   []byte
	largest    []byte
}

// startOutputFile creates a new output file.
func (j *CompactionJob) startOutputFile() (*compactionOutputFile, *table.TableBuilder, error) {
	fileNum := j.nextFileNum()
	fileName := fmt.Sprintf("%06d.sst", fileNum)
	filePath := filepath.Join(j.dbPath, fileName)

	file, err := j.fs.Create(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("create file %s: %w", filePath, err)
	}

	opts := table.DefaultBuilderOptions()
	builder := table.NewTableBuilder(file, opts)

	output := &compactionOutputFile{
		fileNumber: fileNum,
		file:       file,
		path:       filePath,
	}

	return output, builder, nil
}

// finishOutputFile completes an output file and records its metadata.
func (j *CompactionJob) finishOutputFile(builder *table.TableBuilder, output *compactionOutputFile) error {
	err := builder.Finish()
	if err != nil {
		_ = output.file.Close()
		return fmt.Errorf("finish builder: %w", err)
	}

	fileSize := builder.FileSize()

	err = output.file.Sync()
	if err != nil {
		_ = output.file.Close()
		return fmt.Errorf("sync file: %w", err)
	}

	err = output.file.Close()
	if err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	// Sync directory to make SST file entry durable.
	// This is required before updating MANIFEST to reference this SST.
	// Without this, a crash could leave MANIFEST referencing a non-existent SST.
	if err := j.fs.SyncDir(j.dbPath); err != nil {
		return fmt.Errorf("sync directory after compaction SST write: %w", err)
	}

	// Record the output file metadata
	fileMeta := manifest.NewFileMetaData()
	fileMeta.FD = manifest.FileDescriptor{
		Number:   output.fileNumber,
		FileSize: fileSize,
	}
	fileMeta.Smallest = output.smallest
	fileMeta.Largest = output.largest

	j.outputFiles = append(j.outputFiles, fileMeta)

	// Add to the edit
	j.compaction.Edit.AddFile(j.compaction.OutputLevel, fileMeta)

	return nil
}

// shouldFinishFile returns true if we should start a new output file: the
// current one has reached the compaction's MaxOutputFileSize.
func (j *CompactionJob) shouldFinishFile(current *compactionOutputFile, builder *table.TableBuilder) bool {
	if current == nil || builder == nil {
		return true
	}
	limit := j.compaction.MaxOutputFileSize
	return limit > 0 && builder.EstimatedSize() >= limit
}

// tableIteratorWrapper wraps a table.TableIterator to implement iterator.Iterator.
type tableIteratorWrapper struct {
	iter       *table.TableIterator
	fileNumber uint64
}

func (w *tableIteratorWrapper) Valid() bool {
	return w.iter.Valid()
}

func (w *tableIteratorWrapper) Key() []byte {
	return w.iter.Key()
}

func (w *tableIteratorWrapper) Value() []byte {
	return w.iter.Value()
}

func (w *tableIteratorWrapper) SeekToFirst() {
	w.iter.SeekToFirst()
}

func (w *tableIteratorWrapper) SeekToLast() {
	w.iter.SeekToLast()
}

func (w *tableIteratorWrapper) Seek(target []byte) {
	w.iter.Seek(target)
}

func (w *tableIteratorWrapper) Next() {
	w.iter.Next()
}

func (w *tableIteratorWrapper) Prev() {
	w.iter.Prev()
}

func (w *tableIteratorWrapper) Error() error {
	return w.iter.Error()
}
