package db

import (
	"fmt"

	"github.com/lumenkv/lumenkv/internal/compaction"
	"github.com/lumenkv/lumenkv/internal/dbformat"
	"github.com/lumenkv/lumenkv/internal/manifest"
	"github.com/lumenkv/lumenkv/internal/version"
)

// Flush forces the active memtable out to an L0 SST file and waits for the
// write to land, even if WriteBufferSize hasn't been reached yet.
func (d *DB) Flush() error {
	d.mu.Lock()
	if err := d.checkOpen(); err != nil {
		d.mu.Unlock()
		return err
	}

	for d.imm != nil {
		d.mu.Unlock()
		<-d.bgWorkFinished
		d.mu.Lock()
		if err := d.checkOpen(); err != nil {
			d.mu.Unlock()
			return err
		}
	}

	if d.mem.Empty() {
		d.mu.Unlock()
		return nil
	}

	if err := d.freezeMemtableLocked(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.maybeScheduleBackgroundWorkLocked()
	finished := d.bgWorkFinished
	d.mu.Unlock()

	<-finished

	d.mu.Lock()
	err := d.bgErr
	d.mu.Unlock()
	return err
}

// CompactRange forces every key in [begin, end] (nil on either end means
// unbounded) down through the level hierarchy, level by level from L0 to the
// second-to-last level, compacting it with the next level's overlapping
// files along the way (§6, §12). A nil begin and nil end compacts
// everything.
func (d *DB) CompactRange(begin, end []byte) error {
	if err := d.Flush(); err != nil {
		return err
	}

	d.mu.Lock()
	if err := d.checkOpen(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()

	for level := 0; level < version.MaxNumLevels-1; level++ {
		if err := d.compactRangeAtLevel(level, begin, end); err != nil {
			return err
		}
	}
	return nil
}

// compactRangeAtLevel runs a single manual compaction covering every file at
// level that overlaps [begin, end], merged with whatever overlaps it finds
// one level down. Caller holds no lock.
func (d *DB) compactRangeAtLevel(level int, begin, end []byte) error {
	d.mu.Lock()
	if err := d.checkOpen(); err != nil {
		d.mu.Unlock()
		return err
	}

	v := d.vset.Current()
	files := v.Files(level)
	if len(files) == 0 {
		d.mu.Unlock()
		return nil
	}

	overlapping := filesInUserKeyRange(files, begin, end, d.opts.Comparator)
	if len(overlapping) == 0 {
		d.mu.Unlock()
		return nil
	}

	smallestKey, largestKey := overlapping[0].Smallest, overlapping[0].Largest
	for _, f := range overlapping[1:] {
		if dbformat.CompareInternalKeys(f.Smallest, smallestKey) < 0 {
			smallestKey = f.Smallest
		}
		if dbformat.CompareInternalKeys(f.Largest, largestKey) > 0 {
			largestKey = f.Largest
		}
	}

	outputLevel := level + 1
	inputs := []*compaction.CompactionInputFiles{{Level: level, Files: overlapping}}
	if nextLevelFiles := v.OverlappingInputs(outputLevel, smallestKey, largestKey); len(nextLevelFiles) > 0 {
		inputs = append(inputs, &compaction.CompactionInputFiles{Level: outputLevel, Files: nextLevelFiles})
	}

	c := compaction.NewCompaction(inputs, outputLevel)
	c.Reason = compaction.CompactionReasonManualCompaction
	c.MaxOutputFileSize = targetFileSizeForLevel(d.picker, outputLevel)
	c.MarkFilesBeingCompacted(true)

	err := d.runCompactionLocked(c)
	c.MarkFilesBeingCompacted(false)
	d.mu.Unlock()

	if err != nil {
		return fmt.Errorf("compact range at level %d: %w", level, err)
	}
	return nil
}

// targetFileSizeForLevel mirrors the picker's own per-level file size
// target, which isn't exported.
func targetFileSizeForLevel(p *compaction.LeveledCompactionPicker, level int) uint64 {
	size := p.TargetFileSizeBase
	for i := 0; i < level; i++ {
		size = uint64(float64(size) * p.TargetFileSizeMulti)
	}
	return size
}

// filesInUserKeyRange returns the files at a single level whose range
// overlaps the user-key range [begin, end] (either bound nil for
// unbounded), skipping files already mid-compaction.
func filesInUserKeyRange(files []*manifest.FileMetaData, begin, end []byte, cmp dbformat.UserKeyComparer) []*manifest.FileMetaData {
	var out []*manifest.FileMetaData
	for _, f := range files {
		if f.BeingCompacted {
			continue
		}
		if begin != nil && cmp(dbformat.ExtractUserKey(f.Largest), begin) < 0 {
			continue
		}
		if end != nil && cmp(dbformat.ExtractUserKey(f.Smallest), end) > 0 {
			continue
		}
		out = append(out, f)
	}
	return out
}
