package db

import (
	"fmt"

	"github.com/lumenkv/lumenkv/internal/compaction"
	"github.com/lumenkv/lumenkv/internal/dbformat"
	"github.com/lumenkv/lumenkv/internal/flush"
	"github.com/lumenkv/lumenkv/internal/manifest"
	"github.com/lumenkv/lumenkv/internal/testutil"
)

// startBackgroundWorker launches the single goroutine that drains d.imm and
// runs compactions on behalf of this DB. One worker per DB handle is enough:
// all background work is already serialized through d.mu, and the worker
// just keeps looping while there's something to do (§4.9, §5).
func (d *DB) startBackgroundWorker() {
	d.bgWorkCh = make(chan struct{}, 1)
	go d.backgroundLoop()
}

// backgroundLoop waits for a wakeup and runs a round of background work each
// time one arrives, until the channel is closed at Close.
func (d *DB) backgroundLoop() {
	for range d.bgWorkCh {
		_ = testutil.SP(testutil.SPBGLoopIteration)
		d.backgroundCall()
	}
}

// maybeScheduleBackgroundWorkLocked wakes the worker if there is work to do
// and it is not already running. Caller holds d.mu.
func (d *DB) maybeScheduleBackgroundWorkLocked() {
	if d.closed || d.bgScheduled {
		return
	}
	if d.imm == nil && !d.picker.NeedsCompaction(d.vset.Current()) {
		return
	}
	d.bgScheduled = true
	d.bgWorkFinished = make(chan struct{})
	select {
	case d.bgWorkCh <- struct{}{}:
	default:
	}
}

// backgroundCall runs one round of background work and wakes anyone waiting
// on bgWorkFinished or d.cond, then reschedules itself if more work piled up
// meanwhile (e.g. a flush produced an L0 file that now needs compacting).
func (d *DB) backgroundCall() {
	d.mu.Lock()
	if !d.closed && d.bgErr == nil {
		if err := d.backgroundWorkLocked(); err != nil {
			d.bgErr = err
		}
	}
	d.bgScheduled = false
	finished := d.bgWorkFinished
	close(finished)
	d.cond.Broadcast()

	if !d.closed && d.bgErr == nil {
		d.maybeScheduleBackgroundWorkLocked()
	}
	d.mu.Unlock()
}

// backgroundWorkLocked drains the frozen memtable (if any) and then runs
// compactions until the picker reports none outstanding. Caller holds d.mu;
// the lock is dropped while a flush or compaction job is actually running
// I/O and retaken only to select inputs and install results (§5).
func (d *DB) backgroundWorkLocked() error {
	for {
		if d.imm != nil {
			if err := d.flushImmLocked(); err != nil {
				return err
			}
			continue
		}

		v := d.vset.Current()
		if !d.picker.NeedsCompaction(v) {
			return nil
		}

		c := d.picker.PickCompaction(v)
		if c == nil {
			return nil
		}
		c.MarkFilesBeingCompacted(true)

		err := d.runCompactionLocked(c)
		c.MarkFilesBeingCompacted(false)
		if err != nil {
			return err
		}
	}
}

// flushImmLocked writes d.imm out to a new L0 SST and installs it via a
// VersionEdit. Caller holds d.mu.
func (d *DB) flushImmLocked() error {
	imm := d.imm
	immLogNum := imm.NextLogNumber()

	d.mu.Unlock()
	job := flush.NewJob(d, imm)
	meta, err := job.Run()
	d.mu.Lock()

	if err == flush.ErrNoOutput {
		d.imm.Unref()
		d.imm = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("flush memtable: %w", err)
	}

	testutil.MaybeKill(testutil.KPFlushUpdateManifest0)

	edit := manifest.NewVersionEdit()
	edit.SetLogNumber(immLogNum)
	edit.AddFile(0, meta)

	if err := d.vset.LogAndApply(edit); err != nil {
		return fmt.Errorf("install flushed file: %w", err)
	}

	testutil.MaybeKill(testutil.KPFlushUpdateManifest1)

	d.imm.Unref()
	d.imm = nil
	return nil
}

// runCompactionLocked runs a single compaction job and installs its result.
// Caller holds d.mu.
func (d *DB) runCompactionLocked(c *compaction.Compaction) error {
	earliest := d.snapshots.oldest(dbformat.SequenceNumber(d.vset.LastSequence()))

	d.mu.Unlock()
	job := compaction.NewCompactionJobWithSnapshot(c, d.path, d.opts.Env, d.tableCache, d.vset.NextFileNumber, earliest, d.opts.Comparator)
	_, err := job.Run()
	d.mu.Lock()

	if err != nil {
		return fmt.Errorf("run compaction: %w", err)
	}

	if !c.IsTrivialMove {
		c.AddInputDeletions()
	}

	if err := d.vset.LogAndApply(c.Edit); err != nil {
		return fmt.Errorf("install compaction result: %w", err)
	}

	for _, input := range c.Inputs {
		for _, f := range input.Files {
			d.tableCache.Evict(f.FD.Number)
		}
	}
	return nil
}
