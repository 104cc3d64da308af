package db

import (
	"time"

	"github.com/lumenkv/lumenkv/internal/batch"
	"github.com/lumenkv/lumenkv/internal/dbformat"
	"github.com/lumenkv/lumenkv/internal/memtable"
	"github.com/lumenkv/lumenkv/internal/testutil"
)

// Put sets key to value (§6).
func (d *DB) Put(opts *WriteOptions, key, value []byte) error {
	wb := batch.New()
	wb.Put(key, value)
	return d.Write(opts, wb)
}

// Delete removes key (§6). Getting a deleted key returns a nil value, not
// an error (§7's NotFound is not an error at this boundary).
func (d *DB) Delete(opts *WriteOptions, key []byte) error {
	wb := batch.New()
	wb.Delete(key)
	return d.Write(opts, wb)
}

// Write applies every record in wb atomically: they are assigned
// consecutive sequence numbers, appended to the WAL as one record, and
// then applied to the memtable in order (§3, §4.7, §5's "no partial
// application" guarantee).
func (d *DB) Write(opts *WriteOptions, wb *batch.WriteBatch) error {
	if wb.Count() == 0 {
		return nil
	}

	d.mu.Lock()
	if err := d.checkOpen(); err != nil {
		d.mu.Unlock()
		return err
	}

	if err := d.makeRoomForWriteLocked(); err != nil {
		d.mu.Unlock()
		return err
	}

	baseSeq := dbformat.SequenceNumber(d.vset.LastSequence()) + 1
	wb.SetSequence(baseSeq)
	d.vset.SetLastSequence(uint64(baseSeq) + uint64(wb.Count()) - 1)

	testutil.MaybeKill(testutil.KPWALAppend0)

	sync := opts != nil && opts.Sync
	if _, err := d.log.AddRecord(wb.Data()); err != nil {
		d.bgErr = err
		d.mu.Unlock()
		return ioErrorf(err, "append WAL record")
	}
	if sync {
		if err := d.logFile.Sync(); err != nil {
			d.bgErr = err
			d.mu.Unlock()
			return ioErrorf(err, "sync WAL")
		}
	}

	if err := applyBatchToMemtable(d.mem, wb); err != nil {
		d.mu.Unlock()
		return invalidArgf("apply batch: %v", err)
	}

	d.mu.Unlock()
	return nil
}

// makeRoomForWriteLocked waits out L0 write-stop pressure, sleeps through
// L0 write-slowdown pressure, and freezes the memtable once it has grown
// past WriteBufferSize, scheduling a flush for the frozen one (§4.9, §5).
// Caller holds d.mu.
func (d *DB) makeRoomForWriteLocked() error {
	for {
		cur := d.vset.Current()
		l0 := cur.NumFiles(0)

		switch {
		case l0 >= d.opts.L0StopWritesTrigger && d.imm == nil:
			// Nothing is flushing to relieve L0: force one before blocking,
			// rather than stalling forever.
			if err := d.freezeMemtableLocked(); err != nil {
				return err
			}
			d.maybeScheduleBackgroundWorkLocked()
			continue

		case l0 >= d.opts.L0StopWritesTrigger:
			d.mu.Unlock()
			time.Sleep(time.Millisecond)
			d.mu.Lock()
			continue

		case l0 >= d.opts.L0SlowdownWritesTrigger:
			d.mu.Unlock()
			time.Sleep(time.Millisecond)
			d.mu.Lock()

		case d.imm != nil:
			// A flush is already in flight; let it continue rather than
			// piling up a second frozen memtable.
			d.mu.Unlock()
			<-d.bgWorkFinished
			d.mu.Lock()
			continue
		}

		if d.mem.ApproximateMemoryUsage() < int64(d.opts.WriteBufferSize) {
			return nil
		}

		if err := d.freezeMemtableLocked(); err != nil {
			return err
		}
		d.maybeScheduleBackgroundWorkLocked()
	}
}

// freezeMemtableLocked rotates the WAL and moves the current memtable to
// imm, to be drained by the background worker. Caller holds d.mu.
func (d *DB) freezeMemtableLocked() error {
	if d.imm != nil {
		return nil
	}

	if err := d.logFile.Sync(); err != nil {
		return ioErrorf(err, "sync WAL before rotation")
	}
	if err := d.logFile.Close(); err != nil {
		return ioErrorf(err, "close rotated WAL")
	}

	if err := d.openNewLog(); err != nil {
		return err
	}

	d.imm = d.mem
	d.imm.SetNextLogNumber(d.logNum)
	d.mem = memtable.NewMemTable(d.opts.Comparator)
	d.mem.Ref()
	return nil
}

// applyBatchToMemtable replays wb's records into mem at wb's base sequence.
func applyBatchToMemtable(mem *memtable.MemTable, wb *batch.WriteBatch) error {
	h := &memtableHandler{mem: mem, seq: wb.Sequence()}
	return wb.Iterate(h)
}

type memtableHandler struct {
	mem *memtable.MemTable
	seq dbformat.SequenceNumber
}

func (h *memtableHandler) Put(key, value []byte) error {
	h.mem.Add(h.seq, dbformat.TypeValue, key, value)
	h.seq++
	return nil
}

func (h *memtableHandler) Delete(key []byte) error {
	h.mem.Add(h.seq, dbformat.TypeDeletion, key, nil)
	h.seq++
	return nil
}
