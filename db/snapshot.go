package db

import (
	"container/list"
	"sync"

	"github.com/lumenkv/lumenkv/internal/dbformat"
)

// Snapshot pins a sequence number so reads through it never observe writes
// committed afterward (§3, §8 property 4). Release must be called exactly
// once; an unreleased snapshot keeps its sequence's superseded versions
// alive across compaction forever.
type Snapshot struct {
	seq  dbformat.SequenceNumber
	elem *list.Element
}

// Sequence returns the pinned sequence number.
func (s *Snapshot) Sequence() dbformat.SequenceNumber {
	return s.seq
}

// GetSnapshot captures the database's current sequence number: reads made
// through it will never observe a write committed after this call (§3).
func (d *DB) GetSnapshot() *Snapshot {
	d.mu.Lock()
	seq := dbformat.SequenceNumber(d.vset.LastSequence())
	d.mu.Unlock()
	return d.snapshots.acquire(seq)
}

// ReleaseSnapshot releases a snapshot acquired via GetSnapshot, allowing
// compaction to drop superseded versions it was pinning. Releasing the
// same Snapshot twice is a no-op.
func (d *DB) ReleaseSnapshot(s *Snapshot) {
	d.snapshots.release(s)
}

// snapshotList is a registry of live snapshots ordered by sequence number,
// so the compactor can cheaply find the oldest one still pinning data
// (§4.9's earliestSnapshot input to CompactionJob).
type snapshotList struct {
	mu   sync.Mutex
	list *list.List
}

func newSnapshotList() *snapshotList {
	return &snapshotList{list: list.New()}
}

func (sl *snapshotList) acquire(seq dbformat.SequenceNumber) *Snapshot {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	s := &Snapshot{seq: seq}
	s.elem = sl.list.PushBack(s)
	return s
}

func (sl *snapshotList) release(s *Snapshot) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if s.elem != nil {
		sl.list.Remove(s.elem)
		s.elem = nil
	}
}

// oldest returns the smallest pinned sequence number, or curSeq if no
// snapshot is currently registered (i.e. nothing older than "now" needs
// protecting).
func (sl *snapshotList) oldest(curSeq dbformat.SequenceNumber) dbformat.SequenceNumber {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.list.Len() == 0 {
		return curSeq
	}
	return sl.list.Front().Value.(*Snapshot).seq
}
