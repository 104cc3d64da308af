package batch

import "sync"

// Pool recycles WriteBatch buffers across the write path so a steady
// stream of small batches doesn't generate one GC-tracked allocation per
// write (§1 ambient performance concern; §4.7).
type Pool struct {
	pool sync.Pool
}

// maxPooledBatchSize bounds how large a batch's backing array can be and
// still be worth retaining; larger ones are let go so one big batch
// doesn't inflate the pool's steady-state footprint.
const maxPooledBatchSize = 4 * 1024 * 1024

// NewPool creates an empty WriteBatch pool.
func NewPool() *Pool {
	return &Pool{pool: sync.Pool{New: func() any { return New() }}}
}

// Get returns a cleared WriteBatch, reused from the pool when available.
func (p *Pool) Get() *WriteBatch {
	wb, _ := p.pool.Get().(*WriteBatch)
	if wb == nil {
		wb = New()
	}
	wb.Clear()
	return wb
}

// Put returns wb to the pool. Oversized batches are dropped instead of
// pooled.
func (p *Pool) Put(wb *WriteBatch) {
	if wb == nil || cap(wb.data) > maxPooledBatchSize {
		return
	}
	wb.Clear()
	p.pool.Put(wb)
}

var defaultPool = NewPool()

// GlobalPool returns the package-wide default WriteBatch pool.
func GlobalPool() *Pool { return defaultPool }
