package batch

import "testing"

func TestPoolGetReturnsEmptyBatch(t *testing.T) {
	p := NewPool()
	wb := p.Get()
	if wb.Count() != 0 {
		t.Errorf("Get() batch Count() = %d, want 0", wb.Count())
	}
}

func TestPoolGetAfterPutIsCleared(t *testing.T) {
	p := NewPool()
	wb := p.Get()
	wb.Put([]byte("k"), []byte("v"))
	p.Put(wb)

	reused := p.Get()
	if reused.Count() != 0 {
		t.Errorf("reused batch Count() = %d, want 0 (Put/Get must clear it)", reused.Count())
	}
}

func TestPoolPutNilIsNoop(t *testing.T) {
	p := NewPool()
	p.Put(nil) // must not panic
}

func TestPoolDropsOversizedBatch(t *testing.T) {
	p := NewPool()
	wb := New()
	// Grow the backing array past the pooling threshold.
	wb.Put(make([]byte, maxPooledBatchSize+1), nil)

	oversizedCap := cap(wb.data)
	if oversizedCap <= maxPooledBatchSize {
		t.Fatalf("test setup failed to grow batch past the pooling threshold: cap=%d", oversizedCap)
	}

	p.Put(wb)

	// The oversized batch should have been dropped, not recycled; a
	// fresh Get() should not return it (its capacity would still be huge).
	got := p.Get()
	if cap(got.Data()) > maxPooledBatchSize {
		t.Error("Get() returned the oversized batch that Put() should have dropped")
	}
}

func TestGlobalPoolReturnsSharedInstance(t *testing.T) {
	if GlobalPool() != GlobalPool() {
		t.Error("GlobalPool() should return the same *Pool across calls")
	}
}
