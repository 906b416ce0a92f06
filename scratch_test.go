package cryptdev

import (
	"testing"
	"time"
)

type scratchRecord struct {
	used bool
}

func TestScratchPoolBlocksWhenExhausted(t *testing.T) {
	pool := NewScratchPool(2,
		func() *scratchRecord { return &scratchRecord{} },
		func(r *scratchRecord) { r.used = false },
	)

	a := pool.Get()
	a.used = true
	b := pool.Get()
	if pool.InUse() != 2 {
		t.Fatalf("InUse() = %d, want 2", pool.InUse())
	}

	got := make(chan *scratchRecord)
	go func() { got <- pool.Get() }()

	select {
	case <-got:
		t.Fatal("Get() returned while the pool was exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Put(a)
	select {
	case rec := <-got:
		if rec.used {
			t.Error("record was not reset on Put")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Get() did not resume after Put")
	}

	pool.Put(b)
	if pool.InUse() != 1 {
		t.Errorf("InUse() = %d, want 1", pool.InUse())
	}
}

func TestScratchPoolDefaultCapacity(t *testing.T) {
	pool := NewScratchPool(0, func() *scratchRecord { return &scratchRecord{} }, nil)

	recs := make([]*scratchRecord, DefaultScratchRecords)
	for i := range recs {
		recs[i] = pool.Get()
	}
	if pool.InUse() != DefaultScratchRecords {
		t.Errorf("InUse() = %d, want %d", pool.InUse(), DefaultScratchRecords)
	}
	for _, r := range recs {
		pool.Put(r)
	}
	if pool.InUse() != 0 {
		t.Errorf("InUse() = %d after returning all records", pool.InUse())
	}
}
