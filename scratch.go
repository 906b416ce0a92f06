package cryptdev

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ScratchPool is a bounded pool of reusable records. Get blocks while all
// records are in use and never fails.
type ScratchPool[T any] struct {
	sem   *semaphore.Weighted
	pool  sync.Pool
	reset func(T)
	inUse atomic.Int64
}

// NewScratchPool creates a pool of at most capacity live records
func NewScratchPool[T any](capacity int, newRecord func() T, reset func(T)) *ScratchPool[T] {
	if capacity <= 0 {
		capacity = DefaultScratchRecords
	}
	p := &ScratchPool[T]{
		sem:   semaphore.NewWeighted(int64(capacity)),
		reset: reset,
	}
	p.pool.New = func() any { return newRecord() }
	return p
}

// Get acquires a record, waiting for a Put if the pool is exhausted
func (p *ScratchPool[T]) Get() T {
	// Acquire only fails on context cancellation
	_ = p.sem.Acquire(context.Background(), 1)
	p.inUse.Add(1)
	return p.pool.Get().(T)
}

// Put returns a record for reuse
func (p *ScratchPool[T]) Put(rec T) {
	if p.reset != nil {
		p.reset(rec)
	}
	p.pool.Put(rec)
	p.inUse.Add(-1)
	p.sem.Release(1)
}

// InUse returns the number of records currently acquired
func (p *ScratchPool[T]) InUse() int {
	return int(p.inUse.Load())
}
