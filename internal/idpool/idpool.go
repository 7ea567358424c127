// Package idpool hands out reusable positive integer cave IDs. Tombstoned
// submissions return their ID to the pool so a long-running echo cave
// doesn't monotonically exhaust int64 space under heavy rejection traffic.
package idpool

import (
	"container/heap"
	"sync"
)

// Pool is a process-wide allocator: Allocate serializes so two concurrent
// ingests never receive the same ID (spec.md §5: "serialize allocation so
// two submissions never receive the same ID").
type Pool struct {
	mu    sync.Mutex
	next  int64
	free  minHeap
	taken map[int64]bool
}

// New creates a pool that starts allocating from start (exclusive of any
// IDs already in use, which the caller should seed via Reserve on
// startup when recovering from an existing database).
func New(start int64) *Pool {
	p := &Pool{next: start, taken: make(map[int64]bool)}
	heap.Init(&p.free)
	return p
}

// Reserve marks id as already in use so Allocate never hands it out. Used
// at startup to seed the pool from existing non-delete cave rows.
func (p *Pool) Reserve(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.taken[id] = true
	if id >= p.next {
		p.next = id + 1
	}
}

// Allocate returns the lowest available ID: a recycled one if the free
// heap is non-empty, otherwise the next monotonic sequence value.
func (p *Pool) Allocate() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.free.Len() > 0 {
		id := heap.Pop(&p.free).(int64)
		p.taken[id] = true
		return id
	}

	id := p.next
	p.next++
	p.taken[id] = true
	return id
}

// Seed harvests id straight into the recyclable free heap without marking
// it taken, advancing next past it the same way Reserve does. Used at
// startup to fold already-tombstoned (delete-status) rows back into the
// reusable-ID pool, per spec.md §4.7's tombstoning-runs-the-recycling-sweep
// invariant — unlike Release, it does not require a prior Reserve/Allocate
// to have marked id taken.
func (p *Pool) Seed(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	heap.Push(&p.free, id)
	if id >= p.next {
		p.next = id + 1
	}
}

// Release returns id to the pool so a future Allocate can reuse it. Called
// by the tombstone sweep when a submission's status becomes delete.
func (p *Pool) Release(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.taken[id] {
		return
	}
	delete(p.taken, id)
	heap.Push(&p.free, id)
}

type minHeap []int64

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(int64)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
