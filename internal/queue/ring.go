// Package queue provides a bounded, thread-safe FIFO that drops its oldest
// item when full.
package queue

import (
	"sync"
)

// Ring is a fixed-capacity circular buffer. Push never blocks: when the
// ring is full the oldest item is overwritten and counted as dropped.
type Ring[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	// Stats
	totalPushed  int64
	totalPopped  int64
	totalDropped int64
}

// Stats contains ring statistics.
type Stats struct {
	Count        int   `json:"count"`
	Capacity     int   `json:"capacity"`
	TotalPushed  int64 `json:"total_pushed"`
	TotalPopped  int64 `json:"total_popped"`
	TotalDropped int64 `json:"total_dropped"`
}

// NewRing creates a ring holding at most capacity items.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	r := &Ring[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Push appends item. It reports whether an older item was evicted to make
// room. Push on a closed ring is a no-op and returns false.
func (r *Ring[T]) Push(item T) (dropped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	if r.count == r.capacity {
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % r.capacity
		r.count--
		r.totalDropped++
		dropped = true
	}

	r.buf[r.tail] = item
	r.tail = (r.tail + 1) % r.capacity
	r.count++
	r.totalPushed++

	r.cond.Signal()
	return dropped
}

// Pop removes and returns the oldest item, blocking until one is available
// or the ring is closed. It returns false once the ring is closed and empty.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count == 0 && !r.closed {
		r.cond.Wait()
	}
	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.popLocked(), true
}

// TryPop removes and returns the oldest item without blocking.
func (r *Ring[T]) TryPop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.popLocked(), true
}

// Drain removes up to max items (all of them if max <= 0) in FIFO order.
func (r *Ring[T]) Drain(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil
	}

	n := r.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	for i := range out {
		out[i] = r.popLocked()
	}
	return out
}

// Close wakes blocked readers. Remaining items can still be popped.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.cond.Broadcast()
}

// Len returns the number of queued items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Stats returns ring statistics.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Count:        r.count,
		Capacity:     r.capacity,
		TotalPushed:  r.totalPushed,
		TotalPopped:  r.totalPopped,
		TotalDropped: r.totalDropped,
	}
}

// popLocked removes the head item. Must be called with lock held and
// count > 0.
func (r *Ring[T]) popLocked() T {
	item := r.buf[r.head]
	var zero T
	r.buf[r.head] = zero // Clear reference for GC
	r.head = (r.head + 1) % r.capacity
	r.count--
	r.totalPopped++
	return item
}
