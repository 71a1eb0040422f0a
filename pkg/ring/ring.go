// Package ring provides the bounded sample buffers sitting between the
// device adapter and the DSP pipelines. Single producer, single consumer,
// overwrite-on-full.
package ring

import "sync"

// Ring is a fixed-capacity circular buffer of samples. The producer pushes,
// the consumer takes cursor-based snapshots; when full, the oldest sample is
// overwritten and the drop counter advances.
type Ring[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    uint64 // absolute index of the next write
	dropped uint64
}

func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, 0, capacity)}
}

func (r *Ring[T]) Capacity() int { return cap(r.buf) }

// Push appends one sample, overwriting the oldest when full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	if len(r.buf) < cap(r.buf) {
		r.buf = append(r.buf, v)
	} else {
		r.buf[r.head%uint64(cap(r.buf))] = v
		r.dropped++
	}
	r.head++
	r.mu.Unlock()
}

// PushBatch pushes a decoded batch in order.
func (r *Ring[T]) PushBatch(vs []T) {
	for _, v := range vs {
		r.Push(v)
	}
}

// SnapshotSince returns a contiguous copy of every sample written at or
// after cursor, the cursor for the next call, and how many samples were
// overwritten before the consumer could see them.
func (r *Ring[T]) SnapshotSince(cursor uint64) ([]T, uint64, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cursor > r.head {
		cursor = r.head
	}
	oldest := uint64(0)
	if r.head > uint64(cap(r.buf)) {
		oldest = r.head - uint64(cap(r.buf))
	}
	var droppedDelta uint64
	if cursor < oldest {
		droppedDelta = oldest - cursor
		cursor = oldest
	}

	n := r.head - cursor
	out := make([]T, 0, n)
	for i := cursor; i < r.head; i++ {
		out = append(out, r.buf[i%uint64(cap(r.buf))])
	}
	return out, r.head, droppedDelta
}

// Len reports how many samples are currently buffered.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Dropped is the monotonic count of overwritten samples.
func (r *Ring[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Pushes is the monotonic count of all pushes.
func (r *Ring[T]) Pushes() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head
}
