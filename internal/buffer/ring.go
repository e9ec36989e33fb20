// Package buffer holds the fixed-size ring shared by the log buffer and
// event bus history. Ring is not safe for concurrent use; callers hold
// their own lock.
package buffer

type Ring[T any] struct {
	entries []T
	start   int
	count   int
}

// NewRing returns a ring keeping the last size entries. A size of zero or
// less keeps one.
func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = 1
	}
	return &Ring[T]{entries: make([]T, size)}
}

// Add appends entry, overwriting the oldest once the ring is full.
func (r *Ring[T]) Add(entry T) {
	if r == nil {
		return
	}
	if r.count < len(r.entries) {
		r.entries[(r.start+r.count)%len(r.entries)] = entry
		r.count++
		return
	}
	r.entries[r.start] = entry
	r.start = (r.start + 1) % len(r.entries)
}

func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	return r.count
}

func (r *Ring[T]) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// List copies the entries out, oldest first.
func (r *Ring[T]) List() []T {
	if r == nil || r.count == 0 {
		return nil
	}
	out := make([]T, r.count)
	for i := range out {
		out[i] = r.entries[(r.start+i)%len(r.entries)]
	}
	return out
}

func (r *Ring[T]) Reset() {
	if r == nil {
		return
	}
	var zero T
	for i := range r.entries {
		r.entries[i] = zero
	}
	r.start = 0
	r.count = 0
}
