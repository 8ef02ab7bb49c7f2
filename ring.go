package fiberloop

// maxRingCapacity is the hard cap on ring growth, matching ev.c's
// JANET_MAX_Q_CAPACITY (2^31 - 1).
const maxRingCapacity = 0x7FFFFFFF

// Ring is a generic FIFO queue over contiguous storage with power-of-two-ish
// growth, used by the ready-queue, each channel's item buffer, and each
// channel's waiter lists. Grounded in ev.c's JanetQueue push/pop/growth
// algorithm, generified the way cloudwego-gopkg/container/ring generifies
// its own fixed-size ring.
type Ring[T any] struct {
	data       []T
	head, tail int
	count      int
}

// NewRing creates an empty ring with the given initial capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Ring[T]{data: make([]T, capacity)}
}

// Count returns the number of items currently stored.
func (r *Ring[T]) Count() int { return r.count }

// Capacity returns the current allocated capacity.
func (r *Ring[T]) Capacity() int { return len(r.data) }

// Push appends an item, growing the backing array when needed. Returns
// [ErrChannelOverflow] if the hard capacity cap would be exceeded, without
// losing any existing data.
func (r *Ring[T]) Push(item T) error {
	if r.count+1 >= len(r.data) {
		if err := r.grow(); err != nil {
			return err
		}
	}
	r.data[r.tail] = item
	r.tail = (r.tail + 1) % len(r.data)
	r.count++
	return nil
}

// Pop removes and returns the oldest item. ok is false if the ring is
// empty.
func (r *Ring[T]) Pop() (item T, ok bool) {
	if r.count == 0 {
		return item, false
	}
	item = r.data[r.head]
	var zero T
	r.data[r.head] = zero
	r.head = (r.head + 1) % len(r.data)
	r.count--
	return item, true
}

// Peek returns the oldest item without removing it.
func (r *Ring[T]) Peek() (item T, ok bool) {
	if r.count == 0 {
		return item, false
	}
	return r.data[r.head], true
}

// Each calls fn for every stored item in FIFO order, oldest first. Used by
// GC-mark hooks that need to visit every queued value/fiber.
func (r *Ring[T]) Each(fn func(T)) {
	for i := 0; i < r.count; i++ {
		fn(r.data[(r.head+i)%len(r.data)])
	}
}

// grow reallocates to 2*(count+2), capped at maxRingCapacity, relocating
// the wrapped upper segment so indices stay contiguous from 0. Mirrors
// ev.c's janet_q_push growth formula exactly.
func (r *Ring[T]) grow() error {
	newCap := (r.count + 2) * 2
	if newCap > maxRingCapacity {
		newCap = maxRingCapacity
	}
	if newCap <= len(r.data) {
		return &ChannelOverflowError{Limit: maxRingCapacity}
	}

	newData := make([]T, newCap)
	if r.count > 0 {
		if r.head < r.tail {
			copy(newData, r.data[r.head:r.tail])
		} else {
			n := copy(newData, r.data[r.head:])
			copy(newData[n:], r.data[:r.tail])
		}
	}
	r.data = newData
	r.head = 0
	r.tail = r.count
	return nil
}
