package fiberloop

// Channel is a bounded rendezvous queue: three ring queues (items, pending
// readers, pending writers) and an integer limit.
//
// Invariants maintained by Give/Take: at most one of pendingReaders and
// pendingWriters is non-empty at a time; if items is non-empty,
// pendingReaders is empty; if items has strictly more than limit entries,
// pendingWriters may be non-empty.
type Channel struct {
	items          *Ring[any]
	pendingReaders *Ring[*Fiber]
	pendingWriters *Ring[*Fiber]
	limit          int
}

// NewChannel creates a channel; limit is the maximum non-blocking queue
// depth, 0 meaning full rendezvous.
func (l *Loop) NewChannel(limit int) *Channel {
	if limit < 0 {
		limit = 0
	}
	return &Channel{
		items:          NewRing[any](limit + 1),
		pendingReaders: NewRing[*Fiber](4),
		pendingWriters: NewRing[*Fiber](4),
		limit:          limit,
	}
}

// Give pushes v onto ch from fiber f:
//   - if a reader is pending, it is dequeued and scheduled with v, and Give
//     returns immediately without parking;
//   - otherwise v is enqueued into items; if that leaves more than limit
//     items queued, f parks on pendingWriters and yields until a
//     subsequent Take resumes it.
func (l *Loop) Give(ch *Channel, f *Fiber, v any) error {
	if reader, ok := ch.pendingReaders.Pop(); ok {
		l.Schedule(reader, v)
		return nil
	}

	if err := ch.items.Push(v); err != nil {
		return err
	}

	if ch.items.Count() > ch.limit {
		if err := ch.pendingWriters.Push(f); err != nil {
			return err
		}
		f.await()
	}
	return nil
}

// Take pops a value from ch from fiber f:
//   - if items is non-empty, dequeues a value; if a writer is pending, it
//     is woken by scheduling it with the channel itself as its resume
//     value, not the value it gave nor nil, so a parked Give call always
//     resumes with a handle to the channel it was blocked on;
//   - otherwise f parks on pendingReaders and yields; the value delivered
//     by the eventual Schedule call is the result.
func (l *Loop) Take(ch *Channel, f *Fiber) any {
	if v, ok := ch.items.Pop(); ok {
		if writer, ok := ch.pendingWriters.Pop(); ok {
			l.Schedule(writer, ch)
		}
		return v
	}

	_ = ch.pendingReaders.Push(f)
	return f.yield()
}

// Full reports whether ch currently holds at least as many items as its
// limit, the point at which a subsequent Give would park its writer.
func (ch *Channel) Full() bool { return ch.items.Count() >= ch.limit }

// Capacity returns ch's configured limit.
func (ch *Channel) Capacity() int { return ch.limit }

// Count returns the number of items currently queued in ch.
func (ch *Channel) Count() int { return ch.items.Count() }

// Mark is the GC hook for channels: marks every fiber in both waiter
// queues and every value in the item queue.
func (ch *Channel) Mark(visit func(any)) {
	ch.items.Each(visit)
	ch.pendingReaders.Each(func(f *Fiber) { visit(f) })
	ch.pendingWriters.Each(func(f *Fiber) { visit(f) })
}
