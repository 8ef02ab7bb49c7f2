package fiberloop

import "container/heap"

// timeoutEntry pairs an absolute millisecond deadline with the fiber to
// resume when it elapses.
type timeoutEntry struct {
	when  uint64
	fiber *Fiber
}

// timeoutHeap is a zero-based binary min-heap keyed by deadline, backed by
// container/heap, extended so Swap keeps each fiber's timeoutIndex pointed
// at its current slot — a back-link enabling O(log n) arbitrary removal.
type timeoutHeap []*timeoutEntry

func (h timeoutHeap) Len() int { return len(h) }

func (h timeoutHeap) Less(i, j int) bool { return h[i].when < h[j].when }

func (h timeoutHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].fiber.timeoutIndex = i
	h[j].fiber.timeoutIndex = j
}

func (h *timeoutHeap) Push(x any) {
	e := x.(*timeoutEntry)
	e.fiber.timeoutIndex = len(*h)
	*h = append(*h, e)
}

func (h *timeoutHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.fiber.timeoutIndex = -1
	*h = old[:n-1]
	return e
}

// addTimeout inserts an entry for fiber at when, first removing any
// existing timeout the fiber already holds so a fiber has at most one live
// timeout.
func (h *timeoutHeap) addTimeout(fiber *Fiber, when uint64) {
	if fiber.timeoutIndex >= 0 {
		heap.Remove(h, fiber.timeoutIndex)
	}
	heap.Push(h, &timeoutEntry{when: when, fiber: fiber})
}

// removeTimeout drops fiber's live timeout, if any. Idempotent.
func (h *timeoutHeap) removeTimeout(fiber *Fiber) {
	if fiber.timeoutIndex < 0 {
		return
	}
	heap.Remove(h, fiber.timeoutIndex)
}

// peekTimeout returns the minimum entry without removing it.
func (h timeoutHeap) peekTimeout() (*timeoutEntry, bool) {
	if len(h) == 0 {
		return nil, false
	}
	return h[0], true
}

// popTimeout removes and returns the minimum entry.
func (h *timeoutHeap) popTimeout() *timeoutEntry {
	return heap.Pop(h).(*timeoutEntry)
}
