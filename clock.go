package fiberloop

import "time"

// Clock is the monotonic millisecond clock the loop uses for timeout
// deadlines. Overridable via [WithClock] for deterministic tests.
type Clock interface {
	NowMillis() uint64
}

// systemClock is the default Clock, backed by time.Now's monotonic reading.
type systemClock struct{ start time.Time }

func newSystemClock() *systemClock {
	return &systemClock{start: time.Now()}
}

func (c *systemClock) NowMillis() uint64 {
	return uint64(time.Since(c.start).Milliseconds())
}
