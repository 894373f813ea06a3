package jitter

import (
	"sync/atomic"
	"time"
)

// Stats is a best-effort snapshot of buffer counters.
type Stats struct {
	State        State
	CurrentDelay time.Duration
	Buffered     int

	Received   uint64
	Released   uint64
	TooLate    uint64
	Overruns   uint64
	Duplicates uint64
	DriftDrops uint64
	Resyncs    uint64

	ConsecutiveLate     uint64
	ConsecutiveOverruns uint64
	ConsecutiveEmpty    uint64
}

// counters are written under the buffer lock and read without it.
type counters struct {
	state    atomic.Int32
	delay    atomic.Int64
	buffered atomic.Int64

	received   atomic.Uint64
	released   atomic.Uint64
	tooLate    atomic.Uint64
	overruns   atomic.Uint64
	duplicates atomic.Uint64
	driftDrops atomic.Uint64
	resyncs    atomic.Uint64

	consecutiveLate     atomic.Uint64
	consecutiveOverruns atomic.Uint64
	consecutiveEmpty    atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		State:               State(c.state.Load()),
		CurrentDelay:        time.Duration(c.delay.Load()),
		Buffered:            int(c.buffered.Load()),
		Received:            c.received.Load(),
		Released:            c.released.Load(),
		TooLate:             c.tooLate.Load(),
		Overruns:            c.overruns.Load(),
		Duplicates:          c.duplicates.Load(),
		DriftDrops:          c.driftDrops.Load(),
		Resyncs:             c.resyncs.Load(),
		ConsecutiveLate:     c.consecutiveLate.Load(),
		ConsecutiveOverruns: c.consecutiveOverruns.Load(),
		ConsecutiveEmpty:    c.consecutiveEmpty.Load(),
	}
}

func (c *counters) clear() {
	c.state.Store(int32(Start))
	c.buffered.Store(0)
	c.received.Store(0)
	c.released.Store(0)
	c.tooLate.Store(0)
	c.overruns.Store(0)
	c.duplicates.Store(0)
	c.driftDrops.Store(0)
	c.resyncs.Store(0)
	c.consecutiveLate.Store(0)
	c.consecutiveOverruns.Store(0)
	c.consecutiveEmpty.Store(0)
}
