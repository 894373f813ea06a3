// Package ssrc keeps per synchronization source state shared by the jitter
// buffer and the media patch: sequence tracking, timestamp extension and
// RFC 3550 interarrival jitter.
package ssrc

import (
	"sync"
	"time"

	"github.com/pion/rtp"
)

// Stats is a snapshot of a Context.
type Stats struct {
	SSRC          uint32
	Received      uint64
	Lost          uint64
	Duplicates    uint64
	Reordered     uint64
	Bytes         uint64
	Jitter        time.Duration
	LastTimestamp uint32
	LastArrival   time.Time
}

// Context is the state of one synchronization source. It is safe for
// concurrent use; Record is normally called from the receive path while
// Stats is polled by telemetry.
type Context struct {
	mu sync.Mutex

	ssrc      uint32
	clockRate uint32
	bound     bool

	seq       SequenceTracker
	unwrapper Unwrapper

	lastTimestamp uint32
	lastArrival   time.Time
	bytes         uint64

	// interarrival jitter in timestamp units, scaled by 16 (RFC 3550 A.8)
	jitter   uint64
	transit  int64
	hasTrans bool
	epoch    time.Time
}

// NewContext creates a context for a stream clocked at clockRate Hz.
func NewContext(clockRate uint32) *Context {
	return &Context{clockRate: clockRate}
}

// Record notes the arrival of pkt and returns its extended timestamp.
// changed is true when pkt carries a different SSRC than the previous
// packets; all per-source history is reset in that case.
func (c *Context) Record(pkt *rtp.Packet, arrival time.Time) (extended int64, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bound && pkt.SSRC != c.ssrc {
		c.resetLocked()
		changed = true
	}
	if !c.bound {
		c.bound = true
		c.ssrc = pkt.SSRC
	}

	c.seq.Update(pkt.SequenceNumber)
	extended = c.unwrapper.Unwrap(pkt.Timestamp)
	c.bytes += uint64(len(pkt.Payload))

	if c.clockRate > 0 {
		if c.epoch.IsZero() {
			c.epoch = arrival
		}
		transit := durationToUnits(arrival.Sub(c.epoch), c.clockRate) - extended
		if c.hasTrans {
			d := transit - c.transit
			if d < 0 {
				d = -d
			}
			// J += (|D| - J) / 16, kept scaled by 16 to avoid losing precision
			c.jitter = c.jitter + uint64(d) - (c.jitter+8)>>4
		}
		c.transit = transit
		c.hasTrans = true
	}

	c.lastTimestamp = pkt.Timestamp
	c.lastArrival = arrival
	return extended, changed
}

// SSRC returns the bound source identifier.
func (c *Context) SSRC() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ssrc
}

// Jitter returns the interarrival jitter estimate in timestamp units.
func (c *Context) Jitter() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint32(c.jitter >> 4)
}

// Stats returns a snapshot of the source statistics.
func (c *Context) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	received, lost := c.seq.Stats()
	st := Stats{
		SSRC:          c.ssrc,
		Received:      received,
		Lost:          lost,
		Duplicates:    c.seq.duplicates,
		Reordered:     c.seq.reordered,
		Bytes:         c.bytes,
		LastTimestamp: c.lastTimestamp,
		LastArrival:   c.lastArrival,
	}
	if c.clockRate > 0 {
		st.Jitter = time.Duration(c.jitter>>4) * time.Second / time.Duration(c.clockRate)
	}
	return st
}

// Reset forgets the bound source and all statistics.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Context) resetLocked() {
	c.bound = false
	c.ssrc = 0
	c.seq.Reset()
	c.unwrapper.Reset()
	c.lastTimestamp = 0
	c.lastArrival = time.Time{}
	c.bytes = 0
	c.jitter = 0
	c.transit = 0
	c.hasTrans = false
	c.epoch = time.Time{}
}

func durationToUnits(d time.Duration, rate uint32) int64 {
	return int64(d/time.Second)*int64(rate) + int64(d%time.Second)*int64(rate)/int64(time.Second)
}
