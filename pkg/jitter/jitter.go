package jitter

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/huandu/skiplist"
	"github.com/jonboulle/clockwork"
	"github.com/pion/rtp"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Adaptive is the audio jitter buffer.
//
// Units are kept in a skiplist keyed by extended timestamp. A unit is
// released at
//
//	anchorTime + (ts - anchorTS)/clockRate + delay
//
// where (anchorTS, anchorTime) is the unit with the smallest observed
// transit. Arrivals after their own release time grow the delay; quiet
// periods shrink it.
type Adaptive struct {
	mu sync.Mutex

	lim   limits
	clock clockwork.Clock
	event Listener
	log   *logrus.Entry

	units    *skiplist.SkipList // int64 -> *rtp.Packet
	timeline timeline

	anchored   bool
	anchorTS   int64
	anchorTime time.Time
	delay      int64

	released     bool
	lastReleased int64

	lastLate     time.Time
	lastShrink   time.Time
	silent       bool
	silentSince  time.Time
	drainedSince time.Time

	drift   *deque.Deque[time.Time]
	markers int
	state   State

	sig   *signal
	stats counters
}

func NewAdaptive(params Params, opts ...Option) (*Adaptive, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	b := &Adaptive{
		lim:   params.limits(),
		clock: o.clock,
		event: o.listener,
		log:   o.logger.WithField("buffer", "adaptive"),
		units: skiplist.New(skiplist.Int64),
		drift: deque.New[time.Time](),
		sig:   newSignal(),
	}
	b.setDelayLocked(b.lim.initial)
	return b, nil
}

func (b *Adaptive) WriteData(pkt *rtp.Packet, arrival time.Time) bool {
	if pkt == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sig.isClosed() {
		return false
	}
	b.writeLocked(pkt, arrival)
	b.sig.notify()
	return true
}

func (b *Adaptive) writeLocked(pkt *rtp.Packet, arrival time.Time) {
	ts, changed := b.timeline.extend(pkt)
	if changed {
		b.log.WithField("ssrc", pkt.SSRC).Info("jitter: synchronization source changed")
		b.resyncLocked()
	}
	b.stats.received.Add(1)
	b.drainedSince = time.Time{}

	switch {
	case !b.anchored:
		b.anchorLocked(ts, arrival)
	case b.jumpedLocked(ts):
		b.log.WithField("timestamp", ts).Debug("jitter: timestamp jump, resynchronising")
		b.resyncLocked()
		b.anchorLocked(ts, arrival)
	}

	if b.released && ts <= b.lastReleased {
		b.stats.tooLate.Add(1)
		b.event.OnPacketTooLate(ts, b.lastReleased)
		return
	}
	if b.units.Get(ts) != nil {
		b.stats.duplicates.Add(1)
		return
	}

	b.markerLocked(pkt, ts, arrival)
	b.timingLocked(ts, arrival)
	b.insertLocked(ts, pkt, arrival)
}

// markerLocked re-anchors on the first unit of a talk spurt. A sender
// setting the marker on every unit stops resetting timing after
// MaxConsecutiveMarkerBits of them.
func (b *Adaptive) markerLocked(pkt *rtp.Packet, ts int64, arrival time.Time) {
	if !pkt.Marker {
		b.markers = 0
		return
	}
	b.markers++
	if b.markers > b.lim.maxMarkers {
		return
	}
	b.anchorTS, b.anchorTime = ts, arrival
}

func (b *Adaptive) timingLocked(ts int64, arrival time.Time) {
	nominal := b.anchorTime.Add(toDuration(ts-b.anchorTS, b.lim.clockRate))
	if arrival.Before(nominal) {
		// smaller transit than the anchor
		b.anchorTS, b.anchorTime = ts, arrival
		b.stats.consecutiveLate.Store(0)
		return
	}
	if !arrival.After(nominal.Add(toDuration(b.delay, b.lim.clockRate))) {
		b.stats.consecutiveLate.Store(0)
		return
	}

	b.stats.consecutiveLate.Add(1)
	b.lastLate = arrival
	b.setStateLocked(Fill)

	if b.delay < b.lim.max {
		b.setDelayLocked(lo.Min([]int64{b.delay + b.lim.grow, b.lim.max}))
		return
	}
	b.driftLocked(ts, arrival)
}

// driftLocked handles lateness that persists at maximum delay. Once it
// recurs DriftLateThreshold times within DriftPeriod the oldest buffered
// unit is dropped and timing restarts from the late unit.
func (b *Adaptive) driftLocked(ts int64, arrival time.Time) {
	for b.drift.Len() > 0 && arrival.Sub(b.drift.Front()) > b.lim.driftPeriod {
		b.drift.PopFront()
	}
	b.drift.PushBack(arrival)
	if b.drift.Len() < b.lim.driftThreshold {
		return
	}
	b.drift.Clear()

	if front := b.units.RemoveFront(); front != nil {
		b.stats.driftDrops.Add(1)
		b.event.OnDriftDrop(front.Key().(int64))
	}
	b.anchorTS, b.anchorTime = ts, arrival
}

func (b *Adaptive) insertLocked(ts int64, pkt *rtp.Packet, arrival time.Time) {
	capacity := int(b.delay/b.lim.minFrame) + 1
	for b.units.Len() >= capacity {
		evicted := b.units.RemoveFront()
		b.stats.overruns.Add(1)
		b.stats.consecutiveOverruns.Add(1)
		b.event.OnOverrun(evicted.Key().(int64), b.units.Len())
	}

	if b.lim.maxOverruns > 0 && b.stats.consecutiveOverruns.Load() > uint64(b.lim.maxOverruns) {
		b.log.WithField("overruns", b.stats.consecutiveOverruns.Load()).Info("jitter: consumer stalled, flushing")
		b.units.Init()
		b.stats.consecutiveOverruns.Store(0)
		b.anchorLocked(ts, arrival)
	}

	b.units.Set(ts, pkt)
	b.stats.buffered.Store(int64(b.units.Len()))
}

func (b *Adaptive) ReadData(timeout time.Duration) (*rtp.Packet, error) {
	return b.sig.wait(b.clock, timeout, b.pop)
}

// pop releases the earliest unit if it is due at now.
func (b *Adaptive) pop(now time.Time) (*rtp.Packet, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.adaptLocked(now)

	front := b.units.Front()
	if front == nil {
		if b.anchored && b.drainedSince.IsZero() {
			b.drainedSince = now
		}
		b.stats.consecutiveEmpty.Add(1)
		return nil, 0
	}

	ts := front.Key().(int64)
	if release := b.releaseTime(ts); now.Before(release) {
		return nil, release.Sub(now)
	}

	b.units.RemoveFront()
	b.released = true
	b.lastReleased = ts

	b.stats.released.Add(1)
	b.stats.buffered.Store(int64(b.units.Len()))
	b.stats.consecutiveOverruns.Store(0)
	b.stats.consecutiveEmpty.Store(0)
	return front.Value.(*rtp.Packet), 0
}

// adaptLocked shrinks the delay after a quiet period. While the stream is
// silent the longer silence period and larger decrement apply instead.
func (b *Adaptive) adaptLocked(now time.Time) {
	if !b.anchored {
		return
	}

	quietSince := latest(b.lastLate, b.lastShrink)
	period, step := b.lim.shrinkPeriod, b.lim.shrink
	if since, silent := b.silenceStart(); silent {
		quietSince = latest(quietSince, since)
		period, step = b.lim.silenceShrinkPeriod, b.lim.silenceShrink
	}
	if now.Sub(quietSince) < period {
		return
	}

	if b.delay <= b.lim.min {
		b.setStateLocked(Done)
		return
	}

	b.lastShrink = now
	b.setDelayLocked(lo.Max([]int64{b.delay - step, b.lim.min}))
	if b.delay <= b.lim.min {
		b.setStateLocked(Done)
	} else {
		b.setStateLocked(Shrink)
	}
}

func (b *Adaptive) silenceStart() (time.Time, bool) {
	switch {
	case b.silent && !b.drainedSince.IsZero():
		return earliest(b.silentSince, b.drainedSince), true
	case b.silent:
		return b.silentSince, true
	case !b.drainedSince.IsZero():
		return b.drainedSince, true
	}
	return time.Time{}, false
}

func (b *Adaptive) SetSilent(silent bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if silent == b.silent {
		return
	}
	b.silent = silent
	if silent {
		b.silentSince = b.clock.Now()
	} else {
		b.silentSince = time.Time{}
	}
}

func (b *Adaptive) SetDelay(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lim = params.limits()
	b.setDelayLocked(b.lim.initial)

	capacity := int(b.delay/b.lim.minFrame) + 1
	for b.units.Len() > capacity {
		b.units.RemoveFront()
	}
	b.stats.buffered.Store(int64(b.units.Len()))
	return nil
}

func (b *Adaptive) Restart() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.units.Init()
	b.timeline.reset()
	b.anchored = false
	b.released = false
	b.lastLate = time.Time{}
	b.lastShrink = time.Time{}
	b.drainedSince = time.Time{}
	b.drift.Clear()
	b.markers = 0

	b.stats.clear()
	b.setStateLocked(Start)
	b.setDelayLocked(b.lim.initial)
}

func (b *Adaptive) Close() {
	if b.sig.close() {
		b.log.Debug("jitter: closed")
	}
}

func (b *Adaptive) Stats() Stats {
	return b.stats.snapshot()
}

func (b *Adaptive) anchorLocked(ts int64, arrival time.Time) {
	b.anchored = true
	b.anchorTS, b.anchorTime = ts, arrival
	if b.lastLate.IsZero() {
		b.lastLate = arrival
	}
	if b.lastShrink.IsZero() {
		b.lastShrink = arrival
	}
	b.setStateLocked(Fill)
}

// resyncLocked forgets timing after a source change or a timestamp jump.
// The next unit anchors a new timeline.
func (b *Adaptive) resyncLocked() {
	b.units.Init()
	b.anchored = false
	b.released = false
	b.drift.Clear()
	b.markers = 0
	b.stats.resyncs.Add(1)
	b.stats.buffered.Store(0)
}

// jumpedLocked reports a forward jump past the resync window. Units far
// behind the playout position are stale and go through the too-late check.
func (b *Adaptive) jumpedLocked(ts int64) bool {
	ref := b.anchorTS
	if b.released {
		ref = b.lastReleased
	}
	return ts-ref > b.lim.jump
}

func (b *Adaptive) releaseTime(ts int64) time.Time {
	return b.anchorTime.
		Add(toDuration(ts-b.anchorTS, b.lim.clockRate)).
		Add(toDuration(b.delay, b.lim.clockRate))
}

func (b *Adaptive) setDelayLocked(delay int64) {
	old := b.delay
	b.delay = delay
	b.stats.delay.Store(int64(toDuration(delay, b.lim.clockRate)))
	if old != delay && old != 0 {
		b.event.OnDelayChanged(toDuration(old, b.lim.clockRate), toDuration(delay, b.lim.clockRate))
	}
}

func (b *Adaptive) setStateLocked(s State) {
	if b.state == s {
		return
	}
	old := b.state
	b.state = s
	b.stats.state.Store(int32(s))
	b.event.OnStateChanged(old, s)
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
