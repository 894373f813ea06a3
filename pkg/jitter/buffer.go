package jitter

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/jonboulle/clockwork"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// nullQueueSize bounds the Null buffer. Video frames span many packets, so
// this is a packet count rather than a delay window.
const nullQueueSize = 256

// Null is a pass-through buffer for media that needs no timing smoothing.
// Units are released in arrival order as soon as they are written; only
// units older than the last released one are dropped.
type Null struct {
	mu sync.Mutex

	clock clockwork.Clock
	event Listener
	log   *logrus.Entry

	queue    *deque.Deque[queued]
	timeline timeline

	released     bool
	lastReleased int64
	params       Params

	sig   *signal
	stats counters
}

// queued is a unit waiting in a Null buffer with its extended timestamp.
type queued struct {
	ts  int64
	pkt *rtp.Packet
}

func NewNull(params Params, opts ...Option) (*Null, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	b := &Null{
		clock:  o.clock,
		event:  o.listener,
		log:    o.logger.WithField("buffer", "null"),
		queue:  deque.New[queued](nullQueueSize),
		params: params,
		sig:    newSignal(),
	}
	b.stats.state.Store(int32(Done))
	return b, nil
}

func (b *Null) WriteData(pkt *rtp.Packet, _ time.Time) bool {
	if pkt == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sig.isClosed() {
		return false
	}

	ts, changed := b.timeline.extend(pkt)
	if changed {
		b.log.WithField("ssrc", pkt.SSRC).Info("jitter: synchronization source changed")
		b.released = false
		b.stats.resyncs.Add(1)
	}
	b.stats.received.Add(1)

	// units sharing a timestamp (video fragments) all pass
	if b.released && ts < b.lastReleased {
		b.stats.tooLate.Add(1)
		b.event.OnPacketTooLate(ts, b.lastReleased)
		return true
	}

	for b.queue.Len() >= nullQueueSize {
		evicted := b.queue.PopFront()
		b.stats.overruns.Add(1)
		b.event.OnOverrun(evicted.ts, b.queue.Len())
	}
	b.queue.PushBack(queued{ts: ts, pkt: pkt})
	b.stats.buffered.Store(int64(b.queue.Len()))

	b.sig.notify()
	return true
}

func (b *Null) ReadData(timeout time.Duration) (*rtp.Packet, error) {
	return b.sig.wait(b.clock, timeout, b.pop)
}

func (b *Null) pop(time.Time) (*rtp.Packet, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.queue.Len() > 0 {
		u := b.queue.PopFront()
		b.stats.buffered.Store(int64(b.queue.Len()))

		// overtaken in the queue by a newer unit
		if b.released && u.ts < b.lastReleased {
			b.stats.tooLate.Add(1)
			b.event.OnPacketTooLate(u.ts, b.lastReleased)
			continue
		}

		b.released = true
		b.lastReleased = u.ts
		b.stats.released.Add(1)
		b.stats.consecutiveEmpty.Store(0)
		return u.pkt, 0
	}

	b.stats.consecutiveEmpty.Add(1)
	return nil, 0
}

// SetDelay only validates and records params; the Null buffer adds no
// delay.
func (b *Null) SetDelay(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.params = params
	return nil
}

func (b *Null) SetSilent(bool) {}

func (b *Null) Restart() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.queue.Clear()
	b.timeline.reset()
	b.released = false
	b.stats.clear()
	b.stats.state.Store(int32(Done))
}

func (b *Null) Close() {
	if b.sig.close() {
		b.log.Debug("jitter: closed")
	}
}

func (b *Null) Stats() Stats {
	return b.stats.snapshot()
}
