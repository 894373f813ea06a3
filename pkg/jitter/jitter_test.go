package jitter

import (
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/huandu/go-assert"
	"github.com/jonboulle/clockwork"
	"github.com/pion/rtp"
)

const (
	testSSRC        = 0x1234
	samplePerPacket = 160 // 20ms at 8kHz
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func packet(n int) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SSRC:           testSSRC,
			SequenceNumber: uint16(n),
			Timestamp:      uint32(n * samplePerPacket),
		},
		Payload: []byte{byte(n)},
	}
}

func at(ms int) time.Time {
	return base.Add(time.Duration(ms) * time.Millisecond)
}

func newTestAdaptive(t *testing.T, params Params) *Adaptive {
	b, err := NewAdaptive(params, WithClock(clockwork.NewFakeClockAt(base)))
	assert.Equal(t, err, nil)
	return b
}

func assertPop(t *testing.T, b *Adaptive, ms int, expected byte) {
	pkt, _ := b.pop(at(ms))
	assert.Assert(t, pkt != nil)
	assert.Equal(t, pkt.Payload, []byte{expected})
}

func assertEmpty(t *testing.T, b *Adaptive, ms int) {
	pkt, _ := b.pop(at(ms))
	assert.Assert(t, pkt == nil)
}

func Test_basic(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())

	b.WriteData(packet(0), at(0))
	b.WriteData(packet(1), at(20))
	b.WriteData(packet(2), at(40))

	pkt, wait := b.pop(at(39))
	assert.Assert(t, pkt == nil)
	assert.Equal(t, wait, time.Millisecond)

	assertPop(t, b, 40, 0)
	assertEmpty(t, b, 59)
	assertPop(t, b, 60, 1)
	assertPop(t, b, 80, 2)
	assertEmpty(t, b, 100)

	stats := b.Stats()
	assert.Equal(t, stats.Received, uint64(3))
	assert.Equal(t, stats.Released, uint64(3))
	assert.Equal(t, stats.TooLate, uint64(0))
	assert.Equal(t, stats.CurrentDelay, 40*time.Millisecond)
	assert.Equal(t, stats.State, Fill)
}

func TestReorder(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())

	b.WriteData(packet(0), at(0))
	b.WriteData(packet(2), at(40))
	b.WriteData(packet(1), at(45))

	assertPop(t, b, 100, 0)
	assertPop(t, b, 100, 1)
	assertPop(t, b, 100, 2)
}

func TestLateDrop(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())

	b.WriteData(packet(0), at(0))
	b.WriteData(packet(2), at(40))
	assertPop(t, b, 40, 0)
	assertPop(t, b, 80, 2)

	assert.Equal(t, b.WriteData(packet(1), at(90)), true)
	assertEmpty(t, b, 100)
	assertEmpty(t, b, 500)

	stats := b.Stats()
	assert.Equal(t, stats.TooLate, uint64(1))
	assert.Equal(t, stats.Released, uint64(2))
}

func TestDuplicate(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())

	b.WriteData(packet(0), at(0))
	b.WriteData(packet(0), at(5))

	assert.Equal(t, b.Stats().Duplicates, uint64(1))
	assert.Equal(t, b.Stats().Buffered, 1)
}

// A unit arriving after its own release time, but before anything newer
// has been released, grows the delay without counting as too late.
func TestLateArrivalGrowsDelay(t *testing.T) {
	b := newTestAdaptive(t, Params{
		MinDelay:                 40 * time.Millisecond,
		MaxDelay:                 250 * time.Millisecond,
		CurrentDelay:             40 * time.Millisecond,
		GrowIncrement:            10 * time.Millisecond,
		ShrinkPeriod:             time.Second,
		ShrinkDecrement:          5 * time.Millisecond,
		SilenceShrinkPeriod:      5 * time.Second,
		SilenceShrinkDecrement:   20 * time.Millisecond,
		DriftPeriod:              500 * time.Millisecond,
		DriftLateThreshold:       3,
		MaxConsecutiveMarkerBits: 10,
		MaxConsecutiveOverruns:   20,
		ClockRate:                8000,
	})

	b.WriteData(packet(0), at(0))
	b.WriteData(packet(1), at(20))
	b.WriteData(packet(2), at(40))
	assertPop(t, b, 40, 0)
	assertPop(t, b, 60, 1)
	assertPop(t, b, 80, 2)
	assertEmpty(t, b, 100)

	// timestamp 480 is due at 60ms, arrives 60ms late
	b.WriteData(packet(3), at(120))

	stats := b.Stats()
	assert.Equal(t, stats.CurrentDelay, 50*time.Millisecond)
	assert.Equal(t, stats.TooLate, uint64(0))
	assert.Equal(t, stats.ConsecutiveLate, uint64(1))
	assert.Equal(t, stats.State, Fill)

	assertPop(t, b, 120, 3)
}

func TestGrowthBounded(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())
	b.WriteData(packet(0), at(0))

	for n := 1; n <= 30; n++ {
		b.WriteData(packet(n), at(n*20+300))
		assert.Assert(t, b.Stats().CurrentDelay <= 250*time.Millisecond)
	}

	stats := b.Stats()
	assert.Equal(t, stats.CurrentDelay, 250*time.Millisecond)
	assert.Equal(t, stats.DriftDrops, uint64(1))
	assert.Equal(t, stats.Overruns, uint64(0))
}

func TestShrinkBounded(t *testing.T) {
	params := DefaultParams()
	params.CurrentDelay = params.MaxDelay
	b := newTestAdaptive(t, params)

	for n := 0; n < 2500; n++ {
		b.WriteData(packet(n), at(n*20))
		for {
			pkt, _ := b.pop(at(n * 20))
			if pkt == nil {
				break
			}
		}
		assert.Assert(t, b.Stats().CurrentDelay >= 40*time.Millisecond)
	}

	stats := b.Stats()
	assert.Equal(t, stats.CurrentDelay, 40*time.Millisecond)
	assert.Equal(t, stats.State, Done)
	assert.Equal(t, stats.TooLate, uint64(0))
}

func TestSilenceShrink(t *testing.T) {
	params := DefaultParams()
	params.CurrentDelay = params.MaxDelay
	b := newTestAdaptive(t, params)

	b.WriteData(packet(0), at(0))
	assertPop(t, b, 250, 0)
	assertEmpty(t, b, 260)

	assertEmpty(t, b, 5260)
	assert.Equal(t, b.Stats().CurrentDelay, 230*time.Millisecond)
	assert.Equal(t, b.Stats().State, Shrink)

	for ms := 10260; ms < 100000; ms += 5000 {
		assertEmpty(t, b, ms)
		assert.Assert(t, b.Stats().CurrentDelay >= 40*time.Millisecond)
	}

	assert.Equal(t, b.Stats().CurrentDelay, 40*time.Millisecond)
	assert.Equal(t, b.Stats().State, Done)
}

func TestSetSilent(t *testing.T) {
	params := DefaultParams()
	params.CurrentDelay = params.MaxDelay
	b := newTestAdaptive(t, params)

	b.SetSilent(true)
	b.WriteData(packet(0), at(0))

	assertPop(t, b, 5000, 0)
	assert.Equal(t, b.Stats().CurrentDelay, 230*time.Millisecond)

	b.SetSilent(false)
	assertEmpty(t, b, 6000)
	assert.Equal(t, b.Stats().CurrentDelay, 225*time.Millisecond)
}

func TestOrdering(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())
	r := rand.New(rand.NewSource(1))

	type arrival struct {
		n  int
		ms int
	}
	arrivals := make([]arrival, 200)
	for n := range arrivals {
		arrivals[n] = arrival{n: n, ms: n*20 + r.Intn(80)}
	}
	sort.SliceStable(arrivals, func(i, j int) bool {
		return arrivals[i].ms < arrivals[j].ms
	})

	last := int64(-1)
	next := 0
	for ms := 0; ms < 200*20+1000; ms += 5 {
		for next < len(arrivals) && arrivals[next].ms <= ms {
			b.WriteData(packet(arrivals[next].n), at(arrivals[next].ms))
			next++
		}
		for {
			pkt, _ := b.pop(at(ms))
			if pkt == nil {
				break
			}
			assert.Assert(t, int64(pkt.Timestamp) > last)
			last = int64(pkt.Timestamp)
		}
	}

	stats := b.Stats()
	assert.Assert(t, stats.Released > 0)
	assert.Equal(t, stats.Released+stats.TooLate+stats.Overruns+stats.DriftDrops, uint64(200))
}

func TestTimestampWrap(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())

	first := uint32(1<<32 - 2*samplePerPacket)
	for i := 0; i < 3; i++ {
		p := packet(i)
		p.Timestamp = first + uint32(i*samplePerPacket)
		b.WriteData(p, at(i*20))
	}

	assertPop(t, b, 40, 0)
	assertPop(t, b, 60, 1)
	assertPop(t, b, 80, 2)
	assert.Equal(t, b.Stats().TooLate, uint64(0))
}

func TestSSRCChange(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())

	b.WriteData(packet(100), at(0))
	assertPop(t, b, 40, 100)

	p := packet(1)
	p.SSRC = testSSRC + 1
	b.WriteData(p, at(60))

	assertEmpty(t, b, 99)
	assertPop(t, b, 100, 1)

	stats := b.Stats()
	assert.Equal(t, stats.TooLate, uint64(0))
	assert.Equal(t, stats.Resyncs, uint64(1))
}

func TestTimestampJump(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())

	b.WriteData(packet(0), at(0))
	assertPop(t, b, 40, 0)

	p := packet(1)
	p.Timestamp = 20 * 8000
	b.WriteData(p, at(20))

	assertPop(t, b, 60, 1)
	assert.Equal(t, b.Stats().Resyncs, uint64(1))
	assert.Equal(t, b.Stats().CurrentDelay, 40*time.Millisecond)
}

func TestStaleUnitBeyondJumpWindow(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())

	var last uint16
	for n := 0; n <= 700; n++ {
		b.WriteData(packet(n), at(n*20))
		for {
			pkt, _ := b.pop(at(n * 20))
			if pkt == nil {
				break
			}
			last = pkt.SequenceNumber
		}
	}
	assert.Equal(t, last, uint16(698))
	assert.Equal(t, b.Stats().Buffered, 2)

	// 12s behind the last released unit
	assert.Equal(t, b.WriteData(packet(100), at(700*20+5)), true)

	stats := b.Stats()
	assert.Equal(t, stats.TooLate, uint64(1))
	assert.Equal(t, stats.Resyncs, uint64(0))
	assert.Equal(t, stats.Buffered, 2)

	pkt, _ := b.pop(at(701 * 20))
	assert.Assert(t, pkt != nil)
	assert.Equal(t, pkt.SequenceNumber, uint16(699))
	pkt, _ = b.pop(at(702 * 20))
	assert.Assert(t, pkt != nil)
	assert.Equal(t, pkt.SequenceNumber, uint16(700))
	assertEmpty(t, b, 800*20)
}

func TestMarkerReanchors(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())

	b.WriteData(packet(0), at(0))
	assertPop(t, b, 40, 0)

	// talk spurt one second of media later, half a second behind
	p := packet(50)
	p.Marker = true
	b.WriteData(p, at(1500))

	assert.Equal(t, b.Stats().CurrentDelay, 40*time.Millisecond)
	assertEmpty(t, b, 1539)
	assertPop(t, b, 1540, 50)
}

func TestMarkerWithoutTalkSpurtIsLate(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())

	b.WriteData(packet(0), at(0))
	assertPop(t, b, 40, 0)

	b.WriteData(packet(50), at(1500))
	assert.Equal(t, b.Stats().CurrentDelay, 50*time.Millisecond)
}

func TestConsecutiveMarkersIgnored(t *testing.T) {
	params := DefaultParams()
	params.MaxConsecutiveMarkerBits = 2
	b := newTestAdaptive(t, params)

	for n := 0; n < 3; n++ {
		p := packet(n)
		p.Marker = true
		b.WriteData(p, at(n*20))
	}
	p := packet(3)
	p.Marker = true
	b.WriteData(p, at(560))

	assert.Equal(t, b.Stats().CurrentDelay, 50*time.Millisecond)
}

func TestOverrunFlush(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())

	// capacity at 40ms is 9 units
	for n := 0; n < 30; n++ {
		b.WriteData(packet(n), at(n*20))
	}

	stats := b.Stats()
	assert.Equal(t, stats.Overruns, uint64(21))
	assert.Equal(t, stats.Buffered, 1)
	assert.Equal(t, stats.ConsecutiveOverruns, uint64(0))

	assertPop(t, b, 29*20+40, 29)
}

func TestSetDelay(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())

	params := DefaultParams()
	params.MinDelay = 60 * time.Millisecond
	params.CurrentDelay = 100 * time.Millisecond
	assert.Equal(t, b.SetDelay(params), nil)
	assert.Equal(t, b.Stats().CurrentDelay, 100*time.Millisecond)

	params.CurrentDelay = time.Second
	assert.Assert(t, errors.Is(b.SetDelay(params), ErrInvalidParams))
	assert.Equal(t, b.Stats().CurrentDelay, 100*time.Millisecond)
}

func TestRestart(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())

	b.WriteData(packet(10), at(0))
	assertPop(t, b, 40, 10)
	b.WriteData(packet(11), at(300))
	assert.Equal(t, b.Stats().CurrentDelay, 50*time.Millisecond)

	b.Restart()

	stats := b.Stats()
	assert.Equal(t, stats.State, Start)
	assert.Equal(t, stats.Received, uint64(0))
	assert.Equal(t, stats.Buffered, 0)
	assert.Equal(t, stats.CurrentDelay, 40*time.Millisecond)

	// an older timestamp is accepted after a restart
	b.WriteData(packet(1), at(1000))
	assertPop(t, b, 1040, 1)
}

func TestCloseWakesReader(t *testing.T) {
	b, err := NewAdaptive(DefaultParams())
	assert.Equal(t, err, nil)

	done := make(chan error, 1)
	go func() {
		_, err := b.ReadData(0)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()
	b.Close()

	select {
	case err := <-done:
		assert.Assert(t, errors.Is(err, ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("reader not released by Close")
	}

	assert.Equal(t, b.WriteData(packet(0), time.Now()), false)
}

func TestReadTimeout(t *testing.T) {
	clock := clockwork.NewFakeClockAt(base)
	b, err := NewAdaptive(DefaultParams(), WithClock(clock))
	assert.Equal(t, err, nil)

	done := make(chan *rtp.Packet, 1)
	go func() {
		pkt, err := b.ReadData(100 * time.Millisecond)
		assert.Equal(t, err, nil)
		done <- pkt
	}()

	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)

	pkt := <-done
	assert.Equal(t, len(pkt.Payload), 0)
}

func TestReadDataWaitsForRelease(t *testing.T) {
	clock := clockwork.NewFakeClockAt(base)
	b, err := NewAdaptive(DefaultParams(), WithClock(clock))
	assert.Equal(t, err, nil)

	b.WriteData(packet(7), clock.Now())

	done := make(chan *rtp.Packet, 1)
	go func() {
		pkt, _ := b.ReadData(0)
		done <- pkt
	}()

	clock.BlockUntil(1)
	clock.Advance(40 * time.Millisecond)

	pkt := <-done
	assert.Equal(t, pkt.Payload, []byte{7})
}

func TestWriteNil(t *testing.T) {
	b := newTestAdaptive(t, DefaultParams())
	assert.Equal(t, b.WriteData(nil, at(0)), false)
}
