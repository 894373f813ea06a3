package jitter

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// ErrInvalidParams is returned when a Params value cannot drive a buffer.
var ErrInvalidParams = errors.New("jitter: invalid params")

const (
	// minFrameTime is the shortest media frame the capacity calculation
	// allows for, 40 samples at 8kHz.
	minFrameTime = 5 * time.Millisecond

	// maxTimestampJump is how far a unit's media time may be from the
	// playout position before the buffer resynchronises on it.
	maxTimestampJump = 10 * time.Second
)

// Params is the jitter buffer policy. Delays are configured as durations
// and converted to clock units (samples) with ClockRate when a buffer is
// created or reconfigured.
type Params struct {
	MinDelay     time.Duration // 40ms
	MaxDelay     time.Duration // 250ms
	CurrentDelay time.Duration // initial delay, 40ms

	GrowIncrement time.Duration // added per late arrival, 10ms

	ShrinkPeriod    time.Duration // 1000ms without lateness
	ShrinkDecrement time.Duration // 5ms

	SilenceShrinkPeriod    time.Duration // 5000ms of silence
	SilenceShrinkDecrement time.Duration // 20ms

	DriftPeriod        time.Duration // 500ms
	DriftLateThreshold int           // late arrivals at max delay within DriftPeriod, 3

	MaxConsecutiveMarkerBits int // 10
	MaxConsecutiveOverruns   int // 20

	ClockRate uint32 // 8000
}

// DefaultParams returns the documented defaults for an 8kHz audio stream.
func DefaultParams() Params {
	return Params{
		MinDelay:                 40 * time.Millisecond,
		MaxDelay:                 250 * time.Millisecond,
		CurrentDelay:             40 * time.Millisecond,
		GrowIncrement:            10 * time.Millisecond,
		ShrinkPeriod:             1000 * time.Millisecond,
		ShrinkDecrement:          5 * time.Millisecond,
		SilenceShrinkPeriod:      5000 * time.Millisecond,
		SilenceShrinkDecrement:   20 * time.Millisecond,
		DriftPeriod:              500 * time.Millisecond,
		DriftLateThreshold:       3,
		MaxConsecutiveMarkerBits: 10,
		MaxConsecutiveOverruns:   20,
		ClockRate:                8000,
	}
}

// WithClockRate returns a copy of p for a stream clocked at rate Hz.
func (p Params) WithClockRate(rate uint32) Params {
	p.ClockRate = rate
	return p
}

// Validate checks that p can drive a buffer.
func (p Params) Validate() error {
	switch {
	case p.ClockRate == 0:
		return fmt.Errorf("%w: clock rate is zero", ErrInvalidParams)
	case p.MinDelay < 0:
		return fmt.Errorf("%w: negative minimum delay %v", ErrInvalidParams, p.MinDelay)
	case p.MinDelay > p.MaxDelay:
		return fmt.Errorf("%w: minimum delay %v above maximum %v", ErrInvalidParams, p.MinDelay, p.MaxDelay)
	case p.CurrentDelay < p.MinDelay || p.CurrentDelay > p.MaxDelay:
		return fmt.Errorf("%w: current delay %v outside [%v, %v]", ErrInvalidParams, p.CurrentDelay, p.MinDelay, p.MaxDelay)
	case p.GrowIncrement < 0 || p.ShrinkDecrement < 0 || p.SilenceShrinkDecrement < 0:
		return fmt.Errorf("%w: negative increment", ErrInvalidParams)
	case p.ShrinkPeriod <= 0 || p.SilenceShrinkPeriod <= 0 || p.DriftPeriod <= 0:
		return fmt.Errorf("%w: periods must be positive", ErrInvalidParams)
	case p.DriftLateThreshold <= 0:
		return fmt.Errorf("%w: drift late threshold must be positive", ErrInvalidParams)
	}
	return nil
}

// limits is Params converted to clock units.
type limits struct {
	min, max, initial int64
	grow              int64
	shrink            int64
	silenceShrink     int64
	minFrame          int64
	jump              int64

	shrinkPeriod        time.Duration
	silenceShrinkPeriod time.Duration
	driftPeriod         time.Duration
	driftThreshold      int
	maxMarkers          int
	maxOverruns         int
	clockRate           uint32
}

func (p Params) limits() limits {
	return limits{
		min:                 toSamples(p.MinDelay, p.ClockRate),
		max:                 toSamples(p.MaxDelay, p.ClockRate),
		initial:             toSamples(p.CurrentDelay, p.ClockRate),
		grow:                toSamples(p.GrowIncrement, p.ClockRate),
		shrink:              toSamples(p.ShrinkDecrement, p.ClockRate),
		silenceShrink:       toSamples(p.SilenceShrinkDecrement, p.ClockRate),
		minFrame:            lo.Max([]int64{1, toSamples(minFrameTime, p.ClockRate)}),
		jump:                toSamples(maxTimestampJump, p.ClockRate),
		shrinkPeriod:        p.ShrinkPeriod,
		silenceShrinkPeriod: p.SilenceShrinkPeriod,
		driftPeriod:         p.DriftPeriod,
		driftThreshold:      p.DriftLateThreshold,
		maxMarkers:          p.MaxConsecutiveMarkerBits,
		maxOverruns:         p.MaxConsecutiveOverruns,
		clockRate:           p.ClockRate,
	}
}

func toSamples(d time.Duration, rate uint32) int64 {
	return int64(d/time.Second)*int64(rate) + int64(d%time.Second)*int64(rate)/int64(time.Second)
}

func toDuration(samples int64, rate uint32) time.Duration {
	if rate == 0 {
		return 0
	}
	return time.Duration(samples/int64(rate))*time.Second +
		time.Duration(samples%int64(rate))*time.Second/time.Duration(rate)
}
