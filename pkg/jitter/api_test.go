package jitter

import (
	"errors"
	"testing"
	"time"

	"github.com/huandu/go-assert"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/channel-io/go-jitter/pkg/media"
)

func TestFactory(t *testing.T) {
	f := NewFactory()

	b, err := f.Create(media.TypeAudio, DefaultParams())
	assert.Equal(t, err, nil)
	_, ok := b.(*Adaptive)
	assert.Assert(t, ok)

	b, err = f.Create(media.TypeVideo, DefaultParams().WithClockRate(90000))
	assert.Equal(t, err, nil)
	_, ok = b.(*Null)
	assert.Assert(t, ok)

	params := DefaultParams()
	params.MinDelay = 300 * time.Millisecond
	_, err = f.Create(media.TypeAudio, params)
	assert.Assert(t, errors.Is(err, ErrInvalidParams))
}

func TestFactoryRegister(t *testing.T) {
	f := NewFactory()
	f.Register(media.TypeAudio, newNullBuffer)

	b, err := f.Create(media.TypeAudio, DefaultParams())
	assert.Equal(t, err, nil)
	_, ok := b.(*Null)
	assert.Assert(t, ok)

	// registrations do not leak between factories
	b, err = NewFactory().Create(media.TypeAudio, DefaultParams())
	assert.Equal(t, err, nil)
	_, ok = b.(*Adaptive)
	assert.Assert(t, ok)
}

func TestParamsValidate(t *testing.T) {
	assert.Equal(t, DefaultParams().Validate(), nil)

	cases := []func(p *Params){
		func(p *Params) { p.ClockRate = 0 },
		func(p *Params) { p.MinDelay = -time.Millisecond },
		func(p *Params) { p.MaxDelay = 10 * time.Millisecond },
		func(p *Params) { p.CurrentDelay = time.Second },
		func(p *Params) { p.GrowIncrement = -time.Millisecond },
		func(p *Params) { p.ShrinkPeriod = 0 },
		func(p *Params) { p.DriftLateThreshold = 0 },
	}
	for _, mutate := range cases {
		p := DefaultParams()
		mutate(&p)
		assert.Assert(t, errors.Is(p.Validate(), ErrInvalidParams))
	}
}

func TestParamsLimits(t *testing.T) {
	lim := DefaultParams().limits()
	assert.Equal(t, lim.min, int64(320))
	assert.Equal(t, lim.max, int64(2000))
	assert.Equal(t, lim.grow, int64(80))
	assert.Equal(t, lim.minFrame, int64(40))

	assert.Equal(t, toDuration(320, 8000), 40*time.Millisecond)
	assert.Equal(t, toDuration(-80, 8000), -10*time.Millisecond)
}

type recordingListener struct {
	NullListener
	delays []time.Duration
	states []State
}

func (l *recordingListener) OnDelayChanged(_, new time.Duration) {
	l.delays = append(l.delays, new)
}

func (l *recordingListener) OnStateChanged(_, new State) {
	l.states = append(l.states, new)
}

func TestListener(t *testing.T) {
	l := &recordingListener{}
	b, err := NewAdaptive(DefaultParams(), WithListener(l))
	assert.Equal(t, err, nil)

	b.WriteData(packet(0), at(0))
	b.WriteData(packet(1), at(200))

	assert.Equal(t, l.delays, []time.Duration{50 * time.Millisecond})
	assert.Equal(t, l.states, []State{Fill})
}

func TestLogListener(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	b, err := NewAdaptive(DefaultParams(), WithListener(NewLogListener(logrus.NewEntry(logger))))
	assert.Equal(t, err, nil)

	b.WriteData(packet(0), at(0))
	b.WriteData(packet(1), at(200))
	assertPop(t, b, 300, 0)
	b.WriteData(packet(0), at(310))

	var messages []string
	for _, e := range hook.AllEntries() {
		messages = append(messages, e.Message)
	}
	assert.Equal(t, messages, []string{
		"jitter: state changed",
		"jitter: delay changed",
		"jitter: packet too late",
	})
	assert.Equal(t, hook.LastEntry().Level, logrus.DebugLevel)
}
