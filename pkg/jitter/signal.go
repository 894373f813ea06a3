package jitter

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pion/rtp"
)

// signal decouples writers from a blocked reader. wake holds at most one
// pending notification; closed is closed exactly once.
type signal struct {
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newSignal() *signal {
	return &signal{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (s *signal) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *signal) close() bool {
	first := false
	s.once.Do(func() {
		close(s.closed)
		first = true
	})
	return first
}

func (s *signal) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// popFunc returns the next due unit, or nil and how long until one is due
// (zero when nothing is buffered).
type popFunc func(now time.Time) (*rtp.Packet, time.Duration)

func (s *signal) wait(clock clockwork.Clock, timeout time.Duration, pop popFunc) (*rtp.Packet, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := clock.NewTimer(timeout)
		defer t.Stop()
		deadline = t.Chan()
	}

	for {
		if s.isClosed() {
			return nil, ErrClosed
		}

		pkt, wait := pop(clock.Now())
		if pkt != nil {
			return pkt, nil
		}

		var (
			due   <-chan time.Time
			timer clockwork.Timer
		)
		if wait > 0 {
			timer = clock.NewTimer(wait)
			due = timer.Chan()
		}

		select {
		case <-s.closed:
		case <-s.wake:
		case <-due:
		case <-deadline:
			if timer != nil {
				timer.Stop()
			}
			return &rtp.Packet{}, nil
		}

		if timer != nil {
			timer.Stop()
		}
	}
}
