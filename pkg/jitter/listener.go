package jitter

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Listener receives buffer events. Methods are called with the buffer lock
// held and must not call back into the buffer.
type Listener interface {
	OnPacketTooLate(ts, lastReleased int64)
	OnOverrun(evicted int64, buffered int)
	OnDelayChanged(old, new time.Duration)
	OnDriftDrop(dropped int64)
	OnStateChanged(old, new State)
}

type NullListener struct{}

func (NullListener) OnPacketTooLate(ts, lastReleased int64) {}

func (NullListener) OnOverrun(evicted int64, buffered int) {}

func (NullListener) OnDelayChanged(old, new time.Duration) {}

func (NullListener) OnDriftDrop(dropped int64) {}

func (NullListener) OnStateChanged(old, new State) {}

// LogListener writes every event to a logrus entry. Per-unit anomalies go
// to Debug, delay and state changes to Info.
type LogListener struct {
	Entry *logrus.Entry
}

func NewLogListener(entry *logrus.Entry) *LogListener {
	return &LogListener{Entry: entry}
}

func (l *LogListener) OnPacketTooLate(ts, lastReleased int64) {
	l.Entry.WithFields(logrus.Fields{
		"timestamp":     ts,
		"last_released": lastReleased,
	}).Debug("jitter: packet too late")
}

func (l *LogListener) OnOverrun(evicted int64, buffered int) {
	l.Entry.WithFields(logrus.Fields{
		"evicted":  evicted,
		"buffered": buffered,
	}).Debug("jitter: buffer overrun")
}

func (l *LogListener) OnDelayChanged(old, new time.Duration) {
	l.Entry.WithFields(logrus.Fields{
		"old": old,
		"new": new,
	}).Info("jitter: delay changed")
}

func (l *LogListener) OnDriftDrop(dropped int64) {
	l.Entry.WithField("dropped", dropped).Debug("jitter: drift drop")
}

func (l *LogListener) OnStateChanged(old, new State) {
	l.Entry.WithFields(logrus.Fields{
		"old": old.String(),
		"new": new.String(),
	}).Info("jitter: state changed")
}
