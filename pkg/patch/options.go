package patch

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// DefaultIdleBackoff is how long the worker waits after an empty read
// from a source that does not pace itself.
const DefaultIdleBackoff = 5 * time.Millisecond

type options struct {
	clock   clockwork.Clock
	backoff time.Duration
	logger  *logrus.Entry
}

type Option func(*options)

func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithIdleBackoff sets the wait after an empty read from an asynchronous
// source.
func WithIdleBackoff(d time.Duration) Option {
	return func(o *options) {
		o.backoff = d
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:   clockwork.NewRealClock(),
		backoff: DefaultIdleBackoff,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return o
}
