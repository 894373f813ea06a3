// Package jitter absorbs arrival-time variation of inbound RTP media and
// releases units to a consumer at a smoothly increasing timestamp.
//
// Two implementations are provided: Adaptive, which adapts its playout
// delay to observed lateness and silence, and Null, a pass-through FIFO for
// media that needs no timing smoothing. A Factory selects between them by
// media type.
package jitter

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/channel-io/go-jitter/pkg/media"
)

// ErrClosed is returned by ReadData once the buffer has been closed.
var ErrClosed = errors.New("jitter: buffer closed")

// Buffer is a jitter buffer. WriteData is called from the network receive
// path and ReadData from the consumer; the two never block each other
// beyond a short critical section.
type Buffer interface {
	// WriteData inserts one received unit. It returns false only when the
	// buffer is closed or pkt is nil. Late, duplicate and overflowing units
	// are dropped and counted, not reported.
	WriteData(pkt *rtp.Packet, arrival time.Time) bool

	// ReadData blocks until a unit is due, the timeout elapses or the
	// buffer is closed. On timeout it returns a unit with an empty payload
	// and a nil error. A timeout <= 0 blocks until data or close.
	ReadData(timeout time.Duration) (*rtp.Packet, error)

	// SetDelay reconfigures the buffer while it is in use.
	SetDelay(params Params) error

	// SetSilent tells the buffer whether the consumer currently considers
	// the stream silent.
	SetSilent(silent bool)

	// Restart drops buffered media, clears all counters and re-enters
	// Start. The configuration is kept.
	Restart()

	// Close releases any blocked reader. It is safe to call more than once.
	Close()

	// Stats reads the counters without taking the buffer lock.
	Stats() Stats
}

// Constructor builds a buffer for one stream.
type Constructor func(params Params, opts ...Option) (Buffer, error)

// Factory selects a buffer implementation by media type. Each Factory
// carries its own table so different owners can register different
// implementations.
type Factory struct {
	mu       sync.RWMutex
	ctors    map[media.Type]Constructor
	fallback Constructor
	opts     []Option
}

// NewFactory returns a factory mapping audio to Adaptive and everything
// else to Null. opts are passed to every buffer it creates.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		ctors:    make(map[media.Type]Constructor),
		fallback: newNullBuffer,
		opts:     opts,
	}
	f.Register(media.TypeAudio, newAdaptiveBuffer)
	return f
}

// Register sets the constructor used for media type t.
func (f *Factory) Register(t media.Type, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[t] = c
}

// Create builds a buffer for a stream of media type t.
func (f *Factory) Create(t media.Type, params Params) (Buffer, error) {
	f.mu.RLock()
	c, ok := f.ctors[t]
	if !ok {
		c = f.fallback
	}
	f.mu.RUnlock()

	b, err := c(params, f.opts...)
	if err != nil {
		return nil, fmt.Errorf("create %s jitter buffer: %w", t, err)
	}
	return b, nil
}

func newAdaptiveBuffer(params Params, opts ...Option) (Buffer, error) {
	b, err := NewAdaptive(params, opts...)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func newNullBuffer(params Params, opts ...Option) (Buffer, error) {
	b, err := NewNull(params, opts...)
	if err != nil {
		return nil, err
	}
	return b, nil
}

type options struct {
	clock    clockwork.Clock
	listener Listener
	logger   *logrus.Entry
}

// Option configures a buffer.
type Option func(*options)

// WithClock sets the clock used for release timing and read timeouts.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithListener sets the receiver of buffer events.
func WithListener(l Listener) Option {
	return func(o *options) {
		o.listener = l
	}
}

// WithLogger sets the log entry used for lifecycle messages.
func WithLogger(l *logrus.Entry) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.listener == nil {
		o.listener = NullListener{}
	}
	if o.logger == nil {
		o.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return o
}
