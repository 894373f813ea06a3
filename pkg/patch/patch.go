// Package patch moves media from one source stream to any number of sink
// streams. Each sink has its own transcoder chain; a single ordered filter
// chain is shared by all of them.
//
// An active patch owns a worker goroutine that reads the source until it
// ends or the patch is closed. A passive patch has no worker; the owner
// pushes units with PushFrame.
package patch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pion/rtp"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/channel-io/go-jitter/pkg/codec"
	"github.com/channel-io/go-jitter/pkg/media"
	"github.com/channel-io/go-jitter/pkg/ssrc"
)

var (
	ErrClosed     = errors.New("patch: closed")
	ErrNotPassive = errors.New("patch: not a passive patch")
	ErrSinkExists = errors.New("patch: sink already attached")
)

// State is the lifecycle of a patch. Closing is entered once and never
// left.
type State int32

const (
	Created State = iota
	Started
	Running
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Started:
		return "Started"
	case Running:
		return "Running"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	}
	return "unknown"
}

// Stats is a snapshot of patch counters.
type Stats struct {
	State      State
	Read       uint64
	Dispatched uint64
	Sinks      int
	Filters    int

	// Source is stamped when the patch reads a unit, so for a source
	// behind a jitter buffer Jitter measures delivery timing after
	// smoothing. Network arrival jitter is in stream.SessionStats.
	Source ssrc.Stats
}

type Patch struct {
	id       string
	source   media.Source
	registry *codec.Registry
	passive  bool

	mu      sync.Mutex
	sinks   []*Sink
	filters []*Filter
	srcCtx  *ssrc.Context

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	// lifecycle orders Start's worker launch against Close.
	lifecycle sync.Mutex
	closeOnce sync.Once
	closeErr  error

	clock   clockwork.Clock
	backoff time.Duration
	log     *logrus.Entry

	read       atomic.Uint64
	dispatched atomic.Uint64
}

// New creates an active patch reading from source. Transcoder chains for
// sinks come from registry.
func New(source media.Source, registry *codec.Registry, opts ...Option) *Patch {
	o := buildOptions(opts)
	if registry == nil {
		registry = codec.NewDefaultRegistry(codec.WithLogger(o.logger))
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	return &Patch{
		id:       id,
		source:   source,
		registry: registry,
		srcCtx:   ssrc.NewContext(source.Format().ClockRate),
		ctx:      ctx,
		cancel:   cancel,
		group:    group,
		clock:    o.clock,
		backoff:  o.backoff,
		log: o.logger.WithFields(logrus.Fields{
			"patch":  id,
			"source": source.ID(),
		}),
	}
}

// NewPassive creates a patch without a worker. Units are delivered with
// PushFrame.
func NewPassive(source media.Source, registry *codec.Registry, opts ...Option) *Patch {
	p := New(source, registry, opts...)
	p.passive = true
	return p
}

func (p *Patch) ID() string {
	return p.id
}

func (p *Patch) Source() media.Source {
	return p.source
}

func (p *Patch) State() State {
	return State(p.state.Load())
}

// Start begins relaying. Calling it again, or after Close, does nothing.
func (p *Patch) Start() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if !p.state.CompareAndSwap(int32(Created), int32(Started)) {
		return
	}
	if p.passive {
		p.state.CompareAndSwap(int32(Started), int32(Running))
		return
	}
	p.group.Go(p.run)
}

func (p *Patch) run() error {
	p.state.CompareAndSwap(int32(Started), int32(Running))
	p.log.Info("patch: worker started")
	defer p.log.Info("patch: worker stopped")

	for p.ctx.Err() == nil {
		pkt, err := p.source.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) || p.ctx.Err() != nil || !p.source.IsOpen() {
				return nil
			}
			p.log.WithError(err).Debug("patch: source read failed")
			p.idle()
			continue
		}

		if pkt == nil || len(pkt.Payload) == 0 {
			if !p.source.IsSynchronous() {
				p.idle()
			}
			continue
		}

		p.read.Add(1)
		p.dispatch(pkt)
	}
	return nil
}

func (p *Patch) idle() {
	select {
	case <-p.ctx.Done():
	case <-p.clock.After(p.backoff):
	}
}

// dispatch runs one fan-out iteration: source stage filters, then every
// sink in registration order.
func (p *Patch) dispatch(pkt *rtp.Packet) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() >= Closing {
		return
	}

	p.srcCtx.Record(pkt, p.clock.Now())
	p.filterFrameLocked(pkt, p.source.Format())
	for _, s := range p.sinks {
		s.write(p, pkt)
	}
	p.dispatched.Add(1)
}

// PushFrame runs one fan-out iteration for pkt on a passive patch.
func (p *Patch) PushFrame(pkt *rtp.Packet) error {
	if !p.passive {
		return ErrNotPassive
	}
	if p.State() >= Closing {
		return ErrClosed
	}
	if pkt == nil || len(pkt.Payload) == 0 {
		return nil
	}

	p.read.Add(1)
	p.dispatch(pkt)
	return nil
}

// AddSink attaches stream. The transcoder chain from the source format to
// the stream's format is built now; payloadMap rewrites payload types of
// the chain's output.
func (p *Patch) AddSink(stream media.Sink, payloadMap map[uint8]uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() >= Closing {
		return ErrClosed
	}
	if lo.ContainsBy(p.sinks, func(s *Sink) bool { return s.stream == stream }) {
		return fmt.Errorf("%w: %s", ErrSinkExists, stream.ID())
	}

	primary, secondary, err := p.registry.Chain(p.source.Format(), stream.Format())
	if err != nil {
		return fmt.Errorf("add sink %s: %w", stream.ID(), err)
	}

	s := newSink(stream, payloadMap, primary, secondary, p.log)
	p.sinks = append(p.sinks, s)

	s.log.WithFields(logrus.Fields{
		"format":    stream.Format().String(),
		"primary":   primary != nil,
		"secondary": secondary != nil,
	}).Info("patch: sink added")
	return nil
}

// RemoveSink detaches stream without closing it.
func (p *Patch) RemoveSink(stream media.Sink) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, i, ok := lo.FindIndexOf(p.sinks, func(s *Sink) bool { return s.stream == stream })
	if !ok {
		return false
	}
	p.sinks[i].log.Info("patch: sink removed")
	p.sinks = append(p.sinks[:i], p.sinks[i+1:]...)
	return true
}

// SinkFormat returns the format of the i-th sink stream.
func (p *Patch) SinkFormat(i int) (media.Format, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i < 0 || i >= len(p.sinks) {
		return media.Format{}, false
	}
	return p.sinks[i].stream.Format(), true
}

// UpdateMediaFormat propagates a format change. A change requested by a
// sink goes to the source; otherwise it goes to every sink's chain. Each
// target's failure is reported without stopping the others.
func (p *Patch) UpdateMediaFormat(f media.Format, fromSink bool) error {
	if fromSink {
		if err := p.source.UpdateMediaFormat(f); err != nil {
			return fmt.Errorf("source %s: %w", p.source.ID(), err)
		}
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, s := range p.sinks {
		errs = append(errs, s.updateMediaFormat(f))
	}
	return errors.Join(errs...)
}

// ExecuteCommand propagates a control command the same way as
// UpdateMediaFormat.
func (p *Patch) ExecuteCommand(c media.Command, fromSink bool) error {
	if fromSink {
		if err := p.source.ExecuteCommand(c); err != nil {
			return fmt.Errorf("source %s: %w", p.source.ID(), err)
		}
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, s := range p.sinks {
		errs = append(errs, s.executeCommand(c))
	}
	return errors.Join(errs...)
}

// Close stops the patch: the source is closed to release a blocked read,
// every sink stream is closed once any in-flight iteration completes, and
// the worker is joined. After Close returns the worker no longer touches
// patch or sink state.
func (p *Patch) Close() error {
	p.closeOnce.Do(func() {
		p.lifecycle.Lock()
		p.state.Store(int32(Closing))
		p.lifecycle.Unlock()
		p.cancel()

		var errs []error
		if err := p.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", p.source.ID(), err))
		}

		p.mu.Lock()
		for _, s := range p.sinks {
			if err := s.stream.Close(); err != nil {
				errs = append(errs, wrapSink(s, err))
			}
		}
		p.mu.Unlock()

		errs = append(errs, p.group.Wait())

		p.state.Store(int32(Closed))
		p.closeErr = errors.Join(errs...)
		p.log.Info("patch: closed")
	})
	return p.closeErr
}

func (p *Patch) Stats() Stats {
	p.mu.Lock()
	sinks, filters := len(p.sinks), len(p.filters)
	p.mu.Unlock()

	return Stats{
		State:      p.State(),
		Read:       p.read.Load(),
		Dispatched: p.dispatched.Load(),
		Sinks:      sinks,
		Filters:    filters,
		Source:     p.srcCtx.Stats(),
	}
}

func (p *Patch) SinkStats() []SinkStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return lo.Map(p.sinks, func(s *Sink, _ int) SinkStats {
		return s.stats()
	})
}
