package codec

import (
	"fmt"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/channel-io/go-jitter/pkg/media"
)

// Factory creates a stage converting in to out.
type Factory func(in, out media.Format) (Transcoder, error)

type entry struct {
	in, out media.Format
	factory Factory
}

// Registry maps format pairs to stage factories. It is owned by whoever
// builds patches; there is no process-wide registry.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	log     *logrus.Entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the entry the registry and the stages it creates log to.
func WithLogger(l *logrus.Entry) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// loggable is implemented by stages that log while converting.
type loggable interface {
	setLogger(l *logrus.Entry)
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return r
}

// NewDefaultRegistry returns a registry with the G.711, linear PCM
// resampling and Opus decoding stages.
func NewDefaultRegistry(opts ...Option) *Registry {
	r := NewRegistry(opts...)

	r.Register(media.FormatPCMU, media.FormatPCM16, NewG711Decoder)
	r.Register(media.FormatPCMA, media.FormatPCM16, NewG711Decoder)
	r.Register(media.FormatPCM16, media.FormatPCMU, NewG711Encoder)
	r.Register(media.FormatPCM16, media.FormatPCMA, NewG711Encoder)
	r.Register(media.FormatPCMU, media.FormatPCMA, NewG711Transcoder)
	r.Register(media.FormatPCMA, media.FormatPCMU, NewG711Transcoder)

	pcm := []media.Format{media.FormatPCM16, media.FormatPCM16Wide, media.FormatPCM16Full}
	for _, in := range pcm {
		for _, out := range pcm {
			if in.ClockRate != out.ClockRate {
				r.Register(in, out, NewResampler)
			}
		}
	}

	r.Register(media.FormatOpus, media.FormatPCM16Full, NewOpusDecoder)
	return r
}

// Register adds or replaces the stage for in to out.
func (r *Registry) Register(in, out media.Format, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, i, found := lo.FindIndexOf(r.entries, func(e entry) bool {
		return e.in.Matches(in) && e.out.Matches(out)
	})
	if found {
		r.entries[i] = entry{in: in, out: out, factory: f}
	} else {
		r.entries = append(r.entries, entry{in: in, out: out, factory: f})
	}

	r.log.WithFields(logrus.Fields{
		"in":  in.String(),
		"out": out.String(),
	}).Debug("codec: registered transcoder")
}

// Create builds the stage converting in to out.
func (r *Registry) Create(in, out media.Format) (Transcoder, error) {
	r.mu.RLock()
	e, ok := r.find(in, out)
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s to %s", ErrNoTranscoder, in, out)
	}
	t, err := e.factory(in, out)
	if err != nil {
		return nil, fmt.Errorf("create transcoder %s to %s: %w", in, out, err)
	}

	log := r.log.WithFields(logrus.Fields{
		"in":  in.String(),
		"out": out.String(),
	})
	if l, ok := t.(loggable); ok {
		l.setLogger(log)
	}
	log.Debug("codec: created transcoder")
	return t, nil
}

// FindIntermediate returns a format mid such that in to mid and mid to out
// are both registered.
func (r *Registry) FindIntermediate(in, out media.Format) (media.Format, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, first := range r.entries {
		if !first.in.Matches(in) {
			continue
		}
		if _, ok := r.find(first.out, out); ok {
			return first.out, true
		}
	}
	return media.Format{}, false
}

// Chain builds the stages converting in to out: none when the formats
// match, one when a direct stage exists, otherwise two through an
// intermediate format.
func (r *Registry) Chain(in, out media.Format) (primary, secondary Transcoder, err error) {
	if in.Matches(out) {
		return nil, nil, nil
	}

	r.mu.RLock()
	_, direct := r.find(in, out)
	r.mu.RUnlock()

	if direct {
		primary, err = r.Create(in, out)
		return primary, nil, err
	}

	mid, ok := r.FindIntermediate(in, out)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s to %s", ErrNoTranscoder, in, out)
	}
	if primary, err = r.Create(in, mid); err != nil {
		return nil, nil, err
	}
	if secondary, err = r.Create(mid, out); err != nil {
		return nil, nil, err
	}
	return primary, secondary, nil
}

func (r *Registry) find(in, out media.Format) (entry, bool) {
	return lo.Find(r.entries, func(e entry) bool {
		return e.in.Matches(in) && e.out.Matches(out)
	})
}
