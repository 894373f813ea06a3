package patch

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/channel-io/go-jitter/pkg/codec"
	"github.com/channel-io/go-jitter/pkg/media"
)

// Sink is one destination of a patch with its own transcoder chain.
// Everything except the counters is guarded by the patch mutex.
type Sink struct {
	id         string
	stream     media.Sink
	payloadMap map[uint8]uint8

	primary   codec.Transcoder
	secondary codec.Transcoder

	intermediate []*rtp.Packet
	final        []*rtp.Packet

	writeSuccessful bool
	log             *logrus.Entry

	written         atomic.Uint64
	writeFailures   atomic.Uint64
	convertFailures atomic.Uint64
	lastWriteOK     atomic.Bool
}

// SinkStats is a snapshot of one sink's counters.
type SinkStats struct {
	ID              string
	StreamID        string
	Format          media.Format
	Written         uint64
	WriteFailures   uint64
	ConvertFailures uint64
	WriteSuccessful bool
}

func newSink(stream media.Sink, payloadMap map[uint8]uint8, primary, secondary codec.Transcoder, log *logrus.Entry) *Sink {
	id := uuid.New().String()
	s := &Sink{
		id:              id,
		stream:          stream,
		payloadMap:      payloadMap,
		primary:         primary,
		secondary:       secondary,
		intermediate:    make([]*rtp.Packet, 0, 4),
		final:           make([]*rtp.Packet, 0, 4),
		writeSuccessful: true,
		log: log.WithFields(logrus.Fields{
			"sink":   id,
			"stream": stream.ID(),
		}),
	}
	s.lastWriteOK.Store(true)
	return s
}

func (s *Sink) ID() string {
	return s.id
}

// write converts pkt through the sink's chain and writes the result. pkt
// is owned by the caller and not modified.
func (s *Sink) write(p *Patch, pkt *rtp.Packet) {
	unit := pkt.Clone()

	s.intermediate = s.intermediate[:0]
	if s.primary == nil {
		s.intermediate = append(s.intermediate, unit)
	} else {
		out, err := s.primary.Convert(unit, s.intermediate)
		s.intermediate = out
		if err != nil {
			s.convertFailed(err)
			return
		}
		s.filter(p, s.intermediate, s.primary.OutputFormat())
	}

	s.final = s.final[:0]
	if s.secondary == nil {
		s.final = append(s.final, s.intermediate...)
	} else {
		for _, u := range s.intermediate {
			out, err := s.secondary.Convert(u, s.final)
			s.final = out
			if err != nil {
				s.convertFailed(err)
				return
			}
		}
		s.filter(p, s.final, s.secondary.OutputFormat())
	}

	for _, u := range s.final {
		if pt, ok := s.payloadMap[u.PayloadType]; ok {
			u.PayloadType = pt
		}
		s.writeOne(u)
	}
}

func (s *Sink) filter(p *Patch, units []*rtp.Packet, format media.Format) {
	for _, u := range units {
		p.filterFrameLocked(u, format)
	}
}

func (s *Sink) writeOne(u *rtp.Packet) {
	if err := s.stream.WritePacket(u); err != nil {
		s.writeFailures.Add(1)
		if s.writeSuccessful {
			s.log.WithError(err).Warn("patch: sink write failed")
		}
		s.writeSuccessful = false
		s.lastWriteOK.Store(false)
		return
	}

	s.written.Add(1)
	if !s.writeSuccessful {
		s.log.Info("patch: sink write recovered")
	}
	s.writeSuccessful = true
	s.lastWriteOK.Store(true)
}

func (s *Sink) convertFailed(err error) {
	if s.convertFailures.Add(1) == 1 {
		s.log.WithError(err).Warn("patch: transcoder failed")
	} else {
		s.log.WithError(err).Debug("patch: transcoder failed")
	}
}

// updateMediaFormat applies f to the last stage of the chain and to the
// stream.
func (s *Sink) updateMediaFormat(f media.Format) error {
	var errs []error
	switch {
	case s.secondary != nil:
		errs = append(errs, s.secondary.UpdateOutputFormat(f))
	case s.primary != nil:
		errs = append(errs, s.primary.UpdateOutputFormat(f))
	}
	errs = append(errs, s.stream.UpdateMediaFormat(f))
	return wrapSink(s, errors.Join(errs...))
}

// executeCommand offers c to every stage and the stream. Stages that do
// not know the command are skipped; it is an error only if nobody handled
// it.
func (s *Sink) executeCommand(c media.Command) error {
	var (
		errs    []error
		handled bool
	)
	offer := func(err error) {
		switch {
		case err == nil:
			handled = true
		case errors.Is(err, media.ErrUnsupported):
		default:
			errs = append(errs, err)
		}
	}

	if s.primary != nil {
		offer(s.primary.ExecuteCommand(c))
	}
	if s.secondary != nil {
		offer(s.secondary.ExecuteCommand(c))
	}
	offer(s.stream.ExecuteCommand(c))

	if !handled && len(errs) == 0 {
		errs = append(errs, fmt.Errorf("%w: command %s", media.ErrUnsupported, c))
	}
	return wrapSink(s, errors.Join(errs...))
}

func (s *Sink) stats() SinkStats {
	return SinkStats{
		ID:              s.id,
		StreamID:        s.stream.ID(),
		Format:          s.stream.Format(),
		Written:         s.written.Load(),
		WriteFailures:   s.writeFailures.Load(),
		ConvertFailures: s.convertFailures.Load(),
		WriteSuccessful: s.lastWriteOK.Load(),
	}
}

func wrapSink(s *Sink, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("sink %s: %w", s.stream.ID(), err)
}
