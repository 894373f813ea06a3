package codec

import (
	"fmt"

	"github.com/pion/rtp"
	"github.com/zaf/g711"

	"github.com/channel-io/go-jitter/pkg/media"
)

func isUlaw(f media.Format) bool { return f.Matches(media.FormatPCMU) }
func isAlaw(f media.Format) bool { return f.Matches(media.FormatPCMA) }

func isPCM16(f media.Format) bool {
	return f.Name == media.FormatPCM16.Name
}

// G711Decoder expands PCMU or PCMA into 8kHz PCM16, one unit per unit.
type G711Decoder struct {
	*Func
}

func NewG711Decoder(in, out media.Format) (Transcoder, error) {
	var decode func([]byte) []byte
	switch {
	case isUlaw(in):
		decode = g711.DecodeUlaw
	case isAlaw(in):
		decode = g711.DecodeAlaw
	default:
		return nil, fmt.Errorf("%w: %s is not G.711", ErrNoTranscoder, in)
	}
	if !isPCM16(out) || out.ClockRate != in.ClockRate {
		return nil, fmt.Errorf("%w: G.711 decodes to PCM16/%d, not %s", ErrNoTranscoder, in.ClockRate, out)
	}

	d := &G711Decoder{}
	d.Func = NewFunc(in, out, func(pkt *rtp.Packet, dst []*rtp.Packet) ([]*rtp.Packet, error) {
		if len(pkt.Payload) == 0 {
			return dst, nil
		}
		return append(dst, derive(pkt, d.out, pkt.SequenceNumber, pkt.Timestamp, decode(pkt.Payload))), nil
	})
	return d, nil
}

// G711Transcoder converts directly between the two companding laws.
type G711Transcoder struct {
	*Func
}

func NewG711Transcoder(in, out media.Format) (Transcoder, error) {
	var convert func([]byte) []byte
	switch {
	case isUlaw(in) && isAlaw(out):
		convert = g711.Ulaw2Alaw
	case isAlaw(in) && isUlaw(out):
		convert = g711.Alaw2Ulaw
	default:
		return nil, fmt.Errorf("%w: %s to %s", ErrNoTranscoder, in, out)
	}

	c := &G711Transcoder{}
	c.Func = NewFunc(in, out, func(pkt *rtp.Packet, dst []*rtp.Packet) ([]*rtp.Packet, error) {
		if len(pkt.Payload) == 0 {
			return dst, nil
		}
		return append(dst, derive(pkt, c.out, pkt.SequenceNumber, pkt.Timestamp, convert(pkt.Payload))), nil
	})
	return c, nil
}

// G711Encoder compresses PCM16 into PCMU or PCMA. Input is reframed to the
// output frame time, so one input unit may yield zero or several output
// units.
type G711Encoder struct {
	in, out media.Format
	encode  func([]byte) []byte
	framer  *framer
	seq     uint16
	started bool
	scratch []int16
}

func NewG711Encoder(in, out media.Format) (Transcoder, error) {
	e := &G711Encoder{in: in, out: out}
	switch {
	case isUlaw(out):
		e.encode = g711.EncodeUlaw
	case isAlaw(out):
		e.encode = g711.EncodeAlaw
	default:
		return nil, fmt.Errorf("%w: %s is not G.711", ErrNoTranscoder, out)
	}
	if !isPCM16(in) || in.ClockRate != out.ClockRate {
		return nil, fmt.Errorf("%w: G.711 encodes PCM16/%d, not %s", ErrNoTranscoder, out.ClockRate, in)
	}
	e.framer = newFramer(out.SamplesPerFrame())
	return e, nil
}

func (e *G711Encoder) InputFormat() media.Format  { return e.in }
func (e *G711Encoder) OutputFormat() media.Format { return e.out }

func (e *G711Encoder) Convert(pkt *rtp.Packet, dst []*rtp.Packet) ([]*rtp.Packet, error) {
	if len(pkt.Payload) == 0 {
		return dst, nil
	}
	if !e.started {
		e.started = true
		e.seq = pkt.SequenceNumber
	}

	e.scratch = bytesToSamples(pkt.Payload, e.scratch[:0])
	e.framer.push(pkt.Timestamp, e.scratch)

	for {
		frame, ts, ok := e.framer.pop()
		if !ok {
			break
		}
		dst = append(dst, derive(pkt, e.out, e.seq, ts, e.encode(samplesToBytes(frame))))
		e.seq++
	}
	return dst, nil
}

// UpdateOutputFormat switches between the companding laws or changes the
// frame time.
func (e *G711Encoder) UpdateOutputFormat(f media.Format) error {
	switch {
	case isUlaw(f):
		e.encode = g711.EncodeUlaw
	case isAlaw(f):
		e.encode = g711.EncodeAlaw
	default:
		return fmt.Errorf("%w: %s to %s", media.ErrUnsupported, e.out, f)
	}
	e.out = f
	e.framer.resize(f.SamplesPerFrame())
	return nil
}

func (e *G711Encoder) ExecuteCommand(c media.Command) error {
	if c.Type == media.CommandFlush {
		e.framer.reset()
		return nil
	}
	return fmt.Errorf("%w: command %s", media.ErrUnsupported, c)
}
