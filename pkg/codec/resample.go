package codec

import (
	"fmt"

	"github.com/pion/rtp"

	"github.com/channel-io/go-jitter/pkg/media"
)

// Resampler converts mono PCM16 between clock rates by linear
// interpolation. State carries across units so frame boundaries do not
// click.
type Resampler struct {
	in, out media.Format

	position int64 // read position, in input samples times the output rate
	last     int16 // final sample of the previous input
	primed   bool

	ts      uint32
	seq     uint16
	started bool
	scratch []int16
}

func NewResampler(in, out media.Format) (Transcoder, error) {
	if !isPCM16(in) || !isPCM16(out) {
		return nil, fmt.Errorf("%w: resampler needs PCM16, got %s to %s", ErrNoTranscoder, in, out)
	}
	if in.ClockRate == 0 || out.ClockRate == 0 {
		return nil, fmt.Errorf("invalid sample rates: input=%d, output=%d", in.ClockRate, out.ClockRate)
	}
	return &Resampler{in: in, out: out}, nil
}

func (r *Resampler) InputFormat() media.Format  { return r.in }
func (r *Resampler) OutputFormat() media.Format { return r.out }

func (r *Resampler) Convert(pkt *rtp.Packet, dst []*rtp.Packet) ([]*rtp.Packet, error) {
	if len(pkt.Payload) == 0 {
		return dst, nil
	}
	if !r.started {
		r.started = true
		r.seq = pkt.SequenceNumber
		r.ts = uint32(uint64(pkt.Timestamp) * uint64(r.out.ClockRate) / uint64(r.in.ClockRate))
	}

	r.scratch = bytesToSamples(pkt.Payload, r.scratch[:0])
	samples := r.resample(r.scratch)
	if len(samples) == 0 {
		return dst, nil
	}

	dst = append(dst, derive(pkt, r.out, r.seq, r.ts, samplesToBytes(samples)))
	r.seq++
	r.ts += uint32(len(samples))
	return dst, nil
}

// resample interpolates over the previous unit's last sample followed by
// input. position counts input samples in units of 1/outRate so the output
// length stays exact over any number of units.
func (r *Resampler) resample(input []int16) []int16 {
	n := int64(len(input))
	if n == 0 {
		return nil
	}
	if !r.primed {
		r.primed = true
		r.last = input[0]
	}

	at := func(i int64) float64 {
		if i == 0 {
			return float64(r.last)
		}
		return float64(input[i-1])
	}

	inRate, outRate := int64(r.in.ClockRate), int64(r.out.ClockRate)
	output := make([]int16, 0, n*outRate/inRate+1)
	for r.position < n*outRate {
		i := r.position / outRate
		frac := float64(r.position%outRate) / float64(outRate)
		output = append(output, int16(at(i)*(1-frac)+at(i+1)*frac))
		r.position += inRate
	}

	r.position -= n * outRate
	r.last = input[n-1]
	return output
}

// UpdateOutputFormat changes the output clock rate.
func (r *Resampler) UpdateOutputFormat(f media.Format) error {
	if !isPCM16(f) || f.ClockRate == 0 {
		return fmt.Errorf("%w: %s to %s", media.ErrUnsupported, r.out, f)
	}
	if f.ClockRate != r.out.ClockRate {
		r.position = r.position * int64(f.ClockRate) / int64(r.out.ClockRate)
		if r.started {
			r.ts = uint32(uint64(r.ts) * uint64(f.ClockRate) / uint64(r.out.ClockRate))
		}
	}
	r.out = f
	return nil
}

func (r *Resampler) ExecuteCommand(c media.Command) error {
	if c.Type == media.CommandFlush {
		r.position = 0
		r.primed = false
		return nil
	}
	return fmt.Errorf("%w: command %s", media.ErrUnsupported, c)
}
