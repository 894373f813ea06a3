// Package codec converts media units between formats. A Transcoder is one
// conversion stage; a Registry knows which stages exist and composes a
// chain of at most two of them for a media patch sink.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/rtp"

	"github.com/channel-io/go-jitter/pkg/media"
)

// ErrNoTranscoder is returned when no stage or pair of stages converts
// between two formats.
var ErrNoTranscoder = errors.New("codec: no transcoder")

// Transcoder is one conversion stage.
type Transcoder interface {
	InputFormat() media.Format
	OutputFormat() media.Format

	// Convert appends the units produced from in to out and returns the
	// extended slice. Framing stages may produce none or several.
	Convert(in *rtp.Packet, out []*rtp.Packet) ([]*rtp.Packet, error)

	// UpdateOutputFormat changes the output format at runtime. Stages
	// return media.ErrUnsupported for changes they cannot make.
	UpdateOutputFormat(f media.Format) error

	ExecuteCommand(c media.Command) error
}

// ConvertFunc is the conversion of a stateless stage.
type ConvertFunc func(in *rtp.Packet, out []*rtp.Packet) ([]*rtp.Packet, error)

// Func adapts a ConvertFunc to a Transcoder.
type Func struct {
	in, out media.Format
	fn      ConvertFunc
}

func NewFunc(in, out media.Format, fn ConvertFunc) *Func {
	return &Func{in: in, out: out, fn: fn}
}

func (f *Func) InputFormat() media.Format  { return f.in }
func (f *Func) OutputFormat() media.Format { return f.out }

func (f *Func) Convert(in *rtp.Packet, out []*rtp.Packet) ([]*rtp.Packet, error) {
	return f.fn(in, out)
}

// UpdateOutputFormat accepts payload type and framing changes of the same
// encoding only.
func (f *Func) UpdateOutputFormat(format media.Format) error {
	if !f.out.Matches(format) {
		return fmt.Errorf("%w: %s to %s", media.ErrUnsupported, f.out, format)
	}
	f.out = format
	return nil
}

func (f *Func) ExecuteCommand(c media.Command) error {
	return fmt.Errorf("%w: command %s", media.ErrUnsupported, c)
}

// derive builds an output unit of format f carrying payload, inheriting
// identity and marker from in.
func derive(in *rtp.Packet, f media.Format, seq uint16, ts uint32, payload []byte) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         in.Marker,
			PayloadType:    f.PayloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           in.SSRC,
		},
		Payload: payload,
	}
}

// PCM16 payloads are little-endian signed 16-bit samples.

func bytesToSamples(b []byte, dst []int16) []int16 {
	for i := 0; i+1 < len(b); i += 2 {
		dst = append(dst, int16(binary.LittleEndian.Uint16(b[i:])))
	}
	return dst
}

func samplesToBytes(s []int16) []byte {
	b := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}
