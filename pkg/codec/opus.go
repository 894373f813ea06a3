package codec

import (
	"fmt"
	"time"

	"github.com/pion/opus"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/channel-io/go-jitter/pkg/media"
)

// opusBufferSize fits the longest SILK frame, 60ms of 48kHz mono PCM16.
const opusBufferSize = 2880 * 2

// silkFrameTimes are the frame durations of SILK configurations, indexed by
// configuration number modulo four.
var silkFrameTimes = [...]time.Duration{
	10 * time.Millisecond,
	20 * time.Millisecond,
	40 * time.Millisecond,
	60 * time.Millisecond,
}

// OpusDecoder decodes Opus into 48kHz PCM16.
type OpusDecoder struct {
	in, out media.Format
	decoder opus.Decoder
	buf     []byte
	log     *logrus.Entry
}

func NewOpusDecoder(in, out media.Format) (Transcoder, error) {
	if !in.Matches(media.FormatOpus) {
		return nil, fmt.Errorf("%w: %s is not Opus", ErrNoTranscoder, in)
	}
	if !isPCM16(out) || out.ClockRate != media.FormatOpus.ClockRate {
		return nil, fmt.Errorf("%w: Opus decodes to PCM16/48000, not %s", ErrNoTranscoder, out)
	}

	return &OpusDecoder{
		in:      in,
		out:     out,
		decoder: opus.NewDecoder(),
		buf:     make([]byte, opusBufferSize),
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}, nil
}

func (d *OpusDecoder) setLogger(l *logrus.Entry) {
	d.log = l
}

func (d *OpusDecoder) InputFormat() media.Format  { return d.in }
func (d *OpusDecoder) OutputFormat() media.Format { return d.out }

func (d *OpusDecoder) Convert(pkt *rtp.Packet, dst []*rtp.Packet) ([]*rtp.Packet, error) {
	if len(pkt.Payload) == 0 {
		return dst, nil
	}

	bandwidth, isStereo, err := d.decoder.Decode(pkt.Payload, d.buf)
	if err != nil {
		return dst, fmt.Errorf("opus decode failed: %w", err)
	}
	if isStereo {
		d.log.WithField("bandwidth", bandwidth.String()).Debug("codec: stereo Opus decoded as mono")
	}

	n := decodedBytes(pkt.Payload[0])
	if n > len(d.buf) {
		n = len(d.buf)
	}
	payload := make([]byte, n)
	copy(payload, d.buf)

	return append(dst, derive(pkt, d.out, pkt.SequenceNumber, pkt.Timestamp, payload)), nil
}

// decodedBytes is the 48kHz mono PCM16 size of a SILK packet with TOC byte
// toc. Other configurations fail to decode before this is used.
func decodedBytes(toc byte) int {
	frameTime := silkFrameTimes[(toc>>3)%4]
	return int(media.FormatPCM16Full.DurationToSamples(frameTime)) * 2
}

func (d *OpusDecoder) UpdateOutputFormat(f media.Format) error {
	if !d.out.Matches(f) {
		return fmt.Errorf("%w: %s to %s", media.ErrUnsupported, d.out, f)
	}
	d.out = f
	return nil
}

// ExecuteCommand handles flush by starting a fresh decoder.
func (d *OpusDecoder) ExecuteCommand(c media.Command) error {
	if c.Type == media.CommandFlush {
		d.decoder = opus.NewDecoder()
		return nil
	}
	return fmt.Errorf("%w: command %s", media.ErrUnsupported, c)
}
