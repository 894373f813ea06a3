// Package media holds the value types passed between jitter buffers, media
// patches, transcoders and streams.
package media

import (
	"fmt"
	"time"
)

// Type is the kind of media a format carries.
type Type string

const (
	TypeAudio Type = "audio"
	TypeVideo Type = "video"
	TypeData  Type = "data"
)

// Format describes the encoding of media units. The zero value is the
// empty format, which filters treat as "any format".
type Format struct {
	Name           string        // Encoding name (e.g., "PCMU", "PCM16")
	Type           Type          // Media type
	ClockRate      uint32        // RTP clock rate in Hz
	PayloadType    uint8         // RTP payload type
	FrameTime      time.Duration // Duration of one frame, zero for streamed media
	Channels       int           // Audio channels, zero means mono
	BytesPerSample int           // Encoded bytes per sample per channel, zero if not fixed
}

// Pre-defined formats.
var (
	// FormatPCMU is G.711 µ-law
	FormatPCMU = Format{Name: "PCMU", Type: TypeAudio, ClockRate: 8000, PayloadType: 0, FrameTime: 20 * time.Millisecond, BytesPerSample: 1}

	// FormatPCMA is G.711 A-law
	FormatPCMA = Format{Name: "PCMA", Type: TypeAudio, ClockRate: 8000, PayloadType: 8, FrameTime: 20 * time.Millisecond, BytesPerSample: 1}

	// FormatPCM16 is linear 16-bit little-endian PCM at narrowband rate.
	FormatPCM16 = Format{Name: "PCM16", Type: TypeAudio, ClockRate: 8000, PayloadType: 96, FrameTime: 20 * time.Millisecond, BytesPerSample: 2}

	// FormatPCM16Wide is linear PCM at wideband rate.
	FormatPCM16Wide = Format{Name: "PCM16", Type: TypeAudio, ClockRate: 16000, PayloadType: 97, FrameTime: 20 * time.Millisecond, BytesPerSample: 2}

	// FormatPCM16Full is linear PCM at the Opus clock rate.
	FormatPCM16Full = Format{Name: "PCM16", Type: TypeAudio, ClockRate: 48000, PayloadType: 98, FrameTime: 20 * time.Millisecond, BytesPerSample: 2}

	// FormatOpus is Opus at its fixed RTP clock rate.
	FormatOpus = Format{Name: "opus", Type: TypeAudio, ClockRate: 48000, PayloadType: 111, FrameTime: 20 * time.Millisecond}

	// FormatTelephoneEvent is RFC 4733 DTMF events.
	FormatTelephoneEvent = Format{Name: "telephone-event", Type: TypeAudio, ClockRate: 8000, PayloadType: 101}

	// FormatVP8 is VP8 video.
	FormatVP8 = Format{Name: "VP8", Type: TypeVideo, ClockRate: 90000, PayloadType: 100}
)

// IsEmpty reports whether f is the empty format.
func (f Format) IsEmpty() bool {
	return f.Name == ""
}

// Key identifies the encoding independent of payload type numbering.
func (f Format) Key() string {
	return fmt.Sprintf("%s/%d", f.Name, f.ClockRate)
}

// Matches reports whether f and o are the same encoding. Payload type and
// frame time are negotiation details and do not take part.
func (f Format) Matches(o Format) bool {
	return f.Name == o.Name && f.ClockRate == o.ClockRate
}

// SamplesPerFrame returns the number of samples in one frame.
// For 8kHz with 20ms frames, this returns 160.
func (f Format) SamplesPerFrame() int {
	return int(int64(f.ClockRate) * int64(f.FrameTime) / int64(time.Second))
}

// BytesPerFrame returns the payload bytes of one frame for fixed-size
// encodings, zero otherwise.
func (f Format) BytesPerFrame() int {
	return f.SamplesPerFrame() * f.BytesPerSample * f.channels()
}

// DurationToSamples converts d into clock units of f.
func (f Format) DurationToSamples(d time.Duration) int64 {
	return int64(d/time.Second)*int64(f.ClockRate) + int64(d%time.Second)*int64(f.ClockRate)/int64(time.Second)
}

func (f Format) channels() int {
	if f.Channels <= 0 {
		return 1
	}
	return f.Channels
}

func (f Format) String() string {
	if f.IsEmpty() {
		return "<any>"
	}
	return f.Key()
}
