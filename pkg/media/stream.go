package media

import (
	"errors"

	"github.com/pion/rtp"
)

// ErrUnsupported is returned by streams and transcoders for format updates
// or commands they do not handle.
var ErrUnsupported = errors.New("media: operation not supported")

// Stream is the part of a media stream a patch needs regardless of
// direction.
type Stream interface {
	// ID names the stream in logs.
	ID() string

	// Format returns the current media format.
	Format() Format

	// IsOpen reports whether the stream can still be read or written.
	IsOpen() bool

	// UpdateMediaFormat applies a runtime format change.
	UpdateMediaFormat(f Format) error

	// ExecuteCommand applies an out-of-band control command.
	ExecuteCommand(c Command) error

	// Close terminates the stream. A blocked ReadPacket must return.
	Close() error
}

// Source is a stream media is read from.
type Source interface {
	Stream

	// ReadPacket returns the next unit. A unit with an empty payload
	// means nothing was available this time. io.EOF signals end of
	// stream.
	ReadPacket() (*rtp.Packet, error)

	// IsSynchronous reports whether ReadPacket paces itself (blocks
	// until media is due) so the caller need not back off on empty
	// reads.
	IsSynchronous() bool
}

// Sink is a stream media is written to.
type Sink interface {
	Stream

	// WritePacket writes one unit.
	WritePacket(p *rtp.Packet) error
}
