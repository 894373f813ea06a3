// Package stream provides the transport side of the media engine: an
// in-process stream, a source backed by a jitter buffer and an RTP session
// over a packet connection.
package stream

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
)

// ErrClosed is returned by writes to a closed stream.
var ErrClosed = errors.New("stream: closed")

// GenerateSSRC generates a cryptographically random 32-bit SSRC.
func GenerateSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x12345678
	}
	return binary.BigEndian.Uint32(b[:])
}

// GenerateSequenceStart generates a random starting sequence number.
func GenerateSequenceStart() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}

// GenerateTimestampStart generates a random starting timestamp.
func GenerateTimestampStart() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}
