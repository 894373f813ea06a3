package media

// CommandType tags an out-of-band media command.
type CommandType string

const (
	// CommandForceKeyFrame asks a video encoder for an intra frame.
	CommandForceKeyFrame CommandType = "force-key-frame"
	// CommandSetBitRate carries the new target bit rate as an int payload.
	CommandSetBitRate CommandType = "set-bit-rate"
	// CommandFlush asks a stage to drop any partially assembled frame.
	CommandFlush CommandType = "flush"
)

// Command is an opaque control message passed through a patch unchanged to
// the source or to every sink's transcoder chain.
type Command struct {
	Type    CommandType
	Payload any
}

func (c Command) String() string {
	return string(c.Type)
}
