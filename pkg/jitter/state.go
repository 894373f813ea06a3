package jitter

// State is the synchronisation state of an adaptive buffer.
type State int32

const (
	// Start is the state before the first unit, or after Restart.
	Start State = iota
	// Fill is entered on the first unit and after every late arrival;
	// the buffer is priming towards its current delay.
	Fill
	// Shrink is entered once lateness stops and the delay is above the
	// minimum.
	Shrink
	// Done is the steady state at the minimum stable delay.
	Done
)

func (s State) String() string {
	switch s {
	case Start:
		return "Start"
	case Fill:
		return "Fill"
	case Shrink:
		return "Shrink"
	case Done:
		return "Done"
	}
	return "unknown"
}
