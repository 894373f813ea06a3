package ssrc

// RTP sequence numbers and timestamps wrap. All ordering decisions go
// through these helpers instead of plain integer comparison.

// SeqDiff returns the signed distance from b to a (a - b) in sequence space.
func SeqDiff(a, b uint16) int16 {
	return int16(a - b)
}

// SeqNewer reports whether a comes after b allowing for 16-bit wraparound.
func SeqNewer(a, b uint16) bool {
	return SeqDiff(a, b) > 0
}

// TimestampDiff returns the signed distance from b to a (a - b) in
// timestamp space.
func TimestampDiff(a, b uint32) int32 {
	return int32(a - b)
}

// TimestampNewer reports whether a comes after b allowing for 32-bit
// wraparound.
func TimestampNewer(a, b uint32) bool {
	return TimestampDiff(a, b) > 0
}

// Unwrapper extends 32-bit RTP timestamps into a monotonic 64-bit space.
// The zero value is ready to use.
type Unwrapper struct {
	initialized bool
	last        uint32
	extended    int64
}

// Unwrap returns the extended value of ts. Timestamps slightly older than
// the newest one seen map below it rather than a full cycle ahead.
func (u *Unwrapper) Unwrap(ts uint32) int64 {
	if !u.initialized {
		u.initialized = true
		u.last = ts
		u.extended = int64(ts)
		return u.extended
	}

	ext := u.extended + int64(TimestampDiff(ts, u.last))
	if ext > u.extended {
		u.extended = ext
		u.last = ts
	}
	return ext
}

// Last returns the newest extended timestamp seen.
func (u *Unwrapper) Last() int64 {
	return u.extended
}

// Reset forgets all history.
func (u *Unwrapper) Reset() {
	*u = Unwrapper{}
}
