package ssrc

// SequenceTracker tracks RTP sequence numbers with rollover handling and
// counts loss, duplicates and reordering.
type SequenceTracker struct {
	initialized bool
	highest     uint16
	cycles      uint32

	received   uint64
	lost       uint64
	duplicates uint64
	reordered  uint64
}

// Update records a received sequence number. It returns the extended
// (cycle-counted) sequence number and how many packets the gap before it
// implies were lost.
func (s *SequenceTracker) Update(seq uint16) (extended uint32, lost int) {
	s.received++

	if !s.initialized {
		s.initialized = true
		s.highest = seq
		return uint32(seq), 0
	}

	diff := SeqDiff(seq, s.highest)
	switch {
	case diff > 0:
		if diff > 1 {
			lost = int(diff) - 1
			s.lost += uint64(lost)
		}
		if seq < s.highest {
			s.cycles++
		}
		s.highest = seq
		return s.cycles<<16 | uint32(seq), lost
	case diff == 0:
		s.duplicates++
		return s.cycles<<16 | uint32(seq), 0
	default:
		// An old packet filling a gap we already counted as lost.
		s.reordered++
		if s.lost > 0 {
			s.lost--
		}
		cycles := s.cycles
		if seq > s.highest && cycles > 0 {
			cycles--
		}
		return cycles<<16 | uint32(seq), 0
	}
}

// Highest returns the newest sequence number seen.
func (s *SequenceTracker) Highest() uint16 {
	return s.highest
}

// Expected returns the sequence number expected next.
func (s *SequenceTracker) Expected() uint16 {
	return s.highest + 1
}

// Stats returns cumulative statistics.
func (s *SequenceTracker) Stats() (received, lost uint64) {
	return s.received, s.lost
}

// LossRate returns the packet loss rate as a fraction (0.0 to 1.0).
func (s *SequenceTracker) LossRate() float64 {
	total := s.received + s.lost
	if total == 0 {
		return 0.0
	}
	return float64(s.lost) / float64(total)
}

// Reset clears all tracking state.
func (s *SequenceTracker) Reset() {
	*s = SequenceTracker{}
}
