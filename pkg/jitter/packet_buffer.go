package jitter

import (
	"github.com/pion/rtp"

	"github.com/channel-io/go-jitter/pkg/ssrc"
)

// timeline maps the 32-bit RTP timestamps of one synchronization source
// onto the 64-bit extended timeline buffers key their units by. A packet
// from a different SSRC starts a new timeline.
type timeline struct {
	ssrc    uint32
	started bool
	unwrap  ssrc.Unwrapper
}

func (t *timeline) extend(pkt *rtp.Packet) (ts int64, changed bool) {
	if t.started && t.ssrc != pkt.SSRC {
		t.unwrap.Reset()
		changed = true
	}
	t.started = true
	t.ssrc = pkt.SSRC

	return t.unwrap.Unwrap(pkt.Timestamp), changed
}

func (t *timeline) reset() {
	*t = timeline{}
}
