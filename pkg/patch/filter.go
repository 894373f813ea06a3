package patch

import (
	"github.com/pion/rtp"
	"github.com/samber/lo"

	"github.com/channel-io/go-jitter/pkg/media"
)

// FilterFunc observes or mutates a unit in place. format is the format
// the unit is in at the point the filter runs. A filter must not change
// the unit's format; a changed payload type is put back.
type FilterFunc func(pkt *rtp.Packet, format media.Format)

// Filter is a registered FilterFunc. An empty stage fires for every
// format, otherwise only for units of the stage format.
type Filter struct {
	fn    FilterFunc
	stage media.Format
}

func (f *Filter) Stage() media.Format {
	return f.stage
}

func (f *Filter) fires(format media.Format) bool {
	return f.stage.IsEmpty() || f.stage.Matches(format)
}

// AddFilter appends a filter to the chain. Filters run in registration
// order.
func (p *Patch) AddFilter(fn FilterFunc, stage media.Format) *Filter {
	f := &Filter{fn: fn, stage: stage}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.filters = append(p.filters, f)
	return f
}

func (p *Patch) RemoveFilter(f *Filter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, i, ok := lo.FindIndexOf(p.filters, func(x *Filter) bool { return x == f })
	if !ok {
		return false
	}
	p.filters = append(p.filters[:i], p.filters[i+1:]...)
	return true
}

// FilterFrame runs the filter chain over pkt as a unit of format.
func (p *Patch) FilterFrame(pkt *rtp.Packet, format media.Format) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filterFrameLocked(pkt, format)
}

func (p *Patch) filterFrameLocked(pkt *rtp.Packet, format media.Format) {
	pt := pkt.PayloadType
	for _, f := range p.filters {
		if !f.fires(format) {
			continue
		}
		f.fn(pkt, format)
		pkt.PayloadType = pt
	}
}
