package codec

import (
	"github.com/gammazero/deque"
)

// framer regroups a stream of samples into fixed size frames. The
// timestamp of the oldest queued sample is tracked so output frames carry
// contiguous timestamps.
type framer struct {
	size    int
	samples *deque.Deque[int16]
	next    uint32
}

func newFramer(size int) *framer {
	return &framer{
		size:    size,
		samples: deque.New[int16](size * 2),
	}
}

func (f *framer) push(ts uint32, pcm []int16) {
	if f.samples.Len() == 0 {
		f.next = ts
	}
	for _, s := range pcm {
		f.samples.PushBack(s)
	}
}

// pop returns the next whole frame. A framer of size zero passes whatever
// is queued.
func (f *framer) pop() ([]int16, uint32, bool) {
	n := f.size
	if n <= 0 {
		n = f.samples.Len()
	}
	if n == 0 || f.samples.Len() < n {
		return nil, 0, false
	}

	frame := make([]int16, n)
	for i := range frame {
		frame[i] = f.samples.PopFront()
	}
	ts := f.next
	f.next += uint32(n)
	return frame, ts, true
}

func (f *framer) resize(size int) {
	f.size = size
}

func (f *framer) reset() {
	f.samples.Clear()
}
