package stream

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/channel-io/go-jitter/pkg/jitter"
	"github.com/channel-io/go-jitter/pkg/media"
)

// DefaultReadTimeout bounds a single read from a jitter buffer so the
// reader keeps its own pacing through silence.
const DefaultReadTimeout = 20 * time.Millisecond

// Jittered is a source whose units pass through a jitter buffer. The
// receive path calls Write; the patch worker reads.
type Jittered struct {
	id      string
	buffer  jitter.Buffer
	timeout time.Duration

	mu     sync.Mutex
	format media.Format
	params jitter.Params
	closed bool
}

func NewJittered(id string, format media.Format, buffer jitter.Buffer, params jitter.Params, readTimeout time.Duration) *Jittered {
	return &Jittered{
		id:      id,
		buffer:  buffer,
		timeout: readTimeout,
		format:  format,
		params:  params,
	}
}

// Write hands a received unit to the buffer.
func (j *Jittered) Write(pkt *rtp.Packet, arrival time.Time) bool {
	return j.buffer.WriteData(pkt, arrival)
}

// ReadPacket blocks until a unit is due or the read timeout elapses, in
// which case the unit is empty.
func (j *Jittered) ReadPacket() (*rtp.Packet, error) {
	pkt, err := j.buffer.ReadData(j.timeout)
	if errors.Is(err, jitter.ErrClosed) {
		return nil, io.EOF
	}
	return pkt, err
}

func (j *Jittered) IsSynchronous() bool {
	return true
}

func (j *Jittered) Buffer() jitter.Buffer {
	return j.buffer
}

func (j *Jittered) ID() string {
	return j.id
}

func (j *Jittered) Format() media.Format {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.format
}

func (j *Jittered) IsOpen() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.closed
}

// UpdateMediaFormat follows a clock rate change by reconfiguring the
// buffer.
func (j *Jittered) UpdateMediaFormat(f media.Format) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if f.ClockRate != j.format.ClockRate {
		params := j.params.WithClockRate(f.ClockRate)
		if err := j.buffer.SetDelay(params); err != nil {
			return fmt.Errorf("update %s: %w", j.id, err)
		}
		j.params = params
	}
	j.format = f
	return nil
}

// ExecuteCommand handles flush by restarting the buffer.
func (j *Jittered) ExecuteCommand(c media.Command) error {
	if c.Type != media.CommandFlush {
		return fmt.Errorf("%w: command %s", media.ErrUnsupported, c)
	}
	j.buffer.Restart()
	return nil
}

func (j *Jittered) Close() error {
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()

	j.buffer.Close()
	return nil
}
