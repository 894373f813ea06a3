package stream

import (
	"fmt"
	"io"
	"sync"

	"github.com/gammazero/deque"
	"github.com/pion/rtp"

	"github.com/channel-io/go-jitter/pkg/media"
)

// Memory is an in-process stream. As a source it yields the units queued
// with Push; as a sink it keeps every unit written to it.
type Memory struct {
	id string

	mu          sync.Mutex
	format      media.Format
	queue       *deque.Deque[*rtp.Packet]
	written     []*rtp.Packet
	commands    []media.Command
	writeErr    error
	synchronous bool
	ended       bool
	closed      bool

	wake chan struct{}
	done chan struct{}
}

func NewMemory(id string, format media.Format) *Memory {
	return &Memory{
		id:     id,
		format: format,
		queue:  deque.New[*rtp.Packet](),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// SetSynchronous makes ReadPacket block until a unit is queued instead of
// returning an empty unit.
func (m *Memory) SetSynchronous(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synchronous = on
}

// Push queues units for ReadPacket.
func (m *Memory) Push(pkts ...*rtp.Packet) {
	m.mu.Lock()
	for _, p := range pkts {
		m.queue.PushBack(p)
	}
	m.mu.Unlock()
	m.notify()
}

// End makes ReadPacket return io.EOF once the queue is drained.
func (m *Memory) End() {
	m.mu.Lock()
	m.ended = true
	m.mu.Unlock()
	m.notify()
}

func (m *Memory) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Memory) ReadPacket() (*rtp.Packet, error) {
	for {
		m.mu.Lock()
		switch {
		case m.queue.Len() > 0:
			p := m.queue.PopFront()
			m.mu.Unlock()
			return p, nil
		case m.closed || m.ended:
			m.mu.Unlock()
			return nil, io.EOF
		case !m.synchronous:
			m.mu.Unlock()
			return &rtp.Packet{}, nil
		}
		m.mu.Unlock()

		select {
		case <-m.wake:
		case <-m.done:
		}
	}
}

func (m *Memory) IsSynchronous() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.synchronous
}

// FailWrites makes every following WritePacket return err. A nil err
// restores normal writes.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

func (m *Memory) WritePacket(p *rtp.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, p.Clone())
	return nil
}

// Written returns a copy of the units written so far.
func (m *Memory) Written() []*rtp.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*rtp.Packet(nil), m.written...)
}

// Commands returns the commands executed so far.
func (m *Memory) Commands() []media.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]media.Command(nil), m.commands...)
}

func (m *Memory) ID() string {
	return m.id
}

func (m *Memory) Format() media.Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format
}

func (m *Memory) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// UpdateMediaFormat accepts changes that keep the encoding.
func (m *Memory) UpdateMediaFormat(f media.Format) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.format.Matches(f) {
		return fmt.Errorf("%w: %s to %s", media.ErrUnsupported, m.format, f)
	}
	m.format = f
	return nil
}

func (m *Memory) ExecuteCommand(c media.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, c)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}
