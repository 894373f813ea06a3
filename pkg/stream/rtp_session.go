package stream

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/channel-io/go-jitter/pkg/jitter"
	"github.com/channel-io/go-jitter/pkg/media"
	"github.com/channel-io/go-jitter/pkg/ssrc"
)

const maxDatagramSize = 1500

var ErrNoRemote = errors.New("stream: remote address unknown")

// SessionConfig configures an RTP session.
type SessionConfig struct {
	ID     string
	Format media.Format
	Params jitter.Params

	// Remote is where outgoing units are sent. When nil the session
	// learns it from the first valid incoming datagram.
	Remote net.Addr

	ReadTimeout time.Duration
	Clock       clockwork.Clock
	Logger      *logrus.Entry
}

// SessionStats is a snapshot of session counters.
type SessionStats struct {
	Sent      uint64
	Received  uint64
	Malformed uint64
	Rejected  uint64
	Source    ssrc.Stats
	Buffer    jitter.Stats
}

// RTPSession is a bidirectional RTP stream over a packet connection. Incoming
// datagrams go through a jitter buffer before they are read; outgoing
// units are restamped with the session's own SSRC, sequence and timestamp
// space.
type RTPSession struct {
	id     string
	conn   net.PacketConn
	source *Jittered
	rx     *ssrc.Context
	clock  clockwork.Clock
	log    *logrus.Entry

	mu        sync.Mutex
	remote    net.Addr
	ssrc      uint32
	seqOffset uint16
	tsOffset  uint32
	closed    bool

	group errgroup.Group

	sent      atomic.Uint64
	received  atomic.Uint64
	malformed atomic.Uint64
	rejected  atomic.Uint64
}

// NewRTPSession starts receiving on conn. buffer holds incoming units until
// they are due.
func NewRTPSession(conn net.PacketConn, buffer jitter.Buffer, cfg SessionConfig) *RTPSession {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.ID == "" {
		cfg.ID = conn.LocalAddr().String()
	}

	s := &RTPSession{
		id:        cfg.ID,
		conn:      conn,
		source:    NewJittered(cfg.ID, cfg.Format, buffer, cfg.Params, cfg.ReadTimeout),
		rx:        ssrc.NewContext(cfg.Format.ClockRate),
		clock:     cfg.Clock,
		remote:    cfg.Remote,
		ssrc:      GenerateSSRC(),
		seqOffset: GenerateSequenceStart(),
		tsOffset:  GenerateTimestampStart(),
		log: cfg.Logger.WithFields(logrus.Fields{
			"session": cfg.ID,
			"local":   conn.LocalAddr().String(),
		}),
	}
	s.group.Go(s.receive)
	return s
}

func (s *RTPSession) receive() error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !s.IsOpen() {
				return nil
			}
			s.log.WithError(err).Warn("stream: receive failed")
			return fmt.Errorf("receive on %s: %w", s.id, err)
		}
		s.received.Add(1)

		data := make([]byte, n)
		copy(data, buf[:n])

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(data); err != nil {
			s.malformed.Add(1)
			s.log.WithError(err).Debug("stream: malformed datagram")
			continue
		}

		now := s.clock.Now()
		if _, changed := s.rx.Record(pkt, now); changed {
			s.log.WithField("ssrc", pkt.SSRC).Info("stream: remote source changed")
		}
		if !s.source.Write(pkt, now) {
			s.rejected.Add(1)
		}

		s.mu.Lock()
		if s.remote == nil {
			s.remote = addr
			s.log.WithField("remote", addr.String()).Info("stream: remote address learned")
		}
		s.mu.Unlock()
	}
}

func (s *RTPSession) ReadPacket() (*rtp.Packet, error) {
	return s.source.ReadPacket()
}

func (s *RTPSession) IsSynchronous() bool {
	return true
}

// WritePacket sends a copy of p restamped into the session's own SSRC,
// sequence and timestamp space.
func (s *RTPSession) WritePacket(p *rtp.Packet) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return net.ErrClosed
	}
	remote := s.remote
	out := p.Clone()
	out.Version = 2
	out.SSRC = s.ssrc
	out.SequenceNumber = p.SequenceNumber + s.seqOffset
	out.Timestamp = p.Timestamp + s.tsOffset
	s.mu.Unlock()

	if remote == nil {
		return ErrNoRemote
	}

	data, err := out.Marshal()
	if err != nil {
		return fmt.Errorf("marshal RTP: %w", err)
	}
	if _, err := s.conn.WriteTo(data, remote); err != nil {
		return fmt.Errorf("write to %s: %w", remote, err)
	}
	s.sent.Add(1)
	return nil
}

// SSRC returns the SSRC of outgoing units.
func (s *RTPSession) SSRC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ssrc
}

func (s *RTPSession) Remote() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

func (s *RTPSession) ID() string {
	return s.id
}

func (s *RTPSession) Format() media.Format {
	return s.source.Format()
}

func (s *RTPSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *RTPSession) UpdateMediaFormat(f media.Format) error {
	return s.source.UpdateMediaFormat(f)
}

func (s *RTPSession) ExecuteCommand(c media.Command) error {
	return s.source.ExecuteCommand(c)
}

// Close releases any blocked reader, closes the connection and waits for
// the receive goroutine.
func (s *RTPSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.source.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	if err := s.group.Wait(); err != nil {
		errs = append(errs, err)
	}

	s.log.Debug("stream: session closed")
	return errors.Join(errs...)
}

func (s *RTPSession) Stats() SessionStats {
	return SessionStats{
		Sent:      s.sent.Load(),
		Received:  s.received.Load(),
		Malformed: s.malformed.Load(),
		Rejected:  s.rejected.Load(),
		Source:    s.rx.Stats(),
		Buffer:    s.source.Buffer().Stats(),
	}
}
