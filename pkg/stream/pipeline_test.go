package stream_test

import (
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channel-io/go-jitter/pkg/config"
	"github.com/channel-io/go-jitter/pkg/jitter"
	"github.com/channel-io/go-jitter/pkg/media"
	"github.com/channel-io/go-jitter/pkg/patch"
	"github.com/channel-io/go-jitter/pkg/stream"
)

// A network stream received through the adaptive buffer is relayed by an
// active patch to a G.711 sink and a linear PCM sink.
func TestNetworkToPatch(t *testing.T) {
	cfg := config.Default()
	params := cfg.Params(media.FormatPCMU.ClockRate)

	buf, err := jitter.NewFactory().Create(media.TypeAudio, params)
	require.NoError(t, err)

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	rx := stream.NewRTPSession(conn, buf, stream.SessionConfig{
		ID:          "rx",
		Format:      media.FormatPCMU,
		Params:      params,
		ReadTimeout: cfg.ReadTimeout(),
	})

	ulaw := stream.NewMemory("ulaw", media.FormatPCMU)
	pcm := stream.NewMemory("pcm", media.FormatPCM16)

	p := patch.New(rx, nil, cfg.PatchOptions(nil)...)
	require.NoError(t, p.AddSink(ulaw, nil))
	require.NoError(t, p.AddSink(pcm, nil))
	p.Start()

	tx, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer tx.Close()

	for i := 0; i < 5; i++ {
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    0,
				SequenceNumber: uint16(100 + i),
				Timestamp:      uint32(8000 + i*160),
				SSRC:           0x5151,
			},
			Payload: make([]byte, 160),
		}
		data, err := pkt.Marshal()
		require.NoError(t, err)
		_, err = tx.WriteTo(data, conn.LocalAddr())
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return len(ulaw.Written()) == 5 && len(pcm.Written()) == 5
	}, 2*time.Second, 5*time.Millisecond)

	for i, u := range ulaw.Written() {
		assert.Equal(t, uint16(100+i), u.SequenceNumber)
	}
	assert.Len(t, pcm.Written()[0].Payload, 320)

	require.NoError(t, p.Close())
	assert.False(t, rx.IsOpen())
	assert.Equal(t, uint64(5), p.Stats().Source.Received)
}
