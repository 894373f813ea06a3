package stream

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channel-io/go-jitter/pkg/media"
)

func unit(seq uint16) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    0,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 160,
			SSRC:           0xfeed,
		},
		Payload: []byte{byte(seq), 0xff},
	}
}

func TestMemoryAsyncSource(t *testing.T) {
	m := NewMemory("mem", media.FormatPCMU)
	assert.False(t, m.IsSynchronous())

	p, err := m.ReadPacket()
	require.NoError(t, err)
	assert.Empty(t, p.Payload)

	m.Push(unit(1), unit(2))
	m.End()

	for _, want := range []uint16{1, 2} {
		p, err := m.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, want, p.SequenceNumber)
	}

	_, err = m.ReadPacket()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMemorySyncSourceUnblocksOnClose(t *testing.T) {
	m := NewMemory("mem", media.FormatPCMU)
	m.SetSynchronous(true)

	done := make(chan error, 1)
	go func() {
		_, err := m.ReadPacket()
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("read returned before close")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, m.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("read still blocked after close")
	}
}

func TestMemorySink(t *testing.T) {
	m := NewMemory("mem", media.FormatPCMU)

	require.NoError(t, m.WritePacket(unit(1)))

	boom := errors.New("boom")
	m.FailWrites(boom)
	assert.ErrorIs(t, m.WritePacket(unit(2)), boom)
	m.FailWrites(nil)
	require.NoError(t, m.WritePacket(unit(3)))

	written := m.Written()
	require.Len(t, written, 2)
	assert.Equal(t, uint16(1), written[0].SequenceNumber)
	assert.Equal(t, uint16(3), written[1].SequenceNumber)

	require.NoError(t, m.Close())
	assert.False(t, m.IsOpen())
	assert.ErrorIs(t, m.WritePacket(unit(4)), ErrClosed)
}

func TestMemoryFormatAndCommands(t *testing.T) {
	m := NewMemory("mem", media.FormatPCM16)

	require.NoError(t, m.UpdateMediaFormat(media.FormatPCM16))
	assert.ErrorIs(t, m.UpdateMediaFormat(media.FormatPCMU), media.ErrUnsupported)

	require.NoError(t, m.ExecuteCommand(media.Command{Type: media.CommandFlush}))
	assert.Equal(t, []media.Command{{Type: media.CommandFlush}}, m.Commands())
}
