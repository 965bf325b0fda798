package lcbook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameDecoderWholePacketInOneFeed(t *testing.T) {
	p := Packet{Magic: resMagic, Opcode: cmdGet, Opaque: 5, Key: []byte("k"), Value: []byte("v")}
	buf := p.Encode()

	d := newFrameDecoder()
	pkts, err := d.Feed(buf)
	require.NoError(t, err)
	require.Len(t, pkts, 1)
	require.Equal(t, uint32(5), pkts[0].Opaque)
	require.Equal(t, []byte("v"), pkts[0].Value)
}

func TestFrameDecoderSplitAcrossFeeds(t *testing.T) {
	p := Packet{Magic: resMagic, Opcode: cmdGet, Opaque: 9, Key: []byte("longkey"), Value: []byte("somevalue")}
	buf := p.Encode()

	d := newFrameDecoder()

	for i := 0; i < len(buf); i++ {
		pkts, err := d.Feed(buf[i : i+1])
		require.NoError(t, err)
		if i < len(buf)-1 {
			require.Empty(t, pkts)
		} else {
			require.Len(t, pkts, 1)
			require.Equal(t, uint32(9), pkts[0].Opaque)
			require.Equal(t, []byte("somevalue"), pkts[0].Value)
		}
	}
}

func TestFrameDecoderMultiplePacketsInOneFeed(t *testing.T) {
	p1 := Packet{Magic: resMagic, Opcode: cmdGet, Opaque: 1}
	p2 := Packet{Magic: resMagic, Opcode: cmdGet, Opaque: 2}

	buf := append(p1.Encode(), p2.Encode()...)

	d := newFrameDecoder()
	pkts, err := d.Feed(buf)
	require.NoError(t, err)
	require.Len(t, pkts, 2)
	require.Equal(t, uint32(1), pkts[0].Opaque)
	require.Equal(t, uint32(2), pkts[1].Opaque)
}

func TestFrameDecoderRejectsImpossibleLengths(t *testing.T) {
	p := Packet{Magic: resMagic, Opcode: cmdGet, Key: []byte("k")}
	buf := p.Encode()
	// Zero the total-body-length field so it's smaller than key+extras.
	buf[8], buf[9], buf[10], buf[11] = 0, 0, 0, 0

	d := newFrameDecoder()
	_, err := d.Feed(buf)
	require.ErrorIs(t, err, ErrProtocol)
}
