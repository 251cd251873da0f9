package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	buf := Encode(Push, 3, []byte("abc"))
	assert.Len(t, buf, Size)

	pkt, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, Push, pkt.Type)
	assert.Equal(t, byte(3), pkt.Len)
	assert.Equal(t, "abc", string(pkt.PushData()))
}

func TestEncodeWinsizeRoundTrip(t *testing.T) {
	buf := EncodeWinsize(Winch, 0, Winsize{Rows: 24, Cols: 80, XPixel: 640, YPixel: 480})
	pkt, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, Winsize{Rows: 24, Cols: 80, XPixel: 640, YPixel: 480}, pkt.Winsize())
}

func TestDecodeWrongLength(t *testing.T) {
	_, err := Decode(make([]byte, Size-1))
	assert.Error(t, err)
}

func TestReadPacket(t *testing.T) {
	buf := Encode(Attach, 0, nil)
	pkt, err := ReadPacket(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, Attach, pkt.Type)
}

func TestReadPacketShortRead(t *testing.T) {
	_, err := ReadPacket(bytes.NewReader(make([]byte, 3)))
	assert.Error(t, err)
}

func TestPushDataHonorsLen(t *testing.T) {
	pkt := Packet{Type: Push, Len: 2, Payload: [payloadSize]byte{'h', 'i', 'x', 'x', 0, 0, 0, 0}}
	assert.Equal(t, "hi", string(pkt.PushData()))
}
