package proto

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("x"),
		[]byte(`{"type":"SENSOR_DATA","nodeId":"dev-1","value":"22.5"}`),
		bytes.Repeat([]byte("a"), MaxFrameSize), // exactly at the cap
	}

	for _, p := range payloads {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, p))

		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, p, got)
		assert.Zero(t, buf.Len(), "round trip must consume the whole frame")
	}
}

func TestFrameRoundTripConsecutive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("first")))
	require.NoError(t, WriteFrame(&buf, []byte("second")))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)

	got, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestWriteFrameNilPayloadNormalised(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))
	// A nil payload still produces a header — a zero-length frame, which
	// the read side then rejects. The protocol never sends one; the write
	// side just must not panic or write garbage.
	assert.Equal(t, 4, buf.Len())
}

func TestWriteFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, buf.Len(), "no bytes may be written for an oversize payload")
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	// Zero-length header followed by trailing bytes that must stay unread.
	input := append([]byte{0, 0, 0, 0}, []byte("trailing")...)
	r := bytes.NewReader(input)

	_, err := ReadFrame(r)
	assert.ErrorIs(t, err, ErrInvalidLength)
	assert.Equal(t, len("trailing"), r.Len(), "rejection must not consume payload bytes")
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	for _, n := range []uint32{MaxFrameSize + 1, 0x80000000, 0xFFFFFFFF} {
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint32(hdr, n)
		r := bytes.NewReader(append(hdr, []byte("junk")...))

		_, err := ReadFrame(r)
		assert.ErrorIs(t, err, ErrFrameTooLarge, "length %d", n)
		assert.Equal(t, len("junk"), r.Len())
	}
}

func TestReadFrameShortHeader(t *testing.T) {
	_, err := ReadFrame(strings.NewReader("\x00\x00"))
	assert.Error(t, err)
}

func TestReadFrameShortPayload(t *testing.T) {
	var buf bytes.Buffer
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, 100)
	buf.Write(hdr)
	buf.WriteString("only a few bytes")

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
