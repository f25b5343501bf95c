package ipc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	fr := NewFrameReader(&buf)

	req := RequestFrame{Type: FrameRequest, ID: "1", Op: "group.list"}
	require.NoError(t, fw.WriteJSON(req))

	payload, err := fr.ReadFrame()
	require.NoError(t, err)

	var got RequestFrame
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, req.Op, got.Op)
}

func TestReadFrameCleanEOF(t *testing.T) {
	fr := NewFrameReader(bytes.NewReader(nil))
	_, err := fr.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFramePartialLengthPrefixIsFatal(t *testing.T) {
	fr := NewFrameReader(bytes.NewReader([]byte{0x00, 0x01}))
	_, err := fr.ReadFrame()

	var fe *FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, FrameErrorPartial, fe.Kind)
	assert.True(t, fe.IsFatal())
}

func TestReadFramePartialPayloadIsFatal(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], 100)
	buf.Write(lenBuf[:])
	buf.WriteString("short")

	fr := NewFrameReader(&buf)
	_, err := fr.ReadFrame()

	var fe *FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, FrameErrorPartial, fe.Kind)
}

func TestReadFrameOversizedIsFatal(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxPayloadSize+1)
	buf.Write(lenBuf[:])

	fr := NewFrameReader(&buf)
	_, err := fr.ReadFrame()

	var fe *FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, FrameErrorTooLarge, fe.Kind)
	assert.True(t, fe.IsFatal())
}

func TestProbeTypeDispatchesOnTopLevelField(t *testing.T) {
	kind, err := probeType([]byte(`{"type":"subscribe","id":"7"}`))
	require.NoError(t, err)
	assert.Equal(t, "subscribe", kind)

	_, err = probeType([]byte(`{"id":"7"}`))
	var fe *FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, FrameErrorDecode, fe.Kind)
}
