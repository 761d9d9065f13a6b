package frame

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoPayload(t *testing.T) {
	payload := EncodeInfo(Info{Version: 1, MaxPacketSize: 244})
	require.Len(t, payload, 3)

	info, err := DecodeInfo(payload)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), info.Version)
	assert.Equal(t, uint16(244), info.MaxPacketSize)

	_, err = DecodeInfo([]byte{1, 0})
	var malformed *MalformedError
	assert.ErrorAs(t, err, &malformed)
}

func TestChunkAckPayload(t *testing.T) {
	for _, index := range []uint32{0, 1, 0xFFFFFFFF} {
		got, err := DecodeChunkAck(EncodeChunkAck(index))
		require.NoError(t, err)
		assert.Equal(t, index, got)
	}

	_, err := DecodeChunkAck([]byte{0, 0, 0})
	var malformed *MalformedError
	assert.ErrorAs(t, err, &malformed)
}

func TestLastChunkPayload(t *testing.T) {
	got, err := DecodeLastChunk(EncodeLastChunk(0xDEADBEEF))
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), got)
}

func TestExecRequestPayload(t *testing.T) {
	req := ExecRequest{JobID: uuid.New(), Slot: 5, Name: "blink.py"}

	decoded, err := DecodeExecRequest(EncodeExecRequest(req))
	require.NoError(t, err)
	assert.Equal(t, req, decoded)

	t.Run("empty name is valid", func(t *testing.T) {
		req := ExecRequest{JobID: uuid.New(), Slot: 0}
		decoded, err := DecodeExecRequest(EncodeExecRequest(req))
		require.NoError(t, err)
		assert.Equal(t, req, decoded)
	})

	t.Run("short payload rejected", func(t *testing.T) {
		_, err := DecodeExecRequest(make([]byte, 16))
		var malformed *MalformedError
		assert.ErrorAs(t, err, &malformed)
	})
}

func TestJobIDPrefix(t *testing.T) {
	id := uuid.New()
	payload := EncodeJobID(id, []byte{0x00})

	gotID, rest, err := DecodeJobID(payload)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, []byte{0x00}, rest)

	t.Run("empty remainder", func(t *testing.T) {
		gotID, rest, err := DecodeJobID(EncodeJobID(id, nil))
		require.NoError(t, err)
		assert.Equal(t, id, gotID)
		assert.Empty(t, rest)
	})

	t.Run("short payload rejected", func(t *testing.T) {
		_, _, err := DecodeJobID(make([]byte, 15))
		var malformed *MalformedError
		assert.ErrorAs(t, err, &malformed)
	})
}

func TestOutputLinePayload(t *testing.T) {
	stream, text, err := DecodeOutputLine(EncodeOutputLine(StreamStderr, "Traceback (most recent call last):"))
	require.NoError(t, err)
	assert.Equal(t, StreamStderr, stream)
	assert.Equal(t, "Traceback (most recent call last):", text)

	stream, text, err = DecodeOutputLine(EncodeOutputLine(StreamStdout, ""))
	require.NoError(t, err)
	assert.Equal(t, StreamStdout, stream)
	assert.Empty(t, text)

	_, _, err = DecodeOutputLine(nil)
	var malformed *MalformedError
	assert.ErrorAs(t, err, &malformed)
}

func TestStreamString(t *testing.T) {
	assert.Equal(t, "stdout", StreamStdout.String())
	assert.Equal(t, "stderr", StreamStderr.String())
}
