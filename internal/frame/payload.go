package frame

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Payload layouts for the non-opaque frame bodies. Chunk payloads are
// raw source bytes and have no structure beyond the frame itself.

// Stream identifies which hub output stream an OutputLine belongs to.
type Stream byte

const (
	StreamStdout Stream = 0
	StreamStderr Stream = 1
)

func (s Stream) String() string {
	if s == StreamStderr {
		return "stderr"
	}
	return "stdout"
}

// Info is the hub's InfoResponse body: protocol version and the
// largest single write the hub accepts.
type Info struct {
	Version       uint8
	MaxPacketSize uint16
}

// EncodeInfo builds an InfoResponse payload.
func EncodeInfo(info Info) []byte {
	buf := make([]byte, 3)
	buf[0] = info.Version
	binary.BigEndian.PutUint16(buf[1:3], info.MaxPacketSize)
	return buf
}

// DecodeInfo parses an InfoResponse payload.
func DecodeInfo(payload []byte) (Info, error) {
	if len(payload) != 3 {
		return Info{}, &MalformedError{Reason: "InfoResponse payload must be 3 bytes"}
	}
	return Info{
		Version:       payload[0],
		MaxPacketSize: binary.BigEndian.Uint16(payload[1:3]),
	}, nil
}

// EncodeChunkAck builds a ChunkAck/LastChunkAck payload carrying the
// acknowledged chunk index.
func EncodeChunkAck(index uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, index)
	return buf
}

// DecodeChunkAck parses the acknowledged chunk index.
func DecodeChunkAck(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, &MalformedError{Reason: "ChunkAck payload must be 4 bytes"}
	}
	return binary.BigEndian.Uint32(payload), nil
}

// EncodeLastChunk builds a LastChunk payload: the CRC-32 (IEEE) of the
// complete source blob, letting the hub verify the assembled transfer
// before compiling.
func EncodeLastChunk(sourceCRC uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, sourceCRC)
	return buf
}

// DecodeLastChunk parses the full-source CRC from a LastChunk payload.
func DecodeLastChunk(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, &MalformedError{Reason: "LastChunk payload must be 4 bytes"}
	}
	return binary.BigEndian.Uint32(payload), nil
}

// ExecRequest is the body sent to start a run: the job identifier, the
// hub program slot to store into, and the program name shown on the
// hub.
type ExecRequest struct {
	JobID uuid.UUID
	Slot  uint8
	Name  string
}

// EncodeExecRequest builds an ExecRequest payload.
func EncodeExecRequest(req ExecRequest) []byte {
	buf := make([]byte, 0, 17+len(req.Name))
	buf = append(buf, req.JobID[:]...)
	buf = append(buf, req.Slot)
	buf = append(buf, req.Name...)
	return buf
}

// DecodeExecRequest parses an ExecRequest payload.
func DecodeExecRequest(payload []byte) (ExecRequest, error) {
	if len(payload) < 17 {
		return ExecRequest{}, &MalformedError{Reason: "ExecRequest payload must be at least 17 bytes"}
	}
	var req ExecRequest
	copy(req.JobID[:], payload[:16])
	req.Slot = payload[16]
	req.Name = string(payload[17:])
	return req, nil
}

// DecodeJobID extracts the 16-byte job identifier prefix shared by
// ExecAck, ExecReject, ErrorReport and Done payloads. The remainder of
// the payload is returned untouched.
func DecodeJobID(payload []byte) (uuid.UUID, []byte, error) {
	if len(payload) < 16 {
		return uuid.UUID{}, nil, &MalformedError{Reason: "payload shorter than 16-byte job identifier"}
	}
	var id uuid.UUID
	copy(id[:], payload[:16])
	return id, payload[16:], nil
}

// EncodeJobID prefixes rest with the 16-byte job identifier.
func EncodeJobID(id uuid.UUID, rest []byte) []byte {
	buf := make([]byte, 0, 16+len(rest))
	buf = append(buf, id[:]...)
	buf = append(buf, rest...)
	return buf
}

// EncodeOutputLine builds an OutputLine payload: one stream tag byte
// followed by the line text.
func EncodeOutputLine(stream Stream, text string) []byte {
	buf := make([]byte, 0, 1+len(text))
	buf = append(buf, byte(stream))
	buf = append(buf, text...)
	return buf
}

// DecodeOutputLine parses an OutputLine payload.
func DecodeOutputLine(payload []byte) (Stream, string, error) {
	if len(payload) < 1 {
		return 0, "", &MalformedError{Reason: "OutputLine payload missing stream tag"}
	}
	return Stream(payload[0]), string(payload[1:]), nil
}
