// Package frame implements the spikelink wire framing: a fixed header
// (type, sequence number, payload length), an opaque payload, and a
// CRC-16 trailer covering everything before it.
//
// Encoding is pure; decoding never delivers a frame whose checksum or
// declared length does not match the buffer.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc16"
)

// Type identifies the purpose of a frame on the link.
type Type byte

const (
	TypeInfoRequest  Type = 0x00
	TypeInfoResponse Type = 0x01
	TypeChunk        Type = 0x02
	TypeChunkAck     Type = 0x03
	TypeLastChunk    Type = 0x04
	TypeLastChunkAck Type = 0x05
	TypeExecRequest  Type = 0x10
	TypeExecAck      Type = 0x11
	TypeExecReject   Type = 0x12
	TypeOutputLine   Type = 0x20
	TypeErrorReport  Type = 0x21
	TypeDone         Type = 0x22
)

// typeNames maps frame types to their display names
var typeNames = map[Type]string{
	TypeInfoRequest:  "InfoRequest",
	TypeInfoResponse: "InfoResponse",
	TypeChunk:        "Chunk",
	TypeChunkAck:     "ChunkAck",
	TypeLastChunk:    "LastChunk",
	TypeLastChunkAck: "LastChunkAck",
	TypeExecRequest:  "ExecRequest",
	TypeExecAck:      "ExecAck",
	TypeExecReject:   "ExecReject",
	TypeOutputLine:   "OutputLine",
	TypeErrorReport:  "ErrorReport",
	TypeDone:         "Done",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(0x%02X)", byte(t))
}

// Valid reports whether t is a known frame type.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// Wire layout: type(1) | seq(4 BE) | len(2 BE) | payload | crc16(2 BE).
const (
	// HeaderSize is the fixed number of bytes preceding the payload.
	HeaderSize = 1 + 4 + 2

	// ChecksumSize is the size of the CRC-16 trailer.
	ChecksumSize = 2

	// Overhead is the total per-frame cost excluding the payload.
	Overhead = HeaderSize + ChecksumSize

	// MaxPayload is bounded by the 2-byte length field.
	MaxPayload = 0xFFFF
)

// crcTable is CRC-16/CCITT-FALSE, computed over type+seq+len+payload.
var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Frame is one immutable unit of wire data. Payload is referenced,
// not copied; callers must not mutate it after handing it to Encode.
type Frame struct {
	Type    Type
	Seq     uint32
	Payload []byte
}

func (f Frame) String() string {
	return fmt.Sprintf("%s seq=%d len=%d", f.Type, f.Seq, len(f.Payload))
}

// MalformedError reports a structurally invalid frame buffer.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

// ChecksumError reports a CRC mismatch between the trailer and the
// checksum recomputed over the received bytes.
type ChecksumError struct {
	Want uint16
	Got  uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("frame checksum mismatch: declared 0x%04X, computed 0x%04X", e.Want, e.Got)
}

// Encode serializes f into a freshly allocated wire buffer.
func Encode(f Frame) ([]byte, error) {
	if !f.Type.Valid() {
		return nil, &MalformedError{Reason: fmt.Sprintf("unknown frame type 0x%02X", byte(f.Type))}
	}
	if len(f.Payload) > MaxPayload {
		return nil, &MalformedError{Reason: fmt.Sprintf("payload length %d exceeds %d", len(f.Payload), MaxPayload)}
	}

	buf := make([]byte, Overhead+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[1:5], f.Seq)
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)

	sum := crc16.Checksum(buf[:HeaderSize+len(f.Payload)], crcTable)
	binary.BigEndian.PutUint16(buf[HeaderSize+len(f.Payload):], sum)
	return buf, nil
}

// Decode parses a single frame out of buf. The buffer must contain
// exactly one frame; a declared payload length that overruns buf, or
// trailing bytes past the checksum, are rejected as malformed so a
// corrupted length field can never cause an over-read.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < Overhead {
		return Frame{}, &MalformedError{Reason: fmt.Sprintf("buffer too short: %d bytes, need at least %d", len(buf), Overhead)}
	}

	t := Type(buf[0])
	if !t.Valid() {
		return Frame{}, &MalformedError{Reason: fmt.Sprintf("unknown frame type 0x%02X", buf[0])}
	}

	payloadLen := int(binary.BigEndian.Uint16(buf[5:7]))
	if Overhead+payloadLen > len(buf) {
		return Frame{}, &MalformedError{Reason: fmt.Sprintf("declared payload length %d exceeds remaining %d bytes", payloadLen, len(buf)-Overhead)}
	}
	if Overhead+payloadLen < len(buf) {
		return Frame{}, &MalformedError{Reason: fmt.Sprintf("%d trailing bytes after frame", len(buf)-Overhead-payloadLen)}
	}

	declared := binary.BigEndian.Uint16(buf[HeaderSize+payloadLen:])
	computed := crc16.Checksum(buf[:HeaderSize+payloadLen], crcTable)
	if declared != computed {
		return Frame{}, &ChecksumError{Want: declared, Got: computed}
	}

	// Copy the payload so the frame does not alias the receive buffer,
	// which the transport reuses between notifications.
	payload := make([]byte, payloadLen)
	copy(payload, buf[HeaderSize:HeaderSize+payloadLen])

	return Frame{
		Type:    t,
		Seq:     binary.BigEndian.Uint32(buf[1:5]),
		Payload: payload,
	}, nil
}
