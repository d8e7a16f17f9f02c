// Package wire implements the fixed 32-byte frame header, the payload
// codec, and the CRC32 integrity check described by the wire protocol.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// ProtocolMagic identifies a filewire frame on the wire.
const ProtocolMagic uint16 = 0x4442

// ProtocolVersion is the only version this daemon speaks.
const ProtocolVersion uint16 = 1

// HeaderSize is the fixed size, in bytes, of a frame header.
const HeaderSize = 32

var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes are available.
	ErrShortHeader = errors.New("wire: short header")
	// ErrMagicMismatch is returned when the magic field does not match ProtocolMagic.
	ErrMagicMismatch = errors.New("wire: bad magic number")
	// ErrUnsupportedVersion is returned for any version other than ProtocolVersion.
	ErrUnsupportedVersion = errors.New("wire: unsupported protocol version")
	// ErrPayloadLength names a payload that does not match its declared
	// length. No function in this module returns it: a short payload
	// surfaces as the underlying read error.
	ErrPayloadLength = errors.New("wire: payload length mismatch")
	// ErrChecksum is returned when a non-zero checksum fails to verify.
	ErrChecksum = errors.New("wire: checksum mismatch")
)

// Header is the fixed-size, big-endian frame header.
//
//	magic(2) version(2) msg_type(4) payload_length(4) sequence_number(4)
//	checksum(4) chunk_number(4) session_id(8)
type Header struct {
	Magic          uint16
	Version        uint16
	MsgType        MessageType
	PayloadLength  uint32
	SequenceNumber uint32
	Checksum       uint32
	ChunkNumber    uint32
	SessionID      uint64
}

// Encode packs h into a new HeaderSize-byte buffer.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.Magic)
	binary.BigEndian.PutUint16(buf[2:4], h.Version)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.MsgType))
	binary.BigEndian.PutUint32(buf[8:12], h.PayloadLength)
	binary.BigEndian.PutUint32(buf[12:16], h.SequenceNumber)
	binary.BigEndian.PutUint32(buf[16:20], h.Checksum)
	binary.BigEndian.PutUint32(buf[20:24], h.ChunkNumber)
	binary.BigEndian.PutUint64(buf[24:32], h.SessionID)
	return buf
}

// DecodeHeader parses the first HeaderSize bytes of b into a Header. It
// validates the magic number but not the checksum, since the payload has
// not been read yet.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Magic:          binary.BigEndian.Uint16(b[0:2]),
		Version:        binary.BigEndian.Uint16(b[2:4]),
		MsgType:        MessageType(binary.BigEndian.Uint32(b[4:8])),
		PayloadLength:  binary.BigEndian.Uint32(b[8:12]),
		SequenceNumber: binary.BigEndian.Uint32(b[12:16]),
		Checksum:       binary.BigEndian.Uint32(b[16:20]),
		ChunkNumber:    binary.BigEndian.Uint32(b[20:24]),
		SessionID:      binary.BigEndian.Uint64(b[24:32]),
	}
	if h.Magic != ProtocolMagic {
		return Header{}, ErrMagicMismatch
	}
	return h, nil
}

// CRC32 computes the IEEE CRC32 of payload, the same polynomial used
// throughout the protocol for frame and file integrity.
func CRC32(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// Verify reports whether header.Checksum matches the payload's CRC32. A
// checksum of 0 is valid only when paired with an empty payload; any
// other zero-checksum/non-empty-payload combination fails verification,
// per the protocol's open question about the meaning of a zero checksum.
func Verify(h Header, payload []byte) bool {
	if h.Checksum == 0 {
		return len(payload) == 0
	}
	return CRC32(payload) == h.Checksum
}

// Encode serialises a header/payload pair into frame bytes. The caller
// must have already populated PayloadLength and Checksum on h.
func Encode(h Header, payload []byte) []byte {
	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, h.Encode()...)
	out = append(out, payload...)
	return out
}

// NewHeader builds a header with PayloadLength and Checksum derived
// from payload, ready for Encode.
func NewHeader(msgType MessageType, seq uint32, chunk uint32, sessionID uint64, payload []byte) Header {
	var checksum uint32
	if len(payload) > 0 {
		checksum = CRC32(payload)
	}
	return Header{
		Magic:          ProtocolMagic,
		Version:        ProtocolVersion,
		MsgType:        msgType,
		PayloadLength:  uint32(len(payload)),
		SequenceNumber: seq,
		Checksum:       checksum,
		ChunkNumber:    chunk,
		SessionID:      sessionID,
	}
}

// CheckVersion validates that h.Version is a version this daemon speaks.
func CheckVersion(h Header) error {
	if h.Version != ProtocolVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, h.Version, ProtocolVersion)
	}
	return nil
}
