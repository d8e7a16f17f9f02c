package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrInvalidUTF8 is returned when a peer-supplied string field is not
// valid UTF-8.
var ErrInvalidUTF8 = errors.New("wire: invalid utf-8")

// EncodeHandshake packs a 4-byte protocol version.
func EncodeHandshake(version uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, version)
	return buf
}

// DecodeHandshake unpacks a handshake payload.
func DecodeHandshake(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("wire: handshake payload too short")
	}
	return binary.BigEndian.Uint32(b[:4]), nil
}

// EncodeFileRequest packs a UTF-8 relative path.
func EncodeFileRequest(path string) []byte {
	return []byte(path)
}

// DecodeFileRequest validates and returns the relative path.
func DecodeFileRequest(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// FileMetadataPayload is the FileMetadata message body.
type FileMetadataPayload struct {
	FileSize      uint64
	ExpectedCRC32 uint32
	Filename      string
}

// Encode packs the FileMetadata payload: file_size:u64, expected_crc32:u32, filename:utf8_rest.
func (p FileMetadataPayload) Encode() []byte {
	buf := make([]byte, 12+len(p.Filename))
	binary.BigEndian.PutUint64(buf[0:8], p.FileSize)
	binary.BigEndian.PutUint32(buf[8:12], p.ExpectedCRC32)
	copy(buf[12:], p.Filename)
	return buf
}

// DecodeFileMetadata unpacks a FileMetadata payload.
func DecodeFileMetadata(b []byte) (FileMetadataPayload, error) {
	if len(b) < 12 {
		return FileMetadataPayload{}, fmt.Errorf("wire: file-metadata payload too short")
	}
	name := b[12:]
	if !utf8.Valid(name) {
		return FileMetadataPayload{}, ErrInvalidUTF8
	}
	return FileMetadataPayload{
		FileSize:      binary.BigEndian.Uint64(b[0:8]),
		ExpectedCRC32: binary.BigEndian.Uint32(b[8:12]),
		Filename:      string(name),
	}, nil
}

// EncodeAck packs the acknowledged sequence number; ChunkNumber in the
// header carries the echoed chunk index when applicable.
func EncodeAck(ackedSeq uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, ackedSeq)
	return buf
}

// DecodeAck unpacks an Ack payload.
func DecodeAck(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("wire: ack payload too short")
	}
	return binary.BigEndian.Uint32(b[:4]), nil
}

// EncodeChecksumVerify packs the expected whole-file CRC32.
func EncodeChecksumVerify(expected uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, expected)
	return buf
}

// DecodeChecksumVerify unpacks a ChecksumVerify payload.
func DecodeChecksumVerify(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("wire: checksum-verify payload too short")
	}
	return binary.BigEndian.Uint32(b[:4]), nil
}

// ResumeRequestPayload is the ResumeRequest message body.
type ResumeRequestPayload struct {
	Offset   uint64
	Filename string
}

// Encode packs offset:u64, filename:utf8_rest.
func (p ResumeRequestPayload) Encode() []byte {
	buf := make([]byte, 8+len(p.Filename))
	binary.BigEndian.PutUint64(buf[0:8], p.Offset)
	copy(buf[8:], p.Filename)
	return buf
}

// DecodeResumeRequest unpacks a ResumeRequest payload.
func DecodeResumeRequest(b []byte) (ResumeRequestPayload, error) {
	if len(b) < 8 {
		return ResumeRequestPayload{}, fmt.Errorf("wire: resume-request payload too short")
	}
	name := b[8:]
	if !utf8.Valid(name) {
		return ResumeRequestPayload{}, ErrInvalidUTF8
	}
	return ResumeRequestPayload{
		Offset:   binary.BigEndian.Uint64(b[0:8]),
		Filename: string(name),
	}, nil
}

// ListRequestPayload is the ListRequest message body. NlstRequest,
// which has no Format, uses NlstRequestPayload.
type ListRequestPayload struct {
	Format ListFormat
	Filter ListFilter
	Path   string
}

// Encode packs format:u32, filter:u32, path:utf8_rest.
func (p ListRequestPayload) Encode() []byte {
	buf := make([]byte, 8+len(p.Path))
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.Format))
	binary.BigEndian.PutUint32(buf[4:8], uint32(p.Filter))
	copy(buf[8:], p.Path)
	return buf
}

// DecodeListRequest unpacks a ListRequest payload.
func DecodeListRequest(b []byte) (ListRequestPayload, error) {
	if len(b) < 8 {
		return ListRequestPayload{}, fmt.Errorf("wire: list-request payload too short")
	}
	path := b[8:]
	if !utf8.Valid(path) {
		return ListRequestPayload{}, ErrInvalidUTF8
	}
	return ListRequestPayload{
		Format: ListFormat(binary.BigEndian.Uint32(b[0:4])),
		Filter: ListFilter(binary.BigEndian.Uint32(b[4:8])),
		Path:   string(path),
	}, nil
}

// NlstRequestPayload is the NlstRequest message body.
type NlstRequestPayload struct {
	Filter ListFilter
	Path   string
}

// Encode packs filter:u32, path:utf8_rest.
func (p NlstRequestPayload) Encode() []byte {
	buf := make([]byte, 4+len(p.Path))
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.Filter))
	copy(buf[4:], p.Path)
	return buf
}

// DecodeNlstRequest unpacks an NlstRequest payload.
func DecodeNlstRequest(b []byte) (NlstRequestPayload, error) {
	if len(b) < 4 {
		return NlstRequestPayload{}, fmt.Errorf("wire: nlst-request payload too short")
	}
	path := b[4:]
	if !utf8.Valid(path) {
		return NlstRequestPayload{}, ErrInvalidUTF8
	}
	return NlstRequestPayload{
		Filter: ListFilter(binary.BigEndian.Uint32(b[0:4])),
		Path:   string(path),
	}, nil
}

// ListRecord is one entry of a ListResponse.
type ListRecord struct {
	IsDir bool
	Size  uint64
	Mtime uint64
	Name  string
}

// EncodeListResponse packs format:u32 followed by records
// {is_dir:u8, size:u64, mtime:u64, name_len:u16, name:utf8}.
func EncodeListResponse(format ListFormat, records []ListRecord) []byte {
	size := 4
	for _, r := range records {
		size += 1 + 8 + 8 + 2 + len(r.Name)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(format))
	off := 4
	for _, r := range records {
		if r.IsDir {
			buf[off] = 1
		}
		off++
		binary.BigEndian.PutUint64(buf[off:off+8], r.Size)
		off += 8
		binary.BigEndian.PutUint64(buf[off:off+8], r.Mtime)
		off += 8
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(r.Name)))
		off += 2
		copy(buf[off:], r.Name)
		off += len(r.Name)
	}
	return buf
}

// DecodeListResponse unpacks a ListResponse payload.
func DecodeListResponse(b []byte) (ListFormat, []ListRecord, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("wire: list-response payload too short")
	}
	format := ListFormat(binary.BigEndian.Uint32(b[0:4]))
	off := 4
	var records []ListRecord
	for off < len(b) {
		if off+19 > len(b) {
			return 0, nil, fmt.Errorf("wire: truncated list record")
		}
		isDir := b[off] != 0
		off++
		size := binary.BigEndian.Uint64(b[off : off+8])
		off += 8
		mtime := binary.BigEndian.Uint64(b[off : off+8])
		off += 8
		nameLen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if off+nameLen > len(b) {
			return 0, nil, fmt.Errorf("wire: truncated list record name")
		}
		name := string(b[off : off+nameLen])
		off += nameLen
		records = append(records, ListRecord{IsDir: isDir, Size: size, Mtime: mtime, Name: name})
	}
	return format, records, nil
}

// EncodeNlstResponse joins names with '\n'.
func EncodeNlstResponse(names []string) []byte {
	out := make([]byte, 0)
	for i, n := range names {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, n...)
	}
	return out
}

// DecodeNlstResponse splits a newline-joined name list.
func DecodeNlstResponse(b []byte) ([]string, error) {
	if !utf8.Valid(b) {
		return nil, ErrInvalidUTF8
	}
	if len(b) == 0 {
		return nil, nil
	}
	var names []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			names = append(names, string(b[start:i]))
			start = i + 1
		}
	}
	names = append(names, string(b[start:]))
	return names, nil
}

// EncodeErrorMessage packs a UTF-8 human message (also used for ListError).
func EncodeErrorMessage(msg string) []byte {
	return []byte(msg)
}

// DecodeErrorMessage unpacks an Error/ListError payload.
func DecodeErrorMessage(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}
