// Package client implements the driver side of the wire protocol: a
// single TCP connection carries handshake, listing, upload, resume
// and download operations for one session, mirroring the discipline
// the server's own Service enforces on its side of the same frames.
package client

import (
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/filewire/transferd/internal/chunktracker"
	"github.com/filewire/transferd/internal/store"
	"github.com/filewire/transferd/internal/transfer"
	"github.com/filewire/transferd/internal/transport"
	"github.com/filewire/transferd/internal/wire"
)

// ProgressFunc is called after each chunk of an upload or download
// with the cumulative bytes transferred and the total declared size.
type ProgressFunc func(transferred, total uint64)

// Client owns one connection and drives it sequentially: it is never
// safe to call its methods from more than one goroutine at a time, the
// same single-owner-per-session rule the server applies to a Service.
type Client struct {
	conn      net.Conn
	sessionID uint64
	seq       uint32

	// ChunkSize is the fixed chunk size this client uses to split
	// uploads and to size its chunktracker for downloads. It must
	// match the server's configured store.Store.ChunkSize: the wire
	// protocol carries no chunk-size negotiation (§6.1 is silent on
	// it), so operators are expected to configure both sides equally,
	// the same way spec.md's worked examples assume a shared chunk
	// size without ever transmitting one.
	ChunkSize uint32

	// TempDir is where this client keeps download sidecar files,
	// named `<filename>.state` per §6.2.
	TempDir string
}

// Dial opens a TCP connection to addr. The returned Client still needs
// Handshake before any other operation.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, ChunkSize: store.DefaultChunkSize}, nil
}

func (c *Client) nextSeq() uint32 {
	c.seq++
	return c.seq
}

func (c *Client) send(kind wire.MessageType, chunk uint32, payload []byte) error {
	h := wire.NewHeader(kind, c.nextSeq(), chunk, c.sessionID, payload)
	return transport.WriteFrame(c.conn, h, payload)
}

// recv reads the next frame and folds a server-side Error/ListError
// reply into a returned error, so callers only need to branch on the
// success path's message kind.
func (c *Client) recv() (wire.Header, []byte, error) {
	h, payload, err := transport.ReadFrame(c.conn)
	if err != nil {
		return wire.Header{}, nil, err
	}
	c.sessionID = h.SessionID
	if h.MsgType == wire.Error || h.MsgType == wire.ListError {
		msg, decErr := wire.DecodeErrorMessage(payload)
		if decErr != nil {
			msg = string(payload)
		}
		return h, payload, fmt.Errorf("client: server error: %s", msg)
	}
	return h, payload, nil
}

func (c *Client) expectAck() error {
	h, _, err := c.recv()
	if err != nil {
		return err
	}
	if h.MsgType != wire.Ack {
		return fmt.Errorf("client: expected Ack, got %s", h.MsgType)
	}
	return nil
}

// Handshake negotiates the protocol version. It must be the first
// operation on a freshly dialed connection.
func (c *Client) Handshake() error {
	if err := c.send(wire.Handshake, 0, wire.EncodeHandshake(transfer.ProtocolVersion)); err != nil {
		return err
	}
	h, payload, err := c.recv()
	if err != nil {
		return err
	}
	if h.MsgType != wire.Handshake {
		return fmt.Errorf("client: expected Handshake reply, got %s", h.MsgType)
	}
	version, err := wire.DecodeHandshake(payload)
	if err != nil {
		return err
	}
	if version != transfer.ProtocolVersion {
		return fmt.Errorf("client: server speaks protocol version %d, want %d", version, transfer.ProtocolVersion)
	}
	return nil
}

// List requests a single-level directory listing at path.
func (c *Client) List(path string, format wire.ListFormat, filter wire.ListFilter) ([]wire.ListRecord, error) {
	req := wire.ListRequestPayload{Format: format, Filter: filter, Path: path}
	if err := c.send(wire.ListRequest, 0, req.Encode()); err != nil {
		return nil, err
	}
	h, payload, err := c.recv()
	if err != nil {
		return nil, err
	}
	if h.MsgType != wire.ListResponse {
		return nil, fmt.Errorf("client: expected ListResponse, got %s", h.MsgType)
	}
	_, records, err := wire.DecodeListResponse(payload)
	return records, err
}

// ListRecursive lists path and descends into every directory entry
// the server returns. Each returned name is prefixed with path and a
// "/" (left bare when path is empty), nested entries included.
func (c *Client) ListRecursive(path string, filter wire.ListFilter) ([]wire.ListRecord, error) {
	records, err := c.List(path, wire.FormatDetail, filter)
	if err != nil {
		return nil, err
	}
	all := make([]wire.ListRecord, 0, len(records))
	for _, r := range records {
		qualified := r
		if path != "" {
			qualified.Name = path + "/" + r.Name
		}
		all = append(all, qualified)
		if r.IsDir {
			nested, err := c.ListRecursive(qualified.Name, filter)
			if err != nil {
				return nil, err
			}
			all = append(all, nested...)
		}
	}
	return all, nil
}

// Nlst requests a bare name listing at path.
func (c *Client) Nlst(path string, filter wire.ListFilter) ([]string, error) {
	req := wire.NlstRequestPayload{Filter: filter, Path: path}
	if err := c.send(wire.NlstRequest, 0, req.Encode()); err != nil {
		return nil, err
	}
	h, payload, err := c.recv()
	if err != nil {
		return nil, err
	}
	if h.MsgType != wire.NlstResponse {
		return nil, fmt.Errorf("client: expected NlstResponse, got %s", h.MsgType)
	}
	return wire.DecodeNlstResponse(payload)
}

// Upload sends local as remote, chunk-sequential with one Ack awaited
// per chunk (§4.7), declaring its own true size via FileMetadata since
// a fresh upload's FileRequest always resolves to size 0.
//
// A FileRequest for a path that already exists on the server resolves
// to a nonzero FileMetadata and puts the server into PendingDownload:
// every back-end unconditionally starts streaming that file's content
// back over the same connection right after replying, racing whatever
// the client sends next. Upload refuses to overwrite in that case: it
// drains the server's forced push so the connection is left in a clean
// state, then returns an error instead of racing it.
func (c *Client) Upload(local, remote string, progress ProgressFunc) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("client: open %s: %w", local, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := uint64(info.Size())

	if err := c.send(wire.FileRequest, 0, wire.EncodeFileRequest(remote)); err != nil {
		return err
	}
	h, payload, err := c.recv()
	if err != nil {
		return err
	}
	if h.MsgType != wire.FileMetadata {
		return fmt.Errorf("client: expected FileMetadata, got %s", h.MsgType)
	}
	meta, err := wire.DecodeFileMetadata(payload)
	if err != nil {
		return err
	}
	if meta.FileSize > 0 {
		if drainErr := c.drainPush(); drainErr != nil {
			return drainErr
		}
		return fmt.Errorf("client: remote %q already exists (%d bytes); Upload refuses to overwrite it", remote, meta.FileSize)
	}

	declared := wire.FileMetadataPayload{FileSize: size, Filename: remote}
	if err := c.send(wire.FileMetadata, 0, declared.Encode()); err != nil {
		return err
	}
	if err := c.expectAck(); err != nil {
		return err
	}

	return c.streamUpload(f, size, 0, 0, crc32.NewIEEE(), progress)
}

// drainPush consumes a server-initiated download push without
// persisting any of it, acking each chunk and the final ChecksumVerify
// exactly as a real Download would so the server's state machine sees
// a normal completed exchange. Used when Upload discovers the remote
// already existed after the server has already committed to pushing it.
func (c *Client) drainPush() error {
	for {
		h, _, err := c.recv()
		if err != nil {
			return err
		}
		if h.MsgType == wire.ChecksumVerify {
			return c.send(wire.Ack, 0, wire.EncodeAck(h.SequenceNumber))
		}
		if h.MsgType != wire.FileData {
			return fmt.Errorf("client: unexpected message %s while draining download push", h.MsgType)
		}
		if err := c.send(wire.Ack, h.ChunkNumber, wire.EncodeAck(h.SequenceNumber)); err != nil {
			return err
		}
	}
}

// ResumeUpload continues an interrupted upload from offset, which must
// be a multiple of c.ChunkSize, identified by chunkNumber (offset /
// ChunkSize). It reopens local and seeks to offset before streaming.
func (c *Client) ResumeUpload(local, remote string, offset uint64, chunkNumber uint32, progress ProgressFunc) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("client: open %s: %w", local, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := uint64(info.Size())
	if offset > size {
		return fmt.Errorf("client: resume offset %d exceeds local file size %d", offset, size)
	}
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		return err
	}

	req := wire.ResumeRequestPayload{Offset: offset, Filename: remote}
	if err := c.send(wire.ResumeRequest, 0, req.Encode()); err != nil {
		return err
	}
	h, payload, err := c.recv()
	if err != nil {
		return err
	}
	if h.MsgType != wire.FileMetadata {
		return fmt.Errorf("client: expected FileMetadata, got %s", h.MsgType)
	}
	meta, err := wire.DecodeFileMetadata(payload)
	if err != nil {
		return err
	}
	if meta.FileSize != size {
		return fmt.Errorf("client: server's resumable size %d does not match local file size %d", meta.FileSize, size)
	}

	hasher := crc32.NewIEEE()
	if err := hashPrefix(local, offset, hasher); err != nil {
		return err
	}
	return c.streamUpload(f, size, offset, chunkNumber, hasher, progress)
}

// hashPrefix folds the first n bytes of path into hasher, so a resumed
// upload's final ChecksumVerify covers the whole file rather than only
// the bytes re-sent after the resume point.
func hashPrefix(path string, n uint64, hasher io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.CopyN(hasher, f, int64(n))
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (c *Client) streamUpload(f *os.File, size, alreadySent uint64, startChunk uint32, hasher hash.Hash32, progress ProgressFunc) error {
	chunkSize := c.ChunkSize
	if chunkSize == 0 {
		chunkSize = store.DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	chunkNum := startChunk
	sent := alreadySent

	for sent < size {
		want := uint64(chunkSize)
		if remaining := size - sent; remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(f, buf[:want])
		if err != nil {
			return fmt.Errorf("client: read local file: %w", err)
		}
		hasher.Write(buf[:n])

		if err := c.send(wire.FileData, chunkNum, buf[:n]); err != nil {
			return err
		}
		if err := c.expectAck(); err != nil {
			return err
		}

		sent += uint64(n)
		chunkNum++
		if progress != nil {
			progress(sent, size)
		}
	}

	// The resumed-prefix CRC (if any) was folded in by ResumeUpload's
	// hashPrefix before this loop started, so hasher always covers the
	// whole file regardless of where streaming began.
	cv := wire.EncodeChecksumVerify(hasher.Sum32())
	if err := c.send(wire.ChecksumVerify, 0, cv); err != nil {
		return err
	}
	return c.expectAck()
}

// Download requests remote and writes it to local, receiving FileData
// frames the server pushes once FileRequest resolves to a nonzero
// existing size, acking each chunk and maintaining a sidecar tracker
// under c.TempDir so a dropped connection can be resumed later.
func (c *Client) Download(remote, local string, progress ProgressFunc) error {
	if err := c.send(wire.FileRequest, 0, wire.EncodeFileRequest(remote)); err != nil {
		return err
	}
	h, payload, err := c.recv()
	if err != nil {
		return err
	}
	if h.MsgType != wire.FileMetadata {
		return fmt.Errorf("client: expected FileMetadata, got %s", h.MsgType)
	}
	meta, err := wire.DecodeFileMetadata(payload)
	if err != nil {
		return err
	}
	if meta.FileSize == 0 {
		return fmt.Errorf("client: %q does not exist on the server", remote)
	}

	chunkSize := c.ChunkSize
	if chunkSize == 0 {
		chunkSize = store.DefaultChunkSize
	}
	tracker := chunktracker.New(meta.FileSize, chunkSize)
	sidecar := c.sidecarPath(local)

	part := local + ".part"
	out, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("client: create %s: %w", part, err)
	}

	if err := c.receiveStream(out, tracker, sidecar, meta.FileSize, crc32.NewIEEE(), progress); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(part, local); err != nil {
		return fmt.Errorf("client: finalize %s: %w", local, err)
	}
	if sidecar != "" {
		_ = chunktracker.Delete(sidecar)
	}
	return nil
}

// ResumeDownload reopens a partially received local file described by
// its sidecar tracker and asks the server to resume from the first
// missing byte offset.
func (c *Client) ResumeDownload(remote, local string, progress ProgressFunc) error {
	sidecar := c.sidecarPath(local)
	tracker, err := chunktracker.Load(sidecar)
	if err != nil {
		return fmt.Errorf("client: no resumable download for %s: %w", local, err)
	}
	missing := tracker.Missing()
	if len(missing) == 0 {
		return fmt.Errorf("client: sidecar for %s reports nothing missing", local)
	}
	offset := uint64(missing[0]) * uint64(tracker.ChunkSize())

	req := wire.ResumeRequestPayload{Offset: offset, Filename: remote}
	if err := c.send(wire.ResumeRequest, 0, req.Encode()); err != nil {
		return err
	}
	h, payload, err := c.recv()
	if err != nil {
		return err
	}
	if h.MsgType != wire.FileMetadata {
		return fmt.Errorf("client: expected FileMetadata, got %s", h.MsgType)
	}
	meta, err := wire.DecodeFileMetadata(payload)
	if err != nil {
		return err
	}

	part := local + ".part"
	out, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("client: reopen %s: %w", part, err)
	}

	hasher := crc32.NewIEEE()
	if err := hashPrefix(part, offset, hasher); err != nil {
		out.Close()
		return err
	}

	if err := c.receiveStream(out, tracker, sidecar, meta.FileSize, hasher, progress); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(part, local); err != nil {
		return fmt.Errorf("client: finalize %s: %w", local, err)
	}
	_ = chunktracker.Delete(sidecar)
	return nil
}

func (c *Client) receiveStream(out *os.File, tracker *chunktracker.Tracker, sidecar string, total uint64, hasher hash.Hash32, progress ProgressFunc) error {
	received := uint64(tracker.ReceivedCount()) * uint64(tracker.ChunkSize())
	if received > total {
		received = total
	}

	for {
		h, payload, err := c.recv()
		if err != nil {
			return err
		}
		if h.MsgType == wire.ChecksumVerify {
			expected, err := wire.DecodeChecksumVerify(payload)
			if err != nil {
				return err
			}
			if hasher.Sum32() != expected {
				return fmt.Errorf("client: checksum mismatch on download")
			}
			return c.send(wire.Ack, 0, wire.EncodeAck(h.SequenceNumber))
		}
		if h.MsgType != wire.FileData {
			return fmt.Errorf("client: unexpected message %s during download", h.MsgType)
		}

		offset := int64(h.ChunkNumber) * int64(tracker.ChunkSize())
		if _, err := out.WriteAt(payload, offset); err != nil {
			return err
		}
		hasher.Write(payload)
		if err := tracker.Mark(h.ChunkNumber); err != nil {
			return err
		}
		if sidecar != "" {
			_ = tracker.Save(sidecar)
		}
		received += uint64(len(payload))
		if progress != nil {
			progress(received, total)
		}
		if err := c.send(wire.Ack, h.ChunkNumber, wire.EncodeAck(h.SequenceNumber)); err != nil {
			return err
		}
	}
}

func (c *Client) sidecarPath(local string) string {
	if c.TempDir == "" {
		return ""
	}
	return filepath.Join(c.TempDir, filepath.Base(local)+".state")
}

// Close ends the session cleanly and releases the connection.
func (c *Client) Close() error {
	if err := c.send(wire.Close, 0, nil); err != nil {
		c.conn.Close()
		return err
	}
	_, _, err := c.recv()
	closeErr := c.conn.Close()
	if err != nil {
		return err
	}
	return closeErr
}
