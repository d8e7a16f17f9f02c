package server

import (
	"fmt"
	"hash/crc32"
	"io"
	"net"
	"os"

	"github.com/filewire/transferd/internal/session"
	"github.com/filewire/transferd/internal/transport"
	"github.com/filewire/transferd/internal/wire"
)

// maybePushDownload streams a just-opened download context to conn: a
// FileRequest that resolved to a nonzero existing size (§4.3) means
// the peer is downloading rather than uploading, so the server is the
// FileData sender instead of the receiver Handle otherwise implements.
// Frames are pushed chunk-sequentially, each awaiting its Ack before
// the next is sent, mirroring the client driver's upload discipline
// (§4.7) in the opposite direction.
func (d *Dispatcher) maybePushDownload(conn net.Conn, sess *session.Session) error {
	filename, size, offset, ok := sess.Service.PendingDownload()
	if !ok {
		return nil
	}

	path, err := sess.Service.Store.ResolvePath(filename)
	if err != nil {
		return d.sendDownloadError(conn, sess, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return d.sendDownloadError(conn, sess, err)
	}
	defer f.Close()

	chunkSize := sess.Service.Store.ChunkSize
	hasher := crc32.NewIEEE()
	buf := make([]byte, chunkSize)

	chunkNum := uint32(offset / uint64(chunkSize))
	sent := offset
	if sent > 0 {
		if _, err := io.CopyN(hasher, f, int64(sent)); err != nil {
			return d.sendDownloadError(conn, sess, err)
		}
	}
	for sent < size {
		want := uint64(chunkSize)
		if remaining := size - sent; remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(f, buf[:want])
		if err != nil {
			return d.sendDownloadError(conn, sess, err)
		}
		hasher.Write(buf[:n])

		h := wire.NewHeader(wire.FileData, sess.Service.NextSequence(), chunkNum, sess.WireID, buf[:n])
		if err := transport.WriteFrame(conn, h, buf[:n]); err != nil {
			return err
		}
		if err := d.awaitAck(conn, sess); err != nil {
			return err
		}

		sent += uint64(n)
		chunkNum++
	}
	fileCRC := hasher.Sum32()

	cvPayload := wire.EncodeChecksumVerify(fileCRC)
	h := wire.NewHeader(wire.ChecksumVerify, sess.Service.NextSequence(), 0, sess.WireID, cvPayload)
	if err := transport.WriteFrame(conn, h, cvPayload); err != nil {
		return err
	}
	if err := d.awaitAck(conn, sess); err != nil {
		return err
	}

	sess.Service.MarkDownloadServed()
	if d.Logger != nil {
		d.Logger.TransferCompleted(sess.ID, filename, size, 0)
	}
	return nil
}

// awaitAck reads the peer's next frame and requires it to be an Ack,
// matching the per-chunk ack discipline the client driver also
// enforces on its own uploads.
func (d *Dispatcher) awaitAck(conn net.Conn, sess *session.Session) error {
	h, _, err := transport.ReadFrame(conn)
	if err != nil {
		return err
	}
	d.Sessions.Touch(sess.ID)
	if h.MsgType != wire.Ack {
		return fmt.Errorf("server: expected Ack during download push, got %s", h.MsgType)
	}
	return nil
}

func (d *Dispatcher) sendDownloadError(conn net.Conn, sess *session.Session, cause error) error {
	payload := wire.EncodeErrorMessage(cause.Error())
	h := wire.NewHeader(wire.Error, sess.Service.NextSequence(), 0, sess.WireID, payload)
	return transport.WriteFrame(conn, h, payload)
}
