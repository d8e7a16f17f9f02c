package server

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/filewire/transferd/internal/transport"
	"github.com/filewire/transferd/internal/wire"
)

// serveConn runs the sequential read -> handle -> write loop used by
// the blocking and thread-per-connection back-ends for one connection,
// blocking until the peer closes,
// a Close message ends the session, or a transport error occurs.
func (d *Dispatcher) serveConn(conn net.Conn) {
	d.trackConn(conn)
	defer d.untrackConn(conn)
	defer conn.Close()

	sess, err := d.Sessions.Open(conn.RemoteAddr().String())
	if err != nil {
		if d.Logger != nil {
			d.Logger.Error(err, "opening session")
		}
		return
	}
	defer d.Sessions.Close(sess.ID)

	for {
		h, payload, err := transport.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && d.Logger != nil {
				d.Logger.Error(err, "reading frame")
			}
			return
		}
		d.Sessions.Touch(sess.ID)
		if d.Metrics != nil {
			d.Metrics.RecordFrame(h.MsgType.String())
		}
		if h.MsgType == wire.FileData && sess.Limiter != nil {
			_ = sess.Limiter.Wait(context.Background(), len(payload))
		}

		replyHeader, replyPayload := sess.Service.Handle(h, payload)
		if err := transport.WriteFrame(conn, replyHeader, replyPayload); err != nil {
			if d.Logger != nil {
				d.Logger.Error(err, "writing frame")
			}
			return
		}
		if h.MsgType == wire.Close {
			return
		}
		if h.MsgType == wire.FileRequest || h.MsgType == wire.ResumeRequest {
			if err := d.maybePushDownload(conn, sess); err != nil {
				if d.Logger != nil {
					d.Logger.Error(err, "pushing download")
				}
				return
			}
		}
	}
}
