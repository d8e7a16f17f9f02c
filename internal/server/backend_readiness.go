package server

import (
	"context"
	"net"
	"time"

	"github.com/filewire/transferd/internal/session"
	"github.com/filewire/transferd/internal/transport"
	"github.com/filewire/transferd/internal/wire"
)

// pollInterval bounds how long the readiness loop waits on any single
// read before moving on to poll the next connection.
const pollInterval = 20 * time.Millisecond

type readinessConn struct {
	conn net.Conn
	sess *session.Session
	asm  transport.Assembler
}

// runReadiness runs one thread over the listen socket and every open
// client socket: each iteration drains whatever is ready and leaves
// partial frames buffered per connection until Assembler.Next can
// produce a complete one.
func (d *Dispatcher) runReadiness() {
	open := make(map[net.Conn]*readinessConn)
	defer func() {
		for c := range open {
			_ = c.Close()
		}
	}()

	buf := make([]byte, 32*1024)
	for {
		if d.isShuttingDown() {
			return
		}

		conn, err := d.acceptOne()
		if err == nil {
			sess, openErr := d.Sessions.Open(conn.RemoteAddr().String())
			if openErr != nil {
				_ = conn.Close()
			} else {
				d.trackConn(conn)
				open[conn] = &readinessConn{conn: conn, sess: sess}
			}
		} else if !isTimeout(err) {
			return
		}

		for conn, rc := range open {
			_ = conn.SetReadDeadline(time.Now().Add(pollInterval))
			n, readErr := conn.Read(buf)
			if n > 0 {
				rc.asm.Feed(buf[:n])
			}
			if readErr != nil && !isTimeout(readErr) {
				d.closeReadinessConn(open, rc)
				continue
			}

			for {
				h, payload, ok, frameErr := rc.asm.Next()
				if frameErr != nil {
					d.closeReadinessConn(open, rc)
					break
				}
				if !ok {
					break
				}
				d.Sessions.Touch(rc.sess.ID)
				if d.Metrics != nil {
					d.Metrics.RecordFrame(h.MsgType.String())
				}
				if h.MsgType == wire.FileData && rc.sess.Limiter != nil {
					_ = rc.sess.Limiter.Wait(context.Background(), len(payload))
				}
				replyHeader, replyPayload := rc.sess.Service.Handle(h, payload)
				if writeErr := transport.WriteFrame(conn, replyHeader, replyPayload); writeErr != nil {
					d.closeReadinessConn(open, rc)
					break
				}
				if h.MsgType == wire.Close {
					d.closeReadinessConn(open, rc)
					break
				}
				if h.MsgType == wire.FileRequest || h.MsgType == wire.ResumeRequest {
					// A download push is a multi-round-trip, fully
					// blocking exchange: it holds this single
					// reactor thread until the whole file has been
					// streamed and acked, which is the readiness
					// back-end's known tradeoff for downloads (its
					// non-blocking multiplexing applies to uploads
					// and listings, where each frame is independent).
					// The poll deadline is cleared first so that
					// waiting for each chunk's Ack is not cut short.
					_ = conn.SetReadDeadline(time.Time{})
					if err := d.maybePushDownload(conn, rc.sess); err != nil {
						d.closeReadinessConn(open, rc)
						break
					}
				}
			}
		}
	}
}

func (d *Dispatcher) closeReadinessConn(open map[net.Conn]*readinessConn, rc *readinessConn) {
	d.Sessions.Close(rc.sess.ID)
	d.untrackConn(rc.conn)
	_ = rc.conn.Close()
	delete(open, rc.conn)
}
