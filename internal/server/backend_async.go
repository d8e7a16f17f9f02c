package server

import (
	"context"
	"net"
	"runtime"

	"github.com/filewire/transferd/internal/session"
	"github.com/filewire/transferd/internal/transport"
	"github.com/filewire/transferd/internal/wire"
)

// asyncTask is one connection awaiting its next turn on the reactor.
// Unlike the thread-per-connection back-end, a worker holds a
// connection only long enough to read and answer a single frame
// before returning it to the queue; the per-connection service is
// never owned by more than one goroutine at a time, so the single-
// owner-per-session rule still holds, but many connections share a
// small, fixed worker pool instead of one goroutine each.
type asyncTask struct {
	conn net.Conn
	sess *session.Session
}

// runAsync multiplexes every client connection over a small fixed pool
// of reactor workers. Each worker suspends at exactly the read-one-
// frame / write-one-frame boundary before yielding the connection back
// to the queue, the cooperative-scheduling analogue of the source's
// coroutine-based back-end.
func (d *Dispatcher) runAsync() {
	workers := runtime.GOMAXPROCS(0)
	if workers < 2 {
		workers = 2
	}
	queue := make(chan *asyncTask, 256)

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.asyncWorker(queue)
	}

	for {
		if d.isShuttingDown() {
			return
		}
		conn, err := d.acceptOne()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return
		}
		sess, openErr := d.Sessions.Open(conn.RemoteAddr().String())
		if openErr != nil {
			_ = conn.Close()
			continue
		}
		d.trackConn(conn)
		select {
		case queue <- &asyncTask{conn: conn, sess: sess}:
		case <-d.shutdown:
			d.Sessions.Close(sess.ID)
			d.untrackConn(conn)
			_ = conn.Close()
			return
		}
	}
}

// asyncWorker pulls one connection at a time off queue, answers
// exactly one frame, and either requeues the connection for its next
// turn or retires it. It exits once d.shutdown fires and the queue has
// drained the tasks already in flight.
func (d *Dispatcher) asyncWorker(queue chan *asyncTask) {
	defer d.wg.Done()
	for {
		var task *asyncTask
		select {
		case task = <-queue:
		case <-d.shutdown:
			return
		}

		h, payload, err := transport.ReadFrame(task.conn)
		if err != nil {
			d.closeAsyncTask(task)
			continue
		}
		d.Sessions.Touch(task.sess.ID)
		if d.Metrics != nil {
			d.Metrics.RecordFrame(h.MsgType.String())
		}
		if h.MsgType == wire.FileData && task.sess.Limiter != nil {
			_ = task.sess.Limiter.Wait(context.Background(), len(payload))
		}

		replyHeader, replyPayload := task.sess.Service.Handle(h, payload)
		if err := transport.WriteFrame(task.conn, replyHeader, replyPayload); err != nil {
			d.closeAsyncTask(task)
			continue
		}
		if h.MsgType == wire.Close {
			d.closeAsyncTask(task)
			continue
		}
		if h.MsgType == wire.FileRequest || h.MsgType == wire.ResumeRequest {
			// Occupies this worker for the whole push instead of
			// yielding after one frame; acceptable since the worker
			// pool has other members free to service the rest.
			if err := d.maybePushDownload(task.conn, task.sess); err != nil {
				d.closeAsyncTask(task)
				continue
			}
		}

		select {
		case queue <- task:
		case <-d.shutdown:
			d.closeAsyncTask(task)
			return
		}
	}
}

func (d *Dispatcher) closeAsyncTask(task *asyncTask) {
	d.Sessions.Close(task.sess.ID)
	d.untrackConn(task.conn)
	_ = task.conn.Close()
}
