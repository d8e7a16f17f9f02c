package server

import (
	"net"
	"testing"
	"time"

	"github.com/filewire/transferd/internal/config"
	"github.com/filewire/transferd/internal/session"
	"github.com/filewire/transferd/internal/store"
	"github.com/filewire/transferd/internal/transport"
	"github.com/filewire/transferd/internal/wire"
)

func newTestDispatcher(t *testing.T, strategy config.Strategy) (*Dispatcher, *Status) {
	t.Helper()
	root := t.TempDir()
	tempRoot := t.TempDir()
	st := store.New(root)
	mgr := session.NewManager(st, tempRoot, time.Hour, time.Hour, nil, nil)

	d := NewDispatcher(strategy, mgr, nil, nil)
	if err := d.Start("127.0.0.1", 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = d.Stop() })

	status := d.Status()
	return d, &status
}

func dialAndHandshake(t *testing.T, d *Dispatcher) net.Conn {
	t.Helper()
	addr := d.listener.Addr().String()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	h := wire.NewHeader(wire.Handshake, 1, 0, 0, wire.EncodeHandshake(1))
	if err := transport.WriteFrame(conn, h, wire.EncodeHandshake(1)); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	replyH, replyPayload, err := transport.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read handshake reply: %v", err)
	}
	if replyH.MsgType != wire.Handshake {
		t.Fatalf("expected handshake reply, got %s", replyH.MsgType)
	}
	if v, err := wire.DecodeHandshake(replyPayload); err != nil || v != 1 {
		t.Fatalf("unexpected handshake payload: %v %v", v, err)
	}
	return conn
}

func TestBlockingBackendHandshake(t *testing.T) {
	d, _ := newTestDispatcher(t, config.StrategyBlocking)
	dialAndHandshake(t, d)
}

func TestThreadedBackendHandshake(t *testing.T) {
	d, _ := newTestDispatcher(t, config.StrategyThreaded)
	dialAndHandshake(t, d)
}

func TestReadinessBackendHandshake(t *testing.T) {
	d, _ := newTestDispatcher(t, config.StrategyReadiness)
	dialAndHandshake(t, d)
}

func TestAsyncBackendHandshake(t *testing.T) {
	d, _ := newTestDispatcher(t, config.StrategyAsync)
	dialAndHandshake(t, d)
}

func TestThreadedBackendServesConcurrentConnections(t *testing.T) {
	d, _ := newTestDispatcher(t, config.StrategyThreaded)

	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		go func() {
			dialAndHandshake(t, d)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for concurrent handshake")
		}
	}
}

func TestStopClosesListenerAndWaitsForConnections(t *testing.T) {
	root := t.TempDir()
	tempRoot := t.TempDir()
	st := store.New(root)
	mgr := session.NewManager(st, tempRoot, time.Hour, time.Hour, nil, nil)
	d := NewDispatcher(config.StrategyThreaded, mgr, nil, nil)
	if err := d.Start("127.0.0.1", 0); err != nil {
		t.Fatalf("start: %v", err)
	}

	dialAndHandshake(t, d)

	if err := d.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if d.Status().Running {
		t.Fatalf("expected dispatcher to report not running after stop")
	}
}

func TestFileRequestRoundTripOverBlockingBackend(t *testing.T) {
	d, _ := newTestDispatcher(t, config.StrategyBlocking)
	conn := dialAndHandshake(t, d)

	reqPayload := wire.EncodeFileRequest("report.bin")
	h := wire.NewHeader(wire.FileRequest, 2, 0, 0, reqPayload)
	if err := transport.WriteFrame(conn, h, reqPayload); err != nil {
		t.Fatalf("write file request: %v", err)
	}

	replyH, replyPayload, err := transport.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read file metadata reply: %v", err)
	}
	if replyH.MsgType != wire.FileMetadata {
		t.Fatalf("expected FileMetadata reply, got %s", replyH.MsgType)
	}
	meta, err := wire.DecodeFileMetadata(replyPayload)
	if err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta.FileSize != 0 {
		t.Fatalf("expected a fresh upload to report size 0, got %d", meta.FileSize)
	}
}
