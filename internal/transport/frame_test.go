package transport

import (
	"bytes"
	"testing"

	"github.com/filewire/transferd/internal/wire"
)

func TestWriteThenReadFrameRoundTrips(t *testing.T) {
	h := wire.NewHeader(wire.Handshake, 1, 0, 42, []byte("hello"))
	var buf bytes.Buffer
	if err := WriteFrame(&buf, h, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	gotH, gotPayload, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if gotH.MsgType != wire.Handshake || gotH.SessionID != 42 {
		t.Fatalf("unexpected header: %+v", gotH)
	}
	if string(gotPayload) != "hello" {
		t.Fatalf("unexpected payload: %q", gotPayload)
	}
}

func TestReadFrameRejectsBadChecksum(t *testing.T) {
	h := wire.NewHeader(wire.Handshake, 1, 0, 42, []byte("hello"))
	frame := wire.Encode(h, []byte("tampered"))[:wire.HeaderSize+5]
	frame = append(frame, []byte("world")...)

	if _, _, err := ReadFrame(bytes.NewReader(frame)); err != wire.ErrChecksum {
		t.Fatalf("expected checksum error, got %v", err)
	}
}

func TestAssemblerHandlesSplitFrames(t *testing.T) {
	h := wire.NewHeader(wire.FileData, 3, 7, 99, []byte("chunk-bytes"))
	frame := wire.Encode(h, []byte("chunk-bytes"))

	var a Assembler
	if _, _, ok, err := a.Next(); ok || err != nil {
		t.Fatalf("expected no frame yet, got ok=%v err=%v", ok, err)
	}

	a.Feed(frame[:10])
	if _, _, ok, err := a.Next(); ok || err != nil {
		t.Fatalf("expected incomplete frame, got ok=%v err=%v", ok, err)
	}

	a.Feed(frame[10:])
	gotH, payload, ok, err := a.Next()
	if err != nil || !ok {
		t.Fatalf("expected complete frame, got ok=%v err=%v", ok, err)
	}
	if gotH.MsgType != wire.FileData || gotH.ChunkNumber != 7 {
		t.Fatalf("unexpected header: %+v", gotH)
	}
	if string(payload) != "chunk-bytes" {
		t.Fatalf("unexpected payload: %q", payload)
	}
	if a.Pending() != 0 {
		t.Fatalf("expected buffer drained, got %d bytes pending", a.Pending())
	}
}

func TestAssemblerAssemblesConsecutiveFrames(t *testing.T) {
	h1 := wire.NewHeader(wire.Ack, 1, 0, 1, nil)
	h2 := wire.NewHeader(wire.Ack, 2, 0, 1, nil)

	var a Assembler
	a.Feed(wire.Encode(h1, nil))
	a.Feed(wire.Encode(h2, nil))

	first, _, ok, err := a.Next()
	if err != nil || !ok || first.SequenceNumber != 1 {
		t.Fatalf("unexpected first frame: %+v ok=%v err=%v", first, ok, err)
	}
	second, _, ok, err := a.Next()
	if err != nil || !ok || second.SequenceNumber != 2 {
		t.Fatalf("unexpected second frame: %+v ok=%v err=%v", second, ok, err)
	}
}
