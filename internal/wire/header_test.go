package wire

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	payload := []byte("hello world")
	h := NewHeader(FileData, 7, 3, 0x1122334455667788, payload)

	encoded := Encode(h, payload)
	if len(encoded) != HeaderSize+len(payload) {
		t.Fatalf("encoded length = %d, want %d", len(encoded), HeaderSize+len(payload))
	}

	decoded, err := DecodeHeader(encoded[:HeaderSize])
	if err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}
	if decoded != h {
		t.Fatalf("decoded header = %+v, want %+v", decoded, h)
	}
	if !Verify(decoded, encoded[HeaderSize:]) {
		t.Fatalf("Verify failed on round-tripped frame")
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	if _, err := DecodeHeader(make([]byte, 10)); err != ErrShortHeader {
		t.Fatalf("err = %v, want ErrShortHeader", err)
	}
}

func TestDecodeHeaderBadMagic(t *testing.T) {
	h := NewHeader(Handshake, 0, 0, 0, nil)
	buf := h.Encode()
	buf[0] = 0xFF
	if _, err := DecodeHeader(buf); err != ErrMagicMismatch {
		t.Fatalf("err = %v, want ErrMagicMismatch", err)
	}
}

func TestVerifyZeroChecksumEmptyPayload(t *testing.T) {
	h := Header{Magic: ProtocolMagic, Version: ProtocolVersion, MsgType: Close, Checksum: 0}
	if !Verify(h, nil) {
		t.Fatalf("expected zero checksum with empty payload to verify")
	}
}

func TestVerifyZeroChecksumNonEmptyPayloadFails(t *testing.T) {
	h := Header{Magic: ProtocolMagic, Version: ProtocolVersion, MsgType: FileData, Checksum: 0}
	if Verify(h, []byte("not empty")) {
		t.Fatalf("expected zero checksum with non-empty payload to fail verification")
	}
}

func TestCheckVersion(t *testing.T) {
	h := Header{Version: ProtocolVersion}
	if err := CheckVersion(h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Version = 99
	if err := CheckVersion(h); err == nil {
		t.Fatalf("expected error for unsupported version")
	}
}
