package wire

import "testing"

func TestFileMetadataRoundTrip(t *testing.T) {
	p := FileMetadataPayload{FileSize: 10, ExpectedCRC32: 0xDEADBEEF, Filename: "x.bin"}
	decoded, err := DecodeFileMetadata(p.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != p {
		t.Fatalf("decoded = %+v, want %+v", decoded, p)
	}
}

func TestResumeRequestRoundTrip(t *testing.T) {
	p := ResumeRequestPayload{Offset: 8, Filename: "x"}
	decoded, err := DecodeResumeRequest(p.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != p {
		t.Fatalf("decoded = %+v, want %+v", decoded, p)
	}
}

func TestListResponseRoundTrip(t *testing.T) {
	records := []ListRecord{
		{IsDir: false, Size: 3, Mtime: 1000, Name: "a.txt"},
		{IsDir: true, Size: 0, Mtime: 2000, Name: "sub"},
	}
	payload := EncodeListResponse(FormatDetail, records)
	format, decoded, err := DecodeListResponse(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if format != FormatDetail {
		t.Fatalf("format = %v, want FormatDetail", format)
	}
	if len(decoded) != len(records) {
		t.Fatalf("got %d records, want %d", len(decoded), len(records))
	}
	for i := range records {
		if decoded[i] != records[i] {
			t.Fatalf("record %d = %+v, want %+v", i, decoded[i], records[i])
		}
	}
}

func TestNlstResponseRoundTrip(t *testing.T) {
	names := []string{"a.txt", "sub", "sub/b.txt"}
	payload := EncodeNlstResponse(names)
	decoded, err := DecodeNlstResponse(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != len(names) {
		t.Fatalf("got %d names, want %d", len(decoded), len(names))
	}
	for i := range names {
		if decoded[i] != names[i] {
			t.Fatalf("name %d = %q, want %q", i, decoded[i], names[i])
		}
	}
}

func TestDecodeFileRequestInvalidUTF8(t *testing.T) {
	if _, err := DecodeFileRequest([]byte{0xff, 0xfe}); err != ErrInvalidUTF8 {
		t.Fatalf("err = %v, want ErrInvalidUTF8", err)
	}
}
