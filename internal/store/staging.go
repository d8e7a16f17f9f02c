package store

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// Staging is the transient representation of an in-progress upload,
// either a byte buffer (MemoryFirst) or a temp file (DiskFirst/Hybrid
// overflow), per spec §3's TransferContext staging field.
type Staging struct {
	store     *Store
	mode      Mode
	fileSize  uint64
	chunkSize uint32
	diskPath  string

	mu     sync.Mutex
	memBuf []byte
}

// ChunkByteRange returns the [start, end) byte offsets for chunkNumber
// given totalChunks, per spec §4.3's chunk-placement algorithm.
func ChunkByteRange(chunkNumber uint32, chunkSize uint32, fileSize uint64, totalChunks uint32) (start, end uint64, err error) {
	if totalChunks == 0 || chunkNumber >= totalChunks {
		return 0, 0, ErrChunkOutOfRange
	}
	start = uint64(chunkNumber) * uint64(chunkSize)
	if chunkNumber == totalChunks-1 {
		end = fileSize
	} else {
		end = start + uint64(chunkSize)
	}
	return start, end, nil
}

// WriteChunk writes data at chunkNumber's byte offset. It rejects
// payloads that would extend past the declared file size or exceed the
// expected size for that chunk (the last chunk may be shorter, never
// longer).
func (s *Staging) WriteChunk(chunkNumber uint32, totalChunks uint32, data []byte) error {
	start, end, err := ChunkByteRange(chunkNumber, s.chunkSize, s.fileSize, totalChunks)
	if err != nil {
		return err
	}
	expected := end - start
	if uint64(len(data)) > expected {
		return ErrOversizedChunk
	}
	if start+uint64(len(data)) > s.fileSize {
		return ErrWouldExceedFileSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case MemoryFirst:
		copy(s.memBuf[start:], data)
		return nil
	default:
		f, err := os.OpenFile(s.diskPath, os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("store: open staging file: %w", err)
		}
		defer f.Close()
		if _, err := f.WriteAt(data, int64(start)); err != nil {
			return fmt.Errorf("store: write staging chunk: %w", err)
		}
		return nil
	}
}

// CRC32 computes the IEEE CRC32 over the full assembled content.
func (s *Staging) CRC32() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case MemoryFirst:
		return crc32.ChecksumIEEE(s.memBuf), nil
	default:
		f, err := os.Open(s.diskPath)
		if err != nil {
			return 0, fmt.Errorf("store: open staging file for checksum: %w", err)
		}
		defer f.Close()
		h := crc32.NewIEEE()
		if _, err := io.Copy(h, f); err != nil {
			return 0, fmt.Errorf("store: read staging file for checksum: %w", err)
		}
		return h.Sum32(), nil
	}
}

// Chunks splits the assembled content into chunkSize pieces in index
// order, for building an audit manifest. It is independent of which
// chunks were actually received over the wire: it reads back what is on
// disk/in memory, which is only called after IsComplete() or during
// audit tooling.
func (s *Staging) Chunks() ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var content []byte
	switch s.mode {
	case MemoryFirst:
		content = s.memBuf
	default:
		data, err := os.ReadFile(s.diskPath)
		if err != nil {
			return nil, fmt.Errorf("store: read staging file: %w", err)
		}
		content = data
	}

	if len(content) == 0 {
		return nil, nil
	}
	var chunks [][]byte
	cs := int(s.chunkSize)
	for off := 0; off < len(content); off += cs {
		end := off + cs
		if end > len(content) {
			end = len(content)
		}
		chunks = append(chunks, content[off:end])
	}
	return chunks, nil
}

// Mode reports the staging strategy in effect for this transfer.
func (s *Staging) Mode() Mode { return s.mode }
