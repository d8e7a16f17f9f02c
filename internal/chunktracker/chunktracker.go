// Package chunktracker tracks which chunks of a transfer have been
// received and persists that set to a JSON sidecar file so a transfer
// can resume after a disconnect.
package chunktracker

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Tracker holds the set of received chunk indices for one transfer.
type Tracker struct {
	mu          sync.RWMutex
	fileSize    uint64
	chunkSize   uint32
	totalChunks uint32
	received    map[uint32]struct{}
	transferID  string
}

// sidecar is the on-disk JSON schema: {"file_size", "chunk_size", "received_chunks"}.
// transfer_id is carried as an additional field so a later ResumeRequest
// can reopen the same disk-backed staging file; it is ignored by any
// reader that only needs the three contract fields.
type sidecar struct {
	FileSize       uint64   `json:"file_size"`
	ChunkSize      uint32   `json:"chunk_size"`
	ReceivedChunks []uint32 `json:"received_chunks"`
	TransferID     string   `json:"transfer_id,omitempty"`
}

// New creates a tracker for a file of fileSize bytes split into
// chunkSize-byte chunks. TotalChunks is ceil(fileSize / chunkSize).
func New(fileSize uint64, chunkSize uint32) *Tracker {
	total := uint32(0)
	if chunkSize > 0 {
		total = uint32((fileSize + uint64(chunkSize) - 1) / uint64(chunkSize))
	}
	return &Tracker{
		fileSize:    fileSize,
		chunkSize:   chunkSize,
		totalChunks: total,
		received:    make(map[uint32]struct{}),
	}
}

// TotalChunks returns ceil(file_size / chunk_size).
func (t *Tracker) TotalChunks() uint32 {
	return t.totalChunks
}

// FileSize returns the declared file size this tracker was built for.
func (t *Tracker) FileSize() uint64 {
	return t.fileSize
}

// ChunkSize returns the chunk size this tracker was built for.
func (t *Tracker) ChunkSize() uint32 {
	return t.chunkSize
}

// TransferID returns the transfer identifier this tracker was tagged
// with via SetTransferID, or "" if never set.
func (t *Tracker) TransferID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.transferID
}

// SetTransferID tags this tracker with the transfer identifier whose
// staging file it describes, so a later Load can recover it.
func (t *Tracker) SetTransferID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transferID = id
}

// Mark records chunk as received. It rejects indices outside
// [0, TotalChunks).
func (t *Tracker) Mark(chunk uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if chunk >= t.totalChunks {
		return fmt.Errorf("chunktracker: chunk %d out of range [0, %d)", chunk, t.totalChunks)
	}
	t.received[chunk] = struct{}{}
	return nil
}

// MarkMany records every chunk in chunks as received.
func (t *Tracker) MarkMany(chunks []uint32) error {
	for _, c := range chunks {
		if err := t.Mark(c); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether chunk has been received.
func (t *Tracker) Has(chunk uint32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.received[chunk]
	return ok
}

// Missing returns the sorted set of chunk indices not yet received.
func (t *Tracker) Missing() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	missing := make([]uint32, 0, int(t.totalChunks)-len(t.received))
	for i := uint32(0); i < t.totalChunks; i++ {
		if _, ok := t.received[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// ReceivedCount returns how many distinct chunks have been received.
func (t *Tracker) ReceivedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.received)
}

// IsComplete reports whether every chunk in [0, TotalChunks) has been received.
func (t *Tracker) IsComplete() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.received) == int(t.totalChunks)
}

// Save writes the tracker's state to path as JSON, following the
// `{"file_size", "chunk_size", "received_chunks"}` sidecar schema.
func (t *Tracker) Save(path string) error {
	t.mu.RLock()
	chunks := make([]uint32, 0, len(t.received))
	for c := range t.received {
		chunks = append(chunks, c)
	}
	sc := sidecar{FileSize: t.fileSize, ChunkSize: t.chunkSize, ReceivedChunks: chunks, TransferID: t.transferID}
	t.mu.RUnlock()

	sort.Slice(chunks, func(i, j int) bool { return chunks[i] < chunks[j] })

	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("chunktracker: marshal sidecar: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("chunktracker: write sidecar: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads a sidecar file written by Save and reconstructs a Tracker.
func Load(path string) (*Tracker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("chunktracker: unmarshal sidecar: %w", err)
	}
	t := New(sc.FileSize, sc.ChunkSize)
	if err := t.MarkMany(sc.ReceivedChunks); err != nil {
		return nil, fmt.Errorf("chunktracker: sidecar contains invalid chunk index: %w", err)
	}
	t.SetTransferID(sc.TransferID)
	return t, nil
}

// Delete removes the sidecar file. Missing files are not an error.
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
