// Package audit builds and signs an optional, non-authoritative ledger
// of per-chunk hashes and a Merkle root for a published transfer. It
// never gates whether a file is considered complete — that is decided
// solely by CRC32 ChecksumVerify (see internal/transfer) — but it gives
// an offline-verifiable forensic trail, grounded in the teacher's
// chunk-manifest + Merkle-root + Ed25519-signing pipeline re-pointed at
// CRC32-assembled files instead of its original QUIC/FEC profile.
package audit

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// ChunkEntry is one chunk's audit record.
type ChunkEntry struct {
	Index  int    `json:"index"`
	Length int    `json:"length"`
	Hash   string `json:"blake3_hash"`
}

// Manifest is the full per-file audit ledger.
type Manifest struct {
	TransferID string       `json:"transfer_id"`
	Filename   string       `json:"filename"`
	ChunkSize  int          `json:"chunk_size"`
	Chunks     []ChunkEntry `json:"chunks"`
	MerkleRoot string       `json:"merkle_root"`
	Signature  []byte       `json:"signature,omitempty"`
	PublicKey  []byte       `json:"public_key,omitempty"`
}

// BuildManifest computes a BLAKE3 hash per chunk and a Merkle root over
// them, from the assembled file's chunks in index order.
func BuildManifest(transferID, filename string, chunkSize int, chunks [][]byte) (*Manifest, error) {
	entries := make([]ChunkEntry, len(chunks))
	hashes := make([]string, len(chunks))
	for i, c := range chunks {
		sum := blake3.Sum256(c)
		h := base64.StdEncoding.EncodeToString(sum[:])
		entries[i] = ChunkEntry{Index: i, Length: len(c), Hash: h}
		hashes[i] = h
	}
	root, err := merkleRoot(hashes)
	if err != nil {
		return nil, fmt.Errorf("audit: compute merkle root: %w", err)
	}
	return &Manifest{
		TransferID: transferID,
		Filename:   filename,
		ChunkSize:  chunkSize,
		Chunks:     entries,
		MerkleRoot: root,
	}, nil
}

// merkleRoot builds a binary Merkle tree bottom-up over base64-encoded
// BLAKE3 leaf hashes, duplicating the last element of an odd level.
func merkleRoot(hashes []string) (string, error) {
	if len(hashes) == 0 {
		return "", nil
	}
	level := make([][]byte, len(hashes))
	for i, h := range hashes {
		decoded, err := base64.StdEncoding.DecodeString(h)
		if err != nil {
			return "", err
		}
		level[i] = decoded
	}
	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			var combined []byte
			if i+1 < len(level) {
				combined = append(append([]byte{}, level[i]...), level[i+1]...)
			} else {
				combined = append(append([]byte{}, level[i]...), level[i]...)
			}
			sum := blake3.Sum256(combined)
			next = append(next, sum[:])
		}
		level = next
	}
	return base64.StdEncoding.EncodeToString(level[0]), nil
}

// canonical returns the JSON bytes the signature is computed over.
func (m *Manifest) canonical() ([]byte, error) {
	return json.Marshal(struct {
		TransferID string       `json:"transfer_id"`
		Filename   string       `json:"filename"`
		ChunkSize  int          `json:"chunk_size"`
		Chunks     []ChunkEntry `json:"chunks"`
		MerkleRoot string       `json:"merkle_root"`
	}{m.TransferID, m.Filename, m.ChunkSize, m.Chunks, m.MerkleRoot})
}

// Sign signs the manifest's canonical form with an Ed25519 identity key.
func (m *Manifest) Sign(priv ed25519.PrivateKey) error {
	canon, err := m.canonical()
	if err != nil {
		return fmt.Errorf("audit: canonicalize manifest: %w", err)
	}
	m.Signature = ed25519.Sign(priv, canon)
	m.PublicKey = priv.Public().(ed25519.PublicKey)
	return nil
}

// VerifySignature checks m.Signature against m.PublicKey.
func (m *Manifest) VerifySignature() bool {
	if len(m.PublicKey) != ed25519.PublicKeySize || len(m.Signature) == 0 {
		return false
	}
	canon, err := m.canonical()
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(m.PublicKey), canon, m.Signature)
}
