package audit

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func TestBuildManifestAndSignRoundTrip(t *testing.T) {
	chunks := [][]byte{[]byte("01234567"), []byte("89")}
	m, err := BuildManifest("t1", "x", 8, chunks)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	if len(m.Chunks) != 2 {
		t.Fatalf("got %d chunk entries, want 2", len(m.Chunks))
	}
	if m.MerkleRoot == "" {
		t.Fatalf("expected non-empty merkle root")
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	_ = pub
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := m.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !m.VerifySignature() {
		t.Fatalf("expected signature to verify")
	}
}

func TestTamperedManifestFailsVerification(t *testing.T) {
	m, err := BuildManifest("t1", "x", 8, [][]byte{[]byte("hello")})
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	if err := m.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	m.MerkleRoot = "tampered"
	if m.VerifySignature() {
		t.Fatalf("expected tampered manifest to fail verification")
	}
}

func TestEmptyManifestHasEmptyRoot(t *testing.T) {
	m, err := BuildManifest("t1", "empty", 8, nil)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	if m.MerkleRoot != "" {
		t.Fatalf("expected empty merkle root for no chunks, got %q", m.MerkleRoot)
	}
}
