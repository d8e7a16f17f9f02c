package chunktracker

import (
	"path/filepath"
	"testing"
)

func TestMarkAndMissing(t *testing.T) {
	tr := New(20, 8) // 3 chunks: 8, 8, 4
	if tr.TotalChunks() != 3 {
		t.Fatalf("TotalChunks = %d, want 3", tr.TotalChunks())
	}
	if err := tr.Mark(0); err != nil {
		t.Fatalf("Mark(0): %v", err)
	}
	if err := tr.Mark(2); err != nil {
		t.Fatalf("Mark(2): %v", err)
	}
	missing := tr.Missing()
	if len(missing) != 1 || missing[0] != 1 {
		t.Fatalf("Missing() = %v, want [1]", missing)
	}
	if tr.IsComplete() {
		t.Fatalf("expected incomplete tracker")
	}
}

func TestMarkOutOfRange(t *testing.T) {
	tr := New(10, 8)
	if err := tr.Mark(5); err == nil {
		t.Fatalf("expected error for out-of-range chunk")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.bin.state")

	tr := New(20, 8)
	_ = tr.Mark(0)
	_ = tr.Mark(1)
	if err := tr.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.Has(0) || !loaded.Has(1) || loaded.Has(2) {
		t.Fatalf("loaded tracker chunk set mismatch")
	}
	if loaded.TotalChunks() != 3 {
		t.Fatalf("loaded TotalChunks = %d, want 3", loaded.TotalChunks())
	}
}

func TestResumeIdempotence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.state")

	tr := New(10, 8)
	_ = tr.Mark(0)
	if err := tr.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	first, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := first.Save(path); err != nil {
		t.Fatalf("re-Save: %v", err)
	}
	second, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if second.ReceivedCount() != first.ReceivedCount() {
		t.Fatalf("resume changed received set: %d != %d", second.ReceivedCount(), first.ReceivedCount())
	}
}

func TestDeleteMissingFileIsNoop(t *testing.T) {
	if err := Delete(filepath.Join(t.TempDir(), "does-not-exist.state")); err != nil {
		t.Fatalf("Delete on missing file: %v", err)
	}
}
