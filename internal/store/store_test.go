package store

import (
	"bytes"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/filewire/transferd/internal/wire"
)

func totalChunksFor(fileSize uint64, chunkSize uint32) uint32 {
	if fileSize == 0 {
		return 1
	}
	n := fileSize / uint64(chunkSize)
	if fileSize%uint64(chunkSize) != 0 {
		n++
	}
	return uint32(n)
}

func writeAllChunks(t *testing.T, st *Staging, content []byte, chunkSize uint32) {
	t.Helper()
	total := totalChunksFor(uint64(len(content)), chunkSize)
	for i := uint32(0); i < total; i++ {
		start, end, err := ChunkByteRange(i, chunkSize, uint64(len(content)), total)
		if err != nil {
			t.Fatalf("chunk range %d: %v", i, err)
		}
		if err := st.WriteChunk(i, total, content[start:end]); err != nil {
			t.Fatalf("write chunk %d: %v", i, err)
		}
	}
}

func TestStagingMemoryFirstWriteAndPublish(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	s.ChunkSize = 4

	content := []byte("hello world!") // 12 bytes, chunk size 4 -> 3 chunks
	st, err := s.NewStaging(MemoryFirst, "t1", "greeting.txt", uint64(len(content)), filepath.Join(root, ".staging"))
	if err != nil {
		t.Fatalf("NewStaging: %v", err)
	}
	if st.Mode() != MemoryFirst {
		t.Fatalf("mode = %v, want MemoryFirst", st.Mode())
	}
	writeAllChunks(t, st, content, 4)

	got, err := st.CRC32()
	if err != nil {
		t.Fatalf("CRC32: %v", err)
	}
	want := crc32.ChecksumIEEE(content)
	if got != want {
		t.Fatalf("crc mismatch: got %d want %d", got, want)
	}

	if err := s.Publish(st, "greeting.txt"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "greeting.txt"))
	if err != nil {
		t.Fatalf("read published file: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Fatalf("published content = %q, want %q", data, content)
	}
}

func TestStagingDiskFirstWriteAndPublish(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	s.ChunkSize = 5

	content := []byte("the quick brown fox")
	st, err := s.NewStaging(DiskFirst, "t2", "fox.txt", uint64(len(content)), filepath.Join(root, ".staging"))
	if err != nil {
		t.Fatalf("NewStaging: %v", err)
	}
	writeAllChunks(t, st, content, 5)

	if err := s.Publish(st, "nested/fox.txt"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "nested/fox.txt"))
	if err != nil {
		t.Fatalf("read published file: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Fatalf("published content = %q, want %q", data, content)
	}
}

func TestStagingRejectsOversizedChunk(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	s.ChunkSize = 4

	st, err := s.NewStaging(MemoryFirst, "t3", "x.bin", 8, filepath.Join(root, ".staging"))
	if err != nil {
		t.Fatalf("NewStaging: %v", err)
	}
	if err := st.WriteChunk(0, 2, []byte("12345")); err != ErrOversizedChunk {
		t.Fatalf("err = %v, want ErrOversizedChunk", err)
	}
}

func TestStagingRejectsOutOfRangeChunk(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	s.ChunkSize = 4

	st, err := s.NewStaging(MemoryFirst, "t4", "x.bin", 8, filepath.Join(root, ".staging"))
	if err != nil {
		t.Fatalf("NewStaging: %v", err)
	}
	if err := st.WriteChunk(5, 2, []byte("ab")); err != ErrChunkOutOfRange {
		t.Fatalf("err = %v, want ErrChunkOutOfRange", err)
	}
}

func TestStagingZeroByteFile(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	s.ChunkSize = 4

	st, err := s.NewStaging(Hybrid, "t5", "empty.txt", 0, filepath.Join(root, ".staging"))
	if err != nil {
		t.Fatalf("NewStaging: %v", err)
	}
	crc, err := st.CRC32()
	if err != nil {
		t.Fatalf("CRC32: %v", err)
	}
	if crc != 0 {
		t.Fatalf("crc of empty content = %d, want 0", crc)
	}
	if err := s.Publish(st, "empty.txt"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	info, err := os.Stat(filepath.Join(root, "empty.txt"))
	if err != nil {
		t.Fatalf("stat published file: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("published size = %d, want 0", info.Size())
	}
}

func TestStagingExactChunkBoundary(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	s.ChunkSize = 4

	content := []byte("abcd") // exactly one chunk
	st, err := s.NewStaging(MemoryFirst, "t6", "one.txt", uint64(len(content)), filepath.Join(root, ".staging"))
	if err != nil {
		t.Fatalf("NewStaging: %v", err)
	}
	total := totalChunksFor(uint64(len(content)), 4)
	if total != 1 {
		t.Fatalf("total chunks = %d, want 1", total)
	}
	writeAllChunks(t, st, content, 4)
	chunks, err := st.Chunks()
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	if len(chunks) != 1 || !bytes.Equal(chunks[0], content) {
		t.Fatalf("chunks = %v, want [%q]", chunks, content)
	}
}

func TestChooseModeHybridRespectsThreshold(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	s.HybridThresholdBytes = 10

	if mode := s.chooseMode(Hybrid, 5); mode != MemoryFirst {
		t.Fatalf("mode for small file = %v, want MemoryFirst", mode)
	}
	if mode := s.chooseMode(Hybrid, 100); mode != DiskFirst {
		t.Fatalf("mode for large file = %v, want DiskFirst", mode)
	}
}

func TestMemoryFirstFallsBackWhenBudgetExhausted(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	s.MaxMemoryBytes = 10
	s.reserveMemory(8)

	if mode := s.chooseMode(MemoryFirst, 5); mode != DiskFirst {
		t.Fatalf("mode = %v, want DiskFirst when budget nearly exhausted", mode)
	}
}

func TestReleaseFreesMemoryBudget(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	s.MaxMemoryBytes = 100

	st, err := s.NewStaging(MemoryFirst, "t7", "a.bin", 40, filepath.Join(root, ".staging"))
	if err != nil {
		t.Fatalf("NewStaging: %v", err)
	}
	if s.memoryInUse != 40 {
		t.Fatalf("memoryInUse = %d, want 40", s.memoryInUse)
	}
	if err := s.Release(st); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if s.memoryInUse != 0 {
		t.Fatalf("memoryInUse after release = %d, want 0", s.memoryInUse)
	}
}

func TestListAndNlst(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	records, err := s.List(".", wire.FilterAll)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}

	filesOnly, err := s.List(".", wire.FilterFilesOnly)
	if err != nil {
		t.Fatalf("List files only: %v", err)
	}
	if len(filesOnly) != 1 || filesOnly[0].Name != "a.txt" {
		t.Fatalf("filesOnly = %v, want [a.txt]", filesOnly)
	}

	names, err := s.Nlst(".", wire.FilterDirsOnly)
	if err != nil {
		t.Fatalf("Nlst: %v", err)
	}
	if len(names) != 1 || names[0] != "sub" {
		t.Fatalf("names = %v, want [sub]", names)
	}
}

func TestWalkEnumeratesPublishedFilesOnly(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("yy"), 0o644); err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]int64)
	if err := s.Walk(func(relPath string, info os.FileInfo) error {
		seen[relPath] = info.Size()
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("Walk visited %d entries, want 2: %v", len(seen), seen)
	}
	if seen["a.txt"] != 1 {
		t.Fatalf("a.txt size = %d, want 1", seen["a.txt"])
	}
	if seen[filepath.Join("sub", "b.txt")] != 2 {
		t.Fatalf("sub/b.txt size = %d, want 2", seen[filepath.Join("sub", "b.txt")])
	}
}

func TestResolvePathRejectsEscape(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	if _, err := s.ResolvePath("../outside"); err != ErrPathEscapesRoot {
		t.Fatalf("err = %v, want ErrPathEscapesRoot", err)
	}
}
