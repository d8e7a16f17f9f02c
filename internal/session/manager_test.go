package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/filewire/transferd/internal/store"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	tempRoot := t.TempDir()
	st := store.New(root)
	mgr := NewManager(st, tempRoot, time.Hour, time.Hour, nil, nil)
	return mgr, tempRoot
}

func TestOpenCreatesDistinctSessions(t *testing.T) {
	mgr, _ := newTestManager(t)

	s1, err := mgr.Open("peer-a:1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s2, err := mgr.Open("peer-b:1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if s1.ID == s2.ID {
		t.Fatalf("expected distinct session ids")
	}
	if s1.WireID == s2.WireID {
		t.Fatalf("expected distinct wire session ids")
	}
	if mgr.ActiveCount() != 2 {
		t.Fatalf("expected 2 active sessions, got %d", mgr.ActiveCount())
	}
	if _, err := os.Stat(s1.TempDir); err != nil {
		t.Fatalf("expected temp dir to exist: %v", err)
	}
}

func TestCloseRetainsTempDirForGracePeriod(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.ResumeGracePeriod = time.Hour

	sess, err := mgr.Open("peer-a:1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tempDir := sess.TempDir

	mgr.Close(sess.ID)

	if mgr.ActiveCount() != 0 {
		t.Fatalf("expected 0 active sessions after close, got %d", mgr.ActiveCount())
	}
	if _, err := os.Stat(tempDir); err != nil {
		t.Fatalf("expected retained temp dir to still exist: %v", err)
	}
}

func TestResumeLookupFindsRetainedSidecar(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.ResumeGracePeriod = time.Hour

	sess, err := mgr.Open("peer-a:1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	sidecarPath := filepath.Join(sess.TempDir, "report.bin.state")
	if err := os.WriteFile(sidecarPath, []byte(`{"file_size":10,"chunk_size":8192,"received_chunks":[]}`), 0o644); err != nil {
		t.Fatalf("writing sidecar: %v", err)
	}

	mgr.Close(sess.ID)

	dir, ok := mgr.resumeLookup("report.bin")
	if !ok {
		t.Fatalf("expected resumeLookup to find retained sidecar")
	}
	if dir != sess.TempDir {
		t.Fatalf("expected %s, got %s", sess.TempDir, dir)
	}

	if _, ok := mgr.resumeLookup("missing.bin"); ok {
		t.Fatalf("expected no match for a file that was never staged")
	}
}

func TestReapClosesIdleSessions(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.IdleTimeout = time.Millisecond

	sess, err := mgr.Open("peer-a:1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	mgr.Reap()

	if mgr.ActiveCount() != 0 {
		t.Fatalf("expected idle session to be reaped")
	}
	if _, ok := mgr.Get(sess.ID); ok {
		t.Fatalf("expected reaped session to no longer be retrievable")
	}
	if _, err := os.Stat(sess.TempDir); err != nil {
		t.Fatalf("expected temp dir to survive reap within grace period: %v", err)
	}
}

func TestReapDeletesExpiredRetainedDirs(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.ResumeGracePeriod = time.Millisecond

	sess, err := mgr.Open("peer-a:1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mgr.Close(sess.ID)
	time.Sleep(5 * time.Millisecond)

	mgr.Reap()

	if _, err := os.Stat(sess.TempDir); !os.IsNotExist(err) {
		t.Fatalf("expected retained dir to be removed after grace period, stat err: %v", err)
	}
}

func TestTouchUpdatesLastActive(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess, err := mgr.Open("peer-a:1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	before := sess.LastActive
	time.Sleep(2 * time.Millisecond)
	mgr.Touch(sess.ID)
	if !sess.LastActive.After(before) {
		t.Fatalf("expected LastActive to advance after Touch")
	}
}
