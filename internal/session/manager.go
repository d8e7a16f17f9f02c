package session

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/filewire/transferd/internal/observability"
	"github.com/filewire/transferd/internal/ratelimit"
	"github.com/filewire/transferd/internal/store"
	"github.com/filewire/transferd/internal/transfer"
)

// retainedDir is a closed session's temp directory kept around past
// Close so a reconnecting peer's ResumeRequest can still find its
// staging file and sidecar.
type retainedDir struct {
	path    string
	expires time.Time
}

// Manager opens, tracks and reaps sessions. Exactly one Manager exists
// per running daemon; it owns the mapping from connection to Service
// and the cron schedule that reaps idle sessions.
type Manager struct {
	Store             *store.Store
	TempRoot          string
	IdleTimeout       time.Duration
	ResumeGracePeriod time.Duration
	Logger            *observability.Logger
	Metrics           *observability.Metrics

	// RateBytesPerSec and RateBurstBytes configure the per-session
	// token bucket handed to every newly opened session; <= 0 means
	// unlimited, matching ratelimit.NewLimiter's default.
	RateBytesPerSec float64
	RateBurstBytes  int

	// AuditKey and AuditDir, when both set, are handed to every opened
	// session's Service so it signs a manifest for each publish.
	AuditKey ed25519.PrivateKey
	AuditDir string

	mu       sync.RWMutex
	sessions map[string]*Session
	retained []retainedDir

	cron    *cron.Cron
	entryID cron.EntryID
}

// NewManager builds a Manager. tempRoot holds every session's private
// staging subdirectory, created and removed alongside the session
// itself (Open creates it, Reap removes it after ResumeGracePeriod
// elapses with no matching resume).
func NewManager(st *store.Store, tempRoot string, idleTimeout, resumeGrace time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		Store:             st,
		TempRoot:          tempRoot,
		IdleTimeout:       idleTimeout,
		ResumeGracePeriod: resumeGrace,
		Logger:            logger,
		Metrics:           metrics,
		sessions:          make(map[string]*Session),
	}
}

// Open creates a new session for a just-accepted peer connection: a
// UUID identity, a derived wire session_id, a private temp subdir, and
// a transfer.Service wired with ResumeLookup so a ResumeRequest this
// session cannot satisfy locally falls through to a still-retained
// directory from an earlier, now-closed session.
func (m *Manager) Open(peerAddr string) (*Session, error) {
	id := uuid.New()
	tempDir := filepath.Join(m.TempRoot, id.String())
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session temp dir: %w", err)
	}

	wireID := wireSessionID(id)
	svc := transfer.NewService(m.Store, wireID, tempDir)
	svc.ResumeLookup = m.resumeLookup
	if m.AuditKey != nil {
		svc.AuditKey = m.AuditKey
		svc.AuditDir = m.AuditDir
	}

	now := time.Now()
	sess := &Session{
		ID:         id.String(),
		WireID:     wireID,
		PeerAddr:   peerAddr,
		TempDir:    tempDir,
		CreatedAt:  now,
		LastActive: now,
		Service:    svc,
		Limiter:    ratelimit.NewLimiter(m.RateBytesPerSec, m.RateBurstBytes),
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	if m.Metrics != nil {
		m.Metrics.SessionsActive.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	if m.Logger != nil {
		m.Logger.SessionOpened(sess.ID, peerAddr)
	}
	return sess, nil
}

// wireSessionID derives the 64-bit wire protocol session identifier
// from the high 8 bytes of a UUID. Collisions are astronomically
// unlikely and harmless in any case: the wire session_id is an opaque
// correlation tag, never a lookup key into Manager's own session map.
func wireSessionID(id uuid.UUID) uint64 {
	return binary.BigEndian.Uint64(id[:8])
}

// Touch records activity on sessionID, keeping it off the idle reaper.
func (m *Manager) Touch(sessionID string) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		sess.Touch()
	}
}

// Get returns the session for sessionID, if still open.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// ActiveCount reports the number of currently open sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close removes sessionID from the active set. An incomplete transfer
// already left its staging file and sidecar on disk via the service's
// own Close handling (see transfer.Service.handleClose); Close here
// only retains that temp directory for ResumeGracePeriod so a
// reconnecting peer's ResumeRequest can still find it, then lets Reap
// delete it once the grace period lapses.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	delete(m.sessions, sessionID)
	if m.Metrics != nil {
		m.Metrics.SessionsActive.Set(float64(len(m.sessions)))
	}

	sess.closed = true
	sess.retainUntil = time.Now().Add(m.ResumeGracePeriod)
	m.retained = append(m.retained, retainedDir{path: sess.TempDir, expires: sess.retainUntil})
}

// resumeLookup scans retained closed-session temp directories for a
// sidecar matching filename, for a transfer.Service's ResumeRequest
// handler to fall back to when its own session never saw that file.
func (m *Manager) resumeLookup(filename string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.retained {
		if time.Now().After(r.expires) {
			continue
		}
		if _, err := os.Stat(transfer.SidecarPath(r.path, filename)); err == nil {
			return r.path, true
		}
	}
	return "", false
}

// Reap closes every session idle for longer than m.IdleTimeout and
// deletes every retained directory whose resume grace period has
// elapsed. Intended to run on m.cron's schedule, but safe to call
// directly (tests do).
func (m *Manager) Reap() {
	m.mu.Lock()
	var idle []*Session
	for _, sess := range m.sessions {
		if sess.IdleFor() > m.IdleTimeout {
			idle = append(idle, sess)
		}
	}
	for _, sess := range idle {
		delete(m.sessions, sess.ID)
		sess.closed = true
		sess.retainUntil = time.Now().Add(m.ResumeGracePeriod)
		m.retained = append(m.retained, retainedDir{path: sess.TempDir, expires: sess.retainUntil})
	}
	if m.Metrics != nil {
		m.Metrics.SessionsActive.Set(float64(len(m.sessions)))
	}

	var expired []string
	kept := m.retained[:0]
	for _, r := range m.retained {
		if time.Now().After(r.expires) {
			expired = append(expired, r.path)
			continue
		}
		kept = append(kept, r)
	}
	m.retained = kept
	m.mu.Unlock()

	for _, sess := range idle {
		if m.Logger != nil {
			m.Logger.SessionReaped(sess.ID, sess.IdleFor())
		}
		if m.Metrics != nil {
			m.Metrics.RecordSessionReaped()
		}
	}
	for _, dir := range expired {
		_ = os.RemoveAll(dir)
	}
}

// StartReaper schedules Reap on a cron expression (default every five
// minutes, matching the daemon's configured ReapInterval). Safe to
// call at most once per Manager.
func (m *Manager) StartReaper(interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	m.cron = cron.New()
	spec := fmt.Sprintf("@every %s", interval)
	entryID, err := m.cron.AddFunc(spec, m.Reap)
	if err != nil {
		return fmt.Errorf("scheduling reaper: %w", err)
	}
	m.entryID = entryID
	m.cron.Start()
	return nil
}

// StopReaper halts the cron schedule started by StartReaper, if any.
func (m *Manager) StopReaper() {
	if m.cron != nil {
		ctx := m.cron.Stop()
		<-ctx.Done()
	}
}
