// Package session binds a wire-protocol Service to a connected peer: it
// assigns each connection a session identity, a private temp-staging
// directory, and an idle lifetime, and lets a later reconnect for the
// same file recover a still-retained staging area via ResumeRequest.
package session

import (
	"time"

	"github.com/filewire/transferd/internal/ratelimit"
	"github.com/filewire/transferd/internal/transfer"
)

// Session is one connected peer's protocol handler plus the
// bookkeeping the Manager needs to reap it.
type Session struct {
	ID         string
	WireID     uint64
	PeerAddr   string
	TempDir    string
	CreatedAt  time.Time
	LastActive time.Time
	Service    *transfer.Service

	// Limiter gates this session's FileData throughput so one
	// session's chunk flood cannot starve others sharing a back-end.
	Limiter *ratelimit.Limiter

	closed      bool
	retainUntil time.Time
}

// Touch records activity, keeping the session out of the idle reaper's
// reach.
func (s *Session) Touch() {
	s.LastActive = time.Now()
}

// IdleFor reports how long the session has gone without activity.
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.LastActive)
}
