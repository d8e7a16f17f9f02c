// Package transfer implements the per-session transfer service: it
// validates incoming frames against the protocol state machine, drives
// the file store and chunk tracker, and produces reply frames.
package transfer

import (
	"path/filepath"

	"github.com/filewire/transferd/internal/chunktracker"
	"github.com/filewire/transferd/internal/store"
)

// Context tracks the single live transfer for a session: its filename,
// declared size, storage mode, staging area and chunk tracker. Exactly
// one Context is live per session at any time; a new FileRequest
// supersedes whatever Context preceded it.
type Context struct {
	TransferID   string
	Filename     string
	DeclaredSize uint64
	Staging      *store.Staging
	Tracker      *chunktracker.Tracker
	Complete     bool

	// PushEligible marks a context whose FileRequest resolved to an
	// already-existing path: the server cannot yet tell whether the
	// peer wants to download it or overwrite it with an upload, so the
	// dispatcher is allowed to push it as a download unless the peer's
	// own FileMetadata arrives first (handleFileMetadata clears this).
	// A ResumeRequest matching an in-progress upload's sidecar never
	// sets it; a ResumeRequest matching no sidecar but an already-
	// published file does, to resume a dropped download.
	PushEligible bool

	// ResumeOffset is nonzero only for a push-eligible context opened
	// by a ResumeRequest: the dispatcher's download push starts here
	// instead of at byte 0.
	ResumeOffset uint64
}

// SidecarPath returns the tracker sidecar path for filename within
// sessionTempDir, following the `<filename>.state` convention. Exported
// so the session manager can probe a retained temp dir for a resumable
// transfer without duplicating the naming convention.
func SidecarPath(sessionTempDir, filename string) string {
	return filepath.Join(sessionTempDir, filename+".state")
}
