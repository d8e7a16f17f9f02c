package transfer

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/filewire/transferd/internal/audit"
	"github.com/filewire/transferd/internal/chunktracker"
	"github.com/filewire/transferd/internal/statemachine"
	"github.com/filewire/transferd/internal/store"
	"github.com/filewire/transferd/internal/wire"
)

// ProtocolVersion is the version this service's Handshake handler accepts.
const ProtocolVersion uint32 = 1

// Service is the per-session handler. It owns exactly one Context at a
// time and is never called concurrently by more than one worker (the
// single-owner-per-session rule).
type Service struct {
	Store     *store.Store
	SessionID uint64
	TempDir   string

	// ResumeLookup, when set, is consulted on a ResumeRequest whose
	// sidecar is not found under this session's own TempDir. It lets
	// the session manager hand back a still-retained temp subdirectory
	// from the session that was transferring the same file before a
	// disconnect, since a reconnect allocates a fresh session (and thus
	// a fresh TempDir) by construction.
	ResumeLookup func(filename string) (dir string, ok bool)

	// AuditKey, when set, signs a per-chunk BLAKE3 + Merkle-root
	// manifest for every transfer this service publishes, written
	// under AuditDir. Both the manifest and its signature are
	// optional and non-authoritative: CRC32 ChecksumVerify alone
	// decides whether a publish happened.
	AuditKey ed25519.PrivateKey
	AuditDir string

	state   statemachine.State
	seq     uint32
	current *Context
}

// NewService constructs a Service scoped to sessionTempDir, in the
// Init state.
func NewService(st *store.Store, sessionID uint64, sessionTempDir string) *Service {
	return &Service{
		Store:     st,
		SessionID: sessionID,
		TempDir:   sessionTempDir,
		state:     statemachine.Init,
	}
}

// State reports the service's current protocol state.
func (s *Service) State() statemachine.State { return s.state }

// NextSequence returns the next sequence number this service assigns
// to a frame it sends. Exported so the server dispatcher can number
// frames it streams proactively during a download push, outside the
// request/reply Handle loop.
func (s *Service) NextSequence() uint32 { return s.nextSeq() }

// PendingDownload reports the filename and size of a just-opened
// context that already had existing content when FileRequest resolved
// it: the FileRequest/FileMetadata discriminator described in §4.3
// treats a nonzero existing size as a download, since a fresh upload's
// FileRequest always resolves to size 0 and waits for the client's own
// FileMetadata instead (see handleFileMetadata). ok is false once the
// context has been consumed by a push (MarkDownloadServed) or never
// represented a download.
func (s *Service) PendingDownload() (filename string, size uint64, offset uint64, ok bool) {
	if s.current == nil || s.current.Complete || s.current.DeclaredSize == 0 || !s.current.PushEligible {
		return "", 0, 0, false
	}
	return s.current.Filename, s.current.DeclaredSize, s.current.ResumeOffset, true
}

// MarkDownloadServed marks the active context as consumed once the
// server dispatcher has finished streaming it to the peer, so a
// subsequent Close releases its (unused) staging allocation instead of
// retaining it for resume — a download's recovery path is a fresh
// ResumeRequest against root_dir's published copy, not a staging
// resume.
func (s *Service) MarkDownloadServed() {
	if s.current != nil {
		s.current.Complete = true
	}
}

// nextSeq returns the next sequence number this service assigns to a
// frame it sends.
func (s *Service) nextSeq() uint32 {
	s.seq++
	return s.seq
}

func (s *Service) reply(kind wire.MessageType, chunk uint32, payload []byte) (wire.Header, []byte) {
	h := wire.NewHeader(kind, s.nextSeq(), chunk, s.SessionID, payload)
	return h, payload
}

func (s *Service) errorReply(kind wire.MessageType, msg string) (wire.Header, []byte) {
	s.state = statemachine.Reject(s.state)
	payload := wire.EncodeErrorMessage(msg)
	return s.reply(kind, 0, payload)
}

// Handle validates header.MsgType against the state machine, runs the
// matching handler, and returns the reply frame. A message kind that is
// illegal in the current state yields an Error reply and moves the
// service to the Error state, without invoking any handler. The one
// exception is a Close received in Init (such as a second Close after
// one that already reset the session): it changes nothing and is
// answered with an Ack.
func (s *Service) Handle(h wire.Header, payload []byte) (wire.Header, []byte) {
	if h.MsgType == wire.Close && s.state == statemachine.Init {
		return s.reply(wire.Ack, 0, wire.EncodeAck(h.SequenceNumber))
	}
	next, err := statemachine.Next(s.state, h.MsgType)
	if err != nil {
		return s.errorReply(wire.Error, fmt.Sprintf("illegal message %s in state %s", h.MsgType, s.state))
	}

	var (
		replyHeader  wire.Header
		replyPayload []byte
		handlerErr   error
	)

	switch h.MsgType {
	case wire.Handshake:
		replyHeader, replyPayload, handlerErr = s.handleHandshake(payload)
	case wire.ListRequest:
		replyHeader, replyPayload, handlerErr = s.handleListRequest(payload)
	case wire.NlstRequest:
		replyHeader, replyPayload, handlerErr = s.handleNlstRequest(payload)
	case wire.FileRequest:
		replyHeader, replyPayload, handlerErr = s.handleFileRequest(payload)
	case wire.FileMetadata:
		replyHeader, replyPayload, handlerErr = s.handleFileMetadata(payload)
	case wire.FileData:
		replyHeader, replyPayload, handlerErr = s.handleFileData(h, payload)
	case wire.ChecksumVerify:
		replyHeader, replyPayload, handlerErr = s.handleChecksumVerify(payload)
	case wire.ResumeRequest:
		replyHeader, replyPayload, handlerErr = s.handleResumeRequest(payload)
	case wire.Close:
		replyHeader, replyPayload, handlerErr = s.handleClose()
	case wire.Ack:
		s.state = next
		replyHeader, replyPayload = s.reply(wire.Ack, h.ChunkNumber, wire.EncodeAck(h.SequenceNumber))
	default:
		handlerErr = fmt.Errorf("unsupported message kind %s", h.MsgType)
	}

	if handlerErr != nil {
		errKind := wire.Error
		if h.MsgType == wire.ListRequest || h.MsgType == wire.NlstRequest {
			errKind = wire.ListError
		}
		return s.errorReply(errKind, handlerErr.Error())
	}

	s.state = next
	return replyHeader, replyPayload
}

func (s *Service) handleHandshake(payload []byte) (wire.Header, []byte, error) {
	version, err := wire.DecodeHandshake(payload)
	if err != nil {
		return wire.Header{}, nil, err
	}
	if version != ProtocolVersion {
		return wire.Header{}, nil, fmt.Errorf("unsupported protocol version %d", version)
	}
	h, p := s.reply(wire.Handshake, 0, wire.EncodeHandshake(version))
	return h, p, nil
}

func (s *Service) handleListRequest(payload []byte) (wire.Header, []byte, error) {
	req, err := wire.DecodeListRequest(payload)
	if err != nil {
		return wire.Header{}, nil, err
	}
	records, err := s.Store.List(req.Path, req.Filter)
	if err != nil {
		return wire.Header{}, nil, err
	}
	if req.Format != wire.FormatDetail {
		for i := range records {
			records[i].Size = 0
			records[i].Mtime = 0
		}
	}
	h, p := s.reply(wire.ListResponse, 0, wire.EncodeListResponse(req.Format, records))
	return h, p, nil
}

func (s *Service) handleNlstRequest(payload []byte) (wire.Header, []byte, error) {
	req, err := wire.DecodeNlstRequest(payload)
	if err != nil {
		return wire.Header{}, nil, err
	}
	names, err := s.Store.Nlst(req.Path, req.Filter)
	if err != nil {
		return wire.Header{}, nil, err
	}
	h, p := s.reply(wire.NlstResponse, 0, wire.EncodeNlstResponse(names))
	return h, p, nil
}

func (s *Service) handleFileRequest(payload []byte) (wire.Header, []byte, error) {
	path, err := wire.DecodeFileRequest(payload)
	if err != nil {
		return wire.Header{}, nil, err
	}

	existingSize, err := s.Store.ExistingSize(path)
	if err != nil {
		return wire.Header{}, nil, err
	}

	if s.current != nil {
		_ = s.Store.Release(s.current.Staging)
	}

	declaredSize := existingSize
	transferID := newTransferID(s.SessionID, s.seq)
	st, err := s.Store.NewStaging(store.Hybrid, transferID, path, declaredSize, s.TempDir)
	if err != nil {
		return wire.Header{}, nil, err
	}
	tracker := chunktracker.New(declaredSize, s.Store.ChunkSize)
	tracker.SetTransferID(transferID)
	s.current = &Context{
		TransferID:   transferID,
		Filename:     path,
		DeclaredSize: declaredSize,
		Staging:      st,
		Tracker:      tracker,
		PushEligible: declaredSize > 0,
	}

	reply := wire.FileMetadataPayload{FileSize: declaredSize, ExpectedCRC32: 0, Filename: path}
	h, p := s.reply(wire.FileMetadata, 0, reply.Encode())
	return h, p, nil
}

// handleFileMetadata accepts a client-declared file size for the
// context opened by the preceding FileRequest. The message catalog
// defines FileMetadata's shape without restricting which side sends
// it: the server uses it to answer a download's FileRequest with the
// file's existing size, and the client uses it here to declare the
// true size of a fresh upload before streaming FileData, since a
// FileRequest for a not-yet-existing path otherwise carries no size at
// all (§4.3 declares it 0 for a fresh upload).
func (s *Service) handleFileMetadata(payload []byte) (wire.Header, []byte, error) {
	if s.current == nil {
		return wire.Header{}, nil, fmt.Errorf("no active transfer context")
	}
	meta, err := wire.DecodeFileMetadata(payload)
	if err != nil {
		return wire.Header{}, nil, err
	}
	if meta.Filename != "" && meta.Filename != s.current.Filename {
		return wire.Header{}, nil, fmt.Errorf("file-metadata filename %q does not match active transfer %q", meta.Filename, s.current.Filename)
	}

	_ = s.Store.Release(s.current.Staging)
	st, err := s.Store.NewStaging(store.Hybrid, s.current.TransferID, s.current.Filename, meta.FileSize, s.TempDir)
	if err != nil {
		return wire.Header{}, nil, err
	}
	tracker := chunktracker.New(meta.FileSize, s.Store.ChunkSize)
	tracker.SetTransferID(s.current.TransferID)
	s.current.DeclaredSize = meta.FileSize
	s.current.Staging = st
	s.current.Tracker = tracker
	s.current.PushEligible = false

	h, p := s.reply(wire.Ack, 0, wire.EncodeAck(0))
	return h, p, nil
}

func (s *Service) handleFileData(h wire.Header, payload []byte) (wire.Header, []byte, error) {
	if s.current == nil {
		return wire.Header{}, nil, fmt.Errorf("no active transfer context")
	}
	total := s.current.Tracker.TotalChunks()
	if err := s.current.Staging.WriteChunk(h.ChunkNumber, total, payload); err != nil {
		return wire.Header{}, nil, err
	}
	if err := s.current.Tracker.Mark(h.ChunkNumber); err != nil {
		return wire.Header{}, nil, err
	}
	if sidecar := SidecarPath(s.TempDir, s.current.Filename); sidecar != "" {
		_ = s.current.Tracker.Save(sidecar)
	}
	replyH, replyP := s.reply(wire.Ack, h.ChunkNumber, wire.EncodeAck(h.SequenceNumber))
	return replyH, replyP, nil
}

func (s *Service) handleChecksumVerify(payload []byte) (wire.Header, []byte, error) {
	if s.current == nil {
		return wire.Header{}, nil, fmt.Errorf("no active transfer context")
	}
	expected, err := wire.DecodeChecksumVerify(payload)
	if err != nil {
		return wire.Header{}, nil, err
	}
	actual, err := s.current.Staging.CRC32()
	if err != nil {
		return wire.Header{}, nil, err
	}
	if actual != expected {
		return wire.Header{}, nil, fmt.Errorf("checksum mismatch")
	}

	// Chunks must be read before Publish, which may rename the staging
	// file's disk path out from under a later read.
	var auditChunks [][]byte
	if s.AuditKey != nil {
		auditChunks, _ = s.current.Staging.Chunks()
	}
	if err := s.Store.Publish(s.current.Staging, s.current.Filename); err != nil {
		return wire.Header{}, nil, err
	}
	if s.AuditKey != nil && auditChunks != nil {
		s.writeAuditManifest(auditChunks)
	}
	_ = chunktracker.Delete(SidecarPath(s.TempDir, s.current.Filename))
	s.current.Complete = true
	h, p := s.reply(wire.Ack, 0, wire.EncodeAck(0))
	return h, p, nil
}

func (s *Service) handleResumeRequest(payload []byte) (wire.Header, []byte, error) {
	req, err := wire.DecodeResumeRequest(payload)
	if err != nil {
		return wire.Header{}, nil, err
	}

	stagingDir := s.TempDir
	sidecar := SidecarPath(stagingDir, req.Filename)
	tracker, err := chunktracker.Load(sidecar)
	if err != nil {
		if !os.IsNotExist(err) {
			return wire.Header{}, nil, err
		}
		if s.ResumeLookup != nil {
			if dir, ok := s.ResumeLookup(req.Filename); ok {
				stagingDir = dir
				tracker, err = chunktracker.Load(SidecarPath(stagingDir, req.Filename))
			}
		}
		if tracker == nil {
			// No upload sidecar anywhere: fall back to resuming a
			// dropped download of an already-published file.
			return s.handleResumeDownloadRequest(req)
		}
	}
	declaredSize := tracker.FileSize()
	if req.Offset > declaredSize {
		return wire.Header{}, nil, fmt.Errorf("resume offset exceeds file size")
	}

	transferID := tracker.TransferID()
	if transferID == "" {
		transferID = newTransferID(s.SessionID, s.seq)
	}
	st, err := s.Store.ResumeStaging(transferID, req.Filename, declaredSize, stagingDir)
	if err != nil {
		return wire.Header{}, nil, err
	}
	s.current = &Context{
		TransferID:   transferID,
		Filename:     req.Filename,
		DeclaredSize: declaredSize,
		Staging:      st,
		Tracker:      tracker,
		// Never push-eligible: a resolvable sidecar always means the
		// server is resuming receipt of an in-progress upload.
		PushEligible: false,
	}

	reply := wire.FileMetadataPayload{FileSize: declaredSize, ExpectedCRC32: 0, Filename: req.Filename}
	h, p := s.reply(wire.FileMetadata, 0, reply.Encode())
	return h, p, nil
}

// handleResumeDownloadRequest resumes a dropped download: req.Filename
// has no upload sidecar anywhere, so the only file this ResumeRequest
// can sensibly mean is the already-published copy under root_dir,
// pushed from req.Offset onward by the dispatcher's download push.
func (s *Service) handleResumeDownloadRequest(req wire.ResumeRequestPayload) (wire.Header, []byte, error) {
	size, err := s.Store.ExistingSize(req.Filename)
	if err != nil {
		return wire.Header{}, nil, err
	}
	if size == 0 {
		return wire.Header{}, nil, fmt.Errorf("no resumable transfer for %q", req.Filename)
	}
	if req.Offset > size {
		return wire.Header{}, nil, fmt.Errorf("resume offset exceeds file size")
	}

	if s.current != nil {
		_ = s.Store.Release(s.current.Staging)
	}
	s.current = &Context{
		TransferID:   newTransferID(s.SessionID, s.seq),
		Filename:     req.Filename,
		DeclaredSize: size,
		PushEligible: true,
		ResumeOffset: req.Offset,
	}

	reply := wire.FileMetadataPayload{FileSize: size, ExpectedCRC32: 0, Filename: req.Filename}
	h, p := s.reply(wire.FileMetadata, 0, reply.Encode())
	return h, p, nil
}

// handleClose drops this service's handle on the active context. A
// disk-backed, not-yet-complete transfer keeps its staging file and
// sidecar on disk so a later ResumeRequest (on this session or, via
// ResumeLookup, a reconnecting one) can find them; the session manager
// owns reaping that temp directory once it is no longer resumable. A
// completed transfer's staging has already been consumed by Publish,
// and a memory-backed incomplete one has nothing to resume from, so
// both release their resources immediately.
func (s *Service) handleClose() (wire.Header, []byte, error) {
	if s.current != nil {
		if s.current.Complete || s.current.Staging.Mode() == store.MemoryFirst {
			_ = s.Store.Release(s.current.Staging)
		}
		s.current = nil
	}
	s.seq = 0
	h, p := s.reply(wire.Ack, 0, wire.EncodeAck(0))
	return h, p, nil
}

func newTransferID(sessionID uint64, seq uint32) string {
	return fmt.Sprintf("%d-%d", sessionID, seq)
}

// writeAuditManifest builds, signs and writes the per-chunk manifest for
// the transfer that just published. Failures here never fail the
// transfer itself: the manifest is a forensic extra, not part of the
// wire protocol's success criteria.
func (s *Service) writeAuditManifest(chunks [][]byte) {
	m, err := audit.BuildManifest(s.current.TransferID, s.current.Filename, int(s.Store.ChunkSize), chunks)
	if err != nil {
		return
	}
	if err := m.Sign(s.AuditKey); err != nil {
		return
	}
	if err := os.MkdirAll(s.AuditDir, 0o700); err != nil {
		return
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(s.AuditDir, m.TransferID+".manifest.json")
	_ = os.WriteFile(path, data, 0o600)
}
