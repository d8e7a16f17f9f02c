// Package observability wraps structured logging, Prometheus metrics,
// OpenTelemetry tracing and health checks around the transfer core.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger for service/version,
// writing to output (os.Stdout if nil).
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{logger: logger}
}

// WithSession adds session_id context to the logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{logger: l.logger.With().Str("session_id", sessionID).Logger()}
}

// WithTransfer adds transfer_id context to the logger.
func (l *Logger) WithTransfer(transferID string) *Logger {
	return &Logger{logger: l.logger.With().Str("transfer_id", transferID).Logger()}
}

// WithFile adds file path/size context to the logger.
func (l *Logger) WithFile(path string, size uint64) *Logger {
	return &Logger{logger: l.logger.With().Str("file_path", path).Uint64("file_size", size).Logger()}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) { l.logger.Debug().Msg(msg) }

// Info logs an info message.
func (l *Logger) Info(msg string) { l.logger.Info().Msg(msg) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string) { l.logger.Warn().Msg(msg) }

// Error logs an error message.
func (l *Logger) Error(err error, msg string) { l.logger.Error().Err(err).Msg(msg) }

// SessionOpened logs a session's creation.
func (l *Logger) SessionOpened(sessionID, peerAddr string) {
	l.logger.Info().Str("session_id", sessionID).Str("peer_addr", peerAddr).Msg("session opened")
}

// TransferStarted logs a transfer's start.
func (l *Logger) TransferStarted(sessionID, filename string, fileSize uint64, totalChunks uint32) {
	l.logger.Info().
		Str("session_id", sessionID).
		Str("filename", filename).
		Uint64("file_size", fileSize).
		Uint32("total_chunks", totalChunks).
		Msg("transfer started")
}

// ChunkPersisted logs a chunk's successful write to staging.
func (l *Logger) ChunkPersisted(sessionID string, chunkNumber uint32, bytes int) {
	l.logger.Debug().
		Str("session_id", sessionID).
		Uint32("chunk_number", chunkNumber).
		Int("bytes", bytes).
		Msg("chunk persisted")
}

// TransferCompleted logs a transfer's publish.
func (l *Logger) TransferCompleted(sessionID, filename string, fileSize uint64, duration time.Duration) {
	l.logger.Info().
		Str("session_id", sessionID).
		Str("filename", filename).
		Uint64("file_size", fileSize).
		Float64("duration_seconds", duration.Seconds()).
		Msg("transfer completed")
}

// IntegrityMismatch logs a checksum verification failure.
func (l *Logger) IntegrityMismatch(sessionID, filename string, expected, actual uint32) {
	l.logger.Error().
		Str("session_id", sessionID).
		Str("filename", filename).
		Uint32("expected_crc32", expected).
		Uint32("actual_crc32", actual).
		Msg("checksum mismatch")
}

// SessionReaped logs a session's removal by the idle reaper.
func (l *Logger) SessionReaped(sessionID string, idleFor time.Duration) {
	l.logger.Info().
		Str("session_id", sessionID).
		Float64("idle_seconds", idleFor.Seconds()).
		Msg("session reaped")
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
