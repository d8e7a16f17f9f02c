// Package config holds daemon configuration: the struct and its
// defaults are core; parsing flags/files into it is the external CLI
// collaborator's job.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Strategy selects the server dispatcher's concurrency back-end.
type Strategy string

const (
	StrategyBlocking  Strategy = "blocking"
	StrategyThreaded  Strategy = "threaded"
	StrategyReadiness Strategy = "readiness"
	StrategyAsync     Strategy = "async"
)

// Config holds daemon configuration.
type Config struct {
	Host string
	Port int

	RootDir  string
	TempDir  string
	KeysDir  string
	AuditDir string

	Strategy Strategy

	ChunkSize            uint32
	MaxMemoryBytes       uint64
	HybridThresholdBytes uint64
	MinAvailableBytes    uint64

	IdleSessionTimeout time.Duration
	ReapInterval       time.Duration
	ResumeGracePeriod  time.Duration

	RateLimitBytesPerSec float64
	RateLimitBurstBytes  int

	MetricsAddress string
	LogLevel       string
	LogFormat      string

	EnableAuditManifest bool
	CASRetention        time.Duration
	CASGCInterval       time.Duration

	TracingServiceName string
}

// DefaultConfig returns the daemon's default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	base := filepath.Join(homeDir, ".local", "share", "transferd")

	return &Config{
		Host: "0.0.0.0",
		Port: 8001,

		RootDir:  filepath.Join(base, "root"),
		TempDir:  filepath.Join(base, "tmp"),
		KeysDir:  filepath.Join(base, "keys"),
		AuditDir: filepath.Join(base, "audit"),

		Strategy: StrategyThreaded,

		ChunkSize:            8192,
		MaxMemoryBytes:       0, // unlimited
		HybridThresholdBytes: 10 * 1024,
		MinAvailableBytes:    64 * 1024 * 1024,

		IdleSessionTimeout: 30 * time.Minute,
		ReapInterval:       5 * time.Minute,
		ResumeGracePeriod:  30 * time.Minute,

		RateLimitBytesPerSec: 0, // unlimited
		RateLimitBurstBytes:  1 << 20,

		MetricsAddress: "127.0.0.1:9100",
		LogLevel:       "info",
		LogFormat:      "json",

		EnableAuditManifest: false,
		CASRetention:        24 * time.Hour,
		CASGCInterval:       1 * time.Hour,

		TracingServiceName: "transferd",
	}
}

// LoadConfig returns DefaultConfig(). configPath is not opened or
// parsed; file-based configuration is left to the external CLI
// collaborator per the core/collaborator split.
func LoadConfig(configPath string) (*Config, error) {
	return DefaultConfig(), nil
}
