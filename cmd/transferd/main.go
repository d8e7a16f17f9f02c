// Command transferd runs the bidirectional file-transfer daemon: it
// wires configuration, observability, the session manager and the
// server dispatcher together and serves until interrupted.
package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/filewire/transferd/internal/audit"
	"github.com/filewire/transferd/internal/config"
	"github.com/filewire/transferd/internal/observability"
	"github.com/filewire/transferd/internal/server"
	"github.com/filewire/transferd/internal/session"
	"github.com/filewire/transferd/internal/store"
	"github.com/filewire/transferd/internal/sysresource"
)

func main() {
	cfg := config.DefaultConfig()

	host := flag.String("host", cfg.Host, "bind host")
	port := flag.Int("port", cfg.Port, "bind port")
	rootDir := flag.String("root-dir", cfg.RootDir, "published-file root directory")
	tempDir := flag.String("temp-dir", cfg.TempDir, "per-session staging directory")
	strategy := flag.String("strategy", string(cfg.Strategy), "concurrency back-end: blocking, threaded, readiness, async")
	metricsAddr := flag.String("metrics-address", cfg.MetricsAddress, "address the /metrics and /healthz endpoints bind to")
	configPath := flag.String("config", "", "optional configuration file")
	flag.Parse()

	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "transferd: load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.Host = *host
	cfg.Port = *port
	cfg.RootDir = *rootDir
	cfg.TempDir = *tempDir
	cfg.Strategy = config.Strategy(*strategy)
	cfg.MetricsAddress = *metricsAddr

	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		fatalf("create root dir: %v", err)
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		fatalf("create temp dir: %v", err)
	}

	logger := observability.NewLogger("transferd", version(), os.Stdout)
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	shutdownTracing, err := observability.InitTracing(context.Background(), cfg.TracingServiceName)
	if err != nil {
		fatalf("init tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	guard := sysresource.NewGuard(cfg.MinAvailableBytes)
	st := store.New(cfg.RootDir)
	st.ChunkSize = cfg.ChunkSize
	st.MaxMemoryBytes = cfg.MaxMemoryBytes
	st.HybridThresholdBytes = cfg.HybridThresholdBytes
	st.Guard = guard

	var identityLoaded bool
	var auditKey ed25519.PrivateKey
	if cfg.EnableAuditManifest {
		if err := os.MkdirAll(cfg.KeysDir, 0o700); err != nil {
			fatalf("create keys dir: %v", err)
		}
		key, _, err := audit.LoadOrCreateIdentity(cfg.KeysDir)
		if err != nil {
			fatalf("load audit identity: %v", err)
		}
		auditKey = key
		identityLoaded = true

		if err := os.MkdirAll(cfg.AuditDir, 0o700); err != nil {
			fatalf("create audit dir: %v", err)
		}

		cas, err := store.OpenCAS(filepath.Join(cfg.KeysDir, "cas.db"))
		if err != nil {
			fatalf("open CAS index: %v", err)
		}
		defer cas.Close()
		st.CAS = cas

		stopGC := make(chan struct{})
		defer close(stopGC)
		cas.StartGCLoop(cfg.CASRetention, cfg.CASGCInterval, stopGC)
	}

	mgr := session.NewManager(st, cfg.TempDir, cfg.IdleSessionTimeout, cfg.ResumeGracePeriod, logger, metrics)
	mgr.RateBytesPerSec = cfg.RateLimitBytesPerSec
	mgr.RateBurstBytes = cfg.RateLimitBurstBytes
	if auditKey != nil {
		mgr.AuditKey = auditKey
		mgr.AuditDir = cfg.AuditDir
	}
	if err := mgr.StartReaper(cfg.ReapInterval); err != nil {
		fatalf("start reaper: %v", err)
	}
	defer mgr.StopReaper()

	dispatcher := server.NewDispatcher(cfg.Strategy, mgr, logger, metrics)
	health.RegisterCheck("listener", observability.ListenerCheck(func() bool {
		return dispatcher.Status().Running
	}, fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)))
	if cfg.EnableAuditManifest {
		health.RegisterCheck("audit_identity", observability.KeystoreCheck(identityLoaded))
	}

	if err := dispatcher.Start(cfg.Host, cfg.Port); err != nil {
		fatalf("start dispatcher: %v", err)
	}
	logger.Info(fmt.Sprintf("listening on %s:%d (%s)", cfg.Host, cfg.Port, cfg.Strategy))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", health.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddress, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "metrics server")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	_ = metricsServer.Shutdown(context.Background())
	if err := dispatcher.Stop(); err != nil {
		logger.Error(err, "stopping dispatcher")
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "transferd: "+format+"\n", args...)
	os.Exit(1)
}

// version is overridden at build time via -ldflags.
var buildVersion = "dev"

func version() string { return buildVersion }
