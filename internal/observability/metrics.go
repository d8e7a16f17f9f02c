package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments the daemon exposes over its
// internal /metrics endpoint.
type Metrics struct {
	FramesDecodedTotal  *prometheus.CounterVec
	ChecksumFailures    prometheus.Counter
	SessionsActive      prometheus.Gauge
	ChunksWrittenTotal  prometheus.Counter
	BytesPublishedTotal prometheus.Counter
	TransferDuration    prometheus.Histogram
	SessionsReapedTotal prometheus.Counter
}

// NewMetrics creates and registers the daemon's Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesDecodedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transferd_frames_decoded_total",
				Help: "Frames decoded by message kind",
			},
			[]string{"kind"},
		),
		ChecksumFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "transferd_checksum_failures_total",
				Help: "ChecksumVerify frames that failed to match",
			},
		),
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "transferd_sessions_active",
				Help: "Currently open sessions",
			},
		),
		ChunksWrittenTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "transferd_chunks_written_total",
				Help: "Chunks written to staging across all sessions",
			},
		),
		BytesPublishedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "transferd_bytes_published_total",
				Help: "Bytes published under the store root",
			},
		),
		TransferDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "transferd_transfer_duration_seconds",
				Help:    "Time from FileRequest to successful publish",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),
		SessionsReapedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "transferd_sessions_reaped_total",
				Help: "Sessions closed by the idle reaper",
			},
		),
	}
}

// RecordFrame increments the decoded-frame counter for kind.
func (m *Metrics) RecordFrame(kind string) {
	m.FramesDecodedTotal.WithLabelValues(kind).Inc()
}

// RecordChecksumFailure increments the checksum-failure counter.
func (m *Metrics) RecordChecksumFailure() {
	m.ChecksumFailures.Inc()
}

// RecordChunkWritten increments the chunks-written counter.
func (m *Metrics) RecordChunkWritten() {
	m.ChunksWrittenTotal.Inc()
}

// RecordPublish records a completed publish's byte count and the
// transfer's wall-clock duration.
func (m *Metrics) RecordPublish(bytes uint64, duration float64) {
	m.BytesPublishedTotal.Add(float64(bytes))
	m.TransferDuration.Observe(duration)
}

// RecordSessionReaped increments the reaped-session counter.
func (m *Metrics) RecordSessionReaped() {
	m.SessionsReapedTotal.Inc()
}

// Handler exposes the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
