// Package metrics provides in-process Prometheus instrumentation. Nothing
// here exports off-host; it backs the internal /metrics endpoint only,
// since telemetry export is out of scope.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter and histogram juicebox records. A nil
// *Metrics is safe to call every method on, so collaborators can take one
// unconditionally and it costs nothing when metrics are disabled.
type Metrics struct {
	uploadsTotal         *prometheus.CounterVec
	uploadBytesTotal     *prometheus.CounterVec
	chunkSessionsActive  prometheus.Gauge
	gcRunsTotal          prometheus.Counter
	gcOrphansReclaimed   prometheus.Counter
	gcExpiredReclaimed   prometheus.Counter
	bansCheckedTotal     *prometheus.CounterVec
}

// New registers every metric against reg and returns the handle.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "juicebox_uploads_total",
			Help: "Total completed uploads by path (single, chunked) and outcome.",
		}, []string{"path", "outcome"}),
		uploadBytesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "juicebox_upload_bytes_total",
			Help: "Total bytes accepted into blob storage by path.",
		}, []string{"path"}),
		chunkSessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "juicebox_chunk_sessions_active",
			Help: "Number of chunked-upload sessions currently open.",
		}),
		gcRunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "juicebox_gc_runs_total",
			Help: "Total integrity/GC sweep passes run through Service.RunGC; background loop passes are not counted.",
		}),
		gcOrphansReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "juicebox_gc_orphans_reclaimed_total",
			Help: "Total catalog entries removed for having no backing blob.",
		}),
		gcExpiredReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "juicebox_gc_expired_reclaimed_total",
			Help: "Total catalog entries removed for having passed their expiry.",
		}),
		bansCheckedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "juicebox_bans_checked_total",
			Help: "Total ban-index lookups by outcome (banned, allowed).",
		}, []string{"outcome"}),
	}
}

// RecordUpload records one completed upload attempt.
func (m *Metrics) RecordUpload(path, outcome string, bytes int64) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(path, outcome).Inc()
	if bytes > 0 {
		m.uploadBytesTotal.WithLabelValues(path).Add(float64(bytes))
	}
}

// SetChunkSessionsActive reports the current count of open sessions.
func (m *Metrics) SetChunkSessionsActive(n int) {
	if m == nil {
		return
	}
	m.chunkSessionsActive.Set(float64(n))
}

// RecordGCRun records one GC sweep's results.
func (m *Metrics) RecordGCRun(orphans, expired int) {
	if m == nil {
		return
	}
	m.gcRunsTotal.Inc()
	m.gcOrphansReclaimed.Add(float64(orphans))
	m.gcExpiredReclaimed.Add(float64(expired))
}

// RecordBanCheck records one ban-index lookup.
func (m *Metrics) RecordBanCheck(banned bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if banned {
		outcome = "banned"
	}
	m.bansCheckedTotal.WithLabelValues(outcome).Inc()
}
