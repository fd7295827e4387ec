package metrics

// Prometheus metrics for the holders pipeline
// Every method is safe on a nil *Metrics so components can run without a registry

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	upstreamRequests  *prometheus.CounterVec
	upstreamDuration  *prometheus.HistogramVec
	retries           *prometheus.CounterVec
	rateLimitWaits    prometheus.Counter
	pagesFetched      prometheus.Counter
	boundaryProbes    prometheus.Counter
	chunkUploads      *prometheus.CounterVec
	runs              *prometheus.CounterVec
	runDuration       prometheus.Histogram
	lastHolders       prometheus.Gauge
	lastNonZero       prometheus.Gauge
	lookups           *prometheus.CounterVec
	snapshotCacheHits *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		upstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_upstream_requests_total", namespace),
			Help: "Upstream holder API requests by endpoint and HTTP status",
		}, []string{"endpoint", "status"}),
		upstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_upstream_request_duration_seconds", namespace),
			Help:    "Upstream holder API request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_retries_total", namespace),
			Help: "Retried upstream calls by error kind",
		}, []string{"kind"}),
		rateLimitWaits: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_rate_limit_waits_total", namespace),
			Help: "Cooldowns taken after HTTP 429",
		}),
		pagesFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_pages_fetched_total", namespace),
			Help: "Holder pages consumed by the collector",
		}),
		boundaryProbes: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_boundary_probes_total", namespace),
			Help: "Pages fetched by the boundary search",
		}),
		chunkUploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_chunk_uploads_total", namespace),
			Help: "Document store chunk results by status",
		}, []string{"status"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_runs_total", namespace),
			Help: "Finished fetch and publish runs by outcome",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_run_duration_seconds", namespace),
			Help:    "Duration of fetch and publish runs",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		lastHolders: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_last_run_holders", namespace),
			Help: "Holders collected by the last successful run",
		}),
		lastNonZero: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_last_run_non_zero_holders", namespace),
			Help: "Non-zero holders published by the last successful run",
		}),
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_rank_lookups_total", namespace),
			Help: "Rank lookups by outcome",
		}, []string{"outcome"}),
		snapshotCacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_snapshot_source_total", namespace),
			Help: "Where rank lookups found the published snapshot",
		}, []string{"source"}),
	}
}

func (m *Metrics) ObserveUpstream(endpoint string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.upstreamDuration.WithLabelValues(endpoint).Observe(took.Seconds())
}

func (m *Metrics) IncRetry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncRateLimitWait() {
	if m == nil {
		return
	}
	m.rateLimitWaits.Inc()
}

func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.pagesFetched.Inc()
}

func (m *Metrics) AddBoundaryProbes(n int) {
	if m == nil {
		return
	}
	m.boundaryProbes.Add(float64(n))
}

func (m *Metrics) IncChunk(status string) {
	if m == nil {
		return
	}
	m.chunkUploads.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveRun(outcome string, took time.Duration, holders, nonZero int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(took.Seconds())
	if outcome == "success" {
		m.lastHolders.Set(float64(holders))
		m.lastNonZero.Set(float64(nonZero))
	}
}

func (m *Metrics) IncLookup(outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSnapshotSource(source string) {
	if m == nil {
		return
	}
	m.snapshotCacheHits.WithLabelValues(source).Inc()
}
