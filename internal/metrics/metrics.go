// Package metrics exposes the Prometheus collectors for uploads, queries and
// index builds. A nil *Recorder is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "grantrag"

// Result labels.
const (
	ResultOK       = "ok"
	ResultInvalid  = "invalid"
	ResultConflict = "conflict"
	ResultNotFound = "not_found"
	ResultCacheHit = "cache_hit"
	ResultNotReady = "not_ready"
	ResultError    = "error"
	ResultSuccess  = "success"
	ResultFailure  = "failure"
)

type Recorder struct {
	uploads       *prometheus.CounterVec
	queries       *prometheus.CounterVec
	indexBuilds   *prometheus.CounterVec
	queryDuration prometheus.Histogram
	indexChunks   prometheus.Gauge
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Document uploads by result.",
		}, []string{"result"}),
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries by result.",
		}, []string{"result"}),
		indexBuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_builds_total",
			Help:      "RAG index builds by result.",
		}, []string{"result"}),
		queryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end latency of validated queries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		indexChunks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_chunks",
			Help:      "Chunks in the current RAG index.",
		}),
	}
}

func (r *Recorder) Upload(result string) {
	if r == nil {
		return
	}
	r.uploads.WithLabelValues(result).Inc()
}

func (r *Recorder) Query(result string, seconds float64) {
	if r == nil {
		return
	}
	r.queries.WithLabelValues(result).Inc()
	if seconds >= 0 {
		r.queryDuration.Observe(seconds)
	}
}

func (r *Recorder) IndexBuild(result string, chunks int) {
	if r == nil {
		return
	}
	r.indexBuilds.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		r.indexChunks.Set(float64(chunks))
	}
}
