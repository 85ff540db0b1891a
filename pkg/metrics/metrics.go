package metrics

import (
	"runtime"
	"time"

	"github.com/sprintly/backend/pkg/progress"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_active_runs",
		Help: "Number of import runs currently executing",
	})

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_runs_total",
			Help: "Total number of finished import runs",
		},
		[]string{"outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_stage_duration_seconds",
			Help:    "Wall time spent per pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"stage"},
	)

	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_total",
			Help: "Records and entities counted per outcome",
		},
		[]string{"counter"},
	)

	// External call metrics
	AICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_ai_calls_total",
			Help: "Classification and embedding calls by outcome",
		},
		[]string{"operation", "outcome"},
	)

	AICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_ai_call_duration_seconds",
			Help:    "Latency of classification and embedding calls including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// System metrics
	SystemGoroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_goroutines",
		Help: "Number of goroutines",
	})
)

const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// ObserveStage records a finished stage.
func ObserveStage(stage progress.Stage, d time.Duration) {
	StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

// ObserveAICall records one logical call after retries.
func ObserveAICall(operation, outcome string, d time.Duration) {
	AICalls.WithLabelValues(operation, outcome).Inc()
	AICallDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordSummary adds the counters of a finished run.
func RecordSummary(s progress.Summary, outcome string) {
	RunsTotal.WithLabelValues(outcome).Inc()
	add := func(name string, v int64) {
		if v > 0 {
			RecordsTotal.WithLabelValues(name).Add(float64(v))
		}
	}
	add("created", s.Created)
	add("skipped_existing", s.SkippedExisting)
	add("skipped_duplicate", s.SkippedDuplicate)
	add("rejected", s.Rejected)
	add("enrichment_degraded", s.DegradedEnrichmentCount)
	add("embedding_degraded", s.DegradedEmbeddingCount)
	add("not_attempted", s.NotAttempted)
	add("mirror_failed_chunks", s.GraphMirrorFailedChunks)
}

func UpdateSystemMetrics() {
	SystemGoroutines.Set(float64(runtime.NumGoroutine()))
}
