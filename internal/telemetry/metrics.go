package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	DispatchCycles   = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_dispatch_cycles_total", Help: "Dispatch cycles run"})
	DispatchOverlaps = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_dispatch_overlaps_total", Help: "Ticks skipped because the previous cycle was still running"})
	DispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "scheduler_dispatch_duration_seconds", Help: "Wall time of one dispatch cycle", Buckets: prometheus.DefBuckets})
	DuePosts         = prometheus.NewGauge(prometheus.GaugeOpts{Name: "scheduler_due_posts", Help: "Posts found due in the last cycle"})
	PublishAttempts  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "scheduler_publish_attempts_total", Help: "Publish attempts by platform and outcome"}, []string{"platform", "outcome"})
	ClaimsLost       = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_claims_lost_total", Help: "Posts skipped because another worker claimed them"})
	Escalations      = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_escalations_total", Help: "Posts that exhausted their retry budget"})
	LastHeartbeat    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "scheduler_last_heartbeat_timestamp_seconds", Help: "Unix time of the last dispatcher heartbeat"})
	StaleRecovered   = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_stale_claims_recovered_total", Help: "PUBLISHING posts failed after their attempt was lost"})
	EventsDropped    = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_lifecycle_events_dropped_total", Help: "Lifecycle events dropped because the publish buffer was full"})
)

const (
	OutcomePublished = "published"
	OutcomeSimulated = "simulated"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			DispatchCycles,
			DispatchOverlaps,
			DispatchDuration,
			DuePosts,
			PublishAttempts,
			ClaimsLost,
			Escalations,
			LastHeartbeat,
			StaleRecovered,
			EventsDropped,
		)
	})
	return promhttp.Handler()
}
