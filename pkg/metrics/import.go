package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ImportMetrics records claim and outcome counters for the import workers.
type ImportMetrics struct {
	claims    *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	recovered prometheus.Counter
}

// NewImportMetrics registers the pipeline metrics on the provided registerer.
func NewImportMetrics(reg prometheus.Registerer) *ImportMetrics {
	if reg == nil {
		return &ImportMetrics{}
	}
	claims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "import_claims_total",
		Help: "Item claim attempts by result.",
	}, []string{"result"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "import_item_outcomes_total",
		Help: "Terminal item outcomes by status.",
	}, []string{"status"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "import_item_duration_seconds",
		Help:    "Wall time spent importing a single item.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"origin"})
	recovered := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "import_sessions_recovered_total",
		Help: "Sessions forced to error by the stale-session scanner.",
	})
	reg.MustRegister(claims, outcomes, durations, recovered)
	return &ImportMetrics{
		claims:    claims,
		outcomes:  outcomes,
		durations: durations,
		recovered: recovered,
	}
}

// IncClaim counts a claim attempt with the given result (won/lost/error).
func (m *ImportMetrics) IncClaim(result string) {
	if m == nil || m.claims == nil {
		return
	}
	m.claims.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncOutcome counts a terminal item status.
func (m *ImportMetrics) IncOutcome(status string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(status)).Inc()
}

// ObserveItemDuration records the processing time for one item.
func (m *ImportMetrics) ObserveItemDuration(origin string, duration time.Duration) {
	if m == nil || m.durations == nil {
		return
	}
	m.durations.WithLabelValues(normalizeLabel(origin)).Observe(duration.Seconds())
}

// IncRecovered counts a session recovered to error.
func (m *ImportMetrics) IncRecovered() {
	if m == nil || m.recovered == nil {
		return
	}
	m.recovered.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
