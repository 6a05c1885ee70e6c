package webinar

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	// Counters
	RunsStarted     prometheus.Counter
	RunsFailed      prometheus.Counter
	RowsCreated     prometheus.Counter
	RowsUpdated     prometheus.Counter
	RowsFailed      prometheus.Counter
	RowsUnprocessed prometheus.Counter
	AuthExpirations prometheus.Counter

	// Histograms (seconds)
	RunDuration prometheus.Observer
)

// InitMetrics registers metrics (idempotent).
func InitMetrics() {
	metricsOnce.Do(func() {
		RunsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "webinar_runs_started_total", Help: "Number of reconciliation runs started"})
		RunsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "webinar_runs_failed_total", Help: "Number of reconciliation runs that ended with a run-level error"})
		RowsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "webinar_rows_created_total", Help: "Number of rows whose webinar was created"})
		RowsUpdated = promauto.NewCounter(prometheus.CounterOpts{Name: "webinar_rows_updated_total", Help: "Number of rows whose webinar was updated"})
		RowsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "webinar_rows_failed_total", Help: "Number of rows that failed"})
		RowsUnprocessed = promauto.NewCounter(prometheus.CounterOpts{Name: "webinar_rows_unprocessed_total", Help: "Number of rows skipped after a run was cut short"})
		AuthExpirations = promauto.NewCounter(prometheus.CounterOpts{Name: "webinar_auth_expirations_total", Help: "Number of runs aborted by an expired Webex authorization"})
		RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "webinar_run_duration_seconds", Help: "Reconciliation run duration seconds", Buckets: prometheus.DefBuckets})
	})
}

// ObserveRun records a finished run's summary in the metrics.
func ObserveRun(summary RunSummary, d time.Duration) {
	if RunsStarted == nil {
		return
	}
	RowsCreated.Add(float64(summary.Created))
	RowsUpdated.Add(float64(summary.Updated))
	RowsFailed.Add(float64(summary.Failed))
	RowsUnprocessed.Add(float64(summary.NotProcessed))
	if summary.AuthExpired {
		AuthExpirations.Inc()
	}
	if summary.Err != "" {
		RunsFailed.Inc()
	}
	RunDuration.Observe(d.Seconds())
}
