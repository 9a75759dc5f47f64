package monitoring

import (
	"rtcstats/internal/core/domain"
	"rtcstats/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Counters
	storeErrorsTotal        prometheus.Counter
	duplicateConflictsTotal prometheus.Counter
	archiveErrorsTotal      prometheus.Counter
	sessionsTotal           *prometheus.CounterVec

	// Histograms
	persistAttempts prometheus.Histogram
}

var _ ports.PersistMetrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the pipeline metrics with reg. A nil reg
// uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		storeErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtcstats_metadata_store_errors_total",
			Help: "Metadata store failures other than duplicate key conflicts",
		}),

		duplicateConflictsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtcstats_metadata_duplicate_conflicts_total",
			Help: "Inserts rejected by the metadata unique index",
		}),

		archiveErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtcstats_archive_errors_total",
			Help: "Dumps whose metadata was stored but whose archive write failed",
		}),

		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtcstats_sessions_processed_total",
			Help: "Processed sessions by persist outcome",
		}, []string{"outcome"}),

		persistAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtcstats_persist_attempts",
			Help:    "Insert attempts needed to persist one session",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}),
	}
}

func (p *PrometheusCollector) RecordStoreError() {
	p.storeErrorsTotal.Inc()
}

func (p *PrometheusCollector) RecordDuplicateConflict() {
	p.duplicateConflictsTotal.Inc()
}

func (p *PrometheusCollector) RecordPersistAttempts(attempts int) {
	p.persistAttempts.Observe(float64(attempts))
}

func (p *PrometheusCollector) RecordSessionOutcome(outcome domain.PersistOutcome) {
	p.sessionsTotal.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusCollector) RecordArchiveError() {
	p.archiveErrorsTotal.Inc()
}
