package matcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides observability for match runs. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Properties seen per region by outcome: apartment, unparseable,
	// malformed, duplicate, candidate
	Properties *prometheus.CounterVec

	// Match pairs written per region
	Pairs *prometheus.CounterVec

	// Per-batch processing time
	BatchLatency *prometheus.HistogramVec

	// Region runs by status: ok, skipped, failed
	Regions *prometheus.CounterVec
}

// NewMetrics creates and registers the match metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Properties: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "propmatch_match_properties_total",
			Help: "Properties seen by the matcher by region and outcome",
		}, []string{"region", "outcome"}),

		Pairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "propmatch_match_pairs_total",
			Help: "Property/permit match pairs produced by region",
		}, []string{"region"}),

		BatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "propmatch_match_batch_duration_seconds",
			Help:    "Duration of one candidate batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"region"}),

		Regions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "propmatch_match_regions_total",
			Help: "Region runs by status",
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(m.Properties, m.Pairs, m.BatchLatency, m.Regions)
	}
	return m
}

// ObserveBatch records the duration of one batch
func (m *Metrics) ObserveBatch(region string, d time.Duration) {
	if m != nil {
		m.BatchLatency.WithLabelValues(region).Observe(d.Seconds())
	}
}

// RecordRun records the property outcomes and pair count of a region run
func (m *Metrics) RecordRun(region string, stats *RunStats) {
	if m == nil || stats == nil {
		return
	}
	m.Properties.WithLabelValues(region, "apartment").Add(float64(stats.Apartments))
	m.Properties.WithLabelValues(region, "unparseable").Add(float64(stats.Unparseable))
	m.Properties.WithLabelValues(region, "malformed").Add(float64(stats.Malformed))
	m.Properties.WithLabelValues(region, "duplicate").Add(float64(stats.Duplicates))
	m.Properties.WithLabelValues(region, "candidate").Add(float64(stats.Unique))
	m.Pairs.WithLabelValues(region).Add(float64(stats.Matches))
}

// RecordRegion counts a region run outcome
func (m *Metrics) RecordRegion(status string) {
	if m != nil {
		m.Regions.WithLabelValues(status).Inc()
	}
}
