// Package metrics exposes Prometheus instrumentation for the scrape and
// mapping cycles.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dailymed"

// Cycle outcome label values.
const (
	OutcomeRefreshed = "refreshed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeCompleted = "completed"
	OutcomeOverlap   = "overlap"
)

// Metrics holds every collector the pipeline updates.
type Metrics struct {
	ScrapeCycles    *prometheus.CounterVec
	MappingCycles   *prometheus.CounterVec
	Classifications *prometheus.CounterVec
	RecordsScraped  prometheus.Gauge
	RecordsStored   prometheus.Gauge
	CycleDuration   *prometheus.HistogramVec
}

// New registers the collectors with reg. Passing a fresh registry keeps tests
// isolated from the global one.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ScrapeCycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_cycles_total",
			Help:      "Scrape cycles by outcome.",
		}, []string{"outcome"}),
		MappingCycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapping_cycles_total",
			Help:      "Mapping cycles by outcome.",
		}, []string{"outcome"}),
		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Per-record classification calls by result.",
		}, []string{"result"}),
		RecordsScraped: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_scraped",
			Help:      "Records extracted by the last refreshing scrape.",
		}),
		RecordsStored: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_stored",
			Help:      "Records persisted by the last mapping cycle.",
		}),
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of scrape and mapping cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"cycle"}),
	}
}

// Nop returns metrics registered against a throwaway registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
