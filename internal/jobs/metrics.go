package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	launched  *prometheus.CounterVec
	finished  *prometheus.CounterVec
	active    prometheus.Gauge
	metaTiles *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	pruned    prometheus.Counter
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		launched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tileseed_jobs_launched_total",
				Help: "Cache jobs launched by action.",
			},
			[]string{"action"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tileseed_jobs_finished_total",
				Help: "Cache jobs finished by terminal status.",
			},
			[]string{"status"},
		),
		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tileseed_jobs_active",
				Help: "Cache jobs scheduled or running on this instance.",
			},
		),
		metaTiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tileseed_metatiles_processed_total",
				Help: "Meta-tiles handed to the backend by action.",
			},
			[]string{"action"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tileseed_job_duration_seconds",
				Help:    "Wall time from job start to terminal status.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 12),
			},
			[]string{"action", "status"},
		),
		pruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tileseed_jobs_pruned_total",
				Help: "Finished cache jobs removed from the registry.",
			},
		),
	}
	if r != nil {
		r.MustRegister(m.launched, m.finished, m.active, m.metaTiles, m.duration, m.pruned)
	}
	return m
}
