package cluster

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	events  *prometheus.CounterVec
	running prometheus.Gauge
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tileseed_cluster_events_total",
				Help: "Cluster events by type and direction (out, in, ignored, duplicate).",
			},
			[]string{"type", "direction"},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tileseed_cluster_member",
				Help: "1 while this instance has joined the cluster.",
			},
		),
	}
	if r != nil {
		r.MustRegister(m.events, m.running)
	}
	return m
}
