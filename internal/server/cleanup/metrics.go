package cleanup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	removed  *prometheus.CounterVec
	sweeps   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		removed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grantstore_cleanup_removed_total",
			Help: "Expired records deleted by the cleanup reaper.",
		}, []string{"kind"}),
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grantstore_cleanup_sweeps_total",
			Help: "Cleanup sweeps by outcome.",
		}, []string{"kind", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grantstore_cleanup_sweep_duration_seconds",
			Help:    "Duration of one cleanup sweep.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
}
