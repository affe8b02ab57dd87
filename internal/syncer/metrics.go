package syncer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	items    *prometheus.CounterVec
	passes   *prometheus.HistogramVec
	progress *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelsync_sync_items_total",
			Help: "Per-item sync operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		passes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reelsync_sync_pass_seconds",
			Help:    "Duration of sync passes by direction.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"direction"}),
		progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reelsync_sync_progress_ratio",
			Help: "Progress of the running sync step per project, 0 when idle.",
		}, []string{"project_id"}),
	}
	reg.MustRegister(m.items, m.passes, m.progress)
	return m
}

func (m *Metrics) item(op, outcome string) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) pass(direction string, start time.Time) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(direction).Observe(time.Since(start).Seconds())
}

func (m *Metrics) setProgress(projectID string, ratio float64) {
	if m == nil {
		return
	}
	m.progress.WithLabelValues(projectID).Set(ratio)
}

func (m *Metrics) forget(projectID string) {
	if m == nil {
		return
	}
	m.progress.DeleteLabelValues(projectID)
}
