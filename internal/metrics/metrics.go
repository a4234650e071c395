// Package metrics exposes tracker and reverter activity as Prometheus
// counters. Recorder implements audit.Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/revlog/internal/audit"
)

const namespace = "revlog"

// Recorder holds the revlog counters.
type Recorder struct {
	ChangesRecorded *prometheus.CounterVec
	ChangesPruned   *prometheus.CounterVec
	PruneFailures   *prometheus.CounterVec
	Reverts         *prometheus.CounterVec
}

var _ audit.Metrics = (*Recorder)(nil)

// New registers the counters with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		ChangesRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_recorded_total",
			Help:      "Changes written to history by item type and action",
		}, []string{"item_type", "action"}),

		ChangesPruned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_pruned_total",
			Help:      "Changes removed by retention pruning",
		}, []string{"item_type"}),

		PruneFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prune_failures_total",
			Help:      "Retention pruning attempts that failed",
		}, []string{"item_type"}),

		Reverts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reverts_total",
			Help:      "Reverts by item type and result",
		}, []string{"item_type", "result"}),
	}
}

// ChangeRecorded implements audit.Metrics.
func (r *Recorder) ChangeRecorded(itemType string, action audit.Action) {
	r.ChangesRecorded.WithLabelValues(itemType, string(action)).Inc()
}

// ChangesPruned implements audit.Metrics.
func (r *Recorder) ChangesPruned(itemType string, n int64) {
	r.ChangesPruned.WithLabelValues(itemType).Add(float64(n))
}

// PruneFailed implements audit.Metrics.
func (r *Recorder) PruneFailed(itemType string) {
	r.PruneFailures.WithLabelValues(itemType).Inc()
}

// RevertFinished implements audit.Metrics.
func (r *Recorder) RevertFinished(itemType string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	r.Reverts.WithLabelValues(itemType, result).Inc()
}
