// Package metrics collects counters for one sync run. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vcsmine"

// Metrics holds the collectors of one sync run, registered on their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	commitsClassified prometheus.Counter
	commitsSkipped    prometheus.Counter
	classifyDuration  prometheus.Histogram
	fileActions       *prometheus.CounterVec
	hunks             prometheus.Counter
	dropped           *prometheus.CounterVec
	branchTips        prometheus.Counter
	reconciled        *prometheus.CounterVec
	entityErrors      *prometheus.CounterVec
	syncDuration      prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		commitsClassified: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_classified_total",
			Help:      "Commits classified and submitted to the store.",
		}),
		commitsSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_skipped_total",
			Help:      "Commits skipped because they were already stored.",
		}),
		classifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classify_duration_seconds",
			Help:      "Time spent classifying one commit.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		fileActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_actions_total",
			Help:      "File actions stored, by change mode.",
		}, []string{"mode"}),
		hunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hunks_total",
			Help:      "Hunks stored.",
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "dropped_records_total",
			Help:      "Records the store rejected after falling back to per-record writes.",
		}, []string{"kind"}),
		branchTips: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "branch_tips_total",
			Help:      "Branch tips submitted to the store.",
		}),
		reconciled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_total",
			Help:      "State transitions applied by reconciliation.",
		}, []string{"entity", "action"}),
		entityErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_errors_total",
			Help:      "Per-entity failures that did not abort the sync.",
		}, []string{"entity"}),
		syncDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall time of the last sync.",
		}),
	}
}

// CommitClassified records one classified commit.
func (m *Metrics) CommitClassified(d time.Duration) {
	if m == nil {
		return
	}
	m.commitsClassified.Inc()
	m.classifyDuration.Observe(d.Seconds())
}

// CommitSkipped records one skipped commit.
func (m *Metrics) CommitSkipped() {
	if m == nil {
		return
	}
	m.commitsSkipped.Inc()
}

// FileAction records one stored file action and its hunks.
func (m *Metrics) FileAction(mode string, hunks int) {
	if m == nil {
		return
	}
	m.fileActions.WithLabelValues(mode).Inc()
	m.hunks.Add(float64(hunks))
}

// Dropped records a record the store could not write.
func (m *Metrics) Dropped(kind string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(kind).Inc()
}

// BranchTip records one submitted branch tip.
func (m *Metrics) BranchTip() {
	if m == nil {
		return
	}
	m.branchTips.Inc()
}

// Reconciled records a reconciliation transition such as ("tag", "restored").
func (m *Metrics) Reconciled(entity, action string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(entity, action).Inc()
}

// EntityError records a per-entity failure.
func (m *Metrics) EntityError(entity string) {
	if m == nil {
		return
	}
	m.entityErrors.WithLabelValues(entity).Inc()
}

// SyncDone records the duration of the sync.
func (m *Metrics) SyncDone(d time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.Set(d.Seconds())
}

// WriteFile writes all metrics in the text exposition format, for the node
// exporter textfile collector.
func (m *Metrics) WriteFile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
