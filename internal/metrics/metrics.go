// Package metrics collects run metrics into a private Prometheus registry
// that is written out as a node-exporter textfile when the run ends.
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"

	"co2trend/internal/dataset"
	"co2trend/internal/forecast"
	"co2trend/internal/reconcile"
)

const namespace = "co2trend"

// Metrics holds the collectors of one run.
type Metrics struct {
	Registry *prometheus.Registry

	RowsRead      *prometheus.CounterVec
	RowsDropped   *prometheus.CounterVec
	RowsKept      prometheus.Gauge
	Fits          *prometheus.CounterVec
	FitDuration   prometheus.Histogram
	StageDuration *prometheus.GaugeVec
	RunInfo       *prometheus.GaugeVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RowsRead: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "rows_read_total",
			Help:      "Rows loaded from each input source.",
		}, []string{"source"}),
		RowsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "rows_dropped_total",
			Help:      "Rows removed during reconciliation, by reason.",
		}, []string{"reason"}),
		RowsKept: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "rows_kept",
			Help:      "Rows in the canonical table.",
		}),
		Fits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "fits_total",
			Help:      "Entity fits by outcome.",
		}, []string{"status"}),
		FitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "fit_duration_seconds",
			Help:      "Time spent fitting and sampling one entity.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		StageDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage in the last run.",
		}, []string{"stage"}),
		RunInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_info",
			Help:      "Constant 1, labelled with the run id.",
		}, []string{"run_id"}),
	}
}

// ObserveFit implements forecast.Observer.
func (m *Metrics) ObserveFit(status forecast.Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Fits.WithLabelValues(string(status)).Inc()
	m.FitDuration.Observe(elapsed.Seconds())
}

// ObserveAudit records the reconciliation counts.
func (m *Metrics) ObserveAudit(a reconcile.Audit) {
	if m == nil {
		return
	}
	for _, src := range []dataset.Source{dataset.SourcePrimary, dataset.SourceSupplementary} {
		m.RowsRead.WithLabelValues(string(src)).Add(float64(a.Read[src]))
	}
	for _, reason := range reconcile.DropReasons {
		m.RowsDropped.WithLabelValues(string(reason)).Add(float64(a.Dropped[reason]))
	}
	m.RowsKept.Set(float64(a.Kept))
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// SetRunID labels the run.
func (m *Metrics) SetRunID(id string) {
	if m == nil {
		return
	}
	m.RunInfo.WithLabelValues(id).Set(1)
}

// WriteTextfile writes the registry in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "metrics: create directory for %s", path)
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return eris.Wrapf(err, "metrics: write %s", path)
	}
	return nil
}
