package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"co2trend/internal/dataset"
	"co2trend/internal/forecast"
	"co2trend/internal/reconcile"
)

func TestObserveFit(t *testing.T) {
	m := New()
	m.ObserveFit(forecast.StatusSuccess, 20*time.Millisecond)
	m.ObserveFit(forecast.StatusSuccess, 30*time.Millisecond)
	m.ObserveFit(forecast.StatusFailure, time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Fits.WithLabelValues("success")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Fits.WithLabelValues("failure")), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.FitDuration))
}

func TestObserveAudit(t *testing.T) {
	m := New()
	m.ObserveAudit(reconcile.Audit{
		Read:    map[dataset.Source]int{dataset.SourcePrimary: 7, dataset.SourceSupplementary: 3},
		Dropped: map[reconcile.DropReason]int{reconcile.DropZeroValue: 2, reconcile.DropOutlier: 1},
		Kept:    7,
	})

	assert.InDelta(t, 7, testutil.ToFloat64(m.RowsRead.WithLabelValues("primary")), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(m.RowsRead.WithLabelValues("supplementary")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(m.RowsDropped.WithLabelValues("zero_value")), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(m.RowsDropped.WithLabelValues("duplicate")), 1e-9)
	assert.InDelta(t, 7, testutil.ToFloat64(m.RowsKept), 1e-9)
	assert.Equal(t, len(reconcile.DropReasons), testutil.CollectAndCount(m.RowsDropped))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFit(forecast.StatusSuccess, time.Second)
		m.ObserveAudit(reconcile.Audit{})
		m.ObserveStage("reconcile", time.Second)
		m.SetRunID("x")
	})
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.SetRunID("3f1c")
	m.ObserveStage("forecast", 1500*time.Millisecond)

	path := filepath.Join(t.TempDir(), "textfile", "co2trend.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `co2trend_run_info{run_id="3f1c"} 1`)
	assert.Contains(t, string(data), `co2trend_stage_duration_seconds{stage="forecast"} 1.5`)
}
