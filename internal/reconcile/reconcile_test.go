package reconcile

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"co2trend/internal/config"
	"co2trend/internal/dataset"
)

func rec(name, code string, year int, value float64) dataset.Record {
	return dataset.Record{Name: name, Code: code, Year: year, Value: value, HasValue: true}
}

func table(src dataset.Source, recs ...dataset.Record) *dataset.Table {
	for i := range recs {
		recs[i].Source = src
	}
	return &dataset.Table{Source: src, Records: recs}
}

func newReconciler() *Reconciler {
	return New(config.DefaultConfig().Reconcile, nil)
}

func TestReconcile_CutoverScenario(t *testing.T) {
	supp := table(dataset.SourceSupplementary,
		rec("Alpha", "ALP", 1995, 0.5),
		rec("Alpha", "ALP", 2005, 9.9), // after cutover: primary is authoritative
	)
	prim := table(dataset.SourcePrimary,
		rec("Alpha", "ALP", 2005, 0.7),
		rec("Alpha", "ALP", 1990, 9.9), // before cutover: supplementary fills history
	)

	res, err := newReconciler().Reconcile(prim, supp)
	require.NoError(t, err)

	want := []dataset.Observation{
		{Name: "Alpha", Code: "ALP", Year: 1995, DS: dataset.YearStart(1995), Y: 0.5, Source: dataset.SourceSupplementary},
		{Name: "Alpha", Code: "ALP", Year: 2005, DS: dataset.YearStart(2005), Y: 0.7, Source: dataset.SourcePrimary},
	}
	if diff := cmp.Diff(want, res.Observations); diff != "" {
		t.Fatalf("canonical table mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, res.Audit.Outside[dataset.SourcePrimary])
	assert.Equal(t, 1, res.Audit.Outside[dataset.SourceSupplementary])
	assert.Equal(t, 2005, res.LastYear())
}

func TestReconcile_SourcePartition(t *testing.T) {
	var suppRecs, primRecs []dataset.Record
	for y := 1980; y <= 2020; y++ {
		suppRecs = append(suppRecs, rec("Beta", "BET", y, 1))
		primRecs = append(primRecs, rec("Beta", "BET", y, 1))
	}

	res, err := newReconciler().Reconcile(table(dataset.SourcePrimary, primRecs...), table(dataset.SourceSupplementary, suppRecs...))
	require.NoError(t, err)
	require.Len(t, res.Observations, 41)

	for _, o := range res.Observations {
		if o.Year < 2000 {
			assert.Equal(t, dataset.SourceSupplementary, o.Source, "year %d", o.Year)
		} else {
			assert.Equal(t, dataset.SourcePrimary, o.Source, "year %d", o.Year)
		}
	}
}

func TestReconcile_DropsInvalidRows(t *testing.T) {
	missing := rec("Alpha", "ALP", 2007, 0)
	missing.HasValue = false

	prim := table(dataset.SourcePrimary,
		rec("Alpha", "ALP", 2005, 0.7),
		rec("Alpha", "ALP", 2006, 0), // zero means missing
		missing,
		rec("World", "", 2005, 0.4),
		rec("Alpha", "ALP", 2005, 0.8), // duplicate (code, year)
	)
	prim.InvalidYears = 2

	res, err := newReconciler().Reconcile(prim, table(dataset.SourceSupplementary))
	require.NoError(t, err)

	require.Len(t, res.Observations, 1)
	assert.Equal(t, 2005, res.Observations[0].Year)
	assert.Equal(t, 0.7, res.Observations[0].Y)

	assert.Equal(t, map[DropReason]int{
		DropInvalidYear:  2,
		DropZeroValue:    1,
		DropMissingValue: 1,
		DropMissingCode:  1,
		DropDuplicate:    1,
		DropOutlier:      0,
	}, res.Audit.Dropped)
	assert.Equal(t, 6, res.Audit.DroppedTotal())
	assert.Equal(t, 7, res.Audit.Read[dataset.SourcePrimary])
	assert.Equal(t, 1, res.Audit.Kept)
}

func TestReconcile_NeverEmitsZeroOrMissing(t *testing.T) {
	prim := table(dataset.SourcePrimary,
		rec("Gamma", "GAM", 2001, 0),
		rec("Gamma", "GAM", 2002, 1.1),
		rec("Gamma", "", 2003, 1.2),
		rec("Gamma", "GAM", 2004, 1.3),
	)
	res, err := newReconciler().Reconcile(prim, table(dataset.SourceSupplementary))
	require.NoError(t, err)

	for _, o := range res.Observations {
		assert.NotZero(t, o.Y)
		assert.NotEmpty(t, o.Code)
	}
	assert.Len(t, res.Observations, 2)
}

func TestReconcile_UniquePerCodeYear(t *testing.T) {
	prim := table(dataset.SourcePrimary,
		rec("Delta", "DLT", 2001, 1),
		rec("Delta (old name)", "DLT", 2001, 2),
		rec("Delta", "DLT", 2002, 3),
	)
	res, err := newReconciler().Reconcile(prim, table(dataset.SourceSupplementary))
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, o := range res.Observations {
		k := o.Code + "/" + o.DS.String()
		assert.False(t, seen[k], "duplicate %s", k)
		seen[k] = true
	}
	// "Delta" sorts before "Delta (old name)", so its 2001 value wins.
	assert.Equal(t, 1.0, res.Observations[0].Y)
}

func TestReconcile_SortedByNameThenYear(t *testing.T) {
	prim := table(dataset.SourcePrimary,
		rec("Zeta", "ZET", 2003, 1),
		rec("Alpha", "ALP", 2004, 1),
		rec("Zeta", "ZET", 2001, 1),
		rec("Alpha", "ALP", 2002, 1),
	)
	res, err := newReconciler().Reconcile(prim, table(dataset.SourceSupplementary))
	require.NoError(t, err)

	var got []string
	for _, o := range res.Observations {
		got = append(got, o.Name+o.DS.Format("2006"))
	}
	assert.Equal(t, []string{"Alpha2002", "Alpha2004", "Zeta2001", "Zeta2003"}, got)
}

func TestReconcile_RemovesGlobalOutliers(t *testing.T) {
	var recs []dataset.Record
	for y := 2000; y < 2020; y++ {
		recs = append(recs, rec("Eps", "EPS", y, 1))
	}
	recs = append(recs, rec("Omega", "OMG", 2000, 1000))

	res, err := newReconciler().Reconcile(table(dataset.SourcePrimary, recs...), table(dataset.SourceSupplementary))
	require.NoError(t, err)

	assert.Len(t, res.Observations, 20)
	assert.Equal(t, 1, res.Audit.Dropped[DropOutlier])
	for _, o := range res.Observations {
		assert.Equal(t, "EPS", o.Code)
	}
}

func TestReconcile_Deterministic(t *testing.T) {
	build := func() *Result {
		prim := table(dataset.SourcePrimary,
			rec("B", "BBB", 2003, 2), rec("A", "AAA", 2001, 1), rec("B", "BBB", 2001, 2.5),
		)
		supp := table(dataset.SourceSupplementary,
			rec("A", "AAA", 1999, 0.9), rec("B", "BBB", 1998, 2.2),
		)
		res, err := newReconciler().Reconcile(prim, supp)
		require.NoError(t, err)
		return res
	}

	first, second := build(), build()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("reconciliation is not deterministic:\n%s", diff)
	}
}

func TestReconcile_EmptyResult(t *testing.T) {
	prim := table(dataset.SourcePrimary, rec("A", "AAA", 2001, 0))
	_, err := newReconciler().Reconcile(prim, table(dataset.SourceSupplementary))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrEmpty))
}

func TestOutlierFilter_RetainedWithinInputBounds(t *testing.T) {
	values := []float64{1, 2, 2, 3, 3, 3, 4, 4, 5, 40, -30}
	f := OutlierFilter{K: 1.5}
	b := f.Fit(values)

	var kept []float64
	for _, v := range values {
		if b.Contains(v) {
			kept = append(kept, v)
		}
	}
	require.NotEmpty(t, kept)
	for _, v := range kept {
		assert.GreaterOrEqual(t, v, b.Mean-1.5*b.StdDev)
		assert.LessOrEqual(t, v, b.Mean+1.5*b.StdDev)
	}
	assert.NotContains(t, kept, 40.0)
	assert.NotContains(t, kept, -30.0)

}

func TestOutlierFilter_ReapplyFittedBounds(t *testing.T) {
	values := []float64{1, 2, 2, 3, 3, 3, 4, 4, 5, 40, -30}
	obs := make([]dataset.Observation, len(values))
	for i, v := range values {
		obs[i] = dataset.Observation{Code: "AAA", Year: 1990 + i, Y: v}
	}

	kept, b, removed := OutlierFilter{K: 1.5}.Filter(obs)
	require.Equal(t, 2, removed)

	again, removedAgain := b.Apply(kept)
	assert.Zero(t, removedAgain)
	if diff := cmp.Diff(kept, again); diff != "" {
		t.Errorf("reapplying fitted bounds changed the output (-first +second):\n%s", diff)
	}
}

func TestOutlierFilter_SampleStdDev(t *testing.T) {
	b := OutlierFilter{K: 3}.Fit([]float64{0.5, 0.7})
	assert.InDelta(t, 0.6, b.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(0.02), b.StdDev, 1e-12)
	assert.True(t, b.Contains(0.5))
	assert.True(t, b.Contains(0.7))
}

func TestOutlierFilter_Degenerate(t *testing.T) {
	f := OutlierFilter{K: 3}

	assert.Equal(t, Bounds{}, f.Fit(nil))

	one := f.Fit([]float64{2})
	assert.Zero(t, one.StdDev)
	assert.True(t, one.Contains(2))

	obs := []dataset.Observation{{Y: 2}}
	kept, _, removed := f.Filter(obs)
	assert.Len(t, kept, 1)
	assert.Zero(t, removed)
}

func TestIsZeroMeasurement(t *testing.T) {
	assert.True(t, IsZeroMeasurement(rec("A", "AAA", 2001, 0)))
	assert.False(t, IsZeroMeasurement(rec("A", "AAA", 2001, 0.0001)))
	assert.False(t, IsZeroMeasurement(dataset.Record{}), "missing is not zero")
}
