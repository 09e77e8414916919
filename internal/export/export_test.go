package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"co2trend/internal/dataset"
	"co2trend/internal/forecast"
	"co2trend/internal/reconcile"
	"co2trend/internal/report"
)

func sampleRows() []forecast.Row {
	return []forecast.Row{
		{Code: "ALP", Point: forecast.Point{DS: dataset.YearStart(1965), Trend: 0.5, TrendLower: 0.4, TrendUpper: 0.6, Yhat: 0.5, YhatLower: 0.35, YhatUpper: 0.65}},
		{Code: "ALP", Point: forecast.Point{DS: dataset.YearStart(2050), Trend: 0.123456789, TrendLower: 0.1, TrendUpper: 0.2, Yhat: 0.123456789, YhatLower: 0.05, YhatUpper: 0.25}},
		{Code: "BET", Point: forecast.Point{DS: dataset.YearStart(2000), Trend: -1e-3, TrendLower: -2e-3, TrendUpper: 0, Yhat: -1e-3, YhatLower: -3e-3, YhatUpper: 1e-3}},
	}
}

func TestForecastsCSV_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "forecasts.csv")
	rows := sampleRows()

	require.NoError(t, WriteForecasts(path, rows))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "entity_code,ds,trend,trend_lower,trend_upper,yhat,yhat_lower,yhat_upper\n")
	assert.Contains(t, string(data), "ALP,1965-01-01,0.5,")

	got, err := ReadForecasts(path)
	require.NoError(t, err)
	if diff := cmp.Diff(rows, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadForecasts_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadForecasts(filepath.Join(dir, "missing.csv"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("code,ds,trend\nALP,2000-01-01,1\n"), 0o644))
	_, err = ReadForecasts(bad)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrBadHeader))

	badDate := filepath.Join(dir, "bad_date.csv")
	require.NoError(t, os.WriteFile(badDate, []byte(
		"entity_code,ds,trend,trend_lower,trend_upper,yhat,yhat_lower,yhat_upper\n"+
			"ALP,2000,1,1,1,1,1,1\n"), 0o644))
	_, err = ReadForecasts(badDate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestWriteStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.csv")
	results := []forecast.Result{
		{Code: "ALP", Status: forecast.StatusSuccess, Observations: 40},
		{Code: "ONE", Status: forecast.StatusFailure, Reason: "forecast: fewer than two observations", Observations: 1},
	}
	require.NoError(t, WriteStatus(path, results))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"entity_code,status,reason,observations\n"+
			"ALP,success,,40\n"+
			"ONE,failure,forecast: fewer than two observations,1\n",
		string(data))
}

func TestWriteCleaned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cleaned.csv")
	obs := []dataset.Observation{
		{Name: "Alpha, Republic of", Code: "ALP", Year: 1995, DS: dataset.YearStart(1995), Y: 0.5, Source: dataset.SourceSupplementary},
	}
	require.NoError(t, WriteCleaned(path, obs))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"entity_name,entity_code,year,ds,y,source\n"+
			"\"Alpha, Republic of\",ALP,1995,1995-01-01,0.5,supplementary\n",
		string(data))
}

func TestParquet_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forecasts.parquet")
	rows := sampleRows()

	require.NoError(t, WriteParquet(path, rows))

	got, err := ReadParquet(path)
	require.NoError(t, err)
	if diff := cmp.Diff(rows, got); diff != "" {
		t.Fatalf("parquet round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis.xlsx")
	audit := &reconcile.Audit{
		Read:    map[dataset.Source]int{dataset.SourcePrimary: 10, dataset.SourceSupplementary: 20},
		Outside: map[dataset.Source]int{},
		Dropped: map[reconcile.DropReason]int{reconcile.DropZeroValue: 3},
		Kept:    27,
	}
	data := WorkbookData{
		RunID: "run-1",
		Rows:  sampleRows(),
		Results: []forecast.Result{
			{Code: "ALP", Status: forecast.StatusSuccess, Observations: 2},
			{Code: "BET", Status: forecast.StatusFailure, Reason: "boom", Observations: 1},
		},
		Summary:  []report.YearlySummary{{Year: 2000, Entities: 1, MeanTrend: 0.5, TopEntity: "ALP"}},
		Profiles: []report.EntityProfile{{Rank: 1, Code: "ALP", Trend: report.TrendStable}},
		Decades:  []report.DecadeSummary{{Decade: "2000-2009", StartYear: 2000, EndYear: 2000, Leading: "ALP"}},
		Audit:    audit,
	}
	require.NoError(t, WriteWorkbook(path, data))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetForecast, SheetStatus, SheetSummary, SheetEntities, SheetDecades, SheetAudit}, f.GetSheetList())

	rows, err := f.GetRows(SheetForecast)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, ForecastHeader, rows[0])
	assert.Equal(t, []string{"ALP", "1965-01-01"}, rows[1][:2])

	status, err := f.GetRows(SheetStatus)
	require.NoError(t, err)
	assert.Equal(t, []string{"BET", "failure", "boom", "1"}, status[2])

	auditRows, err := f.GetRows(SheetAudit)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_id", "run-1"}, auditRows[1])
	assert.Contains(t, auditRows, []string{"dropped_zero_value", "3"})
	assert.Contains(t, auditRows, []string{"kept", "27"})
}

func TestWriteWorkbook_NoAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis.xlsx")
	require.NoError(t, WriteWorkbook(path, WorkbookData{Rows: sampleRows()}))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.NotContains(t, f.GetSheetList(), SheetAudit)
	assert.NotContains(t, f.GetSheetList(), SheetDecades)
}
