package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"co2trend/internal/dataset"
	"co2trend/internal/forecast"
)

func row(code string, year int, trend float64) forecast.Row {
	return forecast.Row{Code: code, Point: forecast.Point{DS: dataset.YearStart(year), Trend: trend, Yhat: trend}}
}

func TestSummarize(t *testing.T) {
	rows := []forecast.Row{
		row("AAA", 2020, 1), row("AAA", 2021, 2),
		row("BBB", 2020, 3), row("BBB", 2021, 2),
		row("CCC", 2021, 5),
	}

	got := Summarize(rows, 2020)
	require.Len(t, got, 2)

	assert.Equal(t, 2020, got[0].Year)
	assert.False(t, got[0].Forecast)
	assert.Equal(t, 2, got[0].Entities)
	assert.InDelta(t, 2.0, got[0].MeanTrend, 1e-12)
	assert.InDelta(t, 2.0, got[0].MedianTrend, 1e-12)
	assert.Equal(t, "BBB", got[0].TopEntity)
	assert.Zero(t, got[0].ChangeRate)

	assert.True(t, got[1].Forecast)
	assert.Equal(t, 3, got[1].Entities)
	assert.InDelta(t, 3.0, got[1].MeanTrend, 1e-12)
	assert.InDelta(t, 2.0, got[1].MedianTrend, 1e-12)
	assert.Equal(t, "CCC", got[1].TopEntity)
	assert.InDelta(t, 1.0, got[1].AnnualChange, 1e-12)
	assert.InDelta(t, 50.0, got[1].ChangeRate, 1e-12)
}

func TestSummarize_TopEntityTieBreaksByCode(t *testing.T) {
	got := Summarize([]forecast.Row{row("ZZZ", 2020, 1), row("AAA", 2020, 1)}, 2020)
	require.Len(t, got, 1)
	assert.Equal(t, "AAA", got[0].TopEntity)
}

func series(code string, from int, trends ...float64) forecast.Result {
	s := &forecast.Series{Code: code, History: len(trends)}
	for i, v := range trends {
		s.Points = append(s.Points, forecast.Point{DS: dataset.YearStart(from + i), Trend: v})
	}
	return forecast.Result{Code: code, Status: forecast.StatusSuccess, Series: s}
}

func TestProfiles(t *testing.T) {
	results := []forecast.Result{
		series("DEC", 2000, 1.0, 0.9, 0.8, 0.7, 0.4),
		{Code: "BAD", Status: forecast.StatusFailure, Reason: "x"},
		series("RIS", 2000, 0.2, 0.25, 0.3, 0.35, 0.4),
		series("SHT", 2000, 0.5, 0.6),
	}

	got := Profiles(results)
	require.Len(t, got, 3)

	byCode := map[string]EntityProfile{}
	for _, p := range got {
		byCode[p.Code] = p
	}

	dec := byCode["DEC"]
	assert.Equal(t, 2000, dec.FirstYear)
	assert.Equal(t, 2004, dec.LastYear)
	assert.InDelta(t, -60.0, dec.ChangeRate, 1e-9)
	assert.InDelta(t, -15.0, dec.AnnualChangeRate, 1e-9)
	assert.Equal(t, 2000, dec.PeakYear)
	assert.Equal(t, TrendSteepDecline, dec.Trend)

	rise := byCode["RIS"]
	assert.Equal(t, TrendRising, rise.Trend)
	assert.Equal(t, 2004, rise.PeakYear)
	assert.Positive(t, rise.Volatility)

	assert.Equal(t, TrendInsufficient, byCode["SHT"].Trend)

	// Ranked by end-of-horizon trend, ties broken by code.
	assert.Equal(t, []string{"DEC", "RIS", "SHT"}, []string{got[0].Code, got[1].Code, got[2].Code})
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, 3, got[2].Rank)
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		points int
		change float64
		vol    float64
		want   string
	}{
		{3, -90, 0, TrendInsufficient},
		{10, -60, 0, TrendSteepDecline},
		{10, -20, 0, TrendDeclining},
		{10, 20, 0, TrendRising},
		{10, 0, 40, TrendVolatile},
		{10, 5, 5, TrendStable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyTrend(tt.points, tt.change, tt.vol))
	}
}

func TestVolatility(t *testing.T) {
	assert.Zero(t, volatility(nil))
	assert.InDelta(t, 5.0, volatility([]float64{10, 20}), 1e-12)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "0.123", FormatValue(0.1234))
	assert.Equal(t, "2.50", FormatValue(2.5))
	assert.Equal(t, "1.5K", FormatValue(1500))
	assert.Equal(t, "2.00M", FormatValue(2_000_000))
	assert.Equal(t, "-0.500", FormatValue(-0.5))
}
