package report

import (
	"fmt"
	"math"
)

// DecadeSummary compares the cross-entity mean trend at the first and last
// year of one calendar decade.
type DecadeSummary struct {
	Decade        string // e.g. "2010-2019"
	StartYear     int    // first year of the decade present in the summary
	EndYear       int
	Forecast      bool // every year of the decade is forecast
	StartMean     float64
	EndMean       float64
	TotalChange   float64 // % change from StartMean to EndMean
	AverageAnnual float64
	Leading       string // highest-intensity entity in EndYear
}

// Decades groups a yearly summary into calendar decades, ascending.
func Decades(summary []YearlySummary) []DecadeSummary {
	var out []DecadeSummary
	for _, s := range summary {
		start := s.Year - mod(s.Year, 10)
		if n := len(out); n == 0 || out[n-1].Decade != decadeName(start) {
			out = append(out, DecadeSummary{
				Decade:    decadeName(start),
				StartYear: s.Year,
				StartMean: s.MeanTrend,
				Forecast:  true,
			})
		}
		d := &out[len(out)-1]
		d.EndYear, d.EndMean, d.Leading = s.Year, s.MeanTrend, s.TopEntity
		d.Forecast = d.Forecast && s.Forecast
	}

	for i := range out {
		d := &out[i]
		if d.StartMean == 0 {
			continue
		}
		d.TotalChange = (d.EndMean - d.StartMean) / math.Abs(d.StartMean) * 100
		if span := d.EndYear - d.StartYear; span > 0 {
			d.AverageAnnual = d.TotalChange / float64(span)
		}
	}
	return out
}

func decadeName(start int) string {
	return fmt.Sprintf("%d-%d", start, start+9)
}

// mod is the non-negative remainder.
func mod(a, b int) int {
	return (a%b + b) % b
}
