// Package report derives summary tables from the forecast and renders them
// as a Markdown run report.
package report

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"co2trend/internal/forecast"
)

// YearlySummary aggregates the trend of every entity for one year.
type YearlySummary struct {
	Year         int
	Forecast     bool // year lies after the last historical year
	Entities     int
	MeanTrend    float64
	MedianTrend  float64
	TopEntity    string
	TopTrend     float64
	ChangeRate   float64 // % change of MeanTrend from the previous year
	AnnualChange float64
}

// Summarize builds one YearlySummary per year present in rows, ascending.
func Summarize(rows []forecast.Row, lastHistoricalYear int) []YearlySummary {
	byYear := make(map[int][]forecast.Row)
	for _, r := range rows {
		y := r.DS.Year()
		byYear[y] = append(byYear[y], r)
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	slices.Sort(years)

	summaries := make([]YearlySummary, 0, len(years))
	for i, year := range years {
		group := byYear[year]
		trends := make([]float64, len(group))
		s := YearlySummary{
			Year:     year,
			Forecast: year > lastHistoricalYear,
			Entities: len(group),
			TopTrend: math.Inf(-1),
		}
		for j, r := range group {
			trends[j] = r.Trend
			if r.Trend > s.TopTrend || (r.Trend == s.TopTrend && r.Code < s.TopEntity) {
				s.TopEntity, s.TopTrend = r.Code, r.Trend
			}
		}
		s.MeanTrend = stat.Mean(trends, nil)
		s.MedianTrend = median(trends)

		if i > 0 {
			prev := summaries[i-1]
			s.AnnualChange = s.MeanTrend - prev.MeanTrend
			if prev.MeanTrend != 0 {
				s.ChangeRate = s.AnnualChange / prev.MeanTrend * 100
			}
		}
		summaries = append(summaries, s)
	}
	return summaries
}

// Trend classes assigned by classifyTrend.
const (
	TrendInsufficient = "INSUFFICIENT_DATA"
	TrendSteepDecline = "STEEP_DECLINE"
	TrendDeclining    = "DECLINING"
	TrendRising       = "RISING"
	TrendVolatile     = "VOLATILE"
	TrendStable       = "STABLE"
)

// EntityProfile describes one entity's trend from its first historical year
// to the end of the forecast.
type EntityProfile struct {
	Code             string
	Rank             int // by EndTrend, lowest intensity first
	FirstYear        int
	LastYear         int
	StartTrend       float64
	EndTrend         float64
	ChangeRate       float64 // % change from StartTrend to EndTrend
	AnnualChangeRate float64
	PeakYear         int
	PeakTrend        float64
	Volatility       float64 // std dev of year-on-year % changes
	Trend            string
}

// Profiles builds an EntityProfile per successful result, ranked by
// the trend at the end of the horizon.
func Profiles(results []forecast.Result) []EntityProfile {
	var profiles []EntityProfile
	for _, r := range results {
		if r.Series == nil || len(r.Series.Points) == 0 {
			continue
		}
		yearly := make(map[int]float64, len(r.Series.Points))
		for _, p := range r.Series.Points {
			yearly[p.DS.Year()] = p.Trend
		}
		years := sortedYears(yearly)

		p := EntityProfile{
			Code:       r.Code,
			FirstYear:  years[0],
			LastYear:   years[len(years)-1],
			StartTrend: yearly[years[0]],
			EndTrend:   yearly[years[len(years)-1]],
		}
		if p.StartTrend != 0 {
			p.ChangeRate = (p.EndTrend - p.StartTrend) / math.Abs(p.StartTrend) * 100
			if span := p.LastYear - p.FirstYear; span > 0 {
				p.AnnualChangeRate = p.ChangeRate / float64(span)
			}
		}
		p.PeakYear, p.PeakTrend = peak(yearly)
		p.Volatility = volatility(yearlyChangeRates(yearly))
		p.Trend = classifyTrend(len(years), p.ChangeRate, p.Volatility)
		profiles = append(profiles, p)
	}

	slices.SortStableFunc(profiles, func(a, b EntityProfile) int {
		if c := cmp.Compare(a.EndTrend, b.EndTrend); c != 0 {
			return c
		}
		return cmp.Compare(a.Code, b.Code)
	})
	for i := range profiles {
		profiles[i].Rank = i + 1
	}
	return profiles
}

func classifyTrend(points int, changeRate, vol float64) string {
	switch {
	case points < 4:
		return TrendInsufficient
	case changeRate < -50:
		return TrendSteepDecline
	case changeRate < -10:
		return TrendDeclining
	case changeRate > 10:
		return TrendRising
	case vol > 30:
		return TrendVolatile
	default:
		return TrendStable
	}
}

func peak(yearly map[int]float64) (int, float64) {
	years := sortedYears(yearly)
	peakYear, peakTrend := years[0], yearly[years[0]]
	for _, y := range years[1:] {
		if yearly[y] > peakTrend {
			peakYear, peakTrend = y, yearly[y]
		}
	}
	return peakYear, peakTrend
}

func yearlyChangeRates(yearly map[int]float64) []float64 {
	var rates []float64
	years := sortedYears(yearly)
	for i := 1; i < len(years); i++ {
		prev := yearly[years[i-1]]
		if prev != 0 {
			rates = append(rates, (yearly[years[i]]-prev)/math.Abs(prev)*100)
		}
	}
	return rates
}

func volatility(rates []float64) float64 {
	if len(rates) == 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(rates, nil)
	return std
}

func median(v []float64) float64 {
	sorted := slices.Clone(v)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func sortedYears(yearly map[int]float64) []int {
	years := make([]int, 0, len(yearly))
	for y := range yearly {
		years = append(years, y)
	}
	slices.Sort(years)
	return years
}

// FormatValue renders an emissions intensity for humans: three significant
// decimals for typical values and a K/M suffix for large ones.
func FormatValue(v float64) string {
	switch a := math.Abs(v); {
	case a >= 1_000_000:
		return fmt.Sprintf("%.2fM", v/1_000_000)
	case a >= 1000:
		return fmt.Sprintf("%.1fK", v/1000)
	case a >= 1:
		return fmt.Sprintf("%.2f", v)
	default:
		return fmt.Sprintf("%.3f", v)
	}
}
