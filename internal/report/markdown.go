package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"co2trend/internal/forecast"
)

// Document is the content of the Markdown run report.
type Document struct {
	RunID      string
	Generated  time.Time
	TargetYear int
	Kept       int // canonical rows after reconciliation
	Dropped    int
	Summary    []YearlySummary
	Profiles   []EntityProfile
	Results    []forecast.Result
}

// trendGroups is the order groups appear in the report.
var trendGroups = []string{
	TrendSteepDecline,
	TrendDeclining,
	TrendStable,
	TrendVolatile,
	TrendRising,
	TrendInsufficient,
}

// WriteMarkdown renders doc to path.
func WriteMarkdown(path string, doc Document) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = eris.Wrapf(cerr, "report: close %s", path)
		}
	}()
	if err := doc.Render(f); err != nil {
		return eris.Wrapf(err, "report: write %s", path)
	}
	return nil
}

// Render writes the report as Markdown to w.
func (d Document) Render(w io.Writer) error {
	var b strings.Builder

	b.WriteString("# CO2 Emissions Per GDP: Forecast Report\n\n")
	fmt.Fprintf(&b, "Run `%s`, generated %s.\n\n", d.RunID, d.Generated.Format("2 January 2006"))

	failed := 0
	for _, r := range d.Results {
		if !r.OK() {
			failed++
		}
	}
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- **Canonical rows**: %d (%d dropped)\n", d.Kept, d.Dropped)
	fmt.Fprintf(&b, "- **Entities forecast**: %d of %d\n", len(d.Results)-failed, len(d.Results))
	if len(d.Summary) > 0 {
		first, last := d.Summary[0], d.Summary[len(d.Summary)-1]
		fmt.Fprintf(&b, "- **Mean trend %d**: %s\n", first.Year, FormatValue(first.MeanTrend))
		fmt.Fprintf(&b, "- **Mean trend %d**: %s\n", last.Year, FormatValue(last.MeanTrend))
		if first.MeanTrend != 0 {
			fmt.Fprintf(&b, "- **Total change**: %.1f%%\n", (last.MeanTrend-first.MeanTrend)/first.MeanTrend*100)
		}
	}
	for _, s := range d.Summary {
		if s.Year == d.TargetYear {
			fmt.Fprintf(&b, "- **Highest intensity in %d**: %s (%s)\n", s.Year, s.TopEntity, FormatValue(s.TopTrend))
		}
	}

	if decades := Decades(d.Summary); len(decades) > 0 {
		b.WriteString("\n## By decade\n\n")
		b.WriteString("| Decade | Segment | Start | End | Change | Annual | Highest |\n")
		b.WriteString("|--------|---------|-------|-----|--------|--------|---------|\n")
		for _, dec := range decades {
			segment := "history"
			if dec.Forecast {
				segment = "forecast"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %.1f%% | %.2f%% | %s |\n",
				dec.Decade, segment, FormatValue(dec.StartMean), FormatValue(dec.EndMean),
				dec.TotalChange, dec.AverageAnnual, dec.Leading)
		}
	}

	if len(d.Profiles) > 0 {
		b.WriteString("\n## Entities\n\n")
		b.WriteString("| Rank | Entity | Years | Start | End | Change | Peak | Trend |\n")
		b.WriteString("|------|--------|-------|-------|-----|--------|------|-------|\n")
		for _, p := range d.Profiles {
			fmt.Fprintf(&b, "| %d | %s | %d-%d | %s | %s | %.1f%% | %d | %s |\n",
				p.Rank, p.Code, p.FirstYear, p.LastYear,
				FormatValue(p.StartTrend), FormatValue(p.EndTrend), p.ChangeRate, p.PeakYear, p.Trend)
		}

		b.WriteString("\n## Entities by trend\n")
		for _, group := range trendGroups {
			var codes []string
			for _, p := range d.Profiles {
				if p.Trend == group {
					codes = append(codes, p.Code)
				}
			}
			if len(codes) > 0 {
				fmt.Fprintf(&b, "\n### %s (%d)\n\n%s\n", group, len(codes), strings.Join(codes, ", "))
			}
		}
	}

	if failed > 0 {
		b.WriteString("\n## Failed fits\n\n")
		for _, r := range d.Results {
			if !r.OK() {
				fmt.Fprintf(&b, "- **%s** (%d observations): %s\n", r.Code, r.Observations, r.Reason)
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
