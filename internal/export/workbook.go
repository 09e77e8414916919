package export

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"co2trend/internal/dataset"
	"co2trend/internal/forecast"
	"co2trend/internal/reconcile"
	"co2trend/internal/report"
)

// Workbook sheet names.
const (
	SheetForecast = "Forecast"
	SheetStatus   = "Status"
	SheetSummary  = "Yearly_Summary"
	SheetEntities = "Entities"
	SheetDecades  = "Decades"
	SheetAudit    = "Audit"
)

// WorkbookData is everything written to the analysis workbook. A nil Audit
// omits the Audit sheet.
type WorkbookData struct {
	RunID    string
	Rows     []forecast.Row
	Results  []forecast.Result
	Summary  []report.YearlySummary
	Profiles []report.EntityProfile
	Decades  []report.DecadeSummary
	Audit    *reconcile.Audit
}

// WriteWorkbook writes data to an xlsx file at path.
func WriteWorkbook(path string, data WorkbookData) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetForecast); err != nil {
		return eris.Wrap(err, "export: rename sheet")
	}

	sheets := []struct {
		name  string
		write func(*excelize.File, string) error
		skip  bool
	}{
		{SheetForecast, data.writeForecast, false},
		{SheetStatus, data.writeStatus, false},
		{SheetSummary, data.writeSummary, false},
		{SheetEntities, data.writeEntities, false},
		{SheetDecades, data.writeDecades, len(data.Decades) == 0},
		{SheetAudit, data.writeAudit, data.Audit == nil},
	}
	for _, s := range sheets {
		if s.skip {
			continue
		}
		if s.name != SheetForecast {
			if _, err := f.NewSheet(s.name); err != nil {
				return eris.Wrapf(err, "export: add sheet %s", s.name)
			}
		}
		if err := s.write(f, s.name); err != nil {
			return eris.Wrapf(err, "export: sheet %s", s.name)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, width float64) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		col, _, err := excelize.SplitCellName(cell)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, col, col, width); err != nil {
			return err
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func (d WorkbookData) writeForecast(f *excelize.File, sheet string) error {
	if err := writeHeader(f, sheet, ForecastHeader, 14); err != nil {
		return err
	}
	for i, r := range d.Rows {
		values := []any{
			r.Code, r.DS.Format(time.DateOnly),
			r.Trend, r.TrendLower, r.TrendUpper, r.Yhat, r.YhatLower, r.YhatUpper,
		}
		if err := writeRow(f, sheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func (d WorkbookData) writeStatus(f *excelize.File, sheet string) error {
	if err := writeHeader(f, sheet, StatusHeader, 16); err != nil {
		return err
	}
	for i, r := range d.Results {
		if err := writeRow(f, sheet, i+2, []any{r.Code, string(r.Status), r.Reason, r.Observations}); err != nil {
			return err
		}
	}
	return nil
}

func (d WorkbookData) writeSummary(f *excelize.File, sheet string) error {
	headers := []string{"Year", "Segment", "Entities", "Mean Trend", "Median Trend",
		"Top Entity", "Top Trend", "Change (%)", "Annual Change"}
	if err := writeHeader(f, sheet, headers, 16); err != nil {
		return err
	}
	for i, s := range d.Summary {
		segment := "history"
		if s.Forecast {
			segment = "forecast"
		}
		values := []any{
			s.Year, segment, s.Entities,
			report.FormatValue(s.MeanTrend), report.FormatValue(s.MedianTrend),
			s.TopEntity, report.FormatValue(s.TopTrend),
			fmt.Sprintf("%.1f%%", s.ChangeRate), report.FormatValue(s.AnnualChange),
		}
		if err := writeRow(f, sheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func (d WorkbookData) writeEntities(f *excelize.File, sheet string) error {
	headers := []string{"Rank", "Entity", "First Year", "Last Year", "Start Trend", "End Trend",
		"Change (%)", "Annual Change (%)", "Peak Year", "Peak Trend", "Volatility", "Trend"}
	if err := writeHeader(f, sheet, headers, 16); err != nil {
		return err
	}
	for i, p := range d.Profiles {
		values := []any{
			p.Rank, p.Code, p.FirstYear, p.LastYear,
			report.FormatValue(p.StartTrend), report.FormatValue(p.EndTrend),
			fmt.Sprintf("%.1f%%", p.ChangeRate), fmt.Sprintf("%.2f%%", p.AnnualChangeRate),
			p.PeakYear, report.FormatValue(p.PeakTrend),
			fmt.Sprintf("%.2f", p.Volatility), p.Trend,
		}
		if err := writeRow(f, sheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func (d WorkbookData) writeDecades(f *excelize.File, sheet string) error {
	headers := []string{"Decade", "Segment", "Start Year", "End Year", "Start Mean", "End Mean",
		"Change (%)", "Annual (%)", "Highest Entity"}
	if err := writeHeader(f, sheet, headers, 16); err != nil {
		return err
	}
	for i, dec := range d.Decades {
		segment := "history"
		if dec.Forecast {
			segment = "forecast"
		}
		values := []any{
			dec.Decade, segment, dec.StartYear, dec.EndYear,
			report.FormatValue(dec.StartMean), report.FormatValue(dec.EndMean),
			fmt.Sprintf("%.1f%%", dec.TotalChange), fmt.Sprintf("%.2f%%", dec.AverageAnnual),
			dec.Leading,
		}
		if err := writeRow(f, sheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func (d WorkbookData) writeAudit(f *excelize.File, sheet string) error {
	if err := writeHeader(f, sheet, []string{"Metric", "Value"}, 24); err != nil {
		return err
	}
	a := d.Audit
	values := [][]any{
		{"run_id", d.RunID},
		{"read_primary", a.Read[dataset.SourcePrimary]},
		{"read_supplementary", a.Read[dataset.SourceSupplementary]},
		{"outside_cutover_primary", a.Outside[dataset.SourcePrimary]},
		{"outside_cutover_supplementary", a.Outside[dataset.SourceSupplementary]},
	}
	for _, reason := range reconcile.DropReasons {
		values = append(values, []any{"dropped_" + string(reason), a.Dropped[reason]})
	}
	values = append(values,
		[]any{"kept", a.Kept},
		[]any{"outlier_mean", a.Bounds.Mean},
		[]any{"outlier_stddev", a.Bounds.StdDev},
		[]any{"outlier_lower", a.Bounds.Lower},
		[]any{"outlier_upper", a.Bounds.Upper},
	)
	for i, v := range values {
		if err := writeRow(f, sheet, i+2, v); err != nil {
			return err
		}
	}
	return nil
}
