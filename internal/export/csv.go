// Package export writes the pipeline's tabular outputs: the forecast table,
// per-entity fit status, the cleaned canonical table, a parquet copy of the
// forecast and an xlsx workbook.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"co2trend/internal/dataset"
	"co2trend/internal/forecast"
)

// ErrBadHeader is returned when a forecast file does not start with
// ForecastHeader.
var ErrBadHeader = eris.New("export: unexpected header")

// ForecastHeader is the column layout of the forecast CSV.
var ForecastHeader = []string{
	"entity_code", "ds", "trend", "trend_lower", "trend_upper", "yhat", "yhat_lower", "yhat_upper",
}

// StatusHeader is the column layout of the status CSV.
var StatusHeader = []string{"entity_code", "status", "reason", "observations"}

// CleanedHeader is the column layout of the cleaned canonical table.
var CleanedHeader = []string{"entity_name", "entity_code", "year", "ds", "y", "source"}

// WriteForecasts writes rows to path as CSV, one row per (entity_code, ds).
func WriteForecasts(path string, rows []forecast.Row) error {
	return writeCSV(path, ForecastHeader, len(rows), func(i int) []string {
		r := rows[i]
		return []string{
			r.Code,
			r.DS.Format(time.DateOnly),
			formatFloat(r.Trend),
			formatFloat(r.TrendLower),
			formatFloat(r.TrendUpper),
			formatFloat(r.Yhat),
			formatFloat(r.YhatLower),
			formatFloat(r.YhatUpper),
		}
	})
}

// ReadForecasts reads a file written by WriteForecasts.
func ReadForecasts(path string) ([]forecast.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "export: read header of %s", path)
	}
	if !slices.Equal(header, ForecastHeader) {
		return nil, eris.Wrapf(ErrBadHeader, "%s", path)
	}

	var rows []forecast.Row
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "export: read %s", path)
		}
		row, err := parseForecastRow(rec)
		if err != nil {
			return nil, eris.Wrapf(err, "export: %s line %d", path, line)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseForecastRow(rec []string) (forecast.Row, error) {
	ds, err := time.Parse(time.DateOnly, rec[1])
	if err != nil {
		return forecast.Row{}, eris.Wrap(err, "parse ds")
	}
	vals := make([]float64, 6)
	for i := range vals {
		if vals[i], err = strconv.ParseFloat(rec[i+2], 64); err != nil {
			return forecast.Row{}, eris.Wrapf(err, "parse %s", ForecastHeader[i+2])
		}
	}
	return forecast.Row{
		Code: rec[0],
		Point: forecast.Point{
			DS:         ds,
			Trend:      vals[0],
			TrendLower: vals[1],
			TrendUpper: vals[2],
			Yhat:       vals[3],
			YhatLower:  vals[4],
			YhatUpper:  vals[5],
		},
	}, nil
}

// WriteStatus writes one line per entity with its fit outcome.
func WriteStatus(path string, results []forecast.Result) error {
	return writeCSV(path, StatusHeader, len(results), func(i int) []string {
		r := results[i]
		return []string{r.Code, string(r.Status), r.Reason, strconv.Itoa(r.Observations)}
	})
}

// WriteCleaned writes the canonical table produced by reconciliation.
func WriteCleaned(path string, obs []dataset.Observation) error {
	return writeCSV(path, CleanedHeader, len(obs), func(i int) []string {
		o := obs[i]
		return []string{
			o.Name,
			o.Code,
			strconv.Itoa(o.Year),
			o.DS.Format(time.DateOnly),
			formatFloat(o.Y),
			string(o.Source),
		}
	})
}

func writeCSV(path string, header []string, n int, record func(i int) []string) (err error) {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = eris.Wrapf(cerr, "export: close %s", path)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	for i := range n {
		if err := w.Write(record(i)); err != nil {
			return eris.Wrapf(err, "export: write %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "export: flush %s", path)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "export: create directory %s", dir)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
