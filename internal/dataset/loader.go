package dataset

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"co2trend/internal/config"
)

var (
	// ErrMissingColumn is returned when a required header label is absent.
	ErrMissingColumn = eris.New("dataset: missing required column")
	// ErrUnsupportedFormat is returned for paths that are neither xlsx nor csv.
	ErrUnsupportedFormat = eris.New("dataset: unsupported file format")
)

type format int

const (
	formatCSV format = iota
	formatXLSX
)

func formatOf(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return formatXLSX, nil
	case ".csv", ".txt":
		return formatCSV, nil
	}
	return 0, eris.Wrapf(ErrUnsupportedFormat, "%s", path)
}

// Load reads a tabular source and projects it onto the shared schema.
func Load(ctx context.Context, src config.TableSource, source Source) (*Table, error) {
	rows, err := readRows(src)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.Wrapf(ErrMissingColumn, "%s: empty file", src.Path)
	}

	idx, err := columnIndex(src, rows[0])
	if err != nil {
		return nil, err
	}

	table := &Table{Source: source, Path: src.Path, Records: make([]Record, 0, len(rows)-1)}
	for i, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		year, ok := parseYear(cell(row, idx.year))
		if !ok {
			table.InvalidYears++
			continue
		}
		value, hasValue := parseValue(cell(row, idx.value))
		table.Records = append(table.Records, Record{
			Name:     strings.TrimSpace(cell(row, idx.name)),
			Code:     strings.TrimSpace(cell(row, idx.code)),
			Year:     year,
			Value:    value,
			HasValue: hasValue,
			Source:   source,
			Line:     i + 2,
		})
	}
	return table, nil
}

// Probe checks that the source is readable and carries every required column
// without loading its rows.
func Probe(src config.TableSource) error {
	header, err := readHeader(src)
	if err != nil {
		return err
	}
	_, err = columnIndex(src, header)
	return err
}

type columns struct {
	name, code, year, value int
}

func columnIndex(src config.TableSource, header []string) (columns, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}

	lookup := func(label string) (int, error) {
		i, ok := pos[label]
		if !ok {
			return 0, eris.Wrapf(ErrMissingColumn, "%s: column %q", src.Path, label)
		}
		return i, nil
	}

	var c columns
	var err error
	if c.name, err = lookup(src.Cols.Name); err != nil {
		return c, err
	}
	if c.code, err = lookup(src.Cols.Code); err != nil {
		return c, err
	}
	if c.year, err = lookup(src.Cols.Year); err != nil {
		return c, err
	}
	if c.value, err = lookup(src.Cols.Value); err != nil {
		return c, err
	}
	return c, nil
}

func readRows(src config.TableSource) ([][]string, error) {
	f, err := formatOf(src.Path)
	if err != nil {
		return nil, err
	}
	if f == formatXLSX {
		return readWorkbook(src)
	}

	file, err := os.Open(src.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open %s", src.Path)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read csv %s", src.Path)
	}
	return records, nil
}

func readWorkbook(src config.TableSource) ([][]string, error) {
	wb, err := excelize.OpenFile(src.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open workbook %s", src.Path)
	}
	defer wb.Close()

	sheet, err := sheetName(wb, src)
	if err != nil {
		return nil, err
	}
	rows, err := wb.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read sheet %q of %s", sheet, src.Path)
	}
	return rows, nil
}

func readHeader(src config.TableSource) ([]string, error) {
	f, err := formatOf(src.Path)
	if err != nil {
		return nil, err
	}

	if f == formatXLSX {
		wb, err := excelize.OpenFile(src.Path)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: open workbook %s", src.Path)
		}
		defer wb.Close()

		sheet, err := sheetName(wb, src)
		if err != nil {
			return nil, err
		}
		rows, err := wb.Rows(sheet)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: read sheet %q of %s", sheet, src.Path)
		}
		defer rows.Close()
		if !rows.Next() {
			return nil, eris.Wrapf(ErrMissingColumn, "%s: empty sheet %q", src.Path, sheet)
		}
		header, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: read header of %s", src.Path)
		}
		return header, nil
	}

	file, err := os.Open(src.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open %s", src.Path)
	}
	defer file.Close()

	header, err := csv.NewReader(file).Read()
	if err == io.EOF {
		return nil, eris.Wrapf(ErrMissingColumn, "%s: empty file", src.Path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read header of %s", src.Path)
	}
	return header, nil
}

func sheetName(wb *excelize.File, src config.TableSource) (string, error) {
	sheets := wb.GetSheetList()
	if src.Sheet == "" {
		if len(sheets) == 0 {
			return "", eris.Errorf("dataset: %s has no sheets", src.Path)
		}
		return sheets[0], nil
	}
	for _, s := range sheets {
		if s == src.Sheet {
			return s, nil
		}
	}
	return "", eris.Errorf("dataset: %s has no sheet %q", src.Path, src.Sheet)
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseYear(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if y, err := strconv.Atoi(s); err == nil {
		return y, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	// float64(math.MaxInt) rounds up to 2^63, which int cannot hold.
	if f < math.MinInt || f >= math.MaxInt {
		return 0, false
	}
	return int(f), true
}

func parseValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
