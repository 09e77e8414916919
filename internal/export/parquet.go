package export

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"co2trend/internal/forecast"
)

// parquetRow mirrors ForecastHeader. ds is stored as a DATE (days since the
// Unix epoch).
type parquetRow struct {
	EntityCode string  `parquet:"name=entity_code, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	DS         int32   `parquet:"name=ds, type=INT32, convertedtype=DATE"`
	Trend      float64 `parquet:"name=trend, type=DOUBLE"`
	TrendLower float64 `parquet:"name=trend_lower, type=DOUBLE"`
	TrendUpper float64 `parquet:"name=trend_upper, type=DOUBLE"`
	Yhat       float64 `parquet:"name=yhat, type=DOUBLE"`
	YhatLower  float64 `parquet:"name=yhat_lower, type=DOUBLE"`
	YhatUpper  float64 `parquet:"name=yhat_upper, type=DOUBLE"`
}

const day = 24 * time.Hour

// WriteParquet writes rows to path as a snappy-compressed parquet file.
func WriteParquet(path string, rows []forecast.Row) (err error) {
	if err := ensureDir(path); err != nil {
		return err
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer func() {
		if cerr := fw.Close(); err == nil && cerr != nil {
			err = eris.Wrapf(cerr, "export: close %s", path)
		}
	}()

	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 4)
	if err != nil {
		return eris.Wrap(err, "export: parquet writer")
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range rows {
		rec := parquetRow{
			EntityCode: r.Code,
			DS:         int32(r.DS.Unix() / int64(day/time.Second)),
			Trend:      r.Trend,
			TrendLower: r.TrendLower,
			TrendUpper: r.TrendUpper,
			Yhat:       r.Yhat,
			YhatLower:  r.YhatLower,
			YhatUpper:  r.YhatUpper,
		}
		if err := pw.Write(rec); err != nil {
			_ = pw.WriteStop()
			return eris.Wrapf(err, "export: write %s", path)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return eris.Wrapf(err, "export: finish %s", path)
	}
	return nil
}

// ReadParquet reads a file written by WriteParquet.
func ReadParquet(path string) ([]forecast.Row, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: open %s", path)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(parquetRow), 4)
	if err != nil {
		return nil, eris.Wrapf(err, "export: parquet reader %s", path)
	}
	defer pr.ReadStop()

	recs := make([]parquetRow, pr.GetNumRows())
	if err := pr.Read(&recs); err != nil {
		return nil, eris.Wrapf(err, "export: read %s", path)
	}

	rows := make([]forecast.Row, len(recs))
	for i, rec := range recs {
		rows[i] = forecast.Row{
			Code: rec.EntityCode,
			Point: forecast.Point{
				DS:         time.Unix(int64(rec.DS)*int64(day/time.Second), 0).UTC(),
				Trend:      rec.Trend,
				TrendLower: rec.TrendLower,
				TrendUpper: rec.TrendUpper,
				Yhat:       rec.Yhat,
				YhatLower:  rec.YhatLower,
				YhatUpper:  rec.YhatUpper,
			},
		}
	}
	return rows, nil
}
