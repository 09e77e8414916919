package render

import (
	"image/color"

	"github.com/rotisserie/eris"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"co2trend/internal/report"
)

// TrendChart draws the mean trend per year as a line, solid over history and
// dashed over the forecast, and saves it to path.
func TrendChart(summary []report.YearlySummary, path string) error {
	if len(summary) == 0 {
		return eris.New("render: trend chart needs at least one year")
	}
	if _, err := formatOf(path); err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = "Mean CO2 Emissions Per GDP by Year"
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.X.Label.Text = "Year"
	p.Y.Label.Text = LegendLabel

	var history, future plotter.XYs
	for _, s := range summary {
		pt := plotter.XY{X: float64(s.Year), Y: s.MeanTrend}
		if s.Forecast {
			if len(future) == 0 && len(history) > 0 {
				// Join the two segments.
				future = append(future, history[len(history)-1])
			}
			future = append(future, pt)
		} else {
			history = append(history, pt)
		}
	}

	p.Add(plotter.NewGrid())
	if len(history) > 0 {
		line, err := plotter.NewLine(history)
		if err != nil {
			return eris.Wrap(err, "render: history line")
		}
		line.Color = color.RGBA{R: 0, G: 100, B: 0, A: 255}
		line.Width = vg.Points(2)
		p.Add(line)
		p.Legend.Add("history", line)
	}
	if len(future) > 0 {
		line, err := plotter.NewLine(future)
		if err != nil {
			return eris.Wrap(err, "render: forecast line")
		}
		line.Color = color.RGBA{R: 215, G: 48, B: 31, A: 255}
		line.Width = vg.Points(2)
		line.Dashes = []vg.Length{vg.Points(6), vg.Points(3)}
		p.Add(line)
		p.Legend.Add("forecast", line)
	}
	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.TextStyle.Font.Size = vg.Points(11)
	p.Legend.ThumbnailWidth = vg.Points(24)
	p.Legend.Padding = vg.Points(4)

	if err := ensureDir(path); err != nil {
		return err
	}
	if err := p.Save(16*vg.Inch, 8*vg.Inch, path); err != nil {
		return eris.Wrapf(err, "render: save %s", path)
	}
	return nil
}
