// Package render draws the forecast as a choropleth map and as a line chart
// of the cross-entity mean trend.
package render

import (
	"cmp"
	"context"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"co2trend/internal/config"
	"co2trend/internal/forecast"
	"co2trend/internal/geo"
	"co2trend/internal/logging"
)

// LegendLabel is the caption under the colour bar.
const LegendLabel = "CO2 Emissions Per GDP"

// Options configure the choropleth.
type Options struct {
	TargetYear int
	Width      vg.Length
	Height     vg.Length
}

// OptionsFromConfig converts the render section of the configuration.
func OptionsFromConfig(cfg config.RenderConfig) Options {
	return Options{
		TargetYear: cfg.TargetYear,
		Width:      vg.Length(cfg.WidthIn) * vg.Inch,
		Height:     vg.Length(cfg.HeightIn) * vg.Inch,
	}
}

// Title returns the map title for the target year.
func (o Options) Title() string {
	return fmt.Sprintf("CO2 Emissions by Country in %d", o.TargetYear)
}

// Result describes what was drawn.
type Result struct {
	Rendered  bool // false when no region had a value for the target year
	Regions   int
	Unmatched int // forecast codes without a boundary
	Min, Max  float64
}

// Renderer draws choropleths.
type Renderer struct {
	opts Options
	log  *zap.Logger
}

// New returns a Renderer.
func New(opts Options, log *zap.Logger) *Renderer {
	return &Renderer{opts: opts, log: logging.OrNop(log)}
}

type shaded struct {
	code  string
	geom  orb.MultiPolygon
	value float64
}

// join keeps the trend of every row in the target year whose code has a
// boundary. It returns the matches sorted by code and the number of codes
// without a boundary.
func join(rows []forecast.Row, b *geo.Boundaries, year int) ([]shaded, int) {
	values := map[string]float64{}
	for _, r := range rows {
		if r.DS.Year() != year {
			continue
		}
		code := geo.NormalizeCode(r.Code)
		if _, seen := values[code]; !seen {
			values[code] = r.Trend
		}
	}

	var out []shaded
	unmatched := 0
	for code, v := range values {
		region, ok := b.Lookup(code)
		if !ok {
			unmatched++
			continue
		}
		out = append(out, shaded{code: code, geom: region.Geometry, value: v})
	}
	slices.SortFunc(out, func(a, b shaded) int { return strings.Compare(a.code, b.code) })
	return out, unmatched
}

// Choropleth renders the target year of rows over b and writes the image to
// path. The format follows the file extension. When nothing matches, a blank
// titled panel is written and Result.Rendered is false.
func (r *Renderer) Choropleth(ctx context.Context, rows []forecast.Row, b *geo.Boundaries, path string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	format, err := formatOf(path)
	if err != nil {
		return Result{}, err
	}

	regions, unmatched := join(rows, b, r.opts.TargetYear)
	res := Result{Regions: len(regions), Unmatched: unmatched}
	if unmatched > 0 {
		r.log.Debug("render: forecast codes without boundary", zap.Int("count", unmatched))
	}

	mapPlot := plot.New()
	mapPlot.Title.Text = r.opts.Title()
	mapPlot.Title.TextStyle.Font.Size = vg.Points(16)
	mapPlot.HideAxes()

	var legend *plot.Plot
	if len(regions) > 0 {
		res.Rendered = true
		res.Min, res.Max = valueRange(regions)
		lo, hi := res.Min, res.Max
		if lo == hi {
			pad := math.Max(math.Abs(lo)*0.05, 1e-6)
			lo, hi = lo-pad, hi+pad
		}
		cm, err := NewOrRd(lo, hi)
		if err != nil {
			return res, err
		}

		fill := &regionFill{
			regions: regions,
			cm:      cm,
			edge:    draw.LineStyle{Color: color.Gray{Y: 96}, Width: vg.Points(0.3)},
		}
		mapPlot.Add(fill)
		bound := fitAspect(fill.bound(), r.opts.Width, r.opts.Height-r.legendHeight())
		mapPlot.X.Min, mapPlot.X.Max = bound.Min.X(), bound.Max.X()
		mapPlot.Y.Min, mapPlot.Y.Max = bound.Min.Y(), bound.Max.Y()

		legend = plot.New()
		legend.HideY()
		legend.X.Label.Text = LegendLabel
		legend.X.Padding = 0
		legend.Add(&plotter.ColorBar{ColorMap: cm})
	} else {
		r.log.Warn("render: no forecast values for target year", zap.Int("target_year", r.opts.TargetYear))
	}

	if err := r.save(path, format, mapPlot, legend); err != nil {
		return res, err
	}
	r.log.Info("render: choropleth written",
		zap.String("path", path),
		zap.Int("target_year", r.opts.TargetYear),
		zap.Int("regions", res.Regions),
		zap.Bool("rendered", res.Rendered),
	)
	return res, nil
}

// legendHeight is the strip under the map that holds the colour bar.
func (r *Renderer) legendHeight() vg.Length {
	return max(r.opts.Height*0.15, vg.Inch)
}

func (r *Renderer) save(path, format string, mapPlot, legend *plot.Plot) (err error) {
	c, err := draw.NewFormattedCanvas(r.opts.Width, r.opts.Height, format)
	if err != nil {
		return eris.Wrapf(err, "render: canvas for %s", path)
	}
	dc := draw.New(c)
	legendHeight := r.legendHeight()

	mapPlot.Draw(draw.Crop(dc, 0, 0, legendHeight, 0))
	if legend != nil {
		inset := r.opts.Width * 0.2
		legend.Draw(draw.Crop(dc, inset, -inset, vg.Points(6), -(r.opts.Height - legendHeight)))
	}

	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "render: create %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = eris.Wrapf(cerr, "render: close %s", path)
		}
	}()
	if _, err := c.WriteTo(f); err != nil {
		return eris.Wrapf(err, "render: write %s", path)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "render: create directory %s", dir)
	}
	return nil
}

func formatOf(path string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "png", "jpg", "jpeg", "tif", "tiff", "svg", "pdf", "eps":
		return ext, nil
	default:
		return "", eris.Errorf("render: unsupported image format %q for %s", ext, path)
	}
}

func valueRange(regions []shaded) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range regions {
		lo = math.Min(lo, s.value)
		hi = math.Max(hi, s.value)
	}
	return lo, hi
}

// fitAspect pads b so one degree spans the same length on both axes of a
// w by h area.
func fitAspect(b orb.Bound, w, h vg.Length) orb.Bound {
	dx, dy := b.Max.X()-b.Min.X(), b.Max.Y()-b.Min.Y()
	if dx <= 0 || dy <= 0 || w <= 0 || h <= 0 {
		return b
	}
	want := float64(w / h)
	c := b.Center()
	if dx/dy < want {
		dx = dy * want
	} else {
		dy = dx / want
	}
	return orb.Bound{
		Min: orb.Point{c.X() - dx/2, c.Y() - dy/2},
		Max: orb.Point{c.X() + dx/2, c.Y() + dy/2},
	}
}

// regionFill is a plot.Plotter that fills each region's polygons with the
// colour of its value. Holes are painted back in the background colour.
type regionFill struct {
	regions []shaded
	cm      palette.ColorMap
	edge    draw.LineStyle
}

func (rf *regionFill) bound() orb.Bound {
	b := rf.regions[0].geom.Bound()
	for _, s := range rf.regions[1:] {
		b = b.Union(s.geom.Bound())
	}
	return b
}

// DataRange implements plot.DataRanger.
func (rf *regionFill) DataRange() (xmin, xmax, ymin, ymax float64) {
	b := rf.bound()
	return b.Min.X(), b.Max.X(), b.Min.Y(), b.Max.Y()
}

// piece is one polygon of a shaded region with its resolved colour.
type piece struct {
	poly orb.Polygon
	fill color.Color
}

// pieces flattens the regions into polygons ordered by descending bounding
// box area. A polygon lying in another's hole has a smaller box, so it is
// painted after the hole is blanked.
func (rf *regionFill) pieces() []piece {
	type sized struct {
		piece
		area float64
	}
	var all []sized
	for _, s := range rf.regions {
		fill, err := rf.cm.At(s.value)
		if err != nil {
			continue
		}
		for _, poly := range s.geom {
			b := poly.Bound()
			all = append(all, sized{piece{poly, fill}, (b.Max.X() - b.Min.X()) * (b.Max.Y() - b.Min.Y())})
		}
	}
	slices.SortStableFunc(all, func(a, b sized) int { return cmp.Compare(b.area, a.area) })

	out := make([]piece, len(all))
	for i, s := range all {
		out[i] = s.piece
	}
	return out
}

// Plot implements plot.Plotter.
func (rf *regionFill) Plot(c draw.Canvas, p *plot.Plot) {
	trX, trY := p.Transforms(&c)
	project := func(ring orb.Ring) []vg.Point {
		pts := make([]vg.Point, len(ring))
		for i, pt := range ring {
			pts[i] = vg.Point{X: trX(pt.X()), Y: trY(pt.Y())}
		}
		return pts
	}

	for _, pc := range rf.pieces() {
		for i, ring := range pc.poly {
			pts := project(ring)
			if i == 0 {
				c.FillPolygon(pc.fill, c.ClipPolygonXY(pts))
			} else {
				c.FillPolygon(color.White, c.ClipPolygonXY(pts))
			}
			c.StrokeLines(rf.edge, c.ClipLinesXY(pts)...)
		}
	}
}
