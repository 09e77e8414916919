package forecast

import (
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrInsufficientData is returned when a series has fewer than two points.
	ErrInsufficientData = eris.New("forecast: fewer than two observations")
	// ErrDuplicateTimestamp is returned when a series repeats a timestamp.
	ErrDuplicateTimestamp = eris.New("forecast: duplicate timestamp")
)

// Point is one fitted or forecast timestamp. Yhat equals Trend because the
// model carries no seasonal terms; its bounds also include observation noise.
type Point struct {
	DS         time.Time
	Trend      float64
	TrendLower float64
	TrendUpper float64
	Yhat       float64
	YhatLower  float64
	YhatUpper  float64
}

// Model is a fitted piecewise-linear trend.
//
// Time is scaled so the first observation is 0 and the last is 1, values are
// scaled by their largest magnitude, and the trend is
//
//	g(t) = m + k*t + sum_j delta_j * max(0, t - s_j)
//
// over changepoints s_j placed evenly through the leading part of history.
type Model struct {
	start  time.Time
	tscale float64 // seconds between first and last observation
	yscale float64

	k, m        float64
	changepts   []float64
	deltas      []float64
	sigmaObs    float64 // residual standard deviation in scaled units
	lastHistory float64
}

// Fit estimates a trend for the (ds, y) series. ds need not be sorted.
func Fit(ds []time.Time, y []float64, opts Options) (*Model, error) {
	if len(ds) != len(y) {
		return nil, eris.Errorf("forecast: %d timestamps for %d values", len(ds), len(y))
	}
	n := len(ds)
	if n < 2 {
		return nil, eris.Wrapf(ErrInsufficientData, "got %d", n)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int { return ds[a].Compare(ds[b]) })
	for i := 1; i < n; i++ {
		if ds[order[i]].Equal(ds[order[i-1]]) {
			return nil, eris.Wrapf(ErrDuplicateTimestamp, "%s", ds[order[i]].Format(time.DateOnly))
		}
	}

	md := &Model{
		start:  ds[order[0]],
		tscale: ds[order[n-1]].Sub(ds[order[0]]).Seconds(),
	}

	t := make([]float64, n)
	yy := make([]float64, n)
	for i, idx := range order {
		t[i] = md.scaleTime(ds[idx])
		yy[i] = y[idx]
	}
	md.yscale = floats.Max(absAll(yy))
	if md.yscale == 0 {
		md.yscale = 1
	}
	floats.Scale(1/md.yscale, yy)
	md.lastHistory = t[n-1]

	md.changepts = changepoints(t, opts.Changepoints, opts.ChangepointRange)

	if err := md.solve(t, yy, opts.ChangepointPriorScale); err != nil {
		return nil, err
	}
	return md, nil
}

// changepoints spreads up to want changepoints over the first frac of the
// history, never on the first observation.
func changepoints(t []float64, want int, frac float64) []float64 {
	histSize := int(math.Floor(float64(len(t)) * frac))
	nc := min(want, histSize-1)
	if nc <= 0 {
		return nil
	}
	cps := make([]float64, 0, nc)
	step := float64(histSize-1) / float64(nc)
	for i := 1; i <= nc; i++ {
		idx := int(math.RoundToEven(step * float64(i)))
		cps = append(cps, t[idx])
	}
	return cps
}

// solve fits k, m and the changepoint deltas by ridge regression. The delta
// penalty is the ratio of the residual variance of a straight-line fit to the
// prior variance of a rate change.
func (md *Model) solve(t, y []float64, priorScale float64) error {
	n, p := len(t), 2+len(md.changepts)

	x := mat.NewDense(n, p, nil)
	for i, ti := range t {
		x.Set(i, 0, 1)
		x.Set(i, 1, ti)
		for j, s := range md.changepts {
			x.Set(i, 2+j, hinge(ti, s))
		}
	}

	alpha, beta := stat.LinearRegression(t, y, nil, false)
	variance := 0.0
	for i, ti := range t {
		r := y[i] - (alpha + beta*ti)
		variance += r * r
	}
	if n > 2 {
		variance /= float64(n - 2)
	}

	var a mat.SymDense
	a.SymOuterK(1, x.T())
	a.SetSym(0, 0, a.At(0, 0)+max(variance/25, 1e-10))
	a.SetSym(1, 1, a.At(1, 1)+max(variance/25, 1e-10))
	lambda := max(variance/(priorScale*priorScale), 1e-8)
	for j := 2; j < p; j++ {
		a.SetSym(j, j, a.At(j, j)+lambda)
	}

	var b mat.VecDense
	b.MulVec(x.T(), mat.NewVecDense(n, y))

	var chol mat.Cholesky
	if ok := chol.Factorize(&a); !ok {
		return eris.New("forecast: normal equations are not positive definite")
	}
	var coef mat.VecDense
	if err := chol.SolveVecTo(&coef, &b); err != nil {
		var cond mat.Condition
		if !eris.As(err, &cond) {
			return eris.Wrap(err, "forecast: solve normal equations")
		}
	}

	md.m = coef.AtVec(0)
	md.k = coef.AtVec(1)
	md.deltas = make([]float64, len(md.changepts))
	for j := range md.deltas {
		md.deltas[j] = coef.AtVec(2 + j)
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &coef)
	sse := 0.0
	for i := range y {
		r := y[i] - fitted.AtVec(i)
		sse += r * r
	}
	md.sigmaObs = math.Sqrt(sse / float64(n))
	return nil
}

func hinge(t, s float64) float64 {
	if t < s {
		return 0
	}
	return t - s
}

func absAll(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Abs(x)
	}
	return out
}

func (md *Model) scaleTime(ds time.Time) float64 {
	if md.tscale == 0 {
		return 0
	}
	return ds.Sub(md.start).Seconds() / md.tscale
}

// trendAt evaluates the fitted trend in scaled units.
func (md *Model) trendAt(t float64) float64 {
	g := md.m + md.k*t
	for j, s := range md.changepts {
		g += md.deltas[j] * hinge(t, s)
	}
	return g
}

// Predict evaluates the trend at each timestamp and, when samples > 0,
// simulates future rate changes to derive intervals of the given width.
func (md *Model) Predict(ds []time.Time, samples int, width float64, src rand.Source) []Point {
	points := make([]Point, len(ds))
	ts := make([]float64, len(ds))
	tmax := md.lastHistory
	for i, d := range ds {
		ts[i] = md.scaleTime(d)
		tmax = max(tmax, ts[i])
		trend := md.trendAt(ts[i]) * md.yscale
		points[i] = Point{
			DS: d, Trend: trend, TrendLower: trend, TrendUpper: trend,
			Yhat: trend, YhatLower: trend, YhatUpper: trend,
		}
	}
	if samples <= 0 || len(ds) == 0 {
		return points
	}

	trendDraws := make([][]float64, len(ds))
	yhatDraws := make([][]float64, len(ds))
	for i := range ds {
		trendDraws[i] = make([]float64, samples)
		yhatDraws[i] = make([]float64, samples)
	}

	noise := distuv.Normal{Mu: 0, Sigma: md.sigmaObs, Src: src}
	for s := range samples {
		cps, deltas := md.sampleFutureChanges(tmax, src)
		for i, t := range ts {
			g := md.trendAt(t)
			for j, c := range cps {
				g += deltas[j] * hinge(t, c)
			}
			trendDraws[i][s] = g * md.yscale
			yhatDraws[i][s] = (g + noise.Rand()) * md.yscale
		}
	}

	lo, hi := (1-width)/2, (1+width)/2
	for i := range points {
		slices.Sort(trendDraws[i])
		slices.Sort(yhatDraws[i])
		points[i].TrendLower = stat.Quantile(lo, stat.LinInterp, trendDraws[i], nil)
		points[i].TrendUpper = stat.Quantile(hi, stat.LinInterp, trendDraws[i], nil)
		points[i].YhatLower = stat.Quantile(lo, stat.LinInterp, yhatDraws[i], nil)
		points[i].YhatUpper = stat.Quantile(hi, stat.LinInterp, yhatDraws[i], nil)
	}
	return points
}

// sampleFutureChanges draws new changepoints beyond the history at the
// historical rate, with Laplace magnitudes scaled to the fitted deltas.
func (md *Model) sampleFutureChanges(tmax float64, src rand.Source) (cps, deltas []float64) {
	horizon := tmax - md.lastHistory
	rate := float64(max(len(md.changepts), 1)) * horizon
	if horizon <= 0 || rate <= 0 {
		return nil, nil
	}

	count := int(distuv.Poisson{Lambda: rate, Src: src}.Rand())
	if count == 0 {
		return nil, nil
	}

	scale := 1e-8
	if len(md.deltas) > 0 {
		scale += stat.Mean(absAll(md.deltas), nil)
	}
	where := distuv.Uniform{Min: md.lastHistory, Max: tmax, Src: src}
	size := distuv.Laplace{Mu: 0, Scale: scale, Src: src}

	cps = make([]float64, count)
	deltas = make([]float64, count)
	for i := range count {
		cps[i] = where.Rand()
		deltas[i] = size.Rand()
	}
	return cps, deltas
}

// FutureDates returns periods year-start timestamps following last.
func FutureDates(last time.Time, periods int) []time.Time {
	out := make([]time.Time, periods)
	for i := range periods {
		out[i] = time.Date(last.Year()+i+1, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return out
}
