// Package forecast fits an independent trend model per entity and extends it
// over a fixed horizon of year-start periods.
package forecast

import (
	"cmp"
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"runtime"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"co2trend/internal/config"
	"co2trend/internal/dataset"
	"co2trend/internal/logging"
)

// ErrNoForecasts is returned by Run when every entity fails to fit.
var ErrNoForecasts = eris.New("forecast: every entity failed to fit")

// Options are the model and scheduling settings.
type Options struct {
	Horizon               int
	Workers               int
	Changepoints          int
	ChangepointRange      float64
	ChangepointPriorScale float64
	IntervalWidth         float64
	UncertaintySamples    int
	Seed                  uint64
}

// OptionsFromConfig copies the forecast section of the configuration.
func OptionsFromConfig(cfg config.ForecastConfig) Options {
	return Options{
		Horizon:               cfg.Horizon,
		Workers:               cfg.Workers,
		Changepoints:          cfg.Changepoints,
		ChangepointRange:      cfg.ChangepointRange,
		ChangepointPriorScale: cfg.ChangepointPriorScale,
		IntervalWidth:         cfg.IntervalWidth,
		UncertaintySamples:    cfg.UncertaintySamples,
		Seed:                  cfg.Seed,
	}
}

// Status is the outcome of one entity's fit.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Series is the forecast of one entity. History counts the leading points
// that fall on observed timestamps.
type Series struct {
	Code    string
	History int
	Points  []Point
}

// Result is the fit outcome of one entity. Series is nil on failure.
type Result struct {
	Code         string
	Status       Status
	Reason       string
	Observations int
	Series       *Series
}

// OK reports whether the fit succeeded.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// Observer is notified after every entity fit.
type Observer interface {
	ObserveFit(status Status, elapsed time.Duration)
}

// Forecaster runs one fit per entity across a bounded worker pool.
type Forecaster struct {
	opts     Options
	log      *zap.Logger
	observer Observer
}

// New returns a Forecaster. observer may be nil.
func New(opts Options, log *zap.Logger, observer Observer) *Forecaster {
	return &Forecaster{opts: opts, log: logging.OrNop(log), observer: observer}
}

type entity struct {
	code string
	ds   []time.Time
	y    []float64
}

// groupByCode splits the canonical table into per-entity series in order of
// first appearance.
func groupByCode(obs []dataset.Observation) []*entity {
	index := map[string]*entity{}
	var out []*entity
	for _, o := range obs {
		e, ok := index[o.Code]
		if !ok {
			e = &entity{code: o.Code}
			index[o.Code] = e
			out = append(out, e)
		}
		e.ds = append(e.ds, o.DS)
		e.y = append(e.y, o.Y)
	}
	return out
}

// Run fits every entity in obs. Results are sorted by entity code and include
// failures. The returned error is non-nil only on cancellation or when no
// entity could be fitted.
func (f *Forecaster) Run(ctx context.Context, obs []dataset.Observation) ([]Result, error) {
	entities := groupByCode(obs)
	results := make([]Result, len(entities))

	workers := f.opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, e := range entities {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = f.fitEntity(e)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "forecast: run")
	}

	slices.SortFunc(results, func(a, b Result) int { return cmp.Compare(a.Code, b.Code) })

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	f.log.Info("forecast: fits complete",
		zap.Int("entities", len(results)),
		zap.Int("succeeded", len(results)-failed),
		zap.Int("failed", failed),
	)
	if failed == len(results) {
		return results, ErrNoForecasts
	}
	return results, nil
}

// fitEntity never returns an error: any failure, including a panic inside
// the numeric code, becomes a failure Result.
func (f *Forecaster) fitEntity(e *entity) (res Result) {
	start := time.Now()
	res = Result{Code: e.code, Observations: len(e.ds)}

	defer func() {
		if p := recover(); p != nil {
			res.Status, res.Reason, res.Series = StatusFailure, fmt.Sprintf("panic: %v", p), nil
		}
		if !res.OK() {
			f.log.Warn("forecast: fit failed",
				zap.String("entity_code", e.code),
				zap.Int("observations", res.Observations),
				zap.String("reason", res.Reason),
			)
		}
		if f.observer != nil {
			f.observer.ObserveFit(res.Status, time.Since(start))
		}
	}()

	series, err := Forecast(e.code, e.ds, e.y, f.opts)
	if err != nil {
		res.Status, res.Reason = StatusFailure, err.Error()
		return res
	}
	res.Status, res.Series = StatusSuccess, series
	f.log.Debug("forecast: fitted",
		zap.String("entity_code", e.code),
		zap.Int("points", len(series.Points)),
	)
	return res
}

// Forecast fits one entity's series and predicts over its history plus
// opts.Horizon future year starts.
func Forecast(code string, ds []time.Time, y []float64, opts Options) (*Series, error) {
	md, err := Fit(ds, y, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "forecast: fit %s", code)
	}

	history := slices.Clone(ds)
	slices.SortFunc(history, time.Time.Compare)
	future := FutureDates(history[len(history)-1], opts.Horizon)
	all := append(history, future...)

	src := rand.NewPCG(opts.Seed, entitySeed(code))
	points := md.Predict(all, opts.UncertaintySamples, opts.IntervalWidth, src)
	return &Series{Code: code, History: len(history), Points: points}, nil
}

// entitySeed derives a per-entity stream so results do not depend on which
// worker fits which entity.
func entitySeed(code string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(code))
	return h.Sum64()
}

// Row is one point of one entity's forecast in the flat exported table.
type Row struct {
	Code string
	Point
}

// Rows flattens the successful results into the forecast table, keeping the
// order of results and of points within each series.
func Rows(results []Result) []Row {
	n := 0
	for _, r := range results {
		if r.Series != nil {
			n += len(r.Series.Points)
		}
	}
	rows := make([]Row, 0, n)
	for _, r := range results {
		if r.Series == nil {
			continue
		}
		for _, p := range r.Series.Points {
			rows = append(rows, Row{Code: r.Code, Point: p})
		}
	}
	return rows
}
