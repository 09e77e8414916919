// Package pipeline runs the reconcile, forecast and render stages in order
// and writes every configured output.
package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"co2trend/internal/config"
	"co2trend/internal/dataset"
	"co2trend/internal/export"
	"co2trend/internal/forecast"
	"co2trend/internal/geo"
	"co2trend/internal/logging"
	"co2trend/internal/metrics"
	"co2trend/internal/reconcile"
	"co2trend/internal/render"
	"co2trend/internal/report"
)

// Stage names used in logs and metrics.
const (
	StageReconcile = "reconcile"
	StageForecast  = "forecast"
	StageExport    = "export"
	StageRender    = "render"
)

// Summary describes a completed run.
type Summary struct {
	RunID    string
	Audit    reconcile.Audit
	LastYear int // last historical year in the canonical table
	Entities int
	Failed   int
	Rows     int // forecast rows written
	Map      render.Result
}

// Pipeline runs one invocation. It is not reusable across runs.
type Pipeline struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
	runID   string
}

// New returns a Pipeline with a fresh run id and metrics registry.
func New(cfg *config.Config, log *zap.Logger) *Pipeline {
	id := uuid.NewString()
	m := metrics.New()
	m.SetRunID(id)
	return &Pipeline{
		cfg:     cfg,
		log:     logging.OrNop(log).With(zap.String("run_id", id)),
		metrics: m,
		runID:   id,
	}
}

// RunID returns the id stamped on logs, metrics and the workbook.
func (p *Pipeline) RunID() string { return p.runID }

// Metrics returns the run's collectors.
func (p *Pipeline) Metrics() *metrics.Metrics { return p.metrics }

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	p.log.Info("pipeline: stage started", zap.String("stage", name))
	err := fn()
	elapsed := time.Since(start)
	p.metrics.ObserveStage(name, elapsed)
	if err != nil {
		p.log.Error("pipeline: stage failed", zap.String("stage", name), zap.Duration("elapsed", elapsed), zap.Error(err))
		return err
	}
	p.log.Info("pipeline: stage finished", zap.String("stage", name), zap.Duration("elapsed", elapsed))
	return nil
}

// Reconcile validates the two tabular inputs, merges them and writes the
// cleaned table when output.cleaned is set.
func (p *Pipeline) Reconcile(ctx context.Context) (*reconcile.Result, error) {
	if err := config.CheckInput("primary dataset", p.cfg.Sources.Primary.Path); err != nil {
		return nil, err
	}
	if err := config.CheckInput("supplementary dataset", p.cfg.Sources.Supplementary.Path); err != nil {
		return nil, err
	}
	if err := p.cfg.ValidateSettings(); err != nil {
		return nil, err
	}
	if err := p.probe(); err != nil {
		return nil, err
	}
	return p.reconcile(ctx)
}

func (p *Pipeline) probe() error {
	if err := dataset.Probe(p.cfg.Sources.Primary); err != nil {
		return eris.Wrap(err, "pipeline: probe primary dataset")
	}
	if err := dataset.Probe(p.cfg.Sources.Supplementary); err != nil {
		return eris.Wrap(err, "pipeline: probe supplementary dataset")
	}
	return nil
}

func (p *Pipeline) reconcile(ctx context.Context) (*reconcile.Result, error) {
	var res *reconcile.Result
	err := p.stage(StageReconcile, func() error {
		var primary, supplementary *dataset.Table
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			t, err := dataset.Load(gctx, p.cfg.Sources.Primary, dataset.SourcePrimary)
			if err != nil {
				return eris.Wrap(err, "pipeline: load primary dataset")
			}
			primary = t
			return nil
		})
		g.Go(func() error {
			t, err := dataset.Load(gctx, p.cfg.Sources.Supplementary, dataset.SourceSupplementary)
			if err != nil {
				return eris.Wrap(err, "pipeline: load supplementary dataset")
			}
			supplementary = t
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}

		r, err := reconcile.New(p.cfg.Reconcile, p.log).Reconcile(primary, supplementary)
		if err != nil {
			return eris.Wrap(err, "pipeline: reconcile")
		}
		p.metrics.ObserveAudit(r.Audit)
		res = r

		if path := p.cfg.Output.Cleaned; path != "" {
			if err := export.WriteCleaned(path, r.Observations); err != nil {
				return err
			}
			p.log.Info("pipeline: cleaned table written", zap.String("path", path), zap.Int("rows", len(r.Observations)))
		}
		return nil
	})
	return res, err
}

// Run executes the whole pipeline. The status file is written even when
// every entity fails to fit.
func (p *Pipeline) Run(ctx context.Context) (sum *Summary, err error) {
	defer func() {
		if path := p.cfg.Output.Metrics; path != "" {
			if werr := p.metrics.WriteTextfile(path); werr != nil {
				if err == nil {
					err = werr
				} else {
					p.log.Warn("pipeline: metrics not written", zap.Error(werr))
				}
			}
		}
	}()

	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := p.probe(); err != nil {
		return nil, err
	}

	rec, err := p.reconcile(ctx)
	if err != nil {
		return nil, err
	}
	sum = &Summary{RunID: p.runID, Audit: rec.Audit, LastYear: rec.LastYear()}
	if err := p.cfg.ValidateTargetYear(sum.LastYear); err != nil {
		return sum, err
	}

	var results []forecast.Result
	err = p.stage(StageForecast, func() error {
		f := forecast.New(forecast.OptionsFromConfig(p.cfg.Forecast), p.log, p.metrics)
		var ferr error
		results, ferr = f.Run(ctx, rec.Observations)
		if ferr != nil && !eris.Is(ferr, forecast.ErrNoForecasts) {
			return ferr
		}
		if results != nil {
			if err := export.WriteStatus(p.cfg.Output.Status, results); err != nil {
				return err
			}
		}
		return ferr
	})
	for _, r := range results {
		sum.Entities++
		if !r.OK() {
			sum.Failed++
		}
	}
	if err != nil {
		return sum, err
	}

	rows := forecast.Rows(results)
	sum.Rows = len(rows)
	if err := p.stage(StageExport, func() error { return p.export(rec, results, rows, sum.LastYear) }); err != nil {
		return sum, err
	}

	err = p.stage(StageRender, func() error {
		b, err := geo.Load(ctx, p.cfg.Sources.Boundaries, p.log)
		if err != nil {
			return err
		}
		sum.Map, err = render.New(render.OptionsFromConfig(p.cfg.Render), p.log).Choropleth(ctx, rows, b, p.cfg.Output.Map)
		return err
	})
	if err != nil {
		return sum, err
	}

	p.log.Info("pipeline: run complete",
		zap.Int("entities", sum.Entities),
		zap.Int("failed", sum.Failed),
		zap.Int("rows", sum.Rows),
		zap.Bool("map_rendered", sum.Map.Rendered),
	)
	return sum, nil
}

func (p *Pipeline) export(rec *reconcile.Result, results []forecast.Result, rows []forecast.Row, lastYear int) error {
	out := p.cfg.Output
	if err := export.WriteForecasts(out.Forecasts, rows); err != nil {
		return err
	}
	p.log.Info("pipeline: forecasts written", zap.String("path", out.Forecasts), zap.Int("rows", len(rows)))

	if out.Parquet != "" {
		if err := export.WriteParquet(out.Parquet, rows); err != nil {
			return err
		}
		p.log.Info("pipeline: parquet written", zap.String("path", out.Parquet))
	}

	if out.Workbook == "" && out.TrendChart == "" && out.Report == "" {
		return nil
	}
	summary := report.Summarize(rows, lastYear)
	profiles := report.Profiles(results)

	if out.Workbook != "" {
		audit := rec.Audit
		err := export.WriteWorkbook(out.Workbook, export.WorkbookData{
			RunID:    p.runID,
			Rows:     rows,
			Results:  results,
			Summary:  summary,
			Profiles: profiles,
			Decades:  report.Decades(summary),
			Audit:    &audit,
		})
		if err != nil {
			return err
		}
		p.log.Info("pipeline: workbook written", zap.String("path", out.Workbook))
	}

	if out.TrendChart != "" {
		if err := render.TrendChart(summary, out.TrendChart); err != nil {
			return err
		}
		p.log.Info("pipeline: trend chart written", zap.String("path", out.TrendChart))
	}

	if out.Report != "" {
		err := report.WriteMarkdown(out.Report, report.Document{
			RunID:      p.runID,
			Generated:  time.Now(),
			TargetYear: p.cfg.Render.TargetYear,
			Kept:       rec.Audit.Kept,
			Dropped:    rec.Audit.DroppedTotal(),
			Summary:    summary,
			Profiles:   profiles,
			Results:    results,
		})
		if err != nil {
			return err
		}
		p.log.Info("pipeline: report written", zap.String("path", out.Report))
	}
	return nil
}

// RenderFromFile draws the choropleth from a previously exported forecast
// file, CSV or parquet by extension, without refitting.
func RenderFromFile(ctx context.Context, cfg *config.Config, log *zap.Logger, forecastsPath string) (render.Result, error) {
	log = logging.OrNop(log)
	if err := config.CheckInput("forecast file", forecastsPath); err != nil {
		return render.Result{}, err
	}
	if err := config.CheckInput("boundary dataset", cfg.Sources.Boundaries.Path); err != nil {
		return render.Result{}, err
	}

	var rows []forecast.Row
	var err error
	if strings.EqualFold(filepath.Ext(forecastsPath), ".parquet") {
		rows, err = export.ReadParquet(forecastsPath)
	} else {
		rows, err = export.ReadForecasts(forecastsPath)
	}
	if err != nil {
		return render.Result{}, err
	}
	log.Info("pipeline: forecasts loaded", zap.String("path", forecastsPath), zap.Int("rows", len(rows)))

	b, err := geo.Load(ctx, cfg.Sources.Boundaries, log)
	if err != nil {
		return render.Result{}, err
	}
	return render.New(render.OptionsFromConfig(cfg.Render), log).Choropleth(ctx, rows, b, cfg.Output.Map)
}
