// Package config holds the runtime configuration of a co2trend run.
//
// Configuration is read from a YAML file (missing file means defaults), then
// overridden from CO2TREND_* environment variables, then from CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate for any rejected setting.
var ErrInvalidConfig = eris.New("config: invalid configuration")

// Config holds all co2trend configuration.
type Config struct {
	Sources   SourcesConfig   `yaml:"sources"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Forecast  ForecastConfig  `yaml:"forecast"`
	Render    RenderConfig    `yaml:"render"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SourcesConfig locates the input datasets.
type SourcesConfig struct {
	Primary       TableSource    `yaml:"primary"`
	Supplementary TableSource    `yaml:"supplementary"`
	Boundaries    BoundarySource `yaml:"boundaries"`
}

// TableSource describes a tabular input and the labels of the columns we read.
type TableSource struct {
	Path  string  `yaml:"path"`
	Sheet string  `yaml:"sheet,omitempty"` // xlsx only; empty = first sheet
	Cols  Columns `yaml:"columns"`
}

// Columns maps the canonical fields onto source column labels.
type Columns struct {
	Name  string `yaml:"name"`
	Code  string `yaml:"code"`
	Year  string `yaml:"year"`
	Value string `yaml:"value"`
}

// BoundarySource locates the GeoJSON boundary file.
type BoundarySource struct {
	Path         string `yaml:"path"`
	CodeProperty string `yaml:"code_property"`
}

// ReconcileConfig configures dataset reconciliation.
type ReconcileConfig struct {
	CutoverYear int     `yaml:"cutover_year"`
	OutlierK    float64 `yaml:"outlier_k"`
}

// ForecastConfig configures the per-entity trend model.
type ForecastConfig struct {
	Horizon               int     `yaml:"horizon"`
	Workers               int     `yaml:"workers"` // 0 = runtime.NumCPU()
	Changepoints          int     `yaml:"changepoints"`
	ChangepointRange      float64 `yaml:"changepoint_range"`
	ChangepointPriorScale float64 `yaml:"changepoint_prior_scale"`
	IntervalWidth         float64 `yaml:"interval_width"`
	UncertaintySamples    int     `yaml:"uncertainty_samples"`
	Seed                  uint64  `yaml:"seed"`
}

// RenderConfig configures the choropleth.
type RenderConfig struct {
	TargetYear int     `yaml:"target_year"`
	WidthIn    float64 `yaml:"width_in"`
	HeightIn   float64 `yaml:"height_in"`
}

// OutputConfig lists output files. Empty optional paths disable that output.
type OutputConfig struct {
	Forecasts  string `yaml:"forecasts"`
	Status     string `yaml:"status"`
	Map        string `yaml:"map"`
	Cleaned    string `yaml:"cleaned,omitempty"`
	Parquet    string `yaml:"parquet,omitempty"`
	Workbook   string `yaml:"workbook,omitempty"`
	TrendChart string `yaml:"trend_chart,omitempty"`
	Report     string `yaml:"report,omitempty"` // Markdown run report
	Metrics    string `yaml:"metrics,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// Load reads configuration from a YAML file on top of DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults
		case err != nil:
			return nil, eris.Wrapf(err, "config: read %s", path)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, eris.Wrapf(err, "config: parse %s", path)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "config: create config directory")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "config: marshal")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "config: write %s", path)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"CO2TREND_PRIMARY_PATH":       &c.Sources.Primary.Path,
		"CO2TREND_SUPPLEMENTARY_PATH": &c.Sources.Supplementary.Path,
		"CO2TREND_BOUNDARIES_PATH":    &c.Sources.Boundaries.Path,
		"CO2TREND_OUTPUT_FORECASTS":   &c.Output.Forecasts,
		"CO2TREND_OUTPUT_MAP":         &c.Output.Map,
		"CO2TREND_LOG_LEVEL":          &c.Logging.Level,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CO2TREND_CUTOVER_YEAR": &c.Reconcile.CutoverYear,
		"CO2TREND_HORIZON":      &c.Forecast.Horizon,
		"CO2TREND_WORKERS":      &c.Forecast.Workers,
		"CO2TREND_TARGET_YEAR":  &c.Render.TargetYear,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return eris.Wrapf(ErrInvalidConfig, "%s=%q is not an integer", key, v)
		}
		*dst = n
	}

	if v := os.Getenv("CO2TREND_OUTLIER_K"); v != "" {
		k, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return eris.Wrapf(ErrInvalidConfig, "CO2TREND_OUTLIER_K=%q is not a number", v)
		}
		c.Reconcile.OutlierK = k
	}
	return nil
}

// Validate checks settings that can be verified before any data is read.
func (c *Config) Validate() error {
	inputs := []struct{ name, path string }{
		{"primary dataset", c.Sources.Primary.Path},
		{"supplementary dataset", c.Sources.Supplementary.Path},
		{"boundary dataset", c.Sources.Boundaries.Path},
	}
	for _, in := range inputs {
		if err := CheckInput(in.name, in.path); err != nil {
			return err
		}
	}
	return c.ValidateSettings()
}

// ValidateSettings checks numeric settings and output paths only.
func (c *Config) ValidateSettings() error {
	if c.Reconcile.CutoverYear <= 0 {
		return eris.Wrapf(ErrInvalidConfig, "cutover_year must be positive, got %d", c.Reconcile.CutoverYear)
	}
	if c.Reconcile.OutlierK <= 0 {
		return eris.Wrapf(ErrInvalidConfig, "outlier_k must be positive, got %g", c.Reconcile.OutlierK)
	}
	if c.Forecast.Horizon <= 0 {
		return eris.Wrapf(ErrInvalidConfig, "horizon must be positive, got %d", c.Forecast.Horizon)
	}
	if c.Forecast.Workers < 0 {
		return eris.Wrapf(ErrInvalidConfig, "workers must not be negative, got %d", c.Forecast.Workers)
	}
	if c.Forecast.IntervalWidth <= 0 || c.Forecast.IntervalWidth >= 1 {
		return eris.Wrapf(ErrInvalidConfig, "interval_width must be in (0,1), got %g", c.Forecast.IntervalWidth)
	}
	if c.Forecast.ChangepointRange <= 0 || c.Forecast.ChangepointRange > 1 {
		return eris.Wrapf(ErrInvalidConfig, "changepoint_range must be in (0,1], got %g", c.Forecast.ChangepointRange)
	}
	if c.Forecast.ChangepointPriorScale <= 0 {
		return eris.Wrapf(ErrInvalidConfig, "changepoint_prior_scale must be positive, got %g", c.Forecast.ChangepointPriorScale)
	}
	if c.Forecast.Changepoints < 0 || c.Forecast.UncertaintySamples < 0 {
		return eris.Wrapf(ErrInvalidConfig, "changepoints and uncertainty_samples must not be negative")
	}
	if c.Render.TargetYear < c.Reconcile.CutoverYear {
		return eris.Wrapf(ErrInvalidConfig, "target_year %d is before cutover_year %d",
			c.Render.TargetYear, c.Reconcile.CutoverYear)
	}
	if c.Render.WidthIn <= 0 || c.Render.HeightIn <= 0 {
		return eris.Wrapf(ErrInvalidConfig, "render size must be positive")
	}
	if c.Output.Forecasts == "" || c.Output.Status == "" || c.Output.Map == "" {
		return eris.Wrapf(ErrInvalidConfig, "output.forecasts, output.status and output.map are required")
	}
	return nil
}

// ValidateTargetYear checks the target year against the forecastable range,
// which is only known once the last historical year has been reconciled.
func (c *Config) ValidateTargetYear(lastHistoricalYear int) error {
	maxYear := lastHistoricalYear + c.Forecast.Horizon
	if c.Render.TargetYear < c.Reconcile.CutoverYear || c.Render.TargetYear > maxYear {
		return eris.Wrapf(ErrInvalidConfig, "target_year %d outside [%d, %d]",
			c.Render.TargetYear, c.Reconcile.CutoverYear, maxYear)
	}
	return nil
}

// CheckInput reports an ErrInvalidConfig unless path names an existing
// regular file. name describes the input in the error.
func CheckInput(name, path string) error {
	if path == "" {
		return eris.Wrapf(ErrInvalidConfig, "%s path is empty", name)
	}
	info, err := os.Stat(path)
	if err != nil {
		return eris.Wrapf(ErrInvalidConfig, "%s %s: %v", name, path, err)
	}
	if info.IsDir() {
		return eris.Wrapf(ErrInvalidConfig, "%s %s is a directory", name, path)
	}
	return nil
}

// String renders the effective configuration as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
