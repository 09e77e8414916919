package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2000, cfg.Reconcile.CutoverYear)
	assert.Equal(t, 3.0, cfg.Reconcile.OutlierK)
	assert.Equal(t, 40, cfg.Forecast.Horizon)
	assert.Equal(t, "iso3", cfg.Sources.Boundaries.CodeProperty)
	assert.Equal(t, PrimaryValueColumn, cfg.Sources.Primary.Cols.Value)
	require.NoError(t, cfg.ValidateSettings())
}

func TestConfig_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "co2trend.yaml")

	cfg := DefaultConfig()
	cfg.Reconcile.CutoverYear = 1990
	cfg.Forecast.Horizon = 10
	cfg.Output.Parquet = "out/forecasts.parquet"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reconcile: [unterminated"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CO2TREND_CUTOVER_YEAR", "1995")
	t.Setenv("CO2TREND_OUTLIER_K", "2.5")
	t.Setenv("CO2TREND_PRIMARY_PATH", "/tmp/comp.xlsx")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1995, cfg.Reconcile.CutoverYear)
	assert.Equal(t, 2.5, cfg.Reconcile.OutlierK)
	assert.Equal(t, "/tmp/comp.xlsx", cfg.Sources.Primary.Path)
}

func TestLoad_EnvOverrideNotANumber(t *testing.T) {
	t.Setenv("CO2TREND_HORIZON", "forty")

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidConfig))
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero cutover", func(c *Config) { c.Reconcile.CutoverYear = 0 }},
		{"negative k", func(c *Config) { c.Reconcile.OutlierK = -1 }},
		{"zero horizon", func(c *Config) { c.Forecast.Horizon = 0 }},
		{"negative workers", func(c *Config) { c.Forecast.Workers = -2 }},
		{"interval width one", func(c *Config) { c.Forecast.IntervalWidth = 1 }},
		{"changepoint range zero", func(c *Config) { c.Forecast.ChangepointRange = 0 }},
		{"target before cutover", func(c *Config) { c.Render.TargetYear = 1999 }},
		{"missing map output", func(c *Config) { c.Output.Map = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.ValidateSettings()
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrInvalidConfig))
		})
	}
}

func TestValidate_InputFiles(t *testing.T) {
	dir := t.TempDir()
	touch := func(name string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		return p
	}

	cfg := DefaultConfig()
	cfg.Sources.Primary.Path = touch("primary.xlsx")
	cfg.Sources.Supplementary.Path = touch("supp.csv")
	cfg.Sources.Boundaries.Path = filepath.Join(dir, "missing.geojson")

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boundary dataset")

	cfg.Sources.Boundaries.Path = touch("world.geojson")
	require.NoError(t, cfg.Validate())

	cfg.Sources.Primary.Path = dir
	require.Error(t, cfg.Validate())
}

func TestValidateTargetYear(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Render.TargetYear = 2050

	require.NoError(t, cfg.ValidateTargetYear(2022))
	require.NoError(t, cfg.ValidateTargetYear(2010))

	err := cfg.ValidateTargetYear(2005)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidConfig))
}
