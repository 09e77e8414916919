package config

// Column labels used by the competition workbook and the OWID CO₂ dataset.
const (
	PrimaryValueColumn = "9.4.1 - Annual CO₂ emissions per GDP (kg per international-$)"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Sources: SourcesConfig{
			Primary: TableSource{
				Path: "data/competition.xlsx",
				Cols: Columns{
					Name:  "Country",
					Code:  "Code",
					Year:  "Year",
					Value: PrimaryValueColumn,
				},
			},
			Supplementary: TableSource{
				Path: "data/owid-co2-data.csv",
				Cols: Columns{
					Name:  "country",
					Code:  "iso_code",
					Year:  "year",
					Value: "co2_per_gdp",
				},
			},
			Boundaries: BoundarySource{
				Path:         "data/world-administrative-boundaries.geojson",
				CodeProperty: "iso3",
			},
		},
		Reconcile: ReconcileConfig{
			CutoverYear: 2000,
			OutlierK:    3,
		},
		Forecast: ForecastConfig{
			Horizon:               40,
			Changepoints:          25,
			ChangepointRange:      0.8,
			ChangepointPriorScale: 0.05,
			IntervalWidth:         0.8,
			UncertaintySamples:    1000,
			Seed:                  1,
		},
		Render: RenderConfig{
			TargetYear: 2050,
			WidthIn:    15,
			HeightIn:   10,
		},
		Output: OutputConfig{
			Forecasts: "out/forecasts.csv",
			Status:    "out/status.csv",
			Map:       "out/map.png",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
