package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"co2trend/internal/config"
	"co2trend/internal/logging"
	"co2trend/internal/pipeline"
)

var (
	// Global flags
	configPath string
	verbose    bool
	targetYear int
	horizon    int
	workers    int
	mapPath    string

	// Config subcommand flags
	showDefaults bool
	savePath     string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "co2trend",
	Short: "Forecast CO2 emissions per GDP by country and map the result",
	Long: `co2trend merges a competition dataset with a supplementary public
dataset, fits a piecewise-linear trend per country and renders a choropleth
of the forecast trend for one target year.

Configuration is read from --config (YAML), then CO2TREND_* environment
variables, then command-line flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd)

		logger, err = logging.New(cfg.Logging, verbose)
		if err != nil {
			return err
		}
		zap.ReplaceGlobals(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile, forecast and render in one pass",
	Args:  cobra.NoArgs,
	RunE:  runPipeline,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Merge and clean the input datasets only",
	Long: `Loads both tabular inputs, applies the cutover, cleaning and outlier
rules, and reports what was dropped. Set output.cleaned to keep the table.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

var renderCmd = &cobra.Command{
	Use:   "render [forecasts-file]",
	Short: "Draw the choropleth from an exported forecast file",
	Long: `Reads a forecast CSV or parquet file written by "run" and draws the
choropleth for the target year without refitting. Defaults to output.forecasts.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRender,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "co2trend.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().IntVar(&targetYear, "target-year", 0, "Year to map (overrides render.target_year)")
	rootCmd.PersistentFlags().IntVar(&horizon, "horizon", 0, "Future years to forecast (overrides forecast.horizon)")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "Concurrent fits, 0 = number of CPUs (overrides forecast.workers)")
	rootCmd.PersistentFlags().StringVar(&mapPath, "map", "", "Choropleth output path (overrides output.map)")

	configCmd.Flags().BoolVar(&showDefaults, "defaults", false, "Print the built-in defaults instead")
	configCmd.Flags().StringVar(&savePath, "save", "", "Also write the configuration to this file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(configCmd)
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("target-year") {
		cfg.Render.TargetYear = targetYear
	}
	if flags.Changed("horizon") {
		cfg.Forecast.Horizon = horizon
	}
	if flags.Changed("workers") {
		cfg.Forecast.Workers = workers
	}
	if flags.Changed("map") {
		cfg.Output.Map = mapPath
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	sum, err := pipeline.New(cfg, logger).Run(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", sum.RunID)
	fmt.Fprintf(out, "  rows kept:     %d (dropped %d)\n", sum.Audit.Kept, sum.Audit.DroppedTotal())
	fmt.Fprintf(out, "  entities:      %d (%d failed)\n", sum.Entities, sum.Failed)
	fmt.Fprintf(out, "  forecast rows: %d -> %s\n", sum.Rows, cfg.Output.Forecasts)
	if sum.Map.Rendered {
		fmt.Fprintf(out, "  map:           %d regions -> %s\n", sum.Map.Regions, cfg.Output.Map)
	} else {
		fmt.Fprintf(out, "  map:           no values for %d -> %s\n", cfg.Render.TargetYear, cfg.Output.Map)
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	res, err := pipeline.New(cfg, logger).Reconcile(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "rows kept: %d, dropped: %d, last year: %d\n", res.Audit.Kept, res.Audit.DroppedTotal(), res.LastYear())
	if cfg.Output.Cleaned != "" {
		fmt.Fprintf(out, "cleaned table -> %s\n", cfg.Output.Cleaned)
	}
	return nil
}

func runRender(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	src := cfg.Output.Forecasts
	if len(args) == 1 {
		src = args[0]
	}
	res, err := pipeline.RenderFromFile(ctx, cfg, logger, src)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "map: %d regions (%d unmatched) -> %s\n", res.Regions, res.Unmatched, cfg.Output.Map)
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	c := cfg
	if showDefaults {
		c = config.DefaultConfig()
	}
	fmt.Fprint(cmd.OutOrStdout(), c.String())
	if savePath != "" {
		if err := c.Save(savePath); err != nil {
			return err
		}
		logger.Info("configuration saved", zap.String("path", savePath))
	}
	return nil
}
