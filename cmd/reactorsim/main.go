package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/reactorsim/internal/config"
	"github.com/san-kum/reactorsim/internal/control"
	"github.com/san-kum/reactorsim/internal/viz"
)

var (
	dataDir     string
	configFile  string
	preset      string
	dt          float64
	timeScale   float64
	integrator  string
	logLevel    string
	logFormat   string
	logFile     string
	metricsAddr string
	liveExport  string
	rodControl  bool

	duration   float64
	scriptFile string
	rodPos     float64
	flowRate   float64

	sweepParam    string
	sweepMin      float64
	sweepMax      float64
	sweepSteps    int
	sweepParallel int

	svgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reactorsim",
		Short: "reactor thermal simulator",
		Long: `reactorsim runs a two-node reactor core and coolant loop thermal model
with automatic safety protection.

Run without arguments to open the live dashboard.`,
		SilenceUsage: true,
		RunE:         runDashboard,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dataDir, "data", ".reactorsim", "data directory")
	pf.StringVar(&configFile, "config", "", "config file path (yaml)")
	pf.StringVar(&preset, "preset", "", "use preset configuration")
	pf.Float64Var(&dt, "dt", config.DefaultDt, "timestep in simulated seconds")
	pf.Float64Var(&timeScale, "time-scale", config.DefaultTimeScale, "playback speed multiplier")
	pf.StringVar(&integrator, "integrator", config.DefaultIntegrator, "integrator (euler, rk4)")
	pf.StringVar(&logLevel, "log-level", "info", "log level")
	pf.StringVar(&logFormat, "log-format", "json", "log format (json, console)")
	pf.StringVar(&logFile, "log-file", "", "log output path (default stderr, dashboard logs to <data>/reactorsim.log)")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.Flags().StringVar(&liveExport, "live-export", "", "stream every sample to this CSV file")
	rootCmd.Flags().BoolVar(&rodControl, "rod-control", false, "start with automatic rod control enabled")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a headless simulation and archive it",
		Args:  cobra.NoArgs,
		RunE:  runHeadless,
	}
	runCmd.Flags().Float64Var(&duration, "time", 120, "simulated duration in seconds")
	runCmd.Flags().StringVar(&scriptFile, "script", "", "scenario script (yaml)")
	runCmd.Flags().Float64Var(&rodPos, "rod", -1, "initial rod position (default from config)")
	runCmd.Flags().Float64Var(&flowRate, "flow", -1, "initial coolant flow in kg/s (default from config)")
	runCmd.Flags().BoolVar(&rodControl, "rod-control", false, "enable automatic rod control")
	runCmd.Flags().StringVar(&liveExport, "live-export", "", "stream every sample to this CSV file")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "sweep one parameter across headless runs",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
	sweepCmd.Flags().StringVar(&sweepParam, "param", "nominal_power", "parameter to sweep ("+sweepParamList()+")")
	sweepCmd.Flags().Float64Var(&sweepMin, "min", 5e6, "first value")
	sweepCmd.Flags().Float64Var(&sweepMax, "max", 2e7, "last value")
	sweepCmd.Flags().IntVar(&sweepSteps, "steps", 4, "number of values")
	sweepCmd.Flags().IntVar(&sweepParallel, "parallel", 1, "runs in flight at once")
	sweepCmd.Flags().Float64Var(&duration, "time", 120, "simulated duration per run in seconds")
	sweepCmd.Flags().StringVar(&scriptFile, "script", "", "scenario script (yaml)")
	sweepCmd.Flags().Float64Var(&rodPos, "rod", -1, "initial rod position (default from config)")
	sweepCmd.Flags().Float64Var(&flowRate, "flow", -1, "initial coolant flow in kg/s (default from config)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run temperatures",
		Args:  cobra.MaximumNArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&svgFile, "svg", "", "also write an SVG chart to this path")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export run samples to CSV on stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("presets:")
			for _, p := range config.ListPresets() {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, sweepCmd, listCmd, plotCmd, exportCmd, exportCSVCmd, presetsCmd, analyzeCommand(), tuneCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers defaults, preset, config file and explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.LoadOnto(configFile, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("dt") {
		cfg.Dt = dt
	}
	if flags.Changed("time-scale") {
		cfg.TimeScale = timeScale
	}
	if flags.Changed("integrator") {
		cfg.Integrator = integrator
	}
	if flags.Changed("rod-control") {
		cfg.RodControl.Enabled = rodControl
	}
	if flags.Changed("rod") && rodPos >= 0 {
		cfg.Reactor.InitialRodPosition = rodPos
	}
	if flags.Changed("flow") && flowRate >= 0 {
		cfg.Coolant.InitialFlowRate = flowRate
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. Output goes to --log-file when set,
// otherwise to fallback.
func newLogger(fallback string) (*zap.Logger, error) {
	var zcfg zap.Config
	switch logFormat {
	case "json", "":
		zcfg = zap.NewProductionConfig()
	case "console":
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", logFormat)
	}

	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	out := fallback
	if logFile != "" {
		out = logFile
	}
	zcfg.OutputPaths = []string{out}
	zcfg.ErrorOutputPaths = []string{out}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func runDashboard(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}
	logger, err := newLogger(filepath.Join(dataDir, "reactorsim.log"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := []control.Option{}
	var reg *prometheus.Registry
	if metricsAddr != "" {
		reg = prometheus.NewRegistry()
		opts = append(opts, control.WithMetrics(reg))
	}
	if liveExport != "" {
		opts = append(opts, control.WithLiveExport(liveExport))
	}

	console, err := control.New(cfg, logger, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		err := viz.Run(gctx, console, viz.Options{History: cfg.History, ExportDir: dataDir})
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})

	if configFile != "" {
		g.Go(func() error {
			return config.Watch(gctx, configFile, cfg, func(next *config.Config) {
				console.ApplySafety(next.Safety.Settings())
			}, logger.Named("config"))
		})
	}

	if reg != nil {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsMux(console),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", metricsAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if shutdownErr := console.Shutdown(); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func metricsMux(console *control.Console) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", console.Collector().Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, console.Status())
	})
	return mux
}
