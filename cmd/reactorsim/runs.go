package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/reactorsim/internal/automation"
	"github.com/san-kum/reactorsim/internal/config"
	"github.com/san-kum/reactorsim/internal/control"
	"github.com/san-kum/reactorsim/internal/export"
	"github.com/san-kum/reactorsim/internal/storage"
)

// sweepParams maps a sweep parameter name to the config field it sets.
var sweepParams = map[string]func(*config.Config, float64){
	"nominal_power":     func(c *config.Config, v float64) { c.Reactor.NominalPower = v },
	"initial_rod":       func(c *config.Config, v float64) { c.Reactor.InitialRodPosition = v },
	"initial_flow":      func(c *config.Config, v float64) { c.Coolant.InitialFlowRate = v },
	"caution_temp":      func(c *config.Config, v float64) { c.Safety.CautionTemp = v },
	"critical_temp":     func(c *config.Config, v float64) { c.Safety.CriticalTemp = v },
	"emergency_flow":    func(c *config.Config, v float64) { c.Safety.EmergencyFlow = v },
	"coolant_sink_temp": func(c *config.Config, v float64) { c.Coolant.SinkTemp = v },
	"heat_transfer": func(c *config.Config, v float64) {
		c.Reactor.HeatTransferCoeff = v
		c.Coolant.HeatTransferCoeff = v
	},
	"rod_setpoint": func(c *config.Config, v float64) {
		c.RodControl.Setpoint = v
		c.RodControl.Enabled = true
	},
}

func sweepParamList() string {
	names := make([]string, 0, len(sweepParams))
	for name := range sweepParams {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func loadScript() (*automation.Script, error) {
	if scriptFile == "" {
		return nil, nil
	}
	return automation.LoadScript(scriptFile)
}

type headlessResult struct {
	console *control.Console
	steps   int64
	elapsed time.Duration
}

// simulate runs cfg headlessly for seconds of simulated time. The caller
// shuts the console down.
func simulate(ctx context.Context, cfg *config.Config, seconds float64, script *automation.Script, logger *zap.Logger, extra ...control.Option) (*headlessResult, error) {
	opts := append([]control.Option{control.Headless()}, extra...)
	if script != nil {
		opts = append(opts, control.WithScript(script))
	}
	console, err := control.New(cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	steps := console.RunFor(ctx, seconds)
	return &headlessResult{console: console, steps: steps, elapsed: time.Since(start)}, ctx.Err()
}

func runHeadless(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	script, err := loadScript()
	if err != nil {
		return err
	}
	logger, err := newLogger("stderr")
	if err != nil {
		return err
	}
	defer logger.Sync()

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	var extra []control.Option
	if liveExport != "" {
		extra = append(extra, control.WithLiveExport(liveExport))
	}

	presetName := preset
	if presetName == "" {
		presetName = "default"
	}
	fmt.Printf("running %s simulation for %.1fs...\n", presetName, duration)

	res, err := simulate(cmd.Context(), cfg, duration, script, logger, extra...)
	if res != nil {
		defer res.console.Shutdown()
	}
	if err != nil {
		return err
	}
	console := res.console

	meta := storage.RunMetadata{
		Preset:       presetName,
		Dt:           cfg.Dt,
		Duration:     console.SimTime(),
		Integrator:   cfg.Integrator,
		Script:       scriptFile,
		CautionTemp:  console.CautionTemp(),
		CriticalTemp: console.CriticalTemp(),
		AutoShutdown: console.AutoShutdown(),
		Trips:        console.Trips(),
		FinalStatus:  string(console.Status()),
		Metrics:      console.Summary(),
	}
	runID, err := st.Save(meta, console.Samples())
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v\n", res.elapsed)
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("steps: %d\n", res.steps)
	fmt.Printf("status: %s\n", console.Status())
	if console.Trips() > 0 {
		fmt.Printf("trips: %d (stopped at %.1fs)\n", console.Trips(), console.SimTime())
	}
	printMetrics(meta.Metrics)
	return nil
}

func printMetrics(m map[string]float64) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println("\nmetrics:")
	for _, name := range names {
		fmt.Printf("  %s: %.6f\n", name, m[name])
	}
}

func runSweep(cmd *cobra.Command, args []string) error {
	apply, ok := sweepParams[sweepParam]
	if !ok {
		return fmt.Errorf("unknown sweep parameter %q (available: %s)", sweepParam, sweepParamList())
	}
	base, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	script, err := loadScript()
	if err != nil {
		return err
	}
	logger, err := newLogger("stderr")
	if err != nil {
		return err
	}
	defer logger.Sync()

	sweep := &automation.ParameterSweep{
		ParamName: sweepParam,
		ParamMin:  sweepMin,
		ParamMax:  sweepMax,
		NumSteps:  sweepSteps,
		Parallel:  sweepParallel,
	}

	results, err := automation.RunSweep(cmd.Context(), sweep, func(ctx context.Context, v float64) (map[string]float64, error) {
		cfg := base.Clone()
		apply(cfg, v)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		res, err := simulate(ctx, cfg, duration, script, logger.With(zap.Float64(sweepParam, v)))
		if res != nil {
			defer res.console.Shutdown()
		}
		if err != nil {
			return nil, err
		}
		m := res.console.Summary()
		m["trips"] = float64(res.console.Trips())
		m["end_time_s"] = res.console.SimTime()
		return m, nil
	})
	if err != nil {
		return err
	}

	columns := []string{"peak_core_temp", "time_above_caution_s", "min_critical_margin", "mean_rod_position", "trips", "end_time_s"}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(sweepParam)+"\t"+strings.ToUpper(strings.Join(columns, "\t")))
	for _, r := range results {
		fmt.Fprintf(w, "%g", r.ParamValue)
		for _, col := range columns {
			if v, ok := r.Metrics[col]; ok {
				fmt.Fprintf(w, "\t%.3f", v)
			} else {
				fmt.Fprint(w, "\t-")
			}
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRESET\tTIME\tDURATION\tDT\tINTEG\tTRIPS\tSTATUS")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1fs\t%.3fs\t%s\t%d\t%s\n",
			run.ID,
			run.Preset,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Duration,
			run.Dt,
			run.Integrator,
			run.Trips,
			run.FinalStatus,
		)
	}

	return w.Flush()
}

// resolveRun loads the named run, or the latest one when no id is given.
func resolveRun(st *storage.Store, args []string) (*storage.RunMetadata, error) {
	if len(args) == 0 {
		return st.Latest()
	}
	return st.Load(args[0])
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := resolveRun(st, args)
	if err != nil {
		return err
	}

	samples, err := st.LoadSamples(meta.ID)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("preset: %s\n", meta.Preset)
	fmt.Printf("samples: %d\n\n", len(samples))

	core := make([]float64, len(samples))
	coolant := make([]float64, len(samples))
	rods := make([]float64, len(samples))
	for i, s := range samples {
		core[i] = s.CoreTemp
		coolant[i] = s.CoolantTemp
		rods[i] = s.RodPosition
	}

	for _, series := range []struct {
		data    []float64
		caption string
		height  int
	}{
		{core, "core temperature (°C)", 10},
		{coolant, "coolant temperature (°C)", 10},
		{rods, "rod position", 5},
	} {
		graph := asciigraph.Plot(series.data,
			asciigraph.Height(series.height),
			asciigraph.Width(80),
			asciigraph.Caption(series.caption),
		)
		fmt.Println(graph)
		fmt.Println()
	}

	if svgFile != "" {
		svg := export.ChartSVG(samples, 800, 400,
			export.Threshold{Value: meta.CautionTemp, Color: "#ffaa00"},
			export.Threshold{Value: meta.CriticalTemp, Color: "#ff4444"},
		)
		if err := os.WriteFile(svgFile, []byte(svg), 0644); err != nil {
			return err
		}
		fmt.Printf("svg written to %s\n", svgFile)
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	samples, err := st.LoadSamples(meta.ID)
	if err != nil {
		return err
	}
	return export.WriteCSV(os.Stdout, samples, meta.Timestamp)
}
