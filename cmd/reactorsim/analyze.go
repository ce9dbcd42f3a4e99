package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/reactorsim/internal/analysis"
	"github.com/san-kum/reactorsim/internal/metrics"
	"github.com/san-kum/reactorsim/internal/optim"
	"github.com/san-kum/reactorsim/internal/storage"
)

var (
	tuneKp []float64
	tuneKi []float64
	tuneN  int

	tuneDuration float64
	tuneFlow     float64
)

func analyzeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "core temperature spectrum and phase portrait",
		Args:  cobra.MaximumNArgs(1),
		RunE:  analyzeRun,
	}
}

func tuneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "grid search rod controller gains against the setpoint",
		Args:  cobra.NoArgs,
		RunE:  tuneRodControl,
	}
	cmd.Flags().Float64SliceVar(&tuneKp, "kp", []float64{0.005, 0.05}, "kp range as min,max")
	cmd.Flags().Float64SliceVar(&tuneKi, "ki", []float64{0, 0.005}, "ki range as min,max")
	cmd.Flags().IntVar(&tuneN, "n", 4, "grid points per gain")
	cmd.Flags().Float64Var(&tuneDuration, "time", 300, "simulated duration per run in seconds")
	cmd.Flags().Float64Var(&tuneFlow, "flow", 200, "coolant flow in kg/s")
	return cmd
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := resolveRun(st, args)
	if err != nil {
		return err
	}
	samples, err := st.LoadSamples(meta.ID)
	if err != nil {
		return err
	}
	if len(samples) < 4 {
		return fmt.Errorf("not enough data")
	}

	fmt.Printf("frequency analysis: %s\n\n", meta.ID)

	core := make([]float64, len(samples))
	for i, s := range samples {
		core[i] = s.CoreTemp
	}
	ps := analysis.PowerSpectrum(core)
	plotData := ps[:max(len(ps)/4, 2)]
	fmt.Println(asciigraph.Plot(plotData,
		asciigraph.Height(15),
		asciigraph.Width(80),
		asciigraph.Caption("power spectrum (core temp)"),
	))
	fmt.Println()

	if osc, ok := analysis.DominantPeriod(samples, meta.Dt); ok {
		fmt.Printf("dominant frequency: %.4f hz\n", osc.Frequency)
		fmt.Printf("period: %.2f s\n\n", osc.Period)
	} else {
		fmt.Printf("no oscillation\n\n")
	}

	fmt.Println("phase portrait (core x, coolant y; caution and critical marked):")
	fmt.Print(analysis.NewPhasePortrait(samples, meta.CautionTemp, meta.CriticalTemp).ASCII(80, 20))
	return nil
}

func gainRange(name string, r []float64) ([]float64, error) {
	if len(r) != 2 {
		return nil, fmt.Errorf("--%s wants min,max", name)
	}
	return optim.Linspace(r[0], r[1], tuneN), nil
}

func tuneRodControl(cmd *cobra.Command, args []string) error {
	base, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	base.RodControl.Enabled = true
	base.Coolant.InitialFlowRate = tuneFlow

	kps, err := gainRange("kp", tuneKp)
	if err != nil {
		return err
	}
	kis, err := gainRange("ki", tuneKi)
	if err != nil {
		return err
	}
	logger, err := newLogger("stderr")
	if err != nil {
		return err
	}
	defer logger.Sync()

	type row struct{ kp, ki, iae, trips float64 }
	var rows []row

	grid := optim.NewGridSearch([]string{"kp", "ki"}, [][]float64{kps, kis})
	fmt.Printf("tuning rod control at %.1f °C over %d candidates...\n", base.RodControl.Setpoint, grid.Candidates())

	best, score, err := grid.Search(cmd.Context(), func(ctx context.Context, p map[string]float64) (float64, error) {
		cfg := base.Clone()
		cfg.RodControl.Kp = p["kp"]
		cfg.RodControl.Ki = p["ki"]
		res, err := simulate(ctx, cfg, tuneDuration, nil, logger)
		if res != nil {
			defer res.console.Shutdown()
		}
		if err != nil {
			return 0, err
		}
		iae := metrics.NewIntegralAbsError(cfg.RodControl.Setpoint)
		for _, s := range res.console.Samples() {
			iae.Observe(s)
		}
		trips := float64(res.console.Trips())
		rows = append(rows, row{p["kp"], p["ki"], iae.Value(), trips})
		if trips > 0 {
			return iae.Value() * 1e3, nil
		}
		return iae.Value(), nil
	})
	if err != nil {
		return err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].iae < rows[j].iae })
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KP\tKI\tSETPOINT_IAE\tTRIPS")
	for _, r := range rows {
		fmt.Fprintf(w, "%.4f\t%.4f\t%.1f\t%.0f\n", r.kp, r.ki, r.iae, r.trips)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nbest: kp=%.4f ki=%.4f (score %.1f)\n", best["kp"], best["ki"], score)
	return nil
}
