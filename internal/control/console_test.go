package control_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/reactorsim/internal/automation"
	"github.com/san-kum/reactorsim/internal/config"
	"github.com/san-kum/reactorsim/internal/control"
	"github.com/san-kum/reactorsim/internal/export"
	"github.com/san-kum/reactorsim/internal/safety"
	"github.com/san-kum/reactorsim/internal/sim"
)

var fixed = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func containsEntry(entries []string, msg string) bool {
	for _, e := range entries {
		if strings.HasSuffix(e, "] "+msg) {
			return true
		}
	}
	return false
}

func newHeadless(cfg *config.Config, opts ...control.Option) *control.Console {
	opts = append([]control.Option{control.Headless(), control.WithEventClock(func() time.Time { return fixed })}, opts...)
	c, err := control.New(cfg, nil, opts...)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { Expect(c.Shutdown()).To(Succeed()) })
	return c
}

var _ = Describe("Console", func() {
	ctx := context.Background()

	It("rejects an invalid configuration", func() {
		cfg := config.DefaultConfig()
		cfg.Dt = 0
		_, err := control.New(cfg, nil)
		Expect(errors.Is(err, config.ErrInvalidConfig)).To(BeTrue())
	})

	It("rejects an unknown integrator", func() {
		cfg := config.DefaultConfig()
		cfg.Integrator = "verlet"
		_, err := control.New(cfg, nil)
		Expect(err).To(HaveOccurred())
	})

	Context("headless", func() {
		It("publishes one sample per tick at n*dt", func() {
			c := newHeadless(config.DefaultConfig())

			Expect(c.RunFor(ctx, 10)).To(BeEquivalentTo(20))

			samples := c.Samples()
			Expect(samples).To(HaveLen(20))
			Expect(samples[0].Time).To(Equal(0.5))
			Expect(samples[19].Time).To(Equal(10.0))
			Expect(samples[0].RodPosition).To(Equal(1.0))
			Expect(c.IsRunning()).To(BeFalse())
			Expect(c.Status()).To(Equal(safety.StatusStopped))
			Expect(c.SimTime()).To(Equal(10.0))

			entries := c.Events().Snapshot()
			Expect(containsEntry(entries, "Simulation started")).To(BeTrue())
			Expect(containsEntry(entries, "Simulation stopped")).To(BeTrue())
		})

		It("cools an inserted core toward the coolant", func() {
			c := newHeadless(config.DefaultConfig())
			c.RunFor(ctx, 5)
			Expect(c.CoreTemp()).To(BeNumerically("<", 300))
			Expect(c.CoolantTemp()).To(BeNumerically(">", 290))
		})

		It("reports run metrics since the last start", func() {
			c := newHeadless(config.DefaultConfig())
			c.RunFor(ctx, 5)

			summary := c.Summary()
			Expect(summary).To(HaveKeyWithValue("mean_rod_position", 1.0))
			Expect(summary).To(HaveKey("peak_core_temp"))
			Expect(summary["peak_core_temp"]).To(BeNumerically("<", 300))
			Expect(summary).To(HaveKeyWithValue("time_above_caution_s", 0.0))
		})

		It("trips, scrams and hands the rods back on a critical core", func() {
			cfg := config.DefaultConfig()
			cfg.Safety.CautionTemp = 300.5
			cfg.Safety.CriticalTemp = 301
			cfg.RodControl.Enabled = true
			c := newHeadless(cfg)
			Expect(c.RodControlEnabled()).To(BeTrue())

			done := c.RunFor(ctx, 60)

			Expect(done).To(BeNumerically("<", 120))
			Expect(c.Status()).To(Equal(safety.StatusCritical))
			Expect(c.Trips()).To(BeEquivalentTo(1))
			Expect(c.RodPosition()).To(Equal(1.0))
			Expect(c.FlowRate()).To(Equal(1000.0))
			Expect(c.RodControlEnabled()).To(BeFalse())
			Expect(c.IsRunning()).To(BeFalse())

			entries := c.Events().Snapshot()
			Expect(containsEntry(entries, "SCRAM executed: rods inserted (pos=1.0)")).To(BeTrue())
			Expect(containsEntry(entries, "Automatic rod control disabled: SCRAM")).To(BeTrue())
			Expect(containsEntry(entries, "Simulation stopped")).To(BeFalse())

			By("restoring the pre-trip flow after ten simulated seconds")
			c.SetCriticalTemp(700)
			c.SetCautionTemp(650)
			Expect(c.RunFor(ctx, 9)).To(BeEquivalentTo(18))
			Expect(c.FlowRate()).To(Equal(1000.0))
			Expect(c.RunFor(ctx, 11)).To(BeEquivalentTo(22))
			Expect(c.FlowRate()).To(Equal(0.0))
			Expect(containsEntry(c.Events().Snapshot(), "Emergency coolant restored to 0.0 kg/s")).To(BeTrue())
		})

		It("plays a script on simulated time", func() {
			script, err := automation.ParseScript([]byte(`
name: drill
steps:
  - at_s: 2
    action: set_flow
    flow_rate: 150
  - at_s: 1
    action: coolant_failure
    duration_s: 3
`))
			Expect(err).NotTo(HaveOccurred())
			c := newHeadless(config.DefaultConfig(), control.WithScript(script))

			c.RunFor(ctx, 1)
			Expect(c.FlowRate()).To(Equal(0.0))
			Expect(containsEntry(c.Events().Snapshot(), "Scenario: Coolant failure for 3.0s")).To(BeTrue())
			Expect(c.ScriptDone()).To(BeFalse())

			c.RunFor(ctx, 2)
			Expect(c.ScriptDone()).To(BeTrue())
		})

		It("withdraws the rods for a reactivity spike and restores them", func() {
			c := newHeadless(config.DefaultConfig())
			c.TriggerReactivitySpike(2.7, 0)
			Expect(c.RodPosition()).To(Equal(0.0))
			Expect(containsEntry(c.Events().Snapshot(), "Scenario: Reactivity spike for 2.7s to rod=0.00")).To(BeTrue())

			c.RunFor(ctx, 1.5)
			Expect(c.RodPosition()).To(Equal(0.0))
			c.RunFor(ctx, 2)
			Expect(c.RodPosition()).To(Equal(1.0))
		})

		It("streams every sample to a live export", func() {
			path := filepath.Join(GinkgoT().TempDir(), "live.csv")
			c := newHeadless(config.DefaultConfig(), control.WithLiveExport(path))
			c.RunFor(ctx, 2)
			Expect(c.Shutdown()).To(Succeed())

			f, err := os.Open(path)
			Expect(err).NotTo(HaveOccurred())
			defer f.Close()
			samples, err := export.ReadCSV(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(samples).To(HaveLen(4))
		})

		It("exports metrics when a registry is supplied", func() {
			reg := prometheus.NewRegistry()
			c := newHeadless(config.DefaultConfig(), control.WithMetrics(reg))
			c.RunFor(ctx, 3)

			Expect(c.Collector()).NotTo(BeNil())
			Expect(testutil.ToFloat64(c.Collector().Ticks)).To(Equal(6.0))
			Expect(testutil.ToFloat64(c.Collector().RodPosition)).To(Equal(1.0))
		})
	})

	Describe("operator actions", func() {
		var c *control.Console

		BeforeEach(func() {
			c = newHeadless(config.DefaultConfig())
		})

		It("clamps rod and flow inputs", func() {
			c.SetRodPosition(1.7)
			Expect(c.RodPosition()).To(Equal(1.0))
			c.SetRodPosition(-3)
			Expect(c.RodPosition()).To(Equal(0.0))
			c.SetFlowRate(-5)
			Expect(c.FlowRate()).To(Equal(0.0))
		})

		It("logs every safety setting change", func() {
			c.SetCautionTemp(450)
			c.SetCriticalTemp(612.5)
			c.SetAutoShutdown(false)
			c.SetEmergencyFlow(800)
			c.SetEmergencyDuration(5 * time.Second)

			Expect(c.Events().Snapshot()).To(Equal([]string{
				"[2024-05-01T12:00:00Z] Caution temp set to 450.0",
				"[2024-05-01T12:00:00Z] Critical temp set to 612.5",
				"[2024-05-01T12:00:00Z] Auto-shutdown set to false",
				"[2024-05-01T12:00:00Z] Emergency injection flow set to 800.0",
				"[2024-05-01T12:00:00Z] Emergency injection duration set to 5s",
			}))
			Expect(c.CautionTemp()).To(Equal(450.0))
			Expect(c.CriticalTemp()).To(Equal(612.5))
			Expect(c.AutoShutdown()).To(BeFalse())
		})

		It("applies only the settings that changed", func() {
			s := c.Snapshot().Safety
			s.CriticalTemp = 650
			c.ApplySafety(s)
			Expect(c.Events().Snapshot()).To(HaveLen(1))
			Expect(c.Snapshot().Safety.CriticalTemp).To(Equal(650.0))
		})

		It("scrams on demand", func() {
			c.SetRodPosition(0.2)
			c.Scram()
			Expect(c.RodPosition()).To(Equal(1.0))
			Expect(c.Status()).To(Equal(safety.StatusScrammed))
		})

		It("injects emergency coolant with the configured settings", func() {
			c.InjectEmergencyCoolant()
			Expect(c.FlowRate()).To(Equal(1000.0))
			Expect(c.Status()).To(Equal(safety.StatusEmergencyCoolant))
		})

		It("yields automatic rod control to a manual rod move", func() {
			c.SetRodControl(true)
			Expect(c.RodControlEnabled()).To(BeTrue())
			c.SetRodPosition(0.4)
			Expect(c.RodControlEnabled()).To(BeFalse())
			Expect(containsEntry(c.Events().Snapshot(), "Automatic rod control disabled: manual rod position")).To(BeTrue())
		})

		It("resets the plant to its initial condition", func() {
			c.SetRodPosition(0)
			c.RunFor(ctx, 5)
			c.Reset()

			Expect(c.CoreTemp()).To(Equal(300.0))
			Expect(c.CoolantTemp()).To(Equal(290.0))
			Expect(c.RodPosition()).To(Equal(1.0))
			Expect(c.FlowRate()).To(Equal(200.0))
			Expect(c.Samples()).To(BeEmpty())
			Expect(containsEntry(c.Events().Snapshot(), "Simulation reset")).To(BeTrue())
		})

		It("exports the buffer as CSV and logs it", func() {
			c.RunFor(ctx, 1)
			var buf bytes.Buffer
			Expect(c.ExportCSV(&buf, "memory")).To(Succeed())

			samples, err := export.ReadCSV(&buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(samples).To(HaveLen(2))
			Expect(containsEntry(c.Events().Snapshot(), "CSV exported to memory")).To(BeTrue())
		})

		It("writes an export file at an absolute path", func() {
			dir := GinkgoT().TempDir()
			c.RunFor(ctx, 1)
			abs, err := c.ExportFile(filepath.Join(dir, "run.csv"))
			Expect(err).NotTo(HaveOccurred())
			Expect(filepath.IsAbs(abs)).To(BeTrue())
			Expect(abs).To(BeAnExistingFile())
		})

		It("exports the header alone right after a reset", func() {
			c.RunFor(ctx, 1)
			c.Reset()
			abs, err := c.ExportFile(filepath.Join(GinkgoT().TempDir(), "empty.csv"))
			Expect(err).NotTo(HaveOccurred())

			data, err := os.ReadFile(abs)
			Expect(err).NotTo(HaveOccurred())
			lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
			Expect(lines).To(HaveLen(3))
			Expect(lines[0]).To(Equal(export.Title))
			Expect(lines[2]).To(Equal(strings.Join(export.Columns, ",")))
		})

		It("leaves no file behind when the export path is unwritable", func() {
			path := filepath.Join(GinkgoT().TempDir(), "missing", "run.csv")
			_, err := c.ExportFile(path)
			Expect(err).To(HaveOccurred())
			Expect(path).NotTo(BeAnExistingFile())
		})
	})

	Describe("paced clock", func() {
		It("starts once, ticks and stops once", func() {
			cfg := config.DefaultConfig()
			cfg.Dt = 0.1
			cfg.TimeScale = 100
			c, err := control.New(cfg, nil)
			Expect(err).NotTo(HaveOccurred())
			defer func() { Expect(c.Shutdown()).To(Succeed()) }()

			Expect(c.Start(ctx)).To(BeTrue())
			Expect(c.Start(ctx)).To(BeFalse())
			Expect(c.Status()).To(Equal(safety.StatusRunning))
			Eventually(c.SimTime).Should(BeNumerically(">", 0.5))

			Expect(c.Stop()).To(BeTrue())
			Expect(c.Stop()).To(BeFalse())
			Expect(c.Status()).To(Equal(safety.StatusStopped))
		})

		It("restarts into a clean buffer after a stop", func() {
			cfg := config.DefaultConfig()
			cfg.Dt = 0.1
			cfg.TimeScale = 100
			c, err := control.New(cfg, nil)
			Expect(err).NotTo(HaveOccurred())
			defer func() { Expect(c.Shutdown()).To(Succeed()) }()

			for i := 0; i < 5; i++ {
				Expect(c.Start(ctx)).To(BeTrue())
				Eventually(func() int { return len(c.Samples()) }).Should(BeNumerically(">=", 2))
				Expect(c.Stop()).To(BeTrue())
			}
			Expect(c.Start(ctx)).To(BeTrue())
			Eventually(func() int { return len(c.Samples()) }).Should(BeNumerically(">=", 3))
			c.Stop()

			samples := c.Samples()
			Expect(samples[0].Time).To(BeNumerically("~", 0.1, 1e-9))
			for i := 1; i < len(samples); i++ {
				Expect(samples[i].Time).To(BeNumerically(">", samples[i-1].Time))
			}
		})

		It("delivers samples to subscribers", func() {
			cfg := config.DefaultConfig()
			cfg.TimeScale = 50
			c, err := control.New(cfg, nil)
			Expect(err).NotTo(HaveOccurred())
			defer func() { Expect(c.Shutdown()).To(Succeed()) }()

			ch, cancel := c.Subscribe(8)
			defer cancel()
			c.Start(ctx)

			var s sim.Sample
			Eventually(ch).Should(Receive(&s))
			Expect(s.Time).To(Equal(0.5))
			Expect(s.RodPosition).To(Equal(1.0))
		})
	})
})
