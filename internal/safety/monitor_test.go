package safety_test

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/reactorsim/internal/eventlog"
	"github.com/san-kum/reactorsim/internal/safety"
	"github.com/san-kum/reactorsim/internal/sim"
	"github.com/san-kum/reactorsim/internal/timers"
)

func containing(lines []string, substr string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

var _ = Describe("Monitor", func() {
	var (
		plant    *fakePlant
		clock    *fakeClock
		sched    *manualScheduler
		journal  *eventlog.Log
		recorder *countingRecorder
		cfg      *safety.Config
		monitor  *safety.Monitor
	)

	BeforeEach(func() {
		plant = &fakePlant{}
		plant.SetRodPosition(0.0)
		plant.SetFlowRate(200)
		clock = &fakeClock{}
		clock.running.Store(true)
		sched = &manualScheduler{}
		journal = eventlog.New()
		recorder = &countingRecorder{}
		cfg = safety.NewConfig(safety.Settings{
			CautionTemp:       500,
			CriticalTemp:      700,
			AutoShutdown:      true,
			EmergencyFlow:     1000,
			EmergencyDuration: 10 * time.Second,
		})
		monitor = safety.NewMonitor(cfg, safety.Deps{
			Rods:      plant,
			Pump:      plant,
			Clock:     clock,
			Journal:   journal,
			Scheduler: sched,
			Recorder:  recorder,
		})
	})

	Context("when the core crosses the critical threshold", func() {
		It("scrams, injects emergency coolant and stops the clock", func() {
			level := monitor.Evaluate(sim.Sample{Time: 12.5, CoreTemp: 710, CoolantTemp: 400})

			Expect(level).To(Equal(safety.LevelCritical))
			Expect(plant.RodPosition()).To(Equal(1.0))
			Expect(plant.FlowRate()).To(Equal(1000.0))
			Expect(clock.IsRunning()).To(BeFalse())
			Expect(monitor.Status()).To(Equal(safety.StatusCritical))
			Expect(monitor.Trips()).To(BeEquivalentTo(1))
			Expect(recorder.Count("critical")).To(Equal(1))

			lines := journal.Snapshot()
			Expect(containing(lines, "CRITICAL: core temp 710.00 >= 700.0")).To(Equal(1))
			Expect(containing(lines, "SCRAM executed")).To(Equal(1))
			Expect(containing(lines, "Emergency coolant injected: flow set to 1000.0 kg/s for 10s")).To(Equal(1))
		})

		It("restores the pre-injection flow when the timer fires", func() {
			monitor.Evaluate(sim.Sample{CoreTemp: 700})
			Expect(sched.Len()).To(Equal(1))
			Expect(sched.delays[0]).To(Equal(10 * time.Second))

			sched.Fire(0)

			Expect(plant.FlowRate()).To(Equal(200.0))
			Expect(plant.RodPosition()).To(Equal(1.0))
			Expect(monitor.Status()).To(Equal(safety.StatusStopped))
			Expect(containing(journal.Snapshot(), "Emergency coolant restored to 200.0 kg/s")).To(Equal(1))
		})

		It("treats exactly the critical temperature as a trip", func() {
			Expect(monitor.Evaluate(sim.Sample{CoreTemp: 700})).To(Equal(safety.LevelCritical))
		})
	})

	Context("when the core is between caution and critical", func() {
		It("warns without corrective action", func() {
			level := monitor.Evaluate(sim.Sample{CoreTemp: 510})

			Expect(level).To(Equal(safety.LevelCaution))
			Expect(monitor.Status()).To(Equal(safety.StatusWarning))
			Expect(plant.RodPosition()).To(Equal(0.0))
			Expect(plant.FlowRate()).To(Equal(200.0))
			Expect(clock.IsRunning()).To(BeTrue())
			Expect(sched.Len()).To(BeZero())
			Expect(containing(journal.Snapshot(), "CAUTION: core temp 510.00 >= 500.0")).To(Equal(1))
			Expect(recorder.Count("caution")).To(Equal(1))
		})
	})

	Context("when the core is below caution", func() {
		It("mirrors the clock run state", func() {
			Expect(monitor.Evaluate(sim.Sample{CoreTemp: 320})).To(Equal(safety.LevelNormal))
			Expect(monitor.Status()).To(Equal(safety.StatusRunning))

			clock.Stop()
			monitor.Evaluate(sim.Sample{CoreTemp: 320})
			Expect(monitor.Status()).To(Equal(safety.StatusStopped))
			Expect(journal.Len()).To(BeZero())
		})
	})

	Context("when auto shutdown is disabled", func() {
		It("takes no action even above critical", func() {
			cfg.SetAutoShutdown(false)

			Expect(monitor.Evaluate(sim.Sample{CoreTemp: 900})).To(Equal(safety.LevelDisabled))
			Expect(plant.RodPosition()).To(Equal(0.0))
			Expect(plant.FlowRate()).To(Equal(200.0))
			Expect(clock.IsRunning()).To(BeTrue())
			Expect(journal.Len()).To(BeZero())
		})
	})

	It("reads thresholds on every sample", func() {
		Expect(monitor.Evaluate(sim.Sample{CoreTemp: 450})).To(Equal(safety.LevelNormal))
		cfg.SetCautionTemp(400)
		Expect(monitor.Evaluate(sim.Sample{CoreTemp: 450})).To(Equal(safety.LevelCaution))
		cfg.SetCriticalTemp(440)
		Expect(monitor.Evaluate(sim.Sample{CoreTemp: 450})).To(Equal(safety.LevelCritical))
	})

	Describe("Scram", func() {
		DescribeTable("always inserts rods fully",
			func(prior float64) {
				plant.SetRodPosition(prior)
				monitor.Scram()
				Expect(plant.RodPosition()).To(Equal(1.0))
				Expect(monitor.Status()).To(Equal(safety.StatusScrammed))
			},
			Entry("withdrawn", 0.0),
			Entry("partially inserted", 0.37),
			Entry("already inserted", 1.0),
		)

		It("works while the core is cold", func() {
			monitor.Evaluate(sim.Sample{CoreTemp: 290})
			monitor.Scram()
			Expect(plant.RodPosition()).To(Equal(1.0))
			Expect(clock.IsRunning()).To(BeTrue())
		})
	})

	Describe("EmergencyInject", func() {
		It("restores each injection's own snapshot", func() {
			monitor.EmergencyInject(10*time.Second, 1000)
			monitor.EmergencyInject(5*time.Second, 500)
			Expect(plant.FlowRate()).To(Equal(500.0))

			sched.Fire(1)
			Expect(plant.FlowRate()).To(Equal(1000.0))

			sched.Fire(0)
			Expect(plant.FlowRate()).To(Equal(200.0))
		})

		It("reports the emergency status until the restore", func() {
			monitor.EmergencyInject(time.Second, 800)
			Expect(monitor.Status()).To(Equal(safety.StatusEmergencyCoolant))
			sched.Fire(0)
			Expect(monitor.Status()).To(Equal(safety.StatusRunning))
		})
	})

	Context("with a real scheduler", func() {
		var scheduler *timers.Scheduler

		BeforeEach(func() {
			scheduler = timers.New(1, nil)
			monitor = safety.NewMonitor(cfg, safety.Deps{
				Rods:      plant,
				Pump:      plant,
				Clock:     clock,
				Journal:   journal,
				Scheduler: scheduler,
			})
		})

		AfterEach(func() {
			scheduler.Shutdown()
		})

		It("restores the flow once the duration elapses", func() {
			monitor.EmergencyInject(50*time.Millisecond, 1000)
			Expect(plant.FlowRate()).To(Equal(1000.0))

			Eventually(plant.FlowRate).WithTimeout(2 * time.Second).Should(Equal(200.0))
		})

		It("restores after an automatic trip stopped the clock", func() {
			cfg.SetEmergencyDuration(50 * time.Millisecond)
			monitor.Evaluate(sim.Sample{CoreTemp: 720})
			Expect(clock.IsRunning()).To(BeFalse())
			Expect(plant.FlowRate()).To(Equal(1000.0))

			Eventually(plant.FlowRate).WithTimeout(2 * time.Second).Should(Equal(200.0))
			Eventually(monitor.Status).Should(Equal(safety.StatusStopped))
		})
	})
})
