package scenario_test

import (
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/reactorsim/internal/scenario"
	"github.com/san-kum/reactorsim/internal/thermal"
	"github.com/san-kum/reactorsim/internal/timers"
)

var _ = Describe("Engine", func() {
	var (
		plant  *thermal.Plant
		sched  *manualScheduler
		engine *scenario.Engine
	)

	BeforeEach(func() {
		plant = thermal.NewDefaultPlant()
		plant.Reactor.SetRodPosition(0.5)
		plant.Coolant.SetFlowRate(200)
		sched = &manualScheduler{}
		engine = scenario.NewEngine(plant.Reactor, plant.Coolant, sched, nil)
	})

	Describe("ReactivitySpike", func() {
		It("sets the rod immediately and restores it when the task fires", func() {
			engine.ReactivitySpike(10, 0.0)

			Expect(plant.Reactor.RodPosition()).To(Equal(0.0))
			Expect(sched.Len()).To(Equal(1))
			Expect(sched.Task(0).delay).To(Equal(10 * time.Second))

			sched.Task(0).fn()
			Expect(plant.Reactor.RodPosition()).To(Equal(0.5))
		})

		DescribeTable("clamps the requested position",
			func(requested, expected float64) {
				engine.ReactivitySpike(1, requested)
				Expect(plant.Reactor.RodPosition()).To(Equal(expected))
			},
			Entry("below range", -0.3, 0.0),
			Entry("above range", 1.7, 1.0),
			Entry("NaN", math.NaN(), 0.0),
			Entry("in range", 0.25, 0.25),
		)

		It("restores each invocation's own snapshot", func() {
			engine.ReactivitySpike(10, 0.2)
			engine.ReactivitySpike(5, 0.8)

			sched.Task(1).fn()
			Expect(plant.Reactor.RodPosition()).To(Equal(0.2))
			sched.Task(0).fn()
			Expect(plant.Reactor.RodPosition()).To(Equal(0.5))
		})
	})

	Describe("CoolantFailure", func() {
		It("stops the pump and restores the previous flow", func() {
			engine.CoolantFailure(3)
			Expect(plant.Coolant.FlowRate()).To(Equal(0.0))
			Expect(sched.Task(0).delay).To(Equal(3 * time.Second))

			sched.Task(0).fn()
			Expect(plant.Coolant.FlowRate()).To(Equal(200.0))
		})

		It("lets an earlier restore undo an operator change", func() {
			engine.CoolantFailure(3)
			plant.Coolant.SetFlowRate(50)
			sched.Task(0).fn()
			Expect(plant.Coolant.FlowRate()).To(Equal(200.0))
		})
	})

	DescribeTable("Duration",
		func(seconds float64, expected time.Duration) {
			Expect(scenario.Duration(seconds)).To(Equal(expected))
		},
		Entry("whole seconds", 10.0, 10*time.Second),
		Entry("fraction truncated", 2.9, 2*time.Second),
		Entry("below one second", 0.4, time.Duration(0)),
		Entry("negative", -5.0, time.Duration(0)),
		Entry("NaN", math.NaN(), time.Duration(0)),
	)

	Context("with a scaled scheduler", func() {
		It("restores the flow without real seconds passing", func() {
			s := timers.New(1000, nil)
			DeferCleanup(s.Shutdown)
			engine = scenario.NewEngine(plant.Reactor, plant.Coolant, s, nil)

			engine.CoolantFailure(2)
			Expect(plant.Coolant.FlowRate()).To(Equal(0.0))
			Eventually(plant.Coolant.FlowRate).WithTimeout(time.Second).Should(Equal(200.0))
		})
	})
})
