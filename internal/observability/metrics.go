// Package observability exports the live plant state and safety activity as
// Prometheus metrics.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/san-kum/reactorsim/internal/sim"
)

// Collector observes every published sample and every safety evaluation
// that was not normal.
type Collector struct {
	gatherer prometheus.Gatherer

	Ticks        prometheus.Counter
	CoreTemp     prometheus.Gauge
	CoolantTemp  prometheus.Gauge
	RodPosition  prometheus.Gauge
	FlowRate     prometheus.Gauge
	CoreTempDist prometheus.Histogram
	SafetyEvents *prometheus.CounterVec
	DroppedOnBus prometheus.CounterFunc
}

// NewCollector registers the reactor metrics against reg, defaulting to the
// global registry when nil. dropped reports samples the broadcaster could
// not deliver; nil reports zero.
func NewCollector(reg prometheus.Registerer, dropped func() int64) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	if dropped == nil {
		dropped = func() int64 { return 0 }
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reactor_ticks_total",
		Help: "Total number of simulation ticks published.",
	}), "reactor_ticks_total")
	if err != nil {
		return nil, err
	}
	core, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reactor_core_temperature_celsius",
		Help: "Core temperature of the latest sample.",
	}), "reactor_core_temperature_celsius")
	if err != nil {
		return nil, err
	}
	coolant, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reactor_coolant_temperature_celsius",
		Help: "Coolant temperature of the latest sample.",
	}), "reactor_coolant_temperature_celsius")
	if err != nil {
		return nil, err
	}
	rod, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reactor_rod_position",
		Help: "Control rod insertion used for the latest tick, 0 withdrawn to 1 inserted.",
	}), "reactor_rod_position")
	if err != nil {
		return nil, err
	}
	flow, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reactor_coolant_flow_kg_per_second",
		Help: "Coolant flow rate used for the latest tick.",
	}), "reactor_coolant_flow_kg_per_second")
	if err != nil {
		return nil, err
	}
	dist, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reactor_core_temperature_distribution_celsius",
		Help:    "Distribution of core temperatures across ticks.",
		Buckets: []float64{300, 350, 400, 450, 500, 550, 600, 650, 700, 750, 800},
	}), "reactor_core_temperature_distribution_celsius")
	if err != nil {
		return nil, err
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reactor_safety_events_total",
		Help: "Safety evaluations that crossed a threshold, labeled by level.",
	}, []string{"level"})
	events, err = registerCounterVec(reg, events, "reactor_safety_events_total")
	if err != nil {
		return nil, err
	}

	droppedFn := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "reactor_dropped_samples_total",
		Help: "Samples dropped because a subscriber queue was full.",
	}, func() float64 { return float64(dropped()) })
	if err := reg.Register(droppedFn); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return nil, err
		}
	}

	return &Collector{
		gatherer:     gatherer,
		Ticks:        ticks,
		CoreTemp:     core,
		CoolantTemp:  coolant,
		RodPosition:  rod,
		FlowRate:     flow,
		CoreTempDist: dist,
		SafetyEvents: events,
		DroppedOnBus: droppedFn,
	}, nil
}

func (c *Collector) OnSample(s sim.Sample) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.CoreTemp.Set(s.CoreTemp)
	c.CoolantTemp.Set(s.CoolantTemp)
	c.RodPosition.Set(s.RodPosition)
	c.FlowRate.Set(s.FlowRate)
	c.CoreTempDist.Observe(s.CoreTemp)
}

func (c *Collector) RecordSafetyEvent(level string) {
	if c == nil {
		return
	}
	c.SafetyEvents.WithLabelValues(level).Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}
