package viz

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/reactorsim/internal/control"
	"github.com/san-kum/reactorsim/internal/eventlog"
	"github.com/san-kum/reactorsim/internal/sim"
)

const (
	defaultHistory = 240
	rodStep        = 0.05
	flowStep       = 25.0
	scenarioS      = 10.0
	eventLines     = 6
	refreshEvery   = 250 * time.Millisecond
)

// Console is the control surface the dashboard drives.
type Console interface {
	Start(ctx context.Context) bool
	Stop() bool
	Reset()
	Scram()
	InjectEmergencyCoolant()
	SetRodPosition(v float64)
	SetFlowRate(v float64)
	TriggerReactivitySpike(durationS, rod float64)
	TriggerCoolantFailure(durationS float64)
	SetAutoShutdown(on bool)
	SetRodControl(on bool)
	ExportFile(path string) (string, error)
	Snapshot() control.Snapshot
	Events() *eventlog.Log
	Subscribe(buffer int) (<-chan sim.Sample, func())
}

type TickMsg time.Time

// SampleMsg carries one published sample into the update loop.
type SampleMsg sim.Sample

type samplesClosedMsg struct{}

type Options struct {
	// History is the chart window in samples.
	History int
	// ExportDir receives CSV exports; empty means the working directory.
	ExportDir string
	Now       func() time.Time
}

// Model is the bubbletea model of the dashboard.
type Model struct {
	ctx     context.Context
	console Console
	opts    Options

	samples     <-chan sim.Sample
	unsubscribe func()

	core     []float64
	coolant  []float64
	lastTime float64

	notice   string
	showHelp bool
	width    int
}

func NewModel(ctx context.Context, c Console, opts Options) Model {
	if opts.History <= 0 {
		opts.History = defaultHistory
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ch, cancel := c.Subscribe(64)
	return Model{
		ctx:         ctx,
		console:     c,
		opts:        opts,
		samples:     ch,
		unsubscribe: cancel,
		core:        make([]float64, 0, opts.History),
		coolant:     make([]float64, 0, opts.History),
		width:       100,
	}
}

func waitForSample(ch <-chan sim.Sample) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return samplesClosedMsg{}
		}
		return SampleMsg(s)
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForSample(m.samples), tick())
}

// Update handles key presses and incoming samples.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case SampleMsg:
		m.record(sim.Sample(msg))
		return m, waitForSample(m.samples)
	case samplesClosedMsg:
		return m, nil
	case TickMsg:
		return m, tick()
	case tea.WindowSizeMsg:
		m.width = msg.Width
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	snap := m.console.Snapshot()
	switch msg.String() {
	case "q", "ctrl+c":
		m.unsubscribe()
		return m, tea.Quit
	case " ":
		if snap.Running {
			m.console.Stop()
		} else {
			m.clearHistory()
			m.console.Start(m.ctx)
		}
	case "r":
		m.console.Reset()
		m.clearHistory()
	case "s":
		m.console.Scram()
	case "e":
		m.console.InjectEmergencyCoolant()
	case "up", "k":
		m.console.SetRodPosition(snap.RodPosition + rodStep)
	case "down", "j":
		m.console.SetRodPosition(snap.RodPosition - rodStep)
	case "right", "l":
		m.console.SetFlowRate(snap.FlowRate + flowStep)
	case "left", "h":
		m.console.SetFlowRate(snap.FlowRate - flowStep)
	case "p":
		m.console.TriggerReactivitySpike(scenarioS, 0)
	case "f":
		m.console.TriggerCoolantFailure(scenarioS)
	case "a":
		m.console.SetAutoShutdown(!snap.Safety.AutoShutdown)
	case "c":
		m.console.SetRodControl(!snap.RodControl)
	case "x":
		name := fmt.Sprintf("reactor_sim_%d.csv", m.opts.Now().UnixMilli())
		path, err := m.console.ExportFile(filepath.Join(m.opts.ExportDir, name))
		if err != nil {
			m.notice = "export failed: " + err.Error()
		} else {
			m.notice = "exported " + path
		}
	case "?":
		m.showHelp = !m.showHelp
	}
	return m, nil
}

// record appends s to the chart window. A sample earlier than the last one
// means the clock restarted.
func (m *Model) record(s sim.Sample) {
	if s.Time < m.lastTime {
		m.clearHistory()
	}
	m.lastTime = s.Time
	m.core = appendWindow(m.core, s.CoreTemp, m.opts.History)
	m.coolant = appendWindow(m.coolant, s.CoolantTemp, m.opts.History)
}

func appendWindow(xs []float64, v float64, limit int) []float64 {
	xs = append(xs, v)
	if len(xs) > limit {
		xs = xs[len(xs)-limit:]
	}
	return xs
}

func (m *Model) clearHistory() {
	m.core = m.core[:0]
	m.coolant = m.coolant[:0]
	m.lastTime = 0
}

// History returns copies of the charted core and coolant series.
func (m Model) History() (core, coolant []float64) {
	return append([]float64(nil), m.core...), append([]float64(nil), m.coolant...)
}

func (m Model) Notice() string { return m.notice }

// View renders the dashboard.
func (m Model) View() string {
	snap := m.console.Snapshot()

	var left strings.Builder
	left.WriteString(HeaderStyle.Render("REACTOR THERMAL SIMULATOR") + "\n")
	left.WriteString(StatusStyle(snap.Status).Render(string(snap.Status)))
	left.WriteString(Subtle.Render(fmt.Sprintf("   t=%.1fs", snap.SimTime)) + "\n\n")

	chartWidth := m.width - 50
	if chartWidth < 20 {
		chartWidth = 20
	}
	if len(m.core) > 1 {
		left.WriteString(asciigraph.Plot(m.core, asciigraph.Height(10), asciigraph.Width(chartWidth), asciigraph.Caption("Core temperature (°C)")))
		left.WriteString("\n\n")
		left.WriteString(asciigraph.Plot(m.coolant, asciigraph.Height(5), asciigraph.Width(chartWidth), asciigraph.Caption("Coolant temperature (°C)")))
		left.WriteString("\n")
	} else {
		left.WriteString(Subtle.Render("waiting for samples, press space to start") + "\n")
	}

	var right strings.Builder
	right.WriteString(Title.Render("PLANT") + "\n")
	right.WriteString(MetricLabel.Render("Core") + MetricValue.Render(fmt.Sprintf("%.2f °C", snap.CoreTemp)) + "\n")
	right.WriteString(TempBar(snap.CoreTemp, snap.Safety.CautionTemp, snap.Safety.CriticalTemp, 24) + "\n")
	right.WriteString(MetricLabel.Render("Coolant") + MetricValue.Render(fmt.Sprintf("%.2f °C", snap.CoolantTemp)) + "\n")
	right.WriteString(MetricLabel.Render("Power") + MetricValue.Render(fmt.Sprintf("%.2f MW", snap.Power/1e6)) + "\n")
	right.WriteString(MetricLabel.Render("Rod position") + MetricValue.Render(fmt.Sprintf("%.2f", snap.RodPosition)) + "\n")
	right.WriteString(ProgressBar(snap.RodPosition, 24) + "\n")
	right.WriteString(MetricLabel.Render("Flow") + MetricValue.Render(fmt.Sprintf("%.1f kg/s", snap.FlowRate)) + "\n\n")

	right.WriteString(Title.Render("SAFETY") + "\n")
	right.WriteString(MetricLabel.Render("Caution") + MetricValue.Render(fmt.Sprintf("%.1f °C", snap.Safety.CautionTemp)) + "\n")
	right.WriteString(MetricLabel.Render("Critical") + MetricValue.Render(fmt.Sprintf("%.1f °C", snap.Safety.CriticalTemp)) + "\n")
	right.WriteString(MetricLabel.Render("Auto-shutdown") + MetricValue.Render(onOff(snap.Safety.AutoShutdown)) + "\n")
	right.WriteString(MetricLabel.Render("Trips") + MetricValue.Render(fmt.Sprintf("%d", snap.Trips)) + "\n")
	rodCtl := onOff(snap.RodControl)
	if snap.RodControl {
		rodCtl += fmt.Sprintf(" @ %.1f °C", snap.RodSetpoint)
	}
	right.WriteString(MetricLabel.Render("Rod control") + MetricValue.Render(rodCtl) + "\n")
	if snap.DroppedTicks > 0 {
		right.WriteString(MetricLabel.Render("Dropped") + Subtle.Render(fmt.Sprintf("%d", snap.DroppedTicks)) + "\n")
	}

	top := lipgloss.JoinHorizontal(lipgloss.Top, GlassPanel.Render(left.String()), GlassPanel.Render(right.String()))

	var bottom strings.Builder
	bottom.WriteString(Title.Render("EVENTS") + "\n")
	for _, e := range m.console.Events().Tail(eventLines) {
		bottom.WriteString(Subtle.Render(e) + "\n")
	}
	if m.notice != "" {
		bottom.WriteString(MetricValue.Render(m.notice) + "\n")
	}
	bottom.WriteString(Separator(60) + "\n")
	bottom.WriteString(KeyHint.Render("SP:Start/Stop R:Reset S:SCRAM E:Emergency ↑↓:Rods ←→:Flow P:Spike F:Fail A:Auto C:RodCtl X:CSV ?:Help Q:Quit"))

	view := top + "\n" + bottom.String()
	if m.showHelp {
		return helpText + "\n" + view
	}
	return view
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

const helpText = `
╔══════════════════════════════════════════╗
║            KEYBOARD SHORTCUTS            ║
╠══════════════════════════════════════════╣
║  Space    - Start/stop simulation        ║
║  R        - Reset plant                  ║
║  S        - SCRAM (insert rods)          ║
║  E        - Emergency coolant injection  ║
║  Up/K     - Insert rods (+0.05)          ║
║  Down/J   - Withdraw rods (-0.05)        ║
║  Right/L  - Coolant flow +25 kg/s        ║
║  Left/H   - Coolant flow -25 kg/s        ║
║  P        - Reactivity spike (10 s)      ║
║  F        - Coolant failure (10 s)       ║
║  A        - Toggle auto-shutdown         ║
║  C        - Toggle automatic rod control ║
║  X        - Export CSV                   ║
║  ?        - Toggle this help             ║
║  Q        - Quit                         ║
╚══════════════════════════════════════════╝`

// Run blocks on the dashboard until the user quits or ctx ends.
func Run(ctx context.Context, c Console, opts Options) error {
	m := NewModel(ctx, c, opts)
	defer m.unsubscribe()
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
