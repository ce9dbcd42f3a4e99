package viz

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/reactorsim/internal/safety"
)

var (
	GlassPanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444466")).
			Padding(0, 2)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#00ffff"))

	Subtle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#666688"))

	StatusRunning = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ff88"))

	StatusStopped = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffaa00"))

	StatusAlarm = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ff4444")).
			Blink(true)

	StatusCaution = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffcc00"))

	MetricValue = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00ccff")).
			Bold(true)

	MetricLabel = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888899")).
			Width(16)

	KeyHint = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#666688")).
		Italic(true)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("#444466"))

	BarHigh = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff88"))
	BarMid  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffcc00"))
	BarLow  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff4444"))
)

// StatusStyle colours a safety status for the header.
func StatusStyle(s safety.Status) lipgloss.Style {
	switch s {
	case safety.StatusRunning:
		return StatusRunning
	case safety.StatusWarning, safety.StatusEmergencyCoolant:
		return StatusCaution
	case safety.StatusCritical, safety.StatusScrammed:
		return StatusAlarm
	}
	return StatusStopped
}

// ProgressBar renders a fraction in [0, 1] as a coloured bar.
func ProgressBar(percent float64, width int) string {
	filled := int(percent * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	if percent > 0.8 {
		return BarHigh.Render(bar)
	} else if percent > 0.4 {
		return BarMid.Render(bar)
	}
	return BarLow.Render(bar)
}

// TempBar fills toward the critical temperature, turning red past caution.
func TempBar(temp, caution, critical float64, width int) string {
	if critical <= 0 {
		return strings.Repeat("░", width)
	}
	frac := temp / critical
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	filled := int(frac * float64(width))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	switch {
	case temp >= critical:
		return StatusAlarm.Render(bar)
	case temp >= caution:
		return BarLow.Render(bar)
	case temp >= caution*0.8:
		return BarMid.Render(bar)
	}
	return BarHigh.Render(bar)
}

func Separator(width int) string {
	mid := width / 2
	if mid < 3 {
		return ""
	}
	left := strings.Repeat("─", mid-3)
	right := strings.Repeat("─", width-mid-3)
	return Subtle.Render(left + " ◆ " + right)
}
