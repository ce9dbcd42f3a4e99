package export

import (
	"fmt"
	"strings"

	"github.com/san-kum/reactorsim/internal/sim"
)

// Threshold is a horizontal reference line drawn across a chart.
type Threshold struct {
	Value float64
	Color string
}

// ChartSVG plots core and coolant temperature against time with optional
// threshold lines.
func ChartSVG(samples []sim.Sample, width, height int, thresholds ...Threshold) string {
	if len(samples) < 2 || width <= 0 || height <= 0 {
		return ""
	}

	minX, maxX := samples[0].Time, samples[len(samples)-1].Time
	minY, maxY := samples[0].CoreTemp, samples[0].CoreTemp
	for _, s := range samples {
		minY = min(minY, s.CoreTemp, s.CoolantTemp)
		maxY = max(maxY, s.CoreTemp, s.CoolantTemp)
	}
	for _, th := range thresholds {
		minY = min(minY, th.Value)
		maxY = max(maxY, th.Value)
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minY -= rangeY * 0.05
	maxY += rangeY * 0.05
	rangeY = maxY - minY

	px := func(t float64) float64 { return (t - minX) / rangeX * float64(width) }
	py := func(v float64) float64 { return float64(height) - (v-minY)/rangeY*float64(height) }

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height)

	for _, th := range thresholds {
		y := py(th.Value)
		fmt.Fprintf(&sb, `<line x1="0" y1="%.1f" x2="%d" y2="%.1f" stroke="%s" stroke-dasharray="4 4"/>
`, y, width, y, th.Color)
	}

	path := func(color string, value func(sim.Sample) float64) {
		fmt.Fprintf(&sb, `<path fill="none" stroke="%s" stroke-width="1.5" d="M`, color)
		for i, s := range samples {
			if i > 0 {
				sb.WriteString(" L")
			}
			fmt.Fprintf(&sb, "%.1f,%.1f", px(s.Time), py(value(s)))
		}
		sb.WriteString("\"/>\n")
	}
	path("#ff5f5f", func(s sim.Sample) float64 { return s.CoreTemp })
	path("#5fafff", func(s sim.Sample) float64 { return s.CoolantTemp })

	sb.WriteString("</svg>")
	return sb.String()
}
