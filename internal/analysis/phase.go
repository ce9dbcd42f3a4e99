package analysis

import (
	"strings"

	"github.com/san-kum/reactorsim/internal/sim"
)

type Point struct{ X, Y float64 }

// PhasePortrait is the plant trajectory with core temperature on X and
// coolant temperature on Y.
type PhasePortrait struct {
	Points []Point
	// Marks are vertical reference lines on the core axis, such as the
	// caution and critical temperatures.
	Marks []float64
}

func NewPhasePortrait(samples []sim.Sample, marks ...float64) *PhasePortrait {
	p := &PhasePortrait{Points: make([]Point, len(samples)), Marks: marks}
	for i, s := range samples {
		p.Points[i] = Point{X: s.CoreTemp, Y: s.CoolantTemp}
	}
	return p
}

// ASCII renders the portrait on a width x height character grid. Marks
// inside the plotted range are drawn as '│'.
func (p *PhasePortrait) ASCII(width, height int) string {
	if p == nil || len(p.Points) == 0 || width < 2 || height < 2 {
		return ""
	}

	minX, maxX := p.Points[0].X, p.Points[0].X
	minY, maxY := p.Points[0].Y, p.Points[0].Y

	for _, pt := range p.Points {
		minX, maxX = min(minX, pt.X), max(maxX, pt.X)
		minY, maxY = min(minY, pt.Y), max(maxY, pt.Y)
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minX -= rangeX * 0.1
	maxX += rangeX * 0.1
	minY -= rangeY * 0.1
	maxY += rangeY * 0.1
	rangeX = maxX - minX
	rangeY = maxY - minY

	canvas := make([][]rune, height)
	for i := range canvas {
		canvas[i] = make([]rune, width)
		for j := range canvas[i] {
			canvas[i][j] = ' '
		}
	}

	for _, mark := range p.Marks {
		if mark < minX || mark > maxX {
			continue
		}
		col := int((mark - minX) / rangeX * float64(width-1))
		for row := 0; row < height; row++ {
			canvas[row][col] = '│'
		}
	}

	for _, pt := range p.Points {
		col := int((pt.X - minX) / rangeX * float64(width-1))
		row := height - 1 - int((pt.Y-minY)/rangeY*float64(height-1))

		if row >= 0 && row < height && col >= 0 && col < width {
			canvas[row][col] = '•'
		}
	}

	var sb strings.Builder
	for _, row := range canvas {
		sb.WriteString(string(row))
		sb.WriteRune('\n')
	}
	return sb.String()
}
