package analysis

import (
	"math"
	"math/cmplx"

	"github.com/san-kum/reactorsim/internal/sim"
)

// spectrum is the discrete Fourier transform of a sample series. The series is
// zero-padded to the next power of two and bit-reversed before the
// butterfly passes, so bin k of the result covers k/(len*dt) Hz.
func spectrum(series []float64) []complex128 {
	n := 1
	for n < len(series) {
		n <<= 1
	}
	bins := make([]complex128, n)
	for i, v := range series {
		bins[i] = complex(v, 0)
	}

	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			bins[i], bins[j] = bins[j], bins[i]
		}
	}

	for size := 2; size <= n; size <<= 1 {
		step := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := 0; k < size/2; k++ {
				even, odd := bins[start+k], w*bins[start+k+size/2]
				bins[start+k] = even + odd
				bins[start+k+size/2] = even - odd
				w *= step
			}
		}
	}
	return bins
}

// PowerSpectrum removes the mean, zero-pads to a power of two and returns
// the magnitude of the first half of the transform. Bin k is k/(n*dt) Hz
// where n is the padded length.
func PowerSpectrum(data []float64) []float64 {
	if len(data) == 0 {
		return nil
	}
	mean := 0.0
	for _, v := range data {
		mean += v
	}
	mean /= float64(len(data))

	centred := make([]float64, len(data))
	for i, v := range data {
		centred[i] = v - mean
	}

	bins := spectrum(centred)
	ps := make([]float64, len(bins)/2)
	for i := range ps {
		ps[i] = cmplx.Abs(bins[i])
	}
	return ps
}

// Oscillation is the strongest periodic component of a series.
type Oscillation struct {
	Frequency float64 // Hz
	Period    float64 // s
	Magnitude float64
}

// DominantPeriod finds the strongest non-zero frequency of the core
// temperature. It reports false when the series is too short or flat.
func DominantPeriod(samples []sim.Sample, dt float64) (Oscillation, bool) {
	if len(samples) < 4 || dt <= 0 {
		return Oscillation{}, false
	}
	core := make([]float64, len(samples))
	for i, s := range samples {
		core[i] = s.CoreTemp
	}
	ps := PowerSpectrum(core)
	n := 2 * len(ps)

	best, idx := 0.0, 0
	for i := 1; i < len(ps); i++ {
		if ps[i] > best {
			best, idx = ps[i], i
		}
	}
	if idx == 0 || best < 1e-9 {
		return Oscillation{}, false
	}
	freq := float64(idx) / (float64(n) * dt)
	return Oscillation{Frequency: freq, Period: 1 / freq, Magnitude: best}, true
}
