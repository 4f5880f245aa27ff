package image

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// RMS estimates the noise level of the map in Jy/beam. A single clipping pass
// excludes pixels more than 5 sigma from the mean so that bright source
// structure does not inflate the estimate.
func (m *Map) RMS() float64 {
	mean, std := stat.MeanStdDev(m.Pixels, nil)
	if std == 0 {
		return 0
	}

	clipped := make([]float64, 0, len(m.Pixels))
	for _, v := range m.Pixels {
		if math.Abs(v-mean) <= 5*std {
			clipped = append(clipped, v)
		}
	}
	if len(clipped) < 2 {
		return std
	}
	_, std = stat.MeanStdDev(clipped, nil)
	return std
}

// TotalFlux integrates the map brightness into Jy, dividing the pixel sum by
// the beam area in pixels.
func (m *Map) TotalFlux() float64 {
	beamAreaPix := math.Pi / (4 * math.Ln2) * m.BeamMaj * m.BeamMin / math.Abs(m.DX*m.DY)
	if beamAreaPix == 0 {
		return 0
	}
	return floats.Sum(m.Pixels) / beamAreaPix
}

// fwhmFactor converts a gaussian sigma to FWHM.
const fwhmFactor = 2.3548200450309493 // 2*sqrt(2*ln 2)

// InferGaussian fits a single gaussian to the brightest peak of the map by
// moments. It returns the peak amplitude in Jy/beam, the peak pixel position,
// and the FWHM in pixels. The FWHM is NaN when the peak is unresolved (no
// neighboring pixel above half maximum), which callers must replace with a
// fallback size.
func (m *Map) InferGaussian() (amp, ix, iy, fwhmPix float64) {
	peak := 0
	for i, v := range m.Pixels {
		if v > m.Pixels[peak] {
			peak = i
		}
	}
	amp = m.Pixels[peak]
	px := peak % m.Size
	py := peak / m.Size
	ix, iy = float64(px), float64(py)

	if amp <= 0 {
		return amp, ix, iy, math.NaN()
	}

	// Flux-weighted second moment over the half-maximum island around the
	// peak.
	half := amp / 2
	var wsum, msum float64
	for y := 0; y < m.Size; y++ {
		for x := 0; x < m.Size; x++ {
			v := m.At(x, y)
			if v < half {
				continue
			}
			dx := float64(x) - ix
			dy := float64(y) - iy
			wsum += v
			msum += v * (dx*dx + dy*dy)
		}
	}
	if wsum <= amp || msum == 0 {
		// Only the peak pixel itself is above half maximum.
		return amp, ix, iy, math.NaN()
	}
	// For a 2D gaussian the flux-weighted mean square distance over the
	// half-maximum island is 2*sigma^2*(1-ln 2); invert that to debias the
	// truncated moment.
	sigma := math.Sqrt(msum / wsum / (2 * (1 - math.Ln2)))
	return amp, ix, iy, fwhmFactor * sigma
}
