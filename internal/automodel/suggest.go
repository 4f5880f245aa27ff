package automodel

import (
	"log/slog"
	"math"

	"automodeler/internal/component"
	"automodeler/internal/image"
)

// SuggestComponent proposes exactly one new component from a residual map:
// peak amplitude, position and size by gaussian-moment inference, position
// converted to sky offsets with the map's axis sign convention, size
// deconvolved from the beam by quadrature subtraction. Degenerate inferences
// (NaN size, beam-dominated peak) fall back to fallbackSize instead of
// propagating NaN.
func SuggestComponent(m *image.Map, elliptic bool, fallbackSize float64, log *slog.Logger) component.Component {
	if log == nil {
		log = slog.Default()
	}

	amp, px, py, fwhmPix := m.InferGaussian()
	x, y := m.PixelToSky(px, py)

	size := fwhmPix * m.PixelMas()
	if math.IsNaN(size) {
		log.Debug("residual peak unresolved, using fallback size", "fallback_mas", fallbackSize)
		size = fallbackSize
	}

	beam := m.BeamGeometric()
	size = math.Sqrt(size*size - beam*beam)
	if math.IsNaN(size) {
		log.Debug("suggested size beam-dominated, using fallback size",
			"beam_mas", beam, "fallback_mas", fallbackSize)
		size = fallbackSize
	}

	if elliptic {
		return component.NewElliptical(amp, x, y, size, 1.0, 0)
	}
	return component.NewCircular(amp, x, y, size)
}
