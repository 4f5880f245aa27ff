package automodel

import (
	"math"
	"testing"

	"automodeler/internal/component"
	"automodeler/internal/image"
)

// residualMap builds a map with a circular gaussian of the given amplitude
// and sigma (in pixels) centered on (cx, cy).
func residualMap(size int, amp, sigmaPix float64, cx, cy int) *image.Map {
	m := &image.Map{
		Size: size, DX: -0.1, DY: 0.1,
		BeamMaj: 0.2, BeamMin: 0.2,
		Pixels: make([]float64, size*size),
	}
	for iy := 0; iy < size; iy++ {
		for ix := 0; ix < size; ix++ {
			dx := float64(ix - cx)
			dy := float64(iy - cy)
			m.Pixels[iy*size+ix] = amp * math.Exp(-(dx*dx+dy*dy)/(2*sigmaPix*sigmaPix))
		}
	}
	return m
}

func TestSuggestComponentResolvedPeak(t *testing.T) {
	m := residualMap(64, 2.0, 3.0, 32, 32)
	c := SuggestComponent(m, false, 0.01, nil)

	if c.Kind != component.CircularGaussian {
		t.Fatalf("kind = %v, want circular gaussian", c.Kind)
	}
	if c.Flux != 2.0 {
		t.Errorf("flux = %g, want peak amplitude 2.0", c.Flux)
	}
	if c.X != 0 || c.Y != 0 {
		t.Errorf("position = (%g, %g), want map center (0, 0)", c.X, c.Y)
	}

	// Deconvolved FWHM of a sigma=3 pixel gaussian on a 0.1 mas grid.
	fwhm := 2.3548200450309493 * 3.0 * 0.1
	want := math.Sqrt(fwhm*fwhm - 0.2*0.2)
	if math.Abs(c.Size-want)/want > 0.1 {
		t.Errorf("size = %g, want about %g", c.Size, want)
	}
}

func TestSuggestComponentUnresolvedPeakUsesFallback(t *testing.T) {
	// A single hot pixel has no measurable second moment: the inferred size
	// is NaN and must be replaced, not propagated.
	m := &image.Map{
		Size: 8, DX: -0.1, DY: 0.1,
		BeamMaj: 1.0, BeamMin: 1.0,
		Pixels: make([]float64, 64),
	}
	m.Pixels[3*8+3] = 2.0

	c := SuggestComponent(m, false, 0.25, nil)
	if math.IsNaN(c.Size) {
		t.Fatal("NaN size escaped the fallback")
	}
	if c.Size != 0.25 {
		t.Errorf("size = %g, want fallback 0.25", c.Size)
	}
}

func TestSuggestComponentBeamDominatedUsesFallback(t *testing.T) {
	// The peak is resolved but narrower than the beam, so the quadrature
	// subtraction would go imaginary.
	m := residualMap(64, 1.0, 3.0, 32, 32)
	m.BeamMaj, m.BeamMin = 5.0, 5.0

	c := SuggestComponent(m, false, 0.25, nil)
	if math.IsNaN(c.Size) {
		t.Fatal("NaN size escaped the fallback")
	}
	if c.Size != 0.25 {
		t.Errorf("size = %g, want fallback 0.25", c.Size)
	}
}

func TestSuggestComponentEllipticalVariant(t *testing.T) {
	m := residualMap(64, 2.0, 3.0, 32, 32)
	c := SuggestComponent(m, true, 0.01, nil)

	if c.Kind != component.EllipticalGaussian {
		t.Fatalf("kind = %v, want elliptical gaussian", c.Kind)
	}
	if c.Ratio != 1.0 {
		t.Errorf("initial axial ratio = %g, want 1.0", c.Ratio)
	}
	if c.PA != 0 {
		t.Errorf("initial position angle = %g, want 0", c.PA)
	}
}
