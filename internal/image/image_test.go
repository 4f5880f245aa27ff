package image

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// synthGaussian builds a square map containing a single circular gaussian of
// amplitude amp and width sigma (pixels) centered at (cx, cy).
func synthGaussian(size int, amp, cx, cy, sigma float64) *Map {
	m := &Map{
		Size:    size,
		DX:      -0.1,
		DY:      0.1,
		BeamMaj: 0.5,
		BeamMin: 0.3,
		Pixels:  make([]float64, size*size),
	}
	for iy := 0; iy < size; iy++ {
		for ix := 0; ix < size; ix++ {
			dx := float64(ix) - cx
			dy := float64(iy) - cy
			m.Pixels[iy*size+ix] = amp * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
		}
	}
	return m
}

func TestMapReadWrite_RoundTrip(t *testing.T) {
	m := synthGaussian(32, 1.0, 16, 12, 2.5)
	path := filepath.Join(t.TempDir(), "map.txt")
	if err := WriteMap(path, m); err != nil {
		t.Fatalf("WriteMap: %v", err)
	}
	got, err := ReadMap(path)
	if err != nil {
		t.Fatalf("ReadMap: %v", err)
	}
	if diff := cmp.Diff(m, got, cmpopts.EquateApprox(1e-12, 0)); diff != "" {
		t.Errorf("map round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadMap_Malformed(t *testing.T) {
	dir := t.TempDir()

	truncated := filepath.Join(dir, "short.txt")
	if err := os.WriteFile(truncated, []byte("automap 8 0.1 0.1 1 1 0\n1 2 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadMap(truncated); err == nil {
		t.Fatal("expected error for truncated pixel data")
	}

	badHeader := filepath.Join(dir, "bad.txt")
	if err := os.WriteFile(badHeader, []byte("notamap 2 0.1 0.1 1 1 0\n1 1 1 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadMap(badHeader); err == nil {
		t.Fatal("expected error for unknown header magic")
	}
}

func TestPixelToSky_SignConvention(t *testing.T) {
	m := &Map{Size: 8, DX: -0.1, DY: 0.1}

	// Pixel right of center maps to negative x when DX is negative.
	x, y := m.PixelToSky(6, 4)
	if x >= 0 {
		t.Errorf("x = %v, want negative for DX<0", x)
	}
	if y != 0 {
		t.Errorf("y = %v, want 0 at the center row", y)
	}

	x, _ = m.PixelToSky(2, 4)
	if math.Abs(x-0.2) > 1e-12 {
		t.Errorf("x = %v, want 0.2", x)
	}
}

func TestRMS(t *testing.T) {
	// Alternating +/-1 mJy noise field with one bright pixel that the
	// clipping pass must exclude.
	size := 32
	m := &Map{Size: size, DX: 0.1, DY: 0.1, BeamMaj: 1, BeamMin: 1, Pixels: make([]float64, size*size)}
	for i := range m.Pixels {
		if i%2 == 0 {
			m.Pixels[i] = 0.001
		} else {
			m.Pixels[i] = -0.001
		}
	}
	m.Pixels[5*size+5] = 1.0

	rms := m.RMS()
	if rms < 0.0005 || rms > 0.002 {
		t.Errorf("RMS = %v, want about 0.001", rms)
	}
}

func TestTotalFlux(t *testing.T) {
	// A map holding exactly one beam's worth of unit brightness integrates
	// to about 1 Jy.
	m := synthGaussian(64, 1.0, 32, 32, 2.0)
	// Match the beam to the gaussian: FWHM = fwhmFactor*sigma pixels, 0.1
	// mas per pixel.
	m.DX, m.DY = 0.1, 0.1
	m.BeamMaj = fwhmFactor * 2.0 * 0.1
	m.BeamMin = m.BeamMaj

	got := m.TotalFlux()
	if math.Abs(got-1.0) > 0.05 {
		t.Errorf("TotalFlux = %v, want about 1.0", got)
	}
}

func TestInferGaussian(t *testing.T) {
	m := synthGaussian(64, 2.0, 40, 24, 3.0)

	amp, ix, iy, fwhm := m.InferGaussian()
	if math.Abs(amp-2.0) > 1e-9 {
		t.Errorf("amp = %v, want 2.0", amp)
	}
	if ix != 40 || iy != 24 {
		t.Errorf("peak at (%v, %v), want (40, 24)", ix, iy)
	}
	want := fwhmFactor * 3.0
	if math.Abs(fwhm-want) > 0.08*want {
		t.Errorf("fwhm = %v, want about %v", fwhm, want)
	}
}

func TestInferGaussian_UnresolvedPeakIsNaN(t *testing.T) {
	size := 16
	m := &Map{Size: size, DX: 0.1, DY: 0.1, Pixels: make([]float64, size*size)}
	m.Pixels[8*size+8] = 1.0

	_, _, _, fwhm := m.InferGaussian()
	if !math.IsNaN(fwhm) {
		t.Errorf("fwhm = %v, want NaN for a single-pixel peak", fwhm)
	}
}

func TestSkyBBox(t *testing.T) {
	size := 16
	m := &Map{Size: size, DX: 0.1, DY: 0.1, Pixels: make([]float64, size*size)}
	m.Pixels[4*size+6] = 1.0  // (ix=6, iy=4)
	m.Pixels[10*size+9] = 0.5 // (ix=9, iy=10)
	m.Pixels[2*size+2] = 0.01 // below level

	box, ok := m.SkyBBox(0.1)
	if !ok {
		t.Fatal("SkyBBox found nothing above level")
	}
	// ix range 6..9 -> x range -0.2..0.1; iy range 4..10 -> y -0.4..0.2
	if math.Abs(box.XMin+0.2) > 1e-12 || math.Abs(box.XMax-0.1) > 1e-12 {
		t.Errorf("x range [%v, %v], want [-0.2, 0.1]", box.XMin, box.XMax)
	}
	if math.Abs(box.YMin+0.4) > 1e-12 || math.Abs(box.YMax-0.2) > 1e-12 {
		t.Errorf("y range [%v, %v], want [-0.4, 0.2]", box.YMin, box.YMax)
	}

	if _, ok := m.SkyBBox(10); ok {
		t.Error("SkyBBox above all pixels should report not found")
	}
}
