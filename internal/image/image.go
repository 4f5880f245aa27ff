// Package image holds the CLEAN/residual map representation the engine
// consumes, with the statistics helpers (RMS, bounding box, gaussian moment
// inference) used by stopping criteria and component suggestion.
//
// Maps are exchanged with the external backend as plain text grids, not FITS:
// a header line followed by size*size brightness values in Jy/beam, row major.
package image

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"automodeler/internal/component"
)

// Map is a square brightness image with its pixel and beam geometry. DX and
// DY are the signed axis increments in mas per pixel; BeamMaj and BeamMin are
// the restoring beam FWHM in mas, BeamPA its position angle in radians.
type Map struct {
	Size                     int
	DX, DY                   float64
	BeamMaj, BeamMin, BeamPA float64
	Pixels                   []float64 // row major, Pixels[iy*Size+ix]
}

// At returns the brightness at column ix, row iy.
func (m *Map) At(ix, iy int) float64 {
	return m.Pixels[iy*m.Size+ix]
}

// PixelMas returns the absolute pixel scale in mas.
func (m *Map) PixelMas() float64 {
	return math.Abs(m.DX)
}

// BeamGeometric returns the geometric mean beam FWHM in mas.
func (m *Map) BeamGeometric() float64 {
	return math.Sqrt(m.BeamMaj * m.BeamMin)
}

// PixelToSky converts pixel indices to sky offsets in mas, honoring the axis
// sign convention of the map.
func (m *Map) PixelToSky(ix, iy float64) (x, y float64) {
	x = math.Abs(m.DX) * (ix - float64(m.Size)/2) * sign(m.DX)
	y = math.Abs(m.DY) * (iy - float64(m.Size)/2) * sign(m.DY)
	return x, y
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

const mapMagic = "automap"

// ReadMap parses a plain-text map grid. The header line is
//
//	automap <size> <dx> <dy> <bmaj> <bmin> <bpa>
//
// followed by size*size whitespace-separated values.
func ReadMap(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open map: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	if !sc.Scan() {
		return nil, fmt.Errorf("map %s: empty file", path)
	}
	header := strings.Fields(sc.Text())
	if len(header) != 7 || header[0] != mapMagic {
		return nil, fmt.Errorf("map %s: malformed header %q", path, sc.Text())
	}

	size, err := strconv.Atoi(header[1])
	if err != nil || size <= 0 {
		return nil, fmt.Errorf("map %s: bad size %q", path, header[1])
	}
	var geom [5]float64
	for i, s := range header[2:] {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("map %s: bad header field %q: %w", path, s, err)
		}
		geom[i] = v
	}

	m := &Map{
		Size:    size,
		DX:      geom[0],
		DY:      geom[1],
		BeamMaj: geom[2],
		BeamMin: geom[3],
		BeamPA:  geom[4],
		Pixels:  make([]float64, 0, size*size),
	}

	for sc.Scan() {
		for _, tok := range strings.Fields(sc.Text()) {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, fmt.Errorf("map %s: bad pixel value %q: %w", path, tok, err)
			}
			m.Pixels = append(m.Pixels, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read map: %w", err)
	}
	if len(m.Pixels) != size*size {
		return nil, fmt.Errorf("map %s: got %d pixels, want %d", path, len(m.Pixels), size*size)
	}
	return m, nil
}

// WriteMap writes the map in the plain-text grid format read by ReadMap.
func WriteMap(path string, m *Map) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %g %g %g %g %g\n", mapMagic, m.Size, m.DX, m.DY, m.BeamMaj, m.BeamMin, m.BeamPA)
	for iy := 0; iy < m.Size; iy++ {
		row := make([]string, m.Size)
		for ix := 0; ix < m.Size; ix++ {
			row[ix] = strconv.FormatFloat(m.At(ix, iy), 'g', -1, 64)
		}
		b.WriteString(strings.Join(row, " "))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write map: %w", err)
	}
	return nil
}

// SkyBBox returns the sky-coordinate bounding box of all pixels above level.
// The second return value is false when no pixel exceeds the level.
func (m *Map) SkyBBox(level float64) (component.Box, bool) {
	minX, minY := m.Size, m.Size
	maxX, maxY := -1, -1
	for iy := 0; iy < m.Size; iy++ {
		for ix := 0; ix < m.Size; ix++ {
			if m.At(ix, iy) > level {
				if ix < minX {
					minX = ix
				}
				if ix > maxX {
					maxX = ix
				}
				if iy < minY {
					minY = iy
				}
				if iy > maxY {
					maxY = iy
				}
			}
		}
	}
	if maxX < 0 {
		return component.Box{}, false
	}

	x0, y0 := m.PixelToSky(float64(minX), float64(minY))
	x1, y1 := m.PixelToSky(float64(maxX), float64(maxY))
	box := component.Box{
		XMin: math.Min(x0, x1), XMax: math.Max(x0, x1),
		YMin: math.Min(y0, y1), YMax: math.Max(y0, y1),
	}
	return box, true
}
