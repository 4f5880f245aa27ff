package component

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// The difmap model format stores one component per line:
//
//	flux radius theta major axial phi type freq spec
//
// with positions in polar form (radius in mas, theta in degrees) and a
// trailing "v" on a field marking it free to vary during a refit. Type code 0
// is a delta, 1 a gaussian (circular when the axial ratio is exactly 1).
// Comment lines start with "!".

const modelHeader = "! Flux (Jy) Radius (mas)  Theta (deg)  Major (mas)  Axial ratio   Phi (deg) T\n! Freq (Hz)     SpecIndex\n"

// ReadModelFile parses a difmap model file into components, in file order.
func ReadModelFile(path string) ([]Component, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model file: %w", err)
	}
	defer f.Close()

	var comps []Component
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "!") {
			continue
		}
		comp, err := parseModelLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		comps = append(comps, comp)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	return comps, nil
}

// parseModelLine parses one component record. Full records carry 9 fields,
// gaussians without the frequency tail 7, and bare deltas only 3.
func parseModelLine(line string) (Component, error) {
	fields := strings.Fields(line)

	var flux, radius, theta, major, axial, phi, typeCode string
	switch len(fields) {
	case 7, 8, 9:
		flux, radius, theta, major, axial, phi, typeCode =
			fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6]
	case 3:
		flux, radius, theta = fields[0], fields[1], fields[2]
		major, axial, phi, typeCode = "0", "1", "0", "0"
	default:
		return Component{}, fmt.Errorf("unparseable model record %q", line)
	}

	fluxVal, fluxFree, err := parseField(flux)
	if err != nil {
		return Component{}, fmt.Errorf("flux: %w", err)
	}
	rVal, _, err := parseField(radius)
	if err != nil {
		return Component{}, fmt.Errorf("radius: %w", err)
	}
	tVal, _, err := parseField(theta)
	if err != nil {
		return Component{}, fmt.Errorf("theta: %w", err)
	}

	tRad := tVal * math.Pi / 180
	x := -rVal * math.Sin(tRad)
	y := -rVal * math.Cos(tRad)

	tc, err := strconv.Atoi(strings.TrimSuffix(typeCode, "v"))
	if err != nil {
		return Component{}, fmt.Errorf("type code: %w", err)
	}

	switch tc {
	case 0:
		c := NewDelta(fluxVal, x, y)
		c.FixedFlux = !fluxFree
		return c, nil
	case 1:
		majVal, majFree, err := parseField(major)
		if err != nil {
			return Component{}, fmt.Errorf("major axis: %w", err)
		}
		axVal, _, err := parseField(axial)
		if err != nil {
			return Component{}, fmt.Errorf("axial ratio: %w", err)
		}
		if axVal == 1 {
			c := NewCircular(fluxVal, x, y, majVal)
			c.FixedFlux = !fluxFree
			c.FixedSize = !majFree
			return c, nil
		}
		phiVal, _, err := parseField(phi)
		if err != nil {
			return Component{}, fmt.Errorf("phi: %w", err)
		}
		pa := phiVal*math.Pi/180 + math.Pi/2
		c := NewElliptical(fluxVal, x, y, majVal, axVal, pa)
		c.FixedFlux = !fluxFree
		c.FixedSize = !majFree
		return c, nil
	default:
		return Component{}, fmt.Errorf("unsupported component type code %d", tc)
	}
}

// parseField parses a numeric field, stripping the trailing free-parameter
// marker when present.
func parseField(s string) (val float64, free bool, err error) {
	if strings.HasSuffix(s, "v") {
		free = true
		s = strings.TrimSuffix(s, "v")
	}
	val, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse %q: %w", s, err)
	}
	return val, free, nil
}

// WriteModelFile writes components to path in difmap model format, replacing
// any existing file.
func WriteModelFile(path string, comps []Component, freqHz float64) error {
	var b strings.Builder
	b.WriteString(modelHeader)
	for _, c := range comps {
		b.WriteString(formatComponent(c, freqHz))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write model file: %w", err)
	}
	return nil
}

// AppendToModelFile appends a single component record to an existing model
// file.
func AppendToModelFile(path string, c Component, freqHz float64) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open model file for append: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(formatComponent(c, freqHz)); err != nil {
		return fmt.Errorf("append component: %w", err)
	}
	return nil
}

// formatComponent renders one difmap model record, terminated by a newline.
func formatComponent(c Component, freqHz float64) string {
	r := math.Hypot(c.X, c.Y)
	theta := math.Atan2(-c.X, -c.Y) * 180 / math.Pi

	flux := num(c.Flux)
	if !c.FixedFlux {
		flux += "v"
	}

	var major, axial, phi, typeCode string
	switch c.Kind {
	case Delta:
		major, axial, phi, typeCode = "0.0000", "1.00000", "000.000", "0"
	case CircularGaussian:
		major, axial, phi, typeCode = num(c.Size), "1.00000", "000.000", "1"
		if !c.FixedSize {
			major += "v"
		}
	default:
		major = num(c.Size)
		if !c.FixedSize {
			major += "v"
		}
		axial = num(c.Ratio) + "v"
		phi = num((c.PA-math.Pi/2)*180/math.Pi) + "v"
		typeCode = "1"
	}

	return fmt.Sprintf("%s %sv %sv %s %s %s %s %s 0\n",
		flux, num(r), num(theta), major, axial, phi, typeCode, num(freqHz))
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// TotalFlux sums the fluxes of all components.
func TotalFlux(comps []Component) float64 {
	var sum float64
	for _, c := range comps {
		sum += c.Flux
	}
	return sum
}
