// Package component defines the parametric brightness primitives a source
// model is assembled from, and the difmap-format model file codec used to
// exchange models with the external fitting tool.
package component

import (
	"math"
)

// Kind discriminates the supported component variants.
type Kind int

const (
	Delta Kind = iota
	CircularGaussian
	EllipticalGaussian
)

func (k Kind) String() string {
	switch k {
	case Delta:
		return "delta"
	case CircularGaussian:
		return "cgauss"
	case EllipticalGaussian:
		return "egauss"
	}
	return "unknown"
}

// Component is an immutable parametric brightness primitive. X and Y are sky
// offsets from the phase center in mas, Size is the FWHM of the major axis in
// mas (gaussians only), Ratio the axial ratio and PA the position angle in
// radians (elliptical only). A fitted model never mutates components in
// place; each refit produces new instances.
type Component struct {
	Kind  Kind
	Flux  float64 // Jy
	X, Y  float64 // mas
	Size  float64 // mas
	Ratio float64
	PA    float64 // rad

	// FixedFlux and FixedSize mark parameters the fitting tool must hold
	// constant during a refit. Position is always free.
	FixedFlux bool
	FixedSize bool
}

// NewDelta returns a point component.
func NewDelta(flux, x, y float64) Component {
	return Component{Kind: Delta, Flux: flux, X: x, Y: y, Ratio: 1}
}

// NewCircular returns a circular gaussian component.
func NewCircular(flux, x, y, size float64) Component {
	return Component{Kind: CircularGaussian, Flux: flux, X: x, Y: y, Size: size, Ratio: 1}
}

// NewElliptical returns an elliptical gaussian component.
func NewElliptical(flux, x, y, size, ratio, pa float64) Component {
	return Component{Kind: EllipticalGaussian, Flux: flux, X: x, Y: y, Size: size, Ratio: ratio, PA: pa}
}

// Params returns the parameter vector in the conventional order: flux, x, y,
// then size for gaussians, then ratio and position angle for ellipticals.
func (c Component) Params() []float64 {
	switch c.Kind {
	case Delta:
		return []float64{c.Flux, c.X, c.Y}
	case CircularGaussian:
		return []float64{c.Flux, c.X, c.Y, c.Size}
	default:
		return []float64{c.Flux, c.X, c.Y, c.Size, c.Ratio, c.PA}
	}
}

// Separation returns the sky distance to other in mas.
func (c Component) Separation(other Component) float64 {
	return math.Hypot(c.X-other.X, c.Y-other.Y)
}

// NormalizedSeparation returns the separation divided by the sum of the two
// half-sizes. Values below 1 mean the components geometrically overlap.
// Returns +Inf when both components are points at distinct positions, and 0
// for coincident points.
func (c Component) NormalizedSeparation(other Component) float64 {
	sep := c.Separation(other)
	denom := c.Size/2 + other.Size/2
	if denom == 0 {
		if sep == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return sep / denom
}

// Area returns the angular area of the component in mas^2. Points have zero
// area.
func (c Component) Area() float64 {
	r := c.Size / 2
	ratio := c.Ratio
	if c.Kind != EllipticalGaussian {
		ratio = 1
	}
	return math.Pi * r * r * ratio
}

// Box is an axis-aligned sky-coordinate region in mas.
type Box struct {
	XMin, XMax float64
	YMin, YMax float64
}

// Contains reports whether the point (x, y) lies inside the box.
func (b Box) Contains(x, y float64) bool {
	return x >= b.XMin && x <= b.XMax && y >= b.YMin && y <= b.YMax
}

// WithinBox reports whether the component's position lies inside the box.
func (c Component) WithinBox(b Box) bool {
	return b.Contains(c.X, c.Y)
}
