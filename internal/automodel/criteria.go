package automodel

import (
	"fmt"
	"math"

	"automodeler/internal/component"
)

// TotalFluxCriterion stops when the cumulative model flux comes within a
// tolerance of — or exceeds — the total flux of the reference CLEAN image.
type TotalFluxCriterion struct {
	tracker
	mode   Mode
	loader *Loader
	ref    RefImageSource
	AbsTol float64 // Jy
	RelTol float64 // fraction of the reference flux
}

func NewTotalFluxCriterion(mode Mode, loader *Loader, ref RefImageSource, absTol, relTol float64) *TotalFluxCriterion {
	return &TotalFluxCriterion{tracker: tracker{minFiles: 1}, mode: mode, loader: loader, ref: ref, AbsTol: absTol, RelTol: relTol}
}

func (c *TotalFluxCriterion) Name() string { return "total-flux" }
func (c *TotalFluxCriterion) Mode() Mode   { return c.mode }

func (c *TotalFluxCriterion) Stop() (bool, error) {
	if !c.Applicable() {
		return false, nil
	}
	comps, err := c.loader.Load(c.latest())
	if err != nil {
		return false, err
	}
	ref, err := c.ref()
	if err != nil {
		return false, err
	}
	refFlux := ref.TotalFlux()
	tol := math.Max(c.AbsTol, c.RelTol*refFlux)
	return refFlux-component.TotalFlux(comps) <= tol, nil
}

// FaintComponentCriterion stops when the most recently added component's flux
// falls below n_rms times the reference image RMS.
type FaintComponentCriterion struct {
	tracker
	mode   Mode
	loader *Loader
	ref    RefImageSource
	NRMS   float64
}

func NewFaintComponentCriterion(mode Mode, loader *Loader, ref RefImageSource, nRMS float64) *FaintComponentCriterion {
	return &FaintComponentCriterion{tracker: tracker{minFiles: 1}, mode: mode, loader: loader, ref: ref, NRMS: nRMS}
}

func (c *FaintComponentCriterion) Name() string { return "faint-component" }
func (c *FaintComponentCriterion) Mode() Mode   { return c.mode }

func (c *FaintComponentCriterion) Stop() (bool, error) {
	if !c.Applicable() {
		return false, nil
	}
	newest, err := c.loader.Newest(c.latest())
	if err != nil {
		return false, err
	}
	ref, err := c.ref()
	if err != nil {
		return false, err
	}
	return newest.Flux < c.NRMS*ref.RMS(), nil
}

// FaintPerAreaCriterion is the resolution-aware variant of the faint-component
// check: the detection threshold grows with the component's angular area
// relative to the beam, since an extended component of the same flux has a
// proportionally lower peak brightness.
type FaintPerAreaCriterion struct {
	tracker
	mode   Mode
	loader *Loader
	ref    RefImageSource
	NRMS   float64
}

func NewFaintPerAreaCriterion(mode Mode, loader *Loader, ref RefImageSource, nRMS float64) *FaintPerAreaCriterion {
	return &FaintPerAreaCriterion{tracker: tracker{minFiles: 1}, mode: mode, loader: loader, ref: ref, NRMS: nRMS}
}

func (c *FaintPerAreaCriterion) Name() string { return "faint-per-area" }
func (c *FaintPerAreaCriterion) Mode() Mode   { return c.mode }

func (c *FaintPerAreaCriterion) Stop() (bool, error) {
	if !c.Applicable() {
		return false, nil
	}
	newest, err := c.loader.Newest(c.latest())
	if err != nil {
		return false, err
	}
	ref, err := c.ref()
	if err != nil {
		return false, err
	}
	beam := ref.BeamGeometric()
	beamArea := math.Pi * beam * beam / 4
	scale := 1.0
	if beamArea > 0 {
		scale += newest.Area() / beamArea
	}
	return newest.Flux < c.NRMS*ref.RMS()*scale, nil
}

// DistantComponentCriterion stops when the newest component lands outside the
// plausible source region: an explicit coordinate box when configured,
// otherwise the bounding box of the reference image above n_rms times its
// RMS.
type DistantComponentCriterion struct {
	tracker
	mode   Mode
	loader *Loader
	ref    RefImageSource
	NRMS   float64
	Box    *component.Box // explicit ranges; nil = derive from the image
}

func NewDistantComponentCriterion(mode Mode, loader *Loader, ref RefImageSource, nRMS float64, box *component.Box) *DistantComponentCriterion {
	return &DistantComponentCriterion{tracker: tracker{minFiles: 1}, mode: mode, loader: loader, ref: ref, NRMS: nRMS, Box: box}
}

func (c *DistantComponentCriterion) Name() string { return "distant-component" }
func (c *DistantComponentCriterion) Mode() Mode   { return c.mode }

func (c *DistantComponentCriterion) Stop() (bool, error) {
	if !c.Applicable() {
		return false, nil
	}
	newest, err := c.loader.Newest(c.latest())
	if err != nil {
		return false, err
	}
	box := c.Box
	if box == nil {
		ref, err := c.ref()
		if err != nil {
			return false, err
		}
		b, ok := ref.SkyBBox(c.NRMS * ref.RMS())
		if !ok {
			return false, fmt.Errorf("reference image has no emission above %g rms", c.NRMS)
		}
		box = &b
	}
	return !newest.WithinBox(*box), nil
}

// SmallFaintCriterion stops when the newest component is simultaneously below
// a flux threshold and below a size threshold.
type SmallFaintCriterion struct {
	tracker
	mode    Mode
	loader  *Loader
	FluxMin float64 // Jy
	SizeMin float64 // mas
}

func NewSmallFaintCriterion(mode Mode, loader *Loader, fluxMin, sizeMin float64) *SmallFaintCriterion {
	return &SmallFaintCriterion{tracker: tracker{minFiles: 1}, mode: mode, loader: loader, FluxMin: fluxMin, SizeMin: sizeMin}
}

func (c *SmallFaintCriterion) Name() string { return "small-and-faint" }
func (c *SmallFaintCriterion) Mode() Mode   { return c.mode }

func (c *SmallFaintCriterion) Stop() (bool, error) {
	if !c.Applicable() {
		return false, nil
	}
	newest, err := c.loader.Newest(c.latest())
	if err != nil {
		return false, err
	}
	return newest.Flux < c.FluxMin && newest.Size < c.SizeMin, nil
}

// NegativeFluxCriterion stops when any component of the latest model carries
// negative flux, a sign of a numerically ill-posed fit.
type NegativeFluxCriterion struct {
	tracker
	mode   Mode
	loader *Loader
}

func NewNegativeFluxCriterion(mode Mode, loader *Loader) *NegativeFluxCriterion {
	return &NegativeFluxCriterion{tracker: tracker{minFiles: 1}, mode: mode, loader: loader}
}

func (c *NegativeFluxCriterion) Name() string { return "negative-flux" }
func (c *NegativeFluxCriterion) Mode() Mode   { return c.mode }

func (c *NegativeFluxCriterion) Stop() (bool, error) {
	if !c.Applicable() {
		return false, nil
	}
	comps, err := c.loader.Load(c.latest())
	if err != nil {
		return false, err
	}
	for _, comp := range comps {
		if comp.Flux < 0 {
			return true, nil
		}
	}
	return false, nil
}

// OverlapCriterion stops when the newest component's size-normalized
// separation from any earlier component drops below 1, i.e. the fit has
// started stacking degenerate components on top of each other.
type OverlapCriterion struct {
	tracker
	mode   Mode
	loader *Loader
}

func NewOverlapCriterion(mode Mode, loader *Loader) *OverlapCriterion {
	return &OverlapCriterion{tracker: tracker{minFiles: 1}, mode: mode, loader: loader}
}

func (c *OverlapCriterion) Name() string { return "overlapping-components" }
func (c *OverlapCriterion) Mode() Mode   { return c.mode }

func (c *OverlapCriterion) Stop() (bool, error) {
	if !c.Applicable() {
		return false, nil
	}
	comps, err := c.loader.Load(c.latest())
	if err != nil {
		return false, err
	}
	if len(comps) < 2 {
		return false, nil
	}
	newest := comps[len(comps)-1]
	for _, prior := range comps[:len(comps)-1] {
		if newest.NormalizedSeparation(prior) < 1 {
			return true, nil
		}
	}
	return false, nil
}

// ConvergenceCriterion is the windowed core-convergence check, in two
// variants: CompareToLast holds all of the previous n_check core values
// against the latest one (any of flux or size converging suffices), while the
// pairwise variant requires each consecutive pair of the last n_check+1
// models to agree in both flux and size.
type ConvergenceCriterion struct {
	tracker
	mode     Mode
	loader   *Loader
	NCheck   int
	Pairwise bool

	DeltaFluxMin float64 // absolute floor, Jy
	FracFluxMin  float64 // fraction of the current flux
	DeltaSizeMin float64 // absolute floor, mas
	FracSizeMin  float64 // fraction of the current size
}

// NewConvergenceToLastCriterion compares the core of the previous n_check
// models against the latest one.
func NewConvergenceToLastCriterion(mode Mode, loader *Loader, nCheck int, deltaFlux, fracFlux, deltaSize, fracSize float64) *ConvergenceCriterion {
	return &ConvergenceCriterion{
		tracker: tracker{minFiles: nCheck + 1},
		mode:    mode, loader: loader, NCheck: nCheck,
		DeltaFluxMin: deltaFlux, FracFluxMin: fracFlux,
		DeltaSizeMin: deltaSize, FracSizeMin: fracSize,
	}
}

// NewConvergencePairwiseCriterion compares each of the last n_check
// consecutive model pairs.
func NewConvergencePairwiseCriterion(mode Mode, loader *Loader, nCheck int, deltaFlux, fracFlux, deltaSize, fracSize float64) *ConvergenceCriterion {
	c := NewConvergenceToLastCriterion(mode, loader, nCheck, deltaFlux, fracFlux, deltaSize, fracSize)
	c.Pairwise = true
	return c
}

func (c *ConvergenceCriterion) Name() string {
	if c.Pairwise {
		return "core-convergence-pairwise"
	}
	return "core-convergence"
}

func (c *ConvergenceCriterion) Mode() Mode { return c.mode }

func (c *ConvergenceCriterion) Stop() (bool, error) {
	if !c.Applicable() {
		return false, nil
	}
	window := c.files[len(c.files)-c.NCheck-1:]
	fluxes := make([]float64, len(window))
	sizes := make([]float64, len(window))
	for i, f := range window {
		core, err := c.loader.Core(f)
		if err != nil {
			return false, err
		}
		fluxes[i] = core.Flux
		sizes[i] = core.Size
	}

	last := len(window) - 1
	fluxTol := math.Max(c.DeltaFluxMin, c.FracFluxMin*math.Abs(fluxes[last]))
	sizeTol := math.Max(c.DeltaSizeMin, c.FracSizeMin*math.Abs(sizes[last]))

	if c.Pairwise {
		for i := 1; i < len(window); i++ {
			if math.Abs(fluxes[i]-fluxes[i-1]) >= fluxTol ||
				math.Abs(sizes[i]-sizes[i-1]) >= sizeTol {
				return false, nil
			}
		}
		return true, nil
	}

	fluxConverged, sizeConverged := true, true
	for i := 0; i < last; i++ {
		if math.Abs(fluxes[i]-fluxes[last]) >= fluxTol {
			fluxConverged = false
		}
		if math.Abs(sizes[i]-sizes[last]) >= sizeTol {
			sizeConverged = false
		}
	}
	return fluxConverged || sizeConverged, nil
}

// MaxComponentsCriterion is the mandatory safety cap: unconditionally true
// once the configured number of iterations has been reached.
type MaxComponentsCriterion struct {
	tracker
	N int
}

func NewMaxComponentsCriterion(n int) *MaxComponentsCriterion {
	return &MaxComponentsCriterion{tracker: tracker{minFiles: 1}, N: n}
}

func (c *MaxComponentsCriterion) Name() string { return "max-components" }
func (c *MaxComponentsCriterion) Mode() Mode   { return ModeAnd }

func (c *MaxComponentsCriterion) Stop() (bool, error) {
	return len(c.files) >= c.N, nil
}
