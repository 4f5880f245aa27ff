package automodel

import (
	"math"

	"automodeler/internal/component"
)

// ModelSelector scans the complete iteration history after the loop has
// stopped and proposes the preferred complexity level as a 0-based index into
// the iteration-ordered file list (file names stay 1-based; the off-by-one is
// deliberate and load-bearing for the filter walk).
type ModelSelector interface {
	Name() string
	// Select returns the chosen index and whether a converged run was
	// actually found; on false the index is the 0 fallback.
	Select(files []string) (int, bool, error)
}

// coreParamSelector picks the earliest iteration whose core parameter has
// already reached its final value: it thresholds every value against the most
// recent one and smooths the resulting mask with a width-2 binary opening so
// a single spurious agreement does not count as convergence.
type coreParamSelector struct {
	name      string
	loader    *Loader
	delta     float64 // absolute convergence delta
	frac      float64 // fraction of the final value; 0 disables
	smallCore float64 // below this the mask compares relative to the value itself
	param     func(component.Component) float64
}

// NewFluxSelector selects by core flux convergence.
func NewFluxSelector(loader *Loader, delta, frac float64) ModelSelector {
	return &coreParamSelector{
		name: "flux", loader: loader, delta: delta, frac: frac,
		param: func(c component.Component) float64 { return c.Flux },
	}
}

// NewSizeSelector selects by core size convergence. smallCore guards the
// fractional threshold against near-zero core sizes.
func NewSizeSelector(loader *Loader, delta, frac, smallCore float64) ModelSelector {
	return &coreParamSelector{
		name: "size", loader: loader, delta: delta, frac: frac, smallCore: smallCore,
		param: func(c component.Component) float64 { return c.Size },
	}
}

func (s *coreParamSelector) Name() string { return s.name }

func (s *coreParamSelector) Select(files []string) (int, bool, error) {
	ordered, err := SortByIteration(files)
	if err != nil {
		return 0, false, err
	}
	if len(ordered) == 0 {
		return 0, false, nil
	}

	vals := make([]float64, len(ordered))
	for i, f := range ordered {
		core, err := s.loader.Core(f)
		if err != nil {
			return 0, false, err
		}
		vals[i] = s.param(core)
	}

	last := vals[len(vals)-1]
	mask := make([]bool, len(vals))
	if s.smallCore > 0 && math.Abs(last) < s.smallCore && s.frac > 0 {
		// The fractional threshold degenerates for a vanishing core value;
		// compare differences relative to the value itself instead.
		for i, v := range vals {
			mask[i] = math.Abs(v-last)/math.Abs(last) < s.frac
		}
	} else {
		tol := s.delta
		if s.frac > 0 {
			tol = math.Min(s.delta, s.frac*math.Abs(last))
		}
		for i, v := range vals {
			mask[i] = math.Abs(v-last) < tol
		}
	}

	opened := binaryOpening(mask)
	for i, ok := range opened {
		if ok {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// binaryOpening erodes then dilates the mask with a width-2 structuring
// window anchored on the leading element, suppressing isolated flips: a run
// needs at least two consecutive true entries to survive.
func binaryOpening(mask []bool) []bool {
	n := len(mask)
	eroded := make([]bool, n)
	for i := 0; i < n; i++ {
		eroded[i] = mask[i] && i+1 < n && mask[i+1]
	}
	dilated := make([]bool, n)
	for i := 0; i < n; i++ {
		dilated[i] = eroded[i] || (i-1 >= 0 && eroded[i-1])
	}
	return dilated
}

// CombinedSelection runs every selector over the history and returns the
// maximum index (the most conservative complexity choice: under-fitting is
// worse than slight over-fitting). The per-selector indices are returned for
// reporting. Converged is false when no selector found a converged run.
func CombinedSelection(selectors []ModelSelector, files []string) (idx int, perSelector map[string]int, converged bool, err error) {
	perSelector = make(map[string]int, len(selectors))
	for _, s := range selectors {
		i, ok, err := s.Select(files)
		if err != nil {
			return 0, nil, false, err
		}
		perSelector[s.Name()] = i
		if ok {
			converged = true
		}
		if i > idx {
			idx = i
		}
	}
	return idx, perSelector, converged, nil
}
