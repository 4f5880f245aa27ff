package automodel

import (
	"log/slog"

	"automodeler/internal/component"
)

// ModelFilter vetoes a candidate model on plausibility grounds during the
// backward walk from the selector's chosen index.
type ModelFilter interface {
	Name() string
	Reject(comps []component.Component) bool
}

// SmallFaintFilter rejects models containing a non-core component that is
// both smaller than the size threshold and dimmer than the flux threshold:
// such a component is too small to trust unless it is bright.
type SmallFaintFilter struct {
	SizeMin float64 // mas
	FluxMin float64 // Jy
}

func (f SmallFaintFilter) Name() string { return "small-faint-component" }

func (f SmallFaintFilter) Reject(comps []component.Component) bool {
	for _, c := range comps[min(1, len(comps)):] {
		if c.Size < f.SizeMin && c.Flux < f.FluxMin {
			return true
		}
	}
	return false
}

// NegativeFluxFilter rejects models with any negative-flux component.
type NegativeFluxFilter struct{}

func (NegativeFluxFilter) Name() string { return "negative-flux" }

func (NegativeFluxFilter) Reject(comps []component.Component) bool {
	for _, c := range comps {
		if c.Flux < 0 {
			return true
		}
	}
	return false
}

// ElongatedCoreFilter rejects models whose elliptical core has collapsed to a
// degenerate axial ratio.
type ElongatedCoreFilter struct {
	RatioMin float64
}

func (f ElongatedCoreFilter) Name() string { return "elongated-core" }

func (f ElongatedCoreFilter) Reject(comps []component.Component) bool {
	if len(comps) == 0 {
		return false
	}
	core := comps[0]
	return core.Kind == component.EllipticalGaussian && core.Ratio < f.RatioMin
}

// DistantComponentFilter rejects models with any component outside the
// reference bounding box.
type DistantComponentFilter struct {
	Box component.Box
}

func (f DistantComponentFilter) Name() string { return "distant-component" }

func (f DistantComponentFilter) Reject(comps []component.Component) bool {
	for _, c := range comps {
		if !c.WithinBox(f.Box) {
			return true
		}
	}
	return false
}

// OverlapFilter rejects models where any pair of components overlaps
// (size-normalized separation below 1), checked over all pairs.
type OverlapFilter struct{}

func (OverlapFilter) Name() string { return "overlapping-components" }

func (OverlapFilter) Reject(comps []component.Component) bool {
	for i := 0; i < len(comps); i++ {
		for j := i + 1; j < len(comps); j++ {
			if comps[i].NormalizedSeparation(comps[j]) < 1 {
				return true
			}
		}
	}
	return false
}

// FilterRejection records one veto during the backward walk, for reporting.
type FilterRejection struct {
	Index  int    `json:"index"`
	File   string `json:"file"`
	Filter string `json:"filter"`
}

// FilterWalk starts at the chosen index and walks strictly backward,
// discarding candidates any filter rejects, until a model passes every
// filter or index 0 is reached. Index 0 is accepted unconditionally: the
// engine never returns nothing.
func FilterWalk(loader *Loader, files []string, idx int, filters []ModelFilter, log *slog.Logger) (int, []FilterRejection, error) {
	if log == nil {
		log = slog.Default()
	}
	var rejections []FilterRejection
	for ; idx > 0; idx-- {
		comps, err := loader.Load(files[idx])
		if err != nil {
			return 0, rejections, err
		}
		rejected := false
		for _, f := range filters {
			if f.Reject(comps) {
				log.Warn("model rejected by filter",
					"filter", f.Name(), "index", idx, "file", files[idx])
				rejections = append(rejections, FilterRejection{Index: idx, File: files[idx], Filter: f.Name()})
				rejected = true
				break
			}
		}
		if !rejected {
			return idx, rejections, nil
		}
	}
	if len(rejections) > 0 {
		log.Warn("every candidate rejected, accepting simplest model", "file", files[0])
	}
	return 0, rejections, nil
}
