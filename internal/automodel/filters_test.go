package automodel

import (
	"testing"

	"automodeler/internal/component"
)

func TestOverlapFilterRejectsTouchingPair(t *testing.T) {
	// Separation 0.3 mas between two 1.0 mas components: normalized
	// separation 0.3/(0.5+0.5) < 1.
	comps := []component.Component{
		component.NewCircular(1.0, 0, 0, 1.0),
		component.NewCircular(0.3, 0.3, 0, 1.0),
	}
	if !(OverlapFilter{}).Reject(comps) {
		t.Error("touching pair not rejected")
	}

	apart := []component.Component{
		component.NewCircular(1.0, 0, 0, 1.0),
		component.NewCircular(0.3, 5, 0, 1.0),
	}
	if (OverlapFilter{}).Reject(apart) {
		t.Error("well-separated pair rejected")
	}
}

func TestOverlapFilterChecksAllPairs(t *testing.T) {
	// The overlapping pair is not the newest-vs-prior one.
	comps := []component.Component{
		component.NewCircular(1.0, 0, 0, 1.0),
		component.NewCircular(0.5, 0.2, 0, 1.0),
		component.NewCircular(0.3, 10, 0, 1.0),
	}
	if !(OverlapFilter{}).Reject(comps) {
		t.Error("non-trailing overlapping pair not rejected")
	}
}

func TestSmallFaintFilterIgnoresCore(t *testing.T) {
	f := SmallFaintFilter{SizeMin: 1e-5, FluxMin: 0.001}

	// A degenerate core alone does not reject.
	coreOnly := []component.Component{
		component.NewCircular(0.0005, 0, 0, 1e-6),
	}
	if f.Reject(coreOnly) {
		t.Error("core component rejected")
	}

	withJet := []component.Component{
		component.NewCircular(1.0, 0, 0, 0.5),
		component.NewCircular(0.0005, 1, 0, 1e-6),
	}
	if !f.Reject(withJet) {
		t.Error("small faint jet component not rejected")
	}

	// Small but bright is trusted.
	bright := []component.Component{
		component.NewCircular(1.0, 0, 0, 0.5),
		component.NewCircular(0.5, 1, 0, 1e-6),
	}
	if f.Reject(bright) {
		t.Error("small bright component rejected")
	}
}

func TestElongatedCoreFilter(t *testing.T) {
	f := ElongatedCoreFilter{RatioMin: 0.01}

	degenerate := []component.Component{
		component.NewElliptical(1.0, 0, 0, 0.5, 0.001, 0.3),
	}
	if !f.Reject(degenerate) {
		t.Error("degenerate elliptical core not rejected")
	}

	round := []component.Component{
		component.NewElliptical(1.0, 0, 0, 0.5, 0.8, 0.3),
	}
	if f.Reject(round) {
		t.Error("healthy elliptical core rejected")
	}

	circular := []component.Component{
		component.NewCircular(1.0, 0, 0, 0.5),
	}
	if f.Reject(circular) {
		t.Error("circular core rejected")
	}
}

func TestDistantComponentFilter(t *testing.T) {
	f := DistantComponentFilter{Box: component.Box{XMin: -1, XMax: 1, YMin: -1, YMax: 1}}
	inside := []component.Component{component.NewCircular(1.0, 0.5, -0.5, 0.5)}
	if f.Reject(inside) {
		t.Error("component inside box rejected")
	}
	outside := []component.Component{
		component.NewCircular(1.0, 0, 0, 0.5),
		component.NewCircular(0.1, 0, 5, 0.5),
	}
	if !f.Reject(outside) {
		t.Error("component outside box not rejected")
	}
}

func TestFilterWalkStopsAtFirstPassingModel(t *testing.T) {
	dir := t.TempDir()
	good := []component.Component{component.NewCircular(1.0, 0, 0, 0.5)}
	bad := []component.Component{
		component.NewCircular(1.0, 0, 0, 0.5),
		component.NewCircular(-0.1, 1, 0, 0.5),
	}
	files := writeHistory(t, dir, [][]component.Component{good, good, bad, bad})
	loader := NewLoader(8)

	idx, rejections, err := FilterWalk(loader, files, 3, []ModelFilter{NegativeFluxFilter{}}, nil)
	if err != nil {
		t.Fatalf("FilterWalk: %v", err)
	}
	if idx != 1 {
		t.Errorf("accepted index = %d, want 1", idx)
	}
	if len(rejections) != 2 {
		t.Fatalf("rejections = %d, want 2", len(rejections))
	}
	if rejections[0].Index != 3 || rejections[1].Index != 2 {
		t.Errorf("rejection order = %d,%d, want 3,2", rejections[0].Index, rejections[1].Index)
	}
	if rejections[0].Filter != "negative-flux" {
		t.Errorf("rejection filter = %q", rejections[0].Filter)
	}
}

func TestFilterWalkAcceptsSimplestUnconditionally(t *testing.T) {
	dir := t.TempDir()
	bad := []component.Component{component.NewCircular(-1.0, 0, 0, 0.5)}
	files := writeHistory(t, dir, [][]component.Component{bad, bad, bad})
	loader := NewLoader(8)

	idx, rejections, err := FilterWalk(loader, files, 2, []ModelFilter{NegativeFluxFilter{}}, nil)
	if err != nil {
		t.Fatalf("FilterWalk: %v", err)
	}
	if idx != 0 {
		t.Errorf("accepted index = %d, want 0 despite rejection", idx)
	}
	if len(rejections) != 2 {
		t.Errorf("rejections = %d, want 2 (index 0 is never evaluated)", len(rejections))
	}
}

func TestFilterWalkNoFilters(t *testing.T) {
	dir := t.TempDir()
	good := []component.Component{component.NewCircular(1.0, 0, 0, 0.5)}
	files := writeHistory(t, dir, [][]component.Component{good, good})
	loader := NewLoader(8)

	idx, rejections, err := FilterWalk(loader, files, 1, nil, nil)
	if err != nil {
		t.Fatalf("FilterWalk: %v", err)
	}
	if idx != 1 || len(rejections) != 0 {
		t.Errorf("got (%d, %d rejections), want (1, 0)", idx, len(rejections))
	}
}
