package automodel

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"automodeler/internal/component"
)

// IterationNumber extracts the 1-based iteration number embedded in a fitted
// model file name (the trailing _<N> before the extension). The engine always
// recovers iteration order from this number, never from directory listing
// order.
func IterationNumber(path string) (int, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	idx := strings.LastIndex(stem, "_")
	if idx < 0 || idx == len(stem)-1 {
		return 0, fmt.Errorf("no iteration number in file name %q", base)
	}
	n, err := strconv.Atoi(stem[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("iteration number in %q: %w", base, err)
	}
	return n, nil
}

// SortByIteration returns a copy of files ordered by embedded iteration
// number.
func SortByIteration(files []string) ([]string, error) {
	type numbered struct {
		path string
		n    int
	}
	out := make([]numbered, 0, len(files))
	for _, f := range files {
		n, err := IterationNumber(f)
		if err != nil {
			return nil, err
		}
		out = append(out, numbered{f, n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].n < out[j].n })

	sorted := make([]string, len(out))
	for i, e := range out {
		sorted[i] = e.path
	}
	return sorted, nil
}

// Loader reads model files with an LRU cache in front, since criteria,
// selectors and filters repeatedly re-read the same append-only history.
// Cached component slices are shared and must be treated as read-only.
type Loader struct {
	cache *lru.Cache[string, []component.Component]
}

// NewLoader returns a loader caching up to n parsed model files.
func NewLoader(n int) *Loader {
	cache, err := lru.New[string, []component.Component](n)
	if err != nil {
		// Only possible with n <= 0.
		panic(err)
	}
	return &Loader{cache: cache}
}

// Load returns the parsed components of the model file at path.
func (l *Loader) Load(path string) ([]component.Component, error) {
	if comps, ok := l.cache.Get(path); ok {
		return comps, nil
	}
	comps, err := component.ReadModelFile(path)
	if err != nil {
		return nil, err
	}
	l.cache.Add(path, comps)
	return comps, nil
}

// Core returns the first (core) component of the model file at path.
func (l *Loader) Core(path string) (component.Component, error) {
	comps, err := l.Load(path)
	if err != nil {
		return component.Component{}, err
	}
	if len(comps) == 0 {
		return component.Component{}, fmt.Errorf("model file %s has no components", path)
	}
	return comps[0], nil
}

// Newest returns the last component of the model file at path, i.e. the one
// added most recently by the forward loop.
func (l *Loader) Newest(path string) (component.Component, error) {
	comps, err := l.Load(path)
	if err != nil {
		return component.Component{}, err
	}
	if len(comps) == 0 {
		return component.Component{}, fmt.Errorf("model file %s has no components", path)
	}
	return comps[len(comps)-1], nil
}
