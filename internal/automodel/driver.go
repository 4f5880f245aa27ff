package automodel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"automodeler/internal/component"
	"automodeler/internal/image"
)

// ErrNoAcceptableModel is returned when the run completes but no complexity
// level in the iteration history is judged acceptable. The archived history
// and the run report are still produced for manual inspection.
var ErrNoAcceptableModel = errors.New("no acceptable model found")

// Backend is the contract with the external imaging/fitting tool. All calls
// block until the tool's output artifact is on disk; errors are fatal for the
// run and are never retried.
type Backend interface {
	// CleanMap images the dataset and returns the CLEAN map, also written
	// to outPath.
	CleanMap(ctx context.Context, dataPath, outPath string, ms MapSize) (*image.Map, error)
	// ModelFit jointly refits the model at mdlIn against the dataset,
	// writing the fitted model to mdlOut.
	ModelFit(ctx context.Context, dataPath, mdlIn, mdlOut string, niter int) error
	// Residuals subtracts the model's visibility prediction from the
	// dataset, writing the residual dataset to outPath.
	Residuals(ctx context.Context, dataPath, mdlPath, outPath string) error
}

// CVScorer computes a cross-validation score for a fitted model file.
type CVScorer interface {
	Score(ctx context.Context, dataPath, mdlPath string) (mean, std float64, err error)
}

// Modeler drives the propose/fit/evaluate loop and owns the iteration
// counter, the current model, and the cached reference image.
type Modeler struct {
	cfg     Config
	backend Backend
	cv      CVScorer
	loader  *Loader
	log     *slog.Logger
	name    SourceName

	mu        sync.Mutex
	iteration int
	report    *RunReport

	refMap *image.Map
}

// Option configures a Modeler.
type Option func(*Modeler)

// WithLogger sets the structured logger used for run diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(m *Modeler) { m.log = log }
}

// WithCVScorer enables per-iteration cross-validation scoring when the
// config's compute_cv flag is set.
func WithCVScorer(cv CVScorer) Option {
	return func(m *Modeler) { m.cv = cv }
}

// New validates the config and builds a Modeler.
func New(cfg Config, backend Backend, opts ...Option) (*Modeler, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	m := &Modeler{
		cfg:     cfg,
		backend: backend,
		loader:  NewLoader(2 * cfg.MaxComponents),
		log:     slog.Default(),
		name:    ParseSourceName(cfg.DataPath),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Iteration returns the number of completed fit iterations.
func (m *Modeler) Iteration() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iteration
}

// Report returns the run report, or nil while no run has recorded anything
// yet. The returned value is shared; callers must not mutate it.
func (m *Modeler) Report() *RunReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.report
}

func (m *Modeler) setIteration(i int) {
	m.mu.Lock()
	m.iteration = i
	m.mu.Unlock()
}

// refSource returns the memoized reference CLEAN image; it is materialized
// from the raw dataset during the first iteration, before any criterion can
// ask for it.
func (m *Modeler) refSource() RefImageSource {
	return func() (*image.Map, error) {
		if m.refMap == nil {
			return nil, errors.New("reference image not yet rendered")
		}
		return m.refMap, nil
	}
}

// Run executes the full automodeling cycle: the forward propose/fit loop,
// then selection and filtering over the accumulated history. It returns the
// path of the accepted model file, or ErrNoAcceptableModel when the history
// contains no acceptable complexity level.
func (m *Modeler) Run(ctx context.Context) (string, error) {
	if err := os.MkdirAll(m.cfg.OutDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	report := &RunReport{
		Source:   m.name.Prefix(),
		DataPath: m.cfg.DataPath,
		Started:  time.Now().UTC(),
	}
	m.mu.Lock()
	m.report = report
	m.mu.Unlock()

	defer func() {
		report.Finished = time.Now().UTC()
		path := filepath.Join(m.cfg.OutDir, m.name.Prefix()+"_automodel_report.json")
		if err := report.Write(path); err != nil {
			m.log.Warn("failed to write run report", "path", path, "err", err)
		}
	}()

	history, err := m.forwardLoop(ctx, report)
	if err != nil {
		report.Failure = err.Error()
		return "", err
	}

	best, err := m.selectBest(history, report)
	if err != nil {
		report.Failure = err.Error()
		return "", err
	}
	report.BestModel = best
	return best, nil
}

// forwardLoop adds one component per iteration until the criterion bank
// decides to stop or the component cap is reached. It returns the ordered
// fitted-model history.
func (m *Modeler) forwardLoop(ctx context.Context, report *RunReport) ([]string, error) {
	criteria, err := m.buildCriteria()
	if err != nil {
		return nil, err
	}
	bank := NewBank(m.log, criteria...)

	residPath := filepath.Join(m.cfg.OutDir, "residuals.uvf")
	ccPath := filepath.Join(m.cfg.OutDir, "image_cc.txt")

	var history []string
	currentModel := ""

	for i := 1; i <= m.cfg.MaxComponents; i++ {
		m.log.Info("iteration begins", "iteration", i, "source", m.name.Prefix())

		imagingData := m.cfg.DataPath
		if currentModel != "" {
			if err := m.backend.Residuals(ctx, m.cfg.DataPath, currentModel, residPath); err != nil {
				return nil, fmt.Errorf("residuals for iteration %d: %w", i, err)
			}
			imagingData = residPath
		}

		img, err := m.backend.CleanMap(ctx, imagingData, ccPath, m.cfg.MapSize)
		if err != nil {
			return nil, fmt.Errorf("imaging for iteration %d: %w", i, err)
		}
		if m.refMap == nil {
			// First iteration images the raw data; keep it as the
			// reference for criteria and filters.
			m.refMap = img
			origPath := filepath.Join(m.cfg.OutDir, "image_cc_orig.txt")
			if err := image.WriteMap(origPath, img); err != nil {
				return nil, fmt.Errorf("save reference image: %w", err)
			}
		}

		elliptic := i == 1 && m.cfg.CoreElliptic
		comp := SuggestComponent(img, elliptic, m.cfg.FallbackSize, m.log)
		m.log.Debug("component suggested", "iteration", i, "params", comp.Params())

		initPath := filepath.Join(m.cfg.OutDir, fmt.Sprintf("init_%d.mdl", i))
		if currentModel != "" {
			if err := copyFile(currentModel, initPath); err != nil {
				return nil, fmt.Errorf("assemble iteration %d: %w", i, err)
			}
			if err := component.AppendToModelFile(initPath, comp, m.cfg.FreqHz); err != nil {
				return nil, fmt.Errorf("assemble iteration %d: %w", i, err)
			}
		} else {
			if err := component.WriteModelFile(initPath, []component.Component{comp}, m.cfg.FreqHz); err != nil {
				return nil, fmt.Errorf("assemble iteration %d: %w", i, err)
			}
		}

		fittedPath := filepath.Join(m.cfg.OutDir,
			fmt.Sprintf("%s_fitted_%d.mdl", m.name.Prefix(), i))
		if err := m.backend.ModelFit(ctx, m.cfg.DataPath, initPath, fittedPath, m.cfg.FitIterations); err != nil {
			return nil, fmt.Errorf("model fit for iteration %d: %w", i, err)
		}
		if _, err := os.Stat(fittedPath); err != nil {
			return nil, fmt.Errorf("backend produced no fitted model for iteration %d: %w", i, err)
		}
		m.setIteration(i)

		fitted, err := m.loader.Load(fittedPath)
		if err != nil {
			return nil, fmt.Errorf("read fitted model for iteration %d: %w", i, err)
		}
		if len(fitted) != i {
			m.log.Warn("fitted model component count diverged from iteration number",
				"iteration", i, "components", len(fitted))
		}

		history = append(history, fittedPath)
		currentModel = fittedPath

		iterRep := IterationReport{
			Iteration:   i,
			ModelFile:   fittedPath,
			Suggested:   comp.Params(),
			NComponents: len(fitted),
		}

		if m.cfg.ComputeCV && m.cv != nil {
			mean, std, err := m.cv.Score(ctx, m.cfg.DataPath, fittedPath)
			if err != nil {
				return nil, fmt.Errorf("cross-validation for iteration %d: %w", i, err)
			}
			iterRep.CV = &CVScore{Mean: mean, Std: std}
		}

		bank.Record(fittedPath)
		dec, err := bank.Decide()
		if err != nil {
			return nil, fmt.Errorf("stop decision for iteration %d: %w", i, err)
		}
		if dec.Forced {
			iterRep.ForcedBy = dec.Reason
		}
		if dec.Stop {
			iterRep.StopReason = dec.Reason
			report.Iterations = append(report.Iterations, iterRep)
			m.log.Info("stopping criterion satisfied",
				"iteration", i, "criterion", dec.Reason)
			break
		}
		report.Iterations = append(report.Iterations, iterRep)
	}

	return history, nil
}

// selectBest runs the selectors and the backward filter walk over the
// completed history, archives the history, and cleans up everything but the
// accepted model file.
func (m *Modeler) selectBest(history []string, report *RunReport) (string, error) {
	ordered, err := SortByIteration(history)
	if err != nil {
		return "", err
	}
	if len(ordered) == 0 {
		return "", fmt.Errorf("empty iteration history: %w", ErrNoAcceptableModel)
	}

	archivePath := filepath.Join(m.cfg.OutDir, m.name.Source+"_fitted_models.tar.gz")
	if err := ArchiveModels(ordered, archivePath); err != nil {
		return "", err
	}
	report.Archive = archivePath

	sel := m.cfg.Selection
	selectors := []ModelSelector{
		NewFluxSelector(m.loader, sel.DeltaFlux, sel.FracFlux),
		NewSizeSelector(m.loader, sel.DeltaSize, sel.FracSize, sel.SmallCore),
	}
	idx, perSelector, converged, err := CombinedSelection(selectors, ordered)
	if err != nil {
		return "", err
	}
	report.SelectorIndices = perSelector
	if !converged {
		m.log.Warn("no selector found a converged complexity level",
			"iterations", len(ordered))
		return "", ErrNoAcceptableModel
	}
	m.log.Info("complexity selected", "index", idx, "iterations", len(ordered))

	best, rejections, err := FilterWalk(m.loader, ordered, idx, m.buildFilters(), m.log)
	if err != nil {
		return "", err
	}
	report.ChosenIndex = best
	report.FilterRejections = rejections

	bestPath := ordered[best]
	for _, f := range ordered {
		if f == bestPath {
			continue
		}
		if err := os.Remove(f); err != nil {
			m.log.Warn("cleanup failed", "file", f, "err", err)
		}
	}
	return bestPath, nil
}

// buildCriteria assembles the configured stopping criteria plus the mandatory
// max-components cap.
func (m *Modeler) buildCriteria() ([]StoppingCriterion, error) {
	ref := m.refSource()
	cc := m.cfg.Criteria
	var out []StoppingCriterion

	add := func(modeStr string, build func(Mode) StoppingCriterion) error {
		mode, err := ParseMode(modeStr)
		if err != nil {
			return err
		}
		out = append(out, build(mode))
		return nil
	}

	if c := cc.TotalFlux; c != nil {
		if err := add(c.Mode, func(mode Mode) StoppingCriterion {
			return NewTotalFluxCriterion(mode, m.loader, ref, c.AbsTol, c.RelTol)
		}); err != nil {
			return nil, err
		}
	}
	if c := cc.FaintComponent; c != nil {
		if err := add(c.Mode, func(mode Mode) StoppingCriterion {
			return NewFaintComponentCriterion(mode, m.loader, ref, c.NRMS)
		}); err != nil {
			return nil, err
		}
	}
	if c := cc.FaintPerArea; c != nil {
		if err := add(c.Mode, func(mode Mode) StoppingCriterion {
			return NewFaintPerAreaCriterion(mode, m.loader, ref, c.NRMS)
		}); err != nil {
			return nil, err
		}
	}
	if c := cc.Distant; c != nil {
		if err := add(c.Mode, func(mode Mode) StoppingCriterion {
			return NewDistantComponentCriterion(mode, m.loader, ref, c.NRMS, c.explicitBox())
		}); err != nil {
			return nil, err
		}
	}
	if c := cc.SmallFaint; c != nil {
		if err := add(c.Mode, func(mode Mode) StoppingCriterion {
			return NewSmallFaintCriterion(mode, m.loader, c.FluxMin, c.SizeMin)
		}); err != nil {
			return nil, err
		}
	}
	if c := cc.NegativeFlux; c != nil {
		if err := add(c.Mode, func(mode Mode) StoppingCriterion {
			return NewNegativeFluxCriterion(mode, m.loader)
		}); err != nil {
			return nil, err
		}
	}
	if c := cc.Overlap; c != nil {
		if err := add(c.Mode, func(mode Mode) StoppingCriterion {
			return NewOverlapCriterion(mode, m.loader)
		}); err != nil {
			return nil, err
		}
	}
	if c := cc.ConvergeToLast; c != nil {
		if err := add(c.Mode, func(mode Mode) StoppingCriterion {
			return NewConvergenceToLastCriterion(mode, m.loader, c.NCheck,
				c.DeltaFluxMin, c.FracFluxMin, c.DeltaSizeMin, c.FracSizeMin)
		}); err != nil {
			return nil, err
		}
	}
	if c := cc.ConvergePairwise; c != nil {
		if err := add(c.Mode, func(mode Mode) StoppingCriterion {
			return NewConvergencePairwiseCriterion(mode, m.loader, c.NCheck,
				c.DeltaFluxMin, c.FracFluxMin, c.DeltaSizeMin, c.FracSizeMin)
		}); err != nil {
			return nil, err
		}
	}

	out = append(out, NewMaxComponentsCriterion(m.cfg.MaxComponents))
	return out, nil
}

// buildFilters assembles the configured backward-walk filters.
func (m *Modeler) buildFilters() []ModelFilter {
	fc := m.cfg.Filters
	var out []ModelFilter
	if fc.SmallSize > 0 {
		out = append(out, SmallFaintFilter{SizeMin: fc.SmallSize, FluxMin: fc.SmallFluxMin})
	}
	out = append(out, NegativeFluxFilter{})
	if fc.MinAxialRatio > 0 {
		out = append(out, ElongatedCoreFilter{RatioMin: fc.MinAxialRatio})
	}
	if fc.BoxNRMS > 0 && m.refMap != nil {
		if box, ok := m.refMap.SkyBBox(fc.BoxNRMS * m.refMap.RMS()); ok {
			out = append(out, DistantComponentFilter{Box: box})
		}
	}
	if fc.Overlap {
		out = append(out, OverlapFilter{})
	}
	return out
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
