// Package cv scores fitted models by repeated K-fold cross-validation: the
// dataset is split into train/test parts, the model is refit on the train
// part and scored against the test part, and the per-fold scores are reduced
// to a mean and spread.
package cv

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// Defaults for engine-driven scoring.
const (
	DefaultFolds = 5
	DefaultReps  = 1
)

// Backend is the subset of the external-script surface cross-validation
// needs.
type Backend interface {
	SplitData(ctx context.Context, dataPath, trainPath, testPath string, seed int64) error
	ModelFit(ctx context.Context, dataPath, mdlIn, mdlOut string, niter int) error
	Score(ctx context.Context, dataPath, mdlPath string) (float64, error)
}

// Scorer runs the folds. Folds are independent and scored concurrently up to
// Parallel at a time.
type Scorer struct {
	Backend       Backend
	K             int // folds per repetition
	NRep          int // independent repetitions
	FitIterations int
	Parallel      int // 0 means K
	WorkDir       string
	Log           *slog.Logger
}

// Score cross-validates the model at mdlPath against the dataset and returns
// the mean and standard deviation over all K*NRep fold scores.
func (s *Scorer) Score(ctx context.Context, dataPath, mdlPath string) (mean, std float64, err error) {
	if s.K < 2 {
		return 0, 0, fmt.Errorf("cross-validation needs at least 2 folds, got %d", s.K)
	}
	reps := s.NRep
	if reps < 1 {
		reps = 1
	}
	log := s.Log
	if log == nil {
		log = slog.Default()
	}

	n := s.K * reps
	scores := make([]float64, n)

	g, ctx := errgroup.WithContext(ctx)
	limit := s.Parallel
	if limit <= 0 {
		limit = s.K
	}
	g.SetLimit(limit)

	for rep := 0; rep < reps; rep++ {
		for fold := 0; fold < s.K; fold++ {
			i := rep*s.K + fold
			g.Go(func() error {
				score, err := s.scoreFold(ctx, dataPath, mdlPath, i)
				if err != nil {
					return fmt.Errorf("fold %d: %w", i, err)
				}
				scores[i] = score
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	mean, std = stat.MeanStdDev(scores, nil)
	log.Debug("cross-validation complete",
		"model", filepath.Base(mdlPath), "folds", n, "mean", mean, "std", std)
	return mean, std, nil
}

// scoreFold splits, refits and scores one fold. The fold index doubles as
// the split seed so repeated runs see the same partitions.
func (s *Scorer) scoreFold(ctx context.Context, dataPath, mdlPath string, i int) (float64, error) {
	train := filepath.Join(s.WorkDir, fmt.Sprintf("cv_train_%d.uvf", i))
	test := filepath.Join(s.WorkDir, fmt.Sprintf("cv_test_%d.uvf", i))
	fitted := filepath.Join(s.WorkDir, fmt.Sprintf("cv_fitted_%d.mdl", i))

	if err := s.Backend.SplitData(ctx, dataPath, train, test, int64(i)); err != nil {
		return 0, err
	}
	if err := s.Backend.ModelFit(ctx, train, mdlPath, fitted, s.FitIterations); err != nil {
		return 0, err
	}
	return s.Backend.Score(ctx, test, fitted)
}
