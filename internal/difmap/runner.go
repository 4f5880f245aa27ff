// Package difmap shells out to the external imaging/fitting script that
// wraps difmap. The script exposes one subcommand per backend operation and
// communicates exclusively through files; the engine only ever checks that
// the expected artifact materialized.
package difmap

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"automodeler/internal/automodel"
	"automodeler/internal/image"
)

// Runner invokes the backend script. It implements automodel.Backend and the
// cross-validation backend.
type Runner struct {
	Script string
	Log    *slog.Logger
}

// NewRunner returns a Runner for the script at path. The logger may be nil.
func NewRunner(script string, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{Script: script, Log: log}
}

// CleanMap runs the "clean" subcommand and parses the resulting map grid.
func (r *Runner) CleanMap(ctx context.Context, dataPath, outPath string, ms automodel.MapSize) (*image.Map, error) {
	err := r.run(ctx, "clean", dataPath, outPath,
		strconv.Itoa(ms.Pixels), formatFloat(ms.PixelMas))
	if err != nil {
		return nil, err
	}
	m, err := image.ReadMap(outPath)
	if err != nil {
		return nil, fmt.Errorf("clean output %s: %w", outPath, err)
	}
	return m, nil
}

// ModelFit runs the "modelfit" subcommand, refitting mdlIn against the data
// and writing mdlOut.
func (r *Runner) ModelFit(ctx context.Context, dataPath, mdlIn, mdlOut string, niter int) error {
	if err := r.run(ctx, "modelfit", dataPath, mdlIn, mdlOut, strconv.Itoa(niter)); err != nil {
		return err
	}
	return expectFile(mdlOut)
}

// Residuals runs the "residuals" subcommand, writing the model-subtracted
// dataset to outPath.
func (r *Runner) Residuals(ctx context.Context, dataPath, mdlPath, outPath string) error {
	if err := r.run(ctx, "residuals", dataPath, mdlPath, outPath); err != nil {
		return err
	}
	return expectFile(outPath)
}

// SplitData runs the "split" subcommand, partitioning the dataset into a
// train and a test part with a deterministic seed.
func (r *Runner) SplitData(ctx context.Context, dataPath, trainPath, testPath string, seed int64) error {
	err := r.run(ctx, "split", dataPath, trainPath, testPath,
		strconv.FormatInt(seed, 10))
	if err != nil {
		return err
	}
	if err := expectFile(trainPath); err != nil {
		return err
	}
	return expectFile(testPath)
}

// Score runs the "score" subcommand and parses the single float the script
// prints to stdout.
func (r *Runner) Score(ctx context.Context, dataPath, mdlPath string) (float64, error) {
	out, err := r.output(ctx, "score", dataPath, mdlPath)
	if err != nil {
		return 0, err
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("score output %q: %w", strings.TrimSpace(out), err)
	}
	return score, nil
}

func (r *Runner) run(ctx context.Context, args ...string) error {
	_, err := r.output(ctx, args...)
	return err
}

func (r *Runner) output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.Script, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Log.Debug("backend script invoked", "subcommand", args[0], "args", args[1:])
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w: %s",
			filepath.Base(r.Script), args[0], err, tail(stderr.String()))
	}
	return stdout.String(), nil
}

// expectFile maps a missing backend artifact to a fatal error.
func expectFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backend did not produce %s: %w", path, err)
	}
	return nil
}

// tail returns the last few lines of backend output for error context.
func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, " | ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
