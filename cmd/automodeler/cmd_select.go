package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"automodeler/internal/automodel"
	"automodeler/internal/logging"
)

var selectFlags struct {
	dir        string
	configPath string
	logLevel   string
	logFormat  string
}

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Re-run selection and filtering over an existing iteration history",
	Long: `Select scans a directory of previously fitted model files, runs the flux and
size convergence selectors over the history, and walks the plausibility
filters backward from the chosen index. Useful for revisiting a finished run
with different selection parameters without refitting anything.`,
	RunE: runSelect,
}

func init() {
	f := selectCmd.Flags()
	f.StringVar(&selectFlags.dir, "dir", "", "Directory holding *_fitted_<n>.mdl files (required)")
	f.StringVar(&selectFlags.configPath, "config", "", "YAML config file overriding the built-in defaults")
	f.StringVar(&selectFlags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&selectFlags.logFormat, "log-format", "text", "Log format (text, json)")
	_ = selectCmd.MarkFlagRequired("dir")
}

func runSelect(_ *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(selectFlags.logLevel)
	if err != nil {
		return err
	}
	logging.Init(level, selectFlags.logFormat)
	log := logging.New("select")

	cfg := automodel.DefaultConfig()
	if selectFlags.configPath != "" {
		cfg, err = automodel.LoadConfig(selectFlags.configPath)
		if err != nil {
			return err
		}
	}

	files, err := filepath.Glob(filepath.Join(selectFlags.dir, "*_fitted_*.mdl"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no fitted model files in %s", selectFlags.dir)
	}
	ordered, err := automodel.SortByIteration(files)
	if err != nil {
		return err
	}

	loader := automodel.NewLoader(2 * len(ordered))
	sel := cfg.Selection
	selectors := []automodel.ModelSelector{
		automodel.NewFluxSelector(loader, sel.DeltaFlux, sel.FracFlux),
		automodel.NewSizeSelector(loader, sel.DeltaSize, sel.FracSize, sel.SmallCore),
	}
	idx, perSelector, converged, err := automodel.CombinedSelection(selectors, ordered)
	if err != nil {
		return err
	}
	for name, i := range perSelector {
		log.Info("selector verdict", "selector", name, "index", i)
	}
	if !converged {
		return fmt.Errorf("no converged complexity level in %d iterations", len(ordered))
	}

	fc := cfg.Filters
	filters := []automodel.ModelFilter{
		automodel.SmallFaintFilter{SizeMin: fc.SmallSize, FluxMin: fc.SmallFluxMin},
		automodel.NegativeFluxFilter{},
	}
	if fc.MinAxialRatio > 0 {
		filters = append(filters, automodel.ElongatedCoreFilter{RatioMin: fc.MinAxialRatio})
	}
	if fc.Overlap {
		filters = append(filters, automodel.OverlapFilter{})
	}

	best, rejections, err := automodel.FilterWalk(loader, ordered, idx, filters, log)
	if err != nil {
		return err
	}
	for _, r := range rejections {
		log.Info("filter rejection", "index", r.Index, "filter", r.Filter)
	}

	fmt.Println(ordered[best])
	return nil
}
