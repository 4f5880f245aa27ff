package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"automodeler/internal/automodel"
	"automodeler/internal/cv"
	"automodeler/internal/difmap"
	"automodeler/internal/logging"
)

var modelFlags struct {
	data         string
	outDir       string
	script       string
	configPath   string
	pixels       int
	pixelMas     float64
	coreElliptic bool
	computeCV    bool
	maxComps     int
	logLevel     string
	logFormat    string
}

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Run the iterative model search on a visibility dataset",
	Long: `Model runs the full propose/fit/evaluate loop: each iteration images the
current residuals, proposes one component from the brightest peak, refits the
extended model against the data, and consults the stopping-criterion bank.
After the loop, flux and size selectors pick the preferred complexity and the
plausibility filters walk it back as needed.

On success the accepted model file path is printed to stdout.`,
	RunE: runModel,
}

func init() {
	f := modelCmd.Flags()
	f.StringVar(&modelFlags.data, "data", "", "Visibility dataset path, named <source>.<band>.<epoch>.<ext> (required)")
	f.StringVar(&modelFlags.outDir, "out-dir", "", "Output directory for models, images and the run report (required)")
	f.StringVar(&modelFlags.script, "script", "", "Path to the difmap wrapper script (required)")
	f.StringVar(&modelFlags.configPath, "config", "", "YAML config file overriding the built-in defaults")
	f.IntVar(&modelFlags.pixels, "map-pixels", 0, "CLEAN map size in pixels (default: band convention)")
	f.Float64Var(&modelFlags.pixelMas, "map-pixel-mas", 0, "CLEAN map pixel size in mas (default: band convention)")
	f.BoolVar(&modelFlags.coreElliptic, "core-elliptic", false, "Start the core as an elliptical gaussian")
	f.BoolVar(&modelFlags.computeCV, "cv", false, "Cross-validate each iteration's model")
	f.IntVar(&modelFlags.maxComps, "max-comps", 0, "Safety cap on the component count (default from config)")
	f.StringVar(&modelFlags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&modelFlags.logFormat, "log-format", "text", "Log format (text, json)")
	_ = modelCmd.MarkFlagRequired("data")
	_ = modelCmd.MarkFlagRequired("out-dir")
	_ = modelCmd.MarkFlagRequired("script")
}

func runModel(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(modelFlags.logLevel)
	if err != nil {
		return err
	}
	logging.Init(level, modelFlags.logFormat)

	cfg := automodel.DefaultConfig()
	if modelFlags.configPath != "" {
		cfg, err = automodel.LoadConfig(modelFlags.configPath)
		if err != nil {
			return err
		}
	}
	cfg.DataPath = modelFlags.data
	cfg.OutDir = modelFlags.outDir
	cfg.ScriptPath = modelFlags.script
	if modelFlags.pixels > 0 {
		cfg.MapSize = automodel.MapSize{Pixels: modelFlags.pixels, PixelMas: modelFlags.pixelMas}
	}
	if modelFlags.coreElliptic {
		cfg.CoreElliptic = true
	}
	if modelFlags.computeCV {
		cfg.ComputeCV = true
	}
	if modelFlags.maxComps > 0 {
		cfg.MaxComponents = modelFlags.maxComps
	}

	runner := difmap.NewRunner(cfg.ScriptPath, logging.New("difmap"))
	opts := []automodel.Option{automodel.WithLogger(logging.New("automodel"))}
	if cfg.ComputeCV {
		opts = append(opts, automodel.WithCVScorer(&cv.Scorer{
			Backend:       runner,
			K:             cv.DefaultFolds,
			NRep:          cv.DefaultReps,
			FitIterations: cfg.FitIterations,
			WorkDir:       cfg.OutDir,
			Log:           logging.New("cv"),
		}))
	}

	m, err := automodel.New(cfg, runner, opts...)
	if err != nil {
		return err
	}
	best, err := m.Run(cmd.Context())
	if errors.Is(err, automodel.ErrNoAcceptableModel) {
		return fmt.Errorf("no acceptable model found for %s; the iteration history is archived in %s",
			cfg.DataPath, cfg.OutDir)
	}
	if err != nil {
		return err
	}

	fmt.Println(best)
	return nil
}
