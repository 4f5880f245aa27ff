package automodel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"automodeler/internal/component"
)

// MapSize is the pixel count and pixel scale used for imaging.
type MapSize struct {
	Pixels   int     `yaml:"pixels" json:"pixels"`
	PixelMas float64 `yaml:"pixel_mas" json:"pixel_mas"`
}

// DefaultMapSize returns the conventional map geometry for a frequency band
// letter. Only the u (2 cm) and q (7 mm) bands have defaults; other bands
// must configure the map size explicitly.
func DefaultMapSize(band string) (MapSize, bool) {
	switch band {
	case "u":
		return MapSize{Pixels: 1024, PixelMas: 0.1}, true
	case "q":
		return MapSize{Pixels: 1024, PixelMas: 0.03}, true
	}
	return MapSize{}, false
}

// defaultBandFreqHz maps band letters to observing frequencies.
var defaultBandFreqHz = map[string]float64{
	"u": 15.4e9,
	"q": 43.2e9,
}

// CriterionConfig parameterizes one registered stopping criterion. Mode is
// "and", "or" or "while"; the zero value means "and".
type CriterionConfig struct {
	Mode string `yaml:"mode"`
}

// ConvergenceConfig parameterizes a windowed core-convergence criterion.
type ConvergenceConfig struct {
	CriterionConfig `yaml:",inline"`
	NCheck          int     `yaml:"n_check"`
	DeltaFluxMin    float64 `yaml:"delta_flux_min"`
	FracFluxMin     float64 `yaml:"frac_flux_min"`
	DeltaSizeMin    float64 `yaml:"delta_size_min"`
	FracSizeMin     float64 `yaml:"frac_size_min"`
}

// FluxThresholdConfig parameterizes the RMS-relative faintness criteria.
type FluxThresholdConfig struct {
	CriterionConfig `yaml:",inline"`
	NRMS            float64 `yaml:"n_rms"`
}

// TotalFluxConfig parameterizes the total-flux-closeness criterion.
type TotalFluxConfig struct {
	CriterionConfig `yaml:",inline"`
	AbsTol          float64 `yaml:"abs_tol"`
	RelTol          float64 `yaml:"rel_tol"`
}

// DistantConfig parameterizes the too-distant-component criterion. When the
// explicit ranges are all zero the bounding box is derived from the
// reference image.
type DistantConfig struct {
	CriterionConfig `yaml:",inline"`
	NRMS            float64 `yaml:"n_rms"`
	XMin            float64 `yaml:"x_min"`
	XMax            float64 `yaml:"x_max"`
	YMin            float64 `yaml:"y_min"`
	YMax            float64 `yaml:"y_max"`
}

func (d *DistantConfig) explicitBox() *component.Box {
	if d.XMin == 0 && d.XMax == 0 && d.YMin == 0 && d.YMax == 0 {
		return nil
	}
	return &component.Box{XMin: d.XMin, XMax: d.XMax, YMin: d.YMin, YMax: d.YMax}
}

// SmallFaintConfig parameterizes the too-small-and-faint criterion.
type SmallFaintConfig struct {
	CriterionConfig `yaml:",inline"`
	FluxMin         float64 `yaml:"flux_min"`
	SizeMin         float64 `yaml:"size_min"`
}

// CriteriaConfig selects and parameterizes the registered stopping criteria.
// A nil section leaves that criterion unregistered; the max-components cap is
// always registered regardless.
type CriteriaConfig struct {
	TotalFlux        *TotalFluxConfig     `yaml:"total_flux,omitempty"`
	FaintComponent   *FluxThresholdConfig `yaml:"faint_component,omitempty"`
	FaintPerArea     *FluxThresholdConfig `yaml:"faint_per_area,omitempty"`
	Distant          *DistantConfig       `yaml:"distant,omitempty"`
	SmallFaint       *SmallFaintConfig    `yaml:"small_faint,omitempty"`
	NegativeFlux     *CriterionConfig     `yaml:"negative_flux,omitempty"`
	Overlap          *CriterionConfig     `yaml:"overlap,omitempty"`
	ConvergeToLast   *ConvergenceConfig   `yaml:"converge_to_last,omitempty"`
	ConvergePairwise *ConvergenceConfig   `yaml:"converge_pairwise,omitempty"`
}

// SelectionConfig parameterizes the post-loop flux/size selectors.
type SelectionConfig struct {
	DeltaFlux float64 `yaml:"delta_flux"`
	FracFlux  float64 `yaml:"frac_flux"`
	DeltaSize float64 `yaml:"delta_size"`
	FracSize  float64 `yaml:"frac_size"`
	SmallCore float64 `yaml:"small_core"`
}

// FiltersConfig parameterizes the backward-walk model filters.
type FiltersConfig struct {
	SmallSize     float64 `yaml:"small_size"`
	SmallFluxMin  float64 `yaml:"small_flux_min"`
	MinAxialRatio float64 `yaml:"min_axial_ratio"`
	BoxNRMS       float64 `yaml:"box_n_rms"` // 0 disables the distant filter
	Overlap       bool    `yaml:"overlap"`
}

// Config is the full parameterization of an automodeling run.
type Config struct {
	DataPath   string `yaml:"data"`
	OutDir     string `yaml:"out_dir"`
	ScriptPath string `yaml:"script"`

	MapSize      MapSize `yaml:"map_size"`
	FreqHz       float64 `yaml:"freq_hz"`
	CoreElliptic bool    `yaml:"core_elliptic"`
	ComputeCV    bool    `yaml:"compute_cv"`

	MaxComponents int     `yaml:"max_components"`
	FitIterations int     `yaml:"fit_iterations"`
	FallbackSize  float64 `yaml:"fallback_size"` // mas, replaces NaN sizes

	Criteria  CriteriaConfig  `yaml:"criteria"`
	Selection SelectionConfig `yaml:"selection"`
	Filters   FiltersConfig   `yaml:"filters"`
}

// DefaultConfig mirrors the conventional run parameters: a 30-component cap,
// 100 fitting iterations, and a single OR-mode windowed convergence check
// over the last 5 models.
func DefaultConfig() Config {
	return Config{
		MaxComponents: 30,
		FitIterations: 100,
		FallbackSize:  0.01,
		Criteria: CriteriaConfig{
			ConvergeToLast: &ConvergenceConfig{
				CriterionConfig: CriterionConfig{Mode: "or"},
				NCheck:          5,
				DeltaFluxMin:    0.001,
				DeltaSizeMin:    0.001,
			},
		},
		Selection: SelectionConfig{
			DeltaFlux: 0.001,
			DeltaSize: 0.001,
			SmallCore: 1e-5,
		},
		Filters: FiltersConfig{
			SmallSize:    1e-5,
			SmallFluxMin: 0.001,
		},
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SourceName describes the data file naming convention
// <source>.<band>.<epoch>.<ext> used to derive fitted-model file names and
// band defaults.
type SourceName struct {
	Source string
	Band   string
	Epoch  string
}

// ParseSourceName splits a data file name on dots. Files that do not follow
// the convention yield only a Source (the stem with dots flattened).
func ParseSourceName(dataPath string) SourceName {
	base := filepath.Base(dataPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(stem, ".")
	if len(parts) >= 3 {
		return SourceName{Source: parts[0], Band: parts[1], Epoch: parts[2]}
	}
	return SourceName{Source: strings.ReplaceAll(stem, ".", "_")}
}

// Prefix returns the fitted-file name prefix for this source.
func (n SourceName) Prefix() string {
	if n.Band == "" {
		return n.Source
	}
	return n.Source + "_" + n.Band + "_" + n.Epoch
}

// Normalize fills derivable defaults (map size and frequency from the band)
// and validates that the run is fully specified.
func (c *Config) Normalize() error {
	if c.DataPath == "" {
		return fmt.Errorf("data path is required")
	}
	if c.OutDir == "" {
		return fmt.Errorf("output directory is required")
	}
	name := ParseSourceName(c.DataPath)
	if c.MapSize.Pixels == 0 {
		ms, ok := DefaultMapSize(name.Band)
		if !ok {
			return fmt.Errorf("no default map size for band %q, set map_size explicitly", name.Band)
		}
		c.MapSize = ms
	}
	if c.FreqHz == 0 {
		if f, ok := defaultBandFreqHz[name.Band]; ok {
			c.FreqHz = f
		} else {
			return fmt.Errorf("no default frequency for band %q, set freq_hz explicitly", name.Band)
		}
	}
	if c.MaxComponents <= 0 {
		return fmt.Errorf("max_components must be positive, got %d", c.MaxComponents)
	}
	if c.FitIterations <= 0 {
		return fmt.Errorf("fit_iterations must be positive, got %d", c.FitIterations)
	}
	if c.FallbackSize <= 0 {
		return fmt.Errorf("fallback_size must be positive, got %g", c.FallbackSize)
	}
	return nil
}
