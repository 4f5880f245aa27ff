package automodel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseSourceName(t *testing.T) {
	tests := []struct {
		path   string
		want   SourceName
		prefix string
	}{
		{
			"/data/0212+735.u.2019_01_01.uvf",
			SourceName{Source: "0212+735", Band: "u", Epoch: "2019_01_01"},
			"0212+735_u_2019_01_01",
		},
		{
			"0851+202.q.2004_11_05.uvf",
			SourceName{Source: "0851+202", Band: "q", Epoch: "2004_11_05"},
			"0851+202_q_2004_11_05",
		},
		{
			"mysource.uvf",
			SourceName{Source: "mysource"},
			"mysource",
		},
	}
	for _, tt := range tests {
		got := ParseSourceName(tt.path)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("ParseSourceName(%q) mismatch (-want +got):\n%s", tt.path, diff)
		}
		if p := got.Prefix(); p != tt.prefix {
			t.Errorf("Prefix(%q) = %q, want %q", tt.path, p, tt.prefix)
		}
	}
}

func TestNormalizeFillsBandDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataPath = "0212+735.q.2019_01_01.uvf"
	cfg.OutDir = "out"

	if err := cfg.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.MapSize.Pixels != 1024 || cfg.MapSize.PixelMas != 0.03 {
		t.Errorf("q-band map size = %+v, want 1024/0.03", cfg.MapSize)
	}
	if cfg.FreqHz != 43.2e9 {
		t.Errorf("q-band frequency = %g, want 43.2e9", cfg.FreqHz)
	}
}

func TestNormalizeRequiresMapSizeForUnknownBand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataPath = "0212+735.x.2019_01_01.uvf"
	cfg.OutDir = "out"

	if err := cfg.Normalize(); err == nil {
		t.Fatal("expected error for unknown band without explicit map size")
	}

	cfg.MapSize = MapSize{Pixels: 512, PixelMas: 0.2}
	cfg.FreqHz = 8.4e9
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("Normalize with explicit parameters: %v", err)
	}
}

func TestLoadConfigOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	yaml := `
max_components: 12
core_elliptic: true
criteria:
  faint_component:
    mode: or
    n_rms: 3.0
selection:
  delta_flux: 0.005
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MaxComponents != 12 || !cfg.CoreElliptic {
		t.Errorf("overrides not applied: max=%d elliptic=%v", cfg.MaxComponents, cfg.CoreElliptic)
	}
	if cfg.Criteria.FaintComponent == nil || cfg.Criteria.FaintComponent.NRMS != 3.0 {
		t.Errorf("faint_component section not decoded: %+v", cfg.Criteria.FaintComponent)
	}
	if cfg.Selection.DeltaFlux != 0.005 {
		t.Errorf("selection.delta_flux = %g, want 0.005", cfg.Selection.DeltaFlux)
	}
	// Untouched defaults survive.
	if cfg.FitIterations != 100 {
		t.Errorf("fit_iterations = %d, want default 100", cfg.FitIterations)
	}
	if cfg.Criteria.ConvergeToLast == nil {
		t.Error("default converge_to_last section lost")
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	if err := os.WriteFile(path, []byte("max_componentz: 5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestDefaultMapSize(t *testing.T) {
	if ms, ok := DefaultMapSize("u"); !ok || ms.Pixels != 1024 || ms.PixelMas != 0.1 {
		t.Errorf("u band = %+v ok=%v", ms, ok)
	}
	if _, ok := DefaultMapSize("k"); ok {
		t.Error("unexpected default for unmapped band")
	}
}
