package difmap

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"automodeler/internal/automodel"
)

// fakeScript writes an executable shell script that logs its argv and runs
// the given body.
func fakeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script backend fake requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "difmap_wrapper.sh")
	script := "#!/bin/sh\necho \"$@\" >> \"$0.argv\"\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake script: %v", err)
	}
	return path
}

func scriptArgv(t *testing.T, script string) string {
	t.Helper()
	data, err := os.ReadFile(script + ".argv")
	if err != nil {
		t.Fatalf("read argv log: %v", err)
	}
	return strings.TrimSpace(string(data))
}

func TestModelFitArgumentsAndArtifactCheck(t *testing.T) {
	script := fakeScript(t, `touch "$4"`)
	r := NewRunner(script, nil)
	dir := t.TempDir()
	out := filepath.Join(dir, "fitted_1.mdl")

	if err := r.ModelFit(context.Background(), "data.uvf", "init_1.mdl", out, 100); err != nil {
		t.Fatalf("ModelFit: %v", err)
	}
	want := "modelfit data.uvf init_1.mdl " + out + " 100"
	if got := scriptArgv(t, script); got != want {
		t.Errorf("argv = %q, want %q", got, want)
	}
}

func TestModelFitMissingArtifact(t *testing.T) {
	script := fakeScript(t, `true`) // exits 0 without writing anything
	r := NewRunner(script, nil)

	err := r.ModelFit(context.Background(), "data.uvf", "in.mdl",
		filepath.Join(t.TempDir(), "out.mdl"), 100)
	if err == nil {
		t.Fatal("expected error for missing fitted model")
	}
	if !strings.Contains(err.Error(), "did not produce") {
		t.Errorf("error = %v, want missing-artifact wording", err)
	}
}

func TestRunnerSurfacesScriptFailure(t *testing.T) {
	script := fakeScript(t, `echo "modelfit diverged" >&2; exit 3`)
	r := NewRunner(script, nil)

	err := r.Residuals(context.Background(), "data.uvf", "model.mdl", "out.uvf")
	if err == nil {
		t.Fatal("expected error for failing script")
	}
	if !strings.Contains(err.Error(), "modelfit diverged") {
		t.Errorf("error %v does not carry script stderr", err)
	}
}

func TestCleanMapParsesOutput(t *testing.T) {
	// The fake emits a 2x2 map grid in the plain-text format.
	script := fakeScript(t, `cat > "$3" <<'EOF'
automap 2 -0.1 0.1 0.5 0.5 10
0.1 0.2
0.3 0.4
EOF`)
	r := NewRunner(script, nil)
	out := filepath.Join(t.TempDir(), "image_cc.txt")

	m, err := r.CleanMap(context.Background(), "data.uvf", out,
		automodel.MapSize{Pixels: 2, PixelMas: 0.1})
	if err != nil {
		t.Fatalf("CleanMap: %v", err)
	}
	if m.Size != 2 || m.BeamMaj != 0.5 {
		t.Errorf("parsed map: size=%d beam=%g", m.Size, m.BeamMaj)
	}
	want := "clean data.uvf " + out + " 2 0.1"
	if got := scriptArgv(t, script); got != want {
		t.Errorf("argv = %q, want %q", got, want)
	}
}

func TestScoreParsesStdout(t *testing.T) {
	script := fakeScript(t, `echo "  0.3125 "`)
	r := NewRunner(script, nil)

	score, err := r.Score(context.Background(), "test.uvf", "model.mdl")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 0.3125 {
		t.Errorf("score = %g, want 0.3125", score)
	}
}

func TestScoreRejectsGarbage(t *testing.T) {
	script := fakeScript(t, `echo "not a number"`)
	r := NewRunner(script, nil)

	if _, err := r.Score(context.Background(), "test.uvf", "model.mdl"); err == nil {
		t.Fatal("expected parse error for non-numeric score")
	}
}

func TestSplitDataChecksBothParts(t *testing.T) {
	script := fakeScript(t, `touch "$3"`) // only the train part
	r := NewRunner(script, nil)
	dir := t.TempDir()

	err := r.SplitData(context.Background(), "data.uvf",
		filepath.Join(dir, "train.uvf"), filepath.Join(dir, "test.uvf"), 7)
	if err == nil {
		t.Fatal("expected error for missing test part")
	}
}
