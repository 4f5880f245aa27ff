package automodel

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestArchiveModelsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	contents := map[string]string{
		"0212+735_u_2019_fitted_1.mdl": "one\n",
		"0212+735_u_2019_fitted_2.mdl": "two two\n",
	}
	var files []string
	for name, body := range contents {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		files = append(files, path)
	}

	out := filepath.Join(dir, "0212+735_fitted_models.tar.gz")
	if err := ArchiveModels(files, out); err != nil {
		t.Fatalf("ArchiveModels: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	tr := tar.NewReader(gz)

	got := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read archive: %v", err)
		}
		if hdr.Name != filepath.Base(hdr.Name) {
			t.Errorf("archive entry %q carries a directory prefix", hdr.Name)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("read entry %s: %v", hdr.Name, err)
		}
		got[hdr.Name] = string(body)
	}
	if diff := cmp.Diff(contents, got); diff != "" {
		t.Errorf("archive contents mismatch (-want +got):\n%s", diff)
	}
}

func TestArchiveModelsMissingInput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "models.tar.gz")
	err := ArchiveModels([]string{filepath.Join(dir, "absent.mdl")}, out)
	if err == nil {
		t.Fatal("expected error for missing input file")
	}
}
