package mapstore

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/mapsmooth/server/internal/binning"
)

func writeGridFile(t *testing.T, path string, values []float64) {
	t.Helper()

	raw := make([]byte, len(values)*8)
	for i, v := range values {
		bits := math.Float64bits(v)
		off := i * 8
		for b := 0; b < 8; b++ {
			raw[off+b] = byte(bits >> (8 * b))
		}
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("failed to create zstd encoder: %v", err)
	}
	compressed := enc.EncodeAll(raw, nil)
	enc.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeTestStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	meta := map[string]any{
		"dataset_name":   "test LT",
		"format_version": "1",
		"target": map[string]any{
			"ebins":  []float64{0, 2, 4},
			"czbins": []float64{-1, 1},
		},
		"maps": map[string]any{
			"nue_maps": map[string]any{
				"nue": map[string]any{
					"ebins":  []float64{0, 1, 2, 3, 4},
					"czbins": []float64{-1, 0, 1},
					"file":   "nue_maps/nue.f64.zst",
				},
				"numu": map[string]any{
					"ebins":  []float64{0, 1, 2, 3, 4},
					"czbins": []float64{-1, 0, 1},
					"file":   "nue_maps/numu.f64.zst",
				},
			},
		},
	}
	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	cells := make([]float64, 8)
	for i := range cells {
		cells[i] = float64(i) + 0.25
	}
	writeGridFile(t, filepath.Join(dir, "nue_maps", "nue.f64.zst"), cells)
	writeGridFile(t, filepath.Join(dir, "nue_maps", "numu.f64.zst"), cells)

	return dir
}

func TestReaderTree(t *testing.T) {
	r, err := NewReader(writeTestStore(t))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer r.Close()

	tree, err := r.Tree()
	if err != nil {
		t.Fatalf("failed to load tree: %v", err)
	}

	shared, err := binning.CheckBinning(tree)
	if err != nil {
		t.Fatalf("consistency check failed: %v", err)
	}
	if !binning.EqualEdges(shared.Energy, binning.Axis{0, 1, 2, 3, 4}, 1e-12) {
		t.Errorf("unexpected shared energy axis: %v", shared.Energy)
	}

	leaf, err := r.LookupLeaf("nue_maps", "nue")
	if err != nil {
		t.Fatal(err)
	}
	if leaf.Map.Rows != 4 || leaf.Map.Cols != 2 {
		t.Fatalf("unexpected grid shape %dx%d", leaf.Map.Rows, leaf.Map.Cols)
	}
	if leaf.Map.At(1, 1) != 3.25 {
		t.Errorf("cell (1,1): got %v, want 3.25", leaf.Map.At(1, 1))
	}
}

func TestReaderMapPaths(t *testing.T) {
	r, err := NewReader(writeTestStore(t))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	paths, err := r.MapPaths()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"nue_maps/nue", "nue_maps/numu"}
	if len(paths) != len(want) {
		t.Fatalf("got %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("path %d: got %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestReaderTargetBinning(t *testing.T) {
	r, err := NewReader(writeTestStore(t))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	target := r.TargetBinning()
	if !binning.EqualEdges(target.Energy, binning.Axis{0, 2, 4}, 1e-12) {
		t.Errorf("unexpected target energy axis: %v", target.Energy)
	}
	if !binning.EqualEdges(target.CosZen, binning.Axis{-1, 1}, 1e-12) {
		t.Errorf("unexpected target coszen axis: %v", target.CosZen)
	}
}

func TestReaderMissingMetadata(t *testing.T) {
	if _, err := NewReader(t.TempDir()); err == nil {
		t.Fatal("expected error for store without metadata.json")
	}
}

func TestReaderTruncatedGridFile(t *testing.T) {
	dir := writeTestStore(t)
	// Overwrite with a file holding too few values.
	writeGridFile(t, filepath.Join(dir, "nue_maps", "nue.f64.zst"), []float64{1, 2, 3})

	r, err := NewReader(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Tree(); err == nil {
		t.Fatal("expected error for truncated grid file")
	}
}

func TestReaderLookupMissing(t *testing.T) {
	r, err := NewReader(writeTestStore(t))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.LookupLeaf("nue_maps", "nope"); err == nil {
		t.Error("expected error for unknown map")
	}
	if _, err := r.LookupLeaf("nue_maps"); err == nil {
		t.Error("expected error when path names an interior node")
	}
}
