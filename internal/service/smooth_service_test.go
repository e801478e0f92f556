package service

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/mapsmooth/server/internal/binning"
	"github.com/mapsmooth/server/internal/cache"
	"github.com/mapsmooth/server/internal/data/mapstore"
	"github.com/mapsmooth/server/internal/render"
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
		t.Fatal(err)
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

func newTestService(t *testing.T) *SmoothService {
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

	store, err := mapstore.NewReader(dir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(store.Close)

	cm, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: 8,
		TileTTL:         time.Minute,
		PlanCacheSize:   16,
		MapCacheSize:    16,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cm.Close() })

	return NewSmoothService(SmoothServiceConfig{
		Store:    store,
		Cache:    cm,
		Renderer: render.NewHeatmapRenderer(render.Config{ImageSize: 32, DefaultColormap: "viridis"}),
	})
}

func TestCheckConsistency(t *testing.T) {
	s := newTestService(t)

	shared, err := s.CheckConsistency()
	if err != nil {
		t.Fatalf("consistency check failed: %v", err)
	}
	if !binning.EqualEdges(shared.Energy, binning.Axis{0, 1, 2, 3, 4}, 1e-12) {
		t.Errorf("unexpected shared energy axis: %v", shared.Energy)
	}
}

func TestSmoothedMap(t *testing.T) {
	s := newTestService(t)

	g, coarse, err := s.SmoothedMap("nue_maps/nue")
	if err != nil {
		t.Fatalf("failed to smooth: %v", err)
	}
	if g.Rows != 2 || g.Cols != 1 {
		t.Fatalf("unexpected shape %dx%d", g.Rows, g.Cols)
	}
	if !binning.EqualEdges(coarse.Energy, binning.Axis{0, 2, 4}, 1e-12) {
		t.Errorf("unexpected coarse energy axis: %v", coarse.Energy)
	}

	// Block averages of 2x2 fine cells.
	want := []float64{1.75, 5.75}
	for i, v := range g.Data {
		if v != want[i] {
			t.Errorf("cell %d: got %v, want %v", i, v, want[i])
		}
	}

	// Second call must be served from the map cache and stay identical.
	again, _, err := s.SmoothedMap("nue_maps/nue")
	if err != nil {
		t.Fatal(err)
	}
	for i := range again.Data {
		if again.Data[i] != g.Data[i] {
			t.Errorf("cached result differs at cell %d", i)
		}
	}
}

func TestSmoothMemoizesPlan(t *testing.T) {
	s := newTestService(t)

	fine := binning.Binning{
		Energy: binning.Axis{0, 1, 2, 3, 4},
		CosZen: binning.Axis{-1, 0, 1},
	}
	coarse := binning.Binning{
		Energy: binning.Axis{0, 2, 4},
		CosZen: binning.Axis{-1, 1},
	}
	g := binning.NewGrid(4, 2)
	for i := range g.Data {
		g.Data[i] = float64(i)
	}

	first, err := s.Smooth(g, fine, coarse)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Smooth(g, fine, coarse)
	if err != nil {
		t.Fatal(err)
	}
	for i := range first.Data {
		if first.Data[i] != second.Data[i] {
			t.Errorf("memoized smooth differs at cell %d", i)
		}
	}

	if _, ok := s.cache.GetPlan(cache.BinningKey(coarse, fine)); !ok {
		t.Error("expected detection plan to be memoized")
	}
}

func TestSmoothShapeMismatch(t *testing.T) {
	s := newTestService(t)

	fine := binning.Binning{Energy: binning.Axis{0, 1, 2}, CosZen: binning.Axis{0, 1}}
	coarse := binning.Binning{Energy: binning.Axis{0, 2}, CosZen: binning.Axis{0, 1}}

	if _, err := s.Smooth(binning.NewGrid(5, 5), fine, coarse); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestHeatmapPNG(t *testing.T) {
	s := newTestService(t)

	data, err := s.HeatmapPNG("nue_maps/nue", "viridis", true)
	if err != nil {
		t.Fatalf("failed to render: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty PNG")
	}

	// Cached path returns the same bytes.
	again, err := s.HeatmapPNG("nue_maps/nue", "viridis", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != len(data) {
		t.Error("cached render differs")
	}

	if _, err := s.HeatmapPNG("missing/map", "viridis", true); err == nil {
		t.Error("expected error for unknown map")
	}
}

func TestFineMapUnknownPath(t *testing.T) {
	s := newTestService(t)
	if _, _, err := s.FineMap("nue_maps/missing"); err == nil {
		t.Fatal("expected error")
	}
}
