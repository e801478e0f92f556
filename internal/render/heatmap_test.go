package render

import (
	"bytes"
	"image/png"
	"math"
	"testing"

	"github.com/mapsmooth/server/internal/binning"
)

func newTestRenderer() *HeatmapRenderer {
	return NewHeatmapRenderer(Config{ImageSize: 64, DefaultColormap: "viridis"})
}

func TestRenderHeatmap(t *testing.T) {
	r := newTestRenderer()

	g := binning.NewGrid(2, 2)
	g.Data = []float64{0, 1, 2, 3}

	data, err := r.RenderHeatmap(g, "viridis")
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not valid PNG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 64 || bounds.Dy() != 64 {
		t.Errorf("unexpected image size %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestRenderHeatmapNaNCellStaysBackground(t *testing.T) {
	r := newTestRenderer()

	// Lone NaN cell in the top-left of the image (highest row, first col).
	g := binning.NewGrid(2, 2)
	g.Data = []float64{1, 2, math.NaN(), 3}

	data, err := r.RenderHeatmap(g, "viridis")
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	// Cell (1,0) renders at the top-left quadrant; sample its middle pixel.
	cr, cg, cb, _ := img.At(16, 16).RGBA()
	if cr>>8 != 255 || cg>>8 != 255 || cb>>8 != 255 {
		t.Errorf("NaN cell should stay white, got rgb(%d,%d,%d)", cr>>8, cg>>8, cb>>8)
	}
}

func TestRenderHeatmapUnknownColormapFallsBack(t *testing.T) {
	r := newTestRenderer()

	g := binning.NewGrid(1, 1)
	g.Data = []float64{1}

	a, err := r.RenderHeatmap(g, "nope")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.RenderHeatmap(g, "viridis")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("unknown colormap must fall back to the default")
	}
}

func TestRenderHeatmapAllNaN(t *testing.T) {
	r := newTestRenderer()

	g := binning.NewGrid(2, 2)
	for i := range g.Data {
		g.Data[i] = math.NaN()
	}

	if _, err := r.RenderHeatmap(g, "viridis"); err != nil {
		t.Fatalf("all-NaN grid must render an empty heatmap, got %v", err)
	}
}

func TestFiniteRange(t *testing.T) {
	minV, maxV, any := finiteRange([]float64{math.NaN(), 2, math.Inf(1), -1})
	if !any || minV != -1 || maxV != 2 {
		t.Errorf("got min=%v max=%v any=%v", minV, maxV, any)
	}

	if _, _, any := finiteRange([]float64{math.NaN()}); any {
		t.Error("expected no finite values")
	}
}
