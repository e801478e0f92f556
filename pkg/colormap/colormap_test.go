package colormap

import (
	"image/color"
	"math"
	"testing"
)

func TestViridisEndpoints(t *testing.T) {
	t.Parallel()

	if got := Viridis.At(0); got != (color.RGBA{R: 68, G: 1, B: 84, A: 255}) {
		t.Fatalf("unexpected Viridis.At(0): %#v", got)
	}
	if got := Viridis.At(1); got != (color.RGBA{R: 253, G: 231, B: 37, A: 255}) {
		t.Fatalf("unexpected Viridis.At(1): %#v", got)
	}
}

func TestPaletteClamps(t *testing.T) {
	t.Parallel()

	if Magma.At(-0.5) != Magma.At(0) {
		t.Error("values below 0 must clamp to the first stop")
	}
	if Magma.At(1.5) != Magma.At(1) {
		t.Error("values above 1 must clamp to the last stop")
	}
}

func TestPaletteInterpolates(t *testing.T) {
	t.Parallel()

	if mid := Plasma.At(0.5); mid.A != 255 {
		t.Errorf("interpolated color must be opaque, got alpha %d", mid.A)
	}
}

func TestAtValue(t *testing.T) {
	t.Parallel()

	if _, ok := Viridis.AtValue(math.NaN(), 0, 1); ok {
		t.Error("NaN must have no color")
	}
	if _, ok := Viridis.AtValue(math.Inf(1), 0, 1); ok {
		t.Error("Inf must have no color")
	}
	if c, ok := Viridis.AtValue(5, 0, 10); !ok || c != Viridis.At(0.5) {
		t.Errorf("AtValue(5, 0, 10) = %#v, %v", c, ok)
	}
	if c, ok := Viridis.AtValue(3, 3, 3); !ok || c != Viridis.At(0) {
		t.Errorf("flat range: got %#v, %v", c, ok)
	}
}

func TestByName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"viridis", "plasma", "inferno", "magma"} {
		if _, ok := ByName(name); !ok {
			t.Errorf("palette %q not registered", name)
		}
	}
	if _, ok := ByName("jet"); ok {
		t.Error("unknown palette name must not resolve")
	}
}
