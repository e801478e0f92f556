// Package colormap provides the palettes the heatmap renderer draws with.
package colormap

import (
	"image/color"
	"math"
)

// A Palette is a sequence of color stops. Normalized values in [0, 1]
// interpolate linearly between adjacent stops; out-of-range values clamp
// to the ends.
type Palette []color.RGBA

// At returns the palette color for a normalized value.
func (p Palette) At(t float64) color.RGBA {
	switch {
	case len(p) == 0:
		return color.RGBA{A: 255}
	case len(p) == 1 || t <= 0:
		return p[0]
	case t >= 1:
		return p[len(p)-1]
	}
	pos := t * float64(len(p)-1)
	i := int(pos)
	frac := pos - float64(i)
	lo, hi := p[i], p[i+1]
	return color.RGBA{
		R: lerp(lo.R, hi.R, frac),
		G: lerp(lo.G, hi.G, frac),
		B: lerp(lo.B, hi.B, frac),
		A: 255,
	}
}

// AtValue normalizes v over [minV, maxV] and looks up its color. The bool
// is false for NaN and infinite values, which have no color; empty map
// cells stay unpainted.
func (p Palette) AtValue(v, minV, maxV float64) (color.RGBA, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return color.RGBA{}, false
	}
	span := maxV - minV
	if span == 0 {
		return p.At(0), true
	}
	return p.At((v - minV) / span), true
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + t*(float64(b)-float64(a)))
}

// ByName looks up a palette by its registered name.
func ByName(name string) (Palette, bool) {
	p, ok := palettes[name]
	return p, ok
}

var palettes = map[string]Palette{
	"viridis": Viridis,
	"plasma":  Plasma,
	"inferno": Inferno,
	"magma":   Magma,
}

// Stops sampled from the matplotlib colormaps of the same names.
var (
	Viridis = Palette{
		{68, 1, 84, 255},
		{72, 35, 116, 255},
		{64, 67, 135, 255},
		{52, 94, 141, 255},
		{41, 120, 142, 255},
		{32, 144, 140, 255},
		{34, 167, 132, 255},
		{68, 190, 112, 255},
		{121, 209, 81, 255},
		{189, 222, 38, 255},
		{253, 231, 37, 255},
	}

	Plasma = Palette{
		{13, 8, 135, 255},
		{75, 3, 161, 255},
		{125, 3, 168, 255},
		{168, 34, 150, 255},
		{203, 70, 121, 255},
		{229, 107, 93, 255},
		{248, 148, 65, 255},
		{253, 195, 40, 255},
		{240, 249, 33, 255},
	}

	Inferno = Palette{
		{0, 0, 4, 255},
		{40, 11, 84, 255},
		{101, 21, 110, 255},
		{159, 42, 99, 255},
		{212, 72, 66, 255},
		{245, 125, 21, 255},
		{250, 193, 39, 255},
		{252, 255, 164, 255},
	}

	Magma = Palette{
		{0, 0, 4, 255},
		{28, 16, 68, 255},
		{79, 18, 123, 255},
		{129, 37, 129, 255},
		{181, 54, 122, 255},
		{229, 80, 100, 255},
		{251, 135, 97, 255},
		{254, 194, 135, 255},
		{252, 253, 191, 255},
	}
)
