// Package render draws heatmap images of binned maps using fogleman/gg.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/mapsmooth/server/internal/binning"
	"github.com/mapsmooth/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	ImageSize       int
	DefaultColormap string
}

// HeatmapRenderer renders grids as PNG heatmaps.
type HeatmapRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewHeatmapRenderer creates a new heatmap renderer.
func NewHeatmapRenderer(cfg Config) *HeatmapRenderer {
	return &HeatmapRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.ImageSize, cfg.ImageSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// palette resolves a requested colormap name, falling back to the
// configured default and finally to viridis.
func (r *HeatmapRenderer) palette(name string) colormap.Palette {
	if p, ok := colormap.ByName(name); ok {
		return p
	}
	if p, ok := colormap.ByName(r.config.DefaultColormap); ok {
		return p
	}
	return colormap.Viridis
}

// RenderHeatmap renders a grid as a PNG heatmap. Cell (0,0) is drawn in the
// lower-left corner so the energy axis points up. Values are normalized over
// the finite cells; NaN cells (empty coarse cells) stay background white.
func (r *HeatmapRenderer) RenderHeatmap(g binning.Grid, colormapName string) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	if g.Rows == 0 || g.Cols == 0 {
		return r.encodeContext(dc)
	}

	cmap := r.palette(colormapName)

	minV, maxV, any := finiteRange(g.Data)
	if !any {
		return r.encodeContext(dc)
	}

	imgSize := float64(r.config.ImageSize)
	cellW := imgSize / float64(g.Cols)
	cellH := imgSize / float64(g.Rows)

	for i := 0; i < g.Rows; i++ {
		for j := 0; j < g.Cols; j++ {
			c, ok := cmap.AtValue(g.At(i, j), minV, maxV)
			if !ok {
				continue
			}

			px := float64(j) * cellW
			py := imgSize - float64(i+1)*cellH

			dc.SetColor(c)
			dc.DrawRectangle(px, py, cellW, cellH)
			dc.Fill()
		}
	}

	return r.encodeContext(dc)
}

// finiteRange returns the min and max over the finite values, and whether
// any finite value exists.
func finiteRange(values []float64) (minV, maxV float64, any bool) {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if !any {
			minV, maxV = v, v
			any = true
			continue
		}
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	return minV, maxV, any
}

func (r *HeatmapRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmptyImage creates an empty transparent image.
func (r *HeatmapRenderer) CreateEmptyImage() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.config.ImageSize, r.config.ImageSize))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255   // R
		img.Pix[i+1] = 255 // G
		img.Pix[i+2] = 255 // B
		img.Pix[i+3] = 0   // A (transparent)
	}

	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
