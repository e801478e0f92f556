package binning

import "math"

// Binning is the full partition of a 2-D map: one axis per dimension, in
// (energy, cos-zenith) order.
type Binning struct {
	Energy Axis
	CosZen Axis
}

// Validate checks both axes.
func (b Binning) Validate() error {
	if err := b.Energy.Validate(); err != nil {
		return err
	}
	return b.CosZen.Validate()
}

// Axes returns the axes in dimension order.
func (b Binning) Axes() []Axis {
	return []Axis{b.Energy, b.CosZen}
}

// Shape returns the cell counts per dimension.
func (b Binning) Shape() (rows, cols int) {
	return b.Energy.NBins(), b.CosZen.NBins()
}

// Grid is a dense row-major 2-D array of cell values. Rows index energy,
// columns cos-zenith. Cells with no contributing data hold NaN.
type Grid struct {
	Rows, Cols int
	Data       []float64
}

// NewGrid allocates a zero-filled grid.
func NewGrid(rows, cols int) Grid {
	return Grid{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// At returns the value at cell (i, j).
func (g Grid) At(i, j int) float64 {
	return g.Data[i*g.Cols+j]
}

// Set stores a value at cell (i, j).
func (g Grid) Set(i, j int, v float64) {
	g.Data[i*g.Cols+j] = v
}

// Clone returns a deep copy of the grid.
func (g Grid) Clone() Grid {
	out := Grid{Rows: g.Rows, Cols: g.Cols, Data: make([]float64, len(g.Data))}
	copy(out.Data, g.Data)
	return out
}

// EmptyCells returns a mask of cells holding NaN, the marker for coarse
// cells that received no contributing fine data.
func (g Grid) EmptyCells() []bool {
	mask := make([]bool, len(g.Data))
	for i, v := range g.Data {
		mask[i] = math.IsNaN(v)
	}
	return mask
}

// CheckShape verifies that the grid matches the binning's cell counts.
func CheckShape(g Grid, b Binning) error {
	wantRows, wantCols := b.Shape()
	if g.Rows != wantRows || g.Cols != wantCols || len(g.Data) != g.Rows*g.Cols {
		return &ShapeMismatchError{Rows: g.Rows, Cols: g.Cols, WantRows: wantRows, WantCols: wantCols}
	}
	return nil
}
