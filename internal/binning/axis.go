// Package binning implements bin-edge geometry, sub-binning detection and
// histogram resampling for 2-D (energy x cos-zenith) maps.
package binning

import (
	"math"
	"sort"
)

// Default tolerances. Classification only picks a bin-center formula, so it
// can be loose; edge equality guards correctness and is much stricter.
const (
	DefaultClassTol = 1e-5
	DefaultEqualTol = 1e-8
)

// AxisClass describes the spacing of an axis.
type AxisClass int

const (
	Irregular AxisClass = iota
	Linear
	Logarithmic
)

func (c AxisClass) String() string {
	switch c {
	case Linear:
		return "linear"
	case Logarithmic:
		return "logarithmic"
	default:
		return "irregular"
	}
}

// Axis is an ordered sequence of bin edges. A valid axis has at least two
// edges, all finite, strictly increasing.
type Axis []float64

// Validate checks the axis invariants.
func (a Axis) Validate() error {
	if len(a) < 2 {
		return &MalformedAxisError{Reason: "fewer than two edges", Edges: a}
	}
	for i, e := range a {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			return &MalformedAxisError{Reason: "non-finite edge", Edges: a}
		}
		if i > 0 && e <= a[i-1] {
			return &MalformedAxisError{Reason: "edges not strictly increasing", Edges: a}
		}
	}
	return nil
}

// NBins returns the number of cells on the axis.
func (a Axis) NBins() int {
	if len(a) < 2 {
		return 0
	}
	return len(a) - 1
}

// Centers returns the bin centers. Logarithmic axes use the geometric mean
// of adjacent edges, everything else the arithmetic mean.
func (a Axis) Centers() ([]float64, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	centers := make([]float64, len(a)-1)
	if IsLogarithmic(a, DefaultClassTol) {
		for i := range centers {
			centers[i] = math.Sqrt(a[i] * a[i+1])
		}
	} else {
		for i := range centers {
			centers[i] = (a[i] + a[i+1]) / 2
		}
	}
	return centers, nil
}

// Widths returns the successive edge differences.
func (a Axis) Widths() ([]float64, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	widths := make([]float64, len(a)-1)
	for i := range widths {
		widths[i] = a[i+1] - a[i]
	}
	return widths, nil
}

// Classify reports whether the axis is linearly or logarithmically spaced,
// or neither.
func Classify(edges Axis, tol float64) AxisClass {
	switch {
	case IsLinear(edges, tol):
		return Linear
	case IsLogarithmic(edges, tol):
		return Logarithmic
	default:
		return Irregular
	}
}

// IsLinear reports whether the edges deviate from an evenly spaced sequence
// over the same range by less than tol.
func IsLinear(edges Axis, tol float64) bool {
	if len(edges) < 2 {
		return false
	}
	n := len(edges)
	step := (edges[n-1] - edges[0]) / float64(n-1)
	for i, e := range edges {
		ref := edges[0] + float64(i)*step
		if math.Abs(e-ref) >= tol {
			return false
		}
	}
	return true
}

// IsLogarithmic reports whether the edges deviate from a log-spaced sequence
// over the same range by less than tol. Any negative edge disqualifies the
// axis immediately.
func IsLogarithmic(edges Axis, tol float64) bool {
	if len(edges) < 2 {
		return false
	}
	for _, e := range edges {
		if e <= 0 {
			return false
		}
	}
	n := len(edges)
	logStep := (math.Log10(edges[n-1]) - math.Log10(edges[0])) / float64(n-1)
	for i, e := range edges {
		ref := math.Pow(10, math.Log10(edges[0])+float64(i)*logStep)
		if !(math.Abs(e-ref) < tol) {
			return false
		}
	}
	return true
}

// EqualEdges reports whether two edge sequences have the same length and
// match elementwise within tol.
func EqualEdges(a, b Axis, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) >= tol {
			return false
		}
	}
	return true
}

// IsCoarser reports whether coarse lies inside fine and is no denser than
// fine. This only bounds edge density; it does not verify that the edges
// actually align. Use FindSubbinning for the authoritative test.
func IsCoarser(coarse, fine Axis) bool {
	if len(coarse) < 1 || len(fine) < 1 {
		return false
	}
	if coarse[0] < fine[0] || coarse[len(coarse)-1] > fine[len(fine)-1] {
		return false
	}
	lo, hi := coarse[0], coarse[len(coarse)-1]
	inside := 0
	for _, e := range fine {
		if e >= lo && e <= hi {
			inside++
		}
	}
	return inside >= len(coarse)
}

// Oversample subdivides each bin of the axis by an integer factor. Linear
// axes stay linear and logarithmic axes stay logarithmic; irregular axes are
// split evenly within each bin.
func Oversample(edges Axis, factor int) (Axis, error) {
	if err := edges.Validate(); err != nil {
		return nil, err
	}
	if factor < 1 {
		return nil, &MalformedAxisError{Reason: "oversampling factor must be positive", Edges: edges}
	}
	n := factor*(len(edges)-1) + 1
	out := make(Axis, n)
	switch Classify(edges, DefaultClassTol) {
	case Linear:
		step := (edges[len(edges)-1] - edges[0]) / float64(n-1)
		for i := range out {
			out[i] = edges[0] + float64(i)*step
		}
	case Logarithmic:
		lo := math.Log10(edges[0])
		step := (math.Log10(edges[len(edges)-1]) - lo) / float64(n-1)
		for i := range out {
			out[i] = math.Pow(10, lo+float64(i)*step)
		}
	default:
		for i := 0; i < len(edges)-1; i++ {
			width := (edges[i+1] - edges[i]) / float64(factor)
			for j := 0; j < factor; j++ {
				out[i*factor+j] = edges[i] + float64(j)*width
			}
		}
		out[n-1] = edges[len(edges)-1]
	}
	return out, nil
}

// CheckFineBinning reports whether a caller-supplied fine axis is usable for
// oversampling a coarse one: it must exist and pass the IsCoarser density
// check.
func CheckFineBinning(fine, coarse Axis) bool {
	if fine == nil {
		return false
	}
	return IsCoarser(coarse, fine)
}

// findBin returns the index of the cell containing x, or -1 when x lies
// outside the axis. The last cell includes its upper edge, matching standard
// histogramming conventions.
func findBin(edges Axis, x float64) int {
	n := len(edges)
	if n < 2 || x < edges[0] || x > edges[n-1] {
		return -1
	}
	if x == edges[n-1] {
		return n - 2
	}
	i := sort.SearchFloat64s(edges, x)
	if i < n && edges[i] == x {
		return i
	}
	return i - 1
}
