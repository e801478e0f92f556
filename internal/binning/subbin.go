package binning

// AxisPlan records how one fine axis collapses onto a coarse one: take the
// fine cells in [Start, Stop) and average them in groups of Factor.
// Stop-Start is always Factor times the number of coarse cells.
type AxisPlan struct {
	Start, Stop, Factor int
}

// RebinPlan holds one AxisPlan per dimension, in axis order. It is computed
// fresh per smoothing call and never persisted.
type RebinPlan []AxisPlan

// FindSubbinning determines whether the coarse binning can be recovered from
// the fine one by integer rebinning. Each axis is searched independently over
// every start offset and rebin factor; the first match wins. An axis with no
// match aborts the whole detection, there is no backtracking across axes.
//
// Identical axes degenerate to start=0, factor=1, which makes smoothing onto
// an unchanged binning a no-op rebin.
//
// The search is exhaustive but bounded, worst case O(F^2) per axis for F fine
// edges. Axis lengths in this domain are small enough that this never hurts;
// callers doing many lookups on the same pair should still memoize the plan.
func FindSubbinning(coarse, fine Binning, tol float64) (RebinPlan, bool) {
	coarseAxes := coarse.Axes()
	fineAxes := fine.Axes()

	plan := make(RebinPlan, 0, len(coarseAxes))
	for dim, crs := range coarseAxes {
		fn := fineAxes[dim]
		axPlan, ok := findAxisSubbinning(crs, fn, tol)
		if !ok {
			return nil, false
		}
		plan = append(plan, axPlan)
	}
	return plan, true
}

func findAxisSubbinning(crs, fn Axis, tol float64) (AxisPlan, bool) {
	if len(crs) < 2 || len(fn) < len(crs) {
		return AxisPlan{}, false
	}
	for start := 0; start <= len(fn)-len(crs); start++ {
		// Largest factor whose strided slice still fits on the fine axis:
		// start + (len(crs)-1)*factor must be a valid edge index.
		maxFactor := (len(fn) - 1 - start) / (len(crs) - 1)
		for factor := 1; factor <= maxFactor; factor++ {
			if !stridedEqual(crs, fn, start, factor, tol) {
				continue
			}
			// Stop counts cells, not edges: Factor cells per coarse cell.
			return AxisPlan{
				Start:  start,
				Stop:   start + (len(crs)-1)*factor,
				Factor: factor,
			}, true
		}
	}
	return AxisPlan{}, false
}

// stridedEqual compares crs against fn[start : start+len(crs)*factor : factor].
func stridedEqual(crs, fn Axis, start, factor int, tol float64) bool {
	strided := make(Axis, len(crs))
	for i := range strided {
		strided[i] = fn[start+i*factor]
	}
	return EqualEdges(crs, strided, tol)
}
