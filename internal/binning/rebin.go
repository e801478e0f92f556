package binning

// RebinBlocks collapses a fine grid onto the coarse shape described by the
// plan. Each coarse cell is the unweighted arithmetic mean of the Factor^2
// fine cells it aggregates; fine cells outside [Start, Stop) are discarded.
// NaN inputs propagate through the averages.
func RebinBlocks(g Grid, plan RebinPlan) (Grid, error) {
	if len(plan) != 2 {
		return Grid{}, &ShapeMismatchError{Rows: g.Rows, Cols: g.Cols}
	}
	rp, cp := plan[0], plan[1]
	if !validAxisPlan(rp, g.Rows) || !validAxisPlan(cp, g.Cols) {
		return Grid{}, &ShapeMismatchError{
			Rows: g.Rows, Cols: g.Cols,
			WantRows: rp.Stop, WantCols: cp.Stop,
		}
	}

	outRows := (rp.Stop - rp.Start) / rp.Factor
	outCols := (cp.Stop - cp.Start) / cp.Factor
	out := NewGrid(outRows, outCols)

	norm := float64(rp.Factor * cp.Factor)
	for i := 0; i < outRows; i++ {
		for j := 0; j < outCols; j++ {
			sum := 0.0
			for a := 0; a < rp.Factor; a++ {
				for b := 0; b < cp.Factor; b++ {
					sum += g.At(rp.Start+i*rp.Factor+a, cp.Start+j*cp.Factor+b)
				}
			}
			out.Set(i, j, sum/norm)
		}
	}
	return out, nil
}

func validAxisPlan(p AxisPlan, n int) bool {
	if p.Factor < 1 || p.Start < 0 || p.Stop > n || p.Start >= p.Stop {
		return false
	}
	return (p.Stop-p.Start)%p.Factor == 0
}
