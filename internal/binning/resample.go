package binning

// ResampleWeighted redistributes a fine grid onto a coarse binning that is
// not an exact integer sub-binning. Every fine cell is treated as a point
// mass at its bin center, weighted by the cell value; the coarse grid is the
// weighted-sum 2-D histogram of those points divided elementwise by the
// unweighted count histogram. Coarse cells catching no fine center come out
// as NaN (0/0).
//
// This is an approximation: the entire mass of a fine cell is assigned to
// wherever its center lands, with no area-overlap split. Callers must treat
// the non-integer path as lossy.
func ResampleWeighted(g Grid, fine, coarse Binning) (Grid, error) {
	if err := CheckShape(g, fine); err != nil {
		return Grid{}, err
	}
	if err := coarse.Validate(); err != nil {
		return Grid{}, err
	}

	eCenters, err := fine.Energy.Centers()
	if err != nil {
		return Grid{}, err
	}
	czCenters, err := fine.CosZen.Centers()
	if err != nil {
		return Grid{}, err
	}

	rows, cols := coarse.Shape()
	sums := NewGrid(rows, cols)
	counts := NewGrid(rows, cols)

	for ie, ec := range eCenters {
		ci := findBin(coarse.Energy, ec)
		if ci < 0 {
			continue
		}
		for icz, czc := range czCenters {
			cj := findBin(coarse.CosZen, czc)
			if cj < 0 {
				continue
			}
			sums.Set(ci, cj, sums.At(ci, cj)+g.At(ie, icz))
			counts.Set(ci, cj, counts.At(ci, cj)+1)
		}
	}

	out := NewGrid(rows, cols)
	for i := range out.Data {
		out.Data[i] = sums.Data[i] / counts.Data[i]
	}
	return out, nil
}
