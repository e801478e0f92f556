package binning

// Smooth resamples a fine map onto the coarse binning. When the coarse
// binning is an exact integer sub-binning of the fine one the fast
// block-rebin path is taken; otherwise the weighted-histogram fallback.
// Those are the only two branches.
func Smooth(g Grid, fine, coarse Binning) (Grid, error) {
	if err := fine.Validate(); err != nil {
		return Grid{}, err
	}
	if err := coarse.Validate(); err != nil {
		return Grid{}, err
	}
	if err := CheckShape(g, fine); err != nil {
		return Grid{}, err
	}

	if plan, ok := FindSubbinning(coarse, fine, DefaultEqualTol); ok {
		return RebinBlocks(g, plan)
	}
	return ResampleWeighted(g, fine, coarse)
}
