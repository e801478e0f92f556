package binning

import "fmt"

// MalformedAxisError reports an edge sequence that cannot serve as an axis:
// too short, non-monotonic or containing non-finite values.
type MalformedAxisError struct {
	Reason string
	Edges  Axis
}

func (e *MalformedAxisError) Error() string {
	return fmt.Sprintf("malformed axis (%d edges): %s", len(e.Edges), e.Reason)
}

// ShapeMismatchError reports a map whose cell grid does not match its
// declared binning.
type ShapeMismatchError struct {
	Rows, Cols         int
	WantRows, WantCols int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("map shape %dx%d does not match binning shape %dx%d",
		e.Rows, e.Cols, e.WantRows, e.WantCols)
}

// BinningMismatchError reports two maps in the same collection that disagree
// on their binning. Kind names the offending axis: "energy" or "coszen".
type BinningMismatchError struct {
	Kind string
}

func (e *BinningMismatchError) Error() string {
	return fmt.Sprintf("maps have different %s binning", e.Kind)
}
