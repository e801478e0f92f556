package binning

import (
	"fmt"
	"sort"
)

// Leaf is one named map with its own binning.
type Leaf struct {
	EBins  Axis
	CZBins Axis
	Map    Grid
}

// Tree is a nested collection of maps. A node is either an interior node
// (Children set, Leaf nil) or a leaf (Leaf set, Children nil).
type Tree struct {
	Children map[string]*Tree
	Leaf     *Leaf
}

// NewInterior builds an interior node over the given children.
func NewInterior(children map[string]*Tree) *Tree {
	return &Tree{Children: children}
}

// NewLeaf builds a leaf node.
func NewLeaf(ebins, czbins Axis, m Grid) *Tree {
	return &Tree{Leaf: &Leaf{EBins: ebins, CZBins: czbins, Map: m}}
}

// Validate checks the interior/leaf invariant on every node.
func (t *Tree) Validate() error {
	if t == nil {
		return fmt.Errorf("nil tree node")
	}
	if (t.Leaf == nil) == (t.Children == nil) {
		return fmt.Errorf("tree node must be exactly one of interior or leaf")
	}
	for name, child := range t.Children {
		if err := child.Validate(); err != nil {
			return fmt.Errorf("child %q: %w", name, err)
		}
	}
	return nil
}

// Walk visits every leaf in the tree in deterministic (sorted-name) order.
// Traversal order carries no meaning, it is fixed only to keep diagnostics
// stable.
func (t *Tree) Walk(fn func(path []string, leaf *Leaf) error) error {
	return t.walk(nil, fn)
}

func (t *Tree) walk(path []string, fn func([]string, *Leaf) error) error {
	if t == nil {
		return nil
	}
	if t.Leaf != nil {
		return fn(path, t.Leaf)
	}
	names := make([]string, 0, len(t.Children))
	for name := range t.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		// Fresh slice per child so callbacks may retain the path.
		childPath := append(append([]string(nil), path...), name)
		if err := t.Children[name].walk(childPath, fn); err != nil {
			return err
		}
	}
	return nil
}

// CheckBinning verifies that every leaf in the tree carries the same energy
// and cos-zenith binning and returns the shared pair. A disagreement beyond
// tolerance yields a BinningMismatchError naming the offending axis.
func CheckBinning(t *Tree) (Binning, error) {
	var (
		shared Binning
		found  bool
	)
	err := t.Walk(func(path []string, leaf *Leaf) error {
		if !found {
			shared = Binning{Energy: leaf.EBins, CosZen: leaf.CZBins}
			found = true
			return nil
		}
		if !EqualEdges(shared.Energy, leaf.EBins, DefaultEqualTol) {
			return &BinningMismatchError{Kind: "energy"}
		}
		if !EqualEdges(shared.CosZen, leaf.CZBins, DefaultEqualTol) {
			return &BinningMismatchError{Kind: "coszen"}
		}
		return nil
	})
	if err != nil {
		return Binning{}, err
	}
	if !found {
		return Binning{}, fmt.Errorf("no maps in collection")
	}
	return shared, nil
}
