// Package mapstore provides a reader for on-disk collections of binned
// probability maps: a metadata.json describing the nested map layout and the
// target binning, plus one zstd-compressed float64 cell file per map.
package mapstore

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/mapsmooth/server/internal/binning"
)

// Metadata describes the store contents.
type Metadata struct {
	DatasetName   string     `json:"dataset_name"`
	FormatVersion string     `json:"format_version"`
	Target        TargetSpec `json:"target"`
	Maps          *GroupSpec `json:"maps"`
}

// TargetSpec is the coarse binning every map should be smoothed onto.
type TargetSpec struct {
	EBins  []float64 `json:"ebins"`
	CZBins []float64 `json:"czbins"`
}

// LeafSpec describes one stored map: its own binning plus the relative path
// of its cell file.
type LeafSpec struct {
	EBins  []float64 `json:"ebins"`
	CZBins []float64 `json:"czbins"`
	File   string    `json:"file"`
}

// GroupSpec is one node of the nested map layout. Leaves set Leaf, interior
// nodes set Children; metadata with both (or neither) is rejected.
type GroupSpec struct {
	Leaf     *LeafSpec
	Children map[string]*GroupSpec
}

// UnmarshalJSON distinguishes leaves from interior nodes: an object carrying
// a "file" member is a leaf, anything else is a group of named children.
func (g *GroupSpec) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if _, isLeaf := probe["file"]; isLeaf {
		var leaf LeafSpec
		if err := json.Unmarshal(data, &leaf); err != nil {
			return err
		}
		g.Leaf = &leaf
		return nil
	}
	children := make(map[string]*GroupSpec, len(probe))
	for name, raw := range probe {
		child := &GroupSpec{}
		if err := json.Unmarshal(raw, child); err != nil {
			return fmt.Errorf("map entry %q: %w", name, err)
		}
		children[name] = child
	}
	g.Children = children
	return nil
}

// Reader provides access to a map store.
type Reader struct {
	basePath string
	metadata *Metadata
	decoder  *zstd.Decoder

	mu       sync.Mutex
	treeOnce sync.Once
	tree     *binning.Tree
	treeErr  error
	grids    map[string]binning.Grid
}

// NewReader opens a map store rooted at basePath.
func NewReader(basePath string) (*Reader, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	r := &Reader{
		basePath: basePath,
		decoder:  decoder,
		grids:    make(map[string]binning.Grid),
	}
	if err := r.loadMetadata(); err != nil {
		decoder.Close()
		return nil, err
	}
	return r, nil
}

// Metadata returns the store metadata.
func (r *Reader) Metadata() *Metadata {
	return r.metadata
}

// TargetBinning returns the coarse binning maps are smoothed onto.
func (r *Reader) TargetBinning() binning.Binning {
	return binning.Binning{
		Energy: binning.Axis(r.metadata.Target.EBins),
		CosZen: binning.Axis(r.metadata.Target.CZBins),
	}
}

func (r *Reader) loadMetadata() error {
	metadataPath := filepath.Join(r.basePath, "metadata.json")
	data, err := os.ReadFile(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to read metadata.json: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("failed to parse metadata.json: %w", err)
	}
	if metadata.Maps == nil {
		return fmt.Errorf("metadata.json has no maps section")
	}

	target := binning.Binning{
		Energy: binning.Axis(metadata.Target.EBins),
		CosZen: binning.Axis(metadata.Target.CZBins),
	}
	if err := target.Validate(); err != nil {
		return fmt.Errorf("invalid target binning: %w", err)
	}

	r.metadata = &metadata
	return nil
}

// Tree loads every map in the store into a typed binning.Tree. The result is
// built once and shared; grids are read-only after load.
func (r *Reader) Tree() (*binning.Tree, error) {
	r.treeOnce.Do(func() {
		r.tree, r.treeErr = r.buildTree(r.metadata.Maps)
		if r.treeErr == nil {
			r.treeErr = r.tree.Validate()
		}
	})
	return r.tree, r.treeErr
}

func (r *Reader) buildTree(spec *GroupSpec) (*binning.Tree, error) {
	if spec.Leaf != nil {
		leaf := spec.Leaf
		ebins := binning.Axis(leaf.EBins)
		czbins := binning.Axis(leaf.CZBins)
		if err := ebins.Validate(); err != nil {
			return nil, fmt.Errorf("map %q energy axis: %w", leaf.File, err)
		}
		if err := czbins.Validate(); err != nil {
			return nil, fmt.Errorf("map %q coszen axis: %w", leaf.File, err)
		}

		g, err := r.readGrid(leaf.File, ebins.NBins(), czbins.NBins())
		if err != nil {
			return nil, err
		}
		if err := binning.CheckShape(g, binning.Binning{Energy: ebins, CosZen: czbins}); err != nil {
			return nil, fmt.Errorf("map %q: %w", leaf.File, err)
		}
		return binning.NewLeaf(ebins, czbins, g), nil
	}

	children := make(map[string]*binning.Tree, len(spec.Children))
	for name, child := range spec.Children {
		node, err := r.buildTree(child)
		if err != nil {
			return nil, err
		}
		children[name] = node
	}
	return binning.NewInterior(children), nil
}

// readGrid reads and decompresses one cell file: little-endian float64,
// row-major, rows*cols values.
func (r *Reader) readGrid(relPath string, rows, cols int) (binning.Grid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.grids[relPath]; ok {
		return g, nil
	}

	compressed, err := os.ReadFile(filepath.Join(r.basePath, filepath.FromSlash(relPath)))
	if err != nil {
		return binning.Grid{}, fmt.Errorf("failed to read map file %q: %w", relPath, err)
	}
	raw, err := r.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return binning.Grid{}, fmt.Errorf("zstd decompress failed for %q: %w", relPath, err)
	}

	want := rows * cols * 8
	if len(raw) != want {
		return binning.Grid{}, fmt.Errorf("map file %q: got %d bytes, expected %d", relPath, len(raw), want)
	}

	g := binning.NewGrid(rows, cols)
	for i := range g.Data {
		off := i * 8
		bits := uint64(raw[off]) |
			uint64(raw[off+1])<<8 |
			uint64(raw[off+2])<<16 |
			uint64(raw[off+3])<<24 |
			uint64(raw[off+4])<<32 |
			uint64(raw[off+5])<<40 |
			uint64(raw[off+6])<<48 |
			uint64(raw[off+7])<<56
		g.Data[i] = math.Float64frombits(bits)
	}

	r.grids[relPath] = g
	return g, nil
}

// MapPaths lists every map in the store as a slash-joined path, in
// deterministic order.
func (r *Reader) MapPaths() ([]string, error) {
	tree, err := r.Tree()
	if err != nil {
		return nil, err
	}
	var paths []string
	err = tree.Walk(func(path []string, _ *binning.Leaf) error {
		joined := ""
		for i, p := range path {
			if i > 0 {
				joined += "/"
			}
			joined += p
		}
		paths = append(paths, joined)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// LookupLeaf resolves one map by its path segments.
func (r *Reader) LookupLeaf(path ...string) (*binning.Leaf, error) {
	tree, err := r.Tree()
	if err != nil {
		return nil, err
	}
	node := tree
	for _, seg := range path {
		child, ok := node.Children[seg]
		if !ok {
			return nil, fmt.Errorf("map not found: %v", path)
		}
		node = child
	}
	if node.Leaf == nil {
		return nil, fmt.Errorf("not a map: %v", path)
	}
	return node.Leaf, nil
}

// Close releases resources.
func (r *Reader) Close() {
	if r.decoder != nil {
		r.decoder.Close()
	}
}
