//go:build tiledb

package tdbstore

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/mapsmooth/server/internal/binning"
)

// Reader reads fine maps from 2-D dense TileDB arrays. Each array carries
// its bin edges as array metadata ("ebins", "czbins") and its cells in a
// float64 "value" attribute, laid out energy x cos-zenith.
type Reader struct {
	groupURI string
	ctx      *tiledb.Context
}

func NewReader(path string) (*Reader, error) {
	uri, err := ResolveGroupURI(path)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(uri); statErr != nil {
		return nil, fmt.Errorf("tiledb group not found at %s: %w", uri, statErr)
	}

	ctx, err := tiledb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create TileDB context: %w", err)
	}

	return &Reader{groupURI: uri, ctx: ctx}, nil
}

func (r *Reader) Supported() bool { return true }

func (r *Reader) GroupURI() string { return r.groupURI }

// ReadMap reads one dense map array with its binning. The name is the
// array's path relative to the group.
func (r *Reader) ReadMap(name string) (binning.Grid, binning.Binning, error) {
	arrURI := filepath.Join(r.groupURI, filepath.FromSlash(name))
	arr, err := tiledb.NewArray(r.ctx, arrURI)
	if err != nil {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("failed to open array (%s): %w", arrURI, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("failed to open array for read: %w", err)
	}
	defer arr.Close()

	ebins, err := metadataFloat64s(arr, "ebins")
	if err != nil {
		return binning.Grid{}, binning.Binning{}, err
	}
	czbins, err := metadataFloat64s(arr, "czbins")
	if err != nil {
		return binning.Grid{}, binning.Binning{}, err
	}
	b := binning.Binning{Energy: binning.Axis(ebins), CosZen: binning.Axis(czbins)}
	if err := b.Validate(); err != nil {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("array %q metadata: %w", name, err)
	}

	rowMin, rowMax, err := dimBounds(arr, "energy")
	if err != nil {
		return binning.Grid{}, binning.Binning{}, err
	}
	colMin, colMax, err := dimBounds(arr, "coszen")
	if err != nil {
		return binning.Grid{}, binning.Binning{}, err
	}
	rows := int(rowMax - rowMin + 1)
	cols := int(colMax - colMin + 1)
	if rows != b.Energy.NBins() || cols != b.CosZen.NBins() {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf(
			"array %q: %dx%d cells do not match %dx%d bins", name, rows, cols, b.Energy.NBins(), b.CosZen.NBins())
	}

	sub, err := arr.NewSubarray()
	if err != nil {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("failed to create subarray: %w", err)
	}
	defer sub.Free()
	if err := sub.AddRangeByName("energy", tiledb.MakeRange[int64](rowMin, rowMax)); err != nil {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("failed to add energy range: %w", err)
	}
	if err := sub.AddRangeByName("coszen", tiledb.MakeRange[int64](colMin, colMax)); err != nil {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("failed to add coszen range: %w", err)
	}

	q, err := tiledb.NewQuery(r.ctx, arr)
	if err != nil {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("failed to create query: %w", err)
	}
	defer q.Free()
	if err := q.SetSubarray(sub); err != nil {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("failed to set subarray: %w", err)
	}
	if err := q.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("failed to set query layout: %w", err)
	}

	cells := make([]float64, rows*cols)
	if _, err := q.SetDataBuffer("value", cells); err != nil {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("failed to set value buffer: %w", err)
	}

	if err := q.Submit(); err != nil {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("query submit failed: %w", err)
	}
	status, err := q.Status()
	if err != nil {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("query status failed: %w", err)
	}
	if status != tiledb.TILEDB_COMPLETED {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("unexpected query status: %v", status)
	}

	return binning.Grid{Rows: rows, Cols: cols, Data: cells}, b, nil
}

func (r *Reader) Close() {
	if r.ctx != nil {
		r.ctx.Free()
	}
}

func metadataFloat64s(arr *tiledb.Array, key string) ([]float64, error) {
	dt, num, value, err := arr.GetMetadata(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q metadata: %w", key, err)
	}
	if dt != tiledb.TILEDB_FLOAT64 {
		return nil, fmt.Errorf("metadata %q has datatype %v, expected float64", key, dt)
	}
	switch v := value.(type) {
	case []float64:
		return v, nil
	case float64:
		return []float64{v}, nil
	}
	return nil, fmt.Errorf("metadata %q: unexpected value type (%d elements)", key, num)
}

func dimBounds(arr *tiledb.Array, dim string) (int64, int64, error) {
	ned, isEmpty, err := arr.NonEmptyDomainFromName(dim)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get %q non-empty domain: %w", dim, err)
	}
	if isEmpty || ned == nil {
		return 0, 0, fmt.Errorf("array is empty on dimension %q", dim)
	}
	switch v := ned.Bounds.(type) {
	case []int64:
		if len(v) >= 2 {
			return v[0], v[1], nil
		}
	case []int32:
		if len(v) >= 2 {
			return int64(v[0]), int64(v[1]), nil
		}
	case []uint64:
		if len(v) >= 2 {
			if v[0] > math.MaxInt64 || v[1] > math.MaxInt64 {
				return 0, 0, fmt.Errorf("uint64 bounds exceed int64 range")
			}
			return int64(v[0]), int64(v[1]), nil
		}
	}
	return 0, 0, fmt.Errorf("unsupported bounds type for dimension %q", dim)
}
