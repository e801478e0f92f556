// Package tdbstore provides read-only access to fine maps stored as TileDB
// dense arrays.
//
// This is intentionally small: each map is one 2-D dense array (energy bin x
// cos-zenith bin, float64 cells) with the axis edges carried in the array
// metadata. The zstd map store remains the primary source; this backend is
// for archives that already live in TileDB.
package tdbstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupported indicates this binary was built without TileDB support.
	ErrUnsupported = errors.New("tiledb support is not enabled in this build (build server with: go build -tags tiledb)")
)

// ResolveGroupURI normalizes a configured TileDB group path.
func ResolveGroupURI(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", errors.New("empty tiledb_path")
	}
	p = os.ExpandEnv(p)
	return filepath.Clean(p), nil
}
