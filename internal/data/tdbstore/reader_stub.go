//go:build !tiledb

package tdbstore

import (
	"fmt"
	"os"

	"github.com/mapsmooth/server/internal/binning"
)

// Reader is a stub when built without "-tags tiledb".
type Reader struct {
	groupURI string
}

// NewReader creates a TileDB map reader (stub). It still resolves and
// validates the group path, so config issues can be caught early, but all
// read methods return ErrUnsupported.
func NewReader(path string) (*Reader, error) {
	uri, err := ResolveGroupURI(path)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(uri); statErr != nil {
		return nil, fmt.Errorf("tiledb group not found at %s: %w", uri, statErr)
	}
	return &Reader{groupURI: uri}, nil
}

func (r *Reader) Supported() bool { return false }

func (r *Reader) GroupURI() string { return r.groupURI }

// ReadMap reads one dense map array with its binning.
func (r *Reader) ReadMap(name string) (binning.Grid, binning.Binning, error) {
	return binning.Grid{}, binning.Binning{}, ErrUnsupported
}

func (r *Reader) Close() {}
