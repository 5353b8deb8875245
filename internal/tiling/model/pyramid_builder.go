package model

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// PyramidBuilder computes the TilePyramid of a layer for one of its grid subsets.
// Setters return a modified copy; the zero value needs at least Layer and GridsetID.
type PyramidBuilder struct {
	layer     *TileLayerInfo
	gridsetID string
	minZoom   *int
	maxZoom   *int
	bounds    *orb.Bound
}

func NewPyramidBuilder(layer *TileLayerInfo, gridsetID string) PyramidBuilder {
	return PyramidBuilder{layer: layer, gridsetID: gridsetID}
}

func (b PyramidBuilder) Layer(layer *TileLayerInfo) PyramidBuilder {
	b.layer = layer
	return b
}

func (b PyramidBuilder) GridsetID(id string) PyramidBuilder {
	b.gridsetID = id
	return b
}

// MinZoomLevel sets the first zoom level; nil restores the subset's effective minimum.
func (b PyramidBuilder) MinZoomLevel(z *int) PyramidBuilder {
	b.minZoom = copyInt(z)
	return b
}

// MaxZoomLevel sets the last zoom level; nil restores the subset's effective maximum.
func (b PyramidBuilder) MaxZoomLevel(z *int) PyramidBuilder {
	b.maxZoom = copyInt(z)
	return b
}

// Bounds restricts coverage to a bounding box in the gridset's native units; nil means full coverage.
func (b PyramidBuilder) Bounds(bounds *orb.Bound) PyramidBuilder {
	if bounds == nil {
		b.bounds = nil
		return b
	}
	cp := *bounds
	b.bounds = &cp
	return b
}

func (b PyramidBuilder) Build() (TilePyramid, error) {
	if b.layer == nil {
		return TilePyramid{}, errors.New("pyramid builder: layer is required")
	}
	subset, ok := b.layer.GridSubset(b.gridsetID)
	if !ok {
		return TilePyramid{}, fmt.Errorf("%w: layer %q is not configured for gridset %q", ErrUnsupportedGridset, b.layer.Name, b.gridsetID)
	}
	minZoom, maxZoom, err := b.resolveZoomLevels(subset)
	if err != nil {
		return TilePyramid{}, err
	}

	metaW, metaH := b.layer.MetaTiling()
	ranges := make([]TileRange3D, 0, maxZoom-minZoom+1)
	for z := minZoom; z <= maxZoom; z++ {
		var cov TileRange2D
		if b.bounds == nil {
			cov, ok = subset.Coverage(z)
		} else {
			cov, ok = subset.CoverageForBounds(z, *b.bounds)
		}
		if !ok {
			continue
		}
		wide, high := subset.GridSize(z)
		ranges = append(ranges, TileRange3D{zoomLevel: z, tiles: expandToMetaFactors(cov, metaW, metaH, wide, high)})
	}
	if len(ranges) == 0 {
		return TilePyramid{}, fmt.Errorf("%w: bounds %v do not intersect gridset %q of layer %q", ErrEmptyPyramid, b.bounds, b.gridsetID, b.layer.Name)
	}
	return NewTilePyramid(b.layer.Name, b.gridsetID, metaW, metaH, ranges...)
}

func (b PyramidBuilder) resolveZoomLevels(subset GridSubsetInfo) (int, int, error) {
	lo, hi := EffectiveZoomRange(subset)
	minZoom, maxZoom := lo, hi
	if b.minZoom != nil {
		if *b.minZoom < lo || *b.minZoom > hi {
			return 0, 0, fmt.Errorf("%w: minZoomLevel %d is outside the range [%d, %d] of gridset %q",
				ErrZoomOutOfRange, *b.minZoom, lo, hi, subset.Name())
		}
		minZoom = *b.minZoom
	}
	if b.maxZoom != nil {
		if *b.maxZoom < lo || *b.maxZoom > hi {
			return 0, 0, fmt.Errorf("%w: maxZoomLevel %d is outside the range [%d, %d] of gridset %q",
				ErrZoomOutOfRange, *b.maxZoom, lo, hi, subset.Name())
		}
		maxZoom = *b.maxZoom
	}
	if minZoom > maxZoom {
		return 0, 0, fmt.Errorf("%w: minZoomLevel %d > maxZoomLevel %d", ErrZoomOutOfRange, minZoom, maxZoom)
	}
	return minZoom, maxZoom, nil
}

// expandToMetaFactors grows cov outwards to meta-tile boundaries, clamped to the grid.
func expandToMetaFactors(cov TileRange2D, metaW, metaH int, wide, high int64) TileRange2D {
	mw, mh := int64(metaW), int64(metaH)
	minx := cov.MinX() - floorMod(cov.MinX(), mw)
	miny := cov.MinY() - floorMod(cov.MinY(), mh)
	maxx := cov.MaxX() - floorMod(cov.MaxX(), mw) + mw - 1
	maxy := cov.MaxY() - floorMod(cov.MaxY(), mh) + mh - 1
	if wide > 0 {
		maxx = min(maxx, wide-1)
	}
	if high > 0 {
		maxy = min(maxy, high-1)
	}
	return TileRange2D{
		lowerLeft:  TileIndex2D{X: minx, Y: miny},
		upperRight: TileIndex2D{X: max(maxx, cov.MaxX()), Y: max(maxy, cov.MaxY())},
	}
}

// floorMod is v mod m with the sign of m, so negative indices round down too.
func floorMod(v, m int64) int64 {
	return ((v % m) + m) % m
}

func copyInt(z *int) *int {
	if z == nil {
		return nil
	}
	v := *z
	return &v
}
