package model

import (
	"slices"

	"github.com/paulmach/orb"
)

// GridSubsetInfo is the read-only view of the part of a gridset a layer serves.
// Coverage and bounds use the gridset's native units and a bottom-left origin.
type GridSubsetInfo interface {
	Name() string
	SRS() string
	ZoomStart() int
	ZoomStop() int
	MinCachedZoom() (int, bool)
	MaxCachedZoom() (int, bool)
	// Coverage returns the subset's tile coverage at z, false when z is outside the subset.
	Coverage(z int) (TileRange2D, bool)
	// CoverageForBounds intersects the tiles touched by bounds with the subset coverage at z.
	CoverageForBounds(z int, bounds orb.Bound) (TileRange2D, bool)
	// GridSize returns the number of tile columns and rows of the whole grid at z.
	GridSize(z int) (wide, high int64)
}

// EffectiveZoomRange returns the cached zoom bounds when configured, else the absolute ones.
func EffectiveZoomRange(s GridSubsetInfo) (minZoom, maxZoom int) {
	minZoom, maxZoom = s.ZoomStart(), s.ZoomStop()
	if z, ok := s.MinCachedZoom(); ok {
		minZoom = z
	}
	if z, ok := s.MaxCachedZoom(); ok {
		maxZoom = z
	}
	return minZoom, maxZoom
}

// TileLayerInfo is the read-only view of a tile layer as resolved by a LayerResolver.
type TileLayerInfo struct {
	Name        string
	Formats     []string
	GridSubsets []GridSubsetInfo
	MetaWidth   int
	MetaHeight  int
}

func (l *TileLayerInfo) GridSubset(name string) (GridSubsetInfo, bool) {
	for _, s := range l.GridSubsets {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

func (l *TileLayerInfo) GridSubsetNames() []string {
	names := make([]string, 0, len(l.GridSubsets))
	for _, s := range l.GridSubsets {
		names = append(names, s.Name())
	}
	return names
}

func (l *TileLayerInfo) SupportsFormat(format string) bool {
	return slices.Contains(l.Formats, format)
}

// MetaTiling returns the layer's meta-tiling factors, 1x1 when unset.
func (l *TileLayerInfo) MetaTiling() (width, height int) {
	return max(l.MetaWidth, 1), max(l.MetaHeight, 1)
}
