package gridset

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

// GridSubset is the part of a Gridset a layer serves.
type GridSubset struct {
	gridset   *Gridset
	extent    *orb.Bound
	zoomStart int
	zoomStop  int
	minCached *int
	maxCached *int
}

var _ model.GridSubsetInfo = (*GridSubset)(nil)

type SubsetOption func(*GridSubset)

func WithZoomLevels(start, stop int) SubsetOption {
	return func(s *GridSubset) {
		s.zoomStart, s.zoomStop = start, stop
	}
}

func WithMinCachedZoom(z int) SubsetOption {
	return func(s *GridSubset) { s.minCached = &z }
}

func WithMaxCachedZoom(z int) SubsetOption {
	return func(s *GridSubset) { s.maxCached = &z }
}

// WithExtent limits coverage to b, expressed in the gridset's units.
func WithExtent(b orb.Bound) SubsetOption {
	return func(s *GridSubset) { s.extent = &b }
}

func NewGridSubset(g *Gridset, opts ...SubsetOption) (*GridSubset, error) {
	if g == nil || g.NumLevels() == 0 {
		return nil, fmt.Errorf("grid subset: gridset has no levels")
	}
	s := &GridSubset{gridset: g, zoomStart: 0, zoomStop: g.NumLevels() - 1}
	for _, opt := range opts {
		opt(s)
	}
	if s.zoomStart < 0 || s.zoomStop >= g.NumLevels() || s.zoomStart > s.zoomStop {
		return nil, fmt.Errorf("grid subset %s: zoom levels [%d, %d] outside [0, %d]", g.Name, s.zoomStart, s.zoomStop, g.NumLevels()-1)
	}
	if s.minCached != nil && (*s.minCached < s.zoomStart || *s.minCached > s.zoomStop) {
		return nil, fmt.Errorf("grid subset %s: min cached zoom %d outside [%d, %d]", g.Name, *s.minCached, s.zoomStart, s.zoomStop)
	}
	if s.maxCached != nil && (*s.maxCached < s.zoomStart || *s.maxCached > s.zoomStop) {
		return nil, fmt.Errorf("grid subset %s: max cached zoom %d outside [%d, %d]", g.Name, *s.maxCached, s.zoomStart, s.zoomStop)
	}
	if s.extent != nil && !s.extent.Intersects(g.Extent) {
		return nil, fmt.Errorf("grid subset %s: extent %v outside gridset extent", g.Name, *s.extent)
	}
	return s, nil
}

func (s *GridSubset) Gridset() *Gridset { return s.gridset }
func (s *GridSubset) Name() string      { return s.gridset.Name }
func (s *GridSubset) SRS() string       { return s.gridset.SRS }
func (s *GridSubset) ZoomStart() int    { return s.zoomStart }
func (s *GridSubset) ZoomStop() int     { return s.zoomStop }

func (s *GridSubset) MinCachedZoom() (int, bool) {
	if s.minCached == nil {
		return 0, false
	}
	return *s.minCached, true
}

func (s *GridSubset) MaxCachedZoom() (int, bool) {
	if s.maxCached == nil {
		return 0, false
	}
	return *s.maxCached, true
}

func (s *GridSubset) GridSize(z int) (int64, int64) { return s.gridset.GridSize(z) }

func (s *GridSubset) Coverage(z int) (model.TileRange2D, bool) {
	if z < s.zoomStart || z > s.zoomStop {
		return model.TileRange2D{}, false
	}
	if s.extent == nil {
		return s.gridset.FullCoverage(z)
	}
	return s.gridset.CoverageForBounds(z, *s.extent)
}

func (s *GridSubset) CoverageForBounds(z int, b orb.Bound) (model.TileRange2D, bool) {
	cov, ok := s.Coverage(z)
	if !ok {
		return model.TileRange2D{}, false
	}
	r, ok := s.gridset.CoverageForBounds(z, b)
	if !ok {
		return model.TileRange2D{}, false
	}
	return r.Intersect(cov)
}
