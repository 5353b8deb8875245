// Package gridset provides tiling schemes and the grid subsets layers are served on.
package gridset

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

const (
	SRS4326 = "EPSG:4326"
	SRS3857 = "EPSG:3857"

	mercatorHalfWorld = 20037508.342789244
	maxMercatorLat    = 85.0511287798066
	// tolerance when snapping bounds onto tile edges
	edgeEpsilon = 1e-6
)

// Gridset is a tiling scheme with a bottom-left origin: tile (0,0) of every level sits at
// the extent's lower left corner.
type Gridset struct {
	Name        string
	SRS         string
	Extent      orb.Bound
	TileWidth   int
	TileHeight  int
	Resolutions []float64
}

func (g *Gridset) NumLevels() int { return len(g.Resolutions) }

func (g *Gridset) tileSpan(z int) (float64, float64) {
	res := g.Resolutions[z]
	return res * float64(g.TileWidth), res * float64(g.TileHeight)
}

// GridSize returns the number of tile columns and rows at z, zero for unknown levels.
func (g *Gridset) GridSize(z int) (wide, high int64) {
	if z < 0 || z >= len(g.Resolutions) {
		return 0, 0
	}
	sx, sy := g.tileSpan(z)
	wide = int64(math.Round((g.Extent.Max[0] - g.Extent.Min[0]) / sx))
	high = int64(math.Round((g.Extent.Max[1] - g.Extent.Min[1]) / sy))
	return max(wide, 1), max(high, 1)
}

func (g *Gridset) FullCoverage(z int) (model.TileRange2D, bool) {
	wide, high := g.GridSize(z)
	if wide == 0 {
		return model.TileRange2D{}, false
	}
	r, err := model.RangeOf(0, 0, wide-1, high-1)
	return r, err == nil
}

// CoverageForBounds returns the tiles touched by b at z, clipped to the grid.
func (g *Gridset) CoverageForBounds(z int, b orb.Bound) (model.TileRange2D, bool) {
	full, ok := g.FullCoverage(z)
	if !ok || b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || !b.Intersects(g.Extent) {
		return model.TileRange2D{}, false
	}
	sx, sy := g.tileSpan(z)
	minx := int64(math.Floor((b.Min[0]-g.Extent.Min[0])/sx + edgeEpsilon))
	miny := int64(math.Floor((b.Min[1]-g.Extent.Min[1])/sy + edgeEpsilon))
	maxx := int64(math.Ceil((b.Max[0]-g.Extent.Min[0])/sx-edgeEpsilon)) - 1
	maxy := int64(math.Ceil((b.Max[1]-g.Extent.Min[1])/sy-edgeEpsilon)) - 1
	// degenerate (point or line) bounds still touch one tile
	maxx = max(maxx, minx)
	maxy = max(maxy, miny)

	r, err := model.RangeOf(minx, miny, maxx, maxy)
	if err != nil {
		return model.TileRange2D{}, false
	}
	return r.Intersect(full)
}

// TileBounds returns the extent of tile (x,y) at z in the gridset's units.
func (g *Gridset) TileBounds(z int, x, y int64) orb.Bound {
	sx, sy := g.tileSpan(z)
	minx := g.Extent.Min[0] + float64(x)*sx
	miny := g.Extent.Min[1] + float64(y)*sy
	return orb.Bound{Min: orb.Point{minx, miny}, Max: orb.Point{minx + sx, miny + sy}}
}

// FromLonLat converts a WGS84 bound into the gridset's units.
func (g *Gridset) FromLonLat(b orb.Bound) orb.Bound {
	return ProjectLonLat(g.SRS, b)
}

// ProjectLonLat converts a WGS84 bound into the units of srs. Only web mercator needs
// reprojection; other grids are taken to be geographic.
func ProjectLonLat(srs string, b orb.Bound) orb.Bound {
	if srs != SRS3857 {
		return b
	}
	clampLat := func(p orb.Point) orb.Point {
		p[1] = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, p[1]))
		return p
	}
	lo := project.WGS84.ToMercator(clampLat(b.Min))
	hi := project.WGS84.ToMercator(clampLat(b.Max))
	return orb.Bound{Min: lo, Max: hi}
}

func (g *Gridset) String() string {
	return fmt.Sprintf("%s(%s, %d levels)", g.Name, g.SRS, len(g.Resolutions))
}

func halvingResolutions(res0 float64, levels int) []float64 {
	out := make([]float64, levels)
	for z := range out {
		out[z] = res0 / math.Exp2(float64(z))
	}
	return out
}

// WorldEPSG4326 is the plate carree world grid with two tiles at level 0.
func WorldEPSG4326() *Gridset {
	return &Gridset{
		Name:        SRS4326,
		SRS:         SRS4326,
		Extent:      orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}},
		TileWidth:   256,
		TileHeight:  256,
		Resolutions: halvingResolutions(180.0/256.0, 22),
	}
}

// WorldMercator is the spherical mercator world grid with one tile at level 0.
func WorldMercator(name string) *Gridset {
	return &Gridset{
		Name:        name,
		SRS:         SRS3857,
		Extent:      orb.Bound{Min: orb.Point{-mercatorHalfWorld, -mercatorHalfWorld}, Max: orb.Point{mercatorHalfWorld, mercatorHalfWorld}},
		TileWidth:   256,
		TileHeight:  256,
		Resolutions: halvingResolutions(2*mercatorHalfWorld/256.0, 25),
	}
}

// Lookup returns a built-in gridset by name.
func Lookup(name string) (*Gridset, bool) {
	switch name {
	case SRS4326:
		return WorldEPSG4326(), true
	case "EPSG:900913", SRS3857, "GoogleMapsCompatible":
		return WorldMercator(name), true
	default:
		return nil, false
	}
}
