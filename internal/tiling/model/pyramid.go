package model

import (
	"cmp"
	"encoding/json"
	"fmt"
	"iter"
	"math/big"
	"slices"
)

// TilePyramid is the set of tile ranges of one layer and gridset, one range per zoom level,
// ordered by ascending zoom level.
type TilePyramid struct {
	layerName  string
	gridsetID  string
	metaWidth  int
	metaHeight int
	ranges     []TileRange3D
}

func NewTilePyramid(layerName, gridsetID string, metaWidth, metaHeight int, ranges ...TileRange3D) (TilePyramid, error) {
	if len(ranges) == 0 {
		return TilePyramid{}, fmt.Errorf("%w: layer %q gridset %q", ErrEmptyPyramid, layerName, gridsetID)
	}
	if err := checkMetaFactors(metaWidth, metaHeight); err != nil {
		return TilePyramid{}, fmt.Errorf("meta tiling: %w", err)
	}
	sorted := slices.Clone(ranges)
	slices.SortFunc(sorted, func(a, b TileRange3D) int { return cmp.Compare(a.zoomLevel, b.zoomLevel) })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].zoomLevel == sorted[i-1].zoomLevel {
			return TilePyramid{}, fmt.Errorf("%w: duplicate zoom level %d", ErrInvalidArgument, sorted[i].zoomLevel)
		}
	}
	return TilePyramid{
		layerName:  layerName,
		gridsetID:  gridsetID,
		metaWidth:  metaWidth,
		metaHeight: metaHeight,
		ranges:     sorted,
	}, nil
}

func (p TilePyramid) LayerName() string { return p.layerName }
func (p TilePyramid) GridsetID() string { return p.gridsetID }
func (p TilePyramid) IsEmpty() bool     { return len(p.ranges) == 0 }

func (p TilePyramid) MetaTiling() (width, height int) {
	return p.metaWidth, p.metaHeight
}

// MinZoomLevel returns -1 for an empty pyramid.
func (p TilePyramid) MinZoomLevel() int {
	if len(p.ranges) == 0 {
		return -1
	}
	return p.ranges[0].zoomLevel
}

// MaxZoomLevel returns -1 for an empty pyramid.
func (p TilePyramid) MaxZoomLevel() int {
	if len(p.ranges) == 0 {
		return -1
	}
	return p.ranges[len(p.ranges)-1].zoomLevel
}

func (p TilePyramid) Ranges() []TileRange3D {
	return slices.Clone(p.ranges)
}

func (p TilePyramid) Range(z int) (TileRange3D, bool) {
	i, ok := slices.BinarySearchFunc(p.ranges, z, func(r TileRange3D, z int) int {
		return cmp.Compare(r.zoomLevel, z)
	})
	if !ok {
		return TileRange3D{}, false
	}
	return p.ranges[i], true
}

// ToLevel returns a pyramid restricted to zoom level z, false when z is not covered.
func (p TilePyramid) ToLevel(z int) (TilePyramid, bool) {
	r, ok := p.Range(z)
	if !ok {
		return TilePyramid{}, false
	}
	out := p
	out.ranges = []TileRange3D{r}
	return out, true
}

func (p TilePyramid) Count() *big.Int {
	total := new(big.Int)
	for _, r := range p.ranges {
		total.Add(total, r.Count())
	}
	return total
}

func (p TilePyramid) AsTiles() iter.Seq[TileIndex3D] {
	return func(yield func(TileIndex3D) bool) {
		for _, r := range p.ranges {
			for t := range r.AsTiles() {
				if !yield(t) {
					return
				}
			}
		}
	}
}

func (p TilePyramid) AsMetaTiles(width, height int) (iter.Seq[TileRange3D], error) {
	if err := checkMetaFactors(width, height); err != nil {
		return nil, err
	}
	return func(yield func(TileRange3D) bool) {
		for _, r := range p.ranges {
			// factors already validated
			subs, _ := r.AsMetaTiles(width, height)
			for sub := range subs {
				if !yield(sub) {
					return
				}
			}
		}
	}, nil
}

func (p TilePyramid) CountMetaTiles(width, height int) (*big.Int, error) {
	if err := checkMetaFactors(width, height); err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, r := range p.ranges {
		n, _ := r.CountMetaTiles(width, height)
		total.Add(total, n)
	}
	return total, nil
}

func (p TilePyramid) Equal(o TilePyramid) bool {
	return p.layerName == o.layerName &&
		p.gridsetID == o.gridsetID &&
		p.metaWidth == o.metaWidth &&
		p.metaHeight == o.metaHeight &&
		slices.Equal(p.ranges, o.ranges)
}

func (p TilePyramid) String() string {
	return fmt.Sprintf("TilePyramid[layer=%s gridset=%s zoom=%d..%d]", p.layerName, p.gridsetID, p.MinZoomLevel(), p.MaxZoomLevel())
}

type tilePyramidJSON struct {
	Layer      string        `json:"layer"`
	GridsetID  string        `json:"gridset"`
	MetaWidth  int           `json:"meta_width"`
	MetaHeight int           `json:"meta_height"`
	Ranges     []TileRange3D `json:"ranges"`
}

func (p TilePyramid) MarshalJSON() ([]byte, error) {
	return json.Marshal(tilePyramidJSON{
		Layer:      p.layerName,
		GridsetID:  p.gridsetID,
		MetaWidth:  p.metaWidth,
		MetaHeight: p.metaHeight,
		Ranges:     p.ranges,
	})
}

func (p *TilePyramid) UnmarshalJSON(b []byte) error {
	var v tilePyramidJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := NewTilePyramid(v.Layer, v.GridsetID, v.MetaWidth, v.MetaHeight, v.Ranges...)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
