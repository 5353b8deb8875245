package model

import (
	"encoding/json"
	"fmt"
	"iter"
	"math/big"
)

// TileRange2D is an inclusive rectangle of tile indices at a single zoom level.
// The zero value is the single tile (0,0).
type TileRange2D struct {
	lowerLeft  TileIndex2D
	upperRight TileIndex2D
}

func NewTileRange2D(lowerLeft, upperRight TileIndex2D) (TileRange2D, error) {
	if upperRight.X < lowerLeft.X {
		return TileRange2D{}, fmt.Errorf("%w: upperRight.x < lowerLeft.x (%d < %d)", ErrInvalidRange, upperRight.X, lowerLeft.X)
	}
	if upperRight.Y < lowerLeft.Y {
		return TileRange2D{}, fmt.Errorf("%w: upperRight.y < lowerLeft.y (%d < %d)", ErrInvalidRange, upperRight.Y, lowerLeft.Y)
	}
	return TileRange2D{lowerLeft: lowerLeft, upperRight: upperRight}, nil
}

func RangeOf(minx, miny, maxx, maxy int64) (TileRange2D, error) {
	return NewTileRange2D(TileIndex2D{X: minx, Y: miny}, TileIndex2D{X: maxx, Y: maxy})
}

func (r TileRange2D) LowerLeft() TileIndex2D  { return r.lowerLeft }
func (r TileRange2D) UpperRight() TileIndex2D { return r.upperRight }
func (r TileRange2D) MinX() int64             { return r.lowerLeft.X }
func (r TileRange2D) MinY() int64             { return r.lowerLeft.Y }
func (r TileRange2D) MaxX() int64             { return r.upperRight.X }
func (r TileRange2D) MaxY() int64             { return r.upperRight.Y }

// SpanX returns the number of tile columns. It is only exact while the span fits an int64;
// use Count for arbitrary ranges.
func (r TileRange2D) SpanX() int64 { return r.upperRight.X - r.lowerLeft.X + 1 }

func (r TileRange2D) SpanY() int64 { return r.upperRight.Y - r.lowerLeft.Y + 1 }

func (r TileRange2D) Count() *big.Int {
	return new(big.Int).Mul(r.bigSpanX(), r.bigSpanY())
}

func (r TileRange2D) Contains(t TileIndex2D) bool {
	return t.X >= r.lowerLeft.X && t.X <= r.upperRight.X && t.Y >= r.lowerLeft.Y && t.Y <= r.upperRight.Y
}

// Intersect returns the overlap of r and o, false when they are disjoint.
func (r TileRange2D) Intersect(o TileRange2D) (TileRange2D, bool) {
	out := TileRange2D{
		lowerLeft:  TileIndex2D{X: max(r.MinX(), o.MinX()), Y: max(r.MinY(), o.MinY())},
		upperRight: TileIndex2D{X: min(r.MaxX(), o.MaxX()), Y: min(r.MaxY(), o.MaxY())},
	}
	if out.upperRight.X < out.lowerLeft.X || out.upperRight.Y < out.lowerLeft.Y {
		return TileRange2D{}, false
	}
	return out, true
}

// AsTiles yields every tile of the range, x fastest within each row, rows ascending.
func (r TileRange2D) AsTiles() iter.Seq[TileIndex2D] {
	return func(yield func(TileIndex2D) bool) {
		for y := r.lowerLeft.Y; ; y++ {
			for x := r.lowerLeft.X; ; x++ {
				if !yield(TileIndex2D{X: x, Y: y}) {
					return
				}
				if x == r.upperRight.X {
					break
				}
			}
			if y == r.upperRight.Y {
				return
			}
		}
	}
}

// AsMetaTiles partitions the range into sub-ranges of at most width x height tiles.
// Rows of meta-tiles are emitted bottom up, each row left to right; the last column and
// row may be narrower.
func (r TileRange2D) AsMetaTiles(width, height int) (iter.Seq[TileRange2D], error) {
	if err := checkMetaFactors(width, height); err != nil {
		return nil, err
	}
	w, h := int64(width), int64(height)
	return func(yield func(TileRange2D) bool) {
		for y := r.lowerLeft.Y; ; {
			maxy := bandEnd(y, r.upperRight.Y, h)
			for x := r.lowerLeft.X; ; {
				maxx := bandEnd(x, r.upperRight.X, w)
				sub := TileRange2D{
					lowerLeft:  TileIndex2D{X: x, Y: y},
					upperRight: TileIndex2D{X: maxx, Y: maxy},
				}
				if !yield(sub) {
					return
				}
				if maxx == r.upperRight.X {
					break
				}
				x = maxx + 1
			}
			if maxy == r.upperRight.Y {
				return
			}
			y = maxy + 1
		}
	}, nil
}

// CountMetaTiles returns the number of ranges AsMetaTiles would yield without enumerating them.
func (r TileRange2D) CountMetaTiles(width, height int) (*big.Int, error) {
	if err := checkMetaFactors(width, height); err != nil {
		return nil, err
	}
	cols := ceilDiv(r.bigSpanX(), big.NewInt(int64(width)))
	rows := ceilDiv(r.bigSpanY(), big.NewInt(int64(height)))
	return cols.Mul(cols, rows), nil
}

func (r TileRange2D) String() string {
	return fmt.Sprintf("TileRange2D[%s..%s]", r.lowerLeft, r.upperRight)
}

type tileRange2DJSON struct {
	MinX int64 `json:"minx"`
	MinY int64 `json:"miny"`
	MaxX int64 `json:"maxx"`
	MaxY int64 `json:"maxy"`
}

func (r TileRange2D) MarshalJSON() ([]byte, error) {
	return json.Marshal(tileRange2DJSON{MinX: r.MinX(), MinY: r.MinY(), MaxX: r.MaxX(), MaxY: r.MaxY()})
}

func (r *TileRange2D) UnmarshalJSON(b []byte) error {
	var v tileRange2DJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := RangeOf(v.MinX, v.MinY, v.MaxX, v.MaxY)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r TileRange2D) bigSpanX() *big.Int { return span(r.lowerLeft.X, r.upperRight.X) }
func (r TileRange2D) bigSpanY() *big.Int { return span(r.lowerLeft.Y, r.upperRight.Y) }

func span(lo, hi int64) *big.Int {
	s := new(big.Int).Sub(big.NewInt(hi), big.NewInt(lo))
	return s.Add(s, big.NewInt(1))
}

func ceilDiv(n, d *big.Int) *big.Int {
	q, m := new(big.Int).QuoRem(n, d, new(big.Int))
	if m.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// bandEnd returns the last index of a band of at most size entries starting at start,
// clipped to end.
func bandEnd(start, end, size int64) int64 {
	if end-start < size-1 {
		return end
	}
	return start + size - 1
}

func checkMetaFactors(width, height int) error {
	if width <= 0 {
		return fmt.Errorf("%w: width must be > 0, got %d", ErrInvalidArgument, width)
	}
	if height <= 0 {
		return fmt.Errorf("%w: height must be > 0, got %d", ErrInvalidArgument, height)
	}
	return nil
}

// TileRange3D binds a TileRange2D to a zoom level.
type TileRange3D struct {
	zoomLevel int
	tiles     TileRange2D
}

func NewTileRange3D(zoomLevel int, tiles TileRange2D) (TileRange3D, error) {
	if zoomLevel < 0 {
		return TileRange3D{}, fmt.Errorf("%w: zoom level must be >= 0, got %d", ErrInvalidArgument, zoomLevel)
	}
	return TileRange3D{zoomLevel: zoomLevel, tiles: tiles}, nil
}

func (r TileRange3D) ZoomLevel() int     { return r.zoomLevel }
func (r TileRange3D) Tiles() TileRange2D { return r.tiles }
func (r TileRange3D) Count() *big.Int    { return r.tiles.Count() }

func (r TileRange3D) LowerLeft() TileIndex3D {
	return r.tiles.lowerLeft.At(r.zoomLevel)
}

func (r TileRange3D) UpperRight() TileIndex3D {
	return r.tiles.upperRight.At(r.zoomLevel)
}

func (r TileRange3D) AsTiles() iter.Seq[TileIndex3D] {
	return func(yield func(TileIndex3D) bool) {
		for t := range r.tiles.AsTiles() {
			if !yield(t.At(r.zoomLevel)) {
				return
			}
		}
	}
}

func (r TileRange3D) AsMetaTiles(width, height int) (iter.Seq[TileRange3D], error) {
	subs, err := r.tiles.AsMetaTiles(width, height)
	if err != nil {
		return nil, err
	}
	return func(yield func(TileRange3D) bool) {
		for sub := range subs {
			if !yield(TileRange3D{zoomLevel: r.zoomLevel, tiles: sub}) {
				return
			}
		}
	}, nil
}

func (r TileRange3D) CountMetaTiles(width, height int) (*big.Int, error) {
	return r.tiles.CountMetaTiles(width, height)
}

func (r TileRange3D) String() string {
	return fmt.Sprintf("TileRange3D[z=%d %s..%s]", r.zoomLevel, r.tiles.lowerLeft, r.tiles.upperRight)
}

type tileRange3DJSON struct {
	ZoomLevel int         `json:"z"`
	Tiles     TileRange2D `json:"tiles"`
}

func (r TileRange3D) MarshalJSON() ([]byte, error) {
	return json.Marshal(tileRange3DJSON{ZoomLevel: r.zoomLevel, Tiles: r.tiles})
}

func (r *TileRange3D) UnmarshalJSON(b []byte) error {
	var v tileRange3DJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := NewTileRange3D(v.ZoomLevel, v.Tiles)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
