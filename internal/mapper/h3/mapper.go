// Package h3mapper converts H3 cells into the lon/lat bounds seeding works with.
package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"
)

func parseCell(s string) (h3.Cell, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("parse cell %q: %w", s, err)
	}
	if !c.IsValid() {
		return 0, fmt.Errorf("invalid h3 cell %q", s)
	}
	return c, nil
}

// BoundsForCells returns the WGS84 envelope of the cell boundaries.
// Cells crossing the antimeridian widen the bound to the full longitude range.
func BoundsForCells(cells []string) (orb.Bound, error) {
	if len(cells) == 0 {
		return orb.Bound{}, errors.New("no h3 cells")
	}
	var b orb.Bound
	first := true
	for _, s := range cells {
		c, err := parseCell(s)
		if err != nil {
			return orb.Bound{}, err
		}
		boundary, err := c.Boundary()
		if err != nil {
			return orb.Bound{}, fmt.Errorf("boundary of %q: %w", s, err)
		}
		cb := loopBound(boundary)
		if first {
			b, first = cb, false
			continue
		}
		b = b.Union(cb)
	}
	return b, nil
}

func loopBound(boundary h3.CellBoundary) orb.Bound {
	ring := make(orb.Ring, 0, len(boundary))
	for _, ll := range boundary {
		ring = append(ring, orb.Point{ll.Lng, ll.Lat})
	}
	b := ring.Bound()
	// a cell never spans more than a few degrees; a wide envelope means it wraps
	if b.Max[0]-b.Min[0] > 180 {
		b.Min[0], b.Max[0] = -180, 180
	}
	return b
}

// Normalize validates cells and returns them sorted and de-duplicated.
func Normalize(cells []string) ([]string, error) {
	seen := make(map[string]struct{}, len(cells))
	out := make([]string, 0, len(cells))
	for _, s := range cells {
		c, err := parseCell(s)
		if err != nil {
			return nil, err
		}
		k := c.String()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
