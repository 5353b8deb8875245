package gridset

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestGridSize(t *testing.T) {
	g := WorldEPSG4326()
	for z, want := range [][2]int64{{2, 1}, {4, 2}, {8, 4}} {
		wide, high := g.GridSize(z)
		if wide != want[0] || high != want[1] {
			t.Fatalf("4326 z%d: %dx%d want %dx%d", z, wide, high, want[0], want[1])
		}
	}
	if wide, high := g.GridSize(21); wide != 1<<22 || high != 1<<21 {
		t.Fatalf("4326 z21: %dx%d", wide, high)
	}
	m := WorldMercator("EPSG:900913")
	if wide, high := m.GridSize(0); wide != 1 || high != 1 {
		t.Fatalf("mercator z0: %dx%d", wide, high)
	}
	if wide, _ := m.GridSize(24); wide != 1<<24 {
		t.Fatalf("mercator z24: %d", wide)
	}
	if wide, high := m.GridSize(99); wide != 0 || high != 0 {
		t.Fatalf("unknown level must be 0x0")
	}
}

func TestCoverageForBounds_BottomLeftOrigin(t *testing.T) {
	g := WorldEPSG4326()
	// south west quadrant at z1 is tile (0,0)
	r, ok := g.CoverageForBounds(1, orb.Bound{Min: orb.Point{-170, -80}, Max: orb.Point{-100, -10}})
	if !ok {
		t.Fatal("expected coverage")
	}
	if r.MinX() != 0 || r.MaxX() != 0 || r.MinY() != 0 || r.MaxY() != 0 {
		t.Fatalf("got %v want single tile (0,0)", r)
	}
	// north east quadrant
	r, _ = g.CoverageForBounds(1, orb.Bound{Min: orb.Point{100, 10}, Max: orb.Point{170, 80}})
	if r.MinX() != 3 || r.MinY() != 1 {
		t.Fatalf("got %v want tile (3,1)", r)
	}
}

func TestCoverageForBounds_EdgesSnapAndClip(t *testing.T) {
	g := WorldEPSG4326()
	r, ok := g.CoverageForBounds(0, orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{0, 90}})
	if !ok || r.MinX() != 0 || r.MaxX() != 0 {
		t.Fatalf("western hemisphere at z0 = %v, want column 0 only", r)
	}
	r, ok = g.CoverageForBounds(0, orb.Bound{Min: orb.Point{-500, -500}, Max: orb.Point{500, 500}})
	if !ok || r.MaxX() != 1 || r.MaxY() != 0 {
		t.Fatalf("oversized bounds must clip to grid, got %v", r)
	}
	if _, ok := g.CoverageForBounds(0, orb.Bound{Min: orb.Point{200, 0}, Max: orb.Point{210, 10}}); ok {
		t.Fatal("bounds outside extent must not cover")
	}
	if _, ok := g.CoverageForBounds(8, orb.Bound{Min: orb.Point{100, 40}, Max: orb.Point{-100, -40}}); ok {
		t.Fatal("inverted bounds must not cover")
	}
}

func TestFromLonLat(t *testing.T) {
	m := WorldMercator(SRS3857)
	b := m.FromLonLat(orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}})
	if math.Abs(b.Max[0]-mercatorHalfWorld) > 1e-3 || math.Abs(b.Max[1]-mercatorHalfWorld) > 1 {
		t.Fatalf("projected world bound %v", b)
	}
	g := WorldEPSG4326()
	in := orb.Bound{Min: orb.Point{1, 2}, Max: orb.Point{3, 4}}
	if out := g.FromLonLat(in); out != in {
		t.Fatalf("4326 must not reproject: %v", out)
	}
}

func TestGridSubset(t *testing.T) {
	if _, err := NewGridSubset(WorldEPSG4326(), WithZoomLevels(3, 2)); err == nil {
		t.Fatal("inverted zoom levels must fail")
	}
	if _, err := NewGridSubset(WorldEPSG4326(), WithZoomLevels(0, 5), WithMaxCachedZoom(6)); err == nil {
		t.Fatal("cached zoom outside subset must fail")
	}
	s, err := NewGridSubset(WorldEPSG4326(),
		WithZoomLevels(1, 5),
		WithExtent(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{90, 90}}))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Coverage(0); ok {
		t.Fatal("z0 outside subset")
	}
	r, ok := s.Coverage(1)
	if !ok || r.MinX() != 2 || r.MaxX() != 2 || r.MinY() != 1 {
		t.Fatalf("z1 coverage %v", r)
	}
	if _, ok := s.CoverageForBounds(2, orb.Bound{Min: orb.Point{-90, -90}, Max: orb.Point{-45, -45}}); ok {
		t.Fatal("bounds outside subset extent must not cover")
	}
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"EPSG:4326", "EPSG:900913", "EPSG:3857", "GoogleMapsCompatible"} {
		g, ok := Lookup(name)
		if !ok || g.Name != name {
			t.Fatalf("Lookup(%q) = %v, %v", name, g, ok)
		}
	}
	if _, ok := Lookup("EPSG:1234"); ok {
		t.Fatal("unknown gridset")
	}
}
