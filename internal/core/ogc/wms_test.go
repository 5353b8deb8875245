package ogc

import (
	"net/url"
	"testing"

	"github.com/paulmach/orb"
)

func TestBuildGetMapParams(t *testing.T) {
	r := GetMapRequest{
		Layer:  "topp:states",
		SRS:    "EPSG:4326",
		BBox:   orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{0, 90}},
		Width:  256,
		Height: 256,
		Format: "image/png",
		Parameters: map[string]string{
			"STYLES": "population",
			"TIME":   "2024-01-01",
		},
	}
	v := BuildGetMapParams(r)
	assertHas := func(k, want string) {
		if got := v.Get(k); got != want {
			t.Fatalf("param %q got %q want %q", k, got, want)
		}
	}
	assertHas("service", "WMS")
	assertHas("request", "GetMap")
	assertHas("layers", "topp:states")
	assertHas("srs", "EPSG:4326")
	assertHas("bbox", "-180,-90,0,90")
	assertHas("width", "256")
	assertHas("transparent", "true")
	assertHas("styles", "population")
	assertHas("time", "2024-01-01")
}

func TestBuildGetMapParams_DefaultsAndOpaqueFormats(t *testing.T) {
	v := BuildGetMapParams(GetMapRequest{Layer: "l", Format: "image/jpeg"})
	if v.Get("transparent") != "" {
		t.Fatalf("jpeg must not ask for transparency")
	}
	v = BuildGetMapParams(GetMapRequest{Layer: "l"})
	if v.Get("format") != "image/png" {
		t.Fatalf("default format=%q", v.Get("format"))
	}
}

func TestBBoxString_KeepsPrecision(t *testing.T) {
	b := orb.Bound{Min: orb.Point{-20037508.342789244, 0.5}, Max: orb.Point{0, 1.25}}
	if got := BBoxString(b); got != "-20037508.342789244,0.5,0,1.25" {
		t.Fatalf("got %q", got)
	}
}

func TestGetMapRequest_Validate(t *testing.T) {
	ok := GetMapRequest{Layer: "l", Width: 1, Height: 1, BBox: orb.Bound{Max: orb.Point{1, 1}}}
	if err := ok.Validate(); err != nil {
		t.Fatal(err)
	}
	for _, bad := range []GetMapRequest{
		{Width: 1, Height: 1, BBox: ok.BBox},
		{Layer: "l", Height: 1, BBox: ok.BBox},
		{Layer: "l", Width: 1, Height: 1},
	} {
		if err := bad.Validate(); err == nil {
			t.Fatalf("accepted %+v", bad)
		}
	}
}

func TestOWSEndpoint(t *testing.T) {
	base := "http://localhost:8080/geoserver/"
	want := "http://localhost:8080/geoserver/ows"
	if got := OWSEndpoint(base); got != want {
		t.Fatalf("OWSEndpoint got %q want %q", got, want)
	}
	if _, err := url.Parse(OWSEndpoint(base)); err != nil {
		t.Fatalf("invalid URL from OWSEndpoint: %v", err)
	}
}
