// Package ogc builds OGC service requests against the upstream map server.
package ogc

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

func OWSEndpoint(geoServerBase string) string {
	return strings.TrimRight(geoServerBase, "/") + "/ows"
}

// GetMapRequest describes one WMS 1.1.1 GetMap call.
type GetMapRequest struct {
	Layer  string
	SRS    string
	BBox   orb.Bound
	Width  int
	Height int
	Format string
	// Parameters are extra vendor or dimension parameters, e.g. STYLES or TIME.
	Parameters map[string]string
}

func (r GetMapRequest) Validate() error {
	if strings.TrimSpace(r.Layer) == "" {
		return fmt.Errorf("getmap: layer is required")
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("getmap: invalid size %dx%d", r.Width, r.Height)
	}
	if !(r.BBox.Max[0] > r.BBox.Min[0] && r.BBox.Max[1] > r.BBox.Min[1]) {
		return fmt.Errorf("getmap: empty bbox %v", r.BBox)
	}
	return nil
}

// BBoxString renders minx,miny,maxx,maxy without precision loss.
func BBoxString(b orb.Bound) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return strings.Join([]string{f(b.Min[0]), f(b.Min[1]), f(b.Max[0]), f(b.Max[1])}, ",")
}

func BuildGetMapParams(r GetMapRequest) url.Values {
	params := url.Values{}
	params.Set("service", "WMS")
	params.Set("version", "1.1.1")
	params.Set("request", "GetMap")
	params.Set("layers", r.Layer)
	params.Set("styles", "")
	params.Set("srs", r.SRS)
	params.Set("bbox", BBoxString(r.BBox))
	params.Set("width", strconv.Itoa(r.Width))
	params.Set("height", strconv.Itoa(r.Height))
	format := r.Format
	if strings.TrimSpace(format) == "" {
		format = "image/png"
	}
	params.Set("format", format)
	if strings.HasPrefix(format, "image/png") || format == "image/gif" || format == "image/webp" {
		params.Set("transparent", "true")
	}
	// vendor parameters override the defaults above, in stable order
	for _, k := range slices.Sorted(maps.Keys(r.Parameters)) {
		params.Set(strings.ToLower(k), r.Parameters[k])
	}
	return params
}
