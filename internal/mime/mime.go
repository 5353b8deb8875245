// Package mime knows the tile formats the cache can store.
package mime

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported format")

type Type struct {
	Format    string
	Extension string
	// Vector formats are not meta-tiled when rendered.
	Vector bool
}

func (t Type) SupportsTiling() bool { return !t.Vector }

var known = map[string]Type{
	"image/png":                           {Format: "image/png", Extension: "png"},
	"image/png8":                          {Format: "image/png8", Extension: "png8"},
	"image/png24":                         {Format: "image/png24", Extension: "png24"},
	"image/png; mode=8bit":                {Format: "image/png; mode=8bit", Extension: "png8"},
	"image/jpeg":                          {Format: "image/jpeg", Extension: "jpeg"},
	"image/gif":                           {Format: "image/gif", Extension: "gif"},
	"image/webp":                          {Format: "image/webp", Extension: "webp"},
	"image/vnd.jpeg-png":                  {Format: "image/vnd.jpeg-png", Extension: "jpeg-png"},
	"image/vnd.jpeg-png8":                 {Format: "image/vnd.jpeg-png8", Extension: "jpeg-png8"},
	"application/json;type=geojson":       {Format: "application/json;type=geojson", Extension: "geojson", Vector: true},
	"application/json;type=topojson":      {Format: "application/json;type=topojson", Extension: "topojson", Vector: true},
	"application/json;type=utfgrid":       {Format: "application/json;type=utfgrid", Extension: "utfgrid", Vector: true},
	"application/vnd.mapbox-vector-tile": {Format: "application/vnd.mapbox-vector-tile", Extension: "pbf", Vector: true},
}

// Lookup resolves a format name, case-insensitively.
func Lookup(format string) (Type, error) {
	if t, ok := known[strings.ToLower(strings.TrimSpace(format))]; ok {
		return t, nil
	}
	return Type{}, fmt.Errorf("%w: Unsupported format request: %s", ErrUnsupportedFormat, format)
}

func Known() []string {
	out := make([]string, 0, len(known))
	for k := range known {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
