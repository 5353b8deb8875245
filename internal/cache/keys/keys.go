// Package keys builds the store keys of cached tiles.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

const defaultParams = "default"

// Prefix returns the key prefix shared by every tile of a cache partition. The trailing
// hash keeps partitions apart when sanitizing collapses two names.
func Prefix(id model.CacheIdentifier) string {
	pid := sanitizeForKey(strings.TrimSpace(id.ParametersID))
	if pid == "" {
		pid = defaultParams
	}
	sum := xxhash.Sum64String(id.String())
	return fmt.Sprintf("tile:%s:%s:%s:%s:c=%016x",
		sanitizeLayer(strings.TrimSpace(id.LayerName)),
		sanitizeForKey(strings.TrimSpace(id.GridsetID)),
		sanitizeForKey(strings.ToLower(strings.TrimSpace(id.Format))),
		pid,
		sum,
	)
}

func TileKey(id model.CacheIdentifier, t model.TileIndex3D) string {
	return fmt.Sprintf("%s:%d:%d:%d", Prefix(id), t.Z, t.X, t.Y)
}

// TileKeys returns the keys of every tile in r, in the range's iteration order.
func TileKeys(id model.CacheIdentifier, r model.TileRange3D) []string {
	prefix := Prefix(id)
	out := make([]string, 0, r.Tiles().SpanX()*r.Tiles().SpanY())
	for t := range r.AsTiles() {
		out = append(out, fmt.Sprintf("%s:%d:%d:%d", prefix, t.Z, t.X, t.Y))
	}
	return out
}

// ParametersSetKey names the set of known parameters ids of a layer.
func ParametersSetKey(layer string) string {
	return "params:" + sanitizeLayer(strings.TrimSpace(layer))
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '=':
			out = r
		default:
			// Any other rune (including ':' and non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// layer names keep their workspace separator
func sanitizeLayer(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
