package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/tile-seeder/internal/gridset"
	h3mapper "github.com/mohammed-shakir/tile-seeder/internal/mapper/h3"
	"github.com/mohammed-shakir/tile-seeder/internal/mime"
	"github.com/mohammed-shakir/tile-seeder/internal/params"
	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

// LayerResolver looks up tile layers by name.
type LayerResolver interface {
	Layer(ctx context.Context, name string) (*model.TileLayerInfo, bool)
}

// ParametersIDResolver lists the known non-default parameters ids of a layer.
type ParametersIDResolver interface {
	ParametersIDs(ctx context.Context, layer string) ([]string, error)
}

// RequestBuilder expands a partially specified, layer scoped request into the cartesian
// product gridset x format x parameters id. Every setter returns a modified copy, so a
// builder can be shared and refined without affecting other copies. Nothing is validated
// until Build.
type RequestBuilder struct {
	layers LayerResolver
	params ParametersIDResolver
	now    func() time.Time

	action       model.Action
	layer        string
	gridsets     []string
	formats      []string
	parametersID *string
	minZoom      *int
	maxZoom      *int
	bounds       *orb.Bound
	lonLat       *orb.Bound
	h3Cells      []string
}

func NewRequestBuilder(layers LayerResolver, params ParametersIDResolver) RequestBuilder {
	return RequestBuilder{layers: layers, params: params, now: time.Now, action: model.ActionSeed}
}

func (b RequestBuilder) Action(a model.Action) RequestBuilder {
	b.action = a
	return b
}

func (b RequestBuilder) Layer(name string) RequestBuilder {
	b.layer = name
	return b
}

// GridsetID adds gridsets to act on. With none, every gridset of the layer is used.
func (b RequestBuilder) GridsetID(ids ...string) RequestBuilder {
	b.gridsets = slices.Concat(b.gridsets, ids)
	return b
}

// Format adds formats to act on. With none, every format of the layer is used.
func (b RequestBuilder) Format(formats ...string) RequestBuilder {
	b.formats = slices.Concat(b.formats, formats)
	return b
}

// Parameters selects the partition of a concrete parameter set, replacing any earlier
// ParametersID.
func (b RequestBuilder) Parameters(p map[string]string) RequestBuilder {
	id := params.ID(p)
	b.parametersID = &id
	return b
}

// ParametersID selects a single partition by id, replacing any earlier Parameters.
// The empty id is the default partition.
func (b RequestBuilder) ParametersID(id string) RequestBuilder {
	b.parametersID = &id
	return b
}

func (b RequestBuilder) MinZoomLevel(z int) RequestBuilder {
	b.minZoom = &z
	return b
}

func (b RequestBuilder) MaxZoomLevel(z int) RequestBuilder {
	b.maxZoom = &z
	return b
}

// Bounds restricts coverage to a box in the units of the selected gridsets.
func (b RequestBuilder) Bounds(bounds orb.Bound) RequestBuilder {
	b.bounds = &bounds
	return b
}

// TilesFromBounds is an alias of Bounds.
func (b RequestBuilder) TilesFromBounds(bounds orb.Bound) RequestBuilder {
	return b.Bounds(bounds)
}

// LonLatBounds restricts coverage to a WGS84 box, reprojected for each gridset.
func (b RequestBuilder) LonLatBounds(bounds orb.Bound) RequestBuilder {
	b.lonLat = &bounds
	return b
}

// TilesFromH3Cells restricts coverage to the envelope of the given H3 cells.
func (b RequestBuilder) TilesFromH3Cells(cells ...string) RequestBuilder {
	b.h3Cells = slices.Concat(b.h3Cells, cells)
	return b
}

// Build validates the configuration and returns one request per combination. Any invalid
// value fails the whole build and no request is returned.
func (b RequestBuilder) Build(ctx context.Context) ([]model.CacheJobRequest, error) {
	if strings.TrimSpace(b.layer) == "" {
		return nil, fmt.Errorf("%w: layer name is required", ErrInvalidRequest)
	}
	if b.layers == nil {
		return nil, errors.New("request builder: no layer resolver")
	}
	layer, ok := b.layers.Layer(ctx, b.layer)
	if !ok || layer == nil {
		return nil, fmt.Errorf("%w: layer '%s' couldn't be resolved", ErrLayerNotFound, b.layer)
	}
	if _, err := model.ParseAction(string(b.action)); err != nil {
		return nil, err
	}

	gridsets, err := b.resolveGridsets(layer)
	if err != nil {
		return nil, err
	}
	formats, err := b.resolveFormats(layer)
	if err != nil {
		return nil, err
	}
	paramIDs, err := b.resolveParametersIDs(ctx, layer.Name)
	if err != nil {
		return nil, err
	}
	lonLat, err := b.resolveLonLat()
	if err != nil {
		return nil, err
	}
	if b.bounds != nil {
		if err := checkBounds("bounds", *b.bounds); err != nil {
			return nil, err
		}
	}
	if lonLat != nil {
		if err := checkBounds("lon/lat bounds", *lonLat); err != nil {
			return nil, err
		}
	}

	pyramids := make([]model.TilePyramid, len(gridsets))
	for i, gs := range gridsets {
		subset, _ := layer.GridSubset(gs)
		pb := model.NewPyramidBuilder(layer, gs).MinZoomLevel(b.minZoom).MaxZoomLevel(b.maxZoom)
		switch {
		case b.bounds != nil:
			pb = pb.Bounds(b.bounds)
		case lonLat != nil:
			native := nativeBounds(subset, *lonLat)
			pb = pb.Bounds(&native)
		}
		p, err := pb.Build()
		if err != nil {
			return nil, fmt.Errorf("gridset %s: %w", gs, err)
		}
		pyramids[i] = p
	}

	ts := time.Now()
	if b.now != nil {
		ts = b.now()
	}
	out := make([]model.CacheJobRequest, 0, len(gridsets)*len(formats)*len(paramIDs))
	for i, gs := range gridsets {
		for _, f := range formats {
			for _, pid := range paramIDs {
				out = append(out, model.CacheJobRequest{
					Action: b.action,
					CacheID: model.CacheIdentifier{
						LayerName:    layer.Name,
						GridsetID:    gs,
						Format:       f,
						ParametersID: pid,
					},
					Tiles:     pyramids[i],
					Timestamp: ts,
				})
			}
		}
	}
	return out, nil
}

func (b RequestBuilder) resolveGridsets(layer *model.TileLayerInfo) ([]string, error) {
	if len(b.gridsets) == 0 {
		return layer.GridSubsetNames(), nil
	}
	gridsets := dedupe(b.gridsets)
	var unsupported []string
	for _, gs := range gridsets {
		if _, ok := layer.GridSubset(gs); !ok {
			unsupported = append(unsupported, gs)
		}
	}
	if len(unsupported) > 0 {
		sort.Strings(unsupported)
		return nil, fmt.Errorf("%w: Layer is not configured for the following GridSets: %s",
			model.ErrUnsupportedGridset, strings.Join(unsupported, ", "))
	}
	return gridsets, nil
}

func (b RequestBuilder) resolveFormats(layer *model.TileLayerInfo) ([]string, error) {
	if len(b.formats) == 0 {
		return slices.Clone(layer.Formats), nil
	}
	formats := make([]string, 0, len(b.formats))
	for _, f := range b.formats {
		t, err := mime.Lookup(f)
		if err != nil {
			return nil, err
		}
		formats = append(formats, t.Format)
	}
	formats = dedupe(formats)
	var unsupported []string
	for _, f := range formats {
		if !layer.SupportsFormat(f) {
			unsupported = append(unsupported, f)
		}
	}
	if len(unsupported) > 0 {
		sort.Strings(unsupported)
		return nil, fmt.Errorf("%w: The following formats are not supported by layer %s: %s",
			mime.ErrUnsupportedFormat, layer.Name, strings.Join(unsupported, ", "))
	}
	return formats, nil
}

// resolveParametersIDs returns the explicit id when one was set, else the default id
// followed by every known id of the layer.
func (b RequestBuilder) resolveParametersIDs(ctx context.Context, layer string) ([]string, error) {
	if b.parametersID != nil {
		return []string{*b.parametersID}, nil
	}
	ids := []string{""}
	if b.params == nil {
		return ids, nil
	}
	known, err := b.params.ParametersIDs(ctx, layer)
	if err != nil {
		return nil, fmt.Errorf("resolve parameters ids: %w", err)
	}
	for _, id := range dedupe(known) {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (b RequestBuilder) resolveLonLat() (*orb.Bound, error) {
	var out *orb.Bound
	if b.lonLat != nil {
		cp := *b.lonLat
		out = &cp
	}
	if len(b.h3Cells) > 0 {
		cb, err := h3mapper.BoundsForCells(b.h3Cells)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if out == nil {
			out = &cb
		} else {
			u := out.Union(cb)
			out = &u
		}
	}
	return out, nil
}

// checkBounds rejects boxes with non-finite coordinates or a minimum above the maximum.
func checkBounds(what string, bb orb.Bound) error {
	for _, v := range []float64{bb.Min[0], bb.Min[1], bb.Max[0], bb.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s %v has a non-finite coordinate", ErrInvalidRequest, what, bb)
		}
	}
	if bb.Min[0] > bb.Max[0] || bb.Min[1] > bb.Max[1] {
		return fmt.Errorf("%w: %s %v has min > max", ErrInvalidRequest, what, bb)
	}
	return nil
}

func nativeBounds(subset model.GridSubsetInfo, lonLat orb.Bound) orb.Bound {
	return gridset.ProjectLonLat(subset.SRS(), lonLat)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
