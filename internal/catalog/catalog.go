// Package catalog loads tile layers and seed plans from HCL files.
package catalog

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/paulmach/orb"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/mohammed-shakir/tile-seeder/internal/gridset"
	"github.com/mohammed-shakir/tile-seeder/internal/jobs"
	"github.com/mohammed-shakir/tile-seeder/internal/mime"
	"github.com/mohammed-shakir/tile-seeder/internal/params"
	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

const defaultMetaFactor = 4

// Catalog is the set of layers the seeder may act on, plus the named seed plans.
type Catalog struct {
	layers    map[string]*model.TileLayerInfo
	paramIDs  map[string][]string
	wmsParams map[string]map[string]string
	plans     []Plan
}

var _ jobs.LayerResolver = (*Catalog)(nil)

// Load parses and merges every file. Layer and plan names must be unique across files.
func Load(paths ...string) (*Catalog, error) {
	parser := hclparse.NewParser()
	var files []*hclFile
	for _, p := range paths {
		f, diags := parser.ParseHCLFile(p)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", p, diags)
		}
		decoded, err := decode(f, p)
		if err != nil {
			return nil, err
		}
		files = append(files, decoded)
	}
	return build(files)
}

// Parse builds a catalog from a single in-memory document.
func Parse(src []byte, filename string) (*Catalog, error) {
	f, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	decoded, err := decode(f, filename)
	if err != nil {
		return nil, err
	}
	return build([]*hclFile{decoded})
}

func decode(f *hcl.File, filename string) (*hclFile, error) {
	var out hclFile
	if diags := gohcl.DecodeBody(f.Body, evalContext(), &out); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	return &out, nil
}

// evalContext exposes the process environment as env.NAME plus a few string functions.
func evalContext() *hcl.EvalContext {
	vars := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k != "" {
			vars[k] = cty.StringVal(v)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
		Functions: map[string]function.Function{
			"upper":  stdlib.UpperFunc,
			"lower":  stdlib.LowerFunc,
			"concat": stdlib.ConcatFunc,
			"split":  stdlib.SplitFunc,
		},
	}
}

func build(files []*hclFile) (*Catalog, error) {
	c := &Catalog{
		layers:    map[string]*model.TileLayerInfo{},
		paramIDs:  map[string][]string{},
		wmsParams: map[string]map[string]string{},
	}
	for _, f := range files {
		for _, l := range f.Layers {
			if _, dup := c.layers[l.Name]; dup {
				return nil, fmt.Errorf("layer %q declared twice", l.Name)
			}
			info, err := buildLayer(l)
			if err != nil {
				return nil, err
			}
			c.layers[l.Name] = info
			c.paramIDs[l.Name] = slices.Clone(l.ParameterIDs)
			if len(l.Parameters) > 0 {
				c.wmsParams[l.Name] = maps.Clone(l.Parameters)
			}
		}
	}
	seen := map[string]bool{}
	for _, f := range files {
		for _, s := range f.Seeds {
			if seen[s.Name] {
				return nil, fmt.Errorf("seed plan %q declared twice", s.Name)
			}
			seen[s.Name] = true
			p, err := c.buildPlan(s)
			if err != nil {
				return nil, err
			}
			c.plans = append(c.plans, p)
		}
	}
	return c, nil
}

func buildLayer(l *hclLayer) (*model.TileLayerInfo, error) {
	if strings.TrimSpace(l.Name) == "" {
		return nil, fmt.Errorf("layer name is required")
	}
	if len(l.Formats) == 0 || len(l.Gridsets) == 0 {
		return nil, fmt.Errorf("layer %q: formats and gridsets are required", l.Name)
	}
	formats := make([]string, 0, len(l.Formats))
	for _, f := range l.Formats {
		t, err := mime.Lookup(f)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", l.Name, err)
		}
		formats = append(formats, t.Format)
	}

	zooms := map[string]*hclGridsetZoom{}
	for _, z := range l.Zooms {
		if !slices.Contains(l.Gridsets, z.Gridset) {
			return nil, fmt.Errorf("layer %q: gridset_zoom %q is not one of the layer's gridsets", l.Name, z.Gridset)
		}
		zooms[z.Gridset] = z
	}

	info := &model.TileLayerInfo{
		Name:       l.Name,
		Formats:    formats,
		MetaWidth:  defaultMetaFactor,
		MetaHeight: defaultMetaFactor,
	}
	if l.MetaWidth != nil {
		info.MetaWidth = *l.MetaWidth
	}
	if l.MetaHeight != nil {
		info.MetaHeight = *l.MetaHeight
	}
	if info.MetaWidth < 1 || info.MetaHeight < 1 {
		return nil, fmt.Errorf("layer %q: meta tiling factors must be >= 1, got %dx%d", l.Name, info.MetaWidth, info.MetaHeight)
	}

	for _, name := range l.Gridsets {
		g, ok := gridset.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("layer %q: %w: %s", l.Name, model.ErrUnsupportedGridset, name)
		}
		opts, err := subsetOptions(g, zooms[name])
		if err != nil {
			return nil, fmt.Errorf("layer %q gridset %s: %w", l.Name, name, err)
		}
		s, err := gridset.NewGridSubset(g, opts...)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", l.Name, err)
		}
		info.GridSubsets = append(info.GridSubsets, s)
	}
	return info, nil
}

func subsetOptions(g *gridset.Gridset, z *hclGridsetZoom) ([]gridset.SubsetOption, error) {
	if z == nil {
		return nil, nil
	}
	var opts []gridset.SubsetOption
	if z.ZoomStart != nil || z.ZoomStop != nil {
		start, stop := 0, g.NumLevels()-1
		if z.ZoomStart != nil {
			start = *z.ZoomStart
		}
		if z.ZoomStop != nil {
			stop = *z.ZoomStop
		}
		opts = append(opts, gridset.WithZoomLevels(start, stop))
	}
	if z.MinCached != nil {
		opts = append(opts, gridset.WithMinCachedZoom(*z.MinCached))
	}
	if z.MaxCached != nil {
		opts = append(opts, gridset.WithMaxCachedZoom(*z.MaxCached))
	}
	if z.Extent != nil {
		b, err := boundOf(z.Extent)
		if err != nil {
			return nil, fmt.Errorf("extent: %w", err)
		}
		opts = append(opts, gridset.WithExtent(b))
	}
	return opts, nil
}

func boundOf(v []float64) (orb.Bound, error) {
	if len(v) != 4 {
		return orb.Bound{}, fmt.Errorf("want [minx, miny, maxx, maxy], got %d values", len(v))
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, fmt.Errorf("min corner %v,%v exceeds max corner %v,%v", v[0], v[1], v[2], v[3])
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func (c *Catalog) Layer(_ context.Context, name string) (*model.TileLayerInfo, bool) {
	l, ok := c.layers[name]
	return l, ok
}

func (c *Catalog) LayerNames() []string {
	return slices.Sorted(maps.Keys(c.layers))
}

// Plans returns the seed plans in declaration order.
func (c *Catalog) Plans() []Plan { return slices.Clone(c.plans) }

func (c *Catalog) Plan(name string) (Plan, bool) {
	i := slices.IndexFunc(c.plans, func(p Plan) bool { return p.Name == name })
	if i < 0 {
		return Plan{}, false
	}
	return c.plans[i], true
}

// WMSParameters returns the extra GetMap parameters declared for a layer.
func (c *Catalog) WMSParameters(layer string) map[string]string {
	return maps.Clone(c.wmsParams[layer])
}

// RegisterParameters adds every declared parameters id to reg.
func (c *Catalog) RegisterParameters(ctx context.Context, reg params.Registry) error {
	for _, layer := range c.LayerNames() {
		ids := c.paramIDs[layer]
		if len(ids) == 0 {
			continue
		}
		if err := reg.Add(ctx, layer, ids...); err != nil {
			return fmt.Errorf("register parameters of %s: %w", layer, err)
		}
	}
	return nil
}
