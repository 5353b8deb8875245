package catalog

import (
	"fmt"
	"maps"
	"slices"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/tile-seeder/internal/jobs"
	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

// Plan is a named, declarative seeding request.
type Plan struct {
	Name     string
	Layer    string
	Action   model.Action
	Gridsets []string
	Formats  []string
	MinZoom  *int
	MaxZoom  *int
	// LonLatBounds is a WGS84 box reprojected for each gridset.
	LonLatBounds *orb.Bound
	H3Cells      []string
	Parameters   map[string]string
	ParametersID *string
}

func (c *Catalog) buildPlan(s *hclSeed) (Plan, error) {
	if _, ok := c.layers[s.Layer]; !ok {
		return Plan{}, fmt.Errorf("seed %q: %w: %s", s.Name, jobs.ErrLayerNotFound, s.Layer)
	}
	p := Plan{
		Name:         s.Name,
		Layer:        s.Layer,
		Action:       model.ActionSeed,
		Gridsets:     slices.Clone(s.Gridsets),
		Formats:      slices.Clone(s.Formats),
		MinZoom:      s.MinZoom,
		MaxZoom:      s.MaxZoom,
		H3Cells:      slices.Clone(s.H3Cells),
		Parameters:   maps.Clone(s.Parameters),
		ParametersID: s.ParametersID,
	}
	if s.Action != nil {
		a, err := model.ParseAction(*s.Action)
		if err != nil {
			return Plan{}, fmt.Errorf("seed %q: %w", s.Name, err)
		}
		p.Action = a
	}
	if s.Gridset != nil {
		p.Gridsets = append([]string{*s.Gridset}, p.Gridsets...)
	}
	if s.Bounds != nil {
		b, err := boundOf(s.Bounds)
		if err != nil {
			return Plan{}, fmt.Errorf("seed %q bounds: %w", s.Name, err)
		}
		p.LonLatBounds = &b
	}
	if s.Parameters != nil && s.ParametersID != nil {
		return Plan{}, fmt.Errorf("seed %q: parameters and parameters_id are mutually exclusive", s.Name)
	}
	return p, nil
}

// Apply configures b with the plan. Validation happens when the builder is built.
func (p Plan) Apply(b jobs.RequestBuilder) jobs.RequestBuilder {
	b = b.Layer(p.Layer).Action(p.Action).GridsetID(p.Gridsets...).Format(p.Formats...)
	if p.MinZoom != nil {
		b = b.MinZoomLevel(*p.MinZoom)
	}
	if p.MaxZoom != nil {
		b = b.MaxZoomLevel(*p.MaxZoom)
	}
	if p.LonLatBounds != nil {
		b = b.LonLatBounds(*p.LonLatBounds)
	}
	if len(p.H3Cells) > 0 {
		b = b.TilesFromH3Cells(p.H3Cells...)
	}
	switch {
	case p.Parameters != nil:
		b = b.Parameters(p.Parameters)
	case p.ParametersID != nil:
		b = b.ParametersID(*p.ParametersID)
	}
	return b
}
