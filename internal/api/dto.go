package api

import (
	"errors"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/tile-seeder/internal/jobs"
	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

// launchRequest is the body of POST /api/v1/jobs. Omitted fields fall back to the layer's
// configuration the same way the request builder does.
type launchRequest struct {
	Layer        string            `json:"layer" validate:"required"`
	Action       string            `json:"action" validate:"omitempty,oneof=SEED TRUNCATE RESEED seed truncate reseed"`
	Gridsets     []string          `json:"gridsets" validate:"omitempty,dive,required"`
	Formats      []string          `json:"formats" validate:"omitempty,dive,required"`
	MinZoom      *int              `json:"min_zoom" validate:"omitempty,min=0"`
	MaxZoom      *int              `json:"max_zoom" validate:"omitempty,min=0"`
	Bounds       []float64         `json:"bounds" validate:"omitempty,len=4"`
	LonLatBounds []float64         `json:"lonlat_bounds" validate:"omitempty,len=4"`
	H3Cells      []string          `json:"h3_cells" validate:"omitempty,dive,required"`
	Parameters   map[string]string `json:"parameters"`
	ParametersID *string           `json:"parameters_id"`
}

func (r launchRequest) apply(b jobs.RequestBuilder) (jobs.RequestBuilder, error) {
	if r.Parameters != nil && r.ParametersID != nil {
		return b, errors.New("parameters and parameters_id are mutually exclusive")
	}
	if r.Bounds != nil && r.LonLatBounds != nil {
		return b, errors.New("bounds and lonlat_bounds are mutually exclusive")
	}
	b = b.Layer(r.Layer).GridsetID(r.Gridsets...).Format(r.Formats...)
	if r.Action != "" {
		a, err := model.ParseAction(r.Action)
		if err != nil {
			return b, err
		}
		b = b.Action(a)
	}
	if r.MinZoom != nil {
		b = b.MinZoomLevel(*r.MinZoom)
	}
	if r.MaxZoom != nil {
		b = b.MaxZoomLevel(*r.MaxZoom)
	}
	if r.Bounds != nil {
		b = b.Bounds(bound(r.Bounds))
	}
	if r.LonLatBounds != nil {
		b = b.LonLatBounds(bound(r.LonLatBounds))
	}
	if len(r.H3Cells) > 0 {
		b = b.TilesFromH3Cells(r.H3Cells...)
	}
	switch {
	case r.Parameters != nil:
		b = b.Parameters(r.Parameters)
	case r.ParametersID != nil:
		b = b.ParametersID(*r.ParametersID)
	}
	return b, nil
}

func bound(v []float64) orb.Bound {
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}
}

type launchResponse struct {
	Jobs []model.CacheJobInfo `json:"jobs"`
}

type statusesResponse struct {
	Jobs []model.CacheJobStatus `json:"jobs"`
}

type errorResponse struct {
	Error string `json:"error"`
}
