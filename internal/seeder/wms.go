package seeder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammed-shakir/tile-seeder/internal/core/observability"
	"github.com/mohammed-shakir/tile-seeder/internal/core/ogc"
	"github.com/mohammed-shakir/tile-seeder/internal/gridset"
	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

const maxTileBytes = 16 << 20

// WMSRenderer renders tiles with one GetMap call per tile.
type WMSRenderer struct {
	client   *http.Client
	endpoint string
	// Gridsets resolves gridset names; defaults to the well-known gridsets.
	Gridsets func(name string) (*gridset.Gridset, bool)
	// Parameters returns extra GetMap parameters for a layer and parameters id, if any.
	Parameters func(layer, parametersID string) map[string]string
}

var _ Renderer = (*WMSRenderer)(nil)

// NewWMSRenderer targets the OWS endpoint below baseURL.
func NewWMSRenderer(client *http.Client, baseURL string) *WMSRenderer {
	return &WMSRenderer{client: client, endpoint: ogc.OWSEndpoint(baseURL), Gridsets: gridset.Lookup}
}

func (r *WMSRenderer) Render(ctx context.Context, id model.CacheIdentifier, tile model.TileIndex3D) ([]byte, error) {
	gs, ok := r.Gridsets(id.GridsetID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedGridset, id.GridsetID)
	}
	req := ogc.GetMapRequest{
		Layer:  id.LayerName,
		SRS:    gs.SRS,
		BBox:   gs.TileBounds(tile.Z, tile.X, tile.Y),
		Width:  gs.TileWidth,
		Height: gs.TileHeight,
		Format: id.Format,
	}
	if r.Parameters != nil {
		req.Parameters = r.Parameters(id.LayerName, id.ParametersID)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	u := r.endpoint + "?" + ogc.BuildGetMapParams(req).Encode()
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build getmap request: %w", err)
	}

	start := time.Now()
	body, err := r.do(hreq)
	observability.ObserveUpstreamLatency("wms", err, time.Since(start).Seconds())
	return body, err
}

func (r *WMSRenderer) do(req *http.Request) ([]byte, error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getmap: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, fmt.Errorf("read getmap body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getmap: upstream status %d", resp.StatusCode)
	}
	// WMS reports most errors as a 200 with a service exception document
	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "ogc_se_xml") || strings.Contains(ct, "vnd.ogc.se") {
		return nil, fmt.Errorf("getmap: service exception: %s", strings.TrimSpace(string(body)))
	}
	return body, nil
}
