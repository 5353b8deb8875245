package catalog

// hclFile is the top-level structure of a catalog or plan file.
type hclFile struct {
	Layers []*hclLayer `hcl:"layer,block"`
	Seeds  []*hclSeed  `hcl:"seed,block"`
}

type hclLayer struct {
	Name         string            `hcl:"name,label"`
	Formats      []string          `hcl:"formats"`
	Gridsets     []string          `hcl:"gridsets"`
	MetaWidth    *int              `hcl:"meta_width,optional"`
	MetaHeight   *int              `hcl:"meta_height,optional"`
	ParameterIDs []string          `hcl:"parameter_ids,optional"`
	Parameters   map[string]string `hcl:"wms_parameters,optional"`
	Zooms        []*hclGridsetZoom `hcl:"gridset_zoom,block"`
}

type hclGridsetZoom struct {
	Gridset   string    `hcl:"gridset,label"`
	ZoomStart *int      `hcl:"zoom_start,optional"`
	ZoomStop  *int      `hcl:"zoom_stop,optional"`
	MinCached *int      `hcl:"min_cached,optional"`
	MaxCached *int      `hcl:"max_cached,optional"`
	Extent    []float64 `hcl:"extent,optional"`
}

type hclSeed struct {
	Name         string            `hcl:"name,label"`
	Layer        string            `hcl:"layer"`
	Action       *string           `hcl:"action,optional"`
	Gridset      *string           `hcl:"gridset,optional"`
	Gridsets     []string          `hcl:"gridsets,optional"`
	Formats      []string          `hcl:"formats,optional"`
	MinZoom      *int              `hcl:"min_zoom,optional"`
	MaxZoom      *int              `hcl:"max_zoom,optional"`
	Bounds       []float64         `hcl:"bounds,optional"`
	H3Cells      []string          `hcl:"h3_cells,optional"`
	Parameters   map[string]string `hcl:"parameters,optional"`
	ParametersID *string           `hcl:"parameters_id,optional"`
}
