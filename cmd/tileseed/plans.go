package main

import (
	"context"
	"log/slog"

	"github.com/mohammed-shakir/tile-seeder/internal/catalog"
	"github.com/mohammed-shakir/tile-seeder/internal/cluster"
)

// launchPlans starts every seed plan of the catalog. A failing plan is logged and skipped.
func launchPlans(ctx context.Context, cm *cluster.Manager, cat *catalog.Catalog, log *slog.Logger) {
	for _, p := range cat.Plans() {
		reqs, err := p.Apply(cm.NewRequestBuilder()).Build(ctx)
		if err != nil {
			log.Error("seed plan rejected", "plan", p.Name, "err", err)
			continue
		}
		for _, req := range reqs {
			info, err := cm.LaunchJob(ctx, req)
			if err != nil {
				log.Error("seed plan launch failed", "plan", p.Name, "request", req.String(), "err", err)
				continue
			}
			log.Info("seed plan launched", "plan", p.Name, "job_id", info.ID, "request", req.String())
		}
	}
}
