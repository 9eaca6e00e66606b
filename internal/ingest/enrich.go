package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"ais_ingest/internal/classify"
	"ais_ingest/internal/storage"
	"ais_ingest/internal/vessel"
)

// EnrichReport summarises one enrichment pass.
type EnrichReport struct {
	Scanned   int
	Updated   int
	Unchanged int
}

// Enrich re-runs the classifier over up to limit stored vessels whose type
// or flag is still a placeholder. The stored name and MMSI are the only
// inputs; existing specific values are never replaced.
func Enrich(ctx context.Context, store storage.Store, limit int, logger *slog.Logger) (EnrichReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = storage.DefaultEnrichLimit
	}

	vessels, err := store.ListNeedingEnrichment(ctx, limit)
	if err != nil {
		return EnrichReport{}, fmt.Errorf("list vessels: %w", err)
	}

	var rep EnrichReport
	for _, v := range vessels {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Scanned++

		name := v.Name
		if vessel.IsPlaceholderName(v.MMSI, name) {
			name = ""
		}
		c := classify.Classify(classify.Input{MMSI: v.MMSI, Name: name})

		changed, err := store.ApplyClassification(ctx, v.MMSI, c.VesselType, c.Flag)
		if err != nil {
			return rep, fmt.Errorf("classify %d: %w", v.MMSI, err)
		}
		if !changed {
			rep.Unchanged++
			continue
		}
		rep.Updated++
		logger.Debug("vessel enriched", "mmsi", v.MMSI, "type", c.VesselType, "flag", c.Flag)
	}

	logger.Info("enrichment complete",
		"scanned", rep.Scanned,
		"updated", rep.Updated,
		"unchanged", rep.Unchanged,
	)
	return rep, nil
}
