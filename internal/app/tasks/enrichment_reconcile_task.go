package tasks

import (
	"context"
	"fmt"
	"time"
)

const reconcileBatchSize = 100

// newEnrichmentReconcileTask re-dispatches entries whose enrichment callback
// never arrived.
func newEnrichmentReconcileTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", EnrichmentReconcile)

	return func(ctx context.Context) error {
		target, ok := deps.Targets.Default()
		if !ok {
			log.WarnContext(ctx, "Skipping enrichment reconciliation: public_base_url is not configured")
			return nil
		}

		startTime := time.Now()
		count, err := deps.Journal.Redispatch(ctx, deps.Config.Enrichment.StaleAfter, target, reconcileBatchSize)
		if err != nil {
			log.ErrorContext(ctx, "Enrichment reconciliation failed", "error", err)
			return fmt.Errorf("enrichment reconciliation failed: %w", err)
		}

		if count == 0 {
			log.DebugContext(ctx, "No stale journal entries found")
			return nil
		}
		log.InfoContext(ctx, "Re-dispatched stale journal entries", "count", count, "duration", time.Since(startTime))
		return nil
	}
}
