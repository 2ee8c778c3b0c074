package tasks

import (
	"context"
	"fmt"
	"time"
)

// newSQLMaintenanceTask purges Telegram link codes nobody redeemed, then
// compacts the database file.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", SQLMaintenance)

	return func(ctx context.Context) error {
		started := time.Now()

		purged, err := deps.Store.DeleteExpiredLinkCodes(ctx, started)
		if err != nil {
			return fmt.Errorf("failed to purge expired link codes: %w", err)
		}

		if err := deps.Store.RunSQLMaintenance(ctx); err != nil {
			return fmt.Errorf("sql maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "Database maintenance finished",
			"expired_link_codes", purged,
			"duration", time.Since(started))
		return nil
	}
}
