package tasks

import (
	"context"
)

// ScheduledTaskFunc is the signature of every scheduled task. The context is
// cancelled when the scheduler shuts down.
type ScheduledTaskFunc func(ctx context.Context) error

// Task names, matching the keys of scheduler.tasks in the configuration.
const (
	EnrichmentReconcile = "enrichment_reconcile"
	FactExtraction      = "fact_extraction"
	SQLMaintenance      = "sql_maintenance"
)

// RegisterAllTasks returns every task keyed by its configuration name.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := map[string]ScheduledTaskFunc{
		EnrichmentReconcile: newEnrichmentReconcileTask(deps),
		FactExtraction:      newFactExtractionTask(deps),
		SQLMaintenance:      newSQLMaintenanceTask(deps),
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
