package integration

import (
	"context"
	"time"
)

// reclaimOrphans finds IN_PROGRESS jobs whose worker died (crash or
// abandoned shutdown) and records a failed-but-retryable attempt so the
// normal retry policy picks them up again.
func (e *Engine) reclaimOrphans(ctx context.Context) error {
	orphans, err := e.repos.Integrations.FindOrphans(ctx, time.Now(), e.cfg.OrphanThresholdFactor)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		return nil
	}

	reclaimed := 0
	for _, job := range orphans {
		age := time.Duration(0)
		if job.StartedAt != nil {
			age = time.Since(*job.StartedAt)
		}
		if err := job.RecordAttempt(false, "orphaned: worker never completed the attempt", "", age, true, 0); err != nil {
			e.logger.Error("Failed to reclaim orphaned job",
				"job_id", job.ID, "error", err)
			continue
		}
		if err := e.repos.Integrations.Update(ctx, job); err != nil {
			e.logger.Error("Failed to persist reclaimed job",
				"job_id", job.ID, "error", err)
			continue
		}
		e.bus.PublishMany(ctx, job.TakeEvents())
		reclaimed++
		e.logger.Warn("Orphaned job reclaimed",
			"job_id", job.ID, "type", job.Type, "status", job.Status, "stuck_for", age)
	}

	e.health.addOrphans(int64(reclaimed))
	return nil
}

// runOrphanScan repeats the orphan reclaim on a fixed interval to catch
// workers that die mid-run.
func (e *Engine) runOrphanScan(ctx context.Context) {
	for e.sleep(e.cfg.OrphanScanInterval) {
		if err := e.reclaimOrphans(ctx); err != nil {
			e.logger.Error("Orphan scan failed", "error", err)
		}
	}
}
