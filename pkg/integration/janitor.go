package integration

import (
	"context"
	"time"
)

// runJanitor prunes terminal jobs past the retention window in bounded
// batches so the queue table does not grow without limit.
func (e *Engine) runJanitor(ctx context.Context) {
	for e.sleep(e.cfg.JanitorInterval) {
		cutoff := time.Now().Add(-e.cfg.JanitorRetention)
		deleted, err := e.repos.Integrations.DeleteCompletedBefore(ctx, cutoff, e.cfg.JanitorBatch)
		if err != nil {
			e.logger.Error("Janitor sweep failed", "error", err)
			continue
		}
		if deleted > 0 {
			e.logger.Info("Pruned terminal integration jobs",
				"deleted", deleted, "cutoff", cutoff)
		}
	}
}
