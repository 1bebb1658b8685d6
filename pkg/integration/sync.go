package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/hubsoft"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
)

// ErrQueued means the job was persisted but could not be executed
// inline: the engine is disabled, paused, or a background worker claimed
// it first. The caller should treat the result as "in progress".
var ErrQueued = errors.New("job queued for background execution")

// ExecuteSync persists a job and runs it inline on the caller's
// goroutine. Used by flows that need the result now, like CPF
// verification on a cache miss. The job goes through the same durable
// lifecycle as queued work: a retryable inline failure leaves it
// RETRY_SCHEDULED for the background workers.
func (e *Engine) ExecuteSync(ctx context.Context, itype domain.IntegrationType, priority domain.IntegrationPriority, payload any, metadata map[string]string) (*domain.Integration, error) {
	job, err := e.Schedule(ctx, itype, priority, payload, metadata, nil)
	if err != nil {
		return nil, err
	}

	if !e.enabled || e.pausedFor(time.Now()) > 0 {
		return job, ErrQueued
	}

	if err := e.repos.Integrations.ClaimByID(ctx, job.ID, time.Now()); err != nil {
		if errors.Is(err, repository.ErrNoJobsDue) {
			return job, ErrQueued
		}
		return job, err
	}
	if err := job.Start(); err != nil {
		return job, err
	}

	executor, ok := e.executors[job.Type]
	if !ok {
		return job, fmt.Errorf("no executor for type %s", job.Type)
	}

	jobCtx, cancel := context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
	defer cancel()

	started := time.Now()
	response, execErr := executor.Execute(jobCtx, job)
	duration := time.Since(started)

	var recordErr error
	if execErr == nil {
		recordErr = job.RecordAttempt(true, "", response, duration, false, 0)
	} else {
		recordErr = job.RecordAttempt(false, execErr.Error(), "", duration, hubsoft.Retryable(execErr), 0)
	}
	if recordErr != nil {
		return job, recordErr
	}

	saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer saveCancel()
	if err := e.repos.Integrations.Update(saveCtx, job); err != nil {
		e.logger.Error("Failed to persist inline job result", "job_id", job.ID, "error", err)
		return job, err
	}
	e.bus.PublishMany(saveCtx, job.TakeEvents())

	return job, execErr
}
