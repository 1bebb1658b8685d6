package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/hubsoft"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
)

// rateLimitDefaultPause applies when a 429 carries no Retry-After.
const rateLimitDefaultPause = 60 * time.Second

// worker polls the queue, claims one due job at a time and executes it.
type worker struct {
	id       string
	engine   *Engine
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func newWorker(id string, engine *Engine) *worker {
	return &worker{
		id:     id,
		engine: engine,
		stopCh: make(chan struct{}),
		logger: slog.Default().With("component", "integration-worker", "worker_id", id),
	}
}

func (w *worker) start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// stop signals the worker and waits for the current job to finish.
func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *worker) run(ctx context.Context) {
	defer w.wg.Done()
	w.logger.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("Worker shutting down")
			return
		case <-ctx.Done():
			w.logger.Info("Context cancelled, worker shutting down")
			return
		default:
			if !w.engine.enabled {
				w.sleep(w.pollInterval())
				continue
			}
			if pause := w.engine.pausedFor(time.Now()); pause > 0 {
				w.sleep(minDuration(pause, w.pollInterval()))
				continue
			}
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, repository.ErrNoJobsDue) {
					w.sleep(w.pollInterval())
					continue
				}
				w.logger.Error("Error processing job", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// pollAndProcess claims the next due job and runs it to a recorded
// attempt. The job's own timeout bounds the execution context.
func (w *worker) pollAndProcess(ctx context.Context) error {
	job, err := w.engine.repos.Integrations.Claim(ctx, time.Now())
	if err != nil {
		return err
	}

	log := w.logger.With("job_id", job.ID, "type", job.Type)
	log.Info("Job claimed", "attempt", len(job.Attempts)+1)

	executor, ok := w.engine.executors[job.Type]
	if !ok {
		// Unknown type: permanent failure, never retried.
		if err := job.RecordAttempt(false, fmt.Sprintf("no executor for type %s", job.Type), "", 0, false, 0); err != nil {
			return err
		}
		return w.finish(ctx, job, log)
	}

	jobCtx, cancel := context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
	defer cancel()

	started := time.Now()
	response, execErr := executor.Execute(jobCtx, job)
	duration := time.Since(started)

	if execErr == nil {
		if err := job.RecordAttempt(true, "", response, duration, false, 0); err != nil {
			return err
		}
		return w.finish(ctx, job, log)
	}

	retryable := hubsoft.Retryable(execErr)
	nextDelay := time.Duration(0)
	if hubsoft.IsRateLimited(execErr) {
		// Pause the whole engine for the reset window; the failed job's
		// retry lands right after it.
		reset := hubsoft.RetryAfter(execErr)
		if reset <= 0 {
			reset = rateLimitDefaultPause
		}
		nextDelay = reset
		resetAt := time.Now().Add(reset)
		w.engine.pause(resetAt)
		w.engine.bus.Publish(ctx, domain.HubSoftRateLimitHit{
			BaseEvent: domain.BaseEvent{At: time.Now()},
			ResetAt:   resetAt,
		})
		log.Warn("Upstream rate limit hit, pausing dispatch", "reset_in", reset)
	}

	if err := job.RecordAttempt(false, execErr.Error(), "", duration, retryable, nextDelay); err != nil {
		return err
	}
	log.Warn("Job attempt failed",
		"error", execErr, "retryable", retryable, "status", job.Status)
	return w.finish(ctx, job, log)
}

// finish persists the job and publishes its events. Persistence uses a
// background-derived context because the job context may be cancelled.
func (w *worker) finish(ctx context.Context, job *domain.Integration, log *slog.Logger) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := w.engine.repos.Integrations.Update(saveCtx, job); err != nil {
		log.Error("Failed to persist job result", "error", err)
		return err
	}
	w.engine.bus.PublishMany(saveCtx, job.TakeEvents())

	if job.Status.IsTerminal() {
		log.Info("Job finished", "status", job.Status, "attempts", len(job.Attempts))
	}
	return nil
}

func (w *worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the poll duration with jitter so workers do not
// hammer the queue in lockstep.
func (w *worker) pollInterval() time.Duration {
	base := w.engine.cfg.PollInterval
	jitter := w.engine.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int63n(int64(2 * jitter)))
	return base - jitter + offset
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
