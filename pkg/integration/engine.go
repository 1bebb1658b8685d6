// Package integration runs the durable HubSoft job queue: scheduling,
// worker dispatch, retry policy, orphan reclaim, upstream health
// monitoring and post-outage reconciliation.
package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/config"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/events"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/hubsoft"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
)

// HubSoftAPI is the slice of the upstream client the engine uses.
type HubSoftAPI interface {
	VerifyClientByCPF(ctx context.Context, cpf string) (*hubsoft.ClientInfo, error)
	CreateTicket(ctx context.Context, req hubsoft.CreateTicketRequest) (*hubsoft.CreateTicketResult, error)
	UpdateTicket(ctx context.Context, hubsoftID string, fields map[string]any) error
	GetTicketStatus(ctx context.Context, hubsoftID string) (*hubsoft.Atendimento, error)
	SearchTicketsByCPF(ctx context.Context, cpf string) ([]hubsoft.Atendimento, error)
	ListAtendimentos(ctx context.Context, page, perPage int) (*hubsoft.AtendimentoPage, error)
	AddMessage(ctx context.Context, hubsoftID, message string) error
	AddAttachment(ctx context.Context, hubsoftID, filename string, content io.Reader) error
	CheckHealth(ctx context.Context) error
}

// FileFetcher downloads a chat-platform file so it can be forwarded to
// the upstream as an attachment. May be nil (attachments skipped).
type FileFetcher interface {
	FetchFile(ctx context.Context, fileID string) (filename string, content io.ReadCloser, err error)
}

// Engine owns the job queue workers and background sweeps.
type Engine struct {
	repos     *repository.Repositories
	bus       *events.Bus
	api       HubSoftAPI
	executors map[domain.IntegrationType]Executor
	cfg       *config.EngineConfig
	enabled   bool
	logger    *slog.Logger

	workers  []*worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	// Rate-limit pause: no worker claims jobs before pausedUntil.
	pauseMu     sync.RWMutex
	pausedUntil time.Time
	onRecovery  func(context.Context)

	health healthState
}

// New builds the engine. enabled=false keeps workers idle: jobs queue
// but are not dispatched until the flag is turned on.
func New(repos *repository.Repositories, bus *events.Bus, api HubSoftAPI, executors map[domain.IntegrationType]Executor, cfg *config.EngineConfig, enabled bool) *Engine {
	return &Engine{
		repos:     repos,
		bus:       bus,
		api:       api,
		executors: executors,
		cfg:       cfg,
		enabled:   enabled,
		stopCh:    make(chan struct{}),
		logger:    slog.Default().With("component", "integration-engine"),
		health:    newHealthState(),
	}
}

// Schedule validates the payload, persists a new job and publishes its
// scheduling event. at=nil dispatches as soon as a worker is free.
func (e *Engine) Schedule(ctx context.Context, itype domain.IntegrationType, priority domain.IntegrationPriority, payload any, metadata map[string]string, at *time.Time) (*domain.Integration, error) {
	if err := domain.ValidatePayload(itype, payload); err != nil {
		return nil, err
	}

	job := domain.NewIntegration(itype, priority, payload)
	for k, v := range metadata {
		job.Metadata[k] = v
	}
	if err := job.Schedule(at); err != nil {
		return nil, err
	}
	if err := e.repos.Integrations.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting %s job: %w", itype, err)
	}

	e.bus.PublishMany(ctx, job.TakeEvents())
	e.logger.Info("Integration job scheduled",
		"job_id", job.ID, "type", itype, "priority", priority)
	return job, nil
}

// CancelJob terminates a queued job by operator decision.
func (e *Engine) CancelJob(ctx context.Context, id domain.IntegrationID, reason string) error {
	job, err := e.repos.Integrations.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := job.Cancel(reason); err != nil {
		return err
	}
	return e.repos.Integrations.Update(ctx, job)
}

// UpdateJobPriority changes a queued job's dispatch priority.
func (e *Engine) UpdateJobPriority(ctx context.Context, id domain.IntegrationID, priority domain.IntegrationPriority, reason string) error {
	job, err := e.repos.Integrations.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := job.UpdatePriority(priority, reason); err != nil {
		return err
	}
	return e.repos.Integrations.Update(ctx, job)
}

// Start reclaims orphans from a previous run, then spawns the workers
// and background sweeps. Safe to call once.
func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		e.logger.Warn("Engine already started, ignoring duplicate Start call")
		return nil
	}
	e.started = true

	if err := e.reclaimOrphans(ctx); err != nil {
		e.logger.Error("Startup orphan reclaim failed", "error", err)
	}

	e.logger.Info("Starting integration engine",
		"worker_count", e.cfg.WorkerCount, "enabled", e.enabled)

	for i := 0; i < e.cfg.WorkerCount; i++ {
		w := newWorker(fmt.Sprintf("worker-%d", i), e)
		e.workers = append(e.workers, w)
		w.start(ctx)
	}

	e.spawn(func() { e.runOrphanScan(ctx) })
	e.spawn(func() { e.runHealthMonitor(ctx) })
	e.spawn(func() { e.runJanitor(ctx) })
	return nil
}

// Stop drains the workers. Jobs still running after the grace period
// stay IN_PROGRESS and are reclaimed by the orphan scan on next start.
func (e *Engine) Stop() {
	e.logger.Info("Stopping integration engine")
	e.stopOnce.Do(func() { close(e.stopCh) })

	done := make(chan struct{})
	go func() {
		for _, w := range e.workers {
			w.stop()
		}
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("Integration engine stopped")
	case <-time.After(e.cfg.GracefulShutdownTimeout):
		e.logger.Warn("Shutdown grace period elapsed, abandoning in-flight jobs")
	}
}

func (e *Engine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// pause blocks dispatch until the given time (rate-limit reset).
func (e *Engine) pause(until time.Time) {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	if until.After(e.pausedUntil) {
		e.pausedUntil = until
	}
}

// pausedFor returns how long dispatch stays paused, zero when active.
func (e *Engine) pausedFor(now time.Time) time.Duration {
	e.pauseMu.RLock()
	defer e.pauseMu.RUnlock()
	if now.Before(e.pausedUntil) {
		return e.pausedUntil.Sub(now)
	}
	return 0
}

// UpstreamHealthy reports the last observed upstream availability.
func (e *Engine) UpstreamHealthy() bool {
	return e.health.healthy()
}

// Health is the engine snapshot exposed on the ops surface.
type Health struct {
	Enabled          bool                             `json:"enabled"`
	Workers          int                              `json:"workers"`
	QueueDepth       map[domain.IntegrationStatus]int `json:"queue_depth"`
	UpstreamHealthy  bool                             `json:"upstream_healthy"`
	LastHealthCheck  time.Time                        `json:"last_health_check"`
	PausedUntil      *time.Time                       `json:"paused_until,omitempty"`
	OrphansReclaimed int64                            `json:"orphans_reclaimed"`
}

// Snapshot reports the engine's current state.
func (e *Engine) Snapshot(ctx context.Context) Health {
	depth, err := e.repos.Integrations.CountByStatus(ctx)
	if err != nil {
		e.logger.Error("Failed to read queue depth", "error", err)
	}

	h := Health{
		Enabled:          e.enabled,
		Workers:          len(e.workers),
		QueueDepth:       depth,
		UpstreamHealthy:  e.health.healthy(),
		LastHealthCheck:  e.health.lastCheck(),
		OrphansReclaimed: e.health.orphansReclaimed(),
	}
	e.pauseMu.RLock()
	if time.Now().Before(e.pausedUntil) {
		until := e.pausedUntil
		h.PausedUntil = &until
	}
	e.pauseMu.RUnlock()
	return h
}

// sleep waits for d or until the engine stops.
func (e *Engine) sleep(d time.Duration) bool {
	select {
	case <-e.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}
