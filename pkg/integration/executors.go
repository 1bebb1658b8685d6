package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/cache"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/events"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/hubsoft"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
)

// Executor runs one integration job type against the upstream.
type Executor interface {
	Execute(ctx context.Context, job *domain.Integration) (response string, err error)
}

// ExecutorDeps are the shared dependencies of all executors.
type ExecutorDeps struct {
	Repos  *repository.Repositories
	API    HubSoftAPI
	Cache  *cache.Cache
	Bus    *events.Bus
	Files  FileFetcher
	Logger *slog.Logger
}

// DefaultExecutors wires one executor per job type.
func DefaultExecutors(deps ExecutorDeps) map[domain.IntegrationType]Executor {
	if deps.Logger == nil {
		deps.Logger = slog.Default().With("component", "integration-executor")
	}
	return map[domain.IntegrationType]Executor{
		domain.IntegrationTicketSync:       &ticketSyncExecutor{deps},
		domain.IntegrationUserVerification: &userVerificationExecutor{deps},
		domain.IntegrationClientDataFetch:  &clientDataFetchExecutor{deps},
		domain.IntegrationStatusUpdate:     &statusUpdateExecutor{deps},
		domain.IntegrationBulkSync:         &bulkSyncExecutor{deps},
	}
}

// ticketSyncExecutor pushes local tickets to the upstream.
type ticketSyncExecutor struct {
	deps ExecutorDeps
}

func (e *ticketSyncExecutor) Execute(ctx context.Context, job *domain.Integration) (string, error) {
	payload := job.Payload.(domain.TicketSyncPayload)

	ticket, err := e.deps.Repos.Tickets.GetByID(ctx, payload.TicketID)
	if err != nil {
		return "", fmt.Errorf("loading ticket %d: %w", payload.TicketID, err)
	}

	switch payload.SyncType {
	case domain.TicketSyncCreate:
		return e.create(ctx, ticket)
	case domain.TicketSyncUpdate:
		return "", e.deps.API.UpdateTicket(ctx, ticket.HubSoftTicketID, map[string]any{
			"descricao":  ticket.Description,
			"prioridade": string(ticket.Urgency),
		})
	case domain.TicketSyncStatusChange:
		return "", e.deps.API.UpdateTicket(ctx, ticket.HubSoftTicketID, map[string]any{
			"status": string(ticket.Status),
		})
	}
	return "", fmt.Errorf("unknown sync type %s", payload.SyncType)
}

func (e *ticketSyncExecutor) create(ctx context.Context, ticket *domain.Ticket) (string, error) {
	user, err := e.deps.Repos.Users.GetByID(ctx, ticket.UserID)
	if err != nil {
		return "", fmt.Errorf("loading ticket owner %d: %w", ticket.UserID, err)
	}
	if user.CPF == "" {
		return "", fmt.Errorf("ticket owner %d has no verified cpf", ticket.UserID)
	}

	result, err := e.deps.API.CreateTicket(ctx, hubsoft.CreateTicketRequest{
		ClientCPF:   string(user.CPF),
		Description: upstreamDescription(ticket),
		Urgency:     string(ticket.Urgency),
	})
	if err != nil {
		// A permanent rejection will never sync; record it on the ticket.
		if !hubsoft.Retryable(err) {
			ticket.MarkSyncFailed()
			if uerr := e.deps.Repos.Tickets.Update(ctx, ticket); uerr != nil {
				e.deps.Logger.Error("Failed to mark ticket sync failed",
					"ticket_id", ticket.ID, "error", uerr)
			}
		}
		return "", err
	}

	if err := ticket.AttachHubSoft(result.ID, domain.Protocol(result.Protocol), domain.SyncStatusSynced); err != nil {
		return "", err
	}
	if err := e.deps.Repos.Tickets.Update(ctx, ticket); err != nil {
		return "", fmt.Errorf("binding upstream ticket: %w", err)
	}
	e.deps.Bus.PublishMany(ctx, ticket.TakeEvents())

	e.uploadAttachments(ctx, ticket, result.ID)

	raw, _ := json.Marshal(result)
	return string(raw), nil
}

// uploadAttachments forwards chat attachments best-effort; a failed
// upload never fails the sync.
func (e *ticketSyncExecutor) uploadAttachments(ctx context.Context, ticket *domain.Ticket, hubsoftID string) {
	if e.deps.Files == nil || len(ticket.Attachments) == 0 {
		return
	}
	for _, att := range ticket.Attachments {
		filename, content, err := e.deps.Files.FetchFile(ctx, att.FileID)
		if err != nil {
			e.deps.Logger.Warn("Failed to fetch attachment",
				"ticket_id", ticket.ID, "error", err)
			continue
		}
		if att.FileName != "" {
			filename = att.FileName
		}
		err = e.deps.API.AddAttachment(ctx, hubsoftID, filename, content)
		_ = content.Close()
		if err != nil {
			e.deps.Logger.Warn("Failed to upload attachment",
				"ticket_id", ticket.ID, "error", err)
		}
	}
}

// upstreamDescription renders the intake data for the upstream ticket.
func upstreamDescription(t *domain.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] Categoria: %s\n", t.LocalProtocol, t.Category.DisplayPT())
	if t.AffectedGame != "" {
		fmt.Fprintf(&b, "Jogo afetado: %s\n", t.AffectedGame)
	}
	fmt.Fprintf(&b, "Início do problema: %s\n\n%s", t.Timing.DisplayPT(), t.Description)
	return b.String()
}

// userVerificationExecutor resolves a CPF to subscriber data, with
// read-through caching. Not-found results are cached negatively and are
// a permanent failure.
type userVerificationExecutor struct {
	deps ExecutorDeps
}

func (e *userVerificationExecutor) Execute(ctx context.Context, job *domain.Integration) (string, error) {
	payload := job.Payload.(domain.UserVerificationPayload)

	if !payload.ForceRefresh {
		if v, ok := e.deps.Cache.Get(cache.CategoryClientData, payload.CPF); ok {
			if v == nil {
				return "", hubsoft.ErrNotFound
			}
			raw, _ := json.Marshal(v)
			return string(raw), nil
		}
	}

	info, err := e.deps.API.VerifyClientByCPF(ctx, payload.CPF)
	if errors.Is(err, hubsoft.ErrNotFound) {
		e.deps.Cache.PutNegative(cache.CategoryClientData, payload.CPF)
		return "", err
	}
	if err != nil {
		return "", err
	}

	if payload.CacheDuration > 0 {
		e.deps.Cache.PutTTL(cache.CategoryClientData, payload.CPF, info, payload.CacheDuration)
	} else {
		e.deps.Cache.Put(cache.CategoryClientData, payload.CPF, info)
	}

	raw, _ := json.Marshal(info)
	return string(raw), nil
}

// clientDataFetchExecutor loads the full subscriber view (optionally
// with tickets) for admin lookups and the daily checkup.
type clientDataFetchExecutor struct {
	deps ExecutorDeps
}

func (e *clientDataFetchExecutor) Execute(ctx context.Context, job *domain.Integration) (string, error) {
	payload := job.Payload.(domain.ClientDataFetchPayload)

	info, err := e.deps.API.VerifyClientByCPF(ctx, payload.CPF)
	if err != nil {
		return "", err
	}
	e.deps.Cache.Put(cache.CategoryServiceData, payload.CPF, info)

	result := map[string]any{"client": info}
	if payload.IncludeTickets {
		tickets, err := e.deps.API.SearchTicketsByCPF(ctx, payload.CPF)
		if err != nil {
			return "", err
		}
		result["atendimentos"] = tickets
	}
	raw, _ := json.Marshal(result)
	return string(raw), nil
}

// statusUpdateExecutor pulls the upstream status of one ticket and
// applies it locally.
type statusUpdateExecutor struct {
	deps ExecutorDeps
}

func (e *statusUpdateExecutor) Execute(ctx context.Context, job *domain.Integration) (string, error) {
	payload := job.Payload.(domain.StatusUpdatePayload)

	ticket, err := e.deps.Repos.Tickets.GetByID(ctx, payload.TicketID)
	if err != nil {
		return "", fmt.Errorf("loading ticket %d: %w", payload.TicketID, err)
	}
	if ticket.HubSoftTicketID == "" {
		return "", fmt.Errorf("ticket %d has no upstream binding", payload.TicketID)
	}

	upstream, err := e.deps.API.GetTicketStatus(ctx, ticket.HubSoftTicketID)
	if err != nil {
		return "", err
	}

	next := mapUpstreamStatus(upstream.Status)
	if next != "" && next != ticket.Status && ticket.Status.CanTransitionTo(next) {
		if err := ticket.ChangeStatus(next, "hubsoft-sync"); err == nil {
			if err := e.deps.Repos.Tickets.Update(ctx, ticket); err != nil {
				return "", err
			}
			e.deps.Bus.PublishMany(ctx, ticket.TakeEvents())
		}
	}
	raw, _ := json.Marshal(upstream)
	return string(raw), nil
}

// mapUpstreamStatus translates HubSoft atendimento statuses to the
// local status machine. Unknown statuses map to "" (no change).
func mapUpstreamStatus(s string) domain.TicketStatus {
	switch strings.ToLower(s) {
	case "aguardando_analise", "pendente":
		return domain.TicketStatusOpen
	case "em_atendimento", "em_execucao":
		return domain.TicketStatusInProgress
	case "resolvido", "finalizado_servico":
		return domain.TicketStatusResolved
	case "fechado":
		return domain.TicketStatusClosed
	case "cancelado":
		return domain.TicketStatusCancelled
	}
	return ""
}

// bulkSyncConcurrency bounds parallel upstream calls inside one chunk.
const bulkSyncConcurrency = 4

// bulkSyncExecutor re-syncs many tickets in chunks with a pause between
// chunks so a backlog flush does not saturate the upstream.
type bulkSyncExecutor struct {
	deps ExecutorDeps
}

func (e *bulkSyncExecutor) Execute(ctx context.Context, job *domain.Integration) (string, error) {
	payload := job.Payload.(domain.BulkSyncPayload)

	batchSize := payload.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	var successful, failed int
	for start := 0; start < len(payload.TicketIDs); start += batchSize {
		end := start + batchSize
		if end > len(payload.TicketIDs) {
			end = len(payload.TicketIDs)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(bulkSyncConcurrency)
		results := make([]error, end-start)
		for i, id := range payload.TicketIDs[start:end] {
			i, id := i, id
			g.Go(func() error {
				results[i] = e.syncOne(gctx, id)
				return nil
			})
		}
		_ = g.Wait()

		for _, err := range results {
			if err != nil {
				failed++
			} else {
				successful++
			}
		}

		if end < len(payload.TicketIDs) && payload.DelayBetweenBatches > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(payload.DelayBetweenBatches):
			}
		}
	}

	e.deps.Bus.Publish(ctx, domain.HubSoftBulkSyncCompleted{
		BaseEvent:     domain.BaseEvent{At: time.Now()},
		IntegrationID: job.ID,
		Total:         len(payload.TicketIDs),
		Successful:    successful,
		Failed:        failed,
	})

	raw, _ := json.Marshal(map[string]int{
		"total": len(payload.TicketIDs), "successful": successful, "failed": failed,
	})
	if failed > 0 && successful == 0 {
		return string(raw), fmt.Errorf("bulk sync failed for all %d tickets", failed)
	}
	return string(raw), nil
}

// syncOne pushes one ticket: create when unbound, status refresh when
// already bound.
func (e *bulkSyncExecutor) syncOne(ctx context.Context, id domain.TicketID) error {
	ticket, err := e.deps.Repos.Tickets.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if ticket.HubSoftTicketID == "" {
		sub := &ticketSyncExecutor{e.deps}
		_, err = sub.create(ctx, ticket)
		return err
	}

	upstream, err := e.deps.API.GetTicketStatus(ctx, ticket.HubSoftTicketID)
	if err != nil {
		return err
	}
	next := mapUpstreamStatus(upstream.Status)
	if next != "" && next != ticket.Status && ticket.Status.CanTransitionTo(next) {
		if err := ticket.ChangeStatus(next, "hubsoft-sync"); err != nil {
			return err
		}
		if err := e.deps.Repos.Tickets.Update(ctx, ticket); err != nil {
			return err
		}
		e.deps.Bus.PublishMany(ctx, ticket.TakeEvents())
	}
	return nil
}

// TicketIDsAsStrings renders ids for job metadata.
func TicketIDsAsStrings(ids []domain.TicketID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(int64(id), 10)
	}
	return out
}
