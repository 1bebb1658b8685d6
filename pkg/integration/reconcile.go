package integration

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/events"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/hubsoft"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
)

// Correlation thresholds: an upstream atendimento matches a local
// ticket when their descriptions overlap enough and it was opened close
// to the local ticket.
const (
	correlationMinSimilarity = 0.30
	correlationWindow        = 24 * time.Hour

	// Bounds for the post-outage status refresh of synced tickets.
	reconcilePageSize = 100
	reconcileMaxPages = 10
)

// Reconciler repairs the local/upstream ticket relationship after an
// outage: unsynced tickets are correlated with atendimentos opened out
// of band (a technician may have entered them by phone) or re-queued
// for a fresh sync, and synced tickets get their status refreshed.
type Reconciler struct {
	repos  *repository.Repositories
	engine *Engine
	api    HubSoftAPI
	bus    *events.Bus
	logger *slog.Logger
}

// NewReconciler builds the reconciler. Wire it with engine.OnRecovery.
func NewReconciler(repos *repository.Repositories, engine *Engine, api HubSoftAPI, bus *events.Bus) *Reconciler {
	return &Reconciler{
		repos:  repos,
		engine: engine,
		api:    api,
		bus:    bus,
		logger: slog.Default().With("component", "reconciler"),
	}
}

// Run executes one full reconciliation pass.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("Starting post-outage reconciliation")

	correlated, requeued := r.reconcileUnsynced(ctx)
	refreshed := r.refreshSyncedStatuses(ctx)

	r.logger.Info("Reconciliation finished",
		"correlated", correlated, "requeued", requeued, "statuses_refreshed", refreshed)
}

// reconcileUnsynced walks tickets that never made it upstream and either
// binds them to an existing atendimento or schedules a fresh sync.
func (r *Reconciler) reconcileUnsynced(ctx context.Context) (correlated, requeued int) {
	var unsynced []*domain.Ticket
	for _, status := range []domain.SyncStatus{domain.SyncStatusPending, domain.SyncStatusFailed} {
		tickets, err := r.repos.Tickets.ListBySyncStatus(ctx, status)
		if err != nil {
			r.logger.Error("Failed to list unsynced tickets", "sync_status", status, "error", err)
			continue
		}
		unsynced = append(unsynced, tickets...)
	}

	for _, ticket := range unsynced {
		if !ticket.Status.IsActive() {
			continue
		}

		match, err := r.findUpstreamMatch(ctx, ticket)
		if err != nil {
			r.logger.Warn("Upstream search failed during reconciliation",
				"ticket_id", ticket.ID, "error", err)
			continue
		}

		if match != nil {
			if err := r.correlate(ctx, ticket, match); err != nil {
				r.logger.Error("Failed to correlate ticket",
					"ticket_id", ticket.ID, "hubsoft_id", match.ID, "error", err)
				continue
			}
			correlated++
			continue
		}

		if err := r.requeueSync(ctx, ticket); err != nil {
			r.logger.Error("Failed to requeue ticket sync",
				"ticket_id", ticket.ID, "error", err)
			continue
		}
		requeued++
	}
	return correlated, requeued
}

// findUpstreamMatch searches the subscriber's atendimentos for one that
// matches the local ticket by description similarity and opening time.
func (r *Reconciler) findUpstreamMatch(ctx context.Context, ticket *domain.Ticket) (*hubsoft.Atendimento, error) {
	user, err := r.repos.Users.GetByID(ctx, ticket.UserID)
	if err != nil {
		return nil, err
	}
	if user.CPF == "" {
		return nil, nil
	}

	upstream, err := r.api.SearchTicketsByCPF(ctx, string(user.CPF))
	if err != nil {
		return nil, err
	}

	var best *hubsoft.Atendimento
	bestScore := 0.0
	for i := range upstream {
		at := &upstream[i]
		if opened, ok := parseUpstreamTime(at.OpenedAt); ok {
			if absDuration(opened.Sub(ticket.CreatedAt)) > correlationWindow {
				continue
			}
		}
		score := jaccardSimilarity(ticket.Description, at.Description)
		if score >= correlationMinSimilarity && score > bestScore {
			best = at
			bestScore = score
		}
	}
	return best, nil
}

// correlate binds the local ticket to the matched atendimento and leaves
// an upstream note so the technician sees both protocols.
func (r *Reconciler) correlate(ctx context.Context, ticket *domain.Ticket, match *hubsoft.Atendimento) error {
	if err := ticket.AttachHubSoft(match.ID, domain.Protocol(match.Protocol), domain.SyncStatusCorrelated); err != nil {
		return err
	}
	if err := r.repos.Tickets.Update(ctx, ticket); err != nil {
		return err
	}
	r.bus.PublishMany(ctx, ticket.TakeEvents())

	note := "Correlacionado com o chamado local " + string(ticket.LocalProtocol) +
		" aberto via bot durante indisponibilidade da integração."
	if err := r.api.AddMessage(ctx, match.ID, note); err != nil {
		r.logger.Warn("Failed to add correlation note upstream",
			"ticket_id", ticket.ID, "hubsoft_id", match.ID, "error", err)
	}

	r.logger.Info("Ticket correlated with existing atendimento",
		"ticket_id", ticket.ID, "hubsoft_id", match.ID, "protocol", match.Protocol)
	return nil
}

// requeueSync schedules a fresh create for a ticket that has no upstream
// counterpart.
func (r *Reconciler) requeueSync(ctx context.Context, ticket *domain.Ticket) error {
	_, err := r.engine.Schedule(ctx,
		domain.IntegrationTicketSync,
		domain.PriorityHigh,
		domain.TicketSyncPayload{TicketID: ticket.ID, SyncType: domain.TicketSyncCreate},
		map[string]string{
			"ticket_id": strconv.FormatInt(int64(ticket.ID), 10),
			"origin":    "reconciliation",
		},
		nil)
	return err
}

// refreshSyncedStatuses pulls recent atendimentos and applies status
// changes to the local tickets bound to them.
func (r *Reconciler) refreshSyncedStatuses(ctx context.Context) int {
	active, err := r.repos.Tickets.ListActive(ctx)
	if err != nil {
		r.logger.Error("Failed to list active tickets", "error", err)
		return 0
	}
	byHubSoftID := make(map[string]*domain.Ticket, len(active))
	for _, t := range active {
		if t.HubSoftTicketID != "" {
			byHubSoftID[t.HubSoftTicketID] = t
		}
	}
	if len(byHubSoftID) == 0 {
		return 0
	}

	refreshed := 0
	for page := 1; page <= reconcileMaxPages; page++ {
		result, err := r.api.ListAtendimentos(ctx, page, reconcilePageSize)
		if err != nil {
			r.logger.Warn("Failed to list atendimentos", "page", page, "error", err)
			break
		}
		for _, at := range result.Items {
			ticket, ok := byHubSoftID[at.ID]
			if !ok {
				continue
			}
			next := mapUpstreamStatus(at.Status)
			if next == "" || next == ticket.Status || !ticket.Status.CanTransitionTo(next) {
				continue
			}
			if err := ticket.ChangeStatus(next, "reconciliation"); err != nil {
				continue
			}
			if err := r.repos.Tickets.Update(ctx, ticket); err != nil {
				r.logger.Error("Failed to persist status refresh",
					"ticket_id", ticket.ID, "error", err)
				continue
			}
			r.bus.PublishMany(ctx, ticket.TakeEvents())
			refreshed++
		}
		if result.TotalPages > 0 && page >= result.TotalPages {
			break
		}
	}
	return refreshed
}

// jaccardSimilarity compares two descriptions as lowercase whitespace
// token sets.
func jaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range strings.Fields(strings.ToLower(s)) {
		set[token] = true
	}
	return set
}

// upstreamTimeLayouts are the timestamp formats HubSoft has been seen
// returning.
var upstreamTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

func parseUpstreamTime(s string) (time.Time, bool) {
	for _, layout := range upstreamTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
