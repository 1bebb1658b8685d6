// Package support implements the ticket use case behind the guided
// intake: the verified-user gate, the one-active-ticket rule, ticket
// creation with upstream sync scheduling, and status projections.
package support

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/events"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
)

// ErrNotVerified means the caller has not completed CPF verification;
// the presentation layer redirects them into the verification flow.
var ErrNotVerified = errors.New("user has not completed verification")

// JobScheduler is the slice of the integration engine this service
// uses.
type JobScheduler interface {
	Schedule(ctx context.Context, itype domain.IntegrationType, priority domain.IntegrationPriority, payload any, metadata map[string]string, at *time.Time) (*domain.Integration, error)
	UpstreamHealthy() bool
}

// Service runs the support ticket use case.
type Service struct {
	repos  *repository.Repositories
	engine JobScheduler
	bus    *events.Bus
	logger *slog.Logger
}

// NewService builds the support service.
func NewService(repos *repository.Repositories, engine JobScheduler, bus *events.Bus) *Service {
	return &Service{
		repos:  repos,
		engine: engine,
		bus:    bus,
		logger: slog.Default().With("component", "support-service"),
	}
}

// CreateTicketCommand is the completed intake form.
type CreateTicketCommand struct {
	UserID      domain.ChatUserID
	Category    domain.TicketCategory
	Game        string
	Timing      domain.ProblemTiming
	Description string
	Attachments []domain.Attachment
}

// CreateTicketResult reports the creation outcome. Refused carries the
// blocking active ticket; SyncDeferred marks a degraded success where
// the local ticket exists but the upstream sync could not be queued.
type CreateTicketResult struct {
	Ticket       *TicketView
	Refused      bool
	ActiveTicket *TicketView
	SyncDeferred bool
}

// CreateTicket runs the post-confirmation flow: gate, active-ticket
// check, durable write, sync scheduling.
func (s *Service) CreateTicket(ctx context.Context, cmd CreateTicketCommand) (*CreateTicketResult, error) {
	if err := s.requireVerified(ctx, cmd.UserID); err != nil {
		return nil, err
	}

	if active, err := s.repos.Tickets.FindActiveByUser(ctx, cmd.UserID); err == nil {
		view := newTicketView(active)
		s.logger.Info("Intake refused, active ticket exists",
			"user_id", cmd.UserID, "protocol", active.LocalProtocol)
		return &CreateTicketResult{Refused: true, ActiveTicket: &view}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	ticket, err := domain.NewTicket(cmd.UserID, cmd.Category, cmd.Game, cmd.Timing, cmd.Description, cmd.Attachments)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Tickets.Create(ctx, ticket); err != nil {
		// A concurrent intake may win the active slot between the check
		// and the insert; surface it the same way as the pre-check.
		if domain.IsConflict(err) {
			if active, findErr := s.repos.Tickets.FindActiveByUser(ctx, cmd.UserID); findErr == nil {
				view := newTicketView(active)
				return &CreateTicketResult{Refused: true, ActiveTicket: &view}, nil
			}
		}
		return nil, fmt.Errorf("persisting ticket: %w", err)
	}
	s.bus.PublishMany(ctx, ticket.TakeEvents())

	result := &CreateTicketResult{}
	if err := s.scheduleSync(ctx, ticket); err != nil {
		// The ticket exists; sync is deferred to the reconciliation path.
		s.logger.Error("Failed to schedule ticket sync",
			"ticket_id", ticket.ID, "error", err)
		result.SyncDeferred = true
	}

	view := newTicketView(ticket)
	result.Ticket = &view
	s.logger.Info("Ticket created",
		"ticket_id", ticket.ID, "protocol", ticket.LocalProtocol,
		"category", ticket.Category, "urgency", ticket.Urgency)
	return result, nil
}

// scheduleSync queues the upstream create. A healthy upstream gets HIGH
// priority; during an outage the job queues at NORMAL and waits.
func (s *Service) scheduleSync(ctx context.Context, ticket *domain.Ticket) error {
	priority := domain.PriorityNormal
	if s.engine.UpstreamHealthy() {
		priority = domain.PriorityHigh
	}
	_, err := s.engine.Schedule(ctx,
		domain.IntegrationTicketSync, priority,
		domain.TicketSyncPayload{TicketID: ticket.ID, SyncType: domain.TicketSyncCreate},
		map[string]string{"ticket_id": strconv.FormatInt(int64(ticket.ID), 10)},
		nil)
	return err
}

// ListTickets returns the user's tickets, newest first.
func (s *Service) ListTickets(ctx context.Context, userID domain.ChatUserID, limit int) ([]TicketView, error) {
	if err := s.requireVerified(ctx, userID); err != nil {
		return nil, err
	}
	tickets, err := s.repos.Tickets.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]TicketView, 0, len(tickets))
	for _, t := range tickets {
		views = append(views, newTicketView(t))
	}
	return views, nil
}

// GetActiveTicket returns the user's active ticket, or ErrNotFound.
func (s *Service) GetActiveTicket(ctx context.Context, userID domain.ChatUserID) (*TicketView, error) {
	if err := s.requireVerified(ctx, userID); err != nil {
		return nil, err
	}
	ticket, err := s.repos.Tickets.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	view := newTicketView(ticket)
	return &view, nil
}

// requireVerified enforces the verified-user gate on every entry point.
func (s *Service) requireVerified(ctx context.Context, userID domain.ChatUserID) error {
	user, err := s.repos.Users.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return ErrNotVerified
	}
	if err != nil {
		return err
	}
	if !user.HasVerifiedCPF() {
		return ErrNotVerified
	}
	return nil
}
