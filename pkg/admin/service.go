// Package admin implements operator commands: ticket triage, member
// bans, system stats and the chat-detected administrator cache. Every
// entry point authorizes against the union of the detected admin set
// and the configured bootstrap list.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/events"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/integration"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/telegram"
)

// ChatService is the slice of the chat platform the admin service uses.
type ChatService interface {
	GetChatAdministrators(ctx context.Context, chatID int64) ([]telegram.ChatMember, error)
	BanChatMember(ctx context.Context, chatID, userID int64) error
	UnbanChatMember(ctx context.Context, chatID, userID int64) error
}

// SyncEngine is the slice of the integration engine the admin service
// uses: scheduling resyncs and reading the health snapshot.
type SyncEngine interface {
	Schedule(ctx context.Context, itype domain.IntegrationType, priority domain.IntegrationPriority, payload any, metadata map[string]string, at *time.Time) (*domain.Integration, error)
	Snapshot(ctx context.Context) integration.Health
}

// Service runs the operator commands.
type Service struct {
	repos     *repository.Repositories
	engine    SyncEngine
	bus       *events.Bus
	chat      ChatService
	groupID   int64
	bootstrap map[domain.ChatUserID]bool
	logger    *slog.Logger
}

// NewService builds the admin service. bootstrapIDs come from
// configuration and stay authorized even when cache refresh fails.
func NewService(repos *repository.Repositories, engine SyncEngine, bus *events.Bus, chat ChatService, groupID int64, bootstrapIDs []domain.ChatUserID) *Service {
	bootstrap := make(map[domain.ChatUserID]bool, len(bootstrapIDs))
	for _, id := range bootstrapIDs {
		bootstrap[id] = true
	}
	return &Service{
		repos:     repos,
		engine:    engine,
		bus:       bus,
		chat:      chat,
		groupID:   groupID,
		bootstrap: bootstrap,
		logger:    slog.Default().With("component", "admin-service"),
	}
}

// IsAdmin reports whether the user may run operator commands: the union
// of the chat-detected cache and the bootstrap list. Divergence between
// the two sources is logged so stale caches surface in operations.
func (s *Service) IsAdmin(ctx context.Context, userID domain.ChatUserID) (bool, error) {
	cached, err := s.repos.Admins.IsAdmin(ctx, userID)
	if err != nil {
		return false, err
	}
	bootstrapped := s.bootstrap[userID]
	if bootstrapped && !cached {
		s.logger.Warn("Bootstrap admin missing from detected cache",
			"user_id", userID)
	}
	return cached || bootstrapped, nil
}

// RefreshAdminCache re-detects the administrator set from the chat
// platform and swaps the cache. Returns the new admin count.
func (s *Service) RefreshAdminCache(ctx context.Context) (int, error) {
	members, err := s.chat.GetChatAdministrators(ctx, s.groupID)
	if err != nil {
		return 0, fmt.Errorf("detecting chat administrators: %w", err)
	}

	now := time.Now()
	admins := make([]domain.Administrator, 0, len(members))
	for _, m := range members {
		if m.User.IsBot {
			continue
		}
		status := domain.AdminStatusAdministrator
		if m.Status == "creator" {
			status = domain.AdminStatusOwner
		}
		admins = append(admins, domain.Administrator{
			UserID:     domain.ChatUserID(m.User.ID),
			Username:   m.User.Username,
			FirstName:  m.User.FirstName,
			LastName:   m.User.LastName,
			Status:     status,
			DetectedAt: now,
		})
	}

	if err := s.repos.Admins.ReplaceAll(ctx, admins); err != nil {
		return 0, fmt.Errorf("replacing admin cache: %w", err)
	}
	s.logger.Info("Admin cache refreshed", "count", len(admins))
	return len(admins), nil
}

// Ticket list filters beyond the status values.
const (
	FilterAll    = "all"
	FilterActive = "active"
)

// ListTickets lists tickets for triage. filter is "all", "active" or a
// status value; empty means all.
func (s *Service) ListTickets(ctx context.Context, adminID domain.ChatUserID, filter string, limit int) ([]*domain.Ticket, error) {
	if err := s.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	switch filter {
	case "", FilterAll:
		return s.repos.Tickets.ListRecent(ctx, "", limit)
	case FilterActive:
		tickets, err := s.repos.Tickets.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(tickets) > limit {
			tickets = tickets[:limit]
		}
		return tickets, nil
	default:
		status, err := domain.ParseTicketStatus(filter)
		if err != nil {
			return nil, err
		}
		return s.repos.Tickets.ListRecent(ctx, status, limit)
	}
}

// AssignTicket hands a ticket to a technician and pushes the status
// change upstream when the ticket is already bound.
func (s *Service) AssignTicket(ctx context.Context, adminID domain.ChatUserID, ticketID domain.TicketID, technician, notes string) (*domain.Ticket, error) {
	if err := s.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	ticket, err := s.repos.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := ticket.Assign(technician, adminID); err != nil {
		return nil, err
	}
	if err := s.repos.Tickets.Update(ctx, ticket); err != nil {
		return nil, err
	}
	s.bus.PublishMany(ctx, ticket.TakeEvents())
	s.logger.Info("Ticket assigned",
		"ticket_id", ticketID, "technician", technician, "by_admin", adminID)

	s.scheduleStatusSync(ctx, ticket, map[string]string{
		"technician": technician,
		"notes":      notes,
	})
	return ticket, nil
}

// UpdateTicketStatus applies an operator status transition.
func (s *Service) UpdateTicketStatus(ctx context.Context, adminID domain.ChatUserID, ticketID domain.TicketID, next domain.TicketStatus, reason string) (*domain.Ticket, error) {
	if err := s.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	ticket, err := s.repos.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := ticket.ChangeStatus(next, "admin:"+strconv.FormatInt(int64(adminID), 10)); err != nil {
		return nil, err
	}
	if err := s.repos.Tickets.Update(ctx, ticket); err != nil {
		return nil, err
	}
	s.bus.PublishMany(ctx, ticket.TakeEvents())
	s.logger.Info("Ticket status updated",
		"ticket_id", ticketID, "status", next, "by_admin", adminID, "reason", reason)

	s.scheduleStatusSync(ctx, ticket, map[string]string{"reason": reason})
	return ticket, nil
}

// scheduleStatusSync queues an upstream status push for a bound ticket.
// Failures are logged; reconciliation covers the gap.
func (s *Service) scheduleStatusSync(ctx context.Context, ticket *domain.Ticket, metadata map[string]string) {
	if ticket.HubSoftTicketID == "" {
		return
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["ticket_id"] = strconv.FormatInt(int64(ticket.ID), 10)
	_, err := s.engine.Schedule(ctx,
		domain.IntegrationTicketSync, domain.PriorityNormal,
		domain.TicketSyncPayload{TicketID: ticket.ID, SyncType: domain.TicketSyncStatusChange},
		metadata, nil)
	if err != nil {
		s.logger.Error("Failed to schedule status sync",
			"ticket_id", ticket.ID, "error", err)
	}
}

// BanUser removes a member from the group and deactivates their
// account. Bans are permanent until an operator lifts them with
// UnbanUser; duration, when set, is recorded for the audit log only.
func (s *Service) BanUser(ctx context.Context, adminID, userID domain.ChatUserID, reason string, duration time.Duration) error {
	if err := s.authorize(ctx, adminID); err != nil {
		return err
	}
	if err := s.chat.BanChatMember(ctx, s.groupID, int64(userID)); err != nil {
		return fmt.Errorf("banning user %d: %w", userID, err)
	}

	user, err := s.repos.Users.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Info("Banned user had no account record", "user_id", userID)
		return nil
	}
	if err != nil {
		return err
	}
	user.Deactivate()
	if err := s.repos.Users.Save(ctx, user); err != nil {
		return err
	}
	s.logger.Info("User banned",
		"user_id", userID, "by_admin", adminID, "reason", reason, "duration", duration)
	return nil
}

// UnbanUser lifts a ban so the user may rejoin via a new invite.
func (s *Service) UnbanUser(ctx context.Context, adminID, userID domain.ChatUserID) error {
	if err := s.authorize(ctx, adminID); err != nil {
		return err
	}
	if err := s.chat.UnbanChatMember(ctx, s.groupID, int64(userID)); err != nil {
		return fmt.Errorf("unbanning user %d: %w", userID, err)
	}
	s.logger.Info("User unbanned", "user_id", userID, "by_admin", adminID)
	return nil
}

// SystemStats is the operator dashboard snapshot.
type SystemStats struct {
	ActiveUsers            int                         `json:"active_users"`
	TicketsByStatus        map[domain.TicketStatus]int `json:"tickets_by_status"`
	VerificationsCompleted int                         `json:"verifications_completed"`
	CachedAdmins           int                         `json:"cached_admins"`
	Engine                 integration.Health          `json:"engine"`
}

// GetSystemStats aggregates counters for the operator dashboard. since
// bounds the completed-verification count.
func (s *Service) GetSystemStats(ctx context.Context, adminID domain.ChatUserID, since time.Time) (*SystemStats, error) {
	if err := s.authorize(ctx, adminID); err != nil {
		return nil, err
	}

	activeUsers, err := s.repos.Users.CountActive(ctx)
	if err != nil {
		return nil, err
	}
	ticketCounts, err := s.repos.Tickets.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	completed, err := s.repos.Verifications.CountCompletedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	admins, err := s.repos.Admins.List(ctx)
	if err != nil {
		return nil, err
	}

	return &SystemStats{
		ActiveUsers:            activeUsers,
		TicketsByStatus:        ticketCounts,
		VerificationsCompleted: completed,
		CachedAdmins:           len(admins),
		Engine:                 s.engine.Snapshot(ctx),
	}, nil
}

// BulkAction selects the per-ticket operation of a bulk update.
type BulkAction string

// Bulk actions.
const (
	BulkActionClose      BulkAction = "close"
	BulkActionCancel     BulkAction = "cancel"
	BulkActionResync     BulkAction = "resync"
	BulkActionSetUrgency BulkAction = "set_urgency"
)

// BulkResult is the outcome of one item of a bulk update.
type BulkResult struct {
	TicketID domain.TicketID
	Err      error
}

// BulkUpdateTickets applies one action to many tickets. Items are
// processed independently; one failure does not abort the batch.
func (s *Service) BulkUpdateTickets(ctx context.Context, adminID domain.ChatUserID, ids []domain.TicketID, action BulkAction, params map[string]string) ([]BulkResult, error) {
	if err := s.authorize(ctx, adminID); err != nil {
		return nil, err
	}

	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, BulkResult{
			TicketID: id,
			Err:      s.applyBulkAction(ctx, adminID, id, action, params),
		})
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	s.logger.Info("Bulk ticket update finished",
		"action", action, "total", len(ids), "failed", failed, "by_admin", adminID)
	return results, nil
}

func (s *Service) applyBulkAction(ctx context.Context, adminID domain.ChatUserID, id domain.TicketID, action BulkAction, params map[string]string) error {
	switch action {
	case BulkActionClose:
		_, err := s.UpdateTicketStatus(ctx, adminID, id, domain.TicketStatusClosed, params["reason"])
		return err
	case BulkActionCancel:
		_, err := s.UpdateTicketStatus(ctx, adminID, id, domain.TicketStatusCancelled, params["reason"])
		return err
	case BulkActionResync:
		ticket, err := s.repos.Tickets.GetByID(ctx, id)
		if err != nil {
			return err
		}
		syncType := domain.TicketSyncCreate
		if ticket.HubSoftTicketID != "" {
			syncType = domain.TicketSyncUpdate
		}
		_, err = s.engine.Schedule(ctx,
			domain.IntegrationTicketSync, domain.PriorityNormal,
			domain.TicketSyncPayload{TicketID: id, SyncType: syncType},
			map[string]string{"origin": "bulk_resync"}, nil)
		return err
	case BulkActionSetUrgency:
		urgency := domain.Urgency(params["urgency"])
		switch urgency {
		case domain.UrgencyNormal, domain.UrgencyMedium, domain.UrgencyHigh:
		default:
			return domain.NewInvalidValue("urgency", "unknown value "+params["urgency"])
		}
		ticket, err := s.repos.Tickets.GetByID(ctx, id)
		if err != nil {
			return err
		}
		ticket.OverrideUrgency(urgency)
		return s.repos.Tickets.Update(ctx, ticket)
	}
	return domain.NewInvalidValue("action", "unknown bulk action "+string(action))
}

// authorize rejects non-admin callers with ErrForbidden.
func (s *Service) authorize(ctx context.Context, userID domain.ChatUserID) error {
	ok, err := s.IsAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrForbidden
	}
	return nil
}

// RunCacheRefresh refreshes the admin cache on the configured interval
// until ctx is cancelled. Errors are logged; the previous cache and the
// bootstrap list keep working.
func (s *Service) RunCacheRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RefreshAdminCache(ctx); err != nil {
				s.logger.Error("Admin cache refresh failed", "error", err)
			}
		}
	}
}
