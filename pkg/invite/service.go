// Package invite issues single-use, time-limited group invite links to
// verified subscribers and sweeps the stale ones.
package invite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/config"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/events"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/telegram"
)

// retentionPeriod is how long consumed and expired invite records are
// kept before the sweep prunes them.
const retentionPeriod = 30 * 24 * time.Hour

// ChatService is the slice of the chat platform the invite service
// uses.
type ChatService interface {
	CreateChatInviteLink(ctx context.Context, chatID int64, name string, memberLimit int, expireAt time.Time) (*telegram.ChatInviteLink, error)
}

// Service issues and tracks group invites.
type Service struct {
	repos   *repository.Repositories
	chat    ChatService
	bus     *events.Bus
	groupID int64
	cfg     config.InviteConfig
	logger  *slog.Logger
}

// NewService builds the invite service.
func NewService(repos *repository.Repositories, chat ChatService, bus *events.Bus, groupID int64, cfg config.InviteConfig) *Service {
	return &Service{
		repos:   repos,
		chat:    chat,
		bus:     bus,
		groupID: groupID,
		cfg:     cfg,
		logger:  slog.Default().With("component", "invite-service"),
	}
}

// Issue creates a single-use invite for a verified user. An existing
// valid invite is returned instead of minting a second link.
func (s *Service) Issue(ctx context.Context, user *domain.User) (*domain.GroupInvite, error) {
	if !user.HasVerifiedCPF() {
		return nil, domain.ErrForbidden
	}

	if existing, err := s.repos.Invites.FindValidByUser(ctx, user.ID, time.Now()); err == nil {
		s.logger.Info("Reusing valid invite", "user_id", user.ID, "invite_id", existing.ID)
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	expireAt := time.Now().Add(s.cfg.ExpireTime)
	link, err := s.chat.CreateChatInviteLink(ctx, s.groupID,
		fmt.Sprintf("verified-%d", user.ID), s.cfg.MemberLimit, expireAt)
	if err != nil {
		return nil, fmt.Errorf("creating invite link: %w", err)
	}

	invite := domain.NewGroupInvite(user.ID, user.CPF, link.InviteLink,
		user.ClientName, user.ServiceName, s.cfg.ExpireTime)
	if err := s.repos.Invites.Create(ctx, invite); err != nil {
		return nil, fmt.Errorf("persisting invite: %w", err)
	}

	s.bus.Publish(ctx, domain.InviteIssued{
		BaseEvent: domain.BaseEvent{At: time.Now()},
		UserID:    invite.UserID,
		InviteID:  invite.ID,
		ExpiresAt: invite.ExpiresAt,
	})
	s.logger.Info("Invite issued",
		"user_id", user.ID, "invite_id", invite.ID, "expires_at", invite.ExpiresAt)
	return invite, nil
}

// MarkUsed consumes the invite matching the join's link. Joins through
// unknown links are ignored.
func (s *Service) MarkUsed(ctx context.Context, inviteURL string) error {
	invite, err := s.repos.Invites.FindByURL(ctx, inviteURL)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if invite.Used {
		return nil
	}
	if err := s.repos.Invites.MarkUsed(ctx, invite.ID); err != nil {
		return err
	}
	s.logger.Info("Invite consumed", "invite_id", invite.ID, "user_id", invite.UserID)
	return nil
}

// ConsumeForUser consumes the joining user's valid invite. Join events
// do not always carry the link, so the lookup goes by user.
func (s *Service) ConsumeForUser(ctx context.Context, userID domain.ChatUserID) error {
	invite, err := s.repos.Invites.FindValidByUser(ctx, userID, time.Now())
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.repos.Invites.MarkUsed(ctx, invite.ID); err != nil {
		return err
	}
	s.logger.Info("Invite consumed on join", "invite_id", invite.ID, "user_id", userID)
	return nil
}

// Sweep logs expired unused invites and prunes records older than the
// retention period. Run by the daily checkup.
func (s *Service) Sweep(ctx context.Context) error {
	expired, err := s.repos.Invites.FindExpired(ctx, time.Now(), 500)
	if err != nil {
		return err
	}
	for _, invite := range expired {
		s.logger.Info("Invite expired unused",
			"invite_id", invite.ID, "user_id", invite.UserID)
	}

	pruned, err := s.repos.Invites.DeleteOlderThan(ctx, time.Now().Add(-retentionPeriod))
	if err != nil {
		return err
	}
	if pruned > 0 {
		s.logger.Info("Pruned old invite records", "count", pruned)
	}
	return nil
}
