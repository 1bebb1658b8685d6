// Package verification orchestrates the CPF identity check lifecycle:
// starting requests, processing submissions against the upstream,
// resolving duplicate-CPF conflicts and sweeping expired requests.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/events"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/hubsoft"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/integration"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
)

// ErrNoPendingVerification means the user submitted a CPF without an
// in-flight verification request.
var ErrNoPendingVerification = errors.New("no pending verification for user")

// ErrMembershipRevokeFailed means a losing account could not be removed
// from the group; the conflict stays unresolved until the caller
// retries.
var ErrMembershipRevokeFailed = errors.New("failed to revoke group membership")

// SyncEngine is the slice of the integration engine this service uses.
type SyncEngine interface {
	ExecuteSync(ctx context.Context, itype domain.IntegrationType, priority domain.IntegrationPriority, payload any, metadata map[string]string) (*domain.Integration, error)
}

// ChatService is the chat-platform surface needed for conflict
// resolution and expiry handling.
type ChatService interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	BanChatMember(ctx context.Context, chatID int64, userID int64) error
	UnbanChatMember(ctx context.Context, chatID int64, userID int64) error
}

// Service runs the verification use case.
type Service struct {
	repos   *repository.Repositories
	engine  SyncEngine
	bus     *events.Bus
	chat    ChatService
	groupID int64
	logger  *slog.Logger
}

// NewService builds the verification service. chat may be nil in
// one-shot tools that never resolve conflicts or expire members.
func NewService(repos *repository.Repositories, engine SyncEngine, bus *events.Bus, chat ChatService, groupID int64) *Service {
	return &Service{
		repos:   repos,
		engine:  engine,
		bus:     bus,
		chat:    chat,
		groupID: groupID,
		logger:  slog.Default().With("component", "verification-service"),
	}
}

// StartVerification opens a new verification request for the user. An
// existing in-flight request is cancelled first so at most one
// non-terminal verification exists per user.
func (s *Service) StartVerification(ctx context.Context, userID domain.ChatUserID, username, mention string, vtype domain.VerificationType, sourceAction string) (*domain.Verification, error) {
	if existing, err := s.repos.Verifications.FindActiveByUser(ctx, userID); err == nil {
		if cancelErr := existing.Cancel("superseded"); cancelErr == nil {
			if err := s.repos.Verifications.Update(ctx, existing); err != nil {
				return nil, fmt.Errorf("cancelling superseded verification: %w", err)
			}
			s.bus.PublishMany(ctx, existing.TakeEvents())
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	v := domain.NewVerification(userID, username, mention, vtype, sourceAction)
	if err := s.repos.Verifications.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("persisting verification: %w", err)
	}
	s.bus.PublishMany(ctx, v.TakeEvents())

	s.logger.Info("Verification started",
		"verification_id", v.ID, "user_id", userID, "type", vtype)
	return v, nil
}

// SubmitOutcome classifies the result of a CPF submission.
type SubmitOutcome string

// Submission outcomes.
const (
	OutcomeCompleted         SubmitOutcome = "completed"
	OutcomeInvalidFormat     SubmitOutcome = "invalid_cpf_format"
	OutcomeNotFound          SubmitOutcome = "cpf_not_found"
	OutcomeConflictDetected  SubmitOutcome = "conflict_detected"
	OutcomeAttemptsExhausted SubmitOutcome = "attempts_exhausted"
	OutcomeProcessing        SubmitOutcome = "processing"
)

// SubmitResult is the actionable result the presentation layer renders.
type SubmitResult struct {
	Outcome        SubmitOutcome
	Verification   *domain.Verification
	Client         *domain.ClientData
	CPF            domain.CPF
	ExistingUserID domain.ChatUserID
	AttemptsLeft   int
}

// SubmitCPF processes one CPF submission against the in-flight
// verification: format check, upstream lookup through the engine,
// duplicate detection, and on success the user/CPF binding.
func (s *Service) SubmitCPF(ctx context.Context, userID domain.ChatUserID, rawCPF string) (*SubmitResult, error) {
	v, err := s.repos.Verifications.FindActiveByUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrNoPendingVerification
	}
	if err != nil {
		return nil, err
	}

	cpf, cpfErr := domain.NewCPF(rawCPF)
	if cpfErr != nil {
		return s.failedAttempt(ctx, v, string(OutcomeInvalidFormat))
	}

	job, execErr := s.engine.ExecuteSync(ctx,
		domain.IntegrationUserVerification, domain.PriorityUrgent,
		domain.UserVerificationPayload{CPF: string(cpf)},
		map[string]string{"verification_id": string(v.ID)})
	switch {
	case errors.Is(execErr, integration.ErrQueued):
		// Engine disabled or paused: the job waits, no attempt is burned.
		return &SubmitResult{Outcome: OutcomeProcessing, Verification: v, AttemptsLeft: v.AttemptsLeft()}, nil
	case errors.Is(execErr, hubsoft.ErrNotFound):
		return s.failedAttempt(ctx, v, string(OutcomeNotFound))
	case execErr != nil:
		// Transient upstream failure; the queued retry will resolve it.
		s.logger.Warn("Upstream verification failed transiently",
			"verification_id", v.ID, "error", execErr)
		return &SubmitResult{Outcome: OutcomeProcessing, Verification: v, AttemptsLeft: v.AttemptsLeft()}, nil
	}

	var info hubsoft.ClientInfo
	if err := json.Unmarshal([]byte(job.HubSoftResponse), &info); err != nil {
		return nil, fmt.Errorf("decoding upstream client data: %w", err)
	}
	client := &domain.ClientData{
		Name:          info.Name,
		ServiceName:   info.ServiceName,
		ServiceStatus: info.ServiceStatus,
	}

	// Duplicate check: the CPF may already belong to another active
	// chat account.
	if owner, err := s.repos.Users.FindActiveByCPF(ctx, cpf); err == nil && owner.ID != userID {
		if v.Status == domain.VerificationStatusPending {
			if err := v.Start(); err != nil {
				return nil, err
			}
			if err := s.repos.Verifications.Update(ctx, v); err != nil {
				return nil, err
			}
		}
		s.bus.Publish(ctx, domain.CPFDuplicateDetected{
			BaseEvent:      domain.BaseEvent{At: time.Now()},
			VerificationID: v.ID,
			UserID:         userID,
			ExistingUserID: owner.ID,
			CPFMasked:      cpf.Masked(),
		})
		s.logger.Warn("Duplicate CPF detected",
			"verification_id", v.ID, "user_id", userID,
			"existing_user_id", owner.ID, "cpf", cpf.Masked())
		return &SubmitResult{
			Outcome:        OutcomeConflictDetected,
			Verification:   v,
			Client:         client,
			CPF:            cpf,
			ExistingUserID: owner.ID,
		}, nil
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if err := v.RecordAttempt(cpf, true, "", client); err != nil {
		return nil, err
	}
	if err := s.repos.Verifications.Update(ctx, v); err != nil {
		return nil, fmt.Errorf("persisting completed verification: %w", err)
	}

	if err := s.bindUser(ctx, v, cpf, client); err != nil {
		return nil, err
	}
	s.bus.PublishMany(ctx, v.TakeEvents())
	s.bus.Publish(ctx, domain.CPFValidated{
		BaseEvent:  domain.BaseEvent{At: time.Now()},
		UserID:     userID,
		CPFMasked:  cpf.Masked(),
		ClientName: client.Name,
	})

	s.logger.Info("Verification completed",
		"verification_id", v.ID, "user_id", userID, "cpf", cpf.Masked())
	return &SubmitResult{Outcome: OutcomeCompleted, Verification: v, Client: client, CPF: cpf}, nil
}

// failedAttempt records an unsuccessful submission and persists the
// aggregate, distinguishing "attempts left" from exhaustion.
func (s *Service) failedAttempt(ctx context.Context, v *domain.Verification, reason string) (*SubmitResult, error) {
	if err := v.RecordAttempt("", false, reason, nil); err != nil {
		return nil, err
	}
	if err := s.repos.Verifications.Update(ctx, v); err != nil {
		return nil, fmt.Errorf("persisting failed attempt: %w", err)
	}
	s.bus.PublishMany(ctx, v.TakeEvents())

	outcome := SubmitOutcome(reason)
	if v.Status == domain.VerificationStatusFailed {
		outcome = OutcomeAttemptsExhausted
	}
	return &SubmitResult{Outcome: outcome, Verification: v, AttemptsLeft: v.AttemptsLeft()}, nil
}

// bindUser writes the user/CPF binding after a successful check.
func (s *Service) bindUser(ctx context.Context, v *domain.Verification, cpf domain.CPF, client *domain.ClientData) error {
	user, err := s.repos.Users.GetByID(ctx, v.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		user = &domain.User{
			ID:        v.UserID,
			Username:  v.Username,
			IsActive:  true,
			CreatedAt: time.Now(),
		}
	} else if err != nil {
		return err
	}
	user.IsActive = true
	user.BindCPF(cpf, client)
	if err := s.repos.Users.Save(ctx, user); err != nil {
		return fmt.Errorf("binding cpf to user %d: %w", v.UserID, err)
	}
	return nil
}

// ResolveDuplicateConflict moves the CPF binding to the primary account
// and revokes the losers' group membership. The primary must be the
// verification's own user. The CPF comes from the conversation state
// the presentation layer kept from the conflicting submission.
func (s *Service) ResolveDuplicateConflict(ctx context.Context, verificationID domain.VerificationID, cpf domain.CPF, primaryUserID domain.ChatUserID, loserIDs []domain.ChatUserID) error {
	v, err := s.repos.Verifications.GetByID(ctx, verificationID)
	if err != nil {
		return err
	}
	if v.UserID != primaryUserID {
		return domain.ErrForbidden
	}

	for _, loser := range loserIDs {
		if err := s.removeFromGroup(ctx, loser); err != nil {
			s.logger.Error("Failed to revoke losing account membership",
				"verification_id", verificationID, "loser_id", loser, "error", err)
			return fmt.Errorf("%w: user %d", ErrMembershipRevokeFailed, loser)
		}
	}

	// The winner may have no user row yet (conflict fired before any
	// binding was written).
	if _, err := s.repos.Users.GetByID(ctx, primaryUserID); errors.Is(err, domain.ErrNotFound) {
		if err := s.repos.Users.Save(ctx, &domain.User{
			ID:        primaryUserID,
			Username:  v.Username,
			IsActive:  true,
			CreatedAt: time.Now(),
		}); err != nil {
			return fmt.Errorf("creating primary user %d: %w", primaryUserID, err)
		}
	} else if err != nil {
		return err
	}

	for _, loser := range loserIDs {
		if err := s.repos.Users.RemapCPF(ctx, cpf, loser, primaryUserID); err != nil {
			return fmt.Errorf("remapping cpf from %d to %d: %w", loser, primaryUserID, err)
		}
		s.bus.Publish(ctx, domain.CPFRemapped{
			BaseEvent: domain.BaseEvent{At: time.Now()},
			OldUserID: loser,
			NewUserID: primaryUserID,
			CPFMasked: cpf.Masked(),
			Reason:    "duplicate_conflict_resolved",
		})
	}

	if err := v.CompleteWithSuccess(cpf, nil); err != nil {
		return err
	}
	if err := s.repos.Verifications.Update(ctx, v); err != nil {
		return fmt.Errorf("persisting resolved verification: %w", err)
	}
	s.bus.PublishMany(ctx, v.TakeEvents())

	s.logger.Info("Duplicate conflict resolved",
		"verification_id", verificationID, "primary", primaryUserID,
		"losers", len(loserIDs), "cpf", cpf.Masked())
	return nil
}

// expiredSweepBatch bounds one expiration sweep pass.
const expiredSweepBatch = 100

// ProcessExpiredVerifications expires in-flight verifications past
// their 24-hour deadline. Users who never completed an auto-checkup
// verification are removed from the group and notified privately.
func (s *Service) ProcessExpiredVerifications(ctx context.Context) (int, error) {
	expired, err := s.repos.Verifications.FindExpired(ctx, time.Now(), expiredSweepBatch)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, v := range expired {
		if err := v.Expire(time.Now()); err != nil {
			s.logger.Error("Failed to expire verification",
				"verification_id", v.ID, "error", err)
			continue
		}
		if err := s.repos.Verifications.Update(ctx, v); err != nil {
			s.logger.Error("Failed to persist expired verification",
				"verification_id", v.ID, "error", err)
			continue
		}
		s.bus.PublishMany(ctx, v.TakeEvents())
		processed++

		if v.Type != domain.VerificationAutoCheckup {
			continue
		}
		if err := s.removeFromGroup(ctx, v.UserID); err != nil {
			s.logger.Error("Failed to remove unverified member",
				"user_id", v.UserID, "error", err)
			continue
		}
		s.notifyRemoval(ctx, v.UserID)
	}

	if processed > 0 {
		s.logger.Info("Expired verifications processed", "count", processed)
	}
	return processed, nil
}

// removeFromGroup kicks the user without a permanent ban: ban then
// unban, so they can rejoin through a fresh invite after verifying.
func (s *Service) removeFromGroup(ctx context.Context, userID domain.ChatUserID) error {
	if s.chat == nil {
		return errors.New("chat service not configured")
	}
	if err := s.chat.BanChatMember(ctx, s.groupID, int64(userID)); err != nil {
		return err
	}
	if err := s.chat.UnbanChatMember(ctx, s.groupID, int64(userID)); err != nil {
		s.logger.Warn("Failed to lift removal ban", "user_id", userID, "error", err)
	}
	return nil
}

func (s *Service) notifyRemoval(ctx context.Context, userID domain.ChatUserID) {
	if s.chat == nil {
		return
	}
	msg := "Sua verificação de CPF expirou e você foi removido do grupo OnCabito Gaming. " +
		"Para voltar, inicie uma nova verificação com /start e solicite um novo convite."
	if err := s.chat.SendMessage(ctx, int64(userID), msg); err != nil {
		s.logger.Warn("Failed to notify removed member", "user_id", userID, "error", err)
	}
}
