package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/database"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
)

// VerificationRepository persists CPF verifications. In-flight requests
// live in pending_cpf_verifications; terminal ones move to
// cpf_verification_history so the hot table stays small.
type VerificationRepository struct {
	db *database.Client
}

// NewVerificationRepository creates a verification repository.
func NewVerificationRepository(db *database.Client) *VerificationRepository {
	return &VerificationRepository{db: db}
}

type verificationRow struct {
	ID               string       `db:"id"`
	UserID           int64        `db:"telegram_user_id"`
	Username         string       `db:"username"`
	UserMention      string       `db:"user_mention"`
	VerificationType string       `db:"verification_type"`
	SourceAction     string       `db:"source_action"`
	Status           string       `db:"status"`
	CreatedAt        time.Time    `db:"created_at"`
	ExpiresAt        time.Time    `db:"expires_at"`
	StartedAt        sql.NullTime `db:"started_at"`
	AttemptCount     int          `db:"attempt_count"`
	MaxAttempts      int          `db:"max_attempts"`
}

func (r verificationRow) toDomain() *domain.Verification {
	return &domain.Verification{
		ID:           domain.VerificationID(r.ID),
		UserID:       domain.ChatUserID(r.UserID),
		Username:     r.Username,
		UserMention:  r.UserMention,
		Type:         domain.VerificationType(r.VerificationType),
		SourceAction: r.SourceAction,
		Status:       domain.VerificationStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
		StartedAt:    timePtr(r.StartedAt),
		AttemptCount: r.AttemptCount,
		MaxAttempts:  r.MaxAttempts,
	}
}

// Create inserts a new pending verification.
func (r *VerificationRepository) Create(ctx context.Context, v *domain.Verification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_cpf_verifications
			(id, telegram_user_id, username, user_mention, verification_type,
			 source_action, status, created_at, expires_at, started_at,
			 attempt_count, max_attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(v.ID), int64(v.UserID), v.Username, v.UserMention, string(v.Type),
		v.SourceAction, string(v.Status), v.CreatedAt, v.ExpiresAt,
		nullTime(v.StartedAt), v.AttemptCount, v.MaxAttempts)
	if err != nil {
		return fmt.Errorf("failed to insert verification %s: %w", v.ID, err)
	}
	return nil
}

// Update writes the verification back. A terminal verification is moved
// to the history table in the same transaction.
func (r *VerificationRepository) Update(ctx context.Context, v *domain.Verification) error {
	if v.Status.IsTerminal() {
		return r.archive(ctx, v)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_cpf_verifications SET
			status = ?, started_at = ?, attempt_count = ?
		WHERE id = ?`,
		string(v.Status), nullTime(v.StartedAt), v.AttemptCount, string(v.ID))
	if err != nil {
		return fmt.Errorf("failed to update verification %s: %w", v.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// archive deletes the pending row and inserts the terminal record.
func (r *VerificationRepository) archive(ctx context.Context, v *domain.Verification) error {
	clientData := sql.NullString{}
	if v.Client != nil {
		raw, err := json.Marshal(v.Client)
		if err != nil {
			return fmt.Errorf("encoding client data: %w", err)
		}
		clientData = sql.NullString{String: string(raw), Valid: true}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_cpf_verifications WHERE id = ?`, string(v.ID)); err != nil {
		return fmt.Errorf("failed to remove pending verification %s: %w", v.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cpf_verification_history
			(id, telegram_user_id, username, user_mention, verification_type,
			 source_action, status, created_at, expires_at, started_at,
			 completed_at, attempt_count, max_attempts, cpf_verified,
			 client_data, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(v.ID), int64(v.UserID), v.Username, v.UserMention, string(v.Type),
		v.SourceAction, string(v.Status), v.CreatedAt, v.ExpiresAt,
		nullTime(v.StartedAt), nullTime(v.CompletedAt), v.AttemptCount,
		v.MaxAttempts, string(v.CPFVerified), clientData, v.FailureReason)
	if err != nil {
		return fmt.Errorf("failed to archive verification %s: %w", v.ID, err)
	}
	return tx.Commit()
}

// FindActiveByUser returns the user's in-flight verification, or
// ErrNotFound.
func (r *VerificationRepository) FindActiveByUser(ctx context.Context, userID domain.ChatUserID) (*domain.Verification, error) {
	var row verificationRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM pending_cpf_verifications
		WHERE telegram_user_id = ? AND status IN ('PENDING', 'IN_PROGRESS')
		ORDER BY created_at DESC LIMIT 1`, int64(userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load verification for user %d: %w", userID, err)
	}
	return row.toDomain(), nil
}

// GetByID loads one in-flight verification.
func (r *VerificationRepository) GetByID(ctx context.Context, id domain.VerificationID) (*domain.Verification, error) {
	var row verificationRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM pending_cpf_verifications WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load verification %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// FindExpired returns in-flight verifications whose deadline passed.
func (r *VerificationRepository) FindExpired(ctx context.Context, ref time.Time, limit int) ([]*domain.Verification, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []verificationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM pending_cpf_verifications
		WHERE expires_at <= ? AND status IN ('PENDING', 'IN_PROGRESS')
		ORDER BY expires_at ASC LIMIT ?`, ref, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired verifications: %w", err)
	}
	out := make([]*domain.Verification, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// CountCompletedSince returns how many verifications completed
// successfully since the reference time. Used by system stats.
func (r *VerificationRepository) CountCompletedSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM cpf_verification_history
		WHERE status = 'COMPLETED' AND completed_at >= ?`, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed verifications: %w", err)
	}
	return count, nil
}
