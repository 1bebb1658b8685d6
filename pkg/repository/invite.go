package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/database"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
)

// InviteRepository persists single-use group invites.
type InviteRepository struct {
	db *database.Client
}

// NewInviteRepository creates an invite repository.
func NewInviteRepository(db *database.Client) *InviteRepository {
	return &InviteRepository{db: db}
}

type inviteRow struct {
	ID         string       `db:"id"`
	UserID     int64        `db:"telegram_user_id"`
	CPF        string       `db:"cpf"`
	InviteURL  string       `db:"invite_url"`
	CreatedAt  time.Time    `db:"created_at"`
	ExpiresAt  time.Time    `db:"expires_at"`
	Used       bool         `db:"used"`
	UsedAt     sql.NullTime `db:"used_at"`
	ClientName string       `db:"client_name"`
	PlanName   string       `db:"plan_name"`
}

func (r inviteRow) toDomain() *domain.GroupInvite {
	return &domain.GroupInvite{
		ID:         r.ID,
		UserID:     domain.ChatUserID(r.UserID),
		CPF:        domain.CPF(r.CPF),
		InviteURL:  r.InviteURL,
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
		Used:       r.Used,
		UsedAt:     timePtr(r.UsedAt),
		ClientName: r.ClientName,
		PlanName:   r.PlanName,
	}
}

// Create inserts a new invite.
func (r *InviteRepository) Create(ctx context.Context, g *domain.GroupInvite) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_invites
			(id, telegram_user_id, cpf, invite_url, created_at, expires_at,
			 used, used_at, client_name, plan_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, int64(g.UserID), string(g.CPF), g.InviteURL, g.CreatedAt,
		g.ExpiresAt, g.Used, nullTime(g.UsedAt), g.ClientName, g.PlanName)
	if err != nil {
		return fmt.Errorf("failed to insert invite %s: %w", g.ID, err)
	}
	return nil
}

// MarkUsed consumes the invite.
func (r *InviteRepository) MarkUsed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE group_invites SET used = 1, used_at = ? WHERE id = ? AND used = 0`,
		time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark invite %s used: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindValidByUser returns the user's newest unexpired, unused invite.
func (r *InviteRepository) FindValidByUser(ctx context.Context, userID domain.ChatUserID, ref time.Time) (*domain.GroupInvite, error) {
	var row inviteRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM group_invites
		WHERE telegram_user_id = ? AND used = 0 AND expires_at > ?
		ORDER BY created_at DESC LIMIT 1`, int64(userID), ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invite for user %d: %w", userID, err)
	}
	return row.toDomain(), nil
}

// FindByURL resolves an invite by its link (join events carry the URL).
func (r *InviteRepository) FindByURL(ctx context.Context, url string) (*domain.GroupInvite, error) {
	var row inviteRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM group_invites WHERE invite_url = ?`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invite by url: %w", err)
	}
	return row.toDomain(), nil
}

// FindExpired returns unused invites past their deadline.
func (r *InviteRepository) FindExpired(ctx context.Context, ref time.Time, limit int) ([]*domain.GroupInvite, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []inviteRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM group_invites
		WHERE used = 0 AND expires_at <= ?
		ORDER BY expires_at ASC LIMIT ?`, ref, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired invites: %w", err)
	}
	invites := make([]*domain.GroupInvite, 0, len(rows))
	for _, row := range rows {
		invites = append(invites, row.toDomain())
	}
	return invites, nil
}

// DeleteOlderThan prunes invite records created before the cutoff.
func (r *InviteRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM group_invites WHERE created_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune invites: %w", err)
	}
	return res.RowsAffected()
}
