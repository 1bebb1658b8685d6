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

// RulesRepository tracks the rules-acceptance gate: members must accept
// the community rules before the deadline or the daily checkup removes
// them.
type RulesRepository struct {
	db *database.Client
}

// NewRulesRepository creates a rules repository.
func NewRulesRepository(db *database.Client) *RulesRepository {
	return &RulesRepository{db: db}
}

// RulesState is one member's acceptance record.
type RulesState struct {
	UserID     domain.ChatUserID
	JoinedAt   time.Time
	AcceptedAt *time.Time
	Deadline   time.Time
}

// Accepted reports whether the member accepted the rules.
func (s RulesState) Accepted() bool { return s.AcceptedAt != nil }

type rulesRow struct {
	UserID     int64        `db:"telegram_user_id"`
	JoinedAt   time.Time    `db:"joined_at"`
	AcceptedAt sql.NullTime `db:"accepted_at"`
	Deadline   time.Time    `db:"deadline"`
}

func (r rulesRow) toState() RulesState {
	return RulesState{
		UserID:     domain.ChatUserID(r.UserID),
		JoinedAt:   r.JoinedAt,
		AcceptedAt: timePtr(r.AcceptedAt),
		Deadline:   r.Deadline,
	}
}

// TrackJoin records a new member with an acceptance deadline. Rejoining
// resets the clock.
func (r *RulesRepository) TrackJoin(ctx context.Context, userID domain.ChatUserID, joined time.Time, deadline time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_rules (telegram_user_id, joined_at, accepted_at, deadline)
		VALUES (?, ?, NULL, ?)
		ON CONFLICT (telegram_user_id) DO UPDATE SET
			joined_at = excluded.joined_at,
			accepted_at = NULL,
			deadline = excluded.deadline`,
		int64(userID), joined, deadline)
	if err != nil {
		return fmt.Errorf("failed to track join for user %d: %w", userID, err)
	}
	return nil
}

// Accept stamps the acceptance time.
func (r *RulesRepository) Accept(ctx context.Context, userID domain.ChatUserID, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_rules SET accepted_at = ? WHERE telegram_user_id = ?`,
		at, int64(userID))
	if err != nil {
		return fmt.Errorf("failed to record rules acceptance for user %d: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get loads one member's acceptance record.
func (r *RulesRepository) Get(ctx context.Context, userID domain.ChatUserID) (RulesState, error) {
	var row rulesRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM user_rules WHERE telegram_user_id = ?`, int64(userID))
	if errors.Is(err, sql.ErrNoRows) {
		return RulesState{}, domain.ErrNotFound
	}
	if err != nil {
		return RulesState{}, fmt.Errorf("failed to load rules state for user %d: %w", userID, err)
	}
	return row.toState(), nil
}

// FindOverdue returns members whose deadline passed without acceptance.
func (r *RulesRepository) FindOverdue(ctx context.Context, ref time.Time) ([]RulesState, error) {
	var rows []rulesRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM user_rules
		WHERE accepted_at IS NULL AND deadline <= ?
		ORDER BY deadline ASC`, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue rules states: %w", err)
	}
	states := make([]RulesState, 0, len(rows))
	for _, row := range rows {
		states = append(states, row.toState())
	}
	return states, nil
}

// Remove drops the record (member left or was removed).
func (r *RulesRepository) Remove(ctx context.Context, userID domain.ChatUserID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_rules WHERE telegram_user_id = ?`, int64(userID))
	if err != nil {
		return fmt.Errorf("failed to remove rules state for user %d: %w", userID, err)
	}
	return nil
}
