package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/database"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
)

// AdminRepository persists the chat-detected administrator cache.
type AdminRepository struct {
	db *database.Client
}

// NewAdminRepository creates an admin repository.
func NewAdminRepository(db *database.Client) *AdminRepository {
	return &AdminRepository{db: db}
}

type adminRow struct {
	UserID     int64     `db:"telegram_user_id"`
	Username   string    `db:"username"`
	FirstName  string    `db:"first_name"`
	LastName   string    `db:"last_name"`
	Status     string    `db:"status"`
	DetectedAt time.Time `db:"detected_at"`
}

// ReplaceAll swaps the cache for the freshly detected admin set.
func (r *AdminRepository) ReplaceAll(ctx context.Context, admins []domain.Administrator) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin admin refresh transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM admin_cache`); err != nil {
		return fmt.Errorf("failed to clear admin cache: %w", err)
	}
	for _, a := range admins {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO admin_cache
				(telegram_user_id, username, first_name, last_name, status, detected_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			int64(a.UserID), a.Username, a.FirstName, a.LastName,
			string(a.Status), a.DetectedAt)
		if err != nil {
			return fmt.Errorf("failed to insert admin %d: %w", a.UserID, err)
		}
	}
	return tx.Commit()
}

// List returns the cached administrators.
func (r *AdminRepository) List(ctx context.Context) ([]domain.Administrator, error) {
	var rows []adminRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM admin_cache ORDER BY telegram_user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	admins := make([]domain.Administrator, 0, len(rows))
	for _, row := range rows {
		admins = append(admins, domain.Administrator{
			UserID:     domain.ChatUserID(row.UserID),
			Username:   row.Username,
			FirstName:  row.FirstName,
			LastName:   row.LastName,
			Status:     domain.AdminStatus(row.Status),
			DetectedAt: row.DetectedAt,
		})
	}
	return admins, nil
}

// IsAdmin reports whether the user is in the detected admin cache.
func (r *AdminRepository) IsAdmin(ctx context.Context, userID domain.ChatUserID) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM admin_cache WHERE telegram_user_id = ?`, int64(userID))
	if err != nil {
		return false, fmt.Errorf("failed to check admin cache: %w", err)
	}
	return count > 0, nil
}
