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

// UserRepository persists chat subscribers.
type UserRepository struct {
	db *database.Client
}

// NewUserRepository creates a user repository.
func NewUserRepository(db *database.Client) *UserRepository {
	return &UserRepository{db: db}
}

type userRow struct {
	ID               int64          `db:"telegram_user_id"`
	Username         string         `db:"username"`
	CPF              sql.NullString `db:"cpf"`
	ClientName       string         `db:"client_name"`
	ServiceName      string         `db:"service_name"`
	ServiceStatus    string         `db:"service_status"`
	IsActive         bool           `db:"is_active"`
	CreatedAt        time.Time      `db:"created_at"`
	LastVerification sql.NullTime   `db:"last_verification"`
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{
		ID:               domain.ChatUserID(r.ID),
		Username:         r.Username,
		CPF:              domain.CPF(r.CPF.String),
		ClientName:       r.ClientName,
		ServiceName:      r.ServiceName,
		ServiceStatus:    r.ServiceStatus,
		IsActive:         r.IsActive,
		CreatedAt:        r.CreatedAt,
		LastVerification: timePtr(r.LastVerification),
	}
}

func cpfValue(cpf domain.CPF) sql.NullString {
	if cpf == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(cpf), Valid: true}
}

// Save upserts the user. Binding a CPF already held by another active
// account violates the partial unique index and surfaces as a
// ConflictError.
func (r *UserRepository) Save(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users
			(telegram_user_id, username, cpf, client_name, service_name,
			 service_status, is_active, created_at, last_verification)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (telegram_user_id) DO UPDATE SET
			username = excluded.username,
			cpf = excluded.cpf,
			client_name = excluded.client_name,
			service_name = excluded.service_name,
			service_status = excluded.service_status,
			is_active = excluded.is_active,
			last_verification = excluded.last_verification`,
		int64(u.ID), u.Username, cpfValue(u.CPF), u.ClientName, u.ServiceName,
		u.ServiceStatus, u.IsActive, u.CreatedAt, nullTime(u.LastVerification))
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ConflictError{Reason: "cpf already bound to another active account"}
		}
		return fmt.Errorf("failed to save user %d: %w", u.ID, err)
	}
	return nil
}

// GetByID loads one user.
func (r *UserRepository) GetByID(ctx context.Context, id domain.ChatUserID) (*domain.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM users WHERE telegram_user_id = ?`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	return row.toDomain(), nil
}

// FindActiveByCPF returns the active account bound to the CPF, or
// ErrNotFound.
func (r *UserRepository) FindActiveByCPF(ctx context.Context, cpf domain.CPF) (*domain.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM users WHERE cpf = ? AND is_active = 1`, string(cpf))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up cpf owner: %w", err)
	}
	return row.toDomain(), nil
}

// RemapCPF moves the CPF from the losing account to the winning one in
// a single transaction: the loser is deactivated first so the partial
// unique index never sees two active holders.
func (r *UserRepository) RemapCPF(ctx context.Context, cpf domain.CPF, fromUser, toUser domain.ChatUserID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin remap transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET is_active = 0 WHERE telegram_user_id = ? AND cpf = ?`,
		int64(fromUser), string(cpf))
	if err != nil {
		return fmt.Errorf("failed to deactivate previous cpf holder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}

	now := time.Now()
	res, err = tx.ExecContext(ctx, `
		UPDATE users SET cpf = ?, is_active = 1, last_verification = ?
		WHERE telegram_user_id = ?`,
		string(cpf), now, int64(toUser))
	if err != nil {
		return fmt.Errorf("failed to bind cpf to new holder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Without a winner row the CPF would end up bound to nobody.
		return domain.ErrNotFound
	}
	return tx.Commit()
}

// CountActive returns how many active users exist.
func (r *UserRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM users WHERE is_active = 1`)
	if err != nil {
		return 0, fmt.Errorf("failed to count active users: %w", err)
	}
	return count, nil
}

// ListActive returns all active users, used by the daily checkup.
func (r *UserRepository) ListActive(ctx context.Context) ([]*domain.User, error) {
	var rows []userRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM users WHERE is_active = 1 ORDER BY telegram_user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	users := make([]*domain.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toDomain())
	}
	return users, nil
}
