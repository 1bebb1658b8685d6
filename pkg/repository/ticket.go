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

// TicketRepository persists support tickets.
type TicketRepository struct {
	db *database.Client
}

// NewTicketRepository creates a ticket repository.
func NewTicketRepository(db *database.Client) *TicketRepository {
	return &TicketRepository{db: db}
}

type ticketRow struct {
	ID                 int64        `db:"id"`
	UserID             int64        `db:"telegram_user_id"`
	Category           string       `db:"category"`
	AffectedGame       string       `db:"affected_game"`
	ProblemTiming      string       `db:"problem_timing"`
	Description        string       `db:"description"`
	Attachments        string       `db:"attachments"`
	Urgency            string       `db:"urgency"`
	Status             string       `db:"status"`
	LocalProtocol      string       `db:"local_protocol"`
	HubSoftTicketID    string       `db:"hubsoft_ticket_id"`
	HubSoftProtocol    string       `db:"hubsoft_protocol"`
	SyncStatus         string       `db:"sync_status"`
	AssignedTechnician string       `db:"assigned_technician"`
	CreatedAt          time.Time    `db:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at"`
}

func (r ticketRow) toDomain() (*domain.Ticket, error) {
	var attachments []domain.Attachment
	if r.Attachments != "" {
		if err := json.Unmarshal([]byte(r.Attachments), &attachments); err != nil {
			return nil, fmt.Errorf("decoding attachments for ticket %d: %w", r.ID, err)
		}
	}
	return &domain.Ticket{
		ID:                 domain.TicketID(r.ID),
		UserID:             domain.ChatUserID(r.UserID),
		Category:           domain.TicketCategory(r.Category),
		AffectedGame:       r.AffectedGame,
		Timing:             domain.ProblemTiming(r.ProblemTiming),
		Description:        r.Description,
		Attachments:        attachments,
		Urgency:            domain.Urgency(r.Urgency),
		Status:             domain.TicketStatus(r.Status),
		LocalProtocol:      domain.Protocol(r.LocalProtocol),
		HubSoftTicketID:    r.HubSoftTicketID,
		HubSoftProtocol:    domain.Protocol(r.HubSoftProtocol),
		SyncStatus:         domain.SyncStatus(r.SyncStatus),
		AssignedTechnician: r.AssignedTechnician,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}, nil
}

func encodeAttachments(attachments []domain.Attachment) (string, error) {
	if len(attachments) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return "", fmt.Errorf("encoding attachments: %w", err)
	}
	return string(raw), nil
}

// Create inserts the ticket, assigns its id and local protocol, and
// leaves the TicketCreated event pending on the aggregate. A second
// active ticket for the same user violates the partial unique index and
// surfaces as a ConflictError.
func (r *TicketRepository) Create(ctx context.Context, t *domain.Ticket) error {
	attachments, err := encodeAttachments(t.Attachments)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO support_tickets
			(telegram_user_id, category, affected_game, problem_timing, description,
			 attachments, urgency, status, sync_status, assigned_technician,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(t.UserID), string(t.Category), t.AffectedGame, string(t.Timing),
		t.Description, attachments, string(t.Urgency), string(t.Status),
		string(t.SyncStatus), t.AssignedTechnician, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ConflictError{Reason: "user already has an active ticket"}
		}
		return fmt.Errorf("failed to insert ticket: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read ticket id: %w", err)
	}
	t.MarkPersisted(domain.TicketID(id))

	_, err = tx.ExecContext(ctx,
		`UPDATE support_tickets SET local_protocol = ? WHERE id = ?`,
		string(t.LocalProtocol), id)
	if err != nil {
		return fmt.Errorf("failed to store local protocol: %w", err)
	}
	return tx.Commit()
}

// Update writes the aggregate state back.
func (r *TicketRepository) Update(ctx context.Context, t *domain.Ticket) error {
	attachments, err := encodeAttachments(t.Attachments)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE support_tickets SET
			category = ?, affected_game = ?, problem_timing = ?, description = ?,
			attachments = ?, urgency = ?, status = ?, local_protocol = ?,
			hubsoft_ticket_id = ?, hubsoft_protocol = ?, sync_status = ?,
			assigned_technician = ?, updated_at = ?
		WHERE id = ?`,
		string(t.Category), t.AffectedGame, string(t.Timing), t.Description,
		attachments, string(t.Urgency), string(t.Status), string(t.LocalProtocol),
		t.HubSoftTicketID, string(t.HubSoftProtocol), string(t.SyncStatus),
		t.AssignedTechnician, t.UpdatedAt, int64(t.ID))
	if err != nil {
		return fmt.Errorf("failed to update ticket %d: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID loads one ticket.
func (r *TicketRepository) GetByID(ctx context.Context, id domain.TicketID) (*domain.Ticket, error) {
	var row ticketRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM support_tickets WHERE id = ?`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket %d: %w", id, err)
	}
	return row.toDomain()
}

// FindActiveByUser returns the user's single active ticket, or
// ErrNotFound.
func (r *TicketRepository) FindActiveByUser(ctx context.Context, userID domain.ChatUserID) (*domain.Ticket, error) {
	var row ticketRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM support_tickets
		WHERE telegram_user_id = ? AND status IN ('PENDING', 'OPEN', 'IN_PROGRESS')`,
		int64(userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active ticket for user %d: %w", userID, err)
	}
	return row.toDomain()
}

// ListByUser returns the user's tickets, newest first.
func (r *TicketRepository) ListByUser(ctx context.Context, userID domain.ChatUserID, limit int) ([]*domain.Ticket, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []ticketRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM support_tickets
		WHERE telegram_user_id = ?
		ORDER BY created_at DESC LIMIT ?`, int64(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets for user %d: %w", userID, err)
	}
	return rowsToTickets(rows)
}

// ListActive returns all tickets in an active status, oldest first.
func (r *TicketRepository) ListActive(ctx context.Context) ([]*domain.Ticket, error) {
	var rows []ticketRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM support_tickets
		WHERE status IN ('PENDING', 'OPEN', 'IN_PROGRESS')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tickets: %w", err)
	}
	return rowsToTickets(rows)
}

// ListRecent returns tickets newest first, optionally filtered by
// status. Empty status means all tickets. Used by admin listings.
func (r *TicketRepository) ListRecent(ctx context.Context, status domain.TicketStatus, limit int) ([]*domain.Ticket, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []ticketRow
	var err error
	if status == "" {
		err = r.db.SelectContext(ctx, &rows, `
			SELECT * FROM support_tickets
			ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		err = r.db.SelectContext(ctx, &rows, `
			SELECT * FROM support_tickets
			WHERE status = ?
			ORDER BY created_at DESC LIMIT ?`, string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list recent tickets: %w", err)
	}
	return rowsToTickets(rows)
}

// ListBySyncStatus returns tickets in the given sync state, oldest
// first. Used by reconciliation after upstream recovery.
func (r *TicketRepository) ListBySyncStatus(ctx context.Context, status domain.SyncStatus) ([]*domain.Ticket, error) {
	var rows []ticketRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM support_tickets
		WHERE sync_status = ?
		ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets by sync status %s: %w", status, err)
	}
	return rowsToTickets(rows)
}

// CountByStatus returns ticket counts grouped by status.
func (r *TicketRepository) CountByStatus(ctx context.Context) (map[domain.TicketStatus]int, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM support_tickets GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tickets: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TicketStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan ticket count: %w", err)
		}
		counts[domain.TicketStatus(status)] = count
	}
	return counts, rows.Err()
}

func rowsToTickets(rows []ticketRow) ([]*domain.Ticket, error) {
	tickets := make([]*domain.Ticket, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}
