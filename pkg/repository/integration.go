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

// ErrNoJobsDue is returned by Claim when no integration job is ready.
var ErrNoJobsDue = errors.New("no integration jobs due")

// IntegrationRepository persists the durable job queue.
type IntegrationRepository struct {
	db *database.Client
}

// NewIntegrationRepository creates an integration repository.
func NewIntegrationRepository(db *database.Client) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

type integrationRow struct {
	ID              string       `db:"id"`
	Type            string       `db:"type"`
	Priority        string       `db:"priority"`
	PriorityRank    int          `db:"priority_rank"`
	Status          string       `db:"status"`
	Payload         string       `db:"payload"`
	Metadata        string       `db:"metadata"`
	MaxRetries      int          `db:"max_retries"`
	TimeoutSeconds  int          `db:"timeout_seconds"`
	Attempts        string       `db:"attempts"`
	ScheduledAt     sql.NullTime `db:"scheduled_at"`
	NextAttemptAt   sql.NullTime `db:"next_attempt_at"`
	StartedAt       sql.NullTime `db:"started_at"`
	CompletedAt     sql.NullTime `db:"completed_at"`
	HubSoftResponse string       `db:"hubsoft_response"`
	ErrorDetails    string       `db:"error_details"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

func (r integrationRow) toDomain() (*domain.Integration, error) {
	payload, err := domain.DecodePayload(domain.IntegrationType(r.Type), []byte(r.Payload))
	if err != nil {
		return nil, err
	}
	metadata := map[string]string{}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for job %s: %w", r.ID, err)
		}
	}
	var attempts []domain.IntegrationAttempt
	if r.Attempts != "" {
		if err := json.Unmarshal([]byte(r.Attempts), &attempts); err != nil {
			return nil, fmt.Errorf("decoding attempts for job %s: %w", r.ID, err)
		}
	}
	return &domain.Integration{
		ID:              domain.IntegrationID(r.ID),
		Type:            domain.IntegrationType(r.Type),
		Priority:        domain.IntegrationPriority(r.Priority),
		Status:          domain.IntegrationStatus(r.Status),
		Payload:         payload,
		Metadata:        metadata,
		MaxRetries:      r.MaxRetries,
		TimeoutSeconds:  r.TimeoutSeconds,
		Attempts:        attempts,
		ScheduledAt:     timePtr(r.ScheduledAt),
		NextAttemptAt:   timePtr(r.NextAttemptAt),
		StartedAt:       timePtr(r.StartedAt),
		CompletedAt:     timePtr(r.CompletedAt),
		HubSoftResponse: r.HubSoftResponse,
		ErrorDetails:    r.ErrorDetails,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

func encodeIntegration(i *domain.Integration) (payload, metadata, attempts string, err error) {
	rawPayload, err := domain.EncodePayload(i.Payload)
	if err != nil {
		return "", "", "", err
	}
	rawMetadata, err := json.Marshal(i.Metadata)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding metadata: %w", err)
	}
	rawAttempts := []byte("[]")
	if len(i.Attempts) > 0 {
		if rawAttempts, err = json.Marshal(i.Attempts); err != nil {
			return "", "", "", fmt.Errorf("encoding attempts: %w", err)
		}
	}
	return string(rawPayload), string(rawMetadata), string(rawAttempts), nil
}

// Create inserts a new job.
func (r *IntegrationRepository) Create(ctx context.Context, i *domain.Integration) error {
	payload, metadata, attempts, err := encodeIntegration(i)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO integrations
			(id, type, priority, priority_rank, status, payload, metadata,
			 max_retries, timeout_seconds, attempts, scheduled_at,
			 next_attempt_at, started_at, completed_at, hubsoft_response,
			 error_details, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(i.ID), string(i.Type), string(i.Priority), i.Priority.Rank(),
		string(i.Status), payload, metadata, i.MaxRetries, i.TimeoutSeconds,
		attempts, nullTime(i.ScheduledAt), nullTime(i.NextAttemptAt),
		nullTime(i.StartedAt), nullTime(i.CompletedAt), i.HubSoftResponse,
		i.ErrorDetails, i.CreatedAt, i.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert integration %s: %w", i.ID, err)
	}
	return nil
}

// Update writes the job state back.
func (r *IntegrationRepository) Update(ctx context.Context, i *domain.Integration) error {
	payload, metadata, attempts, err := encodeIntegration(i)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE integrations SET
			priority = ?, priority_rank = ?, status = ?, payload = ?,
			metadata = ?, attempts = ?, scheduled_at = ?, next_attempt_at = ?,
			started_at = ?, completed_at = ?, hubsoft_response = ?,
			error_details = ?, updated_at = ?
		WHERE id = ?`,
		string(i.Priority), i.Priority.Rank(), string(i.Status), payload,
		metadata, attempts, nullTime(i.ScheduledAt), nullTime(i.NextAttemptAt),
		nullTime(i.StartedAt), nullTime(i.CompletedAt), i.HubSoftResponse,
		i.ErrorDetails, i.UpdatedAt, string(i.ID))
	if err != nil {
		return fmt.Errorf("failed to update integration %s: %w", i.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID loads one job.
func (r *IntegrationRepository) GetByID(ctx context.Context, id domain.IntegrationID) (*domain.Integration, error) {
	var row integrationRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM integrations WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load integration %s: %w", id, err)
	}
	return row.toDomain()
}

// Claim atomically takes the highest-priority due job and moves it to
// IN_PROGRESS for a worker. Candidate selection and claim are one
// transaction; a lost race surfaces as ErrNoJobsDue and the worker
// simply polls again.
func (r *IntegrationRepository) Claim(ctx context.Context, now time.Time) (*domain.Integration, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row integrationRow
	err = tx.GetContext(ctx, &row, `
		SELECT * FROM integrations
		WHERE status IN ('PENDING', 'RETRY_SCHEDULED')
		  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY priority_rank DESC, next_attempt_at ASC, created_at ASC
		LIMIT 1`, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJobsDue
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select due integration: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE integrations
		SET status = 'IN_PROGRESS', started_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('PENDING', 'RETRY_SCHEDULED')`,
		now, now, row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim integration %s: %w", row.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNoJobsDue
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	// Re-apply the transition on the aggregate so IntegrationStarted is
	// recorded; the UPDATE above already persisted the new status.
	if err := job.Start(); err != nil {
		return nil, err
	}
	job.StartedAt = &now
	return job, nil
}

// ClaimByID claims one specific job for inline execution (the
// synchronous verification path). ErrNoJobsDue means a worker won the
// race or the job is not claimable.
func (r *IntegrationRepository) ClaimByID(ctx context.Context, id domain.IntegrationID, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE integrations
		SET status = 'IN_PROGRESS', started_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('PENDING', 'RETRY_SCHEDULED')`,
		now, now, string(id))
	if err != nil {
		return fmt.Errorf("failed to claim integration %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoJobsDue
	}
	return nil
}

// FindByMetadata returns jobs whose metadata key equals the value.
func (r *IntegrationRepository) FindByMetadata(ctx context.Context, key, value string) ([]*domain.Integration, error) {
	var rows []integrationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM integrations
		WHERE json_extract(metadata, '$.' || ?) = ?
		ORDER BY created_at ASC`, key, value)
	if err != nil {
		return nil, fmt.Errorf("failed to search integrations by metadata: %w", err)
	}
	return rowsToIntegrations(rows)
}

// FindOrphans returns IN_PROGRESS jobs whose start time is older than
// factor × their own timeout. Run at startup and periodically so jobs
// lost to a crash get their failure recorded and a retry scheduled.
func (r *IntegrationRepository) FindOrphans(ctx context.Context, now time.Time, factor int) ([]*domain.Integration, error) {
	if factor < 1 {
		factor = 1
	}
	var rows []integrationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM integrations
		WHERE status = 'IN_PROGRESS' AND started_at IS NOT NULL
		ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list in-progress integrations: %w", err)
	}

	// The threshold depends on each job's own timeout, so the age check
	// happens here rather than in SQL.
	var orphaned []integrationRow
	for _, row := range rows {
		threshold := time.Duration(row.TimeoutSeconds*factor) * time.Second
		if now.Sub(row.StartedAt.Time) >= threshold {
			orphaned = append(orphaned, row)
		}
	}
	return rowsToIntegrations(orphaned)
}

// DeleteCompletedBefore prunes terminal jobs older than the cutoff, at
// most limit per call. Returns how many rows were removed.
func (r *IntegrationRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM integrations
		WHERE id IN (
			SELECT id FROM integrations
			WHERE status IN ('COMPLETED', 'FAILED', 'CANCELLED')
			  AND completed_at IS NOT NULL AND completed_at <= ?
			LIMIT ?
		)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to prune integrations: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns job counts grouped by status.
func (r *IntegrationRepository) CountByStatus(ctx context.Context) (map[domain.IntegrationStatus]int, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM integrations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count integrations: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.IntegrationStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan integration count: %w", err)
		}
		counts[domain.IntegrationStatus(status)] = count
	}
	return counts, rows.Err()
}

func rowsToIntegrations(rows []integrationRow) ([]*domain.Integration, error) {
	jobs := make([]*domain.Integration, 0, len(rows))
	for _, row := range rows {
		job, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
