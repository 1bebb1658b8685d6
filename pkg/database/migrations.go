package database

import (
	"context"
	"crypto/md5"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations
var migrationsFS embed.FS

// dataLossThreshold is the fractional drop in user or CPF counts across
// a migration run that triggers a data-loss warning.
const dataLossThreshold = 0.05

// migration is one embedded schema migration file.
type migration struct {
	Version  int
	Filename string
	SQL      string
	Checksum string
}

// RunMigrations applies all pending embedded migrations in ascending
// version order. Each migration runs in its own transaction and a
// failure aborts the run; already-applied versions are skipped via the
// schema_migrations ledger. After applying, user and CPF counts are
// compared against the pre-migration snapshot and a drop beyond the
// threshold is logged loudly (the run still succeeds — the ledger is
// the operator's cue to restore from backup).
func RunMigrations(ctx context.Context, client *Client) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	if len(migrations) == 0 {
		return fmt.Errorf("no embedded migration files found — binary may be built incorrectly")
	}

	if err := ensureLedger(ctx, client); err != nil {
		return err
	}

	applied, err := appliedVersions(ctx, client)
	if err != nil {
		return err
	}

	preUsers, preCPFs := countUsersAndCPFs(ctx, client)

	ran := 0
	for _, m := range migrations {
		if checksum, ok := applied[m.Version]; ok {
			if checksum != m.Checksum {
				slog.Warn("Migration file changed after being applied",
					"version", m.Version, "filename", m.Filename)
			}
			continue
		}
		if err := applyMigration(ctx, client, m); err != nil {
			return fmt.Errorf("migration %03d (%s) failed: %w", m.Version, m.Filename, err)
		}
		ran++
	}

	if ran > 0 {
		slog.Info("Database migrations applied", "count", ran, "total", len(migrations))
		checkDataLoss(ctx, client, preUsers, preCPFs)
	}
	return nil
}

// loadMigrations reads the embedded NNN_description.sql files sorted by
// version. Duplicate or unparseable version prefixes are an error.
func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	seen := make(map[int]string)
	var migrations []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, found := strings.Cut(name, "_")
		if !found {
			return nil, fmt.Errorf("migration %q does not match NNN_description.sql", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %q has a non-numeric version prefix", name)
		}
		if dup, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, dup, name)
		}
		seen[version] = name

		raw, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %q: %w", name, err)
		}
		sum := md5.Sum(raw)
		migrations = append(migrations, migration{
			Version:  version,
			Filename: name,
			SQL:      string(raw),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func ensureLedger(ctx context.Context, client *Client) error {
	_, err := client.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations ledger: %w", err)
	}
	return nil
}

func appliedVersions(ctx context.Context, client *Client) (map[int]string, error) {
	rows, err := client.QueryxContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]string)
	for rows.Next() {
		var version int
		var checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan schema_migrations row: %w", err)
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

// applyMigration runs one migration and records it in the ledger inside
// a single transaction, so a half-applied migration never gets marked.
func applyMigration(ctx context.Context, client *Client, m migration) error {
	tx, err := client.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, filename, checksum, applied_at) VALUES (?, ?, ?, ?)`,
		m.Version, m.Filename, m.Checksum, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// countUsersAndCPFs snapshots the row counts used by the data-loss
// check. Returns zeros when the users table does not exist yet.
func countUsersAndCPFs(ctx context.Context, client *Client) (users, cpfs int) {
	_ = client.GetContext(ctx, &users, `SELECT COUNT(*) FROM users`)
	_ = client.GetContext(ctx, &cpfs, `SELECT COUNT(*) FROM users WHERE cpf IS NOT NULL AND cpf != ''`)
	return users, cpfs
}

func checkDataLoss(ctx context.Context, client *Client, preUsers, preCPFs int) {
	postUsers, postCPFs := countUsersAndCPFs(ctx, client)
	if dropped(preUsers, postUsers) {
		slog.Error("User count dropped beyond threshold after migration — restore from backup if unintended",
			"before", preUsers, "after", postUsers)
	}
	if dropped(preCPFs, postCPFs) {
		slog.Error("CPF count dropped beyond threshold after migration — restore from backup if unintended",
			"before", preCPFs, "after", postCPFs)
	}
}

func dropped(before, after int) bool {
	if before == 0 {
		return false
	}
	return float64(before-after)/float64(before) > dataLossThreshold
}
