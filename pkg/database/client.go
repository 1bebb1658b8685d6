// Package database provides the SQLite client and the embedded schema
// migration runner.
package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // Register sqlite3 driver for database/sql

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/config"
)

// Client wraps the sqlx handle and provides access to the underlying
// database for health checks and direct queries. The raw *sql.DB is
// reachable as c.DB.DB.
type Client struct {
	*sqlx.DB
	file string
}

// File returns the database file path (":memory:" for in-memory databases).
func (c *Client) File() string {
	return c.file
}

// NewClient opens the database, configures the connection pool, and
// applies any pending migrations. The parent directory of the database
// file is created if needed.
func NewClient(ctx context.Context, cfg config.DatabaseConfig) (*Client, error) {
	inMemory := cfg.File == ":memory:"
	if !inMemory {
		if dir := filepath.Dir(cfg.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sqlx.Open("sqlite3", buildDSN(cfg.File))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Sqlite allows a single writer; a small pool avoids SQLITE_BUSY
	// churn. In-memory databases must stay on one connection or each
	// connection would see its own empty database.
	if inMemory {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &Client{DB: db, file: cfg.File}

	if err := RunMigrations(ctx, client); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return client, nil
}

// buildDSN assembles the sqlite connection string. Foreign keys and a
// busy timeout are always on; WAL only applies to file-backed databases.
func buildDSN(file string) string {
	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "1")

	if file == ":memory:" {
		params.Set("mode", "memory")
		return "file::memory:?" + params.Encode()
	}

	params.Set("_journal_mode", "WAL")
	return "file:" + file + "?" + params.Encode()
}
