// Data export — one-shot JSON dump of every application table plus a
// sqlite integrity check, for backups and support escalations. CPFs
// leave the database as stored; the export file must be handled as
// sensitive data.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/config"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/database"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/version"
)

// exportedTables lists the application tables in dependency order.
var exportedTables = []string{
	"users",
	"pending_cpf_verifications",
	"cpf_verification_history",
	"support_tickets",
	"group_invites",
	"admin_cache",
	"integrations",
	"user_rules",
}

type export struct {
	ExportedAt time.Time                   `json:"exported_at"`
	Version    string                      `json:"version"`
	Integrity  string                      `json:"integrity"`
	Tables     map[string][]map[string]any `json:"tables"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	outPath := os.Getenv("EXPORT_FILE")
	if outPath == "" {
		outPath = fmt.Sprintf("oncabito-export-%s.json", time.Now().Format("2006-01-02"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	file := os.Getenv("DATABASE_FILE")
	if file == "" {
		file = "data/oncabito.db"
	}
	client, err := database.NewClient(ctx, config.DatabaseConfig{
		File:         file,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	result := &export{
		ExportedAt: time.Now().UTC(),
		Version:    version.GitCommit,
		Tables:     make(map[string][]map[string]any, len(exportedTables)),
	}

	var integrity string
	if err := client.GetContext(ctx, &integrity, "PRAGMA integrity_check"); err != nil {
		slog.Error("Integrity check failed to run", "error", err)
		os.Exit(1)
	}
	result.Integrity = integrity
	if integrity != "ok" {
		slog.Error("Database failed integrity check", "result", integrity)
		os.Exit(1)
	}

	total := 0
	for _, table := range exportedTables {
		rows, err := dumpTable(ctx, client, table)
		if err != nil {
			slog.Error("Failed to export table", "table", table, "error", err)
			os.Exit(1)
		}
		result.Tables[table] = rows
		total += len(rows)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		slog.Error("Failed to encode export", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(outPath, data, 0o600); err != nil {
		slog.Error("Failed to write export file", "path", outPath, "error", err)
		os.Exit(1)
	}

	slog.Info("Export complete", "path", outPath, "tables", len(exportedTables), "rows", total)
}

// dumpTable reads all rows of one table. Table names come from the
// fixed list above, never from input.
func dumpTable(ctx context.Context, client *database.Client, table string) ([]map[string]any, error) {
	rows, err := client.QueryxContext(ctx, "SELECT * FROM "+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]map[string]any, 0)
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
