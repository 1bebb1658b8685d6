// One-shot migration runner. Opening the client applies any pending
// migrations; a non-zero exit tells the deploy pipeline to stop.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/config"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/database"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	file := os.Getenv("DATABASE_FILE")
	if file == "" {
		file = "data/oncabito.db"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, err := database.NewClient(ctx, config.DatabaseConfig{
		File:         file,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		slog.Error("Migration failed", "file", file, "error", err)
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	slog.Info("Migrations applied", "file", file)
}
