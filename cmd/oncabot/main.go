// Oncabot backend — runs the chat adapter, the HubSoft integration
// engine, the periodic sweeps and the operational HTTP API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/admin"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/api"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/bot"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/cache"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/config"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/database"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/events"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/hubsoft"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/integration"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/invite"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/support"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/telegram"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/verification"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/version"
)

const expirySweepInterval = 5 * time.Minute

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	slog.Info("Starting oncabot",
		"version", version.GitCommit,
		"group_id", cfg.Telegram.GroupID,
		"hubsoft_enabled", cfg.HubSoft.Enabled)

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()

	repos := repository.New(dbClient)
	bus := events.NewBus()
	dataCache := cache.New(0)

	hub := hubsoft.NewClient(cfg.HubSoft)
	tg := telegram.NewClient(cfg.Telegram)

	executors := integration.DefaultExecutors(integration.ExecutorDeps{
		Repos: repos,
		API:   hub,
		Cache: dataCache,
		Bus:   bus,
		Files: tg,
	})
	engine := integration.New(repos, bus, hub, executors, cfg.Engine, cfg.HubSoft.Enabled)

	reconciler := integration.NewReconciler(repos, engine, hub, bus)
	engine.OnRecovery(reconciler.Run)

	if err := engine.Start(ctx); err != nil {
		slog.Error("Failed to start integration engine", "error", err)
		os.Exit(1)
	}
	defer engine.Stop()

	verifications := verification.NewService(repos, engine, bus, tg, cfg.Telegram.GroupID)
	supportSvc := support.NewService(repos, engine, bus)
	invites := invite.NewService(repos, tg, bus, cfg.Telegram.GroupID, cfg.Invites)
	admins := admin.NewService(repos, engine, bus, tg, cfg.Telegram.GroupID, cfg.Admins.BootstrapIDs)

	adapter := bot.New(tg, verifications, supportSvc, invites, admins, repos, cfg.Telegram)
	go adapter.Run(ctx)
	go admins.RunCacheRefresh(ctx, cfg.Admins.RefreshInterval)
	go runExpirySweep(ctx, verifications)

	server := api.NewServer(dbClient, engine, dataCache, admins, cfg.Server)
	serverDone := make(chan error, 1)
	go func() { serverDone <- server.Run(ctx) }()

	slog.Info("Oncabot started")

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		if err := <-serverDone; err != nil {
			slog.Error("API server shutdown error", "error", err)
		}
	case err := <-serverDone:
		slog.Error("API server error triggered shutdown", "error", err)
		stop()
	}

	slog.Info("Shutdown complete")
}

// runExpirySweep cancels overdue verifications so their users are
// re-prompted instead of stuck.
func runExpirySweep(ctx context.Context, verifications *verification.Service) {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := verifications.ProcessExpiredVerifications(ctx); err != nil {
				slog.Error("Expiry sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("Expired verifications processed", "count", n)
			}
		}
	}
}
