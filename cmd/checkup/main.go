// Daily checkup — one-shot maintenance run meant for cron: expires
// stale verifications, prunes invites, removes members who never
// accepted the rules, refreshes the admin cache and re-checks that
// stored subscribers still have an active contract upstream.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/admin"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/cache"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/config"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/database"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/events"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/hubsoft"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/integration"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/invite"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/telegram"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/verification"
)

// recheckBatch caps how many subscribers one run re-verifies upstream.
const recheckBatch = 200

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = dbClient.Close() }()

	repos := repository.New(dbClient)
	bus := events.NewBus()
	hub := hubsoft.NewClient(cfg.HubSoft)
	tg := telegram.NewClient(cfg.Telegram)

	executors := integration.DefaultExecutors(integration.ExecutorDeps{
		Repos: repos,
		API:   hub,
		Cache: cache.New(0),
		Bus:   bus,
		Files: tg,
	})
	engine := integration.New(repos, bus, hub, executors, cfg.Engine, cfg.HubSoft.Enabled)

	verifications := verification.NewService(repos, engine, bus, tg, cfg.Telegram.GroupID)
	invites := invite.NewService(repos, tg, bus, cfg.Telegram.GroupID, cfg.Invites)
	admins := admin.NewService(repos, engine, bus, tg, cfg.Telegram.GroupID, cfg.Admins.BootstrapIDs)

	failed := false

	if n, err := verifications.ProcessExpiredVerifications(ctx); err != nil {
		slog.Error("Verification expiry sweep failed", "error", err)
		failed = true
	} else {
		slog.Info("Verification expiry sweep done", "expired", n)
	}

	if err := invites.Sweep(ctx); err != nil {
		slog.Error("Invite sweep failed", "error", err)
		failed = true
	}

	if err := removeRulesOverdue(ctx, repos, tg, cfg.Telegram.GroupID); err != nil {
		slog.Error("Rules deadline sweep failed", "error", err)
		failed = true
	}

	if n, err := admins.RefreshAdminCache(ctx); err != nil {
		slog.Error("Admin cache refresh failed", "error", err)
		failed = true
	} else {
		slog.Info("Admin cache refreshed", "admins", n)
	}

	if err := recheckContracts(ctx, repos, engine); err != nil {
		slog.Error("Contract re-check failed", "error", err)
		failed = true
	}

	if failed {
		os.Exit(1)
	}
	slog.Info("Checkup complete")
}

// removeRulesOverdue removes members whose rules-acceptance deadline
// passed. Removal is a ban immediately lifted, so the user can be
// re-invited after verifying again.
func removeRulesOverdue(ctx context.Context, repos *repository.Repositories, tg *telegram.Client, groupID int64) error {
	overdue, err := repos.Rules.FindOverdue(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, state := range overdue {
		if err := tg.BanChatMember(ctx, groupID, int64(state.UserID)); err != nil {
			slog.Error("Failed to remove overdue member", "user_id", state.UserID, "error", err)
			continue
		}
		if err := tg.UnbanChatMember(ctx, groupID, int64(state.UserID)); err != nil {
			slog.Error("Failed to lift removal ban", "user_id", state.UserID, "error", err)
		}
		if err := repos.Rules.Remove(ctx, state.UserID); err != nil {
			slog.Error("Failed to drop rules state", "user_id", state.UserID, "error", err)
		}
		slog.Info("Member removed for not accepting rules", "user_id", state.UserID)
	}
	if len(overdue) > 0 {
		slog.Info("Rules deadline sweep done", "removed", len(overdue))
	}
	return nil
}

// recheckContracts re-verifies stored subscribers upstream at LOW
// priority and deactivates those whose contract no longer exists.
func recheckContracts(ctx context.Context, repos *repository.Repositories, engine *integration.Engine) error {
	users, err := repos.Users.ListActive(ctx)
	if err != nil {
		return err
	}

	checked, deactivated := 0, 0
	for _, user := range users {
		if checked >= recheckBatch {
			break
		}
		if user.CPF == "" {
			continue
		}
		checked++

		_, execErr := engine.ExecuteSync(ctx,
			domain.IntegrationUserVerification, domain.PriorityLow,
			domain.UserVerificationPayload{CPF: string(user.CPF)},
			map[string]string{"origin": "daily_checkup"})
		switch {
		case errors.Is(execErr, integration.ErrQueued):
			// Upstream disabled or paused; nothing to conclude today.
			return nil
		case errors.Is(execErr, hubsoft.ErrNotFound):
			user.Deactivate()
			if err := repos.Users.Save(ctx, user); err != nil {
				slog.Error("Failed to deactivate user", "user_id", user.ID, "error", err)
				continue
			}
			deactivated++
			slog.Info("User deactivated, contract gone upstream", "user_id", user.ID)
		case execErr != nil:
			slog.Warn("Contract re-check inconclusive", "user_id", user.ID, "error", execErr)
		}
	}

	slog.Info("Contract re-check done", "checked", checked, "deactivated", deactivated)
	return nil
}
