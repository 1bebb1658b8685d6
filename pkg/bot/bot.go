// Package bot is the chat presentation adapter: it long-polls the Bot
// API, keeps per-user conversation state, and translates chat events
// into verification, support, invite and admin commands. No domain
// logic lives here.
package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/admin"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/config"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/invite"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/support"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/telegram"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/verification"
)

// rulesDeadline is how long a new member has to accept the rules.
const rulesDeadline = 24 * time.Hour

// pollTimeout is the server-side long-poll hold in seconds.
const pollTimeout = 30

// ChatClient is the slice of the Bot API client the adapter uses.
type ChatClient interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMessageWith(ctx context.Context, chatID int64, text string, opts telegram.SendMessageOptions) (int, error)
	AnswerCallbackQuery(ctx context.Context, queryID, text string) error
}

// Bot dispatches chat updates to the use cases.
type Bot struct {
	client        ChatClient
	verifications *verification.Service
	support       *support.Service
	invites       *invite.Service
	admins        *admin.Service
	repos         *repository.Repositories
	cfg           config.TelegramConfig
	states        *stateStore
	logger        *slog.Logger
}

// New builds the adapter.
func New(client ChatClient, verifications *verification.Service, supportSvc *support.Service, invites *invite.Service, admins *admin.Service, repos *repository.Repositories, cfg config.TelegramConfig) *Bot {
	return &Bot{
		client:        client,
		verifications: verifications,
		support:       supportSvc,
		invites:       invites,
		admins:        admins,
		repos:         repos,
		cfg:           cfg,
		states:        newStateStore(),
		logger:        slog.Default().With("component", "bot"),
	}
}

// Run long-polls for updates until ctx is cancelled. Each update is
// handled on its own goroutine, serialized per user so that a
// double-tapped button never advances the same conversation twice.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("Bot dispatcher started", "group_id", b.cfg.GroupID)

	var offset int64
	for {
		if ctx.Err() != nil {
			b.logger.Info("Bot dispatcher stopped")
			return
		}

		updates, err := b.client.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := 5 * time.Second
			if retry, ok := telegram.IsRetryAfter(err); ok {
				wait = retry
			}
			b.logger.Error("Polling failed", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			update := u
			go b.dispatch(ctx, update)
		}
		b.states.prune()
	}
}

// dispatch routes one update, holding the acting user's lock for the
// duration of the handler. Panics in handlers are contained so a
// malformed update cannot kill the poll loop.
func (b *Bot) dispatch(ctx context.Context, u telegram.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Handler panic recovered", "update_id", u.UpdateID, "panic", r)
		}
	}()

	if userID, ok := updateUserID(u); ok {
		l := b.states.lockUser(userID)
		l.Lock()
		defer l.Unlock()
	}

	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

// send is a fire-and-forget message with error logging.
func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	if err := b.client.SendMessage(ctx, chatID, text); err != nil {
		b.logger.Error("Failed to send message", "chat_id", chatID, "error", err)
	}
}

// sendWith sends a message with a keyboard, logging failures.
func (b *Bot) sendWith(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboard) {
	_, err := b.client.SendMessageWith(ctx, chatID, text, telegram.SendMessageOptions{Keyboard: keyboard})
	if err != nil {
		b.logger.Error("Failed to send message", "chat_id", chatID, "error", err)
	}
}

// userID extracts the acting user from a message.
func messageUserID(m *telegram.Message) (domain.ChatUserID, bool) {
	if m.From == nil {
		return 0, false
	}
	return domain.ChatUserID(m.From.ID), true
}

// updateUserID extracts the acting user from an update.
func updateUserID(u telegram.Update) (domain.ChatUserID, bool) {
	switch {
	case u.CallbackQuery != nil:
		return domain.ChatUserID(u.CallbackQuery.From.ID), true
	case u.Message != nil:
		return messageUserID(u.Message)
	}
	return 0, false
}
