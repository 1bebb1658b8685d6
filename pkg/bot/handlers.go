package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/support"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/telegram"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/verification"
)

func (b *Bot) handleMessage(ctx context.Context, m *telegram.Message) {
	if m.Chat.ID == b.cfg.GroupID {
		b.handleGroupMessage(ctx, m)
		return
	}
	if m.Chat.Type != "private" {
		return
	}

	userID, ok := messageUserID(m)
	if !ok {
		return
	}

	text := strings.TrimSpace(m.Text)
	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, m, userID, text)
		return
	}
	b.handleConversationInput(ctx, m, userID)
}

// handleGroupMessage covers membership events; group chatter is not the
// bot's business.
func (b *Bot) handleGroupMessage(ctx context.Context, m *telegram.Message) {
	for _, member := range m.NewChatMembers {
		if member.IsBot {
			continue
		}
		b.handleJoin(ctx, member)
	}
	if m.LeftChatMember != nil && !m.LeftChatMember.IsBot {
		userID := domain.ChatUserID(m.LeftChatMember.ID)
		if err := b.repos.Rules.Remove(ctx, userID); err != nil {
			b.logger.Error("Failed to drop rules state", "user_id", userID, "error", err)
		}
	}
}

// handleJoin consumes the joiner's invite, starts the rules clock and
// posts the welcome.
func (b *Bot) handleJoin(ctx context.Context, member telegram.User) {
	userID := domain.ChatUserID(member.ID)
	now := time.Now()

	if err := b.invites.ConsumeForUser(ctx, userID); err != nil {
		b.logger.Error("Failed to consume invite", "user_id", userID, "error", err)
	}
	if err := b.repos.Rules.TrackJoin(ctx, userID, now, now.Add(rulesDeadline)); err != nil {
		b.logger.Error("Failed to track join", "user_id", userID, "error", err)
	}

	_, err := b.client.SendMessageWith(ctx, b.cfg.GroupID,
		welcomeGroupMessage(member.Mention()),
		telegram.SendMessageOptions{ThreadID: b.cfg.WelcomeTopicID, Keyboard: rulesKeyboard()})
	if err != nil {
		b.logger.Error("Failed to send welcome", "user_id", userID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, m *telegram.Message, userID domain.ChatUserID, text string) {
	command := text
	if i := strings.IndexAny(command, " @"); i > 0 {
		command = command[:i]
	}

	switch command {
	case "/start":
		b.startVerificationFlow(ctx, m, userID)
	case "/suporte":
		b.beginIntake(ctx, m.Chat.ID, userID)
	case "/status":
		b.showActiveTicket(ctx, m.Chat.ID, userID)
	case "/chamados":
		b.listTickets(ctx, m.Chat.ID, userID)
	case "/cancelar":
		b.states.reset(userID)
		b.send(ctx, m.Chat.ID, msgCancelled)
	case "/stats":
		b.showStats(ctx, m.Chat.ID, userID)
	default:
		b.send(ctx, m.Chat.ID, msgUnknown)
	}
}

// startVerificationFlow opens a verification request and asks for the
// CPF.
func (b *Bot) startVerificationFlow(ctx context.Context, m *telegram.Message, userID domain.ChatUserID) {
	_, err := b.verifications.StartVerification(ctx, userID,
		m.From.Username, m.From.Mention(), domain.VerificationInitialRegistration, "start_command")
	if err != nil {
		b.logger.Error("Failed to start verification", "user_id", userID, "error", err)
		b.send(ctx, m.Chat.ID, msgInviteFailed)
		return
	}

	conv := b.states.get(userID)
	conv.Step = stepAwaitingCPF
	b.states.put(userID, conv)
	b.send(ctx, m.Chat.ID, msgWelcomePrivate)
}

func (b *Bot) handleConversationInput(ctx context.Context, m *telegram.Message, userID domain.ChatUserID) {
	conv := b.states.get(userID)
	switch conv.Step {
	case stepAwaitingCPF:
		b.handleCPFSubmission(ctx, m.Chat.ID, userID, m.Text)
	case stepGameOther:
		conv.Game = strings.TrimSpace(m.Text)
		conv.Step = stepTiming
		b.states.put(userID, conv)
		b.sendWith(ctx, m.Chat.ID, msgIntakeTiming, timingKeyboard())
	case stepDescription:
		b.handleDescription(ctx, m.Chat.ID, userID, conv, m.Text)
	case stepAttachments:
		b.handleAttachmentMessage(ctx, m, userID, conv)
	default:
		b.send(ctx, m.Chat.ID, msgUnknown)
	}
}

func (b *Bot) handleCPFSubmission(ctx context.Context, chatID int64, userID domain.ChatUserID, raw string) {
	result, err := b.verifications.SubmitCPF(ctx, userID, strings.TrimSpace(raw))
	if errors.Is(err, verification.ErrNoPendingVerification) {
		b.states.reset(userID)
		b.send(ctx, chatID, msgNoPending)
		return
	}
	if err != nil {
		b.logger.Error("CPF submission failed", "user_id", userID, "error", err)
		b.send(ctx, chatID, msgProcessing)
		return
	}

	switch result.Outcome {
	case verification.OutcomeCompleted:
		b.states.reset(userID)
		b.deliverInvite(ctx, chatID, userID, result)
	case verification.OutcomeInvalidFormat:
		b.send(ctx, chatID, fmt.Sprintf(msgAskCPFAgain, result.AttemptsLeft))
	case verification.OutcomeNotFound:
		b.send(ctx, chatID, fmt.Sprintf(msgCPFNotFound, result.AttemptsLeft))
	case verification.OutcomeAttemptsExhausted:
		b.states.reset(userID)
		b.send(ctx, chatID, msgAttemptsExhausted)
	case verification.OutcomeProcessing:
		b.send(ctx, chatID, msgProcessing)
	case verification.OutcomeConflictDetected:
		conv := b.states.get(userID)
		conv.Step = stepConflict
		conv.VerificationID = result.Verification.ID
		conv.CPF = result.CPF
		conv.ExistingUserID = result.ExistingUserID
		b.states.put(userID, conv)
		b.sendWith(ctx, chatID,
			fmt.Sprintf(msgConflict, result.CPF.Masked()), conflictKeyboard())
	}
}

// deliverInvite issues the single-use group invite after a completed
// verification.
func (b *Bot) deliverInvite(ctx context.Context, chatID int64, userID domain.ChatUserID, result *verification.SubmitResult) {
	user, err := b.repos.Users.GetByID(ctx, userID)
	if err != nil {
		b.logger.Error("Verified user not loadable", "user_id", userID, "error", err)
		b.send(ctx, chatID, msgInviteFailed)
		return
	}
	inv, err := b.invites.Issue(ctx, user)
	if err != nil {
		b.logger.Error("Invite issue failed", "user_id", userID, "error", err)
		b.send(ctx, chatID, msgInviteFailed)
		return
	}

	name := user.ClientName
	if name == "" && result.Client != nil {
		name = result.Client.Name
	}
	b.send(ctx, chatID, fmt.Sprintf(msgVerifiedInvite, name, user.ServiceName, inv.InviteURL))
}

// beginIntake opens the guided form, enforcing the verified-user gate
// and the one-active-ticket rule up front.
func (b *Bot) beginIntake(ctx context.Context, chatID int64, userID domain.ChatUserID) {
	active, err := b.support.GetActiveTicket(ctx, userID)
	switch {
	case errors.Is(err, support.ErrNotVerified):
		b.send(ctx, chatID, msgNotVerified)
		return
	case err == nil:
		b.send(ctx, chatID, fmt.Sprintf(msgActiveTicketBlock,
			active.LocalProtocol, active.CategoryPT, active.StatusPT))
		return
	case !errors.Is(err, domain.ErrNotFound):
		b.logger.Error("Failed to check active ticket", "user_id", userID, "error", err)
		return
	}

	conv := &conversation{Step: stepCategory}
	b.states.put(userID, conv)
	b.sendWith(ctx, chatID, msgIntakeCategory, categoryKeyboard())
}

func (b *Bot) handleDescription(ctx context.Context, chatID int64, userID domain.ChatUserID, conv *conversation, text string) {
	text = truncateDescription(text)
	if len([]rune(text)) < domain.DescriptionMinLen {
		b.send(ctx, chatID, msgDescriptionTooShort)
		return
	}
	conv.Description = text
	conv.Step = stepAttachments
	b.states.put(userID, conv)
	b.sendWith(ctx, chatID, msgIntakeAttachments, attachmentsKeyboard())
}

// handleAttachmentMessage collects photos and documents during the
// attachments step.
func (b *Bot) handleAttachmentMessage(ctx context.Context, m *telegram.Message, userID domain.ChatUserID, conv *conversation) {
	if len(conv.Attachments) >= domain.MaxAttachments {
		b.send(ctx, m.Chat.ID, msgAttachmentLimit)
		return
	}

	var att *domain.Attachment
	if len(m.Photo) > 0 {
		// The last photo size is the largest rendition.
		att = &domain.Attachment{FileID: m.Photo[len(m.Photo)-1].FileID, FileName: "foto.jpg"}
	} else if m.Document != nil {
		att = &domain.Attachment{FileID: m.Document.FileID, FileName: m.Document.FileName}
	}
	if att == nil {
		b.send(ctx, m.Chat.ID, msgIntakeAttachments)
		return
	}

	conv.Attachments = append(conv.Attachments, *att)
	b.states.put(userID, conv)
	if len(conv.Attachments) == domain.MaxAttachments {
		b.sendWith(ctx, m.Chat.ID, msgAttachmentLimit, attachmentsKeyboard())
		return
	}
	b.sendWith(ctx, m.Chat.ID,
		fmt.Sprintf("Anexo %d de %d recebido.", len(conv.Attachments), domain.MaxAttachments),
		attachmentsKeyboard())
}

func (b *Bot) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	userID := domain.ChatUserID(cb.From.ID)
	chatID := cb.From.ID
	if cb.Message != nil {
		chatID = cb.Message.Chat.ID
	}

	ack := ""
	data := cb.Data
	switch {
	case data == "rules:accept":
		if err := b.repos.Rules.Accept(ctx, userID, time.Now()); err != nil && !errors.Is(err, domain.ErrNotFound) {
			b.logger.Error("Failed to record rules acceptance", "user_id", userID, "error", err)
		}
		ack = msgRulesAccepted
	case data == "conflict:keep":
		b.resolveConflict(ctx, chatID, userID)
	case data == "conflict:cancel":
		b.states.reset(userID)
		b.send(ctx, chatID, msgConflictCancelled)
	case strings.HasPrefix(data, "cat:"):
		b.selectCategory(ctx, chatID, userID, strings.TrimPrefix(data, "cat:"))
	case strings.HasPrefix(data, "game:"):
		b.selectGame(ctx, chatID, userID, strings.TrimPrefix(data, "game:"))
	case strings.HasPrefix(data, "timing:"):
		b.selectTiming(ctx, chatID, userID, strings.TrimPrefix(data, "timing:"))
	case data == "att:done":
		b.showConfirmation(ctx, chatID, userID)
	case data == "confirm":
		b.submitTicket(ctx, chatID, userID)
	case data == "edit:description":
		conv := b.states.get(userID)
		conv.Step = stepDescription
		b.states.put(userID, conv)
		b.send(ctx, chatID, msgIntakeDescription)
	case data == "cancel":
		b.states.reset(userID)
		b.send(ctx, chatID, msgCancelled)
	}

	if err := b.client.AnswerCallbackQuery(ctx, cb.ID, ack); err != nil {
		b.logger.Error("Failed to answer callback", "error", err)
	}
}

// resolveConflict transfers the CPF binding to the acting account and
// issues the invite.
func (b *Bot) resolveConflict(ctx context.Context, chatID int64, userID domain.ChatUserID) {
	conv := b.states.get(userID)
	if conv.Step != stepConflict {
		b.send(ctx, chatID, msgNoPending)
		return
	}

	err := b.verifications.ResolveDuplicateConflict(ctx,
		conv.VerificationID, conv.CPF, userID, []domain.ChatUserID{conv.ExistingUserID})
	switch {
	case errors.Is(err, verification.ErrMembershipRevokeFailed):
		b.send(ctx, chatID, msgConflictRetry)
		return
	case err != nil:
		b.logger.Error("Conflict resolution failed", "user_id", userID, "error", err)
		b.send(ctx, chatID, msgConflictRetry)
		return
	}

	b.states.reset(userID)
	b.send(ctx, chatID, msgConflictResolved)

	user, err := b.repos.Users.GetByID(ctx, userID)
	if err != nil {
		b.logger.Error("Remapped user not loadable", "user_id", userID, "error", err)
		return
	}
	inv, err := b.invites.Issue(ctx, user)
	if err != nil {
		b.logger.Error("Invite issue failed after remap", "user_id", userID, "error", err)
		b.send(ctx, chatID, msgInviteFailed)
		return
	}
	b.send(ctx, chatID, fmt.Sprintf(msgVerifiedInvite, user.ClientName, user.ServiceName, inv.InviteURL))
}

func (b *Bot) selectCategory(ctx context.Context, chatID int64, userID domain.ChatUserID, raw string) {
	conv := b.states.get(userID)
	if conv.Step != stepCategory {
		return
	}
	category, err := domain.ParseTicketCategory(raw)
	if err != nil {
		b.logger.Warn("Unknown category callback", "value", raw)
		return
	}
	conv.Category = category
	conv.Step = stepGame
	b.states.put(userID, conv)
	b.sendWith(ctx, chatID, msgIntakeGame, gameKeyboard())
}

func (b *Bot) selectGame(ctx context.Context, chatID int64, userID domain.ChatUserID, raw string) {
	conv := b.states.get(userID)
	if conv.Step != stepGame {
		return
	}
	switch raw {
	case "other":
		conv.Step = stepGameOther
		b.states.put(userID, conv)
		b.send(ctx, chatID, msgIntakeGameOther)
		return
	case "none":
		conv.Game = ""
	default:
		conv.Game = raw
	}
	conv.Step = stepTiming
	b.states.put(userID, conv)
	b.sendWith(ctx, chatID, msgIntakeTiming, timingKeyboard())
}

func (b *Bot) selectTiming(ctx context.Context, chatID int64, userID domain.ChatUserID, raw string) {
	conv := b.states.get(userID)
	if conv.Step != stepTiming {
		return
	}
	timing, err := domain.ParseProblemTiming(raw)
	if err != nil {
		b.logger.Warn("Unknown timing callback", "value", raw)
		return
	}
	conv.Timing = timing
	conv.Step = stepDescription
	b.states.put(userID, conv)
	b.send(ctx, chatID, msgIntakeDescription)
}

func (b *Bot) showConfirmation(ctx context.Context, chatID int64, userID domain.ChatUserID) {
	conv := b.states.get(userID)
	if conv.Step != stepAttachments {
		return
	}
	conv.Step = stepConfirmation
	b.states.put(userID, conv)
	b.sendWith(ctx, chatID, confirmationSummary(conv), confirmationKeyboard())
}

// submitTicket hands the completed form to the support use case.
func (b *Bot) submitTicket(ctx context.Context, chatID int64, userID domain.ChatUserID) {
	conv := b.states.get(userID)
	if conv.Step != stepConfirmation {
		return
	}

	result, err := b.support.CreateTicket(ctx, support.CreateTicketCommand{
		UserID:      userID,
		Category:    conv.Category,
		Game:        conv.Game,
		Timing:      conv.Timing,
		Description: conv.Description,
		Attachments: conv.Attachments,
	})
	if errors.Is(err, support.ErrNotVerified) {
		b.states.reset(userID)
		b.send(ctx, chatID, msgNotVerified)
		return
	}
	if err != nil {
		b.logger.Error("Ticket creation failed", "user_id", userID, "error", err)
		b.send(ctx, chatID, "Não consegui registrar seu chamado agora. Tente novamente com /suporte.")
		return
	}

	b.states.reset(userID)
	if result.Refused {
		b.send(ctx, chatID, fmt.Sprintf(msgActiveTicketBlock,
			result.ActiveTicket.LocalProtocol, result.ActiveTicket.CategoryPT, result.ActiveTicket.StatusPT))
		return
	}
	if result.SyncDeferred {
		b.send(ctx, chatID, fmt.Sprintf(msgTicketCreatedDeferred, result.Ticket.LocalProtocol))
		return
	}
	b.send(ctx, chatID, fmt.Sprintf(msgTicketCreated, result.Ticket.LocalProtocol))
}

func (b *Bot) showActiveTicket(ctx context.Context, chatID int64, userID domain.ChatUserID) {
	view, err := b.support.GetActiveTicket(ctx, userID)
	switch {
	case errors.Is(err, support.ErrNotVerified):
		b.send(ctx, chatID, msgNotVerified)
	case errors.Is(err, domain.ErrNotFound):
		b.send(ctx, chatID, msgNoActiveTicket)
	case err != nil:
		b.logger.Error("Failed to load active ticket", "user_id", userID, "error", err)
	default:
		protocol := view.LocalProtocol
		if view.HubSoftProtocol != "" {
			protocol = view.HubSoftProtocol
		}
		b.send(ctx, chatID, fmt.Sprintf(
			"Seu chamado:\n\nProtocolo: %s\nCategoria: %s\nSituação: %s\nAberto há %d dia(s).",
			protocol, view.CategoryPT, view.StatusPT, view.DaysOpen))
	}
}

func (b *Bot) listTickets(ctx context.Context, chatID int64, userID domain.ChatUserID) {
	views, err := b.support.ListTickets(ctx, userID, 10)
	switch {
	case errors.Is(err, support.ErrNotVerified):
		b.send(ctx, chatID, msgNotVerified)
	case err != nil:
		b.logger.Error("Failed to list tickets", "user_id", userID, "error", err)
	default:
		b.send(ctx, chatID, ticketListMessage(views))
	}
}

// showStats renders the operator dashboard for admins.
func (b *Bot) showStats(ctx context.Context, chatID int64, userID domain.ChatUserID) {
	stats, err := b.admins.GetSystemStats(ctx, userID, time.Now().Add(-24*time.Hour))
	if errors.Is(err, domain.ErrForbidden) {
		b.send(ctx, chatID, msgUnknown)
		return
	}
	if err != nil {
		b.logger.Error("Failed to load stats", "user_id", userID, "error", err)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 OnCabito Gaming\n\nAssinantes ativos: %d\n", stats.ActiveUsers)
	fmt.Fprintf(&sb, "Verificações (24h): %d\n", stats.VerificationsCompleted)
	fmt.Fprintf(&sb, "Administradores: %d\n\nChamados:\n", stats.CachedAdmins)
	for _, status := range []domain.TicketStatus{
		domain.TicketStatusPending, domain.TicketStatusOpen, domain.TicketStatusInProgress,
		domain.TicketStatusResolved, domain.TicketStatusClosed, domain.TicketStatusCancelled,
	} {
		if n := stats.TicketsByStatus[status]; n > 0 {
			fmt.Fprintf(&sb, "  %s: %d\n", status.DisplayPT(), n)
		}
	}
	fmt.Fprintf(&sb, "\nIntegração HubSoft: ")
	if stats.Engine.UpstreamHealthy {
		sb.WriteString("operacional ✅")
	} else {
		sb.WriteString("instável ⚠️")
	}
	b.send(ctx, chatID, sb.String())
}
