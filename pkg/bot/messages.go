package bot

import (
	"fmt"
	"strings"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/support"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/telegram"
)

// All user-facing text is Portuguese. Messages name the next action and
// never carry unmasked CPFs, tokens or internal errors.

const (
	msgWelcomePrivate = "Bem-vindo ao suporte OnCabito Gaming! 🎮\n\n" +
		"Para entrar no grupo, preciso confirmar que você é assinante. " +
		"Envie o seu CPF (apenas números)."

	msgAskCPFAgain = "CPF inválido. Confira os dígitos e envie novamente (apenas números). " +
		"Tentativas restantes: %d."

	msgCPFNotFound = "Não encontrei um assinante ativo com esse CPF. " +
		"Confira os dígitos e tente novamente. Tentativas restantes: %d."

	msgAttemptsExhausted = "Número máximo de tentativas atingido. " +
		"Se você é assinante, fale com o suporte pelo telefone ou inicie uma nova verificação mais tarde com /start."

	msgProcessing = "Estamos verificando seu CPF junto ao sistema. " +
		"Pode levar alguns minutos; eu te aviso assim que concluir."

	msgNoPending = "Nenhuma verificação em andamento. Envie /start para começar."

	msgVerifiedInvite = "Verificação concluída, %s! ✅\nPlano: %s\n\n" +
		"Aqui está seu convite de uso único (válido por 1 hora):\n%s"

	msgInviteFailed = "Verificação concluída, mas não consegui gerar o convite agora. " +
		"Tente novamente em instantes com /start."

	msgConflict = "O CPF %s já está vinculado a outra conta neste grupo.\n\n" +
		"Se essa conta antiga é sua, posso transferir o acesso para esta. " +
		"A conta antiga será removida do grupo."

	msgConflictResolved = "Acesso transferido para esta conta. ✅"

	msgConflictRetry = "Não consegui remover a conta antiga do grupo agora. " +
		"Tente novamente em instantes."

	msgConflictCancelled = "Verificação cancelada. Envie /start para recomeçar."

	msgNotVerified = "Antes de abrir um chamado, preciso confirmar seu cadastro. " +
		"Envie /start para verificar seu CPF."

	msgIntakeCategory = "Vamos abrir seu chamado. Qual o tipo do problema?"

	msgIntakeGame = "Qual jogo está afetado?"

	msgIntakeGameOther = "Digite o nome do jogo afetado:"

	msgIntakeTiming = "Quando o problema começou?"

	msgIntakeDescription = "Descreva o problema (entre 10 e 500 caracteres). " +
		"Quanto mais detalhes, mais rápido o atendimento."

	msgDescriptionTooShort = "Descrição muito curta. Escreva pelo menos 10 caracteres."

	msgIntakeAttachments = "Se quiser, envie até 3 fotos ou arquivos (print de teste de velocidade ajuda muito). " +
		"Quando terminar, toque em Concluir."

	msgAttachmentLimit = "Limite de 3 anexos atingido. Toque em Concluir para continuar."

	msgTicketCreated = "Chamado aberto! ✅\n\nProtocolo: %s\n\n" +
		"Acompanhe com /status. Nossa equipe já foi notificada."

	msgTicketCreatedDeferred = "Chamado aberto! ✅\n\nProtocolo: %s\n\n" +
		"O sistema da operadora está instável; seu chamado será sincronizado automaticamente."

	msgActiveTicketBlock = "Você já tem um chamado em aberto:\n\n" +
		"Protocolo: %s\nCategoria: %s\nSituação: %s\n\n" +
		"Aguarde a conclusão para abrir outro."

	msgNoActiveTicket = "Você não tem chamados em aberto. Abra um com /suporte."

	msgCancelled = "Operação cancelada. Quando precisar, envie /suporte."

	msgRulesAccepted = "Regras aceitas. Bom jogo! 🎮"

	msgUnknown = "Não entendi. Comandos disponíveis:\n" +
		"/start — verificar cadastro\n/suporte — abrir chamado\n" +
		"/status — chamado atual\n/chamados — seus chamados\n/cancelar — cancelar operação"
)

func welcomeGroupMessage(name string) string {
	return fmt.Sprintf("Bem-vindo ao OnCabito Gaming, %s! 🎮\n\n"+
		"Leia as regras da comunidade e confirme abaixo em até 24 horas para manter seu acesso.", name)
}

func rulesKeyboard() *telegram.InlineKeyboard {
	return &telegram.InlineKeyboard{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		telegram.Row(telegram.Button("✅ Aceitar as regras", "rules:accept")),
	}}
}

func conflictKeyboard() *telegram.InlineKeyboard {
	return &telegram.InlineKeyboard{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		telegram.Row(telegram.Button("✅ Transferir para esta conta", "conflict:keep")),
		telegram.Row(telegram.Button("❌ Cancelar", "conflict:cancel")),
	}}
}

func categoryKeyboard() *telegram.InlineKeyboard {
	return &telegram.InlineKeyboard{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		telegram.Row(telegram.Button("🌐 Conectividade", "cat:connectivity")),
		telegram.Row(telegram.Button("🚀 Desempenho", "cat:performance")),
		telegram.Row(telegram.Button("🎮 Problemas em Jogos", "cat:game_issues")),
		telegram.Row(telegram.Button("⚙️ Configuração", "cat:configuration")),
		telegram.Row(telegram.Button("📡 Equipamento", "cat:equipment")),
		telegram.Row(telegram.Button("❓ Outros", "cat:others")),
	}}
}

func gameKeyboard() *telegram.InlineKeyboard {
	return &telegram.InlineKeyboard{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		telegram.Row(telegram.Button("Valorant", "game:valorant"), telegram.Button("CS2", "game:cs2")),
		telegram.Row(telegram.Button("LoL", "game:lol"), telegram.Button("Overwatch", "game:overwatch")),
		telegram.Row(telegram.Button("Dota 2", "game:dota2"), telegram.Button("Apex", "game:apex")),
		telegram.Row(telegram.Button("Outro jogo", "game:other"), telegram.Button("Nenhum jogo", "game:none")),
	}}
}

func timingKeyboard() *telegram.InlineKeyboard {
	return &telegram.InlineKeyboard{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		telegram.Row(telegram.Button("Agora", "timing:now"), telegram.Button("Ontem", "timing:yesterday")),
		telegram.Row(telegram.Button("Esta semana", "timing:this_week"), telegram.Button("Semana passada", "timing:last_week")),
		telegram.Row(telegram.Button("Faz tempo", "timing:long_time"), telegram.Button("Sempre", "timing:always")),
	}}
}

func attachmentsKeyboard() *telegram.InlineKeyboard {
	return &telegram.InlineKeyboard{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		telegram.Row(telegram.Button("✅ Concluir", "att:done")),
	}}
}

func confirmationKeyboard() *telegram.InlineKeyboard {
	return &telegram.InlineKeyboard{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		telegram.Row(telegram.Button("✅ Confirmar", "confirm")),
		telegram.Row(telegram.Button("✏️ Editar descrição", "edit:description")),
		telegram.Row(telegram.Button("❌ Cancelar", "cancel")),
	}}
}

// confirmationSummary renders the draft for final review.
func confirmationSummary(c *conversation) string {
	game := c.Game
	if game == "" {
		game = "Nenhum"
	}
	return fmt.Sprintf("Confira seu chamado:\n\n"+
		"Categoria: %s\nJogo: %s\nInício: %s\nAnexos: %d\n\nDescrição:\n%s",
		c.Category.DisplayPT(), game, c.Timing.DisplayPT(), len(c.Attachments), c.Description)
}

// ticketListMessage renders the user's ticket history.
func ticketListMessage(views []support.TicketView) string {
	if len(views) == 0 {
		return "Você ainda não abriu nenhum chamado. Abra um com /suporte."
	}
	var b strings.Builder
	b.WriteString("Seus chamados:\n")
	for _, v := range views {
		protocol := v.LocalProtocol
		if v.HubSoftProtocol != "" {
			protocol = v.HubSoftProtocol
		}
		fmt.Fprintf(&b, "\n%s — %s — %s (%d dia(s))",
			protocol, v.CategoryPT, v.StatusPT, v.DaysOpen)
	}
	return b.String()
}

// truncateDescription clamps over-long input, keeping an ellipsis.
func truncateDescription(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= domain.DescriptionMaxLen {
		return string(runes)
	}
	return string(runes[:domain.DescriptionMaxLen-1]) + "…"
}
