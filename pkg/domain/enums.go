package domain

// TicketCategory classifies the reported problem.
type TicketCategory string

// Ticket categories.
const (
	CategoryConnectivity  TicketCategory = "connectivity"
	CategoryPerformance   TicketCategory = "performance"
	CategoryGameIssues    TicketCategory = "game_issues"
	CategoryConfiguration TicketCategory = "configuration"
	CategoryEquipment     TicketCategory = "equipment"
	CategoryOthers        TicketCategory = "others"
)

// ParseTicketCategory validates a raw category value.
func ParseTicketCategory(s string) (TicketCategory, error) {
	switch TicketCategory(s) {
	case CategoryConnectivity, CategoryPerformance, CategoryGameIssues,
		CategoryConfiguration, CategoryEquipment, CategoryOthers:
		return TicketCategory(s), nil
	}
	return "", NewInvalidValue("category", "unknown value "+s)
}

// DisplayPT returns the Portuguese label shown to users.
func (c TicketCategory) DisplayPT() string {
	switch c {
	case CategoryConnectivity:
		return "Conectividade"
	case CategoryPerformance:
		return "Desempenho"
	case CategoryGameIssues:
		return "Problemas em Jogos"
	case CategoryConfiguration:
		return "Configuração"
	case CategoryEquipment:
		return "Equipamento"
	default:
		return "Outros"
	}
}

// ProblemTiming says when the problem started.
type ProblemTiming string

// Problem timings.
const (
	TimingNow      ProblemTiming = "now"
	TimingYesterday ProblemTiming = "yesterday"
	TimingThisWeek ProblemTiming = "this_week"
	TimingLastWeek ProblemTiming = "last_week"
	TimingLongTime ProblemTiming = "long_time"
	TimingAlways   ProblemTiming = "always"
)

// ParseProblemTiming validates a raw timing value.
func ParseProblemTiming(s string) (ProblemTiming, error) {
	switch ProblemTiming(s) {
	case TimingNow, TimingYesterday, TimingThisWeek, TimingLastWeek,
		TimingLongTime, TimingAlways:
		return ProblemTiming(s), nil
	}
	return "", NewInvalidValue("timing", "unknown value "+s)
}

// DisplayPT returns the Portuguese label shown to users.
func (t ProblemTiming) DisplayPT() string {
	switch t {
	case TimingNow:
		return "Agora"
	case TimingYesterday:
		return "Ontem"
	case TimingThisWeek:
		return "Esta semana"
	case TimingLastWeek:
		return "Semana passada"
	case TimingLongTime:
		return "Faz tempo"
	default:
		return "Sempre"
	}
}

// Urgency is the ticket priority shown to technicians. Derived from
// category and game; admins may override it.
type Urgency string

// Urgency levels.
const (
	UrgencyNormal Urgency = "normal"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// competitiveGames are titles where connectivity or performance issues
// escalate urgency.
var competitiveGames = map[string]bool{
	"valorant":  true,
	"cs2":       true,
	"lol":       true,
	"overwatch": true,
	"dota2":     true,
	"apex":      true,
}

// IsCompetitiveGame reports whether the game belongs to the competitive
// set used for urgency derivation.
func IsCompetitiveGame(game string) bool {
	return competitiveGames[game]
}

// DeriveUrgency computes the initial urgency from category and game.
func DeriveUrgency(category TicketCategory, game string) Urgency {
	switch {
	case category == CategoryConnectivity && IsCompetitiveGame(game):
		return UrgencyHigh
	case category == CategoryPerformance && IsCompetitiveGame(game):
		return UrgencyMedium
	case category == CategoryEquipment:
		return UrgencyMedium
	default:
		return UrgencyNormal
	}
}

// TicketStatus is the ticket lifecycle state.
type TicketStatus string

// Ticket statuses.
const (
	TicketStatusPending    TicketStatus = "PENDING"
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
	TicketStatusCancelled  TicketStatus = "CANCELLED"
)

// ParseTicketStatus validates a raw status value.
func ParseTicketStatus(s string) (TicketStatus, error) {
	switch TicketStatus(s) {
	case TicketStatusPending, TicketStatusOpen, TicketStatusInProgress,
		TicketStatusResolved, TicketStatusClosed, TicketStatusCancelled:
		return TicketStatus(s), nil
	}
	return "", NewInvalidValue("status", "unknown value "+s)
}

// ticketTransitions is the allowed-transition table. CLOSED and
// CANCELLED are terminal.
var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusPending:    {TicketStatusOpen, TicketStatusCancelled},
	TicketStatusOpen:       {TicketStatusInProgress, TicketStatusResolved, TicketStatusCancelled},
	TicketStatusInProgress: {TicketStatusResolved, TicketStatusOpen, TicketStatusCancelled},
	TicketStatusResolved:   {TicketStatusClosed, TicketStatusOpen},
	TicketStatusClosed:     {},
	TicketStatusCancelled:  {},
}

// CanTransitionTo reports whether moving to next is allowed.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	for _, allowed := range ticketTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s TicketStatus) IsTerminal() bool {
	return len(ticketTransitions[s]) == 0
}

// IsActive reports whether the ticket counts against the one-active-
// ticket-per-user invariant.
func (s TicketStatus) IsActive() bool {
	return s == TicketStatusPending || s == TicketStatusOpen || s == TicketStatusInProgress
}

// DisplayPT returns the Portuguese status name shown to users.
func (s TicketStatus) DisplayPT() string {
	switch s {
	case TicketStatusPending:
		return "Pendente"
	case TicketStatusOpen:
		return "Em Análise"
	case TicketStatusInProgress:
		return "Em Atendimento"
	case TicketStatusResolved:
		return "Resolvido"
	case TicketStatusClosed:
		return "Fechado"
	default:
		return "Cancelado"
	}
}

// SyncStatus tracks the ticket's relation to its upstream atendimento.
type SyncStatus string

// Sync statuses.
const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusCorrelated SyncStatus = "correlated"
	SyncStatusSynced     SyncStatus = "synced"
	SyncStatusFailed     SyncStatus = "failed"
)
