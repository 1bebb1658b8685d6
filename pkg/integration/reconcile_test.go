package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/hubsoft"
)

func TestJaccardSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "identical", a: "internet caindo toda hora", b: "internet caindo toda hora", want: 1.0},
		{name: "case insensitive", a: "Internet Caindo", b: "internet caindo", want: 1.0},
		{name: "disjoint", a: "roteador piscando", b: "ping alto valorant", want: 0.0},
		{name: "empty side", a: "", b: "internet caindo", want: 0.0},
		{name: "partial overlap", a: "internet caindo toda hora", b: "internet caindo de novo", want: 2.0 / 6.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, jaccardSimilarity(tt.a, tt.b), 0.001)
		})
	}
}

func TestParseUpstreamTime(t *testing.T) {
	tests := []struct {
		raw string
		ok  bool
	}{
		{raw: "2026-08-25T10:30:00Z", ok: true},
		{raw: "2026-08-25 10:30:00", ok: true},
		{raw: "25/08/2026 10:30:00", ok: true},
		{raw: "2026-08-25", ok: true},
		{raw: "ontem", ok: false},
		{raw: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, ok := parseUpstreamTime(tt.raw)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestReconciler_CorrelatesMatchingAtendimento(t *testing.T) {
	description := "internet caindo toda hora durante partidas de valorant"
	api := &fakeAPI{
		searchFn: func(ctx context.Context, cpf string) ([]hubsoft.Atendimento, error) {
			return []hubsoft.Atendimento{
				{
					ID:          "7001",
					Protocol:    "ATD-2026-000777",
					Status:      "aguardando_analise",
					Description: "cliente relata internet caindo toda hora em jogos",
					OpenedAt:    time.Now().Format("2006-01-02 15:04:05"),
				},
			}, nil
		},
	}
	engine, repos, bus := newTestEngine(t, nil)
	engine.api = api
	reconciler := NewReconciler(repos, engine, api, bus)

	saveVerifiedUser(t, repos, 1001, "11144477735")
	ticket := createStoredTicket(t, repos, 1001, description)

	reconciler.Run(context.Background())

	stored, err := repos.Tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "7001", stored.HubSoftTicketID)
	assert.Equal(t, domain.Protocol("ATD-2026-000777"), stored.HubSoftProtocol)
	assert.Equal(t, domain.SyncStatusCorrelated, stored.SyncStatus)

	require.Len(t, api.messages, 1)
	assert.Contains(t, api.messages[0], string(ticket.LocalProtocol))
}

func TestReconciler_IgnoresAtendimentoOutsideWindow(t *testing.T) {
	api := &fakeAPI{
		searchFn: func(ctx context.Context, cpf string) ([]hubsoft.Atendimento, error) {
			return []hubsoft.Atendimento{
				{
					ID:          "7002",
					Protocol:    "ATD-2025-000001",
					Description: "internet caindo toda hora durante partidas",
					// Same wording, but opened far outside the window.
					OpenedAt: time.Now().Add(-90 * 24 * time.Hour).Format("2006-01-02 15:04:05"),
				},
			}, nil
		},
	}
	engine, repos, bus := newTestEngine(t, nil)
	engine.api = api
	reconciler := NewReconciler(repos, engine, api, bus)

	saveVerifiedUser(t, repos, 1001, "11144477735")
	ticket := createStoredTicket(t, repos, 1001, "internet caindo toda hora durante partidas")

	reconciler.Run(context.Background())

	stored, err := repos.Tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.HubSoftTicketID, "stale atendimento must not correlate")

	// With no match, a fresh sync is queued instead.
	jobs, err := repos.Integrations.FindByMetadata(context.Background(), "origin", "reconciliation")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestReconciler_RequeuesUnmatchedTicket(t *testing.T) {
	api := &fakeAPI{}
	engine, repos, bus := newTestEngine(t, nil)
	engine.api = api
	reconciler := NewReconciler(repos, engine, api, bus)

	saveVerifiedUser(t, repos, 1001, "11144477735")
	ticket := createStoredTicket(t, repos, 1001, "sem conexão desde a madrugada de hoje")

	reconciler.Run(context.Background())

	jobs, err := repos.Integrations.FindByMetadata(context.Background(), "origin", "reconciliation")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.IntegrationTicketSync, jobs[0].Type)
	assert.Equal(t, domain.PriorityHigh, jobs[0].Priority)

	payload := jobs[0].Payload.(domain.TicketSyncPayload)
	assert.Equal(t, ticket.ID, payload.TicketID)
	assert.Equal(t, domain.TicketSyncCreate, payload.SyncType)
}

func TestReconciler_RefreshesSyncedStatuses(t *testing.T) {
	api := &fakeAPI{
		listFn: func(ctx context.Context, page, perPage int) (*hubsoft.AtendimentoPage, error) {
			return &hubsoft.AtendimentoPage{
				Items: []hubsoft.Atendimento{
					{ID: "8001", Status: "aguardando_analise"},
				},
				Page:       page,
				TotalPages: 1,
			}, nil
		},
	}
	engine, repos, bus := newTestEngine(t, nil)
	engine.api = api
	reconciler := NewReconciler(repos, engine, api, bus)

	saveVerifiedUser(t, repos, 1001, "11144477735")
	ticket := createStoredTicket(t, repos, 1001, "quedas constantes no período da noite")
	require.NoError(t, ticket.AttachHubSoft("8001", "ATD-2026-000888", domain.SyncStatusSynced))
	require.NoError(t, repos.Tickets.Update(context.Background(), ticket))
	ticket.TakeEvents()

	reconciler.Run(context.Background())

	stored, err := repos.Tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status,
		"upstream aguardando_analise maps to OPEN")
}
