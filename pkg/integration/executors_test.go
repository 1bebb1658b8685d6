package integration

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/cache"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/config"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/database"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/events"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/hubsoft"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
)

func newTestDeps(t *testing.T, api *fakeAPI) (ExecutorDeps, *repository.Repositories) {
	t.Helper()
	client, err := database.NewClient(context.Background(), config.DatabaseConfig{File: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	repos := repository.New(client)
	return ExecutorDeps{
		Repos: repos,
		API:   api,
		Cache: cache.New(0),
		Bus:   events.NewBus(),
	}, repos
}

func saveVerifiedUser(t *testing.T, repos *repository.Repositories, id domain.ChatUserID, cpf domain.CPF) {
	t.Helper()
	require.NoError(t, repos.Users.Save(context.Background(), &domain.User{
		ID:            id,
		Username:      "gamer",
		CPF:           cpf,
		ClientName:    "Cliente Teste",
		ServiceStatus: "habilitado",
		IsActive:      true,
		CreatedAt:     time.Now(),
	}))
}

func createStoredTicket(t *testing.T, repos *repository.Repositories, userID domain.ChatUserID, description string) *domain.Ticket {
	t.Helper()
	ticket, err := domain.NewTicket(userID, domain.CategoryConnectivity, "valorant",
		domain.TimingNow, description, nil)
	require.NoError(t, err)
	require.NoError(t, repos.Tickets.Create(context.Background(), ticket))
	ticket.TakeEvents()
	return ticket
}

func ticketSyncJob(ticketID domain.TicketID, syncType domain.TicketSyncType) *domain.Integration {
	return domain.NewIntegration(domain.IntegrationTicketSync, domain.PriorityNormal,
		domain.TicketSyncPayload{TicketID: ticketID, SyncType: syncType})
}

func TestTicketSyncExecutor_CreateBindsUpstreamTicket(t *testing.T) {
	var captured hubsoft.CreateTicketRequest
	api := &fakeAPI{
		createFn: func(ctx context.Context, req hubsoft.CreateTicketRequest) (*hubsoft.CreateTicketResult, error) {
			captured = req
			return &hubsoft.CreateTicketResult{ID: "9001", Protocol: "ATD-2026-000321"}, nil
		},
	}
	deps, repos := newTestDeps(t, api)

	saveVerifiedUser(t, repos, 1001, "11144477735")
	ticket := createStoredTicket(t, repos, 1001, "ping alto em servidores de valorant desde ontem")

	executor := DefaultExecutors(deps)[domain.IntegrationTicketSync]
	_, err := executor.Execute(context.Background(), ticketSyncJob(ticket.ID, domain.TicketSyncCreate))
	require.NoError(t, err)

	assert.Equal(t, "11144477735", captured.ClientCPF)
	assert.Contains(t, captured.Description, string(ticket.LocalProtocol))
	assert.Contains(t, captured.Description, "Conectividade")
	assert.Contains(t, captured.Description, "ping alto")

	stored, err := repos.Tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "9001", stored.HubSoftTicketID)
	assert.Equal(t, domain.Protocol("ATD-2026-000321"), stored.HubSoftProtocol)
	assert.Equal(t, domain.SyncStatusSynced, stored.SyncStatus)
}

func TestTicketSyncExecutor_PermanentRejectionMarksTicket(t *testing.T) {
	api := &fakeAPI{
		createFn: func(ctx context.Context, req hubsoft.CreateTicketRequest) (*hubsoft.CreateTicketResult, error) {
			return nil, &hubsoft.APIError{StatusCode: 400, Message: "cadastro bloqueado"}
		},
	}
	deps, repos := newTestDeps(t, api)

	saveVerifiedUser(t, repos, 1001, "11144477735")
	ticket := createStoredTicket(t, repos, 1001, "conexão intermitente durante partidas")

	executor := DefaultExecutors(deps)[domain.IntegrationTicketSync]
	_, err := executor.Execute(context.Background(), ticketSyncJob(ticket.ID, domain.TicketSyncCreate))
	require.Error(t, err)
	assert.False(t, hubsoft.Retryable(err))

	stored, getErr := repos.Tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.SyncStatusFailed, stored.SyncStatus)
}

func TestTicketSyncExecutor_TransientFailureKeepsSyncPending(t *testing.T) {
	api := &fakeAPI{
		createFn: func(ctx context.Context, req hubsoft.CreateTicketRequest) (*hubsoft.CreateTicketResult, error) {
			return nil, &hubsoft.APIError{StatusCode: 503}
		},
	}
	deps, repos := newTestDeps(t, api)

	saveVerifiedUser(t, repos, 1001, "11144477735")
	ticket := createStoredTicket(t, repos, 1001, "quedas de conexão em horário de pico")

	executor := DefaultExecutors(deps)[domain.IntegrationTicketSync]
	_, err := executor.Execute(context.Background(), ticketSyncJob(ticket.ID, domain.TicketSyncCreate))
	require.Error(t, err)
	assert.True(t, hubsoft.Retryable(err))

	stored, getErr := repos.Tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.SyncStatusPending, stored.SyncStatus,
		"retryable failures leave the sync to the retry policy")
}

func TestUserVerificationExecutor_CachesLookups(t *testing.T) {
	var calls atomic.Int32
	api := &fakeAPI{
		verifyFn: func(ctx context.Context, cpf string) (*hubsoft.ClientInfo, error) {
			calls.Add(1)
			return &hubsoft.ClientInfo{Name: "João Silva", ServiceStatus: "habilitado"}, nil
		},
	}
	deps, _ := newTestDeps(t, api)
	executor := DefaultExecutors(deps)[domain.IntegrationUserVerification]

	job := func() *domain.Integration {
		return domain.NewIntegration(domain.IntegrationUserVerification, domain.PriorityUrgent,
			domain.UserVerificationPayload{CPF: "11144477735"})
	}

	response, err := executor.Execute(context.Background(), job())
	require.NoError(t, err)
	assert.Contains(t, response, "João Silva")
	assert.Equal(t, int32(1), calls.Load())

	_, err = executor.Execute(context.Background(), job())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second lookup is served from cache")
}

func TestUserVerificationExecutor_ForceRefreshBypassesCache(t *testing.T) {
	var calls atomic.Int32
	api := &fakeAPI{
		verifyFn: func(ctx context.Context, cpf string) (*hubsoft.ClientInfo, error) {
			calls.Add(1)
			return &hubsoft.ClientInfo{Name: "João Silva"}, nil
		},
	}
	deps, _ := newTestDeps(t, api)
	executor := DefaultExecutors(deps)[domain.IntegrationUserVerification]

	_, err := executor.Execute(context.Background(), domain.NewIntegration(
		domain.IntegrationUserVerification, domain.PriorityUrgent,
		domain.UserVerificationPayload{CPF: "11144477735"}))
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), domain.NewIntegration(
		domain.IntegrationUserVerification, domain.PriorityUrgent,
		domain.UserVerificationPayload{CPF: "11144477735", ForceRefresh: true}))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUserVerificationExecutor_NegativeCache(t *testing.T) {
	var calls atomic.Int32
	api := &fakeAPI{
		verifyFn: func(ctx context.Context, cpf string) (*hubsoft.ClientInfo, error) {
			calls.Add(1)
			return nil, hubsoft.ErrNotFound
		},
	}
	deps, _ := newTestDeps(t, api)
	executor := DefaultExecutors(deps)[domain.IntegrationUserVerification]

	job := func() *domain.Integration {
		return domain.NewIntegration(domain.IntegrationUserVerification, domain.PriorityUrgent,
			domain.UserVerificationPayload{CPF: "52998224725"})
	}

	_, err := executor.Execute(context.Background(), job())
	assert.ErrorIs(t, err, hubsoft.ErrNotFound)

	_, err = executor.Execute(context.Background(), job())
	assert.ErrorIs(t, err, hubsoft.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load(), "not-found is served from the negative cache")
}

func TestBulkSyncExecutor_SyncsBatchesAndReportsCounts(t *testing.T) {
	api := &fakeAPI{}
	deps, repos := newTestDeps(t, api)

	var report *domain.HubSoftBulkSyncCompleted
	deps.Bus.Subscribe(domain.EventTypeHubSoftBulkSyncCompleted, func(ctx context.Context, e domain.Event) error {
		ev := e.(domain.HubSoftBulkSyncCompleted)
		report = &ev
		return nil
	})

	saveVerifiedUser(t, repos, 1001, "11144477735")
	var ids []domain.TicketID
	descriptions := []string{
		"primeira ocorrência de lentidão registrada",
		"segunda ocorrência de lentidão registrada",
		"terceira ocorrência de lentidão registrada",
	}
	for i, desc := range descriptions {
		ticket := createStoredTicket(t, repos, domain.ChatUserID(1001), desc)
		ids = append(ids, ticket.ID)
		// Only one active ticket per user: close it before the next.
		if i < len(descriptions)-1 {
			require.NoError(t, ticket.ChangeStatus(domain.TicketStatusCancelled, "test"))
			require.NoError(t, repos.Tickets.Update(context.Background(), ticket))
			ticket.TakeEvents()
		}
	}

	executor := DefaultExecutors(deps)[domain.IntegrationBulkSync]
	job := domain.NewIntegration(domain.IntegrationBulkSync, domain.PriorityLow,
		domain.BulkSyncPayload{TicketIDs: ids, BatchSize: 2})

	response, err := executor.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Contains(t, response, `"successful":3`)

	require.NotNil(t, report)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Successful)
	assert.Equal(t, 0, report.Failed)
}

func TestMapUpstreamStatus(t *testing.T) {
	tests := []struct {
		upstream string
		want     domain.TicketStatus
	}{
		{upstream: "aguardando_analise", want: domain.TicketStatusOpen},
		{upstream: "pendente", want: domain.TicketStatusOpen},
		{upstream: "em_atendimento", want: domain.TicketStatusInProgress},
		{upstream: "resolvido", want: domain.TicketStatusResolved},
		{upstream: "fechado", want: domain.TicketStatusClosed},
		{upstream: "cancelado", want: domain.TicketStatusCancelled},
		{upstream: "algo_novo", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.upstream, func(t *testing.T) {
			assert.Equal(t, tt.want, mapUpstreamStatus(tt.upstream))
		})
	}
}
