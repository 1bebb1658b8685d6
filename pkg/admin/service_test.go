package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/config"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/database"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/events"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/integration"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/telegram"
)

const testGroupID = int64(-100200300)

type fakeChat struct {
	admins   []telegram.ChatMember
	adminErr error
	banned   []int64
	unbanned []int64
}

func (f *fakeChat) GetChatAdministrators(ctx context.Context, chatID int64) ([]telegram.ChatMember, error) {
	if f.adminErr != nil {
		return nil, f.adminErr
	}
	return f.admins, nil
}

func (f *fakeChat) BanChatMember(ctx context.Context, chatID, userID int64) error {
	f.banned = append(f.banned, userID)
	return nil
}

func (f *fakeChat) UnbanChatMember(ctx context.Context, chatID, userID int64) error {
	f.unbanned = append(f.unbanned, userID)
	return nil
}

type fakeEngine struct {
	scheduled []domain.IntegrationType
	payloads  []any
}

func (f *fakeEngine) Schedule(ctx context.Context, itype domain.IntegrationType, priority domain.IntegrationPriority, payload any, metadata map[string]string, at *time.Time) (*domain.Integration, error) {
	f.scheduled = append(f.scheduled, itype)
	f.payloads = append(f.payloads, payload)
	return domain.NewIntegration(itype, priority, payload), nil
}

func (f *fakeEngine) Snapshot(ctx context.Context) integration.Health {
	return integration.Health{Enabled: true, Workers: 4, UpstreamHealthy: true}
}

type testEnv struct {
	service *Service
	repos   *repository.Repositories
	chat    *fakeChat
	engine  *fakeEngine
}

func newTestEnv(t *testing.T, bootstrap ...domain.ChatUserID) *testEnv {
	t.Helper()
	client, err := database.NewClient(context.Background(), config.DatabaseConfig{File: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	repos := repository.New(client)
	chat := &fakeChat{}
	engine := &fakeEngine{}
	service := NewService(repos, engine, events.NewBus(), chat, testGroupID, bootstrap)
	return &testEnv{service: service, repos: repos, chat: chat, engine: engine}
}

func cacheAdmin(t *testing.T, env *testEnv, id domain.ChatUserID) {
	t.Helper()
	require.NoError(t, env.repos.Admins.ReplaceAll(context.Background(), []domain.Administrator{{
		UserID:     id,
		Username:   "mod",
		Status:     domain.AdminStatusAdministrator,
		DetectedAt: time.Now(),
	}}))
}

func createTicket(t *testing.T, env *testEnv, userID domain.ChatUserID) *domain.Ticket {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.repos.Users.Save(ctx, &domain.User{
		ID: userID, Username: "gamer", CPF: "11144477735", IsActive: true, CreatedAt: time.Now(),
	}))
	ticket, err := domain.NewTicket(userID, domain.CategoryConnectivity, "valorant",
		domain.TimingNow, "ping acima de 150ms em todos os servidores", nil)
	require.NoError(t, err)
	require.NoError(t, env.repos.Tickets.Create(ctx, ticket))
	ticket.TakeEvents()
	return ticket
}

func TestIsAdmin_UnionOfCacheAndBootstrap(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()
	cacheAdmin(t, env, 200)

	ok, err := env.service.IsAdmin(ctx, 100)
	require.NoError(t, err)
	assert.True(t, ok, "bootstrap admin")

	ok, err = env.service.IsAdmin(ctx, 200)
	require.NoError(t, err)
	assert.True(t, ok, "detected admin")

	ok, err = env.service.IsAdmin(ctx, 300)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthorizationGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.ListTickets(ctx, 300, FilterAll, 10)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = env.service.GetSystemStats(ctx, 300, time.Now().Add(-24*time.Hour))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	err = env.service.BanUser(ctx, 300, 7001, "spam", 0)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Empty(t, env.chat.banned, "unauthorized ban never reaches the chat platform")
}

func TestRefreshAdminCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.chat.admins = []telegram.ChatMember{
		{User: telegram.User{ID: 100, Username: "owner"}, Status: "creator"},
		{User: telegram.User{ID: 200, Username: "mod"}, Status: "administrator"},
		{User: telegram.User{ID: 999, Username: "helperbot", IsBot: true}, Status: "administrator"},
	}

	count, err := env.service.RefreshAdminCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "bots are not operators")

	admins, err := env.repos.Admins.List(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 2)
	assert.Equal(t, domain.AdminStatusOwner, admins[0].Status)
	assert.Equal(t, domain.AdminStatusAdministrator, admins[1].Status)

	ok, err := env.service.IsAdmin(ctx, 200)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListTickets_Filters(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()

	first := createTicket(t, env, 7001)
	require.NoError(t, first.ChangeStatus(domain.TicketStatusCancelled, "user"))
	require.NoError(t, env.repos.Tickets.Update(ctx, first))
	createTicket(t, env, 7002)

	all, err := env.service.ListTickets(ctx, 100, FilterAll, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := env.service.ListTickets(ctx, 100, FilterActive, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, domain.ChatUserID(7002), active[0].UserID)

	cancelled, err := env.service.ListTickets(ctx, 100, string(domain.TicketStatusCancelled), 10)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, first.ID, cancelled[0].ID)

	_, err = env.service.ListTickets(ctx, 100, "bogus", 10)
	assert.True(t, domain.IsInvalidValue(err))
}

func TestAssignTicket(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()
	ticket := createTicket(t, env, 7001)

	assigned, err := env.service.AssignTicket(ctx, 100, ticket.ID, "carlos", "checar OLT")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, assigned.Status)
	assert.Equal(t, "carlos", assigned.AssignedTechnician)

	stored, err := env.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, stored.Status)

	// Unbound ticket: nothing to push upstream yet.
	assert.Empty(t, env.engine.scheduled)
}

func TestUpdateTicketStatus_SyncsBoundTicket(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()
	ticket := createTicket(t, env, 7001)

	require.NoError(t, ticket.ChangeStatus(domain.TicketStatusOpen, "sync"))
	require.NoError(t, ticket.AttachHubSoft("atd-123", "ATD-2026-000123", domain.SyncStatusSynced))
	require.NoError(t, env.repos.Tickets.Update(ctx, ticket))

	updated, err := env.service.UpdateTicketStatus(ctx, 100, ticket.ID, domain.TicketStatusResolved, "fibra reparada")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, updated.Status)

	require.Len(t, env.engine.scheduled, 1)
	payload := env.engine.payloads[0].(domain.TicketSyncPayload)
	assert.Equal(t, domain.TicketSyncStatusChange, payload.SyncType)
}

func TestUpdateTicketStatus_IllegalTransition(t *testing.T) {
	env := newTestEnv(t, 100)
	ticket := createTicket(t, env, 7001)

	_, err := env.service.UpdateTicketStatus(context.Background(), 100, ticket.ID, domain.TicketStatusClosed, "")
	var illegal *domain.IllegalTransitionError
	assert.ErrorAs(t, err, &illegal)
}

func TestBanUser(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()
	createTicket(t, env, 7001)

	require.NoError(t, env.service.BanUser(ctx, 100, 7001, "comportamento abusivo", 0))
	assert.Equal(t, []int64{7001}, env.chat.banned)

	user, err := env.repos.Users.GetByID(ctx, 7001)
	require.NoError(t, err)
	assert.False(t, user.IsActive)

	// Banning an id without an account still removes them from the chat.
	require.NoError(t, env.service.BanUser(ctx, 100, 9999, "spam", 0))
	assert.Equal(t, []int64{7001, 9999}, env.chat.banned)
}

func TestGetSystemStats(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()
	createTicket(t, env, 7001)

	stats, err := env.service.GetSystemStats(ctx, 100, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveUsers)
	assert.Equal(t, 1, stats.TicketsByStatus[domain.TicketStatusPending])
	assert.Zero(t, stats.VerificationsCompleted)
	assert.True(t, stats.Engine.Enabled)
}

func TestBulkUpdateTickets_IndependentItems(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()

	ticket := createTicket(t, env, 7001)
	require.NoError(t, ticket.ChangeStatus(domain.TicketStatusOpen, "sync"))
	require.NoError(t, ticket.ChangeStatus(domain.TicketStatusResolved, "tech"))
	require.NoError(t, env.repos.Tickets.Update(ctx, ticket))

	results, err := env.service.BulkUpdateTickets(ctx, 100,
		[]domain.TicketID{ticket.ID, 424242}, BulkActionClose, map[string]string{"reason": "lote semanal"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, domain.ErrNotFound, "missing ticket fails its item only")

	stored, err := env.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, stored.Status)
}

func TestBulkUpdateTickets_Resync(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()
	ticket := createTicket(t, env, 7001)

	results, err := env.service.BulkUpdateTickets(ctx, 100,
		[]domain.TicketID{ticket.ID}, BulkActionResync, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	require.Len(t, env.engine.scheduled, 1)
	payload := env.engine.payloads[0].(domain.TicketSyncPayload)
	assert.Equal(t, domain.TicketSyncCreate, payload.SyncType, "unbound ticket resyncs as create")
}

func TestBulkUpdateTickets_SetUrgency(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()
	ticket := createTicket(t, env, 7001)

	results, err := env.service.BulkUpdateTickets(ctx, 100,
		[]domain.TicketID{ticket.ID}, BulkActionSetUrgency, map[string]string{"urgency": "normal"})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	stored, err := env.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UrgencyNormal, stored.Urgency)

	results, err = env.service.BulkUpdateTickets(ctx, 100,
		[]domain.TicketID{ticket.ID}, BulkActionSetUrgency, map[string]string{"urgency": "apocalyptic"})
	require.NoError(t, err)
	assert.True(t, domain.IsInvalidValue(results[0].Err))
}
