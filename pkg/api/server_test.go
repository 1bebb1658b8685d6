package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/admin"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/cache"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/config"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/database"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/events"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/integration"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/telegram"
)

const (
	testToken    = "test-ops-token"
	testGroupID  = int64(-100200300)
	testAdminID  = "100"
	testAdminUID = domain.ChatUserID(100)
)

type fakeEngine struct{}

func (fakeEngine) Snapshot(ctx context.Context) integration.Health {
	return integration.Health{Enabled: true, Workers: 4, UpstreamHealthy: true}
}

func (fakeEngine) Schedule(ctx context.Context, itype domain.IntegrationType, priority domain.IntegrationPriority, payload any, metadata map[string]string, at *time.Time) (*domain.Integration, error) {
	return domain.NewIntegration(itype, priority, payload), nil
}

type fakeChat struct {
	banned []int64
}

func (f *fakeChat) GetChatAdministrators(ctx context.Context, chatID int64) ([]telegram.ChatMember, error) {
	return nil, nil
}

func (f *fakeChat) BanChatMember(ctx context.Context, chatID, userID int64) error {
	f.banned = append(f.banned, userID)
	return nil
}

func (f *fakeChat) UnbanChatMember(ctx context.Context, chatID, userID int64) error {
	return nil
}

type testEnv struct {
	router *gin.Engine
	repos  *repository.Repositories
	chat   *fakeChat
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	client, err := database.NewClient(context.Background(), config.DatabaseConfig{File: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	repos := repository.New(client)
	chat := &fakeChat{}
	admins := admin.NewService(repos, fakeEngine{}, events.NewBus(), chat, testGroupID,
		[]domain.ChatUserID{testAdminUID})

	server := NewServer(client, fakeEngine{}, cache.New(0), admins,
		config.ServerConfig{Addr: ":0", AuthToken: testToken})
	return &testEnv{router: server.Router(), repos: repos, chat: chat}
}

func (e *testEnv) request(t *testing.T, method, path, body string, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testToken)
		req.Header.Set("X-Operator-ID", testAdminID)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func createTicket(t *testing.T, repos *repository.Repositories) *domain.Ticket {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repos.Users.Save(ctx, &domain.User{
		ID: 7001, Username: "alice", CPF: "11144477735", ClientName: "Alice",
		ServiceName: "Gamer 500", IsActive: true, CreatedAt: time.Now(),
	}))
	ticket, err := domain.NewTicket(7001, domain.CategoryConnectivity, "valorant",
		domain.TimingNow, "ping acima de 150ms em todos os servidores", nil)
	require.NoError(t, err)
	require.NoError(t, repos.Tickets.Create(ctx, ticket))
	ticket.TakeEvents()
	return ticket
}

func TestHealthIsOpen(t *testing.T) {
	env := newTestEnv(t)
	w := env.request(t, http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Database.Status)
	assert.True(t, resp.Engine.UpstreamHealthy)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/api/v1/stats", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code, "operator header is mandatory")
}

func TestNonAdminOperatorIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("X-Operator-ID", "424242")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	createTicket(t, env.repos)

	w := env.request(t, http.MethodGet, "/api/v1/stats", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var stats admin.SystemStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.ActiveUsers)
	assert.Equal(t, 1, stats.TicketsByStatus[domain.TicketStatusPending])
}

func TestListTickets(t *testing.T) {
	env := newTestEnv(t)
	ticket := createTicket(t, env.repos)

	w := env.request(t, http.MethodGet, "/api/v1/tickets?filter=active", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Tickets []TicketResponse `json:"tickets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Tickets, 1)
	assert.Equal(t, ticket.ID, resp.Tickets[0].ID)
	assert.Equal(t, string(ticket.LocalProtocol), resp.Tickets[0].LocalProtocol)
}

func TestUpdateTicketStatus(t *testing.T) {
	env := newTestEnv(t)
	ticket := createTicket(t, env.repos)

	w := env.request(t, http.MethodPost,
		"/api/v1/tickets/"+itoa(int64(ticket.ID))+"/status",
		`{"status":"OPEN","reason":"triaged"}`, true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp TicketResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "OPEN", resp.Status)

	// PENDING is not reachable from OPEN.
	w = env.request(t, http.MethodPost,
		"/api/v1/tickets/"+itoa(int64(ticket.ID))+"/status",
		`{"status":"PENDING"}`, true)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUpdateTicketStatusUnknownTicket(t *testing.T) {
	env := newTestEnv(t)
	w := env.request(t, http.MethodPost, "/api/v1/tickets/424242/status",
		`{"status":"OPEN"}`, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssignTicket(t *testing.T) {
	env := newTestEnv(t)
	ticket := createTicket(t, env.repos)

	w := env.request(t, http.MethodPost,
		"/api/v1/tickets/"+itoa(int64(ticket.ID))+"/assign",
		`{"technician":"joao.silva","notes":"verificar CTO"}`, true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp TicketResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "IN_PROGRESS", resp.Status)
	assert.Equal(t, "joao.silva", resp.Technician)
}

func TestBulkReportsPerItemFailures(t *testing.T) {
	env := newTestEnv(t)
	ticket := createTicket(t, env.repos)
	require.NoError(t, ticket.ChangeStatus(domain.TicketStatusOpen, "sync"))
	require.NoError(t, ticket.ChangeStatus(domain.TicketStatusResolved, "sync"))
	require.NoError(t, env.repos.Tickets.Update(context.Background(), ticket))
	ticket.TakeEvents()

	w := env.request(t, http.MethodPost, "/api/v1/tickets/bulk",
		`{"action":"close","ticket_ids":[`+itoa(int64(ticket.ID))+`,424242]}`, true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results []BulkItemResponse `json:"results"`
		Failed  int                `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].OK)
	assert.False(t, resp.Results[1].OK)
	assert.Equal(t, 1, resp.Failed)
}

func TestBanUser(t *testing.T) {
	env := newTestEnv(t)
	createTicket(t, env.repos)

	w := env.request(t, http.MethodPost, "/api/v1/users/7001/ban",
		`{"reason":"spam","duration":"24h"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, env.chat.banned, int64(7001))

	user, err := env.repos.Users.GetByID(context.Background(), 7001)
	require.NoError(t, err)
	assert.False(t, user.IsActive)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
