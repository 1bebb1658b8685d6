package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
)

func makeTicket(t *testing.T, userID domain.ChatUserID) *domain.Ticket {
	t.Helper()
	ticket, err := domain.NewTicket(userID, domain.CategoryConnectivity, "valorant",
		domain.TimingNow, "ping sobe para 300ms em todos os servidores", nil)
	require.NoError(t, err)
	return ticket
}

func TestTicketRepository_CreateAssignsProtocol(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	ticket := makeTicket(t, 100)
	require.NoError(t, repos.Tickets.Create(ctx, ticket))

	assert.NotZero(t, ticket.ID)
	assert.Equal(t, domain.LocalProtocol(ticket.ID), ticket.LocalProtocol)

	// The creation event is pending on the aggregate for the caller to
	// publish after the save.
	events := ticket.TakeEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeTicketCreated, events[0].EventType())

	loaded, err := repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.LocalProtocol, loaded.LocalProtocol)
	assert.Equal(t, domain.UrgencyHigh, loaded.Urgency)
	assert.Equal(t, domain.SyncStatusPending, loaded.SyncStatus)
}

func TestTicketRepository_SecondActiveTicketConflicts(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.Tickets.Create(ctx, makeTicket(t, 100)))

	err := repos.Tickets.Create(ctx, makeTicket(t, 100))
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))

	// A different user is unaffected.
	assert.NoError(t, repos.Tickets.Create(ctx, makeTicket(t, 200)))
}

func TestTicketRepository_FindActiveByUser(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	_, err := repos.Tickets.FindActiveByUser(ctx, 100)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ticket := makeTicket(t, 100)
	require.NoError(t, repos.Tickets.Create(ctx, ticket))

	active, err := repos.Tickets.FindActiveByUser(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, active.ID)

	// Cancelling frees the slot.
	require.NoError(t, active.ChangeStatus(domain.TicketStatusCancelled, "user"))
	require.NoError(t, repos.Tickets.Update(ctx, active))

	_, err = repos.Tickets.FindActiveByUser(ctx, 100)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTicketRepository_UpdateRoundTrip(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	ticket := makeTicket(t, 100)
	require.NoError(t, repos.Tickets.Create(ctx, ticket))

	require.NoError(t, ticket.ChangeStatus(domain.TicketStatusOpen, "system"))
	require.NoError(t, ticket.AttachHubSoft("hs-991", "ATD-2026-000123", domain.SyncStatusSynced))
	require.NoError(t, repos.Tickets.Update(ctx, ticket))

	loaded, err := repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, loaded.Status)
	assert.Equal(t, "hs-991", loaded.HubSoftTicketID)
	assert.Equal(t, domain.Protocol("ATD-2026-000123"), loaded.HubSoftProtocol)
	assert.Equal(t, domain.SyncStatusSynced, loaded.SyncStatus)
}

func TestTicketRepository_UpdateMissing(t *testing.T) {
	repos := newTestRepos(t)

	ticket := makeTicket(t, 100)
	ticket.MarkPersisted(999)
	assert.ErrorIs(t, repos.Tickets.Update(context.Background(), ticket), domain.ErrNotFound)
}

func TestTicketRepository_CountByStatus(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	first := makeTicket(t, 100)
	require.NoError(t, repos.Tickets.Create(ctx, first))
	require.NoError(t, first.ChangeStatus(domain.TicketStatusCancelled, "user"))
	require.NoError(t, repos.Tickets.Update(ctx, first))

	require.NoError(t, repos.Tickets.Create(ctx, makeTicket(t, 100)))
	require.NoError(t, repos.Tickets.Create(ctx, makeTicket(t, 200)))

	counts, err := repos.Tickets.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.TicketStatusPending])
	assert.Equal(t, 1, counts[domain.TicketStatusCancelled])
}
