package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
)

func TestVerificationRepository_PendingLifecycle(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	v := domain.NewVerification(100, "player_one", "@player_one",
		domain.VerificationSupportRequest, "support_form")
	v.TakeEvents()
	require.NoError(t, repos.Verifications.Create(ctx, v))

	active, err := repos.Verifications.FindActiveByUser(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, v.ID, active.ID)
	assert.Equal(t, domain.VerificationStatusPending, active.Status)

	// A failed attempt keeps the request in-flight.
	require.NoError(t, active.RecordAttempt("", false, "cpf_not_found", nil))
	require.NoError(t, repos.Verifications.Update(ctx, active))

	reloaded, err := repos.Verifications.FindActiveByUser(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationStatusInProgress, reloaded.Status)
	assert.Equal(t, 1, reloaded.AttemptCount)
}

func TestVerificationRepository_TerminalMovesToHistory(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	cpf, err := domain.NewCPF("111.444.777-35")
	require.NoError(t, err)

	v := domain.NewVerification(100, "player_one", "@player_one",
		domain.VerificationSupportRequest, "support_form")
	v.TakeEvents()
	require.NoError(t, repos.Verifications.Create(ctx, v))

	require.NoError(t, v.RecordAttempt(cpf, true, "", &domain.ClientData{Name: "João"}))
	require.NoError(t, repos.Verifications.Update(ctx, v))

	// Gone from the pending table, present in history.
	_, err = repos.Verifications.FindActiveByUser(ctx, 100)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	count, err := repos.Verifications.CountCompletedSince(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestVerificationRepository_FindExpired(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	fresh := domain.NewVerification(100, "a", "@a", domain.VerificationAutoCheckup, "daily_checkup")
	fresh.TakeEvents()
	require.NoError(t, repos.Verifications.Create(ctx, fresh))

	stale := domain.NewVerification(200, "b", "@b", domain.VerificationAutoCheckup, "daily_checkup")
	stale.TakeEvents()
	stale.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, repos.Verifications.Create(ctx, stale))

	expired, err := repos.Verifications.FindExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)
}
