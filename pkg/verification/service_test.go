package verification

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
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/hubsoft"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/integration"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/repository"
)

const testGroupID = int64(-100200300)

// lookupExecutor fakes the upstream CPF lookup job.
type lookupExecutor struct {
	response string
	err      error
}

func (e *lookupExecutor) Execute(ctx context.Context, job *domain.Integration) (string, error) {
	return e.response, e.err
}

// fakeChat records chat-platform calls.
type fakeChat struct {
	banned   []int64
	unbanned []int64
	messages map[int64]string
	banErr   error
}

func newFakeChat() *fakeChat {
	return &fakeChat{messages: make(map[int64]string)}
}

func (c *fakeChat) SendMessage(ctx context.Context, chatID int64, text string) error {
	c.messages[chatID] = text
	return nil
}

func (c *fakeChat) BanChatMember(ctx context.Context, chatID, userID int64) error {
	if c.banErr != nil {
		return c.banErr
	}
	c.banned = append(c.banned, userID)
	return nil
}

func (c *fakeChat) UnbanChatMember(ctx context.Context, chatID, userID int64) error {
	c.unbanned = append(c.unbanned, userID)
	return nil
}

type testEnv struct {
	service *Service
	repos   *repository.Repositories
	client  *database.Client
	bus     *events.Bus
	chat    *fakeChat
	lookup  *lookupExecutor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	client, err := database.NewClient(ctx, config.DatabaseConfig{File: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	repos := repository.New(client)
	bus := events.NewBus()
	lookup := &lookupExecutor{
		response: `{"nome_razaosocial":"Alice","nome_servico":"Fibra 500","status_servico":"habilitado","nome_plano":"Gamer 500"}`,
	}
	engine := integration.New(repos, bus, nil,
		map[domain.IntegrationType]integration.Executor{
			domain.IntegrationUserVerification: lookup,
		},
		config.DefaultEngineConfig(), true)
	chat := newFakeChat()

	return &testEnv{
		service: NewService(repos, engine, bus, chat, testGroupID),
		repos:   repos,
		client:  client,
		bus:     bus,
		chat:    chat,
		lookup:  lookup,
	}
}

func TestStartVerification_SupersedesExisting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var cancelled []string
	env.bus.Subscribe(domain.EventTypeVerificationCancelled, func(ctx context.Context, e domain.Event) error {
		cancelled = append(cancelled, e.(domain.VerificationCancelled).Reason)
		return nil
	})

	first, err := env.service.StartVerification(ctx, 7001, "alice", "@alice", domain.VerificationInitialRegistration, "start")
	require.NoError(t, err)

	second, err := env.service.StartVerification(ctx, 7001, "alice", "@alice", domain.VerificationInitialRegistration, "start")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	require.Len(t, cancelled, 1)
	assert.Equal(t, "superseded", cancelled[0])

	active, err := env.repos.Verifications.FindActiveByUser(ctx, 7001)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestSubmitCPF_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var sequence []string
	for _, et := range []string{
		domain.EventTypeVerificationStarted,
		domain.EventTypeVerificationCompleted,
		domain.EventTypeCPFValidated,
	} {
		env.bus.Subscribe(et, func(ctx context.Context, e domain.Event) error {
			sequence = append(sequence, e.EventType())
			return nil
		})
	}

	_, err := env.service.StartVerification(ctx, 7001, "alice", "@alice", domain.VerificationInitialRegistration, "start")
	require.NoError(t, err)

	result, err := env.service.SubmitCPF(ctx, 7001, "11144477735")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	require.NotNil(t, result.Client)
	assert.Equal(t, "Alice", result.Client.Name)

	user, err := env.repos.Users.GetByID(ctx, 7001)
	require.NoError(t, err)
	assert.True(t, user.HasVerifiedCPF())
	assert.Equal(t, domain.CPF("11144477735"), user.CPF)
	assert.Equal(t, "Alice", user.ClientName)

	assert.Equal(t, []string{
		domain.EventTypeVerificationStarted,
		domain.EventTypeVerificationCompleted,
		domain.EventTypeCPFValidated,
	}, sequence)
}

func TestSubmitCPF_NoPendingVerification(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.SubmitCPF(context.Background(), 7001, "11144477735")
	assert.ErrorIs(t, err, ErrNoPendingVerification)
}

func TestSubmitCPF_InvalidFormatThreeTimesExhaustsAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var failures []string
	env.bus.Subscribe(domain.EventTypeVerificationFailed, func(ctx context.Context, e domain.Event) error {
		failures = append(failures, e.(domain.VerificationFailed).Reason)
		return nil
	})

	_, err := env.service.StartVerification(ctx, 7001, "alice", "@alice", domain.VerificationInitialRegistration, "start")
	require.NoError(t, err)

	for attempt := 1; attempt <= 2; attempt++ {
		result, err := env.service.SubmitCPF(ctx, 7001, "00000000000")
		require.NoError(t, err)
		assert.Equal(t, OutcomeInvalidFormat, result.Outcome)
		assert.Equal(t, domain.VerificationMaxAttempts-attempt, result.AttemptsLeft)
	}

	result, err := env.service.SubmitCPF(ctx, 7001, "00000000000")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAttemptsExhausted, result.Outcome)

	require.Len(t, failures, 1, "exactly one failure event")
	assert.Equal(t, domain.FailureReasonAttemptsExhausted, failures[0])

	_, err = env.repos.Users.GetByID(ctx, 7001)
	assert.ErrorIs(t, err, domain.ErrNotFound, "no binding written")

	_, err = env.repos.Verifications.FindActiveByUser(ctx, 7001)
	assert.ErrorIs(t, err, domain.ErrNotFound, "failed verification leaves the pending table")
}

func TestSubmitCPF_NotFoundCountsAsAttempt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.lookup.response = ""
	env.lookup.err = hubsoft.ErrNotFound

	_, err := env.service.StartVerification(ctx, 7001, "alice", "@alice", domain.VerificationSupportRequest, "support")
	require.NoError(t, err)

	result, err := env.service.SubmitCPF(ctx, 7001, "52998224725")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, result.Outcome)
	assert.Equal(t, 2, result.AttemptsLeft)
}

func TestSubmitCPF_TransientUpstreamFailureBurnsNoAttempt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.lookup.err = &hubsoft.APIError{StatusCode: 503}

	_, err := env.service.StartVerification(ctx, 7001, "alice", "@alice", domain.VerificationSupportRequest, "support")
	require.NoError(t, err)

	result, err := env.service.SubmitCPF(ctx, 7001, "11144477735")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessing, result.Outcome)
	assert.Equal(t, domain.VerificationMaxAttempts, result.AttemptsLeft)
}

func TestSubmitCPF_DuplicateConflictAndRemap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var duplicates []domain.CPFDuplicateDetected
	env.bus.Subscribe(domain.EventTypeCPFDuplicateDetected, func(ctx context.Context, e domain.Event) error {
		duplicates = append(duplicates, e.(domain.CPFDuplicateDetected))
		return nil
	})
	var remaps []domain.CPFRemapped
	env.bus.Subscribe(domain.EventTypeCPFRemapped, func(ctx context.Context, e domain.Event) error {
		remaps = append(remaps, e.(domain.CPFRemapped))
		return nil
	})

	// The CPF is already bound to an older active account.
	require.NoError(t, env.repos.Users.Save(ctx, &domain.User{
		ID:        8001,
		Username:  "old_account",
		CPF:       "11144477735",
		IsActive:  true,
		CreatedAt: time.Now(),
	}))

	v, err := env.service.StartVerification(ctx, 8002, "bob", "@bob", domain.VerificationInitialRegistration, "start")
	require.NoError(t, err)

	result, err := env.service.SubmitCPF(ctx, 8002, "11144477735")
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflictDetected, result.Outcome)
	assert.Equal(t, domain.ChatUserID(8001), result.ExistingUserID)

	require.Len(t, duplicates, 1)
	assert.Equal(t, "XXX.XXX.***-35", duplicates[0].CPFMasked)

	// No binding for the new account yet.
	_, err = env.repos.Users.GetByID(ctx, 8002)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, env.service.ResolveDuplicateConflict(ctx, v.ID, result.CPF, 8002, []domain.ChatUserID{8001}))

	assert.Contains(t, env.chat.banned, int64(8001), "losing account is removed from the group")
	assert.Contains(t, env.chat.unbanned, int64(8001), "removal is not a permanent ban")

	winner, err := env.repos.Users.FindActiveByCPF(ctx, "11144477735")
	require.NoError(t, err)
	assert.Equal(t, domain.ChatUserID(8002), winner.ID)

	loser, err := env.repos.Users.GetByID(ctx, 8001)
	require.NoError(t, err)
	assert.False(t, loser.IsActive)

	require.Len(t, remaps, 1)
	assert.Equal(t, domain.ChatUserID(8001), remaps[0].OldUserID)
	assert.Equal(t, domain.ChatUserID(8002), remaps[0].NewUserID)

	_, err = env.repos.Verifications.FindActiveByUser(ctx, 8002)
	assert.ErrorIs(t, err, domain.ErrNotFound, "verification completed and archived")
}

func TestResolveDuplicateConflict_RequiresVerificationOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v, err := env.service.StartVerification(ctx, 8002, "bob", "@bob", domain.VerificationInitialRegistration, "start")
	require.NoError(t, err)

	err = env.service.ResolveDuplicateConflict(ctx, v.ID, "11144477735", 9999, []domain.ChatUserID{8001})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestResolveDuplicateConflict_RevokeFailureKeepsVerificationOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.chat.banErr = assert.AnError

	require.NoError(t, env.repos.Users.Save(ctx, &domain.User{
		ID: 8001, Username: "old", CPF: "11144477735", IsActive: true, CreatedAt: time.Now(),
	}))

	v, err := env.service.StartVerification(ctx, 8002, "bob", "@bob", domain.VerificationInitialRegistration, "start")
	require.NoError(t, err)

	err = env.service.ResolveDuplicateConflict(ctx, v.ID, "11144477735", 8002, []domain.ChatUserID{8001})
	assert.ErrorIs(t, err, ErrMembershipRevokeFailed)

	// Still unresolved: the binding stays with the old account.
	owner, err := env.repos.Users.FindActiveByCPF(ctx, "11144477735")
	require.NoError(t, err)
	assert.Equal(t, domain.ChatUserID(8001), owner.ID)

	_, err = env.repos.Verifications.GetByID(ctx, v.ID)
	require.NoError(t, err, "verification stays in flight for a retry")
}

func TestProcessExpiredVerifications(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var expired []domain.VerificationExpired
	env.bus.Subscribe(domain.EventTypeVerificationExpired, func(ctx context.Context, e domain.Event) error {
		expired = append(expired, e.(domain.VerificationExpired))
		return nil
	})

	checkup, err := env.service.StartVerification(ctx, 7001, "alice", "@alice", domain.VerificationAutoCheckup, "daily_checkup")
	require.NoError(t, err)
	fresh, err := env.service.StartVerification(ctx, 7002, "bob", "@bob", domain.VerificationInitialRegistration, "start")
	require.NoError(t, err)

	// Backdate the first verification past its 24-hour window.
	_, err = env.client.ExecContext(ctx,
		`UPDATE pending_cpf_verifications SET expires_at = ? WHERE id = ?`,
		time.Now().Add(-time.Hour), string(checkup.ID))
	require.NoError(t, err)

	processed, err := env.service.ProcessExpiredVerifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.Len(t, expired, 1)
	assert.Equal(t, checkup.ID, expired[0].VerificationID)

	// Auto-checkup expiry removes the member and notifies them.
	assert.Contains(t, env.chat.banned, int64(7001))
	assert.Contains(t, env.chat.messages[7001], "verificação de CPF expirou")

	// The fresh verification is untouched.
	_, err = env.repos.Verifications.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
}
