package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/config"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/database"
)

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()
	client, err := database.NewClient(context.Background(), config.DatabaseConfig{File: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}
