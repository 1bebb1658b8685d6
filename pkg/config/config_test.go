package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_GROUP_ID", "-1001234567890")
	t.Setenv("HUBSOFT_HOST", "https://api.hubsoft.example")
	t.Setenv("HUBSOFT_CLIENT_ID", "client")
	t.Setenv("HUBSOFT_CLIENT_SECRET", "secret")
	t.Setenv("HUBSOFT_USER", "user")
	t.Setenv("HUBSOFT_PASSWORD", "pass")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(-1001234567890), cfg.Telegram.GroupID)
	assert.Equal(t, time.Hour, cfg.Invites.ExpireTime)
	assert.Equal(t, 1, cfg.Invites.MemberLimit)
	assert.Equal(t, "data/oncabito.db", cfg.Database.File)
	assert.True(t, cfg.HubSoft.Enabled)
	assert.Equal(t, 30*time.Second, cfg.HubSoft.RequestTimeout)
	assert.Equal(t, float64(10), cfg.HubSoft.RequestsPerSecond)
	assert.Equal(t, 4, cfg.Engine.WorkerCount)
	assert.Equal(t, 5*time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, 6*time.Hour, cfg.Admins.RefreshInterval)
}

func TestLoad_MissingToken(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TELEGRAM_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_TOKEN")
}

func TestLoad_HubSoftDisabledSkipsCredentialCheck(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("HUBSOFT_ENABLED", "false")
	t.Setenv("HUBSOFT_CLIENT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.HubSoft.Enabled)
}

func TestLoad_InviteSecondsFormat(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("INVITE_LINK_EXPIRE_TIME", "1800")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Invites.ExpireTime)
}

func TestParseAdminIDs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []domain.ChatUserID
	}{
		{name: "empty", raw: "", want: nil},
		{name: "single", raw: "123", want: []domain.ChatUserID{123}},
		{name: "multiple with spaces", raw: "123, 456 ,789", want: []domain.ChatUserID{123, 456, 789}},
		{name: "malformed entries skipped", raw: "123,abc,,456", want: []domain.ChatUserID{123, 456}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseAdminIDs(tt.raw))
		})
	}
}

func TestEngineConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EngineConfig)
		wantErr string
	}{
		{name: "defaults valid", mutate: func(*EngineConfig) {}},
		{name: "zero workers", mutate: func(c *EngineConfig) { c.WorkerCount = 0 }, wantErr: "worker_count"},
		{name: "too many workers", mutate: func(c *EngineConfig) { c.WorkerCount = 33 }, wantErr: "worker_count"},
		{name: "zero poll interval", mutate: func(c *EngineConfig) { c.PollInterval = 0 }, wantErr: "poll_interval"},
		{name: "negative jitter", mutate: func(c *EngineConfig) { c.PollIntervalJitter = -time.Second }, wantErr: "jitter"},
		{name: "zero batch", mutate: func(c *EngineConfig) { c.BatchSize = 0 }, wantErr: "batch_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
