// Package config loads and validates the backend configuration from
// environment variables. A .env file is loaded by the entry points via
// godotenv before Load runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
)

// Config is the full backend configuration.
type Config struct {
	Telegram TelegramConfig
	HubSoft  HubSoftConfig
	Database DatabaseConfig
	Invites  InviteConfig
	Engine   *EngineConfig
	Admins   AdminConfig
	Server   ServerConfig
}

// TelegramConfig holds the chat platform settings.
type TelegramConfig struct {
	Token          string
	GroupID        int64
	RulesTopicID   int64
	WelcomeTopicID int64
	SupportTopicID int64
}

// HubSoftConfig holds the upstream billing API settings.
type HubSoftConfig struct {
	Host         string
	ClientID     string
	ClientSecret string
	User         string
	Password     string
	// Enabled gates execution: when false, sync jobs queue but are not
	// dispatched until the flag is turned on again.
	Enabled bool
	// RequestTimeout is the per-call deadline enforced by the engine.
	RequestTimeout time.Duration
	// RequestsPerSecond caps outbound calls (token bucket).
	RequestsPerSecond float64
}

// DatabaseConfig holds the storage settings.
type DatabaseConfig struct {
	File string
	// Connection pool settings. Sqlite tolerates few writers; defaults
	// keep the pool small.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// InviteConfig controls group invite issuing.
type InviteConfig struct {
	ExpireTime  time.Duration
	MemberLimit int
}

// AdminConfig carries the bootstrap administrator list; the runtime
// admin set is the union of this list and chat-detected admins.
type AdminConfig struct {
	BootstrapIDs []domain.ChatUserID
	// RefreshInterval is how often the admin cache re-syncs from the
	// chat platform.
	RefreshInterval time.Duration
}

// ServerConfig holds the operational HTTP API settings. The API is
// meant to sit behind a reverse proxy; AuthToken gates the admin
// routes and, when empty, disables them entirely.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	groupID, err := envInt64("TELEGRAM_GROUP_ID", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Telegram: TelegramConfig{
			Token:          os.Getenv("TELEGRAM_TOKEN"),
			GroupID:        groupID,
			RulesTopicID:   envInt64Lenient("RULES_TOPIC_ID"),
			WelcomeTopicID: envInt64Lenient("WELCOME_TOPIC_ID"),
			SupportTopicID: envInt64Lenient("SUPPORT_TOPIC_ID"),
		},
		HubSoft: HubSoftConfig{
			Host:              getEnvOrDefault("HUBSOFT_HOST", ""),
			ClientID:          os.Getenv("HUBSOFT_CLIENT_ID"),
			ClientSecret:      os.Getenv("HUBSOFT_CLIENT_SECRET"),
			User:              os.Getenv("HUBSOFT_USER"),
			Password:          os.Getenv("HUBSOFT_PASSWORD"),
			Enabled:           envBool("HUBSOFT_ENABLED", true),
			RequestTimeout:    envDuration("HUBSOFT_REQUEST_TIMEOUT", 30*time.Second),
			RequestsPerSecond: envFloat("HUBSOFT_REQUESTS_PER_SECOND", 10),
		},
		Database: DatabaseConfig{
			File:            getEnvOrDefault("DATABASE_FILE", "data/oncabito.db"),
			MaxOpenConns:    envIntDefault("DB_MAX_OPEN_CONNS", 4),
			MaxIdleConns:    envIntDefault("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: 30 * time.Minute,
		},
		Invites: InviteConfig{
			ExpireTime:  envDuration("INVITE_LINK_EXPIRE_TIME", time.Hour),
			MemberLimit: envIntDefault("INVITE_LINK_MEMBER_LIMIT", 1),
		},
		Engine: loadEngineConfig(),
		Admins: AdminConfig{
			BootstrapIDs:    parseAdminIDs(os.Getenv("ADMIN_USER_IDS")),
			RefreshInterval: envDuration("ADMIN_REFRESH_INTERVAL", 6*time.Hour),
		},
		Server: ServerConfig{
			Addr:      getEnvOrDefault("API_LISTEN_ADDR", ":8080"),
			AuthToken: os.Getenv("API_AUTH_TOKEN"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if c.Telegram.GroupID == 0 {
		return fmt.Errorf("TELEGRAM_GROUP_ID is required")
	}
	if c.HubSoft.Enabled {
		for name, v := range map[string]string{
			"HUBSOFT_HOST":          c.HubSoft.Host,
			"HUBSOFT_CLIENT_ID":     c.HubSoft.ClientID,
			"HUBSOFT_CLIENT_SECRET": c.HubSoft.ClientSecret,
			"HUBSOFT_USER":          c.HubSoft.User,
			"HUBSOFT_PASSWORD":      c.HubSoft.Password,
		} {
			if v == "" {
				return fmt.Errorf("%s is required when HUBSOFT_ENABLED=true", name)
			}
		}
	}
	if c.Invites.MemberLimit < 1 {
		return fmt.Errorf("INVITE_LINK_MEMBER_LIMIT must be at least 1")
	}
	if c.Database.File == "" {
		return fmt.Errorf("DATABASE_FILE must not be empty")
	}
	return c.Engine.Validate()
}

// parseAdminIDs parses the comma-separated bootstrap admin list.
// Malformed entries are skipped.
func parseAdminIDs(raw string) []domain.ChatUserID {
	if raw == "" {
		return nil
	}
	var ids []domain.ChatUserID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, domain.ChatUserID(id))
	}
	return ids
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envInt64Lenient(key string) int64 {
	n, _ := strconv.ParseInt(os.Getenv(key), 10, 64)
	return n
}

func envIntDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func envFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	val := strings.ToLower(os.Getenv(key))
	switch val {
	case "":
		return defaultVal
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// envDuration accepts either a Go duration string ("30m") or a plain
// number of seconds (the format the original deployment used).
func envDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return defaultVal
}
