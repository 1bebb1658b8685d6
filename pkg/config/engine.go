package config

import (
	"fmt"
	"time"
)

// EngineConfig tunes the integration engine's scheduler and sweeps.
type EngineConfig struct {
	// WorkerCount is the number of worker goroutines pulling jobs.
	WorkerCount int

	// PollInterval is the base interval for checking due jobs.
	PollInterval time.Duration

	// PollIntervalJitter randomizes polling to avoid worker lockstep.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration

	// BatchSize is how many due jobs a worker fetches per poll.
	BatchSize int

	// HealthCheckInterval is how often the upstream health monitor runs.
	HealthCheckInterval time.Duration

	// OrphanThresholdFactor multiplies a job's timeout to decide when an
	// IN_PROGRESS job with no completion is considered orphaned.
	OrphanThresholdFactor int

	// OrphanScanInterval is how often the orphan scan runs.
	OrphanScanInterval time.Duration

	// ExpirySweepInterval is how often pending verifications are swept
	// for expiration.
	ExpirySweepInterval time.Duration

	// JanitorInterval is how often completed integrations older than
	// JanitorRetention are pruned.
	JanitorInterval  time.Duration
	JanitorRetention time.Duration
	JanitorBatch     int

	// GracefulShutdownTimeout bounds the drain on Stop. Jobs still
	// running after the grace period are left IN_PROGRESS and reclaimed
	// by the orphan scan on next start.
	GracefulShutdownTimeout time.Duration
}

// DefaultEngineConfig returns the built-in engine defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		WorkerCount:             4,
		PollInterval:            5 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		BatchSize:               10,
		HealthCheckInterval:     5 * time.Minute,
		OrphanThresholdFactor:   2,
		OrphanScanInterval:      5 * time.Minute,
		ExpirySweepInterval:     5 * time.Minute,
		JanitorInterval:         time.Hour,
		JanitorRetention:        7 * 24 * time.Hour,
		JanitorBatch:            500,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

func loadEngineConfig() *EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.WorkerCount = envIntDefault("ENGINE_WORKER_COUNT", cfg.WorkerCount)
	cfg.PollInterval = envDuration("ENGINE_POLL_INTERVAL", cfg.PollInterval)
	cfg.BatchSize = envIntDefault("ENGINE_BATCH_SIZE", cfg.BatchSize)
	cfg.HealthCheckInterval = envDuration("ENGINE_HEALTH_CHECK_INTERVAL", cfg.HealthCheckInterval)
	cfg.OrphanScanInterval = envDuration("ENGINE_ORPHAN_SCAN_INTERVAL", cfg.OrphanScanInterval)
	cfg.ExpirySweepInterval = envDuration("ENGINE_EXPIRY_SWEEP_INTERVAL", cfg.ExpirySweepInterval)
	cfg.GracefulShutdownTimeout = envDuration("ENGINE_SHUTDOWN_TIMEOUT", cfg.GracefulShutdownTimeout)
	return cfg
}

// Validate checks the engine configuration bounds.
func (c *EngineConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("engine configuration is nil")
	}
	if c.WorkerCount < 1 || c.WorkerCount > 32 {
		return fmt.Errorf("engine worker_count must be between 1 and 32, got %d", c.WorkerCount)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("engine poll_interval must be positive")
	}
	if c.PollIntervalJitter < 0 {
		return fmt.Errorf("engine poll_interval_jitter must be non-negative")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("engine batch_size must be at least 1")
	}
	if c.OrphanThresholdFactor < 1 {
		return fmt.Errorf("engine orphan_threshold_factor must be at least 1")
	}
	if c.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("engine graceful_shutdown_timeout must be positive")
	}
	return nil
}
