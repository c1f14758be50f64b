package jobcore

import "time"

// Environment identifies the deployment context. The control plane uses it
// to decide whether destructive operations need human approval.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds configuration for the Coordinator.
type Config struct {
	// Environment is the deployment context (development/staging/production).
	Environment Environment

	// PollInterval is how often idle workers poll for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often active leases are renewed.
	HeartbeatInterval time.Duration

	// StallThreshold is how long a leased job may go without a heartbeat
	// before it is reclaimed back to waiting.
	StallThreshold time.Duration

	// MonitorInterval is how often queue metrics are recomputed.
	MonitorInterval time.Duration

	// RetentionInterval is how often the retention sweeper runs.
	RetentionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Environment:       EnvDevelopment,
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StallThreshold:    30 * time.Second,
		MonitorInterval:   30 * time.Second,
		RetentionInterval: 1 * time.Minute,
	}
}
