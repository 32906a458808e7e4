// Package config holds the typed connection and migration parameters for a
// migration run. Values come from environment variables (via viper) with
// CLI flags layered on top by the command layer.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default limits. The server rejects batches over 1000 and more than a
// handful of workers just trips rate limiting.
const (
	DefaultBatchSize  = 100
	MaxBatchSize      = 1000
	DefaultWorkers    = 4
	MaxWorkers        = 10
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
)

// Connection describes one side (source or destination) of the migration.
type Connection struct {
	APIKey         string
	BaseURL        string
	VerifyTLS      bool
	TimeoutSeconds int
	MaxRetries     int
}

// Timeout returns the request timeout as a duration.
func (c Connection) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Migration holds the tunable migration parameters.
type Migration struct {
	BatchSize      int
	Workers        int
	DryRun         bool
	SkipExisting   bool
	ResumeOnError  bool
	Verbose        bool
	StreamExamples bool
	ChunkSize      int
	RateLimitDelay time.Duration
}

// Config is the complete configuration for one migration run.
type Config struct {
	Source    Connection
	Dest      Connection
	Migration Migration
}

// Load reads configuration from the environment. Flag overrides are applied
// by the caller after Load; Validate runs separately so the caller can merge
// first.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("verify_ssl", true)
	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("stream_examples", true)
	v.SetDefault("resume_on_error", true)
	v.SetDefault("rate_limit_delay", 0.1)

	bindings := map[string]string{
		"old_api_key":      "LANGSMITH_OLD_API_KEY",
		"new_api_key":      "LANGSMITH_NEW_API_KEY",
		"old_base_url":     "LANGSMITH_OLD_BASE_URL",
		"new_base_url":     "LANGSMITH_NEW_BASE_URL",
		"verify_ssl":       "LANGSMITH_VERIFY_SSL",
		"batch_size":       "MIGRATION_BATCH_SIZE",
		"workers":          "MIGRATION_WORKERS",
		"dry_run":          "MIGRATION_DRY_RUN",
		"verbose":          "MIGRATION_VERBOSE",
		"skip_existing":    "MIGRATION_SKIP_EXISTING",
		"resume_on_error":  "MIGRATION_RESUME_ON_ERROR",
		"stream_examples":  "MIGRATION_STREAM_EXAMPLES",
		"chunk_size":       "MIGRATION_CHUNK_SIZE",
		"rate_limit_delay": "MIGRATION_RATE_LIMIT_DELAY",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	cfg := &Config{
		Source: Connection{
			APIKey:         v.GetString("old_api_key"),
			BaseURL:        v.GetString("old_base_url"),
			VerifyTLS:      v.GetBool("verify_ssl"),
			TimeoutSeconds: int(DefaultTimeout.Seconds()),
			MaxRetries:     DefaultMaxRetries,
		},
		Dest: Connection{
			APIKey:         v.GetString("new_api_key"),
			BaseURL:        v.GetString("new_base_url"),
			VerifyTLS:      v.GetBool("verify_ssl"),
			TimeoutSeconds: int(DefaultTimeout.Seconds()),
			MaxRetries:     DefaultMaxRetries,
		},
		Migration: Migration{
			BatchSize:      v.GetInt("batch_size"),
			Workers:        v.GetInt("workers"),
			DryRun:         v.GetBool("dry_run"),
			SkipExisting:   v.GetBool("skip_existing"),
			ResumeOnError:  v.GetBool("resume_on_error"),
			Verbose:        v.GetBool("verbose"),
			StreamExamples: v.GetBool("stream_examples"),
			ChunkSize:      v.GetInt("chunk_size"),
			RateLimitDelay: time.Duration(v.GetFloat64("rate_limit_delay") * float64(time.Second)),
		},
	}
	return cfg, nil
}

// Validate checks the assembled configuration and returns every problem
// found, joined into one error.
func (c *Config) Validate() error {
	var problems []string
	if c.Source.APIKey == "" {
		problems = append(problems, "source API key is required (LANGSMITH_OLD_API_KEY)")
	}
	if c.Dest.APIKey == "" {
		problems = append(problems, "destination API key is required (LANGSMITH_NEW_API_KEY)")
	}
	if c.Migration.BatchSize <= 0 {
		problems = append(problems, fmt.Sprintf("batch size must be positive, got %d", c.Migration.BatchSize))
	}
	if c.Migration.BatchSize > MaxBatchSize {
		problems = append(problems, fmt.Sprintf("batch size %d exceeds maximum %d", c.Migration.BatchSize, MaxBatchSize))
	}
	if c.Migration.Workers <= 0 {
		problems = append(problems, fmt.Sprintf("worker count must be positive, got %d", c.Migration.Workers))
	}
	if c.Migration.Workers > MaxWorkers {
		problems = append(problems, fmt.Sprintf("worker count %d exceeds maximum %d", c.Migration.Workers, MaxWorkers))
	}
	if c.Migration.RateLimitDelay < 0 {
		problems = append(problems, "rate limit delay cannot be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
