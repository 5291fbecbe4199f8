package core

import (
	"fmt"
	"strings"
	"time"
)

// RefreshConfig tunes the perpetual token refresh loop.
type RefreshConfig struct {
	AdvanceWindowSeconds  int `koanf:"advance_window_seconds" mapstructure:"advance_window_seconds"`
	FailureBackoffSeconds int `koanf:"failure_backoff_seconds" mapstructure:"failure_backoff_seconds"`
	MaxAttempts           int `koanf:"max_attempts" mapstructure:"max_attempts"`
	LockTTLSeconds        int `koanf:"lock_ttl_seconds" mapstructure:"lock_ttl_seconds"`
}

// SyncConfig tunes the paginate-and-reconcile loop.
type SyncConfig struct {
	PageTimeoutSeconds int `koanf:"page_timeout_seconds" mapstructure:"page_timeout_seconds"`
	LockTTLSeconds     int `koanf:"lock_ttl_seconds" mapstructure:"lock_ttl_seconds"`
}

// SchedulerConfig tunes the durable step dispatcher.
type SchedulerConfig struct {
	PollIntervalMS        int `koanf:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	ClaimBatchSize        int `koanf:"claim_batch_size" mapstructure:"claim_batch_size"`
	MaxAttempts           int `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialRetryDelaySecs int `koanf:"initial_retry_delay_seconds" mapstructure:"initial_retry_delay_seconds"`
	MaxRetryDelaySecs     int `koanf:"max_retry_delay_seconds" mapstructure:"max_retry_delay_seconds"`
}

// RateLimitConfig tunes throttling behavior for vendor calls.
type RateLimitConfig struct {
	DefaultRetryAfterSeconds int `koanf:"default_retry_after_seconds" mapstructure:"default_retry_after_seconds"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Refresh     RefreshConfig   `koanf:"refresh" mapstructure:"refresh"`
	Sync        SyncConfig      `koanf:"sync" mapstructure:"sync"`
	Scheduler   SchedulerConfig `koanf:"scheduler" mapstructure:"scheduler"`
	RateLimit   RateLimitConfig `koanf:"rate_limit" mapstructure:"rate_limit"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "dirsync",
		Refresh: RefreshConfig{
			AdvanceWindowSeconds:  300,
			FailureBackoffSeconds: 300,
			MaxAttempts:           3,
			LockTTLSeconds:        30,
		},
		Sync: SyncConfig{
			PageTimeoutSeconds: 60,
			LockTTLSeconds:     30,
		},
		Scheduler: SchedulerConfig{
			PollIntervalMS:        1000,
			ClaimBatchSize:        10,
			MaxAttempts:           3,
			InitialRetryDelaySecs: 1,
			MaxRetryDelaySecs:     300,
		},
		RateLimit: RateLimitConfig{
			DefaultRetryAfterSeconds: 60,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Refresh.AdvanceWindowSeconds < 0 {
		return fmt.Errorf("core: refresh.advance_window_seconds cannot be negative")
	}
	if c.Refresh.FailureBackoffSeconds < 0 {
		return fmt.Errorf("core: refresh.failure_backoff_seconds cannot be negative")
	}
	if c.Scheduler.ClaimBatchSize < 0 {
		return fmt.Errorf("core: scheduler.claim_batch_size cannot be negative")
	}
	if c.RateLimit.DefaultRetryAfterSeconds < 0 {
		return fmt.Errorf("core: rate_limit.default_retry_after_seconds cannot be negative")
	}
	return nil
}

func (c RefreshConfig) AdvanceWindow() time.Duration {
	return time.Duration(c.AdvanceWindowSeconds) * time.Second
}

func (c RefreshConfig) FailureBackoff() time.Duration {
	return time.Duration(c.FailureBackoffSeconds) * time.Second
}

func (c RefreshConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c SyncConfig) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutSeconds) * time.Second
}

func (c SyncConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c SchedulerConfig) InitialRetryDelay() time.Duration {
	return time.Duration(c.InitialRetryDelaySecs) * time.Second
}

func (c SchedulerConfig) MaxRetryDelay() time.Duration {
	return time.Duration(c.MaxRetryDelaySecs) * time.Second
}

func (c RateLimitConfig) DefaultRetryAfter() time.Duration {
	return time.Duration(c.DefaultRetryAfterSeconds) * time.Second
}
