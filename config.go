package storeauth

import (
	"errors"
	"net/url"
	"time"

	"github.com/yanlnery/glowing-docs-portal-sub000/monitor"
	"github.com/yanlnery/glowing-docs-portal-sub000/ratelimit"
)

// Config holds every tunable of the controller and the services it builds.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable.
type Config struct {
	RateLimit ratelimit.Config
	Monitor   monitor.Config
	Metrics   MetricsConfig
	Recovery  RecoveryConfig
	Redis     RedisConfig
	// ProductionMode disables diagnostic traces and requires an https
	// password reset redirect.
	ProductionMode bool
	// StartJanitor runs the limiter cleanup loop for the controller's lifetime.
	StartJanitor bool
}

/*
====================================
RECOVERY CONFIG
====================================
*/

// RecoveryConfig controls the password reset flow.
type RecoveryConfig struct {
	// RedirectURL is passed to the provider as the reset link target.
	RedirectURL string
	// ChallengeTTL bounds how long an emailed code may be verified.
	ChallengeTTL time.Duration
}

// RedisConfig applies when the limiter is backed by Redis.
type RedisConfig struct {
	Prefix string
}

// MetricsConfig toggles the built-in counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the storefront defaults.
func DefaultConfig() Config {
	return Config{
		RateLimit: ratelimit.DefaultConfig(),
		Monitor:   monitor.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Recovery: RecoveryConfig{
			RedirectURL:  "http://localhost:8080/reset-password",
			ChallengeTTL: 15 * time.Minute,
		},
		Redis: RedisConfig{
			Prefix: "sa:rl",
		},
		StartJanitor: true,
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}

	if c.Monitor.Capacity < 0 {
		return errors.New("Monitor Capacity must be >= 0")
	}
	if c.Monitor.SuspicionWindow < 0 {
		return errors.New("Monitor SuspicionWindow must be >= 0")
	}
	if c.Monitor.Notifications.BufferSize < 0 {
		return errors.New("Monitor Notifications BufferSize must be >= 0")
	}

	if c.Recovery.ChallengeTTL <= 0 {
		return errors.New("Recovery ChallengeTTL must be > 0")
	}
	if c.Recovery.RedirectURL != "" {
		u, err := url.Parse(c.Recovery.RedirectURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("Recovery RedirectURL must be an absolute URL")
		}
		if c.ProductionMode && u.Scheme != "https" {
			return errors.New("Recovery RedirectURL must use https in ProductionMode")
		}
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
