package storeauth

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// EnvConfig mirrors Config as STOREAUTH_* environment variables.
type EnvConfig struct {
	LoginWindow             time.Duration `env:"STOREAUTH_LOGIN_WINDOW,default=15m"`
	MaxLoginAttempts        int           `env:"STOREAUTH_MAX_LOGIN_ATTEMPTS,default=5"`
	OTPCooldown             time.Duration `env:"STOREAUTH_OTP_COOLDOWN,default=60s"`
	MaxVerificationAttempts int           `env:"STOREAUTH_MAX_VERIFICATION_ATTEMPTS,default=5"`
	IdleRetention           time.Duration `env:"STOREAUTH_LIMIT_IDLE_RETENTION,default=1h"`
	CleanupInterval         time.Duration `env:"STOREAUTH_LIMIT_CLEANUP_INTERVAL,default=10m"`

	EventCapacity         int           `env:"STOREAUTH_EVENT_CAPACITY,default=100"`
	SuspicionWindow       time.Duration `env:"STOREAUTH_SUSPICION_WINDOW,default=15m"`
	NotificationBuffer    int           `env:"STOREAUTH_NOTIFICATION_BUFFER,default=64"`
	NotificationTimeout   time.Duration `env:"STOREAUTH_NOTIFICATION_TIMEOUT,default=5s"`
	ResetRedirectURL      string        `env:"STOREAUTH_RESET_REDIRECT_URL,default=http://localhost:8080/reset-password"`
	RecoveryChallengeTTL  time.Duration `env:"STOREAUTH_RECOVERY_CHALLENGE_TTL,default=15m"`
	RedisPrefix           string        `env:"STOREAUTH_REDIS_PREFIX,default=sa:rl"`
	ProductionMode        bool          `env:"STOREAUTH_PRODUCTION,default=false"`
	MetricsEnabled        bool          `env:"STOREAUTH_METRICS,default=true"`
	LatencyHistograms     bool          `env:"STOREAUTH_LATENCY_HISTOGRAMS,default=true"`
	DisableLimiterJanitor bool          `env:"STOREAUTH_DISABLE_JANITOR,default=false"`
}

// LoadConfigFromEnv builds a Config from the process environment.
func LoadConfigFromEnv(ctx context.Context) (Config, error) {
	var env EnvConfig
	if err := envconfig.Process(ctx, &env); err != nil {
		return Config{}, err
	}
	cfg := env.Config()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Config converts the environment view into a Config.
func (e EnvConfig) Config() Config {
	cfg := DefaultConfig()

	cfg.RateLimit.LoginWindow = e.LoginWindow
	cfg.RateLimit.MaxLoginAttempts = e.MaxLoginAttempts
	cfg.RateLimit.OTPCooldown = e.OTPCooldown
	cfg.RateLimit.MaxVerificationAttempts = e.MaxVerificationAttempts
	cfg.RateLimit.IdleRetention = e.IdleRetention
	cfg.RateLimit.CleanupInterval = e.CleanupInterval

	cfg.Monitor.Capacity = e.EventCapacity
	cfg.Monitor.SuspicionWindow = e.SuspicionWindow
	cfg.Monitor.Notifications.BufferSize = e.NotificationBuffer
	cfg.Monitor.Notifications.Timeout = e.NotificationTimeout
	cfg.Monitor.ProductionMode = e.ProductionMode

	cfg.Recovery.RedirectURL = e.ResetRedirectURL
	cfg.Recovery.ChallengeTTL = e.RecoveryChallengeTTL
	cfg.Redis.Prefix = e.RedisPrefix
	cfg.ProductionMode = e.ProductionMode
	cfg.Metrics.Enabled = e.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = e.MetricsEnabled && e.LatencyHistograms
	cfg.StartJanitor = !e.DisableLimiterJanitor

	return cfg
}
