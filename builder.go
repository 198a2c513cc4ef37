package storeauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yanlnery/glowing-docs-portal-sub000/internal/loop"
	"github.com/yanlnery/glowing-docs-portal-sub000/monitor"
	"github.com/yanlnery/glowing-docs-portal-sub000/ratelimit"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Builder assembles a Controller. A Builder can be used once.
type Builder struct {
	config Config

	provider Provider
	profiles ProfileStore

	redis      redis.UniversalClient
	limitStore ratelimit.Store
	limiter    *ratelimit.Limiter
	monitor    *monitor.Monitor
	notifier   monitor.Notifier

	logger         *zap.Logger
	tracerProvider trace.TracerProvider
	now            func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithProvider sets the identity provider. Required.
func (b *Builder) WithProvider(p Provider) *Builder {
	b.provider = p
	return b
}

// WithProfileStore sets the profile table. Required.
func (b *Builder) WithProfileStore(s ProfileStore) *Builder {
	b.profiles = s
	return b
}

// WithRedis backs the attempt limiter with Redis so budgets are shared across
// instances. Ignored when WithRateLimitStore or WithLimiter is used.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRateLimitStore sets the limiter store explicitly.
func (b *Builder) WithRateLimitStore(s ratelimit.Store) *Builder {
	b.limitStore = s
	return b
}

// WithLimiter shares an existing limiter. The controller does not stop it.
func (b *Builder) WithLimiter(l *ratelimit.Limiter) *Builder {
	b.limiter = l
	return b
}

// WithMonitor shares an existing monitor. The controller does not close it.
func (b *Builder) WithMonitor(m *monitor.Monitor) *Builder {
	b.monitor = m
	return b
}

// WithNotifier sets the notification target of the monitor Build creates.
func (b *Builder) WithNotifier(n monitor.Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithClock replaces time.Now in every component Build creates.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the controller. The returned
// controller is idle until Start.
func (b *Builder) Build() (*Controller, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.provider == nil {
		return nil, errors.New("provider required")
	}
	if b.profiles == nil {
		return nil, errors.New("profile store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := b.tracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	c := &Controller{
		config:     cfg,
		provider:   b.provider,
		profiles:   b.profiles,
		metrics:    NewMetrics(cfg.Metrics),
		logger:     logger,
		tracer:     tp.Tracer(instrumentationName),
		now:        now,
		challenges: make(map[string]recoveryChallenge),
		watchers:   make(map[uint64]func(Snapshot)),
	}

	// -------- RATE LIMITER --------
	if b.limiter != nil {
		c.limiter = b.limiter
	} else {
		store := b.limitStore
		if store == nil && b.redis != nil {
			store = ratelimit.NewRedisStore(b.redis, cfg.Redis.Prefix, cfg.RateLimit.IdleRetention)
		}
		limiter, err := ratelimit.New(cfg.RateLimit, store, ratelimit.WithClock(now))
		if err != nil {
			return nil, err
		}
		c.limiter = limiter
		c.ownsLimiter = true
	}

	// -------- SECURITY MONITOR --------
	if b.monitor != nil {
		c.monitor = b.monitor
	} else {
		mcfg := cfg.Monitor
		mcfg.ProductionMode = mcfg.ProductionMode || cfg.ProductionMode
		c.monitor = monitor.New(mcfg,
			monitor.WithLogger(logger.Named("monitor")),
			monitor.WithNotifier(b.notifier),
			monitor.WithClock(now),
		)
		c.ownsMonitor = true
	}

	c.queue = loop.New()

	b.built = true

	return c, nil
}
