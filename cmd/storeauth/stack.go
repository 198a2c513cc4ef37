package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"
	storeauth "github.com/yanlnery/glowing-docs-portal-sub000"
	"github.com/yanlnery/glowing-docs-portal-sub000/internal/logger"
	"github.com/yanlnery/glowing-docs-portal-sub000/monitor"
	"github.com/yanlnery/glowing-docs-portal-sub000/profilestore"
	"github.com/yanlnery/glowing-docs-portal-sub000/provider/memory"
	"go.uber.org/zap"
)

// infraConfig holds the process-level wiring that storeauth.Config does not
// cover.
type infraConfig struct {
	RedisAddr     string `env:"STOREAUTH_REDIS_ADDR"`
	EmbeddedRedis bool   `env:"STOREAUTH_EMBEDDED_REDIS,default=false"`
	DatabaseURL   string `env:"STOREAUTH_DATABASE_URL"`
	WebhookURL    string `env:"STOREAUTH_WEBHOOK_URL"`
	NATSURL       string `env:"STOREAUTH_NATS_URL"`
	NATSSubject   string `env:"STOREAUTH_NATS_SUBJECT,default=storeauth.security"`
	DebugAddr     string `env:"STOREAUTH_DEBUG_ADDR,default=127.0.0.1:9090"`

	Log logger.Config
}

func loadInfraConfig(ctx context.Context) (infraConfig, error) {
	var cfg infraConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return infraConfig{}, fmt.Errorf("load infra config: %w", err)
	}
	return cfg, nil
}

// stack is a fully wired controller plus the in-memory provider behind it.
type stack struct {
	controller *storeauth.Controller
	provider   *memory.Provider
	outbox     *memory.Outbox
	logger     *zap.Logger
	closers    []func()
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	_ = s.logger.Sync()
}

type stackOptions struct {
	// configure adjusts the controller config before Build.
	configure func(*storeauth.Config)
}

func buildStack(ctx context.Context, opts stackOptions) (_ *stack, err error) {
	infra, err := loadInfraConfig(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := storeauth.LoadConfigFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("load controller config: %w", err)
	}
	if opts.configure != nil {
		opts.configure(&cfg)
	}

	log, err := logger.New(infra.Log)
	if err != nil {
		return nil, err
	}

	s := &stack{logger: log}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	client, err := s.openRedis(infra)
	if err != nil {
		return nil, err
	}

	profiles, err := s.openProfiles(ctx, infra, client)
	if err != nil {
		return nil, err
	}

	notifier, err := s.openNotifier(infra)
	if err != nil {
		return nil, err
	}

	s.outbox = memory.NewOutbox()
	s.provider, err = memory.New(
		memory.WithMailer(s.outbox),
		memory.WithLogger(log.Named("provider")),
	)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	b := storeauth.New().
		WithConfig(cfg).
		WithProvider(s.provider).
		WithProfileStore(profiles).
		WithNotifier(notifier).
		WithLogger(log.Named("controller"))
	if client != nil {
		b.WithRedis(client)
	}
	s.controller, err = b.Build()
	if err != nil {
		return nil, fmt.Errorf("build controller: %w", err)
	}
	s.closers = append(s.closers, s.controller.Close)

	if err := s.controller.Start(ctx); err != nil {
		return nil, fmt.Errorf("start controller: %w", err)
	}
	return s, nil
}

func (s *stack) openRedis(infra infraConfig) (redis.UniversalClient, error) {
	addr := infra.RedisAddr
	if addr == "" && infra.EmbeddedRedis {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		s.closers = append(s.closers, mr.Close)
		addr = mr.Addr()
		s.logger.Info("using embedded redis", zap.String("addr", addr))
	}
	if addr == "" {
		return nil, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	s.closers = append(s.closers, func() { _ = client.Close() })
	return client, nil
}

func (s *stack) openProfiles(ctx context.Context, infra infraConfig, client redis.UniversalClient) (storeauth.ProfileStore, error) {
	var store storeauth.ProfileStore = profilestore.NewMemory(nil)

	if infra.DatabaseURL != "" {
		db, err := profilestore.Open(infra.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = db.Close() })
		if err := pingAndMigrate(ctx, db, infra.DatabaseURL); err != nil {
			return nil, err
		}
		store = profilestore.NewPostgres(db)
	}

	if client != nil {
		store = profilestore.NewRedisCache(store, client, "", 0, s.logger.Named("profile-cache"))
	}
	return store, nil
}

func pingAndMigrate(ctx context.Context, db *sql.DB, url string) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return profilestore.Migrate(url)
}

func (s *stack) openNotifier(infra infraConfig) (monitor.Notifier, error) {
	notifiers := monitor.MultiNotifier{monitor.NewLogNotifier(s.logger.Named("notify"))}

	if infra.WebhookURL != "" {
		notifiers = append(notifiers, monitor.NewWebhookNotifier(infra.WebhookURL, nil, nil))
	}
	if infra.NATSURL != "" {
		n, err := monitor.NewNATSNotifier(infra.NATSURL, infra.NATSSubject)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		s.closers = append(s.closers, n.Close)
		notifiers = append(notifiers, n)
	}
	return notifiers, nil
}
