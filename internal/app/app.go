package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelrelay/admission/internal/circuit"
	"github.com/modelrelay/admission/internal/config"
	"github.com/modelrelay/admission/internal/db"
	"github.com/modelrelay/admission/internal/ratelimit"
	"github.com/modelrelay/admission/internal/settings"
	"github.com/modelrelay/admission/internal/store"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App owns the constructed-once admission components. It replaces ambient
// globals: everything downstream receives its dependencies from here.
type App struct {
	Config config.AppConfig

	DB    *gorm.DB
	Redis *redis.Client

	Manager    *ratelimit.Manager
	Registry   *circuit.Registry
	Dispatcher *Dispatcher
}

// New builds the application graph: database, shared stores, limiter,
// manager, and breaker registry. Redis being unreachable is not fatal; the
// core degrades to in-process state.
func New(ctx context.Context, cfg config.AppConfig) (*App, error) {
	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return nil, errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return nil, errMigrate
	}
	log.WithField("dialect", db.DialectName(conn)).Info("app: database ready")

	client := openRedis(ctx, cfg.Redis)
	prefix := strings.TrimSpace(cfg.Redis.Prefix)
	if prefix == "" {
		prefix = settings.DefaultRedisPrefix
	}

	memory := ratelimit.NewMemoryStore()
	var counters ratelimit.CounterStore = memory
	var breakerStates circuit.StateStore = circuit.NewMemoryStateStore()
	if client != nil {
		counters = ratelimit.NewFailoverStore(ratelimit.NewRedisStore(client, prefix+":rl"), memory, nil)
		breakerStates = circuit.NewRedisStateStore(client, prefix+":cb")
	}

	defaults := store.LoadDefaultLimits(ctx, conn)
	opts := store.LoadManagerOptions(ctx, conn)
	resolver := ratelimit.NewResolver(
		store.NewGormAccountDirectory(conn),
		store.NewGormOverrideStore(conn),
		ratelimit.NewDomainClassifier(cfg.RateLimit.BlockedDomains),
		defaults,
	)
	limiter := ratelimit.NewSlidingWindowLimiter(counters, nil)
	manager := ratelimit.NewManager(limiter, resolver, nil, opts)

	registry := circuit.NewRegistry(
		breakerStates,
		breakerConfig(cfg.Circuit.Defaults),
		breakerOverrides(cfg.Circuit.Providers),
		nil,
	)

	return &App{
		Config:     cfg,
		DB:         conn,
		Redis:      client,
		Manager:    manager,
		Registry:   registry,
		Dispatcher: NewDispatcher(registry),
	}, nil
}

// Close releases connections. Call once on shutdown.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.Redis != nil {
		if errClose := a.Redis.Close(); errClose != nil {
			log.WithError(errClose).Warn("app: redis close failed")
		}
	}
	if a.DB != nil {
		sqlDB, errDB := a.DB.DB()
		if errDB != nil {
			return fmt.Errorf("app: unwrap db: %w", errDB)
		}
		return sqlDB.Close()
	}
	return nil
}

// openRedis connects and pings the shared store, returning nil when it is
// disabled or unreachable so the caller can run in degraded mode.
func openRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled || strings.TrimSpace(cfg.Addr) == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		log.WithError(errPing).Warn("app: redis unreachable, starting with in-process state only")
		_ = client.Close()
		return nil
	}
	return client
}

func breakerConfig(cfg config.BreakerConfig) circuit.Config {
	return circuit.Config{
		FailureThreshold:    cfg.FailureThreshold,
		SuccessThreshold:    cfg.SuccessThreshold,
		Timeout:             cfg.Timeout,
		HalfOpenMaxFailures: cfg.HalfOpenMaxFailures,
	}
}

func breakerOverrides(providers map[string]config.BreakerConfig) map[string]circuit.Config {
	if len(providers) == 0 {
		return nil
	}
	overrides := make(map[string]circuit.Config, len(providers))
	for provider, cfg := range providers {
		overrides[provider] = breakerConfig(cfg)
	}
	return overrides
}
