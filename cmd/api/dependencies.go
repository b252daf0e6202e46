package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/outcomesignal/entitlements-api/internal/domain/entitlements/handler"
	"github.com/outcomesignal/entitlements-api/internal/domain/events"
	"github.com/outcomesignal/entitlements-api/internal/domain/expiration"
	"github.com/outcomesignal/entitlements-api/internal/domain/limits"
	"github.com/outcomesignal/entitlements-api/internal/domain/subscription"
	"github.com/outcomesignal/entitlements-api/pkg/config"
	"github.com/outcomesignal/entitlements-api/pkg/db"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	redis *redis.Client

	// Repositories
	SubscriptionStore subscription.Store

	// Services
	Enforcer  *limits.Enforcer
	Emitter   *events.Emitter
	Job       *expiration.Job
	Scheduler *expiration.Scheduler

	// Handlers
	EntitlementHandler *handler.EntitlementHandler
	ExpirationHandler  *expiration.Handler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initServices(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase(ctx context.Context) error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        d.Config.Database.MaxConns,
		MinConns:        d.Config.Database.MinConns,
		MaxConnLifetime: d.Config.Database.MaxConnLifetime,
		MaxConnIdleTime: d.Config.Database.MaxConnIdleTime,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if d.Config.Database.RunMigrations {
		if err := d.DB.RunMigrations(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	d.Logger.Info("database connected")
	return nil
}

func (d *Dependencies) initRepositories() {
	d.SubscriptionStore = subscription.NewPostgresStore(d.DB.Pool, d.Config.Entitlements.TrialPeriod, d.Logger)
	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initServices(ctx context.Context) error {
	d.Enforcer = limits.NewEnforcer(d.SubscriptionStore, d.Logger)
	d.Job = expiration.NewJob(d.SubscriptionStore, d.Logger)
	d.Scheduler = expiration.NewScheduler(d.Job, d.Config.Entitlements.ExpirationInterval, d.Logger)

	publisher, err := d.eventPublisher(ctx)
	if err != nil {
		return err
	}
	d.Emitter = events.NewEmitter(publisher, events.EmitterOptions{
		QueueSize:    d.Config.Entitlements.EventQueueSize,
		DedupeWindow: d.Config.Entitlements.EventDedupeWindow,
	}, d.Logger)

	d.Logger.Info("services initialized")
	return nil
}

// eventPublisher picks the Redis stream when configured and falls back to
// structured logs otherwise.
func (d *Dependencies) eventPublisher(ctx context.Context) (events.Publisher, error) {
	rc := d.Config.Redis
	if rc.Addr == "" {
		d.Logger.Info("REDIS_ADDR not set; paywall events go to the log")
		return events.NewLogPublisher(d.Logger), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", rc.Addr, err)
	}
	d.redis = client
	d.Logger.Info("paywall events publishing to redis stream", "addr", rc.Addr, "stream", rc.Stream)
	return events.NewRedisPublisher(client, rc.Stream, rc.StreamMaxLen), nil
}

func (d *Dependencies) initHandlers() {
	d.EntitlementHandler = handler.NewEntitlementHandler(d.Enforcer, d.SubscriptionStore, d.Emitter, d.Logger)
	d.ExpirationHandler = expiration.NewHandler(d.Job, d.Config.Database.ServiceKey, d.Logger)
	d.Logger.Info("handlers initialized")
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.redis != nil {
		d.redis.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
