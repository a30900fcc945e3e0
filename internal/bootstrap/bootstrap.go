// Package bootstrap wires configuration into stores, coordination adapters
// and use cases. The server and the operator CLI share it.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/adapter/events"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/adapter/lock"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/adapter/persistence"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/adapter/ratelimit"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/config"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/logger"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/ports"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/usecase"
	"github.com/unmappedos-sys/unmappedOS-sub002/pkg/clock"
)

const serviceName = "zonetrust"

// App holds the wired engine
type App struct {
	Config     *config.Config
	Logger     logger.Logger
	Clock      clock.Clock
	DB         *sql.DB
	Redis      *redis.Client
	KillSwitch *usecase.KillSwitchUseCase
	Reconciler *usecase.ReconciliationUseCase
	Summary    *usecase.SummaryUseCase
}

// NewLogger builds the structured logger described by the config
func NewLogger(cfg *config.Config) logger.Logger {
	return logger.NewStructuredLogger(logger.LoggerConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: serviceName,
	})
}

// OpenDatabase connects to PostgreSQL and verifies the connection
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// OpenRedis connects to Redis and verifies the connection
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// New builds the engine. The memory store keeps nothing across restarts
// and is meant for local runs; postgres is the durable store.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: log, Clock: clock.Real()}

	var (
		records ports.KillSwitchRepository
		reports ports.AnomalyRepository
	)
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := OpenDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		app.DB = db
		records = persistence.NewPostgresKillSwitchRepository(db)
		reports = persistence.NewPostgresAnomalyRepository(db)
		log.Info(ctx, "PostgreSQL store connected", map[string]interface{}{
			"max_connections": cfg.Database.MaxConnections,
		})
	default:
		records = persistence.NewMemoryKillSwitchRepository()
		reports = persistence.NewMemoryAnomalyRepository()
		log.Warn(ctx, "Using in-memory store; records are lost on restart", nil)
	}

	var (
		locker    ports.KeyLocker           = lock.NewLocalLocker()
		limiter   ports.ReportLimiter       = ratelimit.NoopLimiter{}
		publisher ports.TransitionPublisher = events.NoopPublisher{}
	)
	if cfg.Redis.Enabled {
		client, err := OpenRedis(ctx, cfg.Redis.URL)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Redis = client
		locker = lock.NewRedisLocker(client, lock.RedisLockerConfig{TTL: cfg.Redis.LockTTL}, log)
		limiter = ratelimit.NewRedisLimiter(client, ratelimit.Config{
			Limit:  cfg.RateLimit.Reports,
			Window: cfg.RateLimit.Window,
		}, log)
		publisher = events.NewRedisPublisher(client, cfg.Redis.Channel)
		log.Info(ctx, "Redis coordination enabled", map[string]interface{}{
			"channel":  cfg.Redis.Channel,
			"lock_ttl": cfg.Redis.LockTTL.String(),
		})
	} else {
		log.Info(ctx, "Redis disabled; using process-local locks", nil)
	}

	opts := usecase.WriterOptions{
		PersistTimeout:  cfg.Engine.PersistTimeout,
		ConflictRetries: cfg.Engine.ConflictRetries,
	}
	app.KillSwitch = usecase.NewKillSwitchUseCase(records, reports, locker, limiter, publisher, cfg.Policy, app.Clock, log, opts)
	app.Reconciler = usecase.NewReconciliationUseCase(records, locker, publisher, cfg.Policy, app.Clock, log, opts, cfg.Engine.ReconcileConcurrency)
	app.Summary = usecase.NewSummaryUseCase(records, app.Clock)
	return app, nil
}

// Close releases the database and Redis connections
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
