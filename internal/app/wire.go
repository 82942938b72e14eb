package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/flasharb/internal/blob/s3"
	"github.com/alanyoungcy/flasharb/internal/cache/redis"
	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/store/postgres"
	"github.com/alanyoungcy/flasharb/internal/store/sqlite"
	"github.com/alanyoungcy/flasharb/internal/telemetry"
)

// Dependencies bundles the optional infrastructure behind telemetry and the
// execution lease. Every field may be nil when its backend is disabled.
type Dependencies struct {
	// Stores
	EventStore     domain.EventStore
	ExecutionStore domain.ExecutionStore
	storeName      string

	// Caches
	EventBus  domain.EventBus
	TickCache domain.TickCache
	Lease     domain.Leaser

	// Object storage
	Objects  domain.ObjectStore
	Archiver *s3blob.Archiver

	// Probes reported by the health endpoint, keyed by backend name.
	Probes map[string]func(context.Context) error
}

// Wire constructs the enabled backends and returns them together with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Probes: make(map[string]func(context.Context) error)}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "postgres migrations applied", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.EventStore = postgres.NewEventStore(pool)
		deps.ExecutionStore = postgres.NewExecutionStore(pool)
		deps.storeName = "postgres"
		deps.Probes["postgres"] = pgClient.Health
		logger.InfoContext(ctx, "postgres connected")
	}

	// --- SQLite (local fallback when Postgres is off) ---
	if cfg.SQLite.Enabled && deps.EventStore == nil {
		db, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })

		deps.EventStore = sqlite.NewEventStore(db)
		deps.ExecutionStore = sqlite.NewExecutionStore(db)
		deps.storeName = "sqlite"
		deps.Probes["sqlite"] = db.Health
		logger.InfoContext(ctx, "sqlite opened", slog.String("path", cfg.SQLite.Path))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Probes["redis"] = redisClient.Health
		deps.EventBus = redis.NewEventBus(redisClient, cfg.Redis.StreamMaxLen)
		if cfg.Telemetry.RedisTickCache {
			deps.TickCache = redis.NewTickCache(redisClient, cfg.Redis.TickTTL.Duration)
		}
		if cfg.Execution.LeaseTTL.Duration > 0 {
			deps.Lease = redis.NewLeaseManager(redisClient)
		}
		logger.InfoContext(ctx, "redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	// --- S3 telemetry archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Objects = s3blob.NewObjects(s3Client, cfg.S3.MultipartThreshold)
		deps.Archiver = s3blob.NewArchiver(s3blob.ArchiverConfig{
			Prefix:    cfg.S3.Prefix,
			MaxEvents: cfg.S3.MaxEvents,
			MaxAge:    cfg.S3.MaxAge.Duration,
		}, deps.Objects)
		deps.Probes["s3"] = s3Client.Health

		archiver := deps.Archiver
		closers = append(closers, func() {
			fctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := archiver.Flush(fctx); err != nil {
				logger.Error("final archive flush failed", slog.String("error", err.Error()))
			}
		})
		logger.InfoContext(ctx, "s3 archive enabled", slog.String("bucket", cfg.S3.Bucket))
	}

	return deps, cleanup, nil
}

// Routes builds the telemetry sink routes for the wired backends. The log
// route is always present.
func (d *Dependencies) Routes(cfg config.TelemetryConfig, logger *slog.Logger) []telemetry.Route {
	routes := []telemetry.Route{{
		Sink:   telemetry.NewLogSink(logger),
		Events: telemetry.ParseEventTypes(cfg.LogEvents),
	}}
	if d.EventStore != nil {
		routes = append(routes, telemetry.Route{
			Sink:   telemetry.NewStoreSink(d.storeName, d.EventStore),
			Events: telemetry.ParseEventTypes(cfg.StoreEvents),
		})
	}
	if d.ExecutionStore != nil {
		routes = append(routes, telemetry.Route{
			Sink:   telemetry.NewExecutionSink(d.ExecutionStore),
			Events: []domain.EventType{domain.EventExecutionTransition},
		})
	}
	if d.EventBus != nil && (cfg.RedisStream != "" || cfg.RedisChannel != "") {
		routes = append(routes, telemetry.Route{
			Sink:   telemetry.NewBusSink(d.EventBus, cfg.RedisStream, cfg.RedisChannel),
			Events: telemetry.ParseEventTypes(cfg.StreamEvents),
		})
	}
	if d.TickCache != nil {
		routes = append(routes, telemetry.Route{
			Sink:   telemetry.NewTickCacheSink(d.TickCache),
			Events: []domain.EventType{domain.EventTickIngested},
		})
	}
	if d.Archiver != nil {
		routes = append(routes, telemetry.Route{
			Sink:   d.Archiver,
			Events: telemetry.ParseEventTypes(cfg.ArchiveEvents),
		})
	}
	return routes
}
