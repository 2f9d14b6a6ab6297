package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/quantfall/helix/internal/blob/s3"
	"github.com/quantfall/helix/internal/cache/redis"
	"github.com/quantfall/helix/internal/config"
	"github.com/quantfall/helix/internal/domain"
	"github.com/quantfall/helix/internal/store/memory"
	"github.com/quantfall/helix/internal/store/postgres"
)

// Dependencies bundles the infrastructure the run modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Durable stores. In paper mode these are in-memory.
	FillLog   domain.FillLog
	Journal   domain.OrderJournal
	Snapshots domain.SnapshotStore

	// Caches and buses. Nil when Redis is unavailable in paper mode.
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	StatusBus   *redis.StatusBus

	// Cold storage. Nil unless archiving is enabled.
	Archiver      *s3blob.Archiver
	ArchiveReader *s3blob.Reader
}

// needsPostgres returns true for modes that require durable persistence.
// Server mode reads the shared fill history written by a trade-mode process.
func needsPostgres(mode string) bool {
	return mode == "trade" || mode == "server"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (trade mode) or in-memory stores (paper mode) ---
	if needsPostgres(cfg.Mode) {
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
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.FillLog = postgres.NewFillLog(pool)
		deps.Journal = postgres.NewOrderJournal(pool)
		deps.Snapshots = postgres.NewSnapshotStore(pool)
	} else {
		deps.FillLog = memory.NewFillLog()
		deps.Journal = memory.NewOrderJournal()
		deps.Snapshots = memory.NewSnapshotStore()
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	switch {
	case err != nil && cfg.Mode != "trade":
		// Paper and server modes work without Redis; they just lose the
		// shared price cache, status stream, and distributed throttle.
		logger.Warn("redis unavailable, continuing without cache and status bus",
			slog.String("error", err.Error()),
		)
	case err != nil:
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	default:
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.StatusBus = redis.NewStatusBus(redisClient)
	}

	// --- S3 cold storage (only when archiving is enabled) ---
	if cfg.Archive.Enabled {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		archiveSource, ok := deps.FillLog.(s3blob.FillSource)
		if !ok {
			cleanup()
			return nil, nil, fmt.Errorf("wire: fill log does not support archival listing")
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			archiveSource,
			cfg.Archive.Prefix,
			logger,
		)
		deps.ArchiveReader = s3blob.NewReader(s3Client)
	}

	return deps, cleanup, nil
}
