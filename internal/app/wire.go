package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/velikanghost/riskon/internal/blob/s3"
	"github.com/velikanghost/riskon/internal/cache/redis"
	"github.com/velikanghost/riskon/internal/config"
	"github.com/velikanghost/riskon/internal/domain"
	"github.com/velikanghost/riskon/internal/history"
	"github.com/velikanghost/riskon/internal/notify"
	"github.com/velikanghost/riskon/internal/store/postgres"
)

// Dependencies bundles the optional infrastructure the scheduler and the API
// server lean on. Every field may be nil; the service degrades to an
// in-memory, chain-only deployment when the backing systems are disabled.
type Dependencies struct {
	// Round history (PostgreSQL).
	RoundStore domain.RoundStore
	Recorder   *history.Recorder
	Archiver   *history.Archiver

	// Redis-backed coordination.
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Object storage for history archival.
	BlobWriter domain.BlobWriter

	// Notifications.
	Notifier *notify.Notifier
}

// Wire constructs the enabled infrastructure dependencies from the given
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

	// --- PostgreSQL round history ---
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
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.RoundStore = postgres.NewRoundStore(pgClient.Pool())
		deps.Recorder = history.NewRecorder(deps.RoundStore)
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

		deps.PriceCache = redis.NewPriceCache(redisClient, 0)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- S3 blob storage for history archival ---
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)

		// Archival needs both the store and the writer; config validation
		// already rejects S3 without Postgres.
		if deps.RoundStore != nil {
			retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
			deps.Archiver = history.NewArchiver(deps.RoundStore, deps.BlobWriter, retention, logger)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}
