package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/omniswap/swapd/internal/blob/s3"
	"github.com/omniswap/swapd/internal/cache/redis"
	"github.com/omniswap/swapd/internal/config"
	"github.com/omniswap/swapd/internal/domain"
	"github.com/omniswap/swapd/internal/notify"
	"github.com/omniswap/swapd/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	SwapStore       domain.SwapStore
	SwapEventStore  domain.SwapEventStore
	QuoteStore      domain.QuoteStore
	TriggerStore    domain.TriggerStore
	CredentialStore domain.CredentialStore

	// Redis-backed coordination
	Redis       *redis.Client
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	EventBus    domain.EventBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that run the cold-storage export.
func needsS3(mode string) bool {
	switch mode {
	case "scheduler", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (every mode touches swap or trigger state) ---
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

	// Run migrations if enabled.
	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	swapStore := postgres.NewSwapStore(pool)
	eventStore := postgres.NewSwapEventStore(pool)
	deps.SwapStore = swapStore
	deps.SwapEventStore = eventStore
	deps.QuoteStore = postgres.NewQuoteStore(pool)
	deps.TriggerStore = postgres.NewTriggerStore(pool)
	deps.CredentialStore = postgres.NewCredentialStore(pool)

	// --- Redis ---
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

	deps.Redis = redisClient
	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Provider.PriceTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.EventBus = redis.NewEventBus(redisClient)

	// --- S3 blob storage (only for modes that export archives) ---
	if cfg.Archive.Enabled && needsS3(cfg.Mode) {
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
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewSwapArchiver(
			deps.BlobWriter,
			deps.BlobReader,
			swapStore,
			eventStore,
			cfg.Archive.Prefix,
			logger,
		)
	}

	// --- Notifications ---
	notifier := notify.NewNotifier(deps.EventBus, logger)
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		notifier.Register(notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		), cfg.Notify.Events...)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		notifier.Register(notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL), cfg.Notify.Events...)
	}
	deps.Notifier = notifier

	return deps, cleanup, nil
}
