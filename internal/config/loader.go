package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SWAPD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SWAPD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SWAPD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SWAPD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SWAPD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SWAPD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SWAPD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SWAPD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SWAPD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SWAPD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SWAPD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SWAPD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SWAPD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SWAPD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SWAPD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SWAPD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SWAPD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SWAPD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SWAPD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SWAPD_S3_REGION")
	setStr(&cfg.S3.Bucket, "SWAPD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SWAPD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SWAPD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SWAPD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SWAPD_S3_FORCE_PATH_STYLE")

	// ── Bridge ──
	setStr(&cfg.Bridge.StatusURL, "SWAPD_BRIDGE_STATUS_URL")
	setDuration(&cfg.Bridge.PollInterval, "SWAPD_BRIDGE_POLL_INTERVAL")
	setDuration(&cfg.Bridge.MaxWait, "SWAPD_BRIDGE_MAX_WAIT")

	// ── CEX ──
	setStr(&cfg.CEX.Name, "SWAPD_CEX_NAME")
	setStr(&cfg.CEX.BaseURL, "SWAPD_CEX_BASE_URL")
	setDuration(&cfg.CEX.Timeout, "SWAPD_CEX_TIMEOUT")
	setStr(&cfg.CEX.CredentialPassword, "SWAPD_CEX_CREDENTIAL_PASSWORD")

	// ── Provider ──
	setStr(&cfg.Provider.HTTPURL, "SWAPD_PROVIDER_HTTP_URL")
	setStr(&cfg.Provider.WSURL, "SWAPD_PROVIDER_WS_URL")
	setStringSlice(&cfg.Provider.Tokens, "SWAPD_PROVIDER_TOKENS")
	setDuration(&cfg.Provider.Timeout, "SWAPD_PROVIDER_TIMEOUT")
	setDuration(&cfg.Provider.PriceTTL, "SWAPD_PROVIDER_PRICE_TTL")
	setInt64(&cfg.Provider.FeeBps, "SWAPD_PROVIDER_FEE_BPS")

	// ── Quotes ──
	setDuration(&cfg.Quotes.TTL, "SWAPD_QUOTES_TTL")

	// ── Executor ──
	setInt(&cfg.Executor.SubmitAttempts, "SWAPD_EXECUTOR_SUBMIT_ATTEMPTS")
	setDuration(&cfg.Executor.SubmitBackoff, "SWAPD_EXECUTOR_SUBMIT_BACKOFF")

	// ── Monitor ──
	setInt(&cfg.Monitor.Concurrency, "SWAPD_MONITOR_CONCURRENCY")
	setInt(&cfg.Monitor.ReorgRechecks, "SWAPD_MONITOR_REORG_RECHECKS")
	setInt(&cfg.Monitor.RatePerSec, "SWAPD_MONITOR_RATE_PER_SEC")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.Alerts.Interval, "SWAPD_SCHEDULER_ALERTS_INTERVAL")
	setInt(&cfg.Scheduler.Alerts.Concurrency, "SWAPD_SCHEDULER_ALERTS_CONCURRENCY")
	setInt(&cfg.Scheduler.Alerts.RatePerSec, "SWAPD_SCHEDULER_ALERTS_RATE_PER_SEC")
	setDuration(&cfg.Scheduler.LimitOrders.Interval, "SWAPD_SCHEDULER_LIMIT_ORDERS_INTERVAL")
	setInt(&cfg.Scheduler.LimitOrders.Concurrency, "SWAPD_SCHEDULER_LIMIT_ORDERS_CONCURRENCY")
	setInt(&cfg.Scheduler.LimitOrders.RatePerSec, "SWAPD_SCHEDULER_LIMIT_ORDERS_RATE_PER_SEC")
	setDuration(&cfg.Scheduler.DCA.Interval, "SWAPD_SCHEDULER_DCA_INTERVAL")
	setInt(&cfg.Scheduler.DCA.Concurrency, "SWAPD_SCHEDULER_DCA_CONCURRENCY")
	setInt(&cfg.Scheduler.DCA.RatePerSec, "SWAPD_SCHEDULER_DCA_RATE_PER_SEC")
	setDuration(&cfg.Scheduler.LockTTL, "SWAPD_SCHEDULER_LOCK_TTL")
	setDuration(&cfg.Scheduler.Jitter, "SWAPD_SCHEDULER_JITTER")

	// ── Queue ──
	setStr(&cfg.Queue.Group, "SWAPD_QUEUE_GROUP")
	setDuration(&cfg.Queue.Block, "SWAPD_QUEUE_BLOCK")
	setDuration(&cfg.Queue.DedupeTTL, "SWAPD_QUEUE_DEDUPE_TTL")
	setInt64(&cfg.Queue.MaxLen, "SWAPD_QUEUE_MAX_LEN")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SWAPD_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "SWAPD_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.AfterDays, "SWAPD_ARCHIVE_AFTER_DAYS")
	setStr(&cfg.Archive.Prefix, "SWAPD_ARCHIVE_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SWAPD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SWAPD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SWAPD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SWAPD_SERVER_API_KEY")
	setBool(&cfg.Server.Metrics, "SWAPD_SERVER_METRICS")
	setInt(&cfg.Server.RateLimit, "SWAPD_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SWAPD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SWAPD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SWAPD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SWAPD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SWAPD_MODE")
	setStr(&cfg.LogLevel, "SWAPD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
