// Package config defines the top-level configuration for the swap daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SWAPD_* environment variables.
type Config struct {
	Postgres  PostgresConfig         `toml:"postgres"`
	Redis     RedisConfig            `toml:"redis"`
	S3        S3Config               `toml:"s3"`
	Chains    map[string]ChainConfig `toml:"chains"`
	Bridge    BridgeConfig           `toml:"bridge"`
	CEX       CEXConfig              `toml:"cex"`
	Provider  ProviderConfig         `toml:"provider"`
	Quotes    QuotesConfig           `toml:"quotes"`
	Executor  ExecutorConfig         `toml:"executor"`
	Monitor   MonitorConfig          `toml:"monitor"`
	Scheduler SchedulerConfig        `toml:"scheduler"`
	Queue     QueueConfig            `toml:"queue"`
	Archive   ArchiveConfig          `toml:"archive"`
	Server    ServerConfig           `toml:"server"`
	Notify    NotifyConfig           `toml:"notify"`
	Mode      string                 `toml:"mode"`
	LogLevel  string                 `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ChainConfig describes one supported chain. Type selects the confirmation
// predicate: "evm", "solana" or "sui".
type ChainConfig struct {
	Type          string   `toml:"type"`
	RPCURL        string   `toml:"rpc_url"`
	ChainID       int64    `toml:"chain_id"` // EVM numeric chain id
	Confirmations int64    `toml:"confirmations"`
	PollInterval  duration `toml:"poll_interval"`
	MaxWait       duration `toml:"max_wait"`
}

// BridgeConfig holds the bridge status API used for BRIDGE step delivery.
type BridgeConfig struct {
	StatusURL    string   `toml:"status_url"`
	PollInterval duration `toml:"poll_interval"`
	MaxWait      duration `toml:"max_wait"`
}

// CEXConfig holds the exchange API endpoint for CEX-routed steps.
type CEXConfig struct {
	Name               string   `toml:"name"`
	BaseURL            string   `toml:"base_url"`
	Timeout            duration `toml:"timeout"`
	CredentialPassword string   `toml:"credential_password"`
}

// ProviderConfig holds the external price/quote provider endpoints.
type ProviderConfig struct {
	HTTPURL  string   `toml:"http_url"`
	WSURL    string   `toml:"ws_url"`
	Tokens   []string `toml:"tokens"` // price feed subscription list
	Timeout  duration `toml:"timeout"`
	PriceTTL duration `toml:"price_ttl"`
	FeeBps   int64    `toml:"fee_bps"` // platform fee applied to quotes
}

// QuotesConfig bounds quote validity.
type QuotesConfig struct {
	TTL duration `toml:"ttl"`
}

// ExecutorConfig bounds transaction submission retries and maps each
// chain/protocol pair to its router contract.
type ExecutorConfig struct {
	SubmitAttempts int               `toml:"submit_attempts"`
	SubmitBackoff  duration          `toml:"submit_backoff"`
	Routers        map[string]string `toml:"routers"` // "chain/protocol" -> router address
}

// MonitorConfig holds transaction-monitor worker parameters.
type MonitorConfig struct {
	Concurrency   int `toml:"concurrency"`
	ReorgRechecks int `toml:"reorg_rechecks"`
	RatePerSec    int `toml:"rate_per_sec"`
}

// TriggerScheduleConfig holds one trigger kind's check cadence and worker
// bounds.
type TriggerScheduleConfig struct {
	Interval    duration `toml:"interval"`
	Concurrency int      `toml:"concurrency"`
	RatePerSec  int      `toml:"rate_per_sec"`
}

// SchedulerConfig holds per-kind bulk-check cadences.
type SchedulerConfig struct {
	Alerts      TriggerScheduleConfig `toml:"alerts"`
	LimitOrders TriggerScheduleConfig `toml:"limit_orders"`
	DCA         TriggerScheduleConfig `toml:"dca"`
	LockTTL     duration              `toml:"lock_ttl"`
	Jitter      duration              `toml:"jitter"`
}

// QueueConfig holds job-queue consumer-group parameters.
type QueueConfig struct {
	Group     string   `toml:"group"`
	Block     duration `toml:"block"`
	DedupeTTL duration `toml:"dedupe_ttl"`
	MaxLen    int64    `toml:"max_len"`
}

// ArchiveConfig holds terminal-swap archival parameters.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	AfterDays int      `toml:"after_days"`
	Prefix    string   `toml:"prefix"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	Metrics     bool     `toml:"metrics"`
	RateLimit   int      `toml:"rate_limit"` // requests per second per client, 0 disables
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "omniswap",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "omniswap-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Chains: map[string]ChainConfig{
			"ethereum": {
				Type:          "evm",
				RPCURL:        "http://localhost:8545",
				ChainID:       1,
				Confirmations: 12,
				PollInterval:  duration{12 * time.Second},
				MaxWait:       duration{30 * time.Minute},
			},
			"polygon": {
				Type:          "evm",
				RPCURL:        "https://polygon-rpc.com",
				ChainID:       137,
				Confirmations: 30,
				PollInterval:  duration{4 * time.Second},
				MaxWait:       duration{15 * time.Minute},
			},
			"solana": {
				Type:          "solana",
				RPCURL:        "https://api.mainnet-beta.solana.com",
				Confirmations: 1,
				PollInterval:  duration{2 * time.Second},
				MaxWait:       duration{5 * time.Minute},
			},
			"sui": {
				Type:          "sui",
				RPCURL:        "https://fullnode.mainnet.sui.io",
				Confirmations: 1,
				PollInterval:  duration{2 * time.Second},
				MaxWait:       duration{5 * time.Minute},
			},
		},
		Bridge: BridgeConfig{
			PollInterval: duration{15 * time.Second},
			MaxWait:      duration{45 * time.Minute},
		},
		CEX: CEXConfig{
			Name:    "omnicex",
			Timeout: duration{10 * time.Second},
		},
		Provider: ProviderConfig{
			Timeout:  duration{5 * time.Second},
			PriceTTL: duration{30 * time.Second},
			FeeBps:   20,
		},
		Quotes: QuotesConfig{
			TTL: duration{60 * time.Second},
		},
		Executor: ExecutorConfig{
			SubmitAttempts: 3,
			SubmitBackoff:  duration{1 * time.Second},
		},
		Monitor: MonitorConfig{
			Concurrency:   8,
			ReorgRechecks: 3,
			RatePerSec:    50,
		},
		Scheduler: SchedulerConfig{
			Alerts: TriggerScheduleConfig{
				Interval:    duration{30 * time.Second},
				Concurrency: 10,
				RatePerSec:  100,
			},
			LimitOrders: TriggerScheduleConfig{
				Interval:    duration{15 * time.Second},
				Concurrency: 5,
				RatePerSec:  50,
			},
			DCA: TriggerScheduleConfig{
				Interval:    duration{60 * time.Second},
				Concurrency: 3,
				RatePerSec:  10,
			},
			LockTTL: duration{10 * time.Second},
			Jitter:  duration{2 * time.Second},
		},
		Queue: QueueConfig{
			Group:     "swapd",
			Block:     duration{5 * time.Second},
			DedupeTTL: duration{10 * time.Minute},
			MaxLen:    10_000,
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Interval:  duration{6 * time.Hour},
			AfterDays: 30,
			Prefix:    "swaps",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			Metrics:     true,
			RateLimit:   0,
		},
		Notify: NotifyConfig{
			Events: []string{"trigger.fired", "swap.failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":       true,
	"scheduler": true,
	"worker":    true,
	"monitor":   true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validChainTypes = map[string]bool{
	"evm":    true,
	"solana": true,
	"sui":    true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, scheduler, worker, monitor, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 settings only matter when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive.enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive.enabled")
		}
		if c.Archive.AfterDays < 1 {
			errs = append(errs, "archive: after_days must be >= 1")
		}
	}

	// Chains
	if len(c.Chains) == 0 {
		errs = append(errs, "chains: at least one chain must be configured")
	}
	for name, cc := range c.Chains {
		if !validChainTypes[cc.Type] {
			errs = append(errs, fmt.Sprintf("chains.%s: unknown type %q (valid: evm, solana, sui)", name, cc.Type))
		}
		if cc.RPCURL == "" {
			errs = append(errs, fmt.Sprintf("chains.%s: rpc_url must not be empty", name))
		}
		if cc.Type == "evm" && cc.ChainID <= 0 {
			errs = append(errs, fmt.Sprintf("chains.%s: chain_id must be positive for evm chains", name))
		}
		if cc.Confirmations < 1 {
			errs = append(errs, fmt.Sprintf("chains.%s: confirmations must be >= 1", name))
		}
		if cc.MaxWait.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("chains.%s: max_wait must be > 0", name))
		}
	}

	// Executor
	if c.Executor.SubmitAttempts < 1 {
		errs = append(errs, "executor: submit_attempts must be >= 1")
	}
	if c.Executor.SubmitBackoff.Duration <= 0 {
		errs = append(errs, "executor: submit_backoff must be > 0")
	}

	// Monitor
	if c.Monitor.Concurrency < 1 {
		errs = append(errs, "monitor: concurrency must be >= 1")
	}
	if c.Monitor.ReorgRechecks < 0 {
		errs = append(errs, "monitor: reorg_rechecks must be >= 0")
	}

	// Scheduler
	for _, sc := range []struct {
		name string
		cfg  TriggerScheduleConfig
	}{
		{"alerts", c.Scheduler.Alerts},
		{"limit_orders", c.Scheduler.LimitOrders},
		{"dca", c.Scheduler.DCA},
	} {
		if sc.cfg.Interval.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("scheduler.%s: interval must be > 0", sc.name))
		}
		if sc.cfg.Concurrency < 1 {
			errs = append(errs, fmt.Sprintf("scheduler.%s: concurrency must be >= 1", sc.name))
		}
	}

	// Queue
	if c.Queue.Group == "" {
		errs = append(errs, "queue: group must not be empty")
	}

	// Quotes
	if c.Quotes.TTL.Duration <= 0 {
		errs = append(errs, "quotes: ttl must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
