// Package config defines the top-level configuration for the riskon round
// scheduler and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/velikanghost/riskon/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RISKON_* environment variables.
type Config struct {
	Chain     ChainConfig             `toml:"chain"`
	Resolver  ResolverConfig          `toml:"resolver"`
	Oracle    OracleConfig            `toml:"oracle"`
	Markets   map[string]MarketConfig `toml:"markets"`
	Scheduler SchedulerConfig         `toml:"scheduler"`
	Postgres  PostgresConfig          `toml:"postgres"`
	Redis     RedisConfig             `toml:"redis"`
	S3        S3Config                `toml:"s3"`
	History   HistoryConfig           `toml:"history"`
	Server    ServerConfig            `toml:"server"`
	Notify    NotifyConfig            `toml:"notify"`
	LogLevel  string                  `toml:"log_level"`
}

// ChainConfig holds RPC endpoint and contract parameters.
type ChainConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	ChainID         int64    `toml:"chain_id"`
	ContractAddress string   `toml:"contract_address"`
	ConfirmTimeout  duration `toml:"confirm_timeout"`
	PollInterval    duration `toml:"poll_interval"`
}

// ResolverConfig holds the resolver's signing key source.
type ResolverConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// OracleConfig holds Pyth Hermes parameters.
type OracleConfig struct {
	HermesURL string   `toml:"hermes_url"`
	Timeout   duration `toml:"timeout"`
}

// MarketConfig declares one tradable market keyed by its oracle symbol,
// carrying the Pyth feed id and the target price policy for new rounds.
type MarketConfig struct {
	Name   string `toml:"name"`
	FeedID string `toml:"feed_id"`

	// Policy is "percent" or "fixed".
	Policy    string          `toml:"policy"`
	Percent   decimal.Decimal `toml:"percent"`
	OffsetUSD decimal.Decimal `toml:"offset_usd"`
	// Direction is "above", "below", or "random".
	Direction string `toml:"direction"`
}

// SchedulerConfig holds the loop cadence and concurrency settings.
type SchedulerConfig struct {
	Autostart           bool     `toml:"autostart"`
	ResolveInterval     duration `toml:"resolve_interval"`
	NewRoundInterval    duration `toml:"new_round_interval"`
	NewRoundWarmup      duration `toml:"new_round_warmup"`
	EnableAutoResolve   bool     `toml:"enable_auto_resolve"`
	EnableAutoNewRounds bool     `toml:"enable_auto_new_rounds"`
	Concurrency         int      `toml:"concurrency"`
}

// PostgresConfig holds PostgreSQL connection parameters for round history.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for history archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// HistoryConfig holds round history retention parameters.
type HistoryConfig struct {
	RetentionDays   int      `toml:"retention_days"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIToken    string   `toml:"api_token"`
	CORSOrigins []string `toml:"cors_origins"`

	// RateLimit caps requests per client per RateLimitWindow. Zero disables
	// limiting; it also requires Redis to take effect.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "30s", "5m").
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

// Well-known Pyth price feed ids for the default markets.
const (
	btcFeedID = "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"
	ethFeedID = "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"
	solFeedID = "0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"
)

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:         "https://dream-rpc.somnia.network",
			ChainID:        50312,
			ConfirmTimeout: duration{90 * time.Second},
			PollInterval:   duration{2 * time.Second},
		},
		Oracle: OracleConfig{
			HermesURL: "https://hermes.pyth.network",
			Timeout:   duration{10 * time.Second},
		},
		Markets: map[string]MarketConfig{
			"BTC/USD": {
				Name:      "Bitcoin",
				FeedID:    btcFeedID,
				Policy:    "percent",
				Percent:   decimal.RequireFromString("0.2"),
				Direction: "above",
			},
			"ETH/USD": {
				Name:      "Ethereum",
				FeedID:    ethFeedID,
				Policy:    "percent",
				Percent:   decimal.RequireFromString("0.3"),
				Direction: "above",
			},
			"SOL/USD": {
				Name:      "Solana",
				FeedID:    solFeedID,
				Policy:    "percent",
				Percent:   decimal.RequireFromString("0.4"),
				Direction: "above",
			},
		},
		Scheduler: SchedulerConfig{
			Autostart:           true,
			ResolveInterval:     duration{30 * time.Second},
			NewRoundInterval:    duration{60 * time.Second},
			NewRoundWarmup:      duration{10 * time.Second},
			EnableAutoResolve:   true,
			EnableAutoNewRounds: true,
			Concurrency:         4,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "riskon",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "riskon-history",
			ForcePathStyle: true,
		},
		History: HistoryConfig{
			RetentionDays:   90,
			ArchiveInterval: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"round_resolved", "pass_errors", "error"},
		},
		LogLevel: "info",
	}
}

// Feeds returns the symbol to Pyth feed id mapping for the oracle client.
func (c *Config) Feeds() map[string]string {
	feeds := make(map[string]string, len(c.Markets))
	for symbol, m := range c.Markets {
		feeds[symbol] = m.FeedID
	}
	return feeds
}

// Policies converts the per-market policy declarations into domain policies
// keyed by symbol.
func (c *Config) Policies() (map[string]domain.TargetPolicy, error) {
	policies := make(map[string]domain.TargetPolicy, len(c.Markets))
	for symbol, m := range c.Markets {
		policy, err := m.targetPolicy()
		if err != nil {
			return nil, fmt.Errorf("config: market %q: %w", symbol, err)
		}
		policies[symbol] = policy
	}
	return policies, nil
}

func (m MarketConfig) targetPolicy() (domain.TargetPolicy, error) {
	var policy domain.TargetPolicy

	switch strings.ToLower(m.Policy) {
	case "percent":
		policy.Kind = domain.PolicyPercent
	case "fixed":
		policy.Kind = domain.PolicyFixed
	default:
		return policy, fmt.Errorf("unknown policy %q (valid: percent, fixed)", m.Policy)
	}

	switch strings.ToLower(m.Direction) {
	case "above", "":
		policy.Direction = domain.DirectionAbove
	case "below":
		policy.Direction = domain.DirectionBelow
	case "random":
		policy.Direction = domain.DirectionRandom
	default:
		return policy, fmt.Errorf("unknown direction %q (valid: above, below, random)", m.Direction)
	}

	policy.Percent = m.Percent
	policy.OffsetUSD = m.OffsetUSD
	if err := policy.Validate(); err != nil {
		return policy, err
	}
	return policy, nil
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.ContractAddress == "" {
		errs = append(errs, "chain: contract_address must not be empty")
	}

	// Resolver key is optional; without one the service is read-only. But an
	// encrypted key file without its password is a misconfiguration.
	if c.Resolver.EncryptedKeyPath != "" && c.Resolver.KeyPassword == "" {
		errs = append(errs, "resolver: key_password is required when encrypted_key_path is set")
	}

	// Oracle
	if c.Oracle.HermesURL == "" {
		errs = append(errs, "oracle: hermes_url must not be empty")
	}
	if c.Oracle.Timeout.Duration <= 0 {
		errs = append(errs, "oracle: timeout must be positive")
	}

	// Markets
	if len(c.Markets) == 0 {
		errs = append(errs, "markets: at least one market must be configured")
	}
	for symbol, m := range c.Markets {
		if m.FeedID == "" {
			errs = append(errs, fmt.Sprintf("markets.%s: feed_id must not be empty", symbol))
		}
		if _, err := m.targetPolicy(); err != nil {
			errs = append(errs, fmt.Sprintf("markets.%s: %v", symbol, err))
		}
	}

	// Scheduler
	if c.Scheduler.ResolveInterval.Duration <= 0 {
		errs = append(errs, "scheduler: resolve_interval must be positive")
	}
	if c.Scheduler.NewRoundInterval.Duration <= 0 {
		errs = append(errs, "scheduler: new_round_interval must be positive")
	}
	if c.Scheduler.NewRoundWarmup.Duration < 0 {
		errs = append(errs, "scheduler: new_round_warmup must not be negative")
	}
	if c.Scheduler.Concurrency < 1 {
		errs = append(errs, "scheduler: concurrency must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: history archival requires postgres to be enabled")
		}
	}

	// History
	if c.History.RetentionDays < 1 {
		errs = append(errs, "history: retention_days must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
