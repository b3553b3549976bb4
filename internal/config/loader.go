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
// built-in defaults, applies RISKON_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known RISKON_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "RISKON_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "RISKON_CHAIN_ID")
	setStr(&cfg.Chain.ContractAddress, "RISKON_CHAIN_CONTRACT_ADDRESS")
	setDuration(&cfg.Chain.ConfirmTimeout, "RISKON_CHAIN_CONFIRM_TIMEOUT")
	setDuration(&cfg.Chain.PollInterval, "RISKON_CHAIN_POLL_INTERVAL")

	// ── Resolver ──
	setStr(&cfg.Resolver.PrivateKey, "RISKON_RESOLVER_PRIVATE_KEY")
	setStr(&cfg.Resolver.EncryptedKeyPath, "RISKON_RESOLVER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Resolver.KeyPassword, "RISKON_RESOLVER_KEY_PASSWORD")

	// ── Oracle ──
	setStr(&cfg.Oracle.HermesURL, "RISKON_ORACLE_HERMES_URL")
	setDuration(&cfg.Oracle.Timeout, "RISKON_ORACLE_TIMEOUT")

	// ── Scheduler ──
	setBool(&cfg.Scheduler.Autostart, "RISKON_SCHEDULER_AUTOSTART")
	setDuration(&cfg.Scheduler.ResolveInterval, "RISKON_SCHEDULER_RESOLVE_INTERVAL")
	setDuration(&cfg.Scheduler.NewRoundInterval, "RISKON_SCHEDULER_NEW_ROUND_INTERVAL")
	setDuration(&cfg.Scheduler.NewRoundWarmup, "RISKON_SCHEDULER_NEW_ROUND_WARMUP")
	setBool(&cfg.Scheduler.EnableAutoResolve, "RISKON_SCHEDULER_ENABLE_AUTO_RESOLVE")
	setBool(&cfg.Scheduler.EnableAutoNewRounds, "RISKON_SCHEDULER_ENABLE_AUTO_NEW_ROUNDS")
	setInt(&cfg.Scheduler.Concurrency, "RISKON_SCHEDULER_CONCURRENCY")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "RISKON_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "RISKON_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "RISKON_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RISKON_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RISKON_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RISKON_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RISKON_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RISKON_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RISKON_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RISKON_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RISKON_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "RISKON_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "RISKON_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RISKON_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RISKON_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RISKON_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RISKON_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RISKON_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "RISKON_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "RISKON_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RISKON_S3_REGION")
	setStr(&cfg.S3.Bucket, "RISKON_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RISKON_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RISKON_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RISKON_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RISKON_S3_FORCE_PATH_STYLE")

	// ── History ──
	setInt(&cfg.History.RetentionDays, "RISKON_HISTORY_RETENTION_DAYS")
	setDuration(&cfg.History.ArchiveInterval, "RISKON_HISTORY_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RISKON_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RISKON_SERVER_PORT")
	setStr(&cfg.Server.APIToken, "RISKON_SERVER_API_TOKEN")
	setStringSlice(&cfg.Server.CORSOrigins, "RISKON_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "RISKON_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "RISKON_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RISKON_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RISKON_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RISKON_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RISKON_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "RISKON_LOG_LEVEL")
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
