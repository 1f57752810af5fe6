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
// built-in defaults, applies GALLERIA_* environment variable overrides, and
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

// applyEnvOverrides reads well-known GALLERIA_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Marketplace ──
	setInt64(&cfg.Marketplace.SellerPercent, "GALLERIA_MARKETPLACE_SELLER_PERCENT")
	setStr(&cfg.Marketplace.PlatformAccount, "GALLERIA_MARKETPLACE_PLATFORM_ACCOUNT")

	// ── Factory ──
	setInt64(&cfg.Factory.MintFee, "GALLERIA_FACTORY_MINT_FEE")
	setInt64(&cfg.Factory.BurnFee, "GALLERIA_FACTORY_BURN_FEE")

	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "GALLERIA_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "GALLERIA_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "GALLERIA_OPERATOR_KEY_PASSWORD")
	setInt(&cfg.Operator.ChainID, "GALLERIA_OPERATOR_CHAIN_ID")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "GALLERIA_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "GALLERIA_POSTGRES_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "GALLERIA_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "GALLERIA_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "GALLERIA_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "GALLERIA_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "GALLERIA_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "GALLERIA_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "GALLERIA_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "GALLERIA_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "GALLERIA_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "GALLERIA_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "GALLERIA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GALLERIA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GALLERIA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GALLERIA_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GALLERIA_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "GALLERIA_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "GALLERIA_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "GALLERIA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GALLERIA_S3_REGION")
	setStr(&cfg.S3.Bucket, "GALLERIA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GALLERIA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GALLERIA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GALLERIA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GALLERIA_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "GALLERIA_S3_ARCHIVE_INTERVAL")
	setDuration(&cfg.S3.ArchiveAge, "GALLERIA_S3_ARCHIVE_AGE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GALLERIA_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "GALLERIA_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "GALLERIA_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "GALLERIA_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "GALLERIA_SERVER_RATE_LIMIT_PER_MIN")
	setDuration(&cfg.Server.ShutdownTimeout, "GALLERIA_SERVER_SHUTDOWN_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GALLERIA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GALLERIA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GALLERIA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "GALLERIA_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "GALLERIA_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "GALLERIA_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "GALLERIA_MODE")
	setStr(&cfg.LogLevel, "GALLERIA_LOG_LEVEL")
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
