package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, int64(85), cfg.Marketplace.SellerPercent)
	require.Equal(t, "full", cfg.Mode)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "watch"
	cfg.Marketplace.SellerPercent = 120
	cfg.Redis.Addr = ""
	cfg.Operator.ChainID = 0

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown mode "watch"`)
	require.Contains(t, err.Error(), "seller_percent must be 0-100")
	require.Contains(t, err.Error(), "redis: addr must not be empty")
	require.Contains(t, err.Error(), "chain_id must be >= 1")
}

func TestValidatePublishRequiresS3(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "publish"
	cfg.S3.Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "must be enabled for mode publish")
}

func TestValidateEncryptedKeyNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Operator.EncryptedKeyPath = "/etc/galleria/operator.json"
	cfg.Operator.KeyPassword = ""

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "key_password is required")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "serve"
log_level = "debug"

[marketplace]
seller_percent = 90

[server]
port = 9090
shutdown_timeout = "5s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "serve", cfg.Mode)
	require.Equal(t, int64(90), cfg.Marketplace.SellerPercent)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout.Duration)
	// Untouched sections keep their defaults.
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesWin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "serve"`), 0o600))

	t.Setenv("GALLERIA_MODE", "full")
	t.Setenv("GALLERIA_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("GALLERIA_OPERATOR_CHAIN_ID", "137")
	t.Setenv("GALLERIA_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "full", cfg.Mode)
	require.Equal(t, "hunter2", cfg.Postgres.Password)
	require.Equal(t, 137, cfg.Operator.ChainID)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Operator.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Server.APIKey = "apikey"
	cfg.Notify.WebhookSecret = "whsecret"

	out := RedactedConfig(&cfg)
	require.Equal(t, "***", out.Operator.PrivateKey)
	require.Equal(t, "***", out.Postgres.Password)
	require.Equal(t, "***", out.Redis.Password)
	require.Equal(t, "***", out.S3.SecretKey)
	require.Equal(t, "***", out.Server.APIKey)
	require.Equal(t, "***", out.Notify.WebhookSecret)

	// Originals are untouched.
	require.Equal(t, "deadbeef", cfg.Operator.PrivateKey)
}
