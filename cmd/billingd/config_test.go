package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "billing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
database_url: postgres://file/billing
engine:
  min_payment_amount: 2500
  provider_timeout: 3s
  default_provider: mollie
schedule:
  sweep: 30m
mollie:
  api_key: test_file
`), 0o600))

	t.Setenv("BILLING_CONFIG", path)
	t.Setenv("DATABASE_URL", "postgres://env/billing")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_env")
	t.Setenv("BILLING_WORKERS", "4")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "postgres://env/billing", cfg.DatabaseURL)
	assert.Equal(t, int64(2500), cfg.Engine.MinPaymentAmount)
	assert.Equal(t, 3*time.Second, cfg.Engine.ProviderTimeout)
	assert.Equal(t, "mollie", cfg.Engine.DefaultProvider)
	assert.Equal(t, 30*time.Minute, cfg.Schedule.Sweep)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.WalletCheck)
	assert.Equal(t, "test_file", cfg.Mollie.APIKey)
	assert.Equal(t, "sk_test_env", cfg.Stripe.SecretKey)
	assert.Equal(t, 4, cfg.Workers)

	names := []string{}
	for _, p := range providers(cfg) {
		names = append(names, p.Name())
	}
	assert.ElementsMatch(t, []string{"mollie", "stripe"}, names)
}

func TestLoadConfigRequiresDatabase(t *testing.T) {
	t.Setenv("BILLING_CONFIG", "")
	t.Setenv("DATABASE_URL", "")
	_, err := loadConfig()
	assert.Error(t, err)
}

func TestLoadConfigBadEnv(t *testing.T) {
	t.Setenv("BILLING_CONFIG", "")
	t.Setenv("DATABASE_URL", "postgres://env/billing")
	t.Setenv("BILLING_PROVIDER_TIMEOUT", "soon")
	_, err := loadConfig()
	assert.Error(t, err)
}

func TestLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", Config{LogLevel: "debug"}.level().String())
	assert.Equal(t, "INFO", Config{LogLevel: "nonsense"}.level().String())
}
