package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
service:
  name: checkout-test
  env: staging
http:
  addr: ":9000"
  require_idempotency_key: true
inventory:
  base_url: "http://inventory:9090"
  request_timeout: 3s
  max_attempts: 5
  backoff_base: 50ms
payment:
  success_ratio: 0.75
store:
  driver: memory
ledger:
  backend: memory
currency: EUR
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "checkout-test", cfg.Service.Name)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.RequireIdempotencyKey)
	assert.Equal(t, "http://inventory:9090", cfg.Inventory.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Inventory.RequestTimeout.Std())
	assert.Equal(t, 5, cfg.Inventory.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Inventory.BackoffBase.Std())
	assert.Equal(t, 0.75, cfg.Payment.SuccessRatio)
	assert.Equal(t, "EUR", cfg.Currency)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
inventory:
  base_url: "http://inventory:9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "checkout", cfg.Service.Name)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "memory", cfg.Ledger.Backend)
	assert.Equal(t, 0.9, cfg.Payment.SuccessRatio)
	assert.Equal(t, "USD", cfg.Currency)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
inventory:
  base_url: "http://file-wins:9090"
http:
  addr: ":8080"
`)

	t.Setenv("CHECKOUT_INVENTORY_BASE_URL", "http://env-wins:9090")
	t.Setenv("CHECKOUT_HTTP_ADDR", ":7070")
	t.Setenv("CHECKOUT_REQUIRE_IDEMPOTENCY_KEY", "true")
	t.Setenv("CHECKOUT_INVENTORY_MAX_ATTEMPTS", "7")
	t.Setenv("CHECKOUT_INVENTORY_BACKOFF_BASE", "250ms")
	t.Setenv("CHECKOUT_KAFKA_BROKERS", "broker-1:9092, broker-2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://env-wins:9090", cfg.Inventory.BaseURL)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.RequireIdempotencyKey)
	assert.Equal(t, 7, cfg.Inventory.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Inventory.BackoffBase.Std())
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("CHECKOUT_INVENTORY_BASE_URL", "http://env-only:9090")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://env-only:9090", cfg.Inventory.BaseURL)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing inventory base url",
			content: `store: {driver: memory}`,
		},
		{
			name: "unknown store driver",
			content: `
inventory: {base_url: "http://x"}
store: {driver: postgres}
`,
		},
		{
			name: "mysql store without dsn",
			content: `
inventory: {base_url: "http://x"}
store: {driver: mysql}
`,
		},
		{
			name: "redis ledger without addr",
			content: `
inventory: {base_url: "http://x"}
ledger: {backend: redis}
`,
		},
		{
			name: "mysql ledger without mysql store",
			content: `
inventory: {base_url: "http://x"}
ledger: {backend: mysql}
`,
		},
		{
			name: "success ratio out of range",
			content: `
inventory: {base_url: "http://x"}
payment: {success_ratio: 1.5}
`,
		},
		{
			name: "brokers without topic",
			content: `
inventory: {base_url: "http://x"}
kafka: {brokers: ["broker-1:9092"]}
`,
		},
		{
			name: "bad duration",
			content: `
inventory: {base_url: "http://x", request_timeout: soon}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}
