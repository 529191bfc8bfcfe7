package exchange_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-api/pkg/exchange"
	_ "relay-api/pkg/exchange/bybit"
	_ "relay-api/pkg/exchange/sim"
)

const exchangeYAML = `
default: bybit-main
providers:
  bybit-main:
    type: bybit
    api_key: ${TEST_BYBIT_KEY}
    api_secret: ${TEST_BYBIT_SECRET}
    category: linear
    timeout: 10s
    qty_steps:
      BTCUSDT: 0.001
  paper:
    type: sim
`

func TestLoadConfigFromReader(t *testing.T) {
	t.Setenv("TEST_BYBIT_KEY", "key-from-env")
	t.Setenv("TEST_BYBIT_SECRET", "secret-from-env")

	cfg, err := exchange.LoadConfigFromReader(strings.NewReader(exchangeYAML))
	require.NoError(t, err, "config should load")

	assert.Equal(t, "bybit-main", cfg.Default, "default provider should parse")
	require.Contains(t, cfg.Providers, "bybit-main", "bybit provider should parse")
	assert.Equal(t, "key-from-env", cfg.Providers["bybit-main"].APIKey, "env vars should expand")
	assert.Equal(t, 10*time.Second, cfg.Providers["bybit-main"].Timeout, "timeout should parse")
	assert.Equal(t, 0.001, cfg.Providers["bybit-main"].QtySteps["BTCUSDT"], "qty steps should parse")
}

func TestLoadConfigRejectsNonPositiveQtyStep(t *testing.T) {
	doc := `
providers:
  paper:
    type: sim
    qty_steps:
      BTCUSDT: 0
`
	_, err := exchange.LoadConfigFromReader(strings.NewReader(doc))
	require.Error(t, err, "a zero quantity step should be rejected")
	assert.Contains(t, err.Error(), "qty_steps", "error should name the field")
}

func TestLoadConfigBybitRequiresCredentials(t *testing.T) {
	t.Setenv("TEST_BYBIT_KEY", "")
	t.Setenv("TEST_BYBIT_SECRET", "")

	_, err := exchange.LoadConfigFromReader(strings.NewReader(exchangeYAML))
	require.Error(t, err, "bybit without credentials should be rejected")
	assert.Contains(t, err.Error(), "api_key", "error should name the missing credential")
}

func TestLoadConfigUnknownDefault(t *testing.T) {
	doc := `
default: ghost
providers:
  paper:
    type: sim
`
	_, err := exchange.LoadConfigFromReader(strings.NewReader(doc))
	require.Error(t, err, "default naming an undefined provider should be rejected")
	assert.Contains(t, err.Error(), "ghost", "error should name the default")
}

func TestLoadConfigUnsupportedType(t *testing.T) {
	doc := `
providers:
  mystery:
    type: kraken
`
	_, err := exchange.LoadConfigFromReader(strings.NewReader(doc))
	require.Error(t, err, "unregistered provider type should be rejected")
	assert.Contains(t, err.Error(), "kraken", "error should name the type")
}

func TestLoadConfigBadTimeout(t *testing.T) {
	doc := `
providers:
  paper:
    type: sim
    timeout: whenever
`
	_, err := exchange.LoadConfigFromReader(strings.NewReader(doc))
	assert.Error(t, err, "unparseable timeout should be rejected")
}

func TestBuildProviders(t *testing.T) {
	t.Setenv("TEST_BYBIT_KEY", "key")
	t.Setenv("TEST_BYBIT_SECRET", "secret")

	cfg, err := exchange.LoadConfigFromReader(strings.NewReader(exchangeYAML))
	require.NoError(t, err, "config should load")

	providers, err := cfg.BuildProviders()
	require.NoError(t, err, "providers should build")
	assert.Len(t, providers, 2, "every configured provider should be built")
	assert.NotNil(t, providers["bybit-main"], "bybit provider should be built")
	assert.NotNil(t, providers["paper"], "sim provider should be built")
}

func TestGetProviderInline(t *testing.T) {
	provider, err := exchange.GetProvider("sim", nil)
	require.NoError(t, err, "sim needs no configuration")
	assert.NotNil(t, provider, "provider should be returned")

	_, err = exchange.GetProvider("bybit", &exchange.ProviderConfig{})
	assert.Error(t, err, "bybit without credentials should be rejected inline too")
}
