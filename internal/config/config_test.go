package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "relay-api/pkg/exchange/sim"
)

const mainYAML = `
Name: relay-test
Host: 0.0.0.0
Port: 8888
Env: dev
WebhookToken: ${TEST_WEBHOOK_TOKEN}
TTL:
  Short: 5
  Medium: 30
  Long: 120
Exchange:
  File: exchange.yaml
Engine:
  File: engine.yaml
`

const exchangeSectionYAML = `
default: paper
providers:
  paper:
    type: sim
`

const engineSectionYAML = `
arbiter:
  cooldown: 30s
pipeline:
  contracts:
    BTCUSDT:
      min_qty: 0.001
      qty_step: 0.001
      min_notional: 5
      tick_size: 0.1
accounts:
  - id: main
    exchange: paper
`

func writeConfigTree(t *testing.T, main string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "relay.yaml"), []byte(main), 0o644), "write main config")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "exchange.yaml"), []byte(exchangeSectionYAML), 0o644), "write exchange config")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "engine.yaml"), []byte(engineSectionYAML), 0o644), "write engine config")
	return filepath.Join(dir, "relay.yaml")
}

func TestLoadHydratesSections(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_TOKEN", "hunter2")
	path := writeConfigTree(t, mainYAML)

	cfg, err := Load(path)
	require.NoError(t, err, "config should load")

	assert.Equal(t, "dev", cfg.Env, "env should parse")
	assert.False(t, cfg.IsTestEnv(), "dev is not the test environment")
	assert.Equal(t, "hunter2", cfg.WebhookToken, "webhook token should expand from the environment")
	assert.Equal(t, 5, cfg.TTL.Short, "ttl should parse")

	require.NotNil(t, cfg.Exchange.Value, "exchange section should hydrate")
	assert.Equal(t, "paper", cfg.Exchange.Value.Default, "exchange default should load")

	require.NotNil(t, cfg.Engine.Value, "engine section should hydrate")
	require.Len(t, cfg.Engine.Value.Accounts, 1, "engine accounts should load")
	assert.Equal(t, "main", cfg.Engine.Value.Accounts[0].ID, "account id should load")

	assert.Equal(t, filepath.Dir(path), cfg.BaseDir(), "base dir derives from the main config path")
}

func TestLoadDefaultsEnvToTest(t *testing.T) {
	doc := `
Name: relay-test
Host: 0.0.0.0
Port: 8888
`
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644), "write main config")

	cfg, err := Load(path)
	require.NoError(t, err, "config should load without sections")
	assert.Equal(t, "test", cfg.Env, "env should default to test")
	assert.True(t, cfg.IsTestEnv(), "default env is the test environment")
	assert.Equal(t, 10, cfg.TTL.Short, "ttl short should default")
	assert.Equal(t, 60, cfg.TTL.Medium, "ttl medium should default")
	assert.Equal(t, 300, cfg.TTL.Long, "ttl long should default")
	assert.Nil(t, cfg.Exchange.Value, "absent exchange section stays nil")
}

func TestLoadRejectsUnknownEnv(t *testing.T) {
	doc := `
Name: relay-test
Host: 0.0.0.0
Port: 8888
Env: staging
`
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644), "write main config")

	_, err := Load(path)
	require.Error(t, err, "unknown env should be rejected")
	assert.Contains(t, err.Error(), "env must be one of", "error should list the valid envs")
}

func TestLoadRejectsBadTTL(t *testing.T) {
	doc := `
Name: relay-test
Host: 0.0.0.0
Port: 8888
TTL:
  Short: -1
  Medium: 60
  Long: 300
`
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644), "write main config")

	_, err := Load(path)
	assert.Error(t, err, "non-positive ttl should be rejected")
}

func TestLoadRejectsBrokenSection(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_TOKEN", "x")
	path := writeConfigTree(t, mainYAML)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "engine.yaml"),
		[]byte("accounts: []\n"), 0o644), "break engine config")

	_, err := Load(path)
	require.Error(t, err, "invalid engine section should fail the load")
	assert.Contains(t, err.Error(), "engine", "error should name the section")
}

func TestMustLoadPanicsOnMissingFile(t *testing.T) {
	assert.Panics(t, func() {
		MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	}, "missing config file should panic")
}
