package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velikanghost/riskon/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsValidateWithContract(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.ContractAddress = "0x1111111111111111111111111111111111111111"
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[chain]
contract_address = "0x2222222222222222222222222222222222222222"

[scheduler]
resolve_interval = "45s"

[markets."DOGE/USD"]
name = "Dogecoin"
feed_id = "0xdcef50dd0a4cd2dcc17e45df1676dcb336a11a61c69df7a0299b0150c672d25c"
policy = "fixed"
offset_usd = "0.05"
direction = "random"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", cfg.Chain.ContractAddress)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.ResolveInterval.Duration)
	// defaults survive where the file is silent
	assert.Equal(t, int64(50312), cfg.Chain.ChainID)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.NewRoundInterval.Duration)

	require.Contains(t, cfg.Markets, "DOGE/USD")
	policies, err := cfg.Policies()
	require.NoError(t, err)
	doge := policies["DOGE/USD"]
	assert.Equal(t, domain.PolicyFixed, doge.Kind)
	assert.Equal(t, domain.DirectionRandom, doge.Direction)
	assert.True(t, doge.OffsetUSD.Equal(decimal.RequireFromString("0.05")))
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfig(t, `
[chain]
contract_address = "0x2222222222222222222222222222222222222222"
`)
	t.Setenv("RISKON_CHAIN_CONTRACT_ADDRESS", "0x3333333333333333333333333333333333333333")
	t.Setenv("RISKON_SCHEDULER_RESOLVE_INTERVAL", "15s")
	t.Setenv("RISKON_RESOLVER_PRIVATE_KEY", "deadbeef")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0x3333333333333333333333333333333333333333", cfg.Chain.ContractAddress)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.ResolveInterval.Duration)
	assert.Equal(t, "deadbeef", cfg.Resolver.PrivateKey)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.ContractAddress = ""
	cfg.Chain.ChainID = 0
	cfg.Scheduler.Concurrency = 0
	cfg.LogLevel = "chatty"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contract_address")
	assert.Contains(t, err.Error(), "chain_id")
	assert.Contains(t, err.Error(), "concurrency")
	assert.Contains(t, err.Error(), "log_level")
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.ContractAddress = "0x1111111111111111111111111111111111111111"
	m := cfg.Markets["BTC/USD"]
	m.Policy = "percentage"
	cfg.Markets["BTC/USD"] = m

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown policy")
}

func TestValidateArchivalRequiresPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.ContractAddress = "0x1111111111111111111111111111111111111111"
	cfg.S3.Enabled = true
	cfg.Postgres.Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires postgres")
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Resolver.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIToken = "token"
	cfg.Notify.TelegramToken = "tg"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Resolver.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Server.APIToken)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	// original untouched
	assert.Equal(t, "deadbeef", cfg.Resolver.PrivateKey)
}

func TestFeedsComeFromMarkets(t *testing.T) {
	cfg := Defaults()
	feeds := cfg.Feeds()
	require.Len(t, feeds, 3)
	assert.Equal(t, btcFeedID, feeds["BTC/USD"])
}
