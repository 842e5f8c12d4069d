package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kami1983/sl-runes-agent/internal/token"
)

// TestExpandEnvVars 测试环境变量展开
func TestExpandEnvVars(t *testing.T) {
	t.Run("simple variable", func(t *testing.T) {
		t.Setenv("RBOT_TEST_VAR", "hello")
		assert.Equal(t, "value is hello", expandEnvVars("value is ${RBOT_TEST_VAR}"))
	})

	t.Run("variable with default", func(t *testing.T) {
		assert.Equal(t, "value is default_value", expandEnvVars("value is ${RBOT_NOT_EXISTS:default_value}"))
	})

	t.Run("multiple variables", func(t *testing.T) {
		t.Setenv("RBOT_VAR1", "first")
		t.Setenv("RBOT_VAR2", "second")
		assert.Equal(t, "first and second", expandEnvVars("${RBOT_VAR1} and ${RBOT_VAR2}"))
	})

	t.Run("default with colon", func(t *testing.T) {
		assert.Equal(t, "redis://h:6379", expandEnvVars("${RBOT_NOT_EXISTS:redis://h:6379}"))
	})

	t.Run("value containing placeholder is not re-expanded", func(t *testing.T) {
		t.Setenv("RBOT_RAW", "${RBOT_OTHER}")
		assert.Equal(t, "x ${RBOT_OTHER}", expandEnvVars("x ${RBOT_RAW}"))
	})

	t.Run("unterminated", func(t *testing.T) {
		assert.Equal(t, "value ${BROKEN", expandEnvVars("value ${BROKEN"))
	})
}

// TestSetDefaults 测试默认值设置
func TestSetDefaults(t *testing.T) {
	t.Run("all defaults", func(t *testing.T) {
		cfg := &Config{}
		setDefaults(cfg)

		assert.Equal(t, "rbot", cfg.Service.Name)
		assert.Equal(t, 8080, cfg.Service.HTTPPort)
		assert.Equal(t, "dev", cfg.Service.Env)
		assert.Equal(t, 5432, cfg.Postgres.Port)
		assert.Equal(t, LedgerModeMemory, cfg.Ledger.Mode)
		assert.Equal(t, int64(100000), cfg.Envelope.MaxAmount)
		assert.Equal(t, 1000, cfg.Envelope.MaxShareCount)
		assert.Equal(t, 1, cfg.Envelope.DefaultExpireDays)
		assert.Equal(t, 20, cfg.Envelope.PageSize)
		assert.Equal(t, "rbot", cfg.Kafka.ClientID)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.False(t, cfg.Kafka.Enabled())
	})

	t.Run("partial config", func(t *testing.T) {
		cfg := &Config{
			Service:  ServiceConfig{Name: "rbot-staging"},
			Envelope: EnvelopeConfig{MaxShareCount: 50},
		}
		setDefaults(cfg)

		// 已设置的值不应该被覆盖
		assert.Equal(t, "rbot-staging", cfg.Service.Name)
		assert.Equal(t, 50, cfg.Envelope.MaxShareCount)
		assert.Equal(t, "rbot-staging", cfg.Kafka.ClientID)
		assert.Equal(t, int64(100000), cfg.Envelope.MaxAmount)
	})
}

// TestLoad 测试从文件加载
func TestLoad(t *testing.T) {
	t.Setenv("RBOT_TEST_PG_HOST", "db.internal")

	content := `
service:
  name: rbot
  http_port: 9090
postgres:
  host: ${RBOT_TEST_PG_HOST:localhost}
  database: rbot
kafka:
  brokers: ["k1:9092"]
ledger:
  mode: contract
  agent_accounts: ["0xabc"]
envelope:
  max_amount: 500
tokens:
  - symbol: ckUSDC
    min_per_share: "0.01"
    fee_ratio: 1
    fee_address: fee-sink
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Service.HTTPPort)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, LedgerModeContract, cfg.Ledger.Mode)
	assert.Equal(t, []string{"0xabc"}, cfg.Ledger.AgentAccounts)
	assert.Equal(t, int64(500), cfg.Envelope.MaxAmount)
	require.Len(t, cfg.Tokens, 1)
	assert.Equal(t, int64(1), cfg.Tokens[0].FeeRatio)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestLoadTokenTable 测试环境变量代币表
func TestLoadTokenTable(t *testing.T) {
	t.Setenv("RBOT_TOKEN_SYMBOL_MAP", "ICP,ckUSDC")
	t.Setenv("RBOT_TOKEN_DECIMALS_MAP", "8,6")
	t.Setenv("RBOT_CANISTER_ID_MAP", "ryjl3-tyaaa-aaaaa-aaaba-cai,xevnm-gaaaa-aaaar-qafnq-cai")

	table, err := LoadTokenTable()
	require.NoError(t, err)
	assert.Equal(t, []string{"ICP", "ckUSDC"}, table.Symbols)
	assert.Equal(t, []int32{8, 6}, table.Decimals)

	reg, err := BuildTokenRegistry(table, []TokenEconomic{
		{Symbol: "ckUSDC", MinPerShare: "0.01", FeeRatio: 1, FeeAddress: "fee-sink"},
	})
	require.NoError(t, err)

	usdc, err := reg.BySymbol("ckUSDC")
	require.NoError(t, err)
	assert.Equal(t, 1, usdc.Tid)
	assert.True(t, usdc.MinPerShare.Equal(decimal.NewFromInt(10000)))

	tok, err := reg.ByContract("ryjl3-tyaaa-aaaaa-aaaba-cai")
	require.NoError(t, err)
	assert.Equal(t, "ICP", tok.Symbol)
}

// TestLoadTokenTable_BadDecimals 测试非法精度
func TestLoadTokenTable_BadDecimals(t *testing.T) {
	t.Setenv("RBOT_TOKEN_DECIMALS_MAP", "8,abc")
	_, err := LoadTokenTable()
	assert.Error(t, err)
}

// TestBuildTokenRegistry_Errors 测试代币表合并错误
func TestBuildTokenRegistry_Errors(t *testing.T) {
	table := &TokenTable{
		Symbols:   []string{"ICP"},
		Decimals:  []int32{8},
		Contracts: []string{"ryjl3-tyaaa-aaaaa-aaaba-cai"},
	}

	// 未启用的代币参数被忽略
	reg, err := BuildTokenRegistry(table, []TokenEconomic{{Symbol: "DOGE", FeeRatio: 5}})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	_, err = BuildTokenRegistry(table, []TokenEconomic{{Symbol: "ICP", MinPerShare: "0.000000001"}})
	assert.ErrorIs(t, err, token.ErrInvalidTokenConfig)

	table.Decimals = nil
	_, err = BuildTokenRegistry(table, nil)
	assert.ErrorIs(t, err, token.ErrInvalidTokenConfig)
}
