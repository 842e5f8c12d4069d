package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 配置
type Config struct {
	Service  ServiceConfig   `yaml:"service" json:"service"`
	Postgres PostgresConfig  `yaml:"postgres" json:"postgres"`
	Redis    RedisConfig     `yaml:"redis" json:"redis"`
	Kafka    KafkaConfig     `yaml:"kafka" json:"kafka"`
	Ledger   LedgerConfig    `yaml:"ledger" json:"ledger"`
	Envelope EnvelopeConfig  `yaml:"envelope" json:"envelope"`
	Memo     MemoConfig      `yaml:"memo" json:"-"`
	Jobs     JobsConfig      `yaml:"jobs" json:"jobs"`
	Log      LogConfig       `yaml:"log" json:"log"`
	Tokens   []TokenEconomic `yaml:"tokens" json:"tokens"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name        string   `yaml:"name" json:"name"`
	HTTPPort    int      `yaml:"http_port" json:"http_port"`
	Env         string   `yaml:"env" json:"env"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"` // 为空时不限制来源
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"-"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"-"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置, brokers 为空时事件只写日志
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" json:"brokers"`
	ClientID string   `yaml:"client_id" json:"client_id"`
}

// Enabled 是否启用 kafka
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Brokers[0] != ""
}

// 账本模式
const (
	LedgerModeMemory   = "memory"
	LedgerModeContract = "contract"
)

// LedgerConfig 远端账本配置
type LedgerConfig struct {
	Mode             string   `yaml:"mode" json:"mode"`
	RPCURL           string   `yaml:"rpc_url" json:"rpc_url"`
	BackupRPCURLs    []string `yaml:"backup_rpc_urls" json:"backup_rpc_urls"`
	ChainID          int64    `yaml:"chain_id" json:"chain_id"`
	EnvelopeContract string   `yaml:"envelope_contract" json:"envelope_contract"`
	EscrowAddress    string   `yaml:"escrow_address" json:"escrow_address"`
	AgentPrivateKey  string   `yaml:"agent_private_key" json:"-"`
	AgentAccounts    []string `yaml:"agent_accounts" json:"agent_accounts"`
	IdentitySalt     string   `yaml:"identity_salt" json:"-"`
	CallTimeout      int      `yaml:"call_timeout" json:"call_timeout"` // 秒
	MaxRetries       int      `yaml:"max_retries" json:"max_retries"`
	TransferFee      int64    `yaml:"transfer_fee" json:"transfer_fee"` // memory 模式下的网络手续费(最小单位)
}

// EnvelopeConfig 红包限额
type EnvelopeConfig struct {
	MaxAmount         int64 `yaml:"max_amount" json:"max_amount"` // 整币
	MaxShareCount     int   `yaml:"max_share_count" json:"max_share_count"`
	DefaultExpireDays int   `yaml:"default_expire_days" json:"default_expire_days"`
	PageSize          int   `yaml:"page_size" json:"page_size"`
}

// MemoConfig 留言加密配置
type MemoConfig struct {
	Key string `yaml:"key"`
	IV  string `yaml:"iv"`
}

// JobsConfig 定时任务配置
type JobsConfig struct {
	Enabled              bool   `yaml:"enabled" json:"enabled"`
	MaxConcurrent        int    `yaml:"max_concurrent" json:"max_concurrent"`
	PendingClaimsCron    string `yaml:"pending_claims_cron" json:"pending_claims_cron"`
	PendingClaimsGrace   int    `yaml:"pending_claims_grace" json:"pending_claims_grace"` // 秒
	PendingClaimsBatch   int    `yaml:"pending_claims_batch" json:"pending_claims_batch"`
	OrphanFundingsCron   string `yaml:"orphan_fundings_cron" json:"orphan_fundings_cron"`
	OrphanFundingsGrace  int    `yaml:"orphan_fundings_grace" json:"orphan_fundings_grace"` // 秒
	StatsSnapshotCron    string `yaml:"stats_snapshot_cron" json:"stats_snapshot_cron"`
	ExecutionRetention   int    `yaml:"execution_retention" json:"execution_retention"` // 天
	ExecutionCleanupCron string `yaml:"execution_cleanup_cron" json:"execution_cleanup_cron"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// TokenEconomic 代币红包参数, 按 symbol 与环境变量代币表合并
type TokenEconomic struct {
	Symbol      string `yaml:"symbol" json:"symbol"`
	MinPerShare string `yaml:"min_per_share" json:"min_per_share"` // 十进制文本
	FeeRatio    int64  `yaml:"fee_ratio" json:"fee_ratio"`         // 百分比
	FeeAddress  string `yaml:"fee_address" json:"fee_address"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse 解析 YAML 配置内容
func Parse(data []byte) (*Config, error) {
	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	result := s
	offset := 0
	for {
		start := strings.Index(result[offset:], "${")
		if start == -1 {
			break
		}
		start += offset
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		varName, defaultVal, _ := strings.Cut(expr, ":")

		value := os.Getenv(varName)
		if value == "" {
			value = defaultVal
		}

		result = result[:start] + value + result[end+1:]
		offset = start + len(value)
	}
	return result
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "rbot"
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8080
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 20
	}

	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = cfg.Service.Name
	}

	if cfg.Ledger.Mode == "" {
		cfg.Ledger.Mode = LedgerModeMemory
	}
	if cfg.Ledger.ChainID == 0 {
		cfg.Ledger.ChainID = 31337 // 本地开发
	}
	if cfg.Ledger.CallTimeout == 0 {
		cfg.Ledger.CallTimeout = 30
	}
	if cfg.Ledger.MaxRetries == 0 {
		cfg.Ledger.MaxRetries = 3
	}

	if cfg.Envelope.MaxAmount == 0 {
		cfg.Envelope.MaxAmount = 100000
	}
	if cfg.Envelope.MaxShareCount == 0 {
		cfg.Envelope.MaxShareCount = 1000
	}
	if cfg.Envelope.DefaultExpireDays == 0 {
		cfg.Envelope.DefaultExpireDays = 1
	}
	if cfg.Envelope.PageSize == 0 {
		cfg.Envelope.PageSize = 20
	}

	if cfg.Jobs.MaxConcurrent == 0 {
		cfg.Jobs.MaxConcurrent = 3
	}
	if cfg.Jobs.PendingClaimsCron == "" {
		cfg.Jobs.PendingClaimsCron = "0 */2 * * * *"
	}
	if cfg.Jobs.PendingClaimsGrace == 0 {
		cfg.Jobs.PendingClaimsGrace = 120
	}
	if cfg.Jobs.PendingClaimsBatch == 0 {
		cfg.Jobs.PendingClaimsBatch = 200
	}
	if cfg.Jobs.OrphanFundingsCron == "" {
		cfg.Jobs.OrphanFundingsCron = "0 */10 * * * *"
	}
	if cfg.Jobs.OrphanFundingsGrace == 0 {
		cfg.Jobs.OrphanFundingsGrace = 600
	}
	if cfg.Jobs.StatsSnapshotCron == "" {
		cfg.Jobs.StatsSnapshotCron = "0 */5 * * * *"
	}
	if cfg.Jobs.ExecutionRetention == 0 {
		cfg.Jobs.ExecutionRetention = 7
	}
	if cfg.Jobs.ExecutionCleanupCron == "" {
		cfg.Jobs.ExecutionCleanupCron = "0 30 3 * * *"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// GetEnvInt 获取环境变量整数值
func GetEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetEnvString 获取环境变量字符串值
func GetEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
