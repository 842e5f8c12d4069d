package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/kami1983/sl-runes-agent/internal/amount"
	"github.com/kami1983/sl-runes-agent/internal/token"
)

// TokenTable 部署级代币表, 三个逗号分隔的平行数组, 下标即 tid
type TokenTable struct {
	Symbols   []string `envconfig:"RBOT_TOKEN_SYMBOL_MAP"`
	Decimals  []int32  `envconfig:"RBOT_TOKEN_DECIMALS_MAP"`
	Contracts []string `envconfig:"RBOT_CANISTER_ID_MAP"`
}

// LoadTokenTable 从环境变量读取代币表
func LoadTokenTable() (*TokenTable, error) {
	var t TokenTable
	if err := envconfig.Process("", &t); err != nil {
		return nil, fmt.Errorf("load token table: %w", err)
	}
	return &t, nil
}

// BuildTokenRegistry 合并环境变量代币表与 YAML 中的红包参数
func BuildTokenRegistry(table *TokenTable, economics []TokenEconomic) (*token.Registry, error) {
	decimalsBySymbol := make(map[string]int32, len(table.Symbols))
	for i, s := range table.Symbols {
		if i < len(table.Decimals) {
			decimalsBySymbol[s] = table.Decimals[i]
		}
	}

	econ := make(map[string]token.Economics, len(economics))
	for _, e := range economics {
		d, ok := decimalsBySymbol[e.Symbol]
		if !ok {
			// 本部署未启用该代币
			continue
		}
		minPerShare := decimal.Zero
		if e.MinPerShare != "" {
			v, err := amount.ToFixedPoint(e.MinPerShare, d)
			if err != nil {
				return nil, fmt.Errorf("%w: min_per_share %q for %s: %v", token.ErrInvalidTokenConfig, e.MinPerShare, e.Symbol, err)
			}
			minPerShare = v
		}
		econ[e.Symbol] = token.Economics{
			MinPerShare: minPerShare,
			FeeRatio:    e.FeeRatio,
			FeeAddress:  e.FeeAddress,
		}
	}

	return token.NewRegistry(table.Symbols, table.Decimals, table.Contracts, econ)
}
