// Package token provides the immutable token table loaded at startup.
package token

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Token registry errors
var (
	ErrTokenNotFound      = errors.New("token not found")
	ErrInvalidTokenConfig = errors.New("invalid token configuration")
)

// Token describes one envelope-capable token.
type Token struct {
	Tid        int    `json:"tid"`
	Symbol     string `json:"symbol"`
	Decimals   int32  `json:"decimals"`
	ContractID string `json:"contract_id"`

	// MinPerShare is the minimum share size in minor units.
	MinPerShare decimal.Decimal `json:"min_per_share"`
	// FeeRatio is an integer percent withheld from the gross amount.
	FeeRatio   int64  `json:"fee_ratio"`
	FeeAddress string `json:"fee_address"`
}

// Economics holds the per-symbol envelope parameters that do not come from
// the parallel env tables.
type Economics struct {
	MinPerShare decimal.Decimal
	FeeRatio    int64
	FeeAddress  string
}

// Registry is a read-only lookup over the configured tokens. It is safe for
// concurrent use because nothing mutates it after construction.
type Registry struct {
	byTid      []*Token
	bySymbol   map[string]*Token
	byContract map[string]*Token
}

// NewRegistry builds a registry from the parallel symbol, decimals and
// contract id tables. The table index is the token id (tid).
func NewRegistry(symbols []string, decimals []int32, contracts []string, econ map[string]Economics) (*Registry, error) {
	if len(symbols) != len(decimals) || len(symbols) != len(contracts) {
		return nil, fmt.Errorf("%w: table lengths differ (symbols=%d decimals=%d contracts=%d)",
			ErrInvalidTokenConfig, len(symbols), len(decimals), len(contracts))
	}

	r := &Registry{
		byTid:      make([]*Token, len(symbols)),
		bySymbol:   make(map[string]*Token, len(symbols)),
		byContract: make(map[string]*Token, len(symbols)),
	}

	for i, symbol := range symbols {
		if symbol == "" || contracts[i] == "" {
			return nil, fmt.Errorf("%w: empty symbol or contract at tid %d", ErrInvalidTokenConfig, i)
		}
		if decimals[i] < 0 || decimals[i] > 36 {
			return nil, fmt.Errorf("%w: decimals %d out of range for %s", ErrInvalidTokenConfig, decimals[i], symbol)
		}
		if _, dup := r.bySymbol[symbol]; dup {
			return nil, fmt.Errorf("%w: duplicate symbol %s", ErrInvalidTokenConfig, symbol)
		}
		if _, dup := r.byContract[contracts[i]]; dup {
			return nil, fmt.Errorf("%w: duplicate contract %s", ErrInvalidTokenConfig, contracts[i])
		}

		e := econ[symbol]
		if e.FeeRatio < 0 || e.FeeRatio >= 100 {
			return nil, fmt.Errorf("%w: fee ratio %d out of range for %s", ErrInvalidTokenConfig, e.FeeRatio, symbol)
		}
		t := &Token{
			Tid:         i,
			Symbol:      symbol,
			Decimals:    decimals[i],
			ContractID:  contracts[i],
			MinPerShare: e.MinPerShare,
			FeeRatio:    e.FeeRatio,
			FeeAddress:  e.FeeAddress,
		}
		r.byTid[i] = t
		r.bySymbol[symbol] = t
		r.byContract[contracts[i]] = t
	}

	return r, nil
}

// ByTid returns the token at table index tid.
func (r *Registry) ByTid(tid int) (Token, error) {
	if tid < 0 || tid >= len(r.byTid) {
		return Token{}, ErrTokenNotFound
	}
	return *r.byTid[tid], nil
}

// BySymbol returns the token with the given symbol.
func (r *Registry) BySymbol(symbol string) (Token, error) {
	t, ok := r.bySymbol[symbol]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	return *t, nil
}

// ByContract returns the token whose ledger contract id matches.
func (r *Registry) ByContract(contractID string) (Token, error) {
	t, ok := r.byContract[contractID]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	return *t, nil
}

// All returns every token ordered by tid.
func (r *Registry) All() []Token {
	out := make([]Token, 0, len(r.byTid))
	for _, t := range r.byTid {
		out = append(out, *t)
	}
	return out
}

// Symbols returns the configured symbols sorted alphabetically.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.bySymbol))
	for s := range r.bySymbol {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of configured tokens.
func (r *Registry) Len() int {
	return len(r.byTid)
}
