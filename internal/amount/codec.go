// Package amount 人类可读十进制金额与定点整数 (最小单位) 之间的转换
package amount

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/shopspring/decimal"
)

// MaxDecimals 支持的最大精度
const MaxDecimals = 36

var (
	ErrInvalidFormat   = errors.New("invalid amount format")
	ErrInvalidDecimals = errors.New("invalid token decimals")
)

var (
	patternMu    sync.RWMutex
	patternCache = make(map[int32]*regexp.Regexp)
)

func pattern(decimals int32) *regexp.Regexp {
	patternMu.RLock()
	re, ok := patternCache[decimals]
	patternMu.RUnlock()
	if ok {
		return re
	}

	expr := `^\d+$`
	if decimals > 0 {
		expr = fmt.Sprintf(`^\d+(\.\d{1,%d})?$`, decimals)
	}
	re = regexp.MustCompile(expr)

	patternMu.Lock()
	patternCache[decimals] = re
	patternMu.Unlock()
	return re
}

// ToFixedPoint 解析十进制文本为最小单位整数, 小数位不得超过 decimals
func ToFixedPoint(text string, decimals int32) (decimal.Decimal, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return decimal.Zero, ErrInvalidDecimals
	}
	if !pattern(decimals).MatchString(text) {
		return decimal.Zero, ErrInvalidFormat
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, ErrInvalidFormat
	}
	return d.Shift(decimals), nil
}

// FromFixedPoint 最小单位整数转十进制文本, 始终输出 decimals 位小数
func FromFixedPoint(v decimal.Decimal, decimals int32) string {
	return v.Shift(-decimals).StringFixed(decimals)
}

// Scale 整数个代币转最小单位
func Scale(whole int64, decimals int32) decimal.Decimal {
	return decimal.NewFromInt(whole).Shift(decimals)
}

// IsFixedPoint 判断是否为非负整数
func IsFixedPoint(v decimal.Decimal) bool {
	return !v.IsNegative() && v.Equal(v.Truncate(0))
}
