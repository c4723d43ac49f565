// Package money 金额、价格、数量的精确十进制助手，所有资金计算都不经过浮点
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Zero 零值
var Zero = decimal.Zero

// Parse 解析十进制字符串，空串视为 0
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}

// MustParse 解析常量，失败时 panic，仅用于测试与静态配置
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Floor 按精度向零截断，用于费用、提现金额、价格与数量规整
func Floor(d decimal.Decimal, places int32) decimal.Decimal {
	return d.RoundDown(places)
}

// Min 较小值
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Fee 计算手续费并返回净额：fee = floor(gross*rate)，net = gross - fee
func Fee(gross, rate decimal.Decimal, places int32) (fee, net decimal.Decimal) {
	fee = Floor(gross.Mul(rate), places)
	return fee, gross.Sub(fee)
}
