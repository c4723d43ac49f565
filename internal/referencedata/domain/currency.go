package domain

import (
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/spotexchange/pkg/money"
)

// CurrencyType 币种类型
type CurrencyType string

const (
	CurrencyTypeCoin CurrencyType = "coin"
	CurrencyTypeFiat CurrencyType = "fiat"
)

// Currency 币种
type Currency struct {
	ID        string       `json:"id"`
	Type      CurrencyType `json:"type"`
	Precision int32        `json:"precision"`
	// 单笔提现手续费
	WithdrawFee decimal.Decimal `json:"withdraw_fee"`
	// 单笔充值手续费
	DepositFee decimal.Decimal `json:"deposit_fee"`
	// 24 小时提现免审额度
	WithdrawLimit24h decimal.Decimal `json:"withdraw_limit_24h"`
	// 72 小时提现免审额度
	WithdrawLimit72h decimal.Decimal `json:"withdraw_limit_72h"`
}

// IsCoin 是否链上币种
func (c *Currency) IsCoin() bool {
	return c.Type == CurrencyTypeCoin
}

// Round 按币种精度向零截断
func (c *Currency) Round(d decimal.Decimal) decimal.Decimal {
	return money.Floor(d, c.Precision)
}
