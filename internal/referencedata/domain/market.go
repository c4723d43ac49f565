// Package domain 交易市场与币种参考数据
package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/spotexchange/pkg/money"
)

var (
	// ErrMarketNotFound 市场不存在
	ErrMarketNotFound = errors.New("market not found")
	// ErrCurrencyNotFound 币种不存在
	ErrCurrencyNotFound = errors.New("currency not found")
)

// Market 交易市场
// 市场 {base, quote}：卖方挂 ask 卖出 base 换 quote，买方挂 bid 用 quote 买入 base。
type Market struct {
	// 市场 ID，如 btcusd
	ID string `json:"id"`
	// 基础币种（ask 方交出的币种）
	BaseUnit string `json:"base_unit"`
	// 计价币种（bid 方交出的币种）
	QuoteUnit string `json:"quote_unit"`
	// 卖方费率，从卖方收到的计价币中扣除
	AskFee decimal.Decimal `json:"ask_fee"`
	// 买方费率，从买方收到的基础币中扣除
	BidFee decimal.Decimal `json:"bid_fee"`
	// 数量小数位
	AskPrecision int32 `json:"ask_precision"`
	// 价格小数位
	BidPrecision int32 `json:"bid_precision"`
	Visible      bool  `json:"visible"`
}

// Name 展示名，如 BTC/USD
func (m *Market) Name() string {
	return strings.ToUpper(m.BaseUnit + "/" + m.QuoteUnit)
}

// FixVolume 数量按市场精度向零截断
func (m *Market) FixVolume(v decimal.Decimal) decimal.Decimal {
	return money.Floor(v, m.AskPrecision)
}

// FixPrice 价格按市场精度向零截断
func (m *Market) FixPrice(p decimal.Decimal) decimal.Decimal {
	return money.Floor(p, m.BidPrecision)
}

// Repository 参考数据只读仓储
type Repository interface {
	GetMarket(id string) (*Market, error)
	ListMarkets() []*Market
	GetCurrency(id string) (*Currency, error)
}
