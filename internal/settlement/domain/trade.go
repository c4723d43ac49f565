// Package domain 成交记录与成交事件
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrTradeNotFound 成交不存在
var ErrTradeNotFound = errors.New("trade not found")

// TopicTrade 成交事件主题，按市场分区
const TopicTrade = "exchange.trade"

// EventTradeCompleted 成交事件类型
const EventTradeCompleted = "trade_completed"

// Trend 相对上一笔成交的价格方向
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
)

// TrendOf 价格不低于上一笔成交价为 up；市场第一笔成交为 up
func TrendOf(price, previous decimal.Decimal, hasPrevious bool) Trend {
	if !hasPrevious || price.GreaterThanOrEqual(previous) {
		return TrendUp
	}
	return TrendDown
}

// Trade 一次撮合的成交记录，与双方订单、资金流水在同一事务内写入
type Trade struct {
	ID     uint64          `json:"id"`
	Market string          `json:"market"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	// price × volume
	Funds       decimal.Decimal `json:"funds"`
	AskID       uint64          `json:"ask_id"`
	BidID       uint64          `json:"bid_id"`
	AskMemberID uint64          `json:"ask_member_id"`
	BidMemberID uint64          `json:"bid_member_id"`
	// 主动成交方向
	TakerSide string    `json:"taker_side"`
	Trend     Trend     `json:"trend"`
	CreatedAt time.Time `json:"created_at"`
}

// TradeCompletedEvent 成交事件
type TradeCompletedEvent struct {
	Type       string    `json:"type"`
	Market     string    `json:"market"`
	Trade      *Trade    `json:"trade"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewTradeCompletedEvent 以成交快照构造事件
func NewTradeCompletedEvent(t *Trade) TradeCompletedEvent {
	c := *t
	return TradeCompletedEvent{
		Type:       EventTradeCompleted,
		Market:     t.Market,
		Trade:      &c,
		OccurredAt: time.Now(),
	}
}

// TradeRepository 成交仓储，只追加
type TradeRepository interface {
	Create(ctx context.Context, t *Trade) error
	Get(ctx context.Context, id uint64) (*Trade, error)
	// LatestPrice 市场最近一笔成交价，没有成交时 ok 为 false
	LatestPrice(ctx context.Context, market string) (price decimal.Decimal, ok bool, err error)
	// ListByMarket 按 id 倒序
	ListByMarket(ctx context.Context, market string, limit int) ([]*Trade, error)
	// ListByOrder 订单参与的成交，按 id 升序
	ListByOrder(ctx context.Context, orderID uint64) ([]*Trade, error)
}
