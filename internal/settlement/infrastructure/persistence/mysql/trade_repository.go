// Package mysql 成交记录的 GORM 持久化实现
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/spotexchange/internal/settlement/domain"
	"github.com/wyfcoding/spotexchange/pkg/db"
	"gorm.io/gorm"
)

// TradeModel 成交表
type TradeModel struct {
	ID          uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	Market      string          `gorm:"column:market;type:varchar(20);not null;index:idx_trades_market"`
	Price       decimal.Decimal `gorm:"column:price;type:decimal(32,16);not null"`
	Volume      decimal.Decimal `gorm:"column:volume;type:decimal(32,16);not null"`
	Funds       decimal.Decimal `gorm:"column:funds;type:decimal(32,16);not null"`
	AskID       uint64          `gorm:"column:ask_id;not null;index:idx_trades_ask_id"`
	BidID       uint64          `gorm:"column:bid_id;not null;index:idx_trades_bid_id"`
	AskMemberID uint64          `gorm:"column:ask_member_id;not null"`
	BidMemberID uint64          `gorm:"column:bid_member_id;not null"`
	TakerSide   string          `gorm:"column:taker_side;type:varchar(8);not null"`
	Trend       string          `gorm:"column:trend;type:varchar(8);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
}

func (TradeModel) TableName() string { return "trades" }

// Models 需要迁移的表
func Models() []any {
	return []any{&TradeModel{}}
}

type tradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository 创建成交仓储
func NewTradeRepository(gdb *gorm.DB) domain.TradeRepository {
	return &tradeRepository{db: gdb}
}

func (r *tradeRepository) Create(ctx context.Context, t *domain.Trade) error {
	model := &TradeModel{
		Market:      t.Market,
		Price:       t.Price,
		Volume:      t.Volume,
		Funds:       t.Funds,
		AskID:       t.AskID,
		BidID:       t.BidID,
		AskMemberID: t.AskMemberID,
		BidMemberID: t.BidMemberID,
		TakerSide:   t.TakerSide,
		Trend:       string(t.Trend),
		CreatedAt:   t.CreatedAt,
	}
	if err := db.Conn(ctx, r.db).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	t.ID = model.ID
	t.CreatedAt = model.CreatedAt
	return nil
}

func (r *tradeRepository) Get(ctx context.Context, id uint64) (*domain.Trade, error) {
	var model TradeModel
	err := db.Conn(ctx, r.db).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", domain.ErrTradeNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return toTrade(&model), nil
}

func (r *tradeRepository) LatestPrice(ctx context.Context, market string) (decimal.Decimal, bool, error) {
	var model TradeModel
	err := db.Conn(ctx, r.db).Select("id", "price").Where("market = ?", market).Order("id DESC").Limit(1).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to load latest price of %s: %w", market, err)
	}
	return model.Price, true, nil
}

func (r *tradeRepository) ListByMarket(ctx context.Context, market string, limit int) ([]*domain.Trade, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []*TradeModel
	if err := db.Conn(ctx, r.db).Where("market = ?", market).Order("id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return toTrades(models), nil
}

func (r *tradeRepository) ListByOrder(ctx context.Context, orderID uint64) ([]*domain.Trade, error) {
	var models []*TradeModel
	if err := db.Conn(ctx, r.db).Where("ask_id = ? OR bid_id = ?", orderID, orderID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return toTrades(models), nil
}

func toTrade(m *TradeModel) *domain.Trade {
	return &domain.Trade{
		ID:          m.ID,
		Market:      m.Market,
		Price:       m.Price,
		Volume:      m.Volume,
		Funds:       m.Funds,
		AskID:       m.AskID,
		BidID:       m.BidID,
		AskMemberID: m.AskMemberID,
		BidMemberID: m.BidMemberID,
		TakerSide:   m.TakerSide,
		Trend:       domain.Trend(m.Trend),
		CreatedAt:   m.CreatedAt,
	}
}

func toTrades(models []*TradeModel) []*domain.Trade {
	out := make([]*domain.Trade, len(models))
	for i, m := range models {
		out[i] = toTrade(m)
	}
	return out
}
