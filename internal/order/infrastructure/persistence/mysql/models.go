// Package mysql 订单的 GORM 持久化实现
package mysql

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/spotexchange/internal/order/domain"
)

// OrderModel 订单表
type OrderModel struct {
	ID            uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	MemberID      uint64          `gorm:"column:member_id;not null;index:idx_orders_member_state,priority:1"`
	Market        string          `gorm:"column:market;type:varchar(20);not null;index:idx_orders_market_state,priority:1"`
	Side          string          `gorm:"column:side;type:varchar(8);not null"`
	OrdType       string          `gorm:"column:ord_type;type:varchar(10);not null"`
	Price         decimal.Decimal `gorm:"column:price;type:decimal(32,16);not null;default:0"`
	Volume        decimal.Decimal `gorm:"column:volume;type:decimal(32,16);not null"`
	OriginVolume  decimal.Decimal `gorm:"column:origin_volume;type:decimal(32,16);not null"`
	Locked        decimal.Decimal `gorm:"column:locked;type:decimal(32,16);not null;default:0"`
	OriginLocked  decimal.Decimal `gorm:"column:origin_locked;type:decimal(32,16);not null;default:0"`
	Fee           decimal.Decimal `gorm:"column:fee;type:decimal(32,16);not null;default:0"`
	FundsReceived decimal.Decimal `gorm:"column:funds_received;type:decimal(32,16);not null;default:0"`
	TradesCount   int             `gorm:"column:trades_count;not null;default:0"`
	State         string          `gorm:"column:state;type:varchar(10);not null;index:idx_orders_market_state,priority:2;index:idx_orders_member_state,priority:2"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }

// Models 需要迁移的表
func Models() []any {
	return []any{&OrderModel{}}
}

func toOrderModel(o *domain.Order) *OrderModel {
	return &OrderModel{
		ID:            o.ID,
		MemberID:      o.MemberID,
		Market:        o.Market,
		Side:          string(o.Side),
		OrdType:       string(o.Type),
		Price:         o.Price,
		Volume:        o.Volume,
		OriginVolume:  o.OriginVolume,
		Locked:        o.Locked,
		OriginLocked:  o.OriginLocked,
		Fee:           o.FeeRate,
		FundsReceived: o.FundsReceived,
		TradesCount:   o.TradesCount,
		State:         string(o.State),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func toOrder(m *OrderModel) *domain.Order {
	return &domain.Order{
		ID:            m.ID,
		MemberID:      m.MemberID,
		Market:        m.Market,
		Side:          domain.Side(m.Side),
		Type:          domain.Type(m.OrdType),
		Price:         m.Price,
		Volume:        m.Volume,
		OriginVolume:  m.OriginVolume,
		Locked:        m.Locked,
		OriginLocked:  m.OriginLocked,
		FeeRate:       m.Fee,
		FundsReceived: m.FundsReceived,
		TradesCount:   m.TradesCount,
		State:         domain.State(m.State),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
