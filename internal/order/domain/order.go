// Package domain 订单实体、成交时的订单结算计算与订单仓储接口
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/spotexchange/pkg/money"
)

var (
	// ErrValidation 订单参数非法，不会进入撮合
	ErrValidation = errors.New("invalid order")
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvariantViolation 程序缺陷级别的状态破坏，所在市场必须停止撮合
	ErrInvariantViolation = errors.New("invariant violation")
)

// Side 买卖方向
type Side string

const (
	SideAsk Side = "ask"
	SideBid Side = "bid"
)

// Opposite 对手方向
func (s Side) Opposite() Side {
	if s == SideAsk {
		return SideBid
	}
	return SideAsk
}

// Type 订单类型
type Type string

const (
	TypeLimit  Type = "limit"
	TypeMarket Type = "market"
)

// State 订单状态
type State string

const (
	StateWait   State = "wait"
	StateDone   State = "done"
	StateCancel State = "cancel"
)

// Order 订单
// ask 冻结基础币种数量，bid 冻结计价币种金额。Volume 与 Locked 只减不增。
type Order struct {
	ID       uint64          `json:"id"`
	MemberID uint64          `json:"member_id"`
	Market   string          `json:"market"`
	Side     Side            `json:"side"`
	Type     Type            `json:"ord_type"`
	Price    decimal.Decimal `json:"price"`
	// 剩余未成交数量
	Volume       decimal.Decimal `json:"volume"`
	OriginVolume decimal.Decimal `json:"origin_volume"`
	// 剩余冻结
	Locked       decimal.Decimal `json:"locked"`
	OriginLocked decimal.Decimal `json:"origin_locked"`
	// 下单时的手续费率，按收到的币种收取
	FeeRate       decimal.Decimal `json:"fee"`
	FundsReceived decimal.Decimal `json:"funds_received"`
	TradesCount   int             `json:"trades_count"`
	State         State           `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewOrder 创建 wait 状态订单，locked 由调用方按方向与类型计算
func NewOrder(memberID uint64, market string, side Side, typ Type, price, volume, locked, feeRate decimal.Decimal) (*Order, error) {
	o := &Order{
		MemberID:      memberID,
		Market:        market,
		Side:          side,
		Type:          typ,
		Price:         price,
		Volume:        volume,
		OriginVolume:  volume,
		Locked:        locked,
		OriginLocked:  locked,
		FeeRate:       feeRate,
		FundsReceived: decimal.Zero,
		State:         StateWait,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate 检查下单参数
func (o *Order) Validate() error {
	if o.MemberID == 0 || o.Market == "" {
		return fmt.Errorf("%w: member and market are required", ErrValidation)
	}
	if o.Side != SideAsk && o.Side != SideBid {
		return fmt.Errorf("%w: unknown side %q", ErrValidation, o.Side)
	}
	switch o.Type {
	case TypeLimit:
		if !o.Price.IsPositive() {
			return fmt.Errorf("%w: limit order price must be positive", ErrValidation)
		}
	case TypeMarket:
		if !o.Price.IsZero() {
			return fmt.Errorf("%w: market order must not carry a price", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrValidation, o.Type)
	}
	if !o.Volume.IsPositive() {
		return fmt.Errorf("%w: volume must be positive", ErrValidation)
	}
	if o.Locked.IsNegative() || o.FeeRate.IsNegative() {
		return fmt.Errorf("%w: locked and fee must not be negative", ErrValidation)
	}
	return nil
}

// IsMarket 是否市价单
func (o *Order) IsMarket() bool { return o.Type == TypeMarket }

// IsActive 是否仍可撮合
func (o *Order) IsActive() bool { return o.State == StateWait }

// HoldCurrency 冻结所在币种
func (o *Order) HoldCurrency(base, quote string) string {
	if o.Side == SideAsk {
		return base
	}
	return quote
}

// ExpectCurrency 成交后收到的币种
func (o *Order) ExpectCurrency(base, quote string) string {
	if o.Side == SideAsk {
		return quote
	}
	return base
}

// FundsUsed 已消耗的冻结
func (o *Order) FundsUsed() decimal.Decimal {
	return o.OriginLocked.Sub(o.Locked)
}

// Clone 返回副本
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

// Label 诊断输出使用的标识：id/$price/volume
func (o *Order) Label() string {
	return fmt.Sprintf("%d/$%s/%s", o.ID, o.Price.String(), o.Volume.String())
}

// StrikeResult 一次成交对单个订单的资金影响
type StrikeResult struct {
	// 从冻结中扣除
	Spent decimal.Decimal
	// 收到的总额
	Received decimal.Decimal
	// 按费率截断的手续费
	Fee decimal.Decimal
	// Received - Fee，记入可用余额
	Net decimal.Decimal
	// 订单完成时退回的剩余冻结
	Released decimal.Decimal
}

// Strike 以成交价 price、成交量 volume、成交额 funds 更新订单
// feePlaces 为收到币种的精度，手续费向下截断。
func (o *Order) Strike(price, volume, funds decimal.Decimal, feePlaces int32) (*StrikeResult, error) {
	if o.State != StateWait {
		return nil, fmt.Errorf("%w: cannot strike order %d in state %s", ErrInvariantViolation, o.ID, o.State)
	}
	if !volume.IsPositive() || volume.GreaterThan(o.Volume) {
		return nil, fmt.Errorf("%w: order %d strike volume %s exceeds remaining %s", ErrInvariantViolation, o.ID, volume, o.Volume)
	}

	spent, received := volume, funds
	if o.Side == SideBid {
		spent, received = funds, volume
	}
	if spent.GreaterThan(o.Locked) {
		return nil, fmt.Errorf("%w: order %d spends %s with only %s locked at %s", ErrInvariantViolation, o.ID, spent, o.Locked, price)
	}

	res := &StrikeResult{Spent: spent, Received: received, Released: decimal.Zero}
	res.Fee, res.Net = money.Fee(received, o.FeeRate, feePlaces)

	o.Volume = o.Volume.Sub(volume)
	o.Locked = o.Locked.Sub(spent)
	o.FundsReceived = o.FundsReceived.Add(received)
	o.TradesCount++

	switch {
	case o.Volume.IsZero():
		o.State = StateDone
		res.Released = o.Locked
		o.Locked = decimal.Zero
	case o.IsMarket() && o.Locked.IsZero():
		// 市价单冻结耗尽
		o.State = StateCancel
	}
	return res, nil
}

// Cancel 撤销仍在等待的订单，返回需要解冻的金额；已终结的订单返回 false
func (o *Order) Cancel() (decimal.Decimal, bool) {
	if o.State != StateWait {
		return decimal.Zero, false
	}
	released := o.Locked
	o.Locked = decimal.Zero
	o.State = StateCancel
	return released, true
}
