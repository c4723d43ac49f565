package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	order "github.com/wyfcoding/spotexchange/internal/order/domain"
	refdata "github.com/wyfcoding/spotexchange/internal/referencedata/domain"
	"github.com/wyfcoding/spotexchange/pkg/money"
)

var (
	// ErrMarketNotDeepEnough 对手盘不足或价格滑点超过熔断阈值
	ErrMarketNotDeepEnough = errors.New("market is not deep enough")
	// ErrEngineHalted 引擎因不变量破坏停止，需要 reload
	ErrEngineHalted = errors.New("matching engine halted")
	// ErrInvariantViolation 与订单领域共用
	ErrInvariantViolation = order.ErrInvariantViolation
)

// DefaultFuse 市价单允许的最大价格偏移比例
var DefaultFuse = decimal.RequireFromString("0.9")

// Match 一次撮合，Taker 与 Maker 为撮合前的快照
type Match struct {
	Market string
	Taker  *order.Order
	Maker  *order.Order
	Price  decimal.Decimal
	Volume decimal.Decimal
	Funds  decimal.Decimal
}

// Fill 结算后的结果，Taker 与 Maker 为结算后的订单
type Fill struct {
	TradeID uint64
	Price   decimal.Decimal
	Volume  decimal.Decimal
	Taker   *order.Order
	Maker   *order.Order
}

// Settler 在一个事务内完成成交结算与订单撤销
type Settler interface {
	// Strike 结算一次撮合：双方订单、资金流水与成交记录同时提交
	Strike(ctx context.Context, m *Match) (*Fill, error)
	// Cancel 撤销订单并解冻剩余资金；订单已终结时原样返回
	Cancel(ctx context.Context, orderID uint64) (*order.Order, error)
}

// SubmitResult 提交结果
type SubmitResult struct {
	Order *order.Order
	Fills []*Fill
}

// Engine 单个市场的撮合引擎
// 价格优先、同价按到达顺序；成交价取挂单价。不加锁，调用方保证串行。
type Engine struct {
	market  *refdata.Market
	book    *OrderBook
	settler Settler
	fuse    decimal.Decimal
	halted  error
	logger  *slog.Logger
}

// NewEngine 创建引擎；fuse 为零时使用 DefaultFuse
func NewEngine(market *refdata.Market, settler Settler, fuse decimal.Decimal, logger *slog.Logger) *Engine {
	if !fuse.IsPositive() {
		fuse = DefaultFuse
	}
	return &Engine{
		market:  market,
		book:    NewOrderBook(market.ID),
		settler: settler,
		fuse:    fuse,
		logger:  logger.With("market", market.ID),
	}
}

// Market 引擎所属市场
func (e *Engine) Market() *refdata.Market { return e.market }

// Book 内存订单簿
func (e *Engine) Book() *OrderBook { return e.book }

// Halted 停机原因，正常时为 nil
func (e *Engine) Halted() error { return e.halted }

// Submit 撮合新订单；剩余的限价单挂入订单簿，剩余的市价单撤销并解冻
// 已在订单簿中的订单直接忽略，重放恢复因此是幂等的。
func (e *Engine) Submit(ctx context.Context, o *order.Order) (*SubmitResult, error) {
	if e.halted != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineHalted, e.halted)
	}
	if o.Market != e.market.ID {
		return nil, fmt.Errorf("order %d belongs to market %s, not %s", o.ID, o.Market, e.market.ID)
	}
	if resting, ok := e.book.Get(o.ID); ok {
		return &SubmitResult{Order: resting}, nil
	}
	if !o.IsActive() || !o.Volume.IsPositive() {
		return nil, e.halt(fmt.Errorf("%w: submit order %d in state %s with volume %s", ErrInvariantViolation, o.ID, o.State, o.Volume))
	}

	taker := o
	res := &SubmitResult{}
	opposite := taker.Side.Opposite()
	for taker.IsActive() && taker.Volume.IsPositive() {
		maker, ok := e.book.Top(opposite)
		if !ok || !e.crosses(taker, maker) {
			break
		}

		price := maker.Price
		volume := money.Min(taker.Volume, maker.Volume)
		if taker.IsMarket() {
			volume = money.Min(volume, e.affordable(taker, price))
			if !volume.IsPositive() {
				break
			}
		}

		fill, err := e.settler.Strike(ctx, &Match{
			Market: e.market.ID,
			Taker:  taker.Clone(),
			Maker:  maker.Clone(),
			Price:  price,
			Volume: volume,
			Funds:  price.Mul(volume),
		})
		if err != nil {
			return nil, e.halt(fmt.Errorf("failed to settle order %d against %d: %w", taker.ID, maker.ID, err))
		}

		taker = fill.Taker
		*maker = *fill.Maker
		if !maker.IsActive() || !maker.Volume.IsPositive() {
			e.book.Remove(maker.ID)
		}
		res.Fills = append(res.Fills, fill)
	}

	if taker.IsActive() && taker.Volume.IsPositive() {
		if taker.IsMarket() {
			canceled, err := e.settler.Cancel(ctx, taker.ID)
			if err != nil {
				return nil, e.halt(fmt.Errorf("failed to cancel exhausted market order %d: %w", taker.ID, err))
			}
			taker = canceled
		} else {
			e.book.Add(taker)
		}
	}
	res.Order = taker
	return res, nil
}

// Cancel 撤单：先从订单簿移除，再持久化撤销；重复撤单没有副作用
func (e *Engine) Cancel(ctx context.Context, orderID uint64) (*order.Order, error) {
	if e.halted != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineHalted, e.halted)
	}
	_, removed := e.book.Remove(orderID)
	o, err := e.settler.Cancel(ctx, orderID)
	if err != nil {
		if removed {
			return nil, e.halt(fmt.Errorf("failed to cancel order %d removed from book: %w", orderID, err))
		}
		return nil, err
	}
	return o, nil
}

// Estimate 估算按当前对手盘成交 volume 所需冻结
// ask 返回可成交的数量，bid 返回所需的计价币种金额。
func (e *Engine) Estimate(side order.Side, volume decimal.Decimal) (decimal.Decimal, error) {
	if e.halted != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrEngineHalted, e.halted)
	}
	required := decimal.Zero
	remaining := volume
	var first, last decimal.Decimal
	started := false

	e.book.Walk(side.Opposite(), func(l *PriceLevel) bool {
		if !started {
			first, started = l.Price, true
		}
		last = l.Price
		v := money.Min(remaining, l.Volume())
		if side == order.SideAsk {
			required = required.Add(v)
		} else {
			required = required.Add(l.Price.Mul(v))
		}
		remaining = remaining.Sub(v)
		return remaining.IsPositive()
	})

	if remaining.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s short of %s", ErrMarketNotDeepEnough, remaining, volume)
	}
	if first.IsPositive() && last.Sub(first).Abs().Div(first).GreaterThan(e.fuse) {
		return decimal.Zero, fmt.Errorf("%w: volume too large, price would move from %s to %s", ErrMarketNotDeepEnough, first, last)
	}
	return required, nil
}

func (e *Engine) crosses(taker, maker *order.Order) bool {
	if taker.IsMarket() {
		return true
	}
	if taker.Side == order.SideBid {
		return taker.Price.GreaterThanOrEqual(maker.Price)
	}
	return taker.Price.LessThanOrEqual(maker.Price)
}

// affordable 市价单剩余冻结在 price 下最多能成交的数量
func (e *Engine) affordable(taker *order.Order, price decimal.Decimal) decimal.Decimal {
	if taker.Side == order.SideAsk {
		return taker.Locked
	}
	return money.Floor(taker.Locked.Div(price), e.market.AskPrecision)
}

func (e *Engine) halt(err error) error {
	e.halted = err
	e.logger.Error("matching engine halted", "error", err)
	return fmt.Errorf("%w: %w", ErrEngineHalted, err)
}
