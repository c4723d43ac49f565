// Package application 成交结算：一次撮合的订单、资金流水与成交记录在同一事务内提交
package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	account "github.com/wyfcoding/spotexchange/internal/account/domain"
	matching "github.com/wyfcoding/spotexchange/internal/matchingengine/domain"
	order "github.com/wyfcoding/spotexchange/internal/order/domain"
	refdata "github.com/wyfcoding/spotexchange/internal/referencedata/domain"
	"github.com/wyfcoding/spotexchange/internal/settlement/domain"
	"github.com/wyfcoding/spotexchange/pkg/db"
	"github.com/wyfcoding/spotexchange/pkg/logger"
	"github.com/wyfcoding/spotexchange/pkg/metrics"
	"github.com/wyfcoding/spotexchange/pkg/mq"
)

// Ledger 结算用到的账本操作
type Ledger interface {
	UnlockFunds(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal, ref account.Reference) error
	UnlockAndSubFunds(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal, ref account.Reference) error
	PlusFunds(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal, ref account.Reference) error
	CreditRevenue(ctx context.Context, currency string, amount decimal.Decimal, ref account.Reference) error
}

// SettlementService 实现 matching.Settler
type SettlementService struct {
	tx        db.TxManager
	ledger    Ledger
	orders    order.Repository
	trades    domain.TradeRepository
	refs      refdata.Repository
	publisher mq.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

var _ matching.Settler = (*SettlementService)(nil)

// NewSettlementService 创建结算服务；publisher 为 nil 时不发布事件
func NewSettlementService(
	tx db.TxManager,
	ledger Ledger,
	orders order.Repository,
	trades domain.TradeRepository,
	refs refdata.Repository,
	publisher mq.Publisher,
	m *metrics.Metrics,
) *SettlementService {
	if publisher == nil {
		publisher = mq.NopPublisher{}
	}
	return &SettlementService{
		tx:        tx,
		ledger:    ledger,
		orders:    orders,
		trades:    trades,
		refs:      refs,
		publisher: publisher,
		metrics:   m,
		logger:    logger.Module("settlement"),
	}
}

// Strike 结算一次撮合
// 双方订单以数据库中的状态为准，与引擎快照不一致视为不变量破坏。
// 每一方：冻结中扣除支出，收入扣除手续费后记入可用，手续费记入平台收入，订单完成时退回剩余冻结。
func (s *SettlementService) Strike(ctx context.Context, m *matching.Match) (*matching.Fill, error) {
	start := time.Now()
	market, err := s.refs.GetMarket(m.Market)
	if err != nil {
		return nil, err
	}
	ask, bid := m.Maker, m.Taker
	if m.Taker.Side == order.SideAsk {
		ask, bid = m.Taker, m.Maker
	}

	var trade *domain.Trade
	var taker, maker *order.Order
	err = s.tx.Transaction(ctx, func(txCtx context.Context) error {
		// 按 id 顺序加锁
		first, second := ask, bid
		if bid.ID < ask.ID {
			first, second = bid, ask
		}
		locked := make([]*order.Order, 0, 2)
		for _, snapshot := range []*order.Order{first, second} {
			o, err := s.orders.GetForUpdate(txCtx, snapshot.ID)
			if err != nil {
				return err
			}
			if o.State != snapshot.State || !o.Volume.Equal(snapshot.Volume) || !o.Locked.Equal(snapshot.Locked) {
				return fmt.Errorf("%w: order %d diverged from engine, db %s/%s/%s engine %s/%s/%s", order.ErrInvariantViolation,
					o.ID, o.State, o.Volume, o.Locked, snapshot.State, snapshot.Volume, snapshot.Locked)
			}
			locked = append(locked, o)
		}

		prev, hasPrev, err := s.trades.LatestPrice(txCtx, market.ID)
		if err != nil {
			return err
		}
		trade = &domain.Trade{
			Market:      market.ID,
			Price:       m.Price,
			Volume:      m.Volume,
			Funds:       m.Funds,
			AskID:       ask.ID,
			BidID:       bid.ID,
			AskMemberID: ask.MemberID,
			BidMemberID: bid.MemberID,
			TakerSide:   string(m.Taker.Side),
			Trend:       domain.TrendOf(m.Price, prev, hasPrev),
			CreatedAt:   time.Now(),
		}
		if err := s.trades.Create(txCtx, trade); err != nil {
			return err
		}

		ref := account.TradeRef(trade.ID)
		for _, o := range locked {
			if err := s.strike(txCtx, market, o, m, ref); err != nil {
				return err
			}
		}
		taker, maker = locked[0], locked[1]
		if taker.ID != m.Taker.ID {
			taker, maker = maker, taker
		}
		return nil
	})
	s.metrics.SettlementDuration.WithLabelValues(m.Market).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	s.publishTrade(ctx, trade)
	s.publishOrder(ctx, taker)
	s.publishOrder(ctx, maker)
	return &matching.Fill{
		TradeID: trade.ID,
		Price:   trade.Price,
		Volume:  trade.Volume,
		Taker:   taker.Clone(),
		Maker:   maker.Clone(),
	}, nil
}

func (s *SettlementService) strike(ctx context.Context, market *refdata.Market, o *order.Order, m *matching.Match, ref account.Reference) error {
	hold := o.HoldCurrency(market.BaseUnit, market.QuoteUnit)
	expect := o.ExpectCurrency(market.BaseUnit, market.QuoteUnit)
	cur, err := s.refs.GetCurrency(expect)
	if err != nil {
		return err
	}

	res, err := o.Strike(m.Price, m.Volume, m.Funds, cur.Precision)
	if err != nil {
		return err
	}
	if err := s.ledger.UnlockAndSubFunds(ctx, o.MemberID, hold, res.Spent, ref); err != nil {
		return fmt.Errorf("order %d: %w", o.ID, err)
	}
	if err := s.ledger.PlusFunds(ctx, o.MemberID, expect, res.Net, ref); err != nil {
		return fmt.Errorf("order %d: %w", o.ID, err)
	}
	if err := s.ledger.CreditRevenue(ctx, expect, res.Fee, ref); err != nil {
		return fmt.Errorf("order %d: %w", o.ID, err)
	}
	if res.Released.IsPositive() {
		if err := s.ledger.UnlockFunds(ctx, o.MemberID, hold, res.Released, ref); err != nil {
			return fmt.Errorf("order %d: %w", o.ID, err)
		}
	}
	return s.orders.Save(ctx, o)
}

// Cancel 撤销订单并解冻剩余资金；订单已终结时原样返回，不产生流水
func (s *SettlementService) Cancel(ctx context.Context, orderID uint64) (*order.Order, error) {
	var o *order.Order
	var changed bool
	err := s.tx.Transaction(ctx, func(txCtx context.Context) error {
		var err error
		o, err = s.orders.GetForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}
		var released decimal.Decimal
		released, changed = o.Cancel()
		if !changed {
			return nil
		}
		market, err := s.refs.GetMarket(o.Market)
		if err != nil {
			return err
		}
		hold := o.HoldCurrency(market.BaseUnit, market.QuoteUnit)
		if err := s.ledger.UnlockFunds(txCtx, o.MemberID, hold, released, account.OrderRef(o.ID)); err != nil {
			return fmt.Errorf("order %d: %w", o.ID, err)
		}
		return s.orders.Save(txCtx, o)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.InfoContext(ctx, "order canceled", "order_id", o.ID, "market", o.Market)
		s.publishOrder(ctx, o)
	}
	return o, nil
}

// Trades 市场最近成交
func (s *SettlementService) Trades(ctx context.Context, market string, limit int) ([]*domain.Trade, error) {
	if _, err := s.refs.GetMarket(market); err != nil {
		return nil, err
	}
	return s.trades.ListByMarket(ctx, market, limit)
}

// OrderTrades 订单参与的成交
func (s *SettlementService) OrderTrades(ctx context.Context, orderID uint64) ([]*domain.Trade, error) {
	return s.trades.ListByOrder(ctx, orderID)
}

// 事件在事务提交后发布，发布失败只记录日志
func (s *SettlementService) publishTrade(ctx context.Context, t *domain.Trade) {
	if err := s.publisher.Publish(ctx, domain.TopicTrade, t.Market, domain.NewTradeCompletedEvent(t)); err != nil {
		s.logger.WarnContext(ctx, "failed to publish trade event", "trade_id", t.ID, "error", err)
	}
}

func (s *SettlementService) publishOrder(ctx context.Context, o *order.Order) {
	ev := order.NewOrderEvent(order.EventTypeFor(o), o)
	if err := s.publisher.Publish(ctx, order.TopicOrder, o.Market, ev); err != nil {
		s.logger.WarnContext(ctx, "failed to publish order event", "order_id", o.ID, "type", ev.Type, "error", err)
	}
}
