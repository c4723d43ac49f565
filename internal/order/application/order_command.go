// Package application 下单与撤单流程：校验、冻结资金、落库后交给撮合
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
	account "github.com/wyfcoding/spotexchange/internal/account/domain"
	matching "github.com/wyfcoding/spotexchange/internal/matchingengine/domain"
	"github.com/wyfcoding/spotexchange/internal/order/domain"
	refdata "github.com/wyfcoding/spotexchange/internal/referencedata/domain"
	"github.com/wyfcoding/spotexchange/pkg/db"
	"github.com/wyfcoding/spotexchange/pkg/logger"
	"github.com/wyfcoding/spotexchange/pkg/mq"
)

// Matcher 撮合调度
type Matcher interface {
	Submit(ctx context.Context, o *domain.Order) (*matching.SubmitResult, error)
	Cancel(ctx context.Context, market string, orderID uint64) (*domain.Order, error)
	Estimate(ctx context.Context, market string, side domain.Side, volume decimal.Decimal) (decimal.Decimal, error)
}

// FundsLocker 下单冻结资金
type FundsLocker interface {
	LockFunds(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal, ref account.Reference) error
}

// PlaceOrderCommand 下单命令
type PlaceOrderCommand struct {
	MemberID uint64
	Market   string
	Side     domain.Side
	Type     domain.Type
	// 市价单为零
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// OrderService 订单命令与查询
type OrderService struct {
	tx        db.TxManager
	funds     FundsLocker
	orders    domain.Repository
	refs      refdata.Repository
	matcher   Matcher
	publisher mq.Publisher
	logger    *slog.Logger

	// 每个市场一把锁，保证订单 id 顺序与进入撮合的顺序一致
	locks sync.Map
}

// NewOrderService 创建订单服务；publisher 为 nil 时不发布事件
func NewOrderService(
	tx db.TxManager,
	funds FundsLocker,
	orders domain.Repository,
	refs refdata.Repository,
	matcher Matcher,
	publisher mq.Publisher,
) *OrderService {
	if publisher == nil {
		publisher = mq.NopPublisher{}
	}
	return &OrderService{
		tx:        tx,
		funds:     funds,
		orders:    orders,
		refs:      refs,
		matcher:   matcher,
		publisher: publisher,
		logger:    logger.Module("order"),
	}
}

// PlaceOrder 下单
// 价格与数量先按市场精度截断；ask 冻结数量，限价 bid 冻结 price × volume，市价单按对手盘估算冻结。
// 订单落库与冻结在同一事务内，提交后再送入撮合。撮合失败时订单保持 wait，随引擎重建回放。
func (s *OrderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (*domain.Order, error) {
	market, err := s.refs.GetMarket(cmd.Market)
	if err != nil {
		return nil, err
	}
	if !market.Visible {
		return nil, fmt.Errorf("%w: market %s is not open for trading", domain.ErrValidation, market.ID)
	}

	price := cmd.Price
	if cmd.Type == domain.TypeLimit {
		price = market.FixPrice(price)
	}
	volume := market.FixVolume(cmd.Volume)
	fee := market.BidFee
	if cmd.Side == domain.SideAsk {
		fee = market.AskFee
	}
	// 先用零冻结校验参数，避免对非法订单估算深度
	o, err := domain.NewOrder(cmd.MemberID, market.ID, cmd.Side, cmd.Type, price, volume, decimal.Zero, fee)
	if err != nil {
		return nil, err
	}

	mu := s.lock(market.ID)
	mu.Lock()
	defer mu.Unlock()

	locked, err := s.required(ctx, market, o)
	if err != nil {
		return nil, err
	}
	o.Locked, o.OriginLocked = locked, locked

	hold := o.HoldCurrency(market.BaseUnit, market.QuoteUnit)
	err = s.tx.Transaction(ctx, func(txCtx context.Context) error {
		if err := s.orders.Save(txCtx, o); err != nil {
			return err
		}
		return s.funds.LockFunds(txCtx, o.MemberID, hold, locked, account.OrderRef(o.ID))
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "order placed", "order_id", o.ID, "market", o.Market, "side", o.Side, "ord_type", o.Type,
		"price", o.Price, "volume", o.Volume, "locked", locked)
	s.publish(ctx, domain.EventOrderCreated, o)

	res, err := s.matcher.Submit(ctx, o)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to submit order to engine", "order_id", o.ID, "market", o.Market, "error", err)
		// 撮合中途失败时部分成交可能已提交，返回库中最新状态
		if stored, getErr := s.orders.Get(ctx, o.ID); getErr == nil {
			o = stored
		}
		return o, fmt.Errorf("order %d accepted but not matched: %w", o.ID, err)
	}
	return res.Order, nil
}

func (s *OrderService) required(ctx context.Context, market *refdata.Market, o *domain.Order) (decimal.Decimal, error) {
	if o.IsMarket() {
		// 市价 ask 冻结数量本身，估算只用于检查深度与滑点
		required, err := s.matcher.Estimate(ctx, market.ID, o.Side, o.Volume)
		if err != nil {
			return decimal.Zero, err
		}
		if o.Side == domain.SideAsk {
			return o.Volume, nil
		}
		return required, nil
	}
	if o.Side == domain.SideAsk {
		return o.Volume, nil
	}
	return o.Price.Mul(o.Volume), nil
}

// CancelOrder 会员撤单；订单已终结时直接返回
func (s *OrderService) CancelOrder(ctx context.Context, memberID, orderID uint64) (*domain.Order, error) {
	o, err := s.GetOrder(ctx, memberID, orderID)
	if err != nil {
		return nil, err
	}
	if !o.IsActive() {
		return o, nil
	}
	return s.matcher.Cancel(ctx, o.Market, o.ID)
}

// GetOrder 查询会员自己的订单
func (s *OrderService) GetOrder(ctx context.Context, memberID, orderID uint64) (*domain.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.MemberID != memberID {
		return nil, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, orderID)
	}
	return o, nil
}

// ListOrders 会员订单列表，market、state 为空时不过滤
func (s *OrderService) ListOrders(ctx context.Context, memberID uint64, market string, state domain.State, limit int) ([]*domain.Order, error) {
	return s.orders.ListByMember(ctx, memberID, market, state, limit)
}

func (s *OrderService) lock(market string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(market, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *OrderService) publish(ctx context.Context, eventType string, o *domain.Order) {
	if err := s.publisher.Publish(ctx, domain.TopicOrder, o.Market, domain.NewOrderEvent(eventType, o)); err != nil {
		s.logger.WarnContext(ctx, "failed to publish order event", "order_id", o.ID, "type", eventType, "error", err)
	}
}
