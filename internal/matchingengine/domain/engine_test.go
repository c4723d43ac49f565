package domain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	order "github.com/wyfcoding/spotexchange/internal/order/domain"
	refdata "github.com/wyfcoding/spotexchange/internal/referencedata/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// memSettler 在内存中模拟结算
type memSettler struct {
	orders   map[uint64]*order.Order
	released map[uint64]decimal.Decimal
	trades   uint64
	cancels  int
	failOn   uint64
}

func newMemSettler() *memSettler {
	return &memSettler{orders: map[uint64]*order.Order{}, released: map[uint64]decimal.Decimal{}}
}

func (s *memSettler) Strike(_ context.Context, m *Match) (*Fill, error) {
	if m.Maker.ID == s.failOn {
		return nil, errors.New("db unavailable")
	}
	for _, o := range []*order.Order{m.Taker, m.Maker} {
		res, err := o.Strike(m.Price, m.Volume, m.Funds, 8)
		if err != nil {
			return nil, err
		}
		s.released[o.ID] = s.released[o.ID].Add(res.Released)
		s.orders[o.ID] = o
	}
	s.trades++
	return &Fill{TradeID: s.trades, Price: m.Price, Volume: m.Volume, Taker: m.Taker.Clone(), Maker: m.Maker.Clone()}, nil
}

func (s *memSettler) Cancel(_ context.Context, id uint64) (*order.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	o = o.Clone()
	if released, changed := o.Cancel(); changed {
		s.cancels++
		s.released[id] = s.released[id].Add(released)
	}
	s.orders[id] = o
	return o.Clone(), nil
}

type harness struct {
	engine  *Engine
	settler *memSettler
	nextID  uint64
}

func testMarket() *refdata.Market {
	return &refdata.Market{ID: "btcusd", BaseUnit: "btc", QuoteUnit: "usd", AskPrecision: 4, BidPrecision: 2}
}

func newHarness() *harness {
	s := newMemSettler()
	return &harness{engine: NewEngine(testMarket(), s, decimal.Zero, slog.Default()), settler: s}
}

func (h *harness) order(side order.Side, typ order.Type, price, volume string) *order.Order {
	h.nextID++
	p, v := d(price), d(volume)
	locked := v
	if side == order.SideBid {
		locked = p.Mul(v)
	}
	o := &order.Order{
		ID: h.nextID, MemberID: h.nextID, Market: "btcusd", Side: side, Type: typ,
		Price: p, Volume: v, OriginVolume: v, Locked: locked, OriginLocked: locked, State: order.StateWait,
	}
	h.settler.orders[o.ID] = o.Clone()
	return o
}

func (h *harness) marketBid(volume, locked string) *order.Order {
	o := h.order(order.SideBid, order.TypeMarket, "0", volume)
	o.Locked, o.OriginLocked = d(locked), d(locked)
	h.settler.orders[o.ID] = o.Clone()
	return o
}

func (h *harness) submit(t *testing.T, o *order.Order) *SubmitResult {
	t.Helper()
	res, err := h.engine.Submit(context.Background(), o)
	require.NoError(t, err)
	return res
}

func TestEngine_PriceTimePriority(t *testing.T) {
	h := newHarness()
	o1 := h.order(order.SideAsk, order.TypeLimit, "10", "1")
	o2 := h.order(order.SideAsk, order.TypeLimit, "10", "1")
	o3 := h.order(order.SideAsk, order.TypeLimit, "11", "1")
	for _, o := range []*order.Order{o1, o2, o3} {
		h.submit(t, o)
	}

	bid := h.order(order.SideBid, order.TypeLimit, "11", "2")
	res := h.submit(t, bid)

	require.Len(t, res.Fills, 2)
	assert.Equal(t, o1.ID, res.Fills[0].Maker.ID)
	assert.Equal(t, o2.ID, res.Fills[1].Maker.ID)
	for _, f := range res.Fills {
		assert.True(t, f.Price.Equal(d("10")), "executes at maker price")
	}
	assert.Equal(t, order.StateDone, res.Order.State)
	// 限价 11 按 10 成交，多冻结的 2 退回
	assert.True(t, h.settler.released[bid.ID].Equal(d("2")))

	book := h.engine.Book()
	assert.Equal(t, 1, book.Len(order.SideAsk))
	top, ok := book.Top(order.SideAsk)
	require.True(t, ok)
	assert.Equal(t, o3.ID, top.ID)
	assert.True(t, top.Volume.Equal(d("1")))
	assert.Zero(t, book.Len(order.SideBid))
}

func TestEngine_LimitLeftoverRests(t *testing.T) {
	h := newHarness()
	h.submit(t, h.order(order.SideAsk, order.TypeLimit, "10", "1"))
	h.submit(t, h.order(order.SideAsk, order.TypeLimit, "12", "1"))

	res := h.submit(t, h.order(order.SideBid, order.TypeLimit, "11", "3"))
	require.Len(t, res.Fills, 1)
	assert.Equal(t, order.StateWait, res.Order.State)
	assert.True(t, res.Order.Volume.Equal(d("2")))
	assert.True(t, res.Order.Locked.Equal(d("23")))

	best, ok := h.engine.Book().BestPrice(order.SideBid)
	require.True(t, ok)
	assert.True(t, best.Equal(d("11")))
	ask, ok := h.engine.Book().BestPrice(order.SideAsk)
	require.True(t, ok)
	assert.True(t, ask.Equal(d("12")))
}

func TestEngine_AskTakerMatchesHighestBidFirst(t *testing.T) {
	h := newHarness()
	low := h.order(order.SideBid, order.TypeLimit, "9", "1")
	high := h.order(order.SideBid, order.TypeLimit, "10", "1")
	h.submit(t, low)
	h.submit(t, high)

	res := h.submit(t, h.order(order.SideAsk, order.TypeLimit, "9", "1.5"))
	require.Len(t, res.Fills, 2)
	assert.Equal(t, high.ID, res.Fills[0].Maker.ID)
	assert.True(t, res.Fills[0].Price.Equal(d("10")))
	assert.Equal(t, low.ID, res.Fills[1].Maker.ID)
	assert.True(t, res.Fills[1].Volume.Equal(d("0.5")))
	assert.Equal(t, order.StateDone, res.Order.State)

	top, ok := h.engine.Book().Top(order.SideBid)
	require.True(t, ok)
	assert.True(t, top.Volume.Equal(d("0.5")))
}

func TestEngine_MarketBidReleasesUnusedLock(t *testing.T) {
	h := newHarness()
	h.submit(t, h.order(order.SideAsk, order.TypeLimit, "100", "1"))

	bid := h.marketBid("1", "150")
	res := h.submit(t, bid)

	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].Volume.Equal(d("1")))
	assert.Equal(t, order.StateDone, res.Order.State)
	assert.True(t, res.Order.Locked.IsZero())
	assert.True(t, h.settler.released[bid.ID].Equal(d("50")))
	assert.Zero(t, h.engine.Book().Size())
}

func TestEngine_MarketBidRunsOutOfFunds(t *testing.T) {
	h := newHarness()
	h.submit(t, h.order(order.SideAsk, order.TypeLimit, "100", "1"))
	second := h.order(order.SideAsk, order.TypeLimit, "200", "1")
	h.submit(t, second)

	res := h.submit(t, h.marketBid("2", "150"))
	require.Len(t, res.Fills, 2)
	assert.True(t, res.Fills[1].Volume.Equal(d("0.25")))
	assert.Equal(t, order.StateCancel, res.Order.State)
	assert.True(t, res.Order.Volume.Equal(d("0.75")))

	top, ok := h.engine.Book().Top(order.SideAsk)
	require.True(t, ok)
	assert.Equal(t, second.ID, top.ID)
	assert.True(t, top.Volume.Equal(d("0.75")))
}

func TestEngine_MarketOrderLeftoverIsCanceled(t *testing.T) {
	h := newHarness()
	h.submit(t, h.order(order.SideBid, order.TypeLimit, "10", "1"))

	ask := h.order(order.SideAsk, order.TypeMarket, "0", "3")
	res := h.submit(t, ask)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, order.StateCancel, res.Order.State)
	assert.True(t, h.settler.released[ask.ID].Equal(d("2")))
	assert.Zero(t, h.engine.Book().Size(), "market orders never rest")
}

func TestEngine_CancelIsIdempotent(t *testing.T) {
	h := newHarness()
	ask := h.order(order.SideAsk, order.TypeLimit, "10", "1")
	h.submit(t, ask)
	ctx := context.Background()

	o, err := h.engine.Cancel(ctx, ask.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StateCancel, o.State)
	assert.Zero(t, h.engine.Book().Size())

	o, err = h.engine.Cancel(ctx, ask.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StateCancel, o.State)
	assert.Equal(t, 1, h.settler.cancels)
	assert.True(t, h.settler.released[ask.ID].Equal(d("1")))

	// 已完全成交的订单撤单无效果
	filled := h.order(order.SideAsk, order.TypeLimit, "10", "1")
	h.submit(t, filled)
	h.submit(t, h.order(order.SideBid, order.TypeLimit, "10", "1"))
	o, err = h.engine.Cancel(ctx, filled.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StateDone, o.State)
	assert.Equal(t, 1, h.settler.cancels)

	_, err = h.engine.Cancel(ctx, 999)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
	assert.NoError(t, h.engine.Halted())
}

func TestEngine_SubmitNonWaitHalts(t *testing.T) {
	h := newHarness()
	o := h.order(order.SideAsk, order.TypeLimit, "10", "1")
	o.State = order.StateDone

	_, err := h.engine.Submit(context.Background(), o)
	assert.ErrorIs(t, err, ErrEngineHalted)
	assert.ErrorIs(t, err, ErrInvariantViolation)

	_, err = h.engine.Submit(context.Background(), h.order(order.SideAsk, order.TypeLimit, "10", "1"))
	assert.ErrorIs(t, err, ErrEngineHalted)
	_, err = h.engine.Cancel(context.Background(), 1)
	assert.ErrorIs(t, err, ErrEngineHalted)
}

func TestEngine_SettlementFailureHalts(t *testing.T) {
	h := newHarness()
	ask := h.order(order.SideAsk, order.TypeLimit, "10", "1")
	h.submit(t, ask)
	h.settler.failOn = ask.ID

	_, err := h.engine.Submit(context.Background(), h.order(order.SideBid, order.TypeLimit, "10", "1"))
	assert.ErrorIs(t, err, ErrEngineHalted)
	require.Error(t, h.engine.Halted())

	top, ok := h.engine.Book().Top(order.SideAsk)
	require.True(t, ok)
	assert.True(t, top.Volume.Equal(d("1")), "book untouched by failed settlement")

	// 停机后不再按可能已损坏的订单簿估算冻结
	required, err := h.engine.Estimate(order.SideBid, d("1"))
	assert.ErrorIs(t, err, ErrEngineHalted)
	assert.True(t, required.IsZero())
}

func TestEngine_ReplayIsIdempotent(t *testing.T) {
	h := newHarness()
	orders := []*order.Order{
		h.order(order.SideAsk, order.TypeLimit, "11", "1"),
		h.order(order.SideAsk, order.TypeLimit, "12", "2"),
		h.order(order.SideBid, order.TypeLimit, "10", "1.5"),
		h.order(order.SideBid, order.TypeLimit, "9", "3"),
	}
	for _, o := range orders {
		h.submit(t, o)
	}
	before := h.engine.Book().Depth(0)

	// 重复提交不产生成交
	for _, o := range orders {
		res := h.submit(t, o)
		assert.Empty(t, res.Fills)
	}
	assert.Equal(t, 4, h.engine.Book().Size())

	// 从持久化状态重建
	rebuilt := NewEngine(testMarket(), h.settler, decimal.Zero, slog.Default())
	for _, o := range orders {
		res, err := rebuilt.Submit(context.Background(), h.settler.orders[o.ID].Clone())
		require.NoError(t, err)
		assert.Empty(t, res.Fills)
	}
	after := rebuilt.Book().Depth(0)
	assert.Equal(t, fmt.Sprint(before.Asks), fmt.Sprint(after.Asks))
	assert.Equal(t, fmt.Sprint(before.Bids), fmt.Sprint(after.Bids))
	assert.Zero(t, h.settler.trades)
}

func TestEngine_Estimate(t *testing.T) {
	h := newHarness()
	h.submit(t, h.order(order.SideAsk, order.TypeLimit, "100", "1"))
	h.submit(t, h.order(order.SideAsk, order.TypeLimit, "150", "1"))
	h.submit(t, h.order(order.SideBid, order.TypeLimit, "90", "2"))

	funds, err := h.engine.Estimate(order.SideBid, d("1.5"))
	require.NoError(t, err)
	assert.True(t, funds.Equal(d("175")))

	_, err = h.engine.Estimate(order.SideBid, d("3"))
	assert.ErrorIs(t, err, ErrMarketNotDeepEnough)

	volume, err := h.engine.Estimate(order.SideAsk, d("2"))
	require.NoError(t, err)
	assert.True(t, volume.Equal(d("2")))

	h.submit(t, h.order(order.SideAsk, order.TypeLimit, "300", "1"))
	_, err = h.engine.Estimate(order.SideBid, d("3"))
	assert.ErrorIs(t, err, ErrMarketNotDeepEnough, "price moves beyond fuse")
}

func TestOrderBook_Dump(t *testing.T) {
	h := newHarness()
	h.submit(t, h.order(order.SideAsk, order.TypeLimit, "11", "1"))
	h.submit(t, h.order(order.SideAsk, order.TypeLimit, "12", "2"))
	h.submit(t, h.order(order.SideAsk, order.TypeLimit, "11", "0.5"))
	h.submit(t, h.order(order.SideBid, order.TypeLimit, "10", "1.5"))

	var buf bytes.Buffer
	require.NoError(t, h.engine.Book().Dump(&buf))
	want := "ASK\n" +
		"12\n\t2/$12/2\n" +
		"11\n\t1/$11/1\n\t3/$11/0.5\n" +
		"----------------------------------------\n" +
		"10\n\t4/$10/1.5\n" +
		"BID\n"
	assert.Equal(t, want, buf.String())
	assert.Equal(t, "limit_orderbook_btcusd", DumpFileName("btcusd"))
}
