// Package domain 撮合引擎的领域模型：订单簿、价格时间优先撮合与诊断输出
package domain

import (
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
	order "github.com/wyfcoding/spotexchange/internal/order/domain"
)

const btreeDegree = 32

// PriceLevel 同一价格档位的订单，切片顺序即到达顺序 (FIFO)
type PriceLevel struct {
	Price  decimal.Decimal
	Orders []*order.Order
}

// Volume 档位剩余总量
func (l *PriceLevel) Volume() decimal.Decimal {
	total := decimal.Zero
	for _, o := range l.Orders {
		total = total.Add(o.Volume)
	}
	return total
}

func levelLess(a, b *PriceLevel) bool {
	return a.Price.LessThan(b.Price)
}

// bookSide 单边订单簿，档位按价格升序存放
type bookSide struct {
	side   order.Side
	levels *btree.BTreeG[*PriceLevel]
}

func newBookSide(side order.Side) *bookSide {
	return &bookSide{side: side, levels: btree.NewG(btreeDegree, levelLess)}
}

// best 卖盘取最低价，买盘取最高价
func (s *bookSide) best() (*PriceLevel, bool) {
	if s.side == order.SideAsk {
		return s.levels.Min()
	}
	return s.levels.Max()
}

// walk 从最优价开始遍历
func (s *bookSide) walk(fn func(*PriceLevel) bool) {
	if s.side == order.SideAsk {
		s.levels.Ascend(fn)
		return
	}
	s.levels.Descend(fn)
}

func (s *bookSide) level(price decimal.Decimal) (*PriceLevel, bool) {
	return s.levels.Get(&PriceLevel{Price: price})
}

// OrderBook 单个市场的内存订单簿
// 不加锁，由所在市场的 worker 独占访问。
type OrderBook struct {
	Market string
	asks   *bookSide
	bids   *bookSide
	index  map[uint64]*order.Order
}

// NewOrderBook 创建空订单簿
func NewOrderBook(market string) *OrderBook {
	return &OrderBook{
		Market: market,
		asks:   newBookSide(order.SideAsk),
		bids:   newBookSide(order.SideBid),
		index:  make(map[uint64]*order.Order),
	}
}

func (b *OrderBook) side(s order.Side) *bookSide {
	if s == order.SideAsk {
		return b.asks
	}
	return b.bids
}

// Add 挂单，追加到对应价格档位队尾
func (b *OrderBook) Add(o *order.Order) {
	if _, ok := b.index[o.ID]; ok {
		return
	}
	s := b.side(o.Side)
	lvl, ok := s.level(o.Price)
	if !ok {
		lvl = &PriceLevel{Price: o.Price}
		s.levels.ReplaceOrInsert(lvl)
	}
	lvl.Orders = append(lvl.Orders, o)
	b.index[o.ID] = o
}

// Remove 撤下挂单，不存在时返回 false
func (b *OrderBook) Remove(id uint64) (*order.Order, bool) {
	o, ok := b.index[id]
	if !ok {
		return nil, false
	}
	delete(b.index, id)

	s := b.side(o.Side)
	lvl, ok := s.level(o.Price)
	if !ok {
		return o, true
	}
	for i, resting := range lvl.Orders {
		if resting.ID == id {
			lvl.Orders = append(lvl.Orders[:i], lvl.Orders[i+1:]...)
			break
		}
	}
	if len(lvl.Orders) == 0 {
		s.levels.Delete(lvl)
	}
	return o, true
}

// Get 按 id 查找挂单
func (b *OrderBook) Get(id uint64) (*order.Order, bool) {
	o, ok := b.index[id]
	return o, ok
}

// Top 某一方向的最优挂单：最优价格档位中最早到达的订单
func (b *OrderBook) Top(s order.Side) (*order.Order, bool) {
	lvl, ok := b.side(s).best()
	if !ok || len(lvl.Orders) == 0 {
		return nil, false
	}
	return lvl.Orders[0], true
}

// BestPrice 最优价
func (b *OrderBook) BestPrice(s order.Side) (decimal.Decimal, bool) {
	lvl, ok := b.side(s).best()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.Price, true
}

// Walk 从最优价开始遍历某一方向的档位，fn 返回 false 时停止
func (b *OrderBook) Walk(s order.Side, fn func(*PriceLevel) bool) {
	b.side(s).walk(fn)
}

// Len 某一方向的挂单数量
func (b *OrderBook) Len(s order.Side) int {
	n := 0
	b.side(s).levels.Ascend(func(l *PriceLevel) bool {
		n += len(l.Orders)
		return true
	})
	return n
}

// Size 挂单总数
func (b *OrderBook) Size() int {
	return len(b.index)
}

// DepthLevel 聚合后的档位
type DepthLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Orders int             `json:"orders"`
}

// Depth 订单簿深度快照
type Depth struct {
	Market    string       `json:"market"`
	Asks      []DepthLevel `json:"asks"`
	Bids      []DepthLevel `json:"bids"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Depth 两侧各取最优的 limit 个档位，limit <= 0 时返回全部
func (b *OrderBook) Depth(limit int) *Depth {
	collect := func(s order.Side) []DepthLevel {
		levels := make([]DepthLevel, 0)
		b.Walk(s, func(l *PriceLevel) bool {
			if limit > 0 && len(levels) >= limit {
				return false
			}
			levels = append(levels, DepthLevel{Price: l.Price, Volume: l.Volume(), Orders: len(l.Orders)})
			return true
		})
		return levels
	}
	return &Depth{
		Market:    b.Market,
		Asks:      collect(order.SideAsk),
		Bids:      collect(order.SideBid),
		UpdatedAt: time.Now(),
	}
}
