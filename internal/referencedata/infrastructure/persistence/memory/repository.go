// Package memory 由配置加载的参考数据仓储
package memory

import (
	"fmt"
	"sort"

	"github.com/wyfcoding/spotexchange/internal/referencedata/domain"
	"github.com/wyfcoding/spotexchange/pkg/config"
	"github.com/wyfcoding/spotexchange/pkg/money"
)

// Repository 只读内存仓储，启动后不再修改，可并发读
type Repository struct {
	markets    map[string]*domain.Market
	currencies map[string]*domain.Currency
}

// New 直接由领域对象构建
func New(currencies []*domain.Currency, markets []*domain.Market) *Repository {
	r := &Repository{
		markets:    make(map[string]*domain.Market, len(markets)),
		currencies: make(map[string]*domain.Currency, len(currencies)),
	}
	for _, c := range currencies {
		r.currencies[c.ID] = c
	}
	for _, m := range markets {
		r.markets[m.ID] = m
	}
	return r
}

// NewFromConfig 解析配置中的币种与市场
func NewFromConfig(currencies []config.CurrencyConfig, markets []config.MarketConfig) (*Repository, error) {
	cs := make([]*domain.Currency, 0, len(currencies))
	for _, c := range currencies {
		cur, err := toCurrency(c)
		if err != nil {
			return nil, fmt.Errorf("currency %s: %w", c.ID, err)
		}
		cs = append(cs, cur)
	}
	ms := make([]*domain.Market, 0, len(markets))
	for _, m := range markets {
		askFee, err := money.Parse(m.AskFee)
		if err != nil {
			return nil, fmt.Errorf("market %s ask_fee: %w", m.ID, err)
		}
		bidFee, err := money.Parse(m.BidFee)
		if err != nil {
			return nil, fmt.Errorf("market %s bid_fee: %w", m.ID, err)
		}
		ms = append(ms, &domain.Market{
			ID:           m.ID,
			BaseUnit:     m.BaseUnit,
			QuoteUnit:    m.QuoteUnit,
			AskFee:       askFee,
			BidFee:       bidFee,
			AskPrecision: m.AskPrecision,
			BidPrecision: m.BidPrecision,
			Visible:      m.Visible,
		})
	}
	return New(cs, ms), nil
}

func toCurrency(c config.CurrencyConfig) (*domain.Currency, error) {
	withdrawFee, err := money.Parse(c.WithdrawFee)
	if err != nil {
		return nil, err
	}
	depositFee, err := money.Parse(c.DepositFee)
	if err != nil {
		return nil, err
	}
	limit24h, err := money.Parse(c.WithdrawLimit24h)
	if err != nil {
		return nil, err
	}
	limit72h, err := money.Parse(c.WithdrawLimit72h)
	if err != nil {
		return nil, err
	}
	precision := c.Precision
	if precision == 0 {
		precision = 8
	}
	return &domain.Currency{
		ID:               c.ID,
		Type:             domain.CurrencyType(c.Type),
		Precision:        precision,
		WithdrawFee:      withdrawFee,
		DepositFee:       depositFee,
		WithdrawLimit24h: limit24h,
		WithdrawLimit72h: limit72h,
	}, nil
}

// GetMarket 实现 domain.Repository
func (r *Repository) GetMarket(id string) (*domain.Market, error) {
	m, ok := r.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMarketNotFound, id)
	}
	return m, nil
}

// ListMarkets 按 ID 排序返回全部市场
func (r *Repository) ListMarkets() []*domain.Market {
	out := make([]*domain.Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetCurrency 实现 domain.Repository
func (r *Repository) GetCurrency(id string) (*domain.Currency, error) {
	c, ok := r.currencies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCurrencyNotFound, id)
	}
	return c, nil
}
