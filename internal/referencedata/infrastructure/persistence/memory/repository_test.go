package memory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/spotexchange/internal/referencedata/domain"
	"github.com/wyfcoding/spotexchange/pkg/config"
	"github.com/wyfcoding/spotexchange/pkg/money"
)

func TestNewFromConfig(t *testing.T) {
	repo, err := NewFromConfig(
		[]config.CurrencyConfig{
			{ID: "btc", Type: "coin", Precision: 8, WithdrawFee: "0.0005", WithdrawLimit24h: "1", WithdrawLimit72h: "2"},
			{ID: "usd", Type: "fiat", Precision: 2},
		},
		[]config.MarketConfig{
			{ID: "btcusd", BaseUnit: "btc", QuoteUnit: "usd", AskFee: "0.001", BidFee: "0.002", AskPrecision: 4, BidPrecision: 2, Visible: true},
		},
	)
	require.NoError(t, err)

	m, err := repo.GetMarket("btcusd")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USD", m.Name())
	assert.Equal(t, "0.002", m.BidFee.String())
	assert.Equal(t, "1.2345", m.FixVolume(money.MustParse("1.23456")).String())
	assert.Equal(t, "100.99", m.FixPrice(money.MustParse("100.999")).String())

	btc, err := repo.GetCurrency("btc")
	require.NoError(t, err)
	assert.True(t, btc.IsCoin())
	assert.Equal(t, "0.12345678", btc.Round(money.MustParse("0.123456789")).String())

	usd, err := repo.GetCurrency("usd")
	require.NoError(t, err)
	assert.False(t, usd.IsCoin())
	assert.True(t, usd.WithdrawFee.IsZero())

	assert.Len(t, repo.ListMarkets(), 1)
}

func TestNotFound(t *testing.T) {
	repo := New(nil, nil)

	_, err := repo.GetMarket("ethbtc")
	assert.True(t, errors.Is(err, domain.ErrMarketNotFound))

	_, err = repo.GetCurrency("eth")
	assert.True(t, errors.Is(err, domain.ErrCurrencyNotFound))
}

func TestNewFromConfigRejectsBadDecimal(t *testing.T) {
	_, err := NewFromConfig(nil, []config.MarketConfig{{ID: "x", BaseUnit: "a", QuoteUnit: "b", AskFee: "abc"}})
	assert.Error(t, err)
}
