package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAccountFundOperations(t *testing.T) {
	a := NewAccount(1, "usd")
	require.NoError(t, a.PlusFunds(d("100")))

	require.NoError(t, a.LockFunds(d("30")))
	assert.Equal(t, "70", a.Balance.String())
	assert.Equal(t, "30", a.Locked.String())

	require.NoError(t, a.UnlockFunds(d("10")))
	assert.Equal(t, "80", a.Balance.String())
	assert.Equal(t, "20", a.Locked.String())

	require.NoError(t, a.UnlockAndSubFunds(d("20")))
	assert.Equal(t, "80", a.Balance.String())
	assert.True(t, a.Locked.IsZero())
	assert.Equal(t, "80", a.Total().String())
}

func TestAccountRejectsOverdraw(t *testing.T) {
	a := NewAccount(1, "btc")
	require.NoError(t, a.PlusFunds(d("1")))

	err := a.LockFunds(d("1.00000001"))
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.Equal(t, "1", a.Balance.String(), "failed lock must not partially apply")

	require.NoError(t, a.LockFunds(d("0.5")))
	assert.True(t, errors.Is(a.UnlockFunds(d("0.6")), ErrInsufficientLocked))
	assert.True(t, errors.Is(a.UnlockAndSubFunds(d("0.6")), ErrInsufficientLocked))
	assert.Equal(t, "0.5", a.Locked.String())
}

func TestAccountRejectsNegativeAmount(t *testing.T) {
	a := NewAccount(1, "btc")
	assert.True(t, errors.Is(a.PlusFunds(d("-1")), ErrInvalidAmount))
	assert.True(t, errors.Is(a.LockFunds(d("-1")), ErrInvalidAmount))
	assert.True(t, a.Balance.IsZero())
}

func TestOperationNet(t *testing.T) {
	ref := TradeRef(7)
	assert.Equal(t, "trade#7", ref.String())

	l := Liability(1, "usd", KindMain, ref).WithCredit(d("5"))
	assert.Equal(t, "5", l.Net().String())

	r := Revenue("usd", ref).WithCredit(d("0.1"))
	assert.Equal(t, "0.1", r.Net().String())

	a := Asset("usd", ref).WithCredit(d("3"))
	assert.Equal(t, "-3", a.Net().String())
}
