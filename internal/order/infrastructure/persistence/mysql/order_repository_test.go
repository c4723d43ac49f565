package mysql

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/spotexchange/internal/order/domain"
	"github.com/wyfcoding/spotexchange/pkg/db/dbtest"
)

func place(t *testing.T, repo domain.Repository, market string, side domain.Side, price string) *domain.Order {
	t.Helper()
	p := decimal.RequireFromString(price)
	o, err := domain.NewOrder(1, market, side, domain.TypeLimit, p, decimal.NewFromInt(1), p, decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), o))
	return o
}

func TestOrderRepository_ListActive(t *testing.T) {
	d := dbtest.Open(t, Models()...)
	repo := NewOrderRepository(d.DB)
	ctx := context.Background()

	o1 := place(t, repo, "btcusd", domain.SideAsk, "10")
	o2 := place(t, repo, "btcusd", domain.SideBid, "9")
	place(t, repo, "ethusd", domain.SideAsk, "2")
	o4 := place(t, repo, "btcusd", domain.SideAsk, "11")

	o2.Cancel()
	require.NoError(t, repo.Save(ctx, o2))

	all, err := repo.ListActive(ctx, "btcusd", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, o1.ID, all[0].ID)
	assert.Equal(t, o4.ID, all[1].ID)

	before, err := repo.ListActive(ctx, "btcusd", o4.ID)
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, o1.ID, before[0].ID)

	got, err := repo.Get(ctx, o2.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancel, got.State)
	assert.True(t, got.Locked.IsZero())

	mine, err := repo.ListByMember(ctx, 1, "btcusd", domain.StateWait, 10)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	_, err = repo.Get(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
