package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/spotexchange/pkg/db"
)

type row struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func TestTransaction_NestedJoinsOuter(t *testing.T) {
	d := dbtest(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := d.Transaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, db.Conn(txCtx, d.DB).Create(&row{Name: "outer"}).Error)
		// 内层事务加入外层，外层回滚时一并撤销
		require.NoError(t, d.Transaction(txCtx, func(inner context.Context) error {
			return db.Conn(inner, d.DB).Create(&row{Name: "inner"}).Error
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int64
	require.NoError(t, db.Conn(ctx, d.DB).Model(&row{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestTransaction_Commit(t *testing.T) {
	d := dbtest(t)
	ctx := context.Background()

	require.NoError(t, d.Transaction(ctx, func(txCtx context.Context) error {
		return db.Conn(txCtx, d.DB).Create(&row{Name: "a"}).Error
	}))

	var got row
	require.NoError(t, db.Conn(ctx, d.DB).First(&got).Error)
	assert.Equal(t, "a", got.Name)
}

func TestInit_UnsupportedDriver(t *testing.T) {
	_, err := db.Init(db.Config{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported database driver")
}

func dbtest(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Init(db.Config{Driver: "sqlite", DSN: t.TempDir() + "/tx.db", MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, d.AutoMigrate(&row{}))
	t.Cleanup(func() { _ = d.Close() })
	return d
}
