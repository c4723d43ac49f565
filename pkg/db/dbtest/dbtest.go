// Package dbtest 为仓储与应用层测试提供基于 sqlite 临时文件的数据库
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/spotexchange/pkg/db"
)

// Open 在 t.TempDir 中创建 sqlite 数据库并迁移给定模型
// 连接数限制为 1，事务内的查询必须走 ctx 中的事务连接。
func Open(t testing.TB, models ...any) *db.DB {
	t.Helper()
	d, err := db.Init(db.Config{
		Driver:       "sqlite",
		DSN:          filepath.Join(t.TempDir(), "exchange.db") + "?_pragma=busy_timeout(5000)",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, d.AutoMigrate(models...))
	t.Cleanup(func() { _ = d.Close() })
	return d
}
