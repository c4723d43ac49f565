package domain

import (
	"context"
	"errors"
)

// ErrDepthNotFound 深度快照不存在或已过期
var ErrDepthNotFound = errors.New("depth snapshot not found")

// DepthRepository 深度快照存储，供行情查询使用，不参与撮合
type DepthRepository interface {
	Save(ctx context.Context, depth *Depth) error
	Get(ctx context.Context, market string) (*Depth, error)
}
