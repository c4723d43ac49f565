package domain

import "context"

// Repository 订单仓储
type Repository interface {
	// Save 新订单插入，已有订单整体更新
	Save(ctx context.Context, o *Order) error
	Get(ctx context.Context, id uint64) (*Order, error)
	// GetForUpdate 加行锁读取；必须在事务内调用
	GetForUpdate(ctx context.Context, id uint64) (*Order, error)
	// ListActive 市场内 wait 状态的订单，按 id 升序；beforeID 为 0 时不限制
	ListActive(ctx context.Context, market string, beforeID uint64) ([]*Order, error)
	// ListByMember 会员订单，state 为空时不过滤，按 id 倒序
	ListByMember(ctx context.Context, memberID uint64, market string, state State, limit int) ([]*Order, error)
}
