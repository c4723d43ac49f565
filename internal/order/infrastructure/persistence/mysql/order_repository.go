package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/spotexchange/internal/order/domain"
	"github.com/wyfcoding/spotexchange/pkg/db"
	"gorm.io/gorm"
)

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储
func NewOrderRepository(gdb *gorm.DB) domain.Repository {
	return &orderRepository{db: gdb}
}

func (r *orderRepository) Save(ctx context.Context, o *domain.Order) error {
	model := toOrderModel(o)
	conn := r.getDB(ctx)
	var err error
	if model.ID == 0 {
		err = conn.Create(model).Error
	} else {
		err = conn.Save(model).Error
	}
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	o.ID = model.ID
	o.CreatedAt = model.CreatedAt
	o.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id uint64) (*domain.Order, error) {
	return r.first(r.getDB(ctx), id)
}

func (r *orderRepository) GetForUpdate(ctx context.Context, id uint64) (*domain.Order, error) {
	return r.first(db.ForUpdate(r.getDB(ctx)), id)
}

func (r *orderRepository) first(q *gorm.DB, id uint64) (*domain.Order, error) {
	var model OrderModel
	err := q.Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return toOrder(&model), nil
}

func (r *orderRepository) ListActive(ctx context.Context, market string, beforeID uint64) ([]*domain.Order, error) {
	q := r.getDB(ctx).Where("market = ? AND state = ?", market, string(domain.StateWait))
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var models []*OrderModel
	if err := q.Order("id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list active orders: %w", err)
	}
	return toOrders(models), nil
}

func (r *orderRepository) ListByMember(ctx context.Context, memberID uint64, market string, state domain.State, limit int) ([]*domain.Order, error) {
	q := r.getDB(ctx).Where("member_id = ?", memberID)
	if market != "" {
		q = q.Where("market = ?", market)
	}
	if state != "" {
		q = q.Where("state = ?", string(state))
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []*OrderModel
	if err := q.Order("id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return toOrders(models), nil
}

func (r *orderRepository) getDB(ctx context.Context) *gorm.DB {
	return db.Conn(ctx, r.db)
}

func toOrders(models []*OrderModel) []*domain.Order {
	out := make([]*domain.Order, len(models))
	for i, m := range models {
		out[i] = toOrder(m)
	}
	return out
}
