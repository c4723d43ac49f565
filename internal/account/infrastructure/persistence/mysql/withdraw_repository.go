package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/spotexchange/internal/account/domain"
	"github.com/wyfcoding/spotexchange/pkg/db"
	"gorm.io/gorm"
)

type withdrawRepository struct {
	db *gorm.DB
}

// NewWithdrawRepository 创建提现仓储
func NewWithdrawRepository(gdb *gorm.DB) domain.WithdrawRepository {
	return &withdrawRepository{db: gdb}
}

func (r *withdrawRepository) Save(ctx context.Context, w *domain.Withdraw) error {
	model := toWithdrawModel(w)
	conn := db.Conn(ctx, r.db)
	var err error
	if model.ID == 0 {
		err = conn.Create(model).Error
	} else {
		err = conn.Save(model).Error
	}
	if err != nil {
		return fmt.Errorf("failed to save withdraw: %w", err)
	}
	w.ID = model.ID
	w.CreatedAt = model.CreatedAt
	w.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *withdrawRepository) Get(ctx context.Context, id uint64) (*domain.Withdraw, error) {
	return r.find(db.Conn(ctx, r.db), id)
}

func (r *withdrawRepository) GetForUpdate(ctx context.Context, id uint64) (*domain.Withdraw, error) {
	return r.find(db.ForUpdate(db.Conn(ctx, r.db)), id)
}

func (r *withdrawRepository) find(q *gorm.DB, id uint64) (*domain.Withdraw, error) {
	var model WithdrawModel
	err := q.Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", domain.ErrWithdrawNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return toWithdraw(&model), nil
}

func (r *withdrawRepository) SumSince(ctx context.Context, memberID uint64, currency string, states []domain.WithdrawState, since time.Time) (decimal.Decimal, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	var sums []decimal.Decimal
	err := db.Conn(ctx, r.db).Model(&WithdrawModel{}).
		Where("member_id = ? AND currency = ? AND state IN ? AND created_at >= ?", memberID, currency, names, since).
		Pluck("sum", &sums).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, s := range sums {
		total = total.Add(s)
	}
	return total, nil
}

func (r *withdrawRepository) ListByMember(ctx context.Context, memberID uint64, currency string, limit int) ([]*domain.Withdraw, error) {
	q := db.Conn(ctx, r.db).Where("member_id = ?", memberID)
	if currency != "" {
		q = q.Where("currency = ?", currency)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []*WithdrawModel
	if err := q.Order("id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Withdraw, len(models))
	for i, m := range models {
		out[i] = toWithdraw(m)
	}
	return out, nil
}
